package credential_test

import (
	"crypto/tls"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relativeprotocol/zoneclient/credential"
	"github.com/relativeprotocol/zoneclient/model"
	"github.com/relativeprotocol/zoneclient/zonetest"
)

func TestPinnedTLSConfigAcceptsPinnedKey(t *testing.T) {
	client := zonetest.MustIdentity(t, "client")
	server := zonetest.MustIdentity(t, "server")

	cfg, err := credential.PinnedTLSConfig(client.Provider(), server.Trust(), nil)
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)

	err = cfg.VerifyPeerCertificate([][]byte{server.Certificate.Certificate[0]}, nil)
	assert.NoError(t, err)

	cert, err := cfg.GetClientCertificate(&tls.CertificateRequestInfo{})
	require.NoError(t, err)
	assert.Equal(t, client.Certificate.Certificate[0], cert.Certificate[0])
}

func TestPinnedTLSConfigRejectsUnpinnedKey(t *testing.T) {
	client := zonetest.MustIdentity(t, "client")
	server := zonetest.MustIdentity(t, "server")
	impostor := zonetest.MustIdentity(t, "impostor")

	var rejected *credential.TrustError
	cfg, err := credential.PinnedTLSConfig(client.Provider(), server.Trust(), func(err *credential.TrustError) {
		rejected = err
	})
	require.NoError(t, err)

	err = cfg.VerifyPeerCertificate([][]byte{impostor.Certificate.Certificate[0]}, nil)
	require.Error(t, err)
	assert.True(t, credential.IsTrustError(err))
	require.NotNil(t, rejected)
	assert.Equal(t, credential.Fingerprint(impostor.PublicKey), rejected.Fingerprint)

	err = cfg.VerifyPeerCertificate(nil, nil)
	assert.True(t, credential.IsTrustError(err))
}

func TestPinnedTLSConfigRequiresPins(t *testing.T) {
	client := zonetest.MustIdentity(t, "client")
	_, err := credential.PinnedTLSConfig(client.Provider(), credential.StaticTrustStore{}, nil)
	assert.Error(t, err)
}

func TestCachedProviderReloadsNearExpiry(t *testing.T) {
	id, err := zonetest.NewIdentity("device", 2*time.Hour)
	require.NoError(t, err)

	loads := 0
	now := time.Now()
	p := credential.NewCachedProvider(func() (tls.Certificate, error) {
		loads++
		return id.Certificate, nil
	}, credential.WithRefreshMargin(time.Hour), credential.WithClock(func() time.Time { return now }))

	key, err := p.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey, key)
	_, err = p.ClientCertificate()
	require.NoError(t, err)
	assert.Equal(t, 1, loads)

	now = now.Add(90 * time.Minute)
	_, err = p.ClientCertificate()
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestCachedProviderInvalidate(t *testing.T) {
	id := zonetest.MustIdentity(t, "device")
	loads := 0
	p := credential.NewCachedProvider(func() (tls.Certificate, error) {
		loads++
		return id.Certificate, nil
	})

	_, err := p.PublicKey()
	require.NoError(t, err)
	p.Invalidate()
	_, err = p.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestCachedProviderLoadError(t *testing.T) {
	boom := errors.New("keystore locked")
	p := credential.NewCachedProvider(func() (tls.Certificate, error) {
		return tls.Certificate{}, boom
	})
	_, err := p.ClientCertificate()
	assert.ErrorIs(t, err, boom)
}

func TestDirTrustStore(t *testing.T) {
	server := zonetest.MustIdentity(t, "server")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.crt"), server.CertPEM, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not a cert"), 0o600))

	keys, err := credential.NewDirTrustStore(dir).PinnedKeys()
	require.NoError(t, err)
	assert.Equal(t, []model.PublicKey{server.PublicKey}, keys)

	_, err = credential.NewDirTrustStore(t.TempDir()).PinnedKeys()
	assert.Error(t, err)
}

func TestParsePinnedPEMAcceptsPublicKeyBlocks(t *testing.T) {
	server := zonetest.MustIdentity(t, "server")
	data := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: server.PublicKey.Bytes()})

	keys, err := credential.ParsePinnedPEM(data)
	require.NoError(t, err)
	assert.Equal(t, []model.PublicKey{server.PublicKey}, keys)

	_, err = credential.ParsePinnedPEM([]byte("garbage"))
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	a := zonetest.MustIdentity(t, "a")
	b := zonetest.MustIdentity(t, "b")
	assert.Len(t, credential.Fingerprint(a.PublicKey), 16)
	assert.Equal(t, credential.Fingerprint(a.PublicKey), credential.Fingerprint(a.PublicKey))
	assert.NotEqual(t, credential.Fingerprint(a.PublicKey), credential.Fingerprint(b.PublicKey))
}
