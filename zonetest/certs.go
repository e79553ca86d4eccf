package zonetest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/relativeprotocol/zoneclient/credential"
	"github.com/relativeprotocol/zoneclient/model"
)

// Identity is a self-signed key pair usable as a client or server credential.
type Identity struct {
	Certificate tls.Certificate
	PublicKey   model.PublicKey
	CertPEM     []byte
	KeyPEM      []byte
}

// NewIdentity generates a P-256 key and a self-signed certificate valid for
// validFor from now.
func NewIdentity(commonName string, validFor time.Duration) (*Identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(validFor),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	cert.Leaf = leaf

	return &Identity{
		Certificate: cert,
		PublicKey:   credential.PublicKeyOf(leaf),
		CertPEM:     certPEM,
		KeyPEM:      keyPEM,
	}, nil
}

// MustIdentity is NewIdentity with a one-day validity that fails tb on error.
func MustIdentity(tb testing.TB, commonName string) *Identity {
	tb.Helper()
	id, err := NewIdentity(commonName, 24*time.Hour)
	if err != nil {
		tb.Fatalf("generate identity %s: %v", commonName, err)
	}
	return id
}

// Provider wraps the identity as a credential provider.
func (id *Identity) Provider() *credential.StaticProvider {
	p, err := credential.NewStaticProvider(id.Certificate)
	if err != nil {
		// The certificate was parsed when the identity was built.
		panic(err)
	}
	return p
}

// Trust pins the identity's key.
func (id *Identity) Trust() credential.StaticTrustStore {
	return credential.StaticTrustStore{id.PublicKey}
}
