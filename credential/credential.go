//  credential.go
//  ZoneClient Core
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  Declares the credential provider and trust store collaborators consumed by
//  the transport, plus static and caching provider implementations.

package credential

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/relativeprotocol/zoneclient/model"
)

// Provider supplies the stable per-device identity. Implementations must be
// safe for concurrent use.
type Provider interface {
	// PublicKey returns the DER-encoded SubjectPublicKeyInfo of the device key.
	PublicKey() (model.PublicKey, error)
	// ClientCertificate returns the certificate presented during the TLS
	// handshake.
	ClientCertificate() (*tls.Certificate, error)
}

// TrustStore supplies the server public keys this client trusts.
// Implementations must be safe for concurrent use.
type TrustStore interface {
	PinnedKeys() ([]model.PublicKey, error)
}

// PublicKeyOf returns the identity key of a parsed certificate.
func PublicKeyOf(cert *x509.Certificate) model.PublicKey {
	return model.PublicKeyFromBytes(cert.RawSubjectPublicKeyInfo)
}

// Fingerprint renders a short, log-friendly digest of a public key.
func Fingerprint(key model.PublicKey) string {
	sum := blake2b.Sum256(key.Bytes())
	return hex.EncodeToString(sum[:8])
}

func leafOf(cert *tls.Certificate) (*x509.Certificate, error) {
	if cert.Leaf != nil {
		return cert.Leaf, nil
	}
	if len(cert.Certificate) == 0 {
		return nil, errors.New("certificate chain is empty")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse client certificate: %w", err)
	}
	cert.Leaf = leaf
	return leaf, nil
}

// StaticProvider serves one fixed certificate.
type StaticProvider struct {
	cert tls.Certificate
	key  model.PublicKey
}

// NewStaticProvider wraps an already loaded certificate and private key.
func NewStaticProvider(cert tls.Certificate) (*StaticProvider, error) {
	leaf, err := leafOf(&cert)
	if err != nil {
		return nil, err
	}
	return &StaticProvider{cert: cert, key: PublicKeyOf(leaf)}, nil
}

// ProviderFromPEM builds a StaticProvider from PEM-encoded certificate and key.
func ProviderFromPEM(certPEM, keyPEM []byte) (*StaticProvider, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return NewStaticProvider(cert)
}

// LoadKeyPair builds a StaticProvider from certificate and key files.
func LoadKeyPair(certFile, keyFile string) (*StaticProvider, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return NewStaticProvider(cert)
}

// PublicKey implements Provider.
func (p *StaticProvider) PublicKey() (model.PublicKey, error) {
	return p.key, nil
}

// ClientCertificate implements Provider.
func (p *StaticProvider) ClientCertificate() (*tls.Certificate, error) {
	cert := p.cert
	return &cert, nil
}

// Loader produces a certificate on demand, for example by reading the device
// keystore.
type Loader func() (tls.Certificate, error)

// CachedProvider loads the device certificate once and keeps it until it is
// about to expire or is invalidated.
type CachedProvider struct {
	load   Loader
	margin time.Duration
	now    func() time.Time

	mu      sync.Mutex
	cert    *tls.Certificate
	key     model.PublicKey
	expires time.Time
}

// CacheOption configures a CachedProvider.
type CacheOption func(*CachedProvider)

// WithRefreshMargin reloads the certificate this long before it expires.
func WithRefreshMargin(margin time.Duration) CacheOption {
	return func(p *CachedProvider) {
		p.margin = margin
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) CacheOption {
	return func(p *CachedProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewCachedProvider returns a provider backed by load.
func NewCachedProvider(load Loader, opts ...CacheOption) *CachedProvider {
	p := &CachedProvider{
		load:   load,
		margin: time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Invalidate drops the cached certificate so the next access reloads it.
func (p *CachedProvider) Invalidate() {
	p.mu.Lock()
	p.cert = nil
	p.key = ""
	p.expires = time.Time{}
	p.mu.Unlock()
}

func (p *CachedProvider) current() (*tls.Certificate, model.PublicKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cert != nil && p.now().Before(p.expires.Add(-p.margin)) {
		return p.cert, p.key, nil
	}
	cert, err := p.load()
	if err != nil {
		return nil, "", fmt.Errorf("load device certificate: %w", err)
	}
	leaf, err := leafOf(&cert)
	if err != nil {
		return nil, "", err
	}
	p.cert = &cert
	p.key = PublicKeyOf(leaf)
	p.expires = leaf.NotAfter
	return p.cert, p.key, nil
}

// PublicKey implements Provider.
func (p *CachedProvider) PublicKey() (model.PublicKey, error) {
	_, key, err := p.current()
	return key, err
}

// ClientCertificate implements Provider.
func (p *CachedProvider) ClientCertificate() (*tls.Certificate, error) {
	cert, _, err := p.current()
	if err != nil {
		return nil, err
	}
	out := *cert
	return &out, nil
}
