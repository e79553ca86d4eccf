//  pinning.go
//  ZoneClient Core
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  Builds the mutual TLS configuration used to reach the zone server. The
//  server is trusted only when its leaf certificate's public key is pinned;
//  CA chains and hostnames are not consulted.

package credential

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/relativeprotocol/zoneclient/model"
)

// TrustError reports a server whose key is not pinned. It is never retried.
type TrustError struct {
	Fingerprint string
	Err         error
}

func (e *TrustError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("untrusted server key %s: %v", e.Fingerprint, e.Err)
	}
	return fmt.Sprintf("untrusted server key %s", e.Fingerprint)
}

func (e *TrustError) Unwrap() error {
	return e.Err
}

// IsTrustError reports whether err carries a *TrustError.
func IsTrustError(err error) bool {
	var trustErr *TrustError
	return errors.As(err, &trustErr)
}

// PinnedTLSConfig returns a client TLS configuration presenting the provider's
// certificate and verifying the server by pinned key only. onReject, if not
// nil, observes every rejection before the handshake fails.
func PinnedTLSConfig(provider Provider, trust TrustStore, onReject func(*TrustError)) (*tls.Config, error) {
	if provider == nil || trust == nil {
		return nil, errors.New("credential provider and trust store are required")
	}
	pins, err := trust.PinnedKeys()
	if err != nil {
		return nil, fmt.Errorf("load pinned keys: %w", err)
	}
	if len(pins) == 0 {
		return nil, errors.New("trust store has no pinned keys")
	}
	pinned := make(map[model.PublicKey]struct{}, len(pins))
	for _, key := range pins {
		pinned[key] = struct{}{}
	}

	reject := func(err *TrustError) error {
		if onReject != nil {
			onReject(err)
		}
		return err
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		// Chain and hostname checks are replaced by VerifyPeerCertificate.
		InsecureSkipVerify: true,
		GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			return provider.ClientCertificate()
		},
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return reject(&TrustError{Err: errors.New("server presented no certificate")})
			}
			leaf, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return reject(&TrustError{Err: fmt.Errorf("parse server certificate: %w", err)})
			}
			key := PublicKeyOf(leaf)
			if _, ok := pinned[key]; !ok {
				return reject(&TrustError{Fingerprint: Fingerprint(key)})
			}
			return nil
		},
	}, nil
}
