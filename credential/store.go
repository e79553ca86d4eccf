package credential

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/relativeprotocol/zoneclient/model"
)

// StaticTrustStore pins a fixed set of keys.
type StaticTrustStore []model.PublicKey

// PinnedKeys implements TrustStore.
func (s StaticTrustStore) PinnedKeys() ([]model.PublicKey, error) {
	return append([]model.PublicKey(nil), s...), nil
}

// ParsePinnedPEM extracts pinned keys from PEM data. CERTIFICATE blocks
// contribute their public key; PUBLIC KEY blocks are pinned as is.
func ParsePinnedPEM(data []byte) ([]model.PublicKey, error) {
	var keys []model.PublicKey
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse pinned certificate: %w", err)
			}
			keys = append(keys, PublicKeyOf(cert))
		case "PUBLIC KEY":
			if _, err := x509.ParsePKIXPublicKey(block.Bytes); err != nil {
				return nil, fmt.Errorf("parse pinned key: %w", err)
			}
			keys = append(keys, model.PublicKeyFromBytes(block.Bytes))
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("no certificate or public key found in PEM data")
	}
	return keys, nil
}

// DirTrustStore pins the keys of every .crt and .pem file in a directory. The
// directory is read once, on first use.
type DirTrustStore struct {
	dir string

	once sync.Once
	keys []model.PublicKey
	err  error
}

// NewDirTrustStore creates a DirTrustStore for dir.
func NewDirTrustStore(dir string) *DirTrustStore {
	return &DirTrustStore{dir: dir}
}

// PinnedKeys implements TrustStore.
func (s *DirTrustStore) PinnedKeys() ([]model.PublicKey, error) {
	s.once.Do(func() {
		s.keys, s.err = s.load()
	})
	if s.err != nil {
		return nil, s.err
	}
	return append([]model.PublicKey(nil), s.keys...), nil
}

func (s *DirTrustStore) load() ([]model.PublicKey, error) {
	var keys []model.PublicKey
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".crt") && !strings.HasSuffix(name, ".pem") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		found, err := ParsePinnedPEM(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		keys = append(keys, found...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load trust directory: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("load trust directory: no certificates in %s", s.dir)
	}
	return keys, nil
}
