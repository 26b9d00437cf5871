// Package secretstore keeps exchange credentials encrypted at rest in a
// Badger database, as an alternative to carrying them in env vars or yaml.
package secretstore

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Credentials is one exchange's API credential triple.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// Vault is a small encrypted-at-rest credential store. Encryption comes from
// Badger's value-log options, not from this wrapper.
type Vault struct {
	db *badger.DB
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes; nil opens unencrypted (not recommended)
	ReadOnly      bool
}

func Open(opts OpenOptions) (*Vault, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("secretstore: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	if len(opts.EncryptionKey) > 0 {
		// Badger requires an index cache for encrypted workloads
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &Vault{db: db}, nil
}

func (v *Vault) Close() error {
	if v == nil || v.db == nil {
		return nil
	}
	return v.db.Close()
}

func credKeys(exchange string) (api, secret, pass []byte, err error) {
	exchange = strings.ToLower(strings.TrimSpace(exchange))
	if exchange == "" {
		return nil, nil, nil, errors.New("secretstore: exchange name is empty")
	}
	prefix := "cred/" + exchange + "/"
	return []byte(prefix + "api_key"), []byte(prefix + "secret_key"), []byte(prefix + "passphrase"), nil
}

// SetCredentials stores the triple for an exchange, overwriting any previous
// values atomically.
func (v *Vault) SetCredentials(exchange string, creds Credentials) error {
	if v == nil || v.db == nil {
		return errors.New("secretstore: not opened")
	}
	api, secret, pass, err := credKeys(exchange)
	if err != nil {
		return err
	}
	return v.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(api, []byte(creds.APIKey)); err != nil {
			return err
		}
		if err := txn.Set(secret, []byte(creds.SecretKey)); err != nil {
			return err
		}
		return txn.Set(pass, []byte(creds.Passphrase))
	})
}

// Credentials loads the triple for an exchange. found is false when no
// api_key entry exists for it.
func (v *Vault) Credentials(exchange string) (creds Credentials, found bool, err error) {
	if v == nil || v.db == nil {
		return Credentials{}, false, errors.New("secretstore: not opened")
	}
	api, secret, pass, err := credKeys(exchange)
	if err != nil {
		return Credentials{}, false, err
	}
	err = v.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(api)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		if err := item.Value(func(val []byte) error {
			creds.APIKey = string(val)
			return nil
		}); err != nil {
			return err
		}
		for _, kv := range []struct {
			key []byte
			dst *string
		}{{secret, &creds.SecretKey}, {pass, &creds.Passphrase}} {
			item, err := txn.Get(kv.key)
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			if err := item.Value(func(val []byte) error {
				*kv.dst = string(val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Credentials{}, false, err
	}
	return creds, found, nil
}

// ParseKey expects 32 bytes as hex or base64. Returns nil for empty input.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	rawHex := strings.TrimPrefix(raw, "0x")
	if b, err := hex.DecodeString(rawHex); err == nil {
		if len(b) == 32 {
			return b, nil
		}
		return nil, fmt.Errorf("secretstore: decoded key length must be 32, got %d", len(b))
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("secretstore: decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("secretstore: key must be base64(32 bytes) or hex(32 bytes)")
}
