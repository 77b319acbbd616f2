package prefs

import (
	"encoding/hex"

	"pakdeck/internal/security"
)

// Store is durable key-value preference storage. Reads and writes are
// synchronous; a missing key is (zero, false), never an error. The locale
// preference and the backend auth token live here.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// SetSecret protects value with the platform secret API (DPAPI on Windows,
// identity elsewhere) before persisting it hex-encoded.
func SetSecret(s Store, key string, value []byte) error {
	enc, err := security.Protect(value)
	if err != nil {
		return err
	}
	return s.Set(key, hex.EncodeToString(enc))
}

// GetSecret reads and unprotects a value stored with SetSecret.
func GetSecret(s Store, key string) ([]byte, bool) {
	v, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	raw, err := hex.DecodeString(v)
	if err != nil {
		return nil, false
	}
	dec, err := security.Unprotect(raw)
	if err != nil {
		return nil, false
	}
	return dec, true
}
