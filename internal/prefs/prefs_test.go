package prefs

import (
	"bytes"
	"sync"
	"testing"
)

func TestSQLiteStore_ConcurrencyAndPersist(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLiteStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Set("language", "en"); err != nil {
		t.Fatalf("set: %v", err)
	}

	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if v, ok := s.Get("language"); !ok || v == "" {
					t.Errorf("get: ok=%v v=%q", ok, v)
				}
				_ = s.Set("language", string('a'+rune(i)))
			}
		}(i)
	}
	wg.Wait()

	// Persist: close and reopen
	s.Close()
	s2, err := NewSQLiteStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, ok := s2.Get("language"); !ok {
		t.Fatalf("persist: key lost across reopen")
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	s, err := NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	_ = s.Set("k", "v")
	if err := s.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.Get("k"); ok {
		t.Fatalf("key still present after delete")
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	if _, ok := s.Get("missing"); ok {
		t.Fatalf("unexpected hit")
	}
	_ = s.Set("k", "v")
	if v, ok := s.Get("k"); !ok || v != "v" {
		t.Fatalf("get after set: %q %v", v, ok)
	}
	_ = s.Delete("k")
	if _, ok := s.Get("k"); ok {
		t.Fatalf("key survived delete")
	}
}

func TestSecretRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	secret := []byte("backend-token-123")
	if err := SetSecret(s, "backend.token", secret); err != nil {
		t.Fatalf("set secret: %v", err)
	}
	// The stored representation is not the plain value.
	if raw, _ := s.Get("backend.token"); raw == string(secret) {
		t.Fatalf("secret stored in plain text")
	}
	got, ok := GetSecret(s, "backend.token")
	if !ok || !bytes.Equal(got, secret) {
		t.Fatalf("round trip: ok=%v got=%q", ok, got)
	}
	if _, ok := GetSecret(s, "missing"); ok {
		t.Fatalf("unexpected secret hit")
	}
}
