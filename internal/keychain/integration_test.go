//go:build integration && darwin

package keychain

import (
	"errors"
	"testing"
)

// Integration tests use real macOS Keychain.
// Run with: go test -tags integration ./internal/keychain/
//
// Requires an unlocked login Keychain and an interactive session
// (first run may prompt for Keychain access approval).

func integrationStore() *SystemStore {
	return NewSystemStore("com.aegis.test")
}

func cleanupIntegration(t *testing.T, s *SystemStore, keys ...string) {
	t.Helper()
	for _, k := range keys {
		s.Delete(k)
	}
}

func TestKeychainSetAndGet(t *testing.T) {
	s := integrationStore()
	key := "test/integration-set-get"
	defer cleanupIntegration(t, s, key)

	if err := s.Set(key, []byte("hello-keychain"), DefaultAccessibility); err != nil {
		t.Fatalf("Set: %v", err)
	}

	val, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(val) != "hello-keychain" {
		t.Errorf("expected 'hello-keychain', got %q", val)
	}
}

func TestKeychainOverwrite(t *testing.T) {
	s := integrationStore()
	key := "test/integration-overwrite"
	defer cleanupIntegration(t, s, key)

	s.Set(key, []byte("first"), DefaultAccessibility)
	s.Set(key, []byte("second"), AccessibleAfterFirstUnlockThisDeviceOnly)

	val, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(val) != "second" {
		t.Errorf("expected 'second', got %q", val)
	}
}

func TestKeychainDelete(t *testing.T) {
	s := integrationStore()
	key := "test/integration-delete"

	s.Set(key, []byte("to-delete"), DefaultAccessibility)
	s.Delete(key)

	_, err := s.Get(key)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if ok, _ := s.Has(key); ok {
		t.Error("expected Has to report false after delete")
	}
}

func TestKeychainDeleteAll(t *testing.T) {
	s := integrationStore()
	keys := []string{"test/integration-all-a", "test/integration-all-b"}
	defer cleanupIntegration(t, s, keys...)

	for _, k := range keys {
		s.Set(k, []byte("val"), DefaultAccessibility)
	}
	if err := s.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}

	listed, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("expected no keys after DeleteAll, got %v", listed)
	}
}
