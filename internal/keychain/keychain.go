// Package keychain provides the vault the secret store persists values in.
//
// On macOS secrets are stored as generic passwords with:
//   - Service: "com.aegis" unless configured otherwise
//   - Account: the secret key (e.g. "session/token")
//   - Label: "aegis: <key>" (for Keychain Access.app visibility)
//
// Items are never synchronizable. The accessibility class is chosen per
// write by the caller and passed through untouched. Other platforms fall
// back to an in-memory store whose values are held in memguard enclaves.
package keychain

import (
	"errors"
	"fmt"
)

// Vault backend names reported by diagnostics.
const (
	BackendKeychain = "keychain"
	BackendMemory   = "memory"
)

// ErrNotFound is returned when a secret does not exist in the store.
var ErrNotFound = errors.New("secret not found")

// Accessibility is the storage-availability tier of an item. The store core
// never interprets it; it is handed to the vault as-is.
type Accessibility string

const (
	AccessibleWhenUnlocked                   Accessibility = "when_unlocked"
	AccessibleWhenUnlockedThisDeviceOnly     Accessibility = "when_unlocked_this_device_only"
	AccessibleAfterFirstUnlock               Accessibility = "after_first_unlock"
	AccessibleAfterFirstUnlockThisDeviceOnly Accessibility = "after_first_unlock_this_device_only"
	AccessibleWhenPasscodeSetThisDeviceOnly  Accessibility = "when_passcode_set_this_device_only"

	// DefaultAccessibility never syncs and is unavailable while locked.
	DefaultAccessibility = AccessibleWhenUnlockedThisDeviceOnly
)

// ParseAccessibility validates s. The empty string yields the default.
func ParseAccessibility(s string) (Accessibility, error) {
	switch a := Accessibility(s); a {
	case "":
		return DefaultAccessibility, nil
	case AccessibleWhenUnlocked, AccessibleWhenUnlockedThisDeviceOnly,
		AccessibleAfterFirstUnlock, AccessibleAfterFirstUnlockThisDeviceOnly,
		AccessibleWhenPasscodeSetThisDeviceOnly:
		return a, nil
	}
	return "", fmt.Errorf("unknown accessibility class %q", s)
}

// VaultError wraps a non-success status reported by the underlying store.
// Message never includes the secret value.
type VaultError struct {
	Status  int
	Message string
	Err     error
}

func (e *VaultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vault status %d: %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("vault status %d: %s", e.Status, e.Message)
}

func (e *VaultError) Unwrap() error { return e.Err }

// Store is the interface for secret storage operations. Implementations
// must be safe for concurrent use.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, access Accessibility) error
	Has(key string) (bool, error)
	Delete(key string) error
	DeleteAll() error
	List() ([]string, error)
}
