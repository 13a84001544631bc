//go:build darwin

package keychain

import (
	"errors"
	"fmt"

	gokeychain "github.com/keybase/go-keychain"
)

const (
	// ServiceName is the default Keychain service attribute for aegis secrets.
	ServiceName = "com.aegis"

	// SystemBackend names the vault NewSystemStore returns.
	SystemBackend = BackendKeychain
)

// SystemStore provides CRUD operations for secrets in macOS Keychain.
type SystemStore struct {
	service string
}

// NewSystemStore creates a new Keychain-backed secret store.
func NewSystemStore(service string) *SystemStore {
	if service == "" {
		service = ServiceName
	}
	return &SystemStore{service: service}
}

func accessibleFor(a Accessibility) gokeychain.Accessible {
	switch a {
	case AccessibleWhenUnlocked:
		return gokeychain.AccessibleWhenUnlocked
	case AccessibleAfterFirstUnlock:
		return gokeychain.AccessibleAfterFirstUnlock
	case AccessibleAfterFirstUnlockThisDeviceOnly:
		return gokeychain.AccessibleAfterFirstUnlockThisDeviceOnly
	case AccessibleWhenPasscodeSetThisDeviceOnly:
		return gokeychain.AccessibleWhenPasscodeSetThisDeviceOnly
	default:
		return gokeychain.AccessibleWhenUnlockedThisDeviceOnly
	}
}

// vaultErr translates a native status. Item-not-found becomes ErrNotFound.
func vaultErr(op, key string, err error) error {
	if errors.Is(err, gokeychain.ErrorItemNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	var status gokeychain.Error
	if errors.As(err, &status) {
		return &VaultError{Status: int(status), Message: fmt.Sprintf("keychain %s %q", op, key), Err: err}
	}
	return &VaultError{Status: -1, Message: fmt.Sprintf("keychain %s %q", op, key), Err: err}
}

func (s *SystemStore) query(key string) gokeychain.Item {
	q := gokeychain.NewItem()
	q.SetSecClass(gokeychain.SecClassGenericPassword)
	q.SetService(s.service)
	if key != "" {
		q.SetAccount(key)
	}
	return q
}

// Set stores a secret in the Keychain. Overwrites if it already exists.
func (s *SystemStore) Set(key string, value []byte, access Accessibility) error {
	// update = delete + add, so a changed accessibility class takes effect
	if err := gokeychain.DeleteItem(s.query(key)); err != nil && !errors.Is(err, gokeychain.ErrorItemNotFound) {
		return vaultErr("replace", key, err)
	}

	item := gokeychain.NewGenericPassword(
		s.service,
		key,
		fmt.Sprintf("aegis: %s", key),
		value,
		"",
	)
	item.SetSynchronizable(gokeychain.SynchronizableNo)
	item.SetAccessible(accessibleFor(access))

	if err := gokeychain.AddItem(item); err != nil {
		return vaultErr("add", key, err)
	}
	return nil
}

// Get retrieves a secret from the Keychain.
func (s *SystemStore) Get(key string) ([]byte, error) {
	q := s.query(key)
	q.SetMatchLimit(gokeychain.MatchLimitOne)
	q.SetReturnData(true)

	results, err := gokeychain.QueryItem(q)
	if err != nil {
		return nil, vaultErr("get", key, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if results[0].Data == nil {
		return []byte{}, nil
	}
	return results[0].Data, nil
}

// Has reports whether key exists without reading its data.
func (s *SystemStore) Has(key string) (bool, error) {
	q := s.query(key)
	q.SetMatchLimit(gokeychain.MatchLimitOne)
	q.SetReturnAttributes(true)

	results, err := gokeychain.QueryItem(q)
	if err != nil {
		if errors.Is(err, gokeychain.ErrorItemNotFound) {
			return false, nil
		}
		return false, vaultErr("lookup", key, err)
	}
	return len(results) > 0, nil
}

// List returns all secret keys stored under the service.
func (s *SystemStore) List() ([]string, error) {
	accounts, err := gokeychain.GetGenericPasswordAccounts(s.service)
	if err != nil {
		if errors.Is(err, gokeychain.ErrorItemNotFound) {
			return nil, nil
		}
		return nil, vaultErr("list", "", err)
	}
	return accounts, nil
}

// Delete removes a secret from the Keychain.
func (s *SystemStore) Delete(key string) error {
	if err := gokeychain.DeleteGenericPasswordItem(s.service, key); err != nil {
		return vaultErr("delete", key, err)
	}
	return nil
}

// DeleteAll removes every item stored under the service.
func (s *SystemStore) DeleteAll() error {
	err := gokeychain.DeleteItem(s.query(""))
	if err != nil && !errors.Is(err, gokeychain.ErrorItemNotFound) {
		return vaultErr("delete all", "", err)
	}
	return nil
}
