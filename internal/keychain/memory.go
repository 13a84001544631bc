package keychain

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/awnumar/memguard"
)

type memoryItem struct {
	// nil for empty values; memguard refuses zero-length enclaves.
	enclave *memguard.Enclave
	access  Accessibility
}

// MemoryStore is an in-memory implementation of Store. Values are sealed in
// memguard enclaves so they are encrypted at rest in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

// NewMemoryStore creates a new in-memory secret store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem)}
}

func (s *MemoryStore) Set(key string, value []byte, access Accessibility) error {
	var enclave *memguard.Enclave
	if len(value) > 0 {
		// NewEnclave wipes its source, so hand it a copy.
		enclave = memguard.NewEnclave(bytes.Clone(value))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = memoryItem{enclave: enclave, access: access}
	return nil
}

func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if item.enclave == nil {
		return []byte{}, nil
	}

	buf, err := item.enclave.Open()
	if err != nil {
		return nil, &VaultError{Status: -1, Message: "opening enclave", Err: err}
	}
	defer buf.Destroy()
	return bytes.Clone(buf.Bytes()), nil
}

func (s *MemoryStore) Has(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[key]
	return ok, nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]memoryItem)
	return nil
}

func (s *MemoryStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// AccessibilityOf reports the class an item was written with.
func (s *MemoryStore) AccessibilityOf(key string) (Accessibility, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[key]
	return item.access, ok
}
