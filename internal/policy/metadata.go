package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benaskins/aegis/internal/keychain"
)

// Metadata is everything stored about an entry besides its value.
type Metadata struct {
	Accessibility          keychain.Accessibility `json:"accessibility"`
	RequiresAuthentication bool                   `json:"requires_authentication"`
	Policy                 Policy                 `json:"policy,omitempty"`
	// Enrollment is the device enrollment fingerprint captured at write time
	// for BiometricCurrentSet entries.
	Enrollment string    `json:"enrollment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks that Policy is set iff RequiresAuthentication is true.
func (m *Metadata) Validate() error {
	if m.RequiresAuthentication != (m.Policy != None) {
		return fmt.Errorf("policy %s inconsistent with requires_authentication=%t", m.Policy, m.RequiresAuthentication)
	}
	if m.Policy != None && !m.Policy.Valid() {
		return fmt.Errorf("unknown authentication policy %q", m.Policy)
	}
	return nil
}

// MetadataStore persists entry metadata to a JSON file. An empty path keeps
// metadata in memory only.
type MetadataStore struct {
	mu       sync.RWMutex
	path     string
	metadata map[string]*Metadata
}

// NewMetadataStore loads or creates a metadata file.
func NewMetadataStore(path string) (*MetadataStore, error) {
	ms := &MetadataStore{
		path:     path,
		metadata: make(map[string]*Metadata),
	}
	if path == "" {
		return ms, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ms, nil
		}
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	if jsonErr := json.Unmarshal(data, &ms.metadata); jsonErr != nil {
		// A corrupt file must not silently drop authentication requirements.
		return nil, fmt.Errorf("parsing metadata %s: %w", path, jsonErr)
	}
	for key, m := range ms.metadata {
		if err := m.Validate(); err != nil {
			slog.Warn("invalid entry metadata, resolving to the stricter policy", "key", key, "error", err)
		}
	}
	return ms, nil
}

// Path returns the file metadata persists to, or "" when held in memory.
func (ms *MetadataStore) Path() string {
	return ms.path
}

// Get returns a copy of the metadata for a key, or nil if not tracked.
func (ms *MetadataStore) Get(key string) *Metadata {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	m, ok := ms.metadata[key]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Set records metadata for a key and persists to disk.
func (ms *MetadataStore) Set(key string, meta *Metadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	cp := *meta

	ms.mu.Lock()
	defer ms.mu.Unlock()
	prev, had := ms.metadata[key]
	ms.metadata[key] = &cp
	if err := ms.save(); err != nil {
		if had {
			ms.metadata[key] = prev
		} else {
			delete(ms.metadata, key)
		}
		return err
	}
	return nil
}

// Delete removes metadata for a key.
func (ms *MetadataStore) Delete(key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.metadata[key]; !ok {
		return nil
	}
	delete(ms.metadata, key)
	return ms.save()
}

// Clear removes all metadata.
func (ms *MetadataStore) Clear() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.metadata = make(map[string]*Metadata)
	return ms.save()
}

// All returns copies of all metadata entries.
func (ms *MetadataStore) All() map[string]*Metadata {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	result := make(map[string]*Metadata, len(ms.metadata))
	for k, v := range ms.metadata {
		cp := *v
		result[k] = &cp
	}
	return result
}

func (ms *MetadataStore) save() error {
	if ms.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(ms.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(ms.metadata, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := ms.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, ms.path)
}
