package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// stateFile persists the identity of the running daemon so a second
// instance refuses to start against the same store.
type stateFile struct {
	path string
	mu   sync.Mutex
}

// InstanceRecord is the persisted state of a running daemon.
type InstanceRecord struct {
	PID       int    `json:"pid"`
	Socket    string `json:"socket,omitempty"`
	StartedAt int64  `json:"started_at"` // Unix timestamp
}

func newStateFile(dir string) *stateFile {
	return &stateFile{
		path: filepath.Join(dir, "state.json"),
	}
}

func (sf *stateFile) load() (*InstanceRecord, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.loadUnsafe()
}

// claim records rec unless another live process already holds the file.
func (sf *stateFile) claim(rec InstanceRecord) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	prev, err := sf.loadUnsafe()
	if err != nil {
		return err
	}
	if prev != nil && prev.PID != rec.PID && processAlive(prev.PID) {
		return fmt.Errorf("another aegis daemon is running (pid %d)", prev.PID)
	}
	return sf.saveUnsafe(&rec)
}

// release clears the record if it still belongs to pid.
func (sf *stateFile) release(pid int) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	prev, err := sf.loadUnsafe()
	if err != nil || prev == nil || prev.PID != pid {
		return err
	}
	if err := os.Remove(sf.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// loadUnsafe reads without locking; caller must hold sf.mu.
func (sf *stateFile) loadUnsafe() (*InstanceRecord, error) {
	data, err := os.ReadFile(sf.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var rec InstanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	return &rec, nil
}

func (sf *stateFile) saveUnsafe(rec *InstanceRecord) error {
	if err := os.MkdirAll(filepath.Dir(sf.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := sf.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, sf.path)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
