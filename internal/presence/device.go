package presence

import "sync"

// StaticDevice reports a fixed capability that can be swapped at runtime.
// It backs hosts without a platform authentication framework and tests.
type StaticDevice struct {
	mu  sync.RWMutex
	cap Capability
}

// NewStaticDevice creates a device reporting c.
func NewStaticDevice(c Capability) *StaticDevice {
	return &StaticDevice{cap: c}
}

func (d *StaticDevice) Capability() Capability {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cap
}

// Set replaces the reported capability.
func (d *StaticDevice) Set(c Capability) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cap = c
}
