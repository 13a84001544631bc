package policy

import (
	"time"

	"github.com/benaskins/aegis/internal/keychain"
)

// Requirement is the outcome of resolving an entry's metadata.
type Requirement struct {
	Required   bool
	Policy     Policy
	Enrollment string
}

// Resolve maps entry metadata to its requirement. A nil entry (unknown key)
// requires nothing. Inconsistent metadata resolves to the stricter reading:
// a known policy always applies, and requires_authentication without one
// falls back to BiometricAny.
func Resolve(m *Metadata) Requirement {
	switch {
	case m == nil:
		return Requirement{}
	case m.Policy.Valid():
		return Requirement{Required: true, Policy: m.Policy, Enrollment: m.Enrollment}
	case m.RequiresAuthentication:
		return Requirement{Required: true, Policy: BiometricAny}
	}
	return Requirement{}
}

// Resolver looks up stored requirements and records new ones at write time.
type Resolver struct {
	meta *MetadataStore
	now  func() time.Time
}

// NewResolver creates a resolver backed by meta.
func NewResolver(meta *MetadataStore) *Resolver {
	return &Resolver{meta: meta, now: func() time.Time { return time.Now().UTC() }}
}

// Lookup returns the requirement recorded for key.
func (r *Resolver) Lookup(key string) Requirement {
	return Resolve(r.meta.Get(key))
}

// Record stores the metadata for a write. CreatedAt survives overwrites.
func (r *Resolver) Record(key string, access keychain.Accessibility, p Policy, enrollment string) error {
	now := r.now()
	m := &Metadata{
		Accessibility:          access,
		RequiresAuthentication: p != None,
		Policy:                 p,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if p.BindsEnrollment() {
		m.Enrollment = enrollment
	}
	if prev := r.meta.Get(key); prev != nil {
		m.CreatedAt = prev.CreatedAt
	}
	return r.meta.Set(key, m)
}

// Forget drops the metadata for key.
func (r *Resolver) Forget(key string) error {
	return r.meta.Delete(key)
}

// ForgetAll drops all metadata.
func (r *Resolver) ForgetAll() error {
	return r.meta.Clear()
}

// StoreWide returns the policy a store-wide operation must satisfy: the
// stronger of the configured store policy and the strongest policy attached
// to any stored entry.
func (r *Resolver) StoreWide(configured Policy) Policy {
	best := configured
	for _, m := range r.meta.All() {
		best = Strongest(best, Resolve(m).Policy)
	}
	return best
}

// Metadata returns the metadata store for direct access.
func (r *Resolver) Metadata() *MetadataStore {
	return r.meta
}
