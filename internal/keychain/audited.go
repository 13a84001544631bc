package keychain

import (
	"errors"
	"fmt"

	"github.com/benaskins/aegis/internal/audit"
)

// AuditedStore wraps a Store and records every access in the audit log.
type AuditedStore struct {
	inner Store
	audit *audit.Logger
	actor string // "cli" or "daemon"
}

// NewAuditedStore wraps an existing store with audit logging.
func NewAuditedStore(inner Store, auditLog *audit.Logger, actor string) *AuditedStore {
	return &AuditedStore{
		inner: inner,
		audit: auditLog,
		actor: actor,
	}
}

func (s *AuditedStore) record(action audit.Action, key string, err error) {
	e := audit.Entry{Action: action, Key: key, Actor: s.actor}
	if err != nil && !errors.Is(err, ErrNotFound) {
		e.Error = err.Error()
	}
	// Audit logging is best-effort; a failure to log should not block the operation.
	s.audit.Log(e)
}

func (s *AuditedStore) Set(key string, value []byte, access Accessibility) error {
	err := s.inner.Set(key, value, access)
	s.record(audit.ActionSecretWrite, key, err)
	if err != nil {
		return fmt.Errorf("audited store set: %w", err)
	}
	return nil
}

func (s *AuditedStore) Get(key string) ([]byte, error) {
	val, err := s.inner.Get(key)
	if err != nil {
		return nil, fmt.Errorf("audited store get: %w", err)
	}
	s.record(audit.ActionSecretRead, key, nil)
	return val, nil
}

func (s *AuditedStore) Has(key string) (bool, error) {
	return s.inner.Has(key)
}

func (s *AuditedStore) List() ([]string, error) {
	return s.inner.List()
}

func (s *AuditedStore) Delete(key string) error {
	err := s.inner.Delete(key)
	s.record(audit.ActionSecretDelete, key, err)
	if err != nil {
		return fmt.Errorf("audited store delete: %w", err)
	}
	return nil
}

func (s *AuditedStore) DeleteAll() error {
	err := s.inner.DeleteAll()
	s.record(audit.ActionSecretDeleteAll, "", err)
	if err != nil {
		return fmt.Errorf("audited store delete all: %w", err)
	}
	return nil
}
