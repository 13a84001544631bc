package dispatch

import (
	"errors"

	"github.com/benaskins/aegis/internal/keychain"
	"github.com/benaskins/aegis/internal/presence"
	"github.com/benaskins/aegis/internal/storeerr"
)

// MaxKeyBytes bounds the length of a key.
const MaxKeyBytes = 1024

// validate checks req before any vault or authenticator interaction and
// fills in defaults.
func validate(req *Request, opts Options) error {
	switch req.Verb {
	case VerbRead, VerbDelete, VerbContainsKey:
		return validateKey(req.Key)

	case VerbWrite:
		if err := validateKey(req.Key); err != nil {
			return err
		}
		limit := opts.MaxValueBytes
		if limit <= 0 {
			limit = DefaultMaxValueBytes
		}
		if len(req.Value) > limit {
			return storeerr.Newf(storeerr.CodeInvalidArgument, "value is %d bytes, the limit is %d", len(req.Value), limit).
				WithDetail("limit", limit)
		}
		if req.Policy != "" && !req.Policy.Valid() {
			return storeerr.Newf(storeerr.CodeInvalidArgument, "unknown authentication policy %q", req.Policy)
		}
		access, err := keychain.ParseAccessibility(string(req.Accessibility))
		if err != nil {
			return storeerr.Wrap(storeerr.CodeInvalidArgument, err.Error(), err)
		}
		req.Accessibility = access
		return nil

	case VerbDeleteAll:
		return nil

	case VerbCanAuthenticate, VerbAuthenticate:
		if !req.Policy.Valid() {
			return storeerr.Newf(storeerr.CodeInvalidArgument, "unknown authentication policy %q", req.Policy)
		}
		return nil
	}
	return storeerr.Newf(storeerr.CodeUnknownMethod, "unknown operation %s", req.Verb)
}

func validateKey(key string) error {
	if key == "" {
		return storeerr.New(storeerr.CodeInvalidArgument, "key must not be empty")
	}
	if len(key) > MaxKeyBytes {
		return storeerr.Newf(storeerr.CodeInvalidArgument, "key is longer than %d bytes", MaxKeyBytes)
	}
	return nil
}

// outcomeError maps a non-successful ceremony outcome to the taxonomy.
func outcomeError(o presence.Outcome) error {
	switch o {
	case presence.Authenticated:
		return nil
	case presence.UserCanceled:
		return storeerr.New(storeerr.CodeAuthenticationCanceled, "").WithDetail("reason", "user")
	case presence.SystemCanceled:
		return storeerr.New(storeerr.CodeAuthenticationCanceled, "").WithDetail("reason", "system")
	case presence.Lockout:
		return storeerr.New(storeerr.CodeBiometryLockout, "")
	case presence.NotEnrolled:
		return storeerr.New(storeerr.CodeBiometryNotEnrolled, "")
	case presence.NotAvailable:
		return storeerr.New(storeerr.CodeBiometryNotAvailable, "")
	}
	return storeerr.New(storeerr.CodeAuthenticationFailed, "")
}

// vaultError maps a vault failure to the taxonomy. The native status is
// carried in the details; the message is generic.
func vaultError(err error) error {
	if errors.Is(err, keychain.ErrNotFound) {
		return storeerr.Wrap(storeerr.CodeNotFound, "", err)
	}
	var ve *keychain.VaultError
	if errors.As(err, &ve) {
		return storeerr.Wrap(storeerr.CodeVaultError, "", err).WithDetail("status", ve.Status)
	}
	return storeerr.Wrap(storeerr.CodeVaultError, "", err)
}
