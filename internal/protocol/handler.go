package protocol

import (
	"context"
	"log/slog"

	"github.com/benaskins/aegis/internal/dispatch"
	"github.com/benaskins/aegis/internal/keychain"
	"github.com/benaskins/aegis/internal/policy"
	"github.com/benaskins/aegis/internal/storeerr"
)

// Backend is the store a Handler invokes.
type Backend interface {
	Submit(req dispatch.Request) *dispatch.Pending
	CancelAuthentication() bool
	Ping() Pong
	SecurityStatus() SecurityResult
	StorageLocation() LocationResult
}

// Handler executes calls against a Backend.
type Handler struct {
	backend Backend
	logger  *slog.Logger
}

// NewHandler creates a handler for b.
func NewHandler(b Backend) *Handler {
	return &Handler{
		backend: b,
		logger:  slog.With("component", "protocol"),
	}
}

// Invoke runs call and returns its response. If ctx ends while the call is
// waiting on a ceremony the call is withdrawn with request_canceled.
func (h *Handler) Invoke(ctx context.Context, call Call) Response {
	m, err := ParseMethod(call.Method)
	if err != nil {
		h.logger.Warn("rejected call", "method", call.Method, "error", err)
		return Failure(err)
	}

	switch m {
	case MethodPing:
		return Success(h.backend.Ping())
	case MethodCancelAuthentication:
		return Success(CancelResult{Canceled: h.backend.CancelAuthentication()})
	case MethodEnhancedSecurityStatus:
		return Success(h.backend.SecurityStatus())
	case MethodGetStorageLocation:
		return Success(h.backend.StorageLocation())
	}

	req, err := NewRequest(m, call.Arguments)
	if err != nil {
		return Failure(err)
	}
	res, err := h.backend.Submit(req).Wait(ctx)
	if err != nil {
		h.logger.Debug("call failed", "method", m, "key", req.Key, "code", storeerr.CodeOf(err))
		return Failure(err)
	}

	switch m {
	case MethodRead:
		return Success(ValueResult{Value: res.Value})
	case MethodContainsKey, MethodCanAuthenticate:
		return Success(BoolResult{Value: res.Bool})
	case MethodAuthenticate:
		return Success(OutcomeResult{Outcome: string(res.Outcome)})
	}
	return Success(Ack{OK: true})
}

// NewRequest converts a storage method and its arguments into a dispatcher
// request. Range checks are left to the dispatcher.
func NewRequest(m Method, args Arguments) (dispatch.Request, error) {
	req := dispatch.Request{
		Key:           args.Key,
		Value:         args.Value,
		Accessibility: keychain.Accessibility(args.Accessibility),
		Reason:        args.Reason,
	}
	if args.Policy != "" {
		p, err := policy.Parse(args.Policy)
		if err != nil {
			return dispatch.Request{}, storeerr.Wrap(storeerr.CodeInvalidArgument, err.Error(), err)
		}
		req.Policy = p
	}

	switch m {
	case MethodRead:
		req.Verb = dispatch.VerbRead
	case MethodWrite:
		req.Verb = dispatch.VerbWrite
	case MethodDelete:
		req.Verb = dispatch.VerbDelete
	case MethodDeleteAll:
		req.Verb = dispatch.VerbDeleteAll
	case MethodContainsKey:
		req.Verb = dispatch.VerbContainsKey
	case MethodCanAuthenticate:
		req.Verb = dispatch.VerbCanAuthenticate
	case MethodAuthenticate:
		req.Verb = dispatch.VerbAuthenticate
	default:
		return dispatch.Request{}, storeerr.Newf(storeerr.CodeUnknownMethod, "%s is not a storage method", m)
	}
	return req, nil
}
