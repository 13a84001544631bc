package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/benaskins/aegis/internal/dispatch"
	"github.com/benaskins/aegis/internal/keychain"
	"github.com/benaskins/aegis/internal/policy"
	"github.com/benaskins/aegis/internal/presence"
	"github.com/benaskins/aegis/internal/storeerr"
)

type testBackend struct {
	*dispatch.Dispatcher
	canceled int
}

func (b *testBackend) CancelAuthentication() bool {
	b.canceled++
	return b.Dispatcher.CancelAuthentication()
}

func (b *testBackend) Ping() Pong {
	return Pong{Ping: "pong", Version: Version, Platform: "test", HasEnhancedSecurity: SecurityWarning}
}

func (b *testBackend) SecurityStatus() SecurityResult {
	return SecurityResult{Status: SecurityWarning, Error: "memory only"}
}

func (b *testBackend) StorageLocation() LocationResult {
	return LocationResult{Vault: "memory", Location: "process memory"}
}

func newTestHandler(t *testing.T, outcome presence.Outcome) (*Handler, *testBackend) {
	t.Helper()
	meta, err := policy.NewMetadataStore("")
	if err != nil {
		t.Fatalf("NewMetadataStore: %v", err)
	}
	device := presence.NewStaticDevice(presence.Capability{Biometry: presence.BiometryEnrolled, PasscodeSet: true})
	prompter := presence.PrompterFunc(func(ctx context.Context, ch presence.Challenge) presence.Outcome {
		return outcome
	})
	auth := presence.NewAuthenticator(device, prompter)
	b := &testBackend{Dispatcher: dispatch.New(keychain.NewMemoryStore(), policy.NewResolver(meta), auth, dispatch.Options{MaxValueBytes: 16})}
	return NewHandler(b), b
}

func invoke(t *testing.T, h *Handler, method string, args Arguments, v any) error {
	t.Helper()
	resp := h.Invoke(context.Background(), Call{Method: method, Arguments: args})
	if resp.Error == nil && resp.Result == nil {
		t.Fatalf("%s: response carries neither result nor error", method)
	}
	return resp.Decode(v)
}

func TestParseMethod(t *testing.T) {
	for _, m := range Methods() {
		got, err := ParseMethod(string(m))
		if err != nil || got != m {
			t.Errorf("ParseMethod(%q) = %q, %v", m, got, err)
		}
	}

	_, err := ParseMethod("readAll")
	if !errors.Is(err, storeerr.UnknownMethod) {
		t.Errorf("expected UnknownMethod, got %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	h, _ := newTestHandler(t, presence.Authenticated)

	if err := invoke(t, h, "write", Arguments{Key: "token", Value: []byte("abc")}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got ValueResult
	if err := invoke(t, h, "read", Arguments{Key: "token"}, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got.Value) != "abc" {
		t.Errorf("expected abc, got %q", got.Value)
	}

	var has BoolResult
	if err := invoke(t, h, "containsKey", Arguments{Key: "token"}, &has); err != nil || !has.Value {
		t.Errorf("containsKey: %v %v", has.Value, err)
	}
}

func TestProtectedReadThroughCeremony(t *testing.T) {
	h, _ := newTestHandler(t, presence.Failed)

	if err := invoke(t, h, "write", Arguments{Key: "secret", Value: []byte("xyz"), Policy: "biometric_any"}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := invoke(t, h, "read", Arguments{Key: "secret"}, &ValueResult{})
	if !errors.Is(err, storeerr.AuthenticationFailed) {
		t.Errorf("expected AuthenticationFailed, got %v", err)
	}
}

func TestUnknownMethodRejected(t *testing.T) {
	h, _ := newTestHandler(t, presence.Authenticated)

	resp := h.Invoke(context.Background(), Call{Method: "dumpAll"})
	if resp.Error == nil || resp.Error.Code != storeerr.CodeUnknownMethod {
		t.Fatalf("expected unknown_method, got %+v", resp)
	}
}

func TestReadMissingKey(t *testing.T) {
	h, _ := newTestHandler(t, presence.Authenticated)

	err := invoke(t, h, "read", Arguments{Key: "missing"}, &ValueResult{})
	if !errors.Is(err, storeerr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestInvalidPolicy(t *testing.T) {
	h, _ := newTestHandler(t, presence.Authenticated)

	err := invoke(t, h, "write", Arguments{Key: "k", Value: []byte("v"), Policy: "retina"}, nil)
	if !errors.Is(err, storeerr.InvalidArgument) {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
	err = invoke(t, h, "canAuthenticate", Arguments{}, &BoolResult{})
	if !errors.Is(err, storeerr.InvalidArgument) {
		t.Errorf("canAuthenticate without policy: expected InvalidArgument, got %v", err)
	}
}

func TestErrorsNeverCarryValues(t *testing.T) {
	h, _ := newTestHandler(t, presence.Authenticated)
	secret := "hunter2-hunter2-hunter2"

	resp := h.Invoke(context.Background(), Call{Method: "write", Arguments: Arguments{Key: "k", Value: []byte(secret)}})
	if resp.Error == nil || resp.Error.Code != storeerr.CodeInvalidArgument {
		t.Fatalf("expected invalid_argument for oversized value, got %+v", resp)
	}
	data, _ := json.Marshal(resp)
	if strings.Contains(string(data), secret) {
		t.Errorf("error response leaked the value: %s", data)
	}
}

func TestAuthenticateOutcome(t *testing.T) {
	h, _ := newTestHandler(t, presence.UserCanceled)

	var got OutcomeResult
	if err := invoke(t, h, "authenticate", Arguments{Policy: "passcode_or_biometric", Reason: "confirm"}, &got); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.Outcome != string(presence.UserCanceled) {
		t.Errorf("expected user_canceled, got %q", got.Outcome)
	}
}

func TestPingAndCancel(t *testing.T) {
	h, b := newTestHandler(t, presence.Authenticated)

	var pong Pong
	if err := invoke(t, h, "ping", Arguments{}, &pong); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if pong.Ping != "pong" || pong.Version != Version {
		t.Errorf("unexpected pong %+v", pong)
	}

	var c CancelResult
	if err := invoke(t, h, "cancelAuthentication", Arguments{}, &c); err != nil {
		t.Fatalf("cancelAuthentication: %v", err)
	}
	if c.Canceled {
		t.Error("expected nothing to cancel while idle")
	}
	if b.canceled != 1 {
		t.Errorf("expected backend cancel to be called once, got %d", b.canceled)
	}
}

func TestSecurityStatusAndLocation(t *testing.T) {
	h, _ := newTestHandler(t, presence.Authenticated)

	var status SecurityResult
	if err := invoke(t, h, "enhancedSecurityStatus", Arguments{}, &status); err != nil {
		t.Fatalf("enhancedSecurityStatus: %v", err)
	}
	if status.Status != SecurityWarning || status.Error == "" {
		t.Errorf("unexpected status %+v", status)
	}

	var loc LocationResult
	if err := invoke(t, h, "getStorageLocation", Arguments{}, &loc); err != nil {
		t.Fatalf("getStorageLocation: %v", err)
	}
	if loc.Vault != "memory" {
		t.Errorf("unexpected location %+v", loc)
	}

	resp := h.Invoke(context.Background(), Call{Method: "enhancedSecurityStatus"})
	var raw map[string]any
	if err := json.Unmarshal(resp.Result, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["status"] != "warning" || raw["error"] != "memory only" {
		t.Errorf("unexpected wire result %s", resp.Result)
	}
}

func TestWireFormat(t *testing.T) {
	var call Call
	raw := `{"method":"write","arguments":{"key":"k","value":"YWJj","policy":"biometric_any"}}`
	if err := json.Unmarshal([]byte(raw), &call); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	req, err := NewRequest(MethodWrite, call.Arguments)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if string(req.Value) != "abc" || req.Policy != policy.BiometricAny || req.Verb != dispatch.VerbWrite {
		t.Errorf("unexpected request %+v", req)
	}

	data, _ := json.Marshal(Failure(storeerr.New(storeerr.CodeNotFound, "")))
	if string(data) != `{"error":{"code":"not_found","message":"`+storeerr.DefaultMessage(storeerr.CodeNotFound)+`"}}` {
		t.Errorf("unexpected error encoding %s", data)
	}
}
