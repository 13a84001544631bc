// Package protocol defines the request/response boundary of the store.
//
// A Call names one method of a closed set together with its arguments. The
// method name is parsed into a Method before anything else happens, so an
// unknown name fails with unknown_method at the boundary. Every Response
// carries either a result or an error body with a stable code; neither
// ever contains a secret other than the value a successful read returns.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/benaskins/aegis/internal/storeerr"
)

// Version is reported by ping.
const Version = 1

// Method is a boundary operation.
type Method string

const (
	MethodRead                 Method = "read"
	MethodWrite                Method = "write"
	MethodDelete               Method = "delete"
	MethodDeleteAll            Method = "deleteAll"
	MethodContainsKey          Method = "containsKey"
	MethodCanAuthenticate      Method = "canAuthenticate"
	MethodAuthenticate         Method = "authenticate"
	MethodCancelAuthentication Method = "cancelAuthentication"
	MethodPing                 Method = "ping"

	MethodEnhancedSecurityStatus Method = "enhancedSecurityStatus"
	MethodGetStorageLocation     Method = "getStorageLocation"
)

var methods = []Method{
	MethodRead,
	MethodWrite,
	MethodDelete,
	MethodDeleteAll,
	MethodContainsKey,
	MethodCanAuthenticate,
	MethodAuthenticate,
	MethodCancelAuthentication,
	MethodPing,
	MethodEnhancedSecurityStatus,
	MethodGetStorageLocation,
}

// Methods returns every supported method.
func Methods() []Method {
	return append([]Method(nil), methods...)
}

// ParseMethod maps a wire method name to a Method.
func ParseMethod(name string) (Method, error) {
	for _, m := range methods {
		if string(m) == name {
			return m, nil
		}
	}
	return "", storeerr.Newf(storeerr.CodeUnknownMethod, "unknown method %q", name)
}

// Call is one invocation.
type Call struct {
	Method    string    `json:"method"`
	Arguments Arguments `json:"arguments,omitempty"`
}

// Arguments is the union of every method's arguments. Value is base64 on
// the wire.
type Arguments struct {
	Key           string `json:"key,omitempty"`
	Value         []byte `json:"value,omitempty"`
	Accessibility string `json:"accessibility,omitempty"`
	Policy        string `json:"policy,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Response is the reply to a Call. Exactly one of Result and Error is set.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the structured error of a failed call.
type ErrorBody struct {
	Code    storeerr.Code  `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Err converts the body back into a *storeerr.Error.
func (b *ErrorBody) Err() *storeerr.Error {
	if b == nil {
		return nil
	}
	return &storeerr.Error{Code: b.Code, Message: b.Message, Details: b.Details}
}

// ValueResult is the result of read.
type ValueResult struct {
	Value []byte `json:"value"`
}

// BoolResult is the result of containsKey and canAuthenticate.
type BoolResult struct {
	Value bool `json:"value"`
}

// OutcomeResult is the result of authenticate.
type OutcomeResult struct {
	Outcome string `json:"outcome"`
}

// CancelResult is the result of cancelAuthentication.
type CancelResult struct {
	Canceled bool `json:"canceled"`
}

// Ack is the result of write, delete and deleteAll.
type Ack struct {
	OK bool `json:"ok"`
}

// SecurityStatus grades how well the vault protects stored values.
type SecurityStatus string

const (
	// SecurityAvailable means values live in the OS keychain.
	SecurityAvailable SecurityStatus = "available"
	// SecurityWarning means the store works but with reduced guarantees.
	SecurityWarning SecurityStatus = "warning"
	// SecurityError means the vault cannot be used.
	SecurityError SecurityStatus = "error"
)

// SecurityResult is the result of enhancedSecurityStatus.
type SecurityResult struct {
	Status SecurityStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
}

// LocationResult is the result of getStorageLocation.
type LocationResult struct {
	Vault    string `json:"vault"`
	Location string `json:"location"`
	Metadata string `json:"metadata"`
}

// Pong is the result of ping.
type Pong struct {
	Ping                    string            `json:"ping"`
	Version                 int               `json:"version"`
	Platform                string            `json:"platform"`
	PlatformVersion         string            `json:"platform_version"`
	Hostname                string            `json:"hostname,omitempty"`
	IsSimulator             bool              `json:"is_simulator"`
	Vault                   string            `json:"vault"`
	HasEnhancedSecurity     SecurityStatus    `json:"has_enhanced_security"`
	StorageDelegate         string            `json:"storage_encryption_delegate"`
	EnhancedSecurityWarning string            `json:"enhanced_security_warning,omitempty"`
	Biometry                string            `json:"biometry"`
	State                   string            `json:"state"`
	RecentCeremonies        []CeremonySummary `json:"recent_ceremonies"`
}

// CeremonySummary describes one resolved ceremony.
type CeremonySummary struct {
	ID         string    `json:"id"`
	Policy     string    `json:"policy"`
	Outcome    string    `json:"outcome"`
	Started    time.Time `json:"started"`
	DurationMS int64     `json:"duration_ms"`
}

// Success wraps v as a successful response.
func Success(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return Failure(err)
	}
	return Response{Result: data}
}

// Failure converts err into an error response.
func Failure(err error) Response {
	e := storeerr.From(err)
	return Response{Error: &ErrorBody{
		Code:    e.Code,
		Message: e.ClientMessage(),
		Details: e.Details,
	}}
}

// Decode unmarshals the result of r into v, or returns its error.
func (r Response) Decode(v any) error {
	if r.Error != nil {
		return r.Error.Err()
	}
	if v == nil || len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}
