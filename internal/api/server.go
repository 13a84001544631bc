package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/benaskins/aegis/internal/config"
	"github.com/benaskins/aegis/internal/daemon"
	"github.com/benaskins/aegis/internal/protocol"
	"github.com/benaskins/aegis/internal/storeerr"
)

// callOverhead covers the key, reason and JSON framing around a value.
const callOverhead = 64 << 10

// maxCallBytes bounds a request body: the largest configurable value after
// base64 encoding plus the rest of the call.
var maxCallBytes = int64(base64.StdEncoding.EncodedLen(config.MaxValueBytesLimit) + callOverhead)

// Server serves the aegis API. The Unix socket carries the full store
// protocol; the optional TCP listener only serves health and metrics.
type Server struct {
	daemon  *daemon.Daemon
	handler *protocol.Handler
	unix    *http.Server
	tcp     *http.Server
	logger  *slog.Logger
}

// NewServer creates an API server backed by the given daemon.
func NewServer(d *daemon.Daemon) *Server {
	s := &Server{
		daemon:  d,
		handler: d.Handler(),
		logger:  slog.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/invoke", s.invoke)
	mux.HandleFunc("GET /v1/ping", s.ping)
	mux.HandleFunc("POST /v1/lifecycle/background", s.background)
	mux.HandleFunc("GET /v1/health", s.health)
	mux.Handle("GET /metrics", d.MetricsHandler())
	s.unix = &http.Server{Handler: mux}

	public := http.NewServeMux()
	public.HandleFunc("GET /v1/health", s.health)
	public.Handle("GET /metrics", d.MetricsHandler())
	s.tcp = &http.Server{Handler: public}
	return s
}

// ListenUnix starts the server on a Unix socket. The socket is only
// reachable by the owner, and connections from other users are dropped.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return err
	}
	s.logger.Info("API listening", "socket", path)
	return s.unix.Serve(&peerListener{Listener: ln, uid: os.Getuid(), logger: s.logger})
}

// ListenTCP starts the health and metrics endpoints on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("metrics listening", "addr", addr)
	return s.tcp.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(s.unix.Shutdown(ctx), s.tcp.Shutdown(ctx))
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request) {
	var call protocol.Call
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCallBytes)).Decode(&call); err != nil {
		resp := protocol.Failure(storeerr.New(storeerr.CodeInvalidArgument, "malformed call"))
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	// r.Context ends when the client disconnects, withdrawing a call that
	// is still waiting on a ceremony.
	resp := s.handler.Invoke(r.Context(), call)
	status := http.StatusOK
	if resp.Error != nil {
		status = statusFor(resp.Error.Code)
	}
	writeJSON(w, status, resp)
}

func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Ping())
}

func (s *Server) background(w http.ResponseWriter, r *http.Request) {
	s.daemon.Background()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "backgrounded"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps an error code to an HTTP status. The code in the body is
// authoritative; the status is for generic HTTP tooling.
func statusFor(code storeerr.Code) int {
	switch code {
	case storeerr.CodeInvalidArgument, storeerr.CodeUnknownMethod:
		return http.StatusBadRequest
	case storeerr.CodeNotFound:
		return http.StatusNotFound
	case storeerr.CodeAuthenticationInProgress:
		return http.StatusConflict
	case storeerr.CodeBiometryLockout:
		return http.StatusTooManyRequests
	case storeerr.CodeAuthenticationRequired, storeerr.CodeAuthenticationCanceled,
		storeerr.CodeAuthenticationFailed, storeerr.CodeBiometryNotAvailable,
		storeerr.CodeBiometryNotEnrolled:
		return http.StatusForbidden
	case storeerr.CodeRequestCanceled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
