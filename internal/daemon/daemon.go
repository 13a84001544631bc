// Package daemon owns one secret store instance and its collaborators.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/benaskins/aegis/internal/audit"
	"github.com/benaskins/aegis/internal/config"
	"github.com/benaskins/aegis/internal/device"
	"github.com/benaskins/aegis/internal/dispatch"
	"github.com/benaskins/aegis/internal/keychain"
	"github.com/benaskins/aegis/internal/logbuf"
	"github.com/benaskins/aegis/internal/metrics"
	"github.com/benaskins/aegis/internal/policy"
	"github.com/benaskins/aegis/internal/presence"
	"github.com/benaskins/aegis/internal/prompt"
	"github.com/benaskins/aegis/internal/protocol"
)

const (
	// historySize is the number of resolved ceremonies kept for ping.
	historySize = 32

	// pingCeremonies is the number of ceremonies ping reports.
	pingCeremonies = 10

	memoryVaultWarning = "secrets are held in process memory and are lost when the daemon exits; entry policies in metadata.json outlive them"
)

// Daemon is the single owner of a store: the vault, the policy metadata,
// the presence authenticator and the dispatcher that serializes access to
// them.
type Daemon struct {
	home       string
	configPath string

	mu  sync.RWMutex
	cfg *config.Config

	vault      keychain.Store
	backend    string
	service    string
	device     *presence.StaticDevice
	prompter   presence.Prompter
	auth       *presence.Authenticator
	resolver   *policy.Resolver
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Collectors
	registry   *prometheus.Registry
	audit      *audit.Logger
	history    *logbuf.Ring[presence.Record]
	state      *stateFile
	socket     string
	logger     *slog.Logger
}

// Option configures the daemon.
type Option func(*Daemon)

// WithVault replaces the platform vault.
func WithVault(s keychain.Store, backend string) Option {
	return func(d *Daemon) {
		d.vault = s
		d.backend = backend
	}
}

// WithPrompter replaces the terminal passcode prompter.
func WithPrompter(p presence.Prompter) Option {
	return func(d *Daemon) {
		d.prompter = p
	}
}

// WithConfigPath reads configuration from path instead of <home>/config.yaml.
func WithConfigPath(path string) Option {
	return func(d *Daemon) {
		d.configPath = path
	}
}

// WithSocket records the socket path the API listens on.
func WithSocket(path string) Option {
	return func(d *Daemon) {
		d.socket = path
	}
}

// NewDaemon creates a daemon whose state lives under home.
func NewDaemon(home string, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		home:       home,
		configPath: filepath.Join(home, "config.yaml"),
		history:    logbuf.New[presence.Record](historySize),
		state:      newStateFile(home),
		logger:     slog.With("component", "daemon"),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := os.MkdirAll(home, 0700); err != nil {
		return nil, fmt.Errorf("creating home dir: %w", err)
	}

	cfg, err := config.Load(d.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	d.cfg = cfg

	if d.vault == nil {
		d.vault = keychain.NewSystemStore(cfg.Service)
		d.backend = keychain.SystemBackend
	}
	d.service = cfg.Service

	d.audit, err = audit.NewLogger(filepath.Join(home, "audit.log"))
	if err != nil {
		return nil, err
	}
	vault := keychain.NewAuditedStore(d.vault, d.audit, "daemon")

	meta, err := policy.NewMetadataStore(filepath.Join(home, "metadata.json"))
	if err != nil {
		d.audit.Close()
		return nil, fmt.Errorf("loading entry metadata: %w", err)
	}
	d.resolver = policy.NewResolver(meta)

	if d.prompter == nil {
		d.prompter = presence.PrompterFunc(d.present)
	}
	d.device = presence.NewStaticDevice(capability(cfg))
	d.auth = presence.NewAuthenticator(d.device, d.prompter,
		presence.WithTimeout(cfg.ChallengeTimeout),
		presence.WithLockout(cfg.Lockout.MaxFailures, cfg.Lockout.Window),
		presence.WithObserver(d.observe),
	)

	d.metrics = metrics.New()
	d.registry = d.metrics.Registry()
	d.dispatcher = dispatch.New(vault, d.resolver, d.auth, dispatchOptions(cfg), dispatch.WithMetrics(d.metrics))

	return d, nil
}

func capability(cfg *config.Config) presence.Capability {
	c := presence.Capability{
		Biometry:    presence.BiometryNone,
		PasscodeSet: cfg.PasscodeHash != "",
		Enrollment:  cfg.EnrollmentID,
	}
	switch cfg.Biometry {
	case config.BiometryEnrolled:
		c.Biometry = presence.BiometryEnrolled
	case config.BiometryNotEnrolled:
		c.Biometry = presence.BiometryNotEnrolled
	}
	return c
}

func dispatchOptions(cfg *config.Config) dispatch.Options {
	return dispatch.Options{
		MaxValueBytes:        cfg.MaxValueBytes,
		StorePolicy:          cfg.Policy(),
		RequireDeleteAllAuth: !cfg.UnauthenticatedDeleteAll,
	}
}

// present runs the terminal prompter with the passcode currently configured.
func (d *Daemon) present(ctx context.Context, ch presence.Challenge) presence.Outcome {
	d.mu.RLock()
	hash := d.cfg.PasscodeHash
	d.mu.RUnlock()
	return prompt.NewTerminal(hash).Present(ctx, ch)
}

// observe records a resolved ceremony in history, metrics and the audit log.
func (d *Daemon) observe(rec presence.Record) {
	d.history.Add(rec)
	d.metrics.ObserveCeremony(string(rec.Policy), string(rec.Outcome), rec.Duration)
	if err := d.audit.Log(audit.Entry{
		Action:     audit.ActionCeremony,
		Actor:      "daemon",
		Policy:     string(rec.Policy),
		CeremonyID: rec.ID,
		Outcome:    string(rec.Outcome),
		DurationMS: rec.Duration.Milliseconds(),
	}); err != nil {
		d.logger.Warn("audit log write failed", "error", err)
	}
}

// Start claims the store for this process.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.state.claim(InstanceRecord{
		PID:       os.Getpid(),
		Socket:    d.socket,
		StartedAt: time.Now().Unix(),
	}); err != nil {
		return err
	}
	d.logger.Info("store ready",
		"vault", d.backend,
		"entries", len(d.resolver.Metadata().All()),
		"biometry", d.device.Capability().Biometry,
		"passcode_set", d.device.Capability().PasscodeSet)
	return nil
}

// Stop cancels any ceremony, releases the store and closes the audit log.
func (d *Daemon) Stop() {
	d.dispatcher.Background()
	if err := d.state.release(os.Getpid()); err != nil {
		d.logger.Warn("failed to clear state on shutdown", "error", err)
	}
	if err := d.audit.Close(); err != nil {
		d.logger.Warn("closing audit log", "error", err)
	}
	d.logger.Info("store stopped")
}

// Submit hands req to the dispatcher.
func (d *Daemon) Submit(req dispatch.Request) *dispatch.Pending {
	return d.dispatcher.Submit(req)
}

// CancelAuthentication cancels the running ceremony on the user's behalf.
func (d *Daemon) CancelAuthentication() bool {
	return d.dispatcher.CancelAuthentication()
}

// Background reports that the host session went to the background.
func (d *Daemon) Background() {
	d.dispatcher.Background()
}

// Dispatcher returns the store's dispatcher.
func (d *Daemon) Dispatcher() *dispatch.Dispatcher {
	return d.dispatcher
}

// Handler returns a boundary protocol handler bound to this daemon.
func (d *Daemon) Handler() *protocol.Handler {
	return protocol.NewHandler(d)
}

// MetricsHandler serves the daemon's Prometheus registry.
func (d *Daemon) MetricsHandler() http.Handler {
	return metrics.Handler(d.registry)
}

// Config returns a copy of the active configuration.
func (d *Daemon) Config() config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return *d.cfg
}

// Ping reports host and store diagnostics.
func (d *Daemon) Ping() protocol.Pong {
	info := device.Current()
	recent := d.history.Last(pingCeremonies)
	summaries := make([]protocol.CeremonySummary, 0, len(recent))
	for _, r := range recent {
		summaries = append(summaries, protocol.CeremonySummary{
			ID:         r.ID,
			Policy:     string(r.Policy),
			Outcome:    string(r.Outcome),
			Started:    r.Started,
			DurationMS: r.Duration.Milliseconds(),
		})
	}
	sec := d.SecurityStatus()
	return protocol.Pong{
		Ping:                    "pong",
		Version:                 protocol.Version,
		Platform:                info.Platform,
		PlatformVersion:         info.PlatformVersion,
		Hostname:                info.Hostname,
		IsSimulator:             true,
		Vault:                   d.backend,
		HasEnhancedSecurity:     sec.Status,
		StorageDelegate:         fmt.Sprintf("%T", d.vault),
		EnhancedSecurityWarning: sec.Error,
		Biometry:                string(d.device.Capability().Biometry),
		State:                   d.auth.State().String(),
		RecentCeremonies:        summaries,
	}
}

// SecurityStatus grades the vault. The keychain is available while it can
// be listed; the memory fallback always warns.
func (d *Daemon) SecurityStatus() protocol.SecurityResult {
	switch d.backend {
	case keychain.BackendKeychain:
		if _, err := d.vault.List(); err != nil {
			return protocol.SecurityResult{Status: protocol.SecurityError, Error: fmt.Sprintf("keychain unavailable: %v", err)}
		}
		return protocol.SecurityResult{Status: protocol.SecurityAvailable}
	case keychain.BackendMemory:
		return protocol.SecurityResult{Status: protocol.SecurityWarning, Error: memoryVaultWarning}
	}
	return protocol.SecurityResult{Status: protocol.SecurityError, Error: fmt.Sprintf("unknown vault backend %q", d.backend)}
}

// StorageLocation reports where values and entry metadata are kept.
func (d *Daemon) StorageLocation() protocol.LocationResult {
	loc := protocol.LocationResult{
		Vault:    d.backend,
		Location: "process memory",
		Metadata: d.resolver.Metadata().Path(),
	}
	if d.backend == keychain.BackendKeychain {
		loc.Location = fmt.Sprintf("keychain service %s", d.service)
	}
	return loc
}

// ApplyConfig hot-applies cfg. Size limits, the store policy, the deleteAll
// escape hatch, the passcode and the simulated biometry take effect for new
// requests; timeout and lockout changes need a restart.
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	d.mu.Lock()
	prev := d.cfg
	d.cfg = cfg
	d.mu.Unlock()

	d.dispatcher.SetOptions(dispatchOptions(cfg))
	d.device.Set(capability(cfg))

	if cfg.ChallengeTimeout != prev.ChallengeTimeout || cfg.Lockout != prev.Lockout {
		d.logger.Warn("challenge_timeout and lockout changes take effect after restart")
	}
	if cfg.Service != prev.Service {
		d.logger.Warn("service changes take effect after restart")
	}
	d.logger.Info("configuration applied",
		"max_value_bytes", cfg.MaxValueBytes,
		"store_policy", cfg.Policy(),
		"unauthenticated_delete_all", cfg.UnauthenticatedDeleteAll,
		"biometry", cfg.Biometry)
}

// Reload re-reads the config file and applies it. An invalid file is
// rejected and the running configuration kept.
func (d *Daemon) Reload() error {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		return err
	}
	d.ApplyConfig(cfg)
	return nil
}
