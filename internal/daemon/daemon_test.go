package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/benaskins/aegis/internal/dispatch"
	"github.com/benaskins/aegis/internal/keychain"
	"github.com/benaskins/aegis/internal/policy"
	"github.com/benaskins/aegis/internal/presence"
	"github.com/benaskins/aegis/internal/protocol"
	"github.com/benaskins/aegis/internal/storeerr"
)

type countingPrompter struct {
	calls   atomic.Int64
	outcome presence.Outcome
}

func (p *countingPrompter) Present(ctx context.Context, ch presence.Challenge) presence.Outcome {
	p.calls.Add(1)
	return p.outcome
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func testConfig(t *testing.T, extra string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("2468"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return "biometry: enrolled\npasscode_hash: " + string(hash) + "\n" + extra
}

func newTestDaemon(t *testing.T, home string, vault keychain.Store, p presence.Prompter) *Daemon {
	t.Helper()
	d, err := NewDaemon(home, WithVault(vault, "memory"), WithPrompter(p))
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewDaemonDefaults(t *testing.T) {
	home := t.TempDir()
	d := newTestDaemon(t, home, keychain.NewMemoryStore(), &countingPrompter{outcome: presence.Authenticated})

	pong := d.Ping()
	if pong.Ping != "pong" {
		t.Errorf("expected pong, got %q", pong.Ping)
	}
	if pong.Vault != "memory" {
		t.Errorf("expected memory vault, got %q", pong.Vault)
	}
	if pong.State != "idle" {
		t.Errorf("expected idle, got %q", pong.State)
	}
	if pong.Biometry != string(presence.BiometryNone) {
		t.Errorf("expected no biometry by default, got %q", pong.Biometry)
	}
	if cfg := d.Config(); cfg.Service != "com.aegis" || !cfg.UnauthenticatedDeleteAll {
		t.Errorf("expected default config, got %+v", cfg)
	}
	if _, err := os.Stat(filepath.Join(home, "state.json")); err != nil {
		t.Errorf("expected state file after Start: %v", err)
	}
}

func TestProtectedRoundTripIsAudited(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, filepath.Join(home, "config.yaml"), testConfig(t, ""))
	prompter := &countingPrompter{outcome: presence.Authenticated}
	d := newTestDaemon(t, home, keychain.NewMemoryStore(), prompter)
	ctx := context.Background()

	if err := d.Dispatcher().Write(ctx, "token", []byte("s3cr3t-value"), "", policy.BiometricAny); err != nil {
		t.Fatalf("Write: %v", err)
	}
	val, err := d.Dispatcher().Read(ctx, "token")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(val) != "s3cr3t-value" {
		t.Errorf("expected stored value, got %q", val)
	}
	if prompter.calls.Load() != 1 {
		t.Errorf("expected one ceremony, got %d", prompter.calls.Load())
	}

	var log string
	eventually(t, "ceremony audit entry", func() bool {
		data, _ := os.ReadFile(filepath.Join(home, "audit.log"))
		log = string(data)
		return strings.Contains(log, `"action":"ceremony"`)
	})
	if !strings.Contains(log, `"action":"secret_read"`) || !strings.Contains(log, `"action":"secret_write"`) {
		t.Errorf("expected read and write entries:\n%s", log)
	}
	if strings.Contains(log, "s3cr3t-value") {
		t.Error("audit log must never contain secret values")
	}
}

func TestPingReportsRecentCeremonies(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, filepath.Join(home, "config.yaml"), testConfig(t, ""))
	d := newTestDaemon(t, home, keychain.NewMemoryStore(), &countingPrompter{outcome: presence.UserCanceled})

	outcome, err := d.Dispatcher().Authenticate(context.Background(), policy.PasscodeOrBiometric, "confirm")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if outcome != presence.UserCanceled {
		t.Errorf("expected user_canceled, got %q", outcome)
	}

	eventually(t, "ceremony in ping history", func() bool {
		return len(d.Ping().RecentCeremonies) == 1
	})
	c := d.Ping().RecentCeremonies[0]
	if c.Policy != string(policy.PasscodeOrBiometric) || c.Outcome != string(presence.UserCanceled) || c.ID == "" {
		t.Errorf("unexpected summary %+v", c)
	}
}

func TestReloadAppliesConfig(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.yaml")
	writeConfig(t, path, testConfig(t, "max_value_bytes: 4\n"))
	d := newTestDaemon(t, home, keychain.NewMemoryStore(), &countingPrompter{outcome: presence.Authenticated})
	ctx := context.Background()

	err := d.Dispatcher().Write(ctx, "k", []byte("12345678"), "", policy.None)
	if !storeerrIs(err, storeerr.CodeInvalidArgument) {
		t.Fatalf("expected invalid_argument under the small limit, got %v", err)
	}
	if ok, _ := d.Dispatcher().CanAuthenticate(policy.BiometricAny); !ok {
		t.Fatal("expected biometry to be available")
	}

	writeConfig(t, path, "biometry: none\nmax_value_bytes: 64\n")
	if err := d.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if err := d.Dispatcher().Write(ctx, "k", []byte("12345678"), "", policy.None); err != nil {
		t.Errorf("expected the new limit to apply: %v", err)
	}
	if ok, _ := d.Dispatcher().CanAuthenticate(policy.BiometricAny); ok {
		t.Error("expected biometry to be unavailable after reload")
	}
}

func TestReloadKeepsConfigOnError(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.yaml")
	writeConfig(t, path, "max_value_bytes: 16\n")
	d := newTestDaemon(t, home, keychain.NewMemoryStore(), &countingPrompter{})

	writeConfig(t, path, "store_policy: retina\n")
	if err := d.Reload(); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
	if got := d.Config().MaxValueBytes; got != 16 {
		t.Errorf("expected previous config to stay active, got max_value_bytes %d", got)
	}
}

func TestWatcherAppliesChanges(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.yaml")
	writeConfig(t, path, "max_value_bytes: 16\n")
	d := newTestDaemon(t, home, keychain.NewMemoryStore(), &countingPrompter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.StartWatcher(ctx)
	time.Sleep(100 * time.Millisecond)

	writeConfig(t, path, "max_value_bytes: 32\n")
	eventually(t, "watched config to apply", func() bool {
		return d.Config().MaxValueBytes == 32
	})
}

func TestPolicyPersistsAcrossRestart(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, filepath.Join(home, "config.yaml"), testConfig(t, ""))
	vault := keychain.NewMemoryStore()
	ctx := context.Background()

	first, err := NewDaemon(home, WithVault(vault, "memory"), WithPrompter(&countingPrompter{outcome: presence.Authenticated}))
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	if err := first.Dispatcher().Write(ctx, "secret", []byte("xyz"), "", policy.BiometricAny); err != nil {
		t.Fatalf("Write: %v", err)
	}
	first.Stop()

	prompter := &countingPrompter{outcome: presence.Failed}
	second := newTestDaemon(t, home, vault, prompter)
	_, err = second.Dispatcher().Read(ctx, "secret")
	if !storeerrIs(err, storeerr.CodeAuthenticationFailed) {
		t.Fatalf("expected the stored policy to survive restart, got %v", err)
	}
	if prompter.calls.Load() != 1 {
		t.Errorf("expected one ceremony, got %d", prompter.calls.Load())
	}
}

func TestStopCancelsCeremony(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, filepath.Join(home, "config.yaml"), testConfig(t, ""))
	blocking := presence.PrompterFunc(func(ctx context.Context, ch presence.Challenge) presence.Outcome {
		<-ctx.Done()
		return presence.Failed
	})
	d, err := NewDaemon(home, WithVault(keychain.NewMemoryStore(), "memory"), WithPrompter(blocking))
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p := d.Submit(dispatch.Request{Verb: dispatch.VerbAuthenticate, Policy: policy.BiometricAny})
	eventually(t, "ceremony to present", func() bool { return d.Ping().State == "presenting" })

	d.Stop()
	res, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.Outcome != presence.SystemCanceled {
		t.Errorf("expected system_canceled, got %q", res.Outcome)
	}
}

func storeerrIs(err error, code storeerr.Code) bool {
	return storeerr.CodeOf(err) == code
}

// unlistableStore fails every List call.
type unlistableStore struct {
	keychain.Store
}

func (unlistableStore) List() ([]string, error) {
	return nil, errors.New("interaction not allowed")
}

func TestMemoryVaultReportsSecurityWarning(t *testing.T) {
	home := t.TempDir()
	d := newTestDaemon(t, home, keychain.NewMemoryStore(), &countingPrompter{outcome: presence.Authenticated})

	status := d.SecurityStatus()
	if status.Status != protocol.SecurityWarning || status.Error == "" {
		t.Fatalf("expected a warning for the memory vault, got %+v", status)
	}
	pong := d.Ping()
	if pong.HasEnhancedSecurity != protocol.SecurityWarning || pong.EnhancedSecurityWarning != status.Error {
		t.Errorf("ping should carry the warning, got %+v", pong)
	}
	if pong.StorageDelegate != "*keychain.MemoryStore" {
		t.Errorf("unexpected storage delegate %q", pong.StorageDelegate)
	}

	loc := d.StorageLocation()
	if loc.Vault != keychain.BackendMemory || loc.Metadata != filepath.Join(home, "metadata.json") {
		t.Errorf("unexpected location %+v", loc)
	}
}

func TestKeychainVaultSecurityStatus(t *testing.T) {
	p := &countingPrompter{outcome: presence.Authenticated}

	d, err := NewDaemon(t.TempDir(), WithVault(keychain.NewMemoryStore(), keychain.BackendKeychain), WithPrompter(p))
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	if status := d.SecurityStatus(); status.Status != protocol.SecurityAvailable || status.Error != "" {
		t.Errorf("expected available, got %+v", status)
	}
	if pong := d.Ping(); pong.EnhancedSecurityWarning != "" {
		t.Errorf("expected no warning, got %q", pong.EnhancedSecurityWarning)
	}
	if loc := d.StorageLocation(); loc.Location != "keychain service com.aegis" {
		t.Errorf("unexpected location %q", loc.Location)
	}

	broken, err := NewDaemon(t.TempDir(), WithVault(unlistableStore{keychain.NewMemoryStore()}, keychain.BackendKeychain), WithPrompter(p))
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	if status := broken.SecurityStatus(); status.Status != protocol.SecurityError || !strings.Contains(status.Error, "interaction not allowed") {
		t.Errorf("expected error status, got %+v", status)
	}
}
