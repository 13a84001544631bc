package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/benaskins/aegis/internal/policy"
)

// MaxValueBytesLimit is the largest accepted max_value_bytes. The API sizes
// its request body limit from it.
const MaxValueBytesLimit = 4 << 20

// Biometry values for the simulated device on hosts without a native
// biometric sensor.
const (
	BiometryNone        = "none"
	BiometryNotEnrolled = "not_enrolled"
	BiometryEnrolled    = "enrolled"
)

// Config holds persistent daemon configuration loaded from ~/.aegis/config.yaml.
type Config struct {
	Service string `yaml:"service"`
	Socket  string `yaml:"socket,omitempty"`
	APIAddr string `yaml:"api_addr,omitempty"`

	MaxValueBytes            int           `yaml:"max_value_bytes"`
	ChallengeTimeout         time.Duration `yaml:"challenge_timeout"`
	StorePolicy              string        `yaml:"store_policy,omitempty"`
	UnauthenticatedDeleteAll bool          `yaml:"unauthenticated_delete_all"`
	Lockout                  Lockout       `yaml:"lockout"`

	PasscodeHash string `yaml:"passcode_hash,omitempty"`
	Biometry     string `yaml:"biometry,omitempty"`
	EnrollmentID string `yaml:"enrollment_id,omitempty"`
}

// Lockout bounds failed ceremonies.
type Lockout struct {
	MaxFailures int           `yaml:"max_failures"`
	Window      time.Duration `yaml:"window"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Service:                  "com.aegis",
		MaxValueBytes:            64 << 10,
		ChallengeTimeout:         30 * time.Second,
		UnauthenticatedDeleteAll: true,
		Lockout: Lockout{
			MaxFailures: 5,
			Window:      30 * time.Second,
		},
		Biometry: BiometryNone,
	}
}

// Home returns the aegis home directory (~/.aegis).
func Home() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".aegis"), nil
}

// DefaultPath returns the default config file path: ~/.aegis/config.yaml.
func DefaultPath() string {
	home, err := Home()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "config.yaml")
}

// Load reads a YAML config file from path. Fields missing from the file keep
// their defaults. If the file does not exist, or is empty or all comments,
// it returns Default() and no error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path atomically with owner-only permissions.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	if c.MaxValueBytes <= 0 || c.MaxValueBytes > MaxValueBytesLimit {
		return fmt.Errorf("max_value_bytes must be between 1 and %d, got %d", MaxValueBytesLimit, c.MaxValueBytes)
	}
	if c.ChallengeTimeout <= 0 {
		return fmt.Errorf("challenge_timeout must be positive, got %s", c.ChallengeTimeout)
	}
	if _, err := policy.Parse(c.StorePolicy); err != nil {
		return fmt.Errorf("store_policy: %w", err)
	}
	if c.Lockout.MaxFailures < 0 || c.Lockout.Window < 0 {
		return fmt.Errorf("lockout settings must not be negative")
	}
	switch c.Biometry {
	case "", BiometryNone, BiometryNotEnrolled, BiometryEnrolled:
	default:
		return fmt.Errorf("biometry must be one of none, not_enrolled, enrolled, got %q", c.Biometry)
	}
	return nil
}

// Policy returns the parsed store-wide policy. Validate must have passed.
func (c *Config) Policy() policy.Policy {
	p, _ := policy.Parse(c.StorePolicy)
	return p
}
