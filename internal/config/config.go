// Package config loads lumen's settings from an optional TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"

	"github.com/lumenhq/lumen/internal/crypto"
)

// HomeEnv overrides the lumen home directory.
const HomeEnv = "LUMEN_HOME"

// MinIterations is the lowest KDF iteration count accepted without
// AllowWeakKDF.
const MinIterations = 100_000

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the full lumen configuration.
type Config struct {
	DataDir string  `toml:"data_dir"`
	UserID  string  `toml:"user_id"`
	Vault   Vault   `toml:"vault"`
	Context Context `toml:"context"`
	Log     Log     `toml:"log"`
}

// Vault holds key derivation and lock settings.
type Vault struct {
	KDFIterations     int      `toml:"kdf_iterations"`
	EncryptionVersion string   `toml:"encryption_version"`
	Cipher            string   `toml:"cipher"`
	IdleTimeout       Duration `toml:"idle_timeout"`
	FlushTimeout      Duration `toml:"flush_timeout"`
	AllowWeakKDF      bool     `toml:"allow_weak_kdf"`
}

// Context holds session context assembly settings.
type Context struct {
	ModelID          string  `toml:"model_id"`
	ContextTokens    int     `toml:"context_tokens"`
	ReservedTokens   int     `toml:"reserved_tokens"`
	ReservedFraction float64 `toml:"reserved_fraction"`
	MaxChars         int     `toml:"max_chars"`
	RecentCount      int     `toml:"recent_count"`
}

// Log holds logger verbosity.
type Log struct {
	Verbose bool `toml:"verbose"`
	Debug   bool `toml:"debug"`
}

// Home returns the lumen home directory: $LUMEN_HOME or ~/.lumen.
func Home() string {
	if h := os.Getenv(HomeEnv); h != "" {
		if expanded, err := homedir.Expand(h); err == nil {
			return expanded
		}
		return h
	}
	home, err := homedir.Dir()
	if err != nil {
		return ".lumen"
	}
	return filepath.Join(home, ".lumen")
}

// DefaultPath returns the config file location inside Home.
func DefaultPath() string {
	return filepath.Join(Home(), "config.toml")
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		DataDir: Home(),
		UserID:  "local",
		Vault: Vault{
			KDFIterations:     crypto.DefaultIterations,
			EncryptionVersion: crypto.DefaultVersion,
			Cipher:            crypto.DefaultCipher,
			IdleTimeout:       Duration{15 * time.Minute},
			FlushTimeout:      Duration{5 * time.Second},
		},
		Context: Context{
			ModelID:     "opus-4.5",
			RecentCount: 3,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// "~" in data_dir is expanded.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	dir, err := homedir.Expand(cfg.DataDir)
	if err != nil {
		return Config{}, fmt.Errorf("config: data_dir: %w", err)
	}
	cfg.DataDir = dir
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is empty")
	}
	if c.Vault.KDFIterations <= 0 {
		return fmt.Errorf("config: kdf_iterations must be positive, got %d", c.Vault.KDFIterations)
	}
	if c.Vault.KDFIterations < MinIterations && !c.Vault.AllowWeakKDF {
		return fmt.Errorf("config: kdf_iterations %d is below %d (set allow_weak_kdf for tests)", c.Vault.KDFIterations, MinIterations)
	}
	if !crypto.SupportedCipher(c.Vault.Cipher) {
		return fmt.Errorf("config: unsupported cipher %q", c.Vault.Cipher)
	}
	if c.Vault.EncryptionVersion == "" {
		return errors.New("config: encryption_version is empty")
	}
	if c.Vault.IdleTimeout.Duration < 0 || c.Vault.FlushTimeout.Duration < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	if c.Context.ReservedFraction < 0 || c.Context.ReservedFraction >= 1 {
		return fmt.Errorf("config: reserved_fraction must be in [0,1), got %v", c.Context.ReservedFraction)
	}
	if c.Context.RecentCount < 0 {
		return fmt.Errorf("config: recent_count must not be negative, got %d", c.Context.RecentCount)
	}
	return nil
}
