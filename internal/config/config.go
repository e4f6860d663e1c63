// Package config resolves nasctl settings from defaults, the config file,
// NASCTL_* environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const EnvPrefix = "NASCTL"

// Keys understood in the config file and environment.
const (
	KeyURL            = "url"
	KeyStateDir       = "state_dir"
	KeyTimeout        = "timeout"
	KeyPollInterval   = "poll_interval"
	KeyLogLevel       = "log_level"
	KeyLogFormat      = "log_format"
	KeyOutput         = "output"
	KeyTOTPSecret     = "totp_secret"
	KeyPlaintextStore = "insecure_plaintext_store"
)

type Config struct {
	URL          string
	StateDir     string
	Timeout      time.Duration
	PollInterval time.Duration
	LogLevel     zerolog.Level
	LogFormat    string
	Output       string
	TOTPSecret   string
	// InsecurePlaintextStore keeps the token unsealed on disk.
	InsecurePlaintextStore bool
}

// SessionPath is where the persisted token lives.
func (c Config) SessionPath() string { return filepath.Join(c.StateDir, "session.json") }

// KeyPath holds the master key sealing the session file.
func (c Config) KeyPath() string { return filepath.Join(c.StateDir, "session.key") }

// DefaultDir is $XDG_CONFIG_HOME/nasctl (or the platform equivalent).
func DefaultDir() string {
	if d, err := os.UserConfigDir(); err == nil {
		return filepath.Join(d, "nasctl")
	}
	return ".nasctl"
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := defaults()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

func defaults() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyURL, "http://localhost:8080")
	v.SetDefault(KeyStateDir, DefaultDir())
	v.SetDefault(KeyTimeout, "30s")
	v.SetDefault(KeyPollInterval, "5s")
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyOutput, "table")
	v.SetDefault(KeyTOTPSecret, "")
	v.SetDefault(KeyPlaintextStore, false)
	return v
}

// ReadFile loads path, or config.yaml from the default directory when path is
// empty. A missing default file is not an error. It returns the file used.
func ReadFile(v *viper.Viper, path string) (string, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &nf) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Load validates and returns the settings held by v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		URL:                    strings.TrimRight(strings.TrimSpace(v.GetString(KeyURL)), "/"),
		StateDir:               v.GetString(KeyStateDir),
		Timeout:                v.GetDuration(KeyTimeout),
		PollInterval:           v.GetDuration(KeyPollInterval),
		LogFormat:              strings.ToLower(v.GetString(KeyLogFormat)),
		Output:                 strings.ToLower(v.GetString(KeyOutput)),
		TOTPSecret:             v.GetString(KeyTOTPSecret),
		InsecurePlaintextStore: v.GetBool(KeyPlaintextStore),
	}

	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("invalid %s %q: want http(s)://host[:port]", KeyURL, cfg.URL)
	}
	if cfg.Timeout <= 0 {
		return Config{}, fmt.Errorf("invalid %s %q", KeyTimeout, v.GetString(KeyTimeout))
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("invalid %s %q", KeyPollInterval, v.GetString(KeyPollInterval))
	}
	level, err := zerolog.ParseLevel(strings.ToLower(v.GetString(KeyLogLevel)))
	if err != nil || level == zerolog.NoLevel {
		return Config{}, fmt.Errorf("invalid %s %q", KeyLogLevel, v.GetString(KeyLogLevel))
	}
	cfg.LogLevel = level
	switch cfg.LogFormat {
	case "console", "json":
	default:
		return Config{}, fmt.Errorf("invalid %s %q: want console or json", KeyLogFormat, cfg.LogFormat)
	}
	switch cfg.Output {
	case "table", "json", "yaml":
	default:
		return Config{}, fmt.Errorf("invalid %s %q: want table, json or yaml", KeyOutput, cfg.Output)
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultDir()
	}
	return cfg, nil
}

// FromEnv reads defaults and NASCTL_* variables only. Invalid values fall back
// to the defaults.
func FromEnv() Config {
	cfg, err := Load(New())
	if err != nil {
		cfg, _ = Load(defaults())
	}
	return cfg
}
