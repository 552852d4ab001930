// Package config loads the configuration of the dejavu command from a YAML
// file and DEJAVU_* environment variables, in that order.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/always-cache/dejavu/cache"
	"github.com/always-cache/dejavu/middleware"
	"github.com/always-cache/dejavu/serialisation"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "DEJAVU_"

// salt of passphrase-derived encryption keys
var passphraseSalt = []byte("dejavu-response-cache")

type Config struct {
	// Listen is the address of the proxy.
	Listen string `yaml:"listen" env:"LISTEN"`

	// Origin is the URL of the server to proxy to.
	// Origins with paths are not supported.
	Origin string `yaml:"origin" env:"ORIGIN"`

	// OriginHost is used for the Host header and TLS negotiation,
	// e.g. when the origin URL is an IP address.
	OriginHost string `yaml:"host" env:"ORIGIN_HOST"`

	// MetricsPath serves prometheus metrics on the proxy address.
	// Empty disables metrics.
	MetricsPath string `yaml:"metricsPath" env:"METRICS_PATH"`

	Store cache.Config `yaml:"store" envPrefix:"STORE_"`

	// EncryptionKey is a hex encoded 32 byte key.
	EncryptionKey string `yaml:"encryptionKey" env:"ENCRYPTION_KEY"`

	// Passphrase derives the encryption key when EncryptionKey is empty.
	Passphrase string `yaml:"passphrase" env:"PASSPHRASE"`

	DefaultDurationSeconds int              `yaml:"defaultDuration" env:"DEFAULT_DURATION"`
	RequestTimeout         time.Duration    `yaml:"requestTimeout" env:"REQUEST_TIMEOUT"`
	HeaderName             string           `yaml:"headerName" env:"HEADER_NAME"`
	HonourCacheControl     bool             `yaml:"honourCacheControl" env:"HONOUR_CACHE_CONTROL"`
	Rules                  middleware.Rules `yaml:"rules" env:"-"`
	LogFile                string           `yaml:"logFile" env:"LOG_FILE"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Listen:                 ":8080",
		MetricsPath:            "/metrics",
		Store:                  cache.Config{Kind: cache.KindSQLite, Path: "cache.db"},
		DefaultDurationSeconds: 3600,
		HeaderName:             middleware.DefaultHeaderName,
	}
}

// Load reads the defaults, the file if filename is not empty, and the
// environment.
func Load(filename string) (Config, error) {
	config := Default()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("could not parse %s: %w", filename, err)
		}
	}
	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	return config, config.Validate()
}

// Validate checks the parts of the configuration that can be checked
// without connecting anywhere.
func (c Config) Validate() error {
	var errs []error
	if c.Origin != "" {
		if u, err := url.Parse(c.Origin); err != nil {
			errs = append(errs, fmt.Errorf("invalid origin: %w", err))
		} else if u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("origin %q needs a scheme and a host", c.Origin))
		} else if u.Path != "" && u.Path != "/" {
			errs = append(errs, fmt.Errorf("origins with paths are not supported"))
		}
	}
	if _, err := c.Key(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Rules.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("invalid rule: %w", err))
	}
	return errors.Join(errs...)
}

// Key returns the encryption key, nil when encryption is not configured.
func (c Config) Key() ([]byte, error) {
	if c.EncryptionKey != "" {
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("invalid encryption key: need 32 bytes, got %d", len(key))
		}
		return key, nil
	}
	if c.Passphrase != "" {
		return serialisation.KeyFromPassphrase(c.Passphrase, passphraseSalt), nil
	}
	return nil, nil
}
