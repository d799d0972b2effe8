// Package config loads the configuration of the offline-cache proxy:
// defaults, then a YAML file, then OFFLINE_CACHE_* environment variables.
package config

import (
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/always-cache/offline-cache/pkg/manifest"
)

type Config struct {
	AppID   string `yaml:"appId"   env:"OFFLINE_CACHE_APP_ID"`
	Version string `yaml:"version" env:"OFFLINE_CACHE_VERSION"`
	// Origin URL relative requests are proxied to.
	Origin string `yaml:"origin" env:"OFFLINE_CACHE_ORIGIN"`
	// Cache DB file name, "memory" for an in-memory DB.
	DB string `yaml:"db" env:"OFFLINE_CACHE_DB"`
	// Path of a YAML manifest file. Its URLs are added to Static and External.
	ManifestFile string   `yaml:"manifestFile" env:"OFFLINE_CACHE_MANIFEST"`
	Static       []string `yaml:"static"       env:"OFFLINE_CACHE_STATIC"   envSeparator:","`
	External     []string `yaml:"external"     env:"OFFLINE_CACHE_EXTERNAL" envSeparator:","`
	// Glob patterns of external asset hosts.
	ExternalHosts []string `yaml:"externalHosts" env:"OFFLINE_CACHE_EXTERNAL_HOSTS" envSeparator:","`
	APIPrefix     string   `yaml:"apiPrefix"     env:"OFFLINE_CACHE_API_PREFIX"`
	// Timeout of a single network fetch, negative disables it.
	FetchTimeout  time.Duration `yaml:"fetchTimeout"  env:"OFFLINE_CACHE_FETCH_TIMEOUT"`
	SlowThreshold time.Duration `yaml:"slowThreshold" env:"OFFLINE_CACHE_SLOW_THRESHOLD"`
	SkipWaiting   bool          `yaml:"skipWaiting"   env:"OFFLINE_CACHE_SKIP_WAITING"`
	Port          int           `yaml:"port"          env:"OFFLINE_CACHE_PORT"`
	ControlPrefix string        `yaml:"controlPrefix" env:"OFFLINE_CACHE_CONTROL_PREFIX"`
	// OTLP/HTTP endpoint traces are exported to. Tracing is disabled if empty.
	OTLPEndpoint string `yaml:"otlpEndpoint" env:"OFFLINE_CACHE_OTLP_ENDPOINT"`
}

// Default returns the configuration used for everything not configured.
func Default() Config {
	return Config{
		AppID:         "offline-cache",
		DB:            "cache.db",
		APIPrefix:     "/api/",
		FetchTimeout:  30 * time.Second,
		SlowThreshold: time.Second,
		Port:          8080,
		ControlPrefix: "/_worker",
	}
}

// Load reads the YAML file, if any, over the defaults and applies the environment.
// The result is not validated.
func Load(filename string) (Config, error) {
	config := Default()
	if filename != "" {
		b, err := os.ReadFile(filename)
		if err != nil {
			return config, errors.Wrapf(err, errors.CodeInvalidConfig, "could not read config %s", filename)
		}
		if err := yaml.Unmarshal(b, &config); err != nil {
			return config, errors.Wrapf(err, errors.CodeInvalidConfig, "could not parse config %s", filename)
		}
	}
	if err := env.Parse(&config); err != nil {
		return config, errors.Wrap(err, errors.CodeInvalidConfig, "could not parse environment")
	}
	return config, nil
}

func (c Config) Validate() error {
	if c.AppID == "" {
		return errors.New(errors.CodeInvalidConfig, "app id is required")
	}
	if c.Version == "" {
		return errors.New(errors.CodeInvalidConfig, "version is required")
	}
	if u, err := url.Parse(c.Origin); err != nil || !u.IsAbs() || u.Host == "" {
		return errors.Newf(errors.CodeInvalidConfig, "origin %q must be an absolute url", c.Origin)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Newf(errors.CodeInvalidConfig, "invalid port %d", c.Port)
	}
	if c.DB == "" {
		return errors.New(errors.CodeInvalidConfig, "db is required")
	}
	return nil
}

// OriginURL returns the parsed origin.
func (c Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "invalid origin %q", c.Origin)
	}
	return u, nil
}

// Manifest returns the manifest file merged with the inline URLs.
func (c Config) Manifest() (manifest.Manifest, error) {
	static := append([]string(nil), c.Static...)
	external := append([]string(nil), c.External...)
	if c.ManifestFile != "" {
		file, err := manifest.Load(c.ManifestFile)
		if err != nil {
			return manifest.Manifest{}, err
		}
		static = append(static, file.Static...)
		external = append(external, file.External...)
	}
	return manifest.New(static, external)
}
