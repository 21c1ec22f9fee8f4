// Package config loads bridge settings with viper: defaults, then an
// optional YAML file, then APLBRIDGE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/aplbridge/internal/binding"
	"github.com/roach88/aplbridge/internal/loader"
	"github.com/roach88/aplbridge/internal/session"
)

// EnvPrefix prefixes environment overrides, e.g. APLBRIDGE_LISTEN_ADDR or
// APLBRIDGE_SCALING_BIAS_CONSTANT.
const EnvPrefix = "APLBRIDGE"

// Keys.
const (
	KeyMaxConcurrentDownloads = "max_concurrent_downloads"
	KeyPackageURLTemplate     = "package_url_template"
	KeyDownloadTimeout        = "download_timeout"
	KeyBlockingSendTimeout    = "blocking_send_timeout"
	KeyTickInterval           = "tick_interval"
	KeyBiasConstant           = "scaling.bias_constant"
	KeyShapeOverridesCost     = "scaling.shape_overrides_cost"
	KeyAgentName              = "agent.name"
	KeyAgentVersion           = "agent.version"
	KeyResponsibleForBack     = "backstack.responsible_for_back"
	KeyJournalPath            = "journal.path"
	KeyListenAddr             = "listen_addr"
)

// Config is the resolved configuration.
type Config struct {
	MaxConcurrentDownloads int
	PackageURLTemplate     string
	DownloadTimeout        time.Duration
	BlockingSendTimeout    time.Duration
	TickInterval           time.Duration
	BiasConstant           float64
	ShapeOverridesCost     bool
	AgentName              string
	AgentVersion           string
	ResponsibleForBack     bool

	// JournalPath enables the envelope journal when non-empty.
	JournalPath string
	ListenAddr  string
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyMaxConcurrentDownloads, loader.DefaultMaxConcurrentDownloads)
	v.SetDefault(KeyPackageURLTemplate, loader.DefaultPackageURLTemplate)
	v.SetDefault(KeyDownloadTimeout, 10*time.Second)
	v.SetDefault(KeyBlockingSendTimeout, session.DefaultBlockingSendTimeout)
	v.SetDefault(KeyTickInterval, 16*time.Millisecond)
	v.SetDefault(KeyBiasConstant, session.DefaultBiasConstant)
	v.SetDefault(KeyShapeOverridesCost, true)
	v.SetDefault(KeyAgentName, "aplbridge")
	v.SetDefault(KeyAgentVersion, "dev")
	v.SetDefault(KeyResponsibleForBack, true)
	v.SetDefault(KeyJournalPath, "")
	v.SetDefault(KeyListenAddr, "127.0.0.1:8420")
}

// Load resolves configuration into v. path names a YAML file; empty means
// defaults and environment only.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		MaxConcurrentDownloads: v.GetInt(KeyMaxConcurrentDownloads),
		PackageURLTemplate:     v.GetString(KeyPackageURLTemplate),
		DownloadTimeout:        v.GetDuration(KeyDownloadTimeout),
		BlockingSendTimeout:    v.GetDuration(KeyBlockingSendTimeout),
		TickInterval:           v.GetDuration(KeyTickInterval),
		BiasConstant:           v.GetFloat64(KeyBiasConstant),
		ShapeOverridesCost:     v.GetBool(KeyShapeOverridesCost),
		AgentName:              v.GetString(KeyAgentName),
		AgentVersion:           v.GetString(KeyAgentVersion),
		ResponsibleForBack:     v.GetBool(KeyResponsibleForBack),
		JournalPath:            v.GetString(KeyJournalPath),
		ListenAddr:             v.GetString(KeyListenAddr),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the bridge cannot run with.
func (c Config) Validate() error {
	switch {
	case c.MaxConcurrentDownloads < 1:
		return fmt.Errorf("%s must be at least 1, got %d", KeyMaxConcurrentDownloads, c.MaxConcurrentDownloads)
	case strings.Count(c.PackageURLTemplate, "%s") != 2:
		return fmt.Errorf("%s must contain two %%s verbs (name, version)", KeyPackageURLTemplate)
	case c.BlockingSendTimeout <= 0:
		return fmt.Errorf("%s must be positive", KeyBlockingSendTimeout)
	case c.TickInterval <= 0:
		return fmt.Errorf("%s must be positive", KeyTickInterval)
	case c.BiasConstant < 0:
		return fmt.Errorf("%s must not be negative", KeyBiasConstant)
	}
	return nil
}

// UserAgent is sent with package downloads.
func (c Config) UserAgent() string {
	return c.AgentName + "/" + c.AgentVersion
}

// Binding converts to the binding's configuration.
func (c Config) Binding() binding.Config {
	return binding.Config{
		Loader: loader.Config{
			MaxConcurrentDownloads: c.MaxConcurrentDownloads,
			PackageURLTemplate:     c.PackageURLTemplate,
		},
		Session: session.Config{
			BlockingSendTimeout: c.BlockingSendTimeout,
			BiasConstant:        c.BiasConstant,
			ShapeOverridesCost:  c.ShapeOverridesCost,
		},
		ResponsibleForBack: c.ResponsibleForBack,
	}
}

// Downloader builds the HTTP package downloader.
func (c Config) Downloader() *loader.HTTPDownloader {
	d := loader.NewHTTPDownloader(c.DownloadTimeout)
	d.UserAgent = c.UserAgent()
	return d
}
