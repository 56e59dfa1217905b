// Package config provides YAML-based configuration loading for posemesh.
package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
    // AppName optional logical name of the node, announced in hello and mDNS
    AppName string `mapstructure:"app_name"`

    // Topic names the synchronization channel; peers must share it to interoperate
    Topic string `mapstructure:"topic"`

    // Log holds logging configuration
    Log LogConfig `mapstructure:"log"`

    // Transport selects the link kind and listen address of the overlay
    Transport TransportConfig `mapstructure:"transport"`

    // Discovery controls local-network peer discovery
    Discovery DiscoveryConfig `mapstructure:"discovery"`

    // Overlay tunes the publish/subscribe layer
    Overlay OverlayConfig `mapstructure:"overlay"`

    // Sync tunes the pose synchronization loop
    Sync SyncConfig `mapstructure:"sync"`

    // Metrics exposes prometheus metrics when Listen is set
    Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig defines logger settings.
type LogConfig struct {
    // Level: debug, info, warn, error
    Level string `mapstructure:"level"`
    // Format: console or json
    Format string `mapstructure:"format"`
    // Outputs: list of outputs: stdout, stderr, or file paths
    Outputs []string `mapstructure:"outputs"`

    // Rotation controls file rotation when writing to files
    Rotation RotationConfig `mapstructure:"rotation"`
    // Development toggles development-friendly logging options
    Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable"`
    Filename   string `mapstructure:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days"`
    Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
    Listen string `mapstructure:"listen"` // e.g. ":9464"; empty disables
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
    return &Config{
        AppName: "posemesh-node",
        Topic:   "cube-transform",
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stdout"},
            Development: true,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/posemesh.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
        Transport: TransportConfig{Kind: "udp", Listen: "0.0.0.0:0"},
        Discovery: DiscoveryConfig{
            Enabled:        true,
            Service:        "_posemesh._udp",
            Domain:         "local.",
            BrowseInterval: 10 * time.Second,
            PeerTTL:        30 * time.Second,
        },
        Overlay: OverlayConfig{
            QueueSize:        256,
            MaxHops:          3,
            SeenTTL:          2 * time.Minute,
            SeenMaxBytes:     4 << 20,
            VerifySignatures: true,
        },
        Sync: SyncConfig{
            Tick:    50 * time.Millisecond,
            Epsilon: 1e-3,
            Format:  "cbor",
        },
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix POSEMESH and `.`/`-` are replaced with `_`.
// Example: POSEMESH_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("POSEMESH")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()

    // seed defaults for viper so env-only configs work
    v.SetDefault("app_name", cfg.AppName)
    v.SetDefault("topic", cfg.Topic)
    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
    v.SetDefault("transport.kind", cfg.Transport.Kind)
    v.SetDefault("transport.listen", cfg.Transport.Listen)
    v.SetDefault("discovery.enabled", cfg.Discovery.Enabled)
    v.SetDefault("discovery.service", cfg.Discovery.Service)
    v.SetDefault("discovery.domain", cfg.Discovery.Domain)
    v.SetDefault("discovery.browse_interval", cfg.Discovery.BrowseInterval)
    v.SetDefault("discovery.peer_ttl", cfg.Discovery.PeerTTL)
    v.SetDefault("overlay.queue_size", cfg.Overlay.QueueSize)
    v.SetDefault("overlay.max_hops", cfg.Overlay.MaxHops)
    v.SetDefault("overlay.seen_ttl", cfg.Overlay.SeenTTL)
    v.SetDefault("overlay.seen_max_bytes", cfg.Overlay.SeenMaxBytes)
    v.SetDefault("overlay.verify_signatures", cfg.Overlay.VerifySignatures)
    v.SetDefault("overlay.link_rate_bytes", cfg.Overlay.LinkRate)
    v.SetDefault("sync.tick", cfg.Sync.Tick)
    v.SetDefault("sync.epsilon", cfg.Sync.Epsilon)
    v.SetDefault("sync.format", cfg.Sync.Format)
    v.SetDefault("metrics.listen", cfg.Metrics.Listen)

    // Choose config file
    if path == "" {
        if envPath := os.Getenv("POSEMESH_CONFIG"); envPath != "" {
            path = envPath
        }
    }

    if path != "" {
        v.SetConfigFile(path)
    } else {
        // Search common locations with base name `posemesh`
        v.SetConfigName("posemesh")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".posemesh"))
        }
    }

    // Read config file if present; if not found, continue with defaults/env
    if err := v.ReadInConfig(); err != nil {
        var viperConfigFileNotFound viper.ConfigFileNotFoundError
        if !errors.As(err, &viperConfigFileNotFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }

    if err := v.Unmarshal(cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }

    if err := cfg.validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

func (c *Config) validate() error {
    lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
    switch lvl {
    case "debug", "info", "warn", "warning", "error":
        // ok
    default:
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }

    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stdout"}
    }
    if strings.TrimSpace(c.Topic) == "" {
        return errors.New("topic must not be empty")
    }
    if err := c.Transport.validate(); err != nil { return err }
    if err := c.Discovery.validate(); err != nil { return err }
    if err := c.Overlay.validate(); err != nil { return err }
    return c.Sync.validate()
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}
