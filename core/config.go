package core

import (
	"fmt"
	"strings"
	"time"
)

type WatcherConfig struct {
	Interval          time.Duration `koanf:"interval" mapstructure:"interval"`
	RefreshLeadWindow time.Duration `koanf:"refresh_lead_window" mapstructure:"refresh_lead_window"`
	MaxAttempts       int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	SyncEveryCycles   int           `koanf:"sync_every_cycles" mapstructure:"sync_every_cycles"`
}

type SessionsConfig struct {
	Timeout       time.Duration `koanf:"timeout" mapstructure:"timeout"`
	SweepInterval time.Duration `koanf:"sweep_interval" mapstructure:"sweep_interval"`
}

type CacheConfig struct {
	UsageWindow time.Duration `koanf:"usage_window" mapstructure:"usage_window"`
}

type SyncConfig struct {
	Concurrency int `koanf:"concurrency" mapstructure:"concurrency"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Watcher     WatcherConfig  `koanf:"watcher" mapstructure:"watcher"`
	Sessions    SessionsConfig `koanf:"sessions" mapstructure:"sessions"`
	Cache       CacheConfig    `koanf:"cache" mapstructure:"cache"`
	Sync        SyncConfig     `koanf:"sync" mapstructure:"sync"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "credentials",
		Watcher: WatcherConfig{
			Interval:          DefaultWatchInterval,
			RefreshLeadWindow: DefaultRefreshLeadWindow,
			MaxAttempts:       DefaultMaxRefreshAttempts,
			SyncEveryCycles:   1,
		},
		Sessions: SessionsConfig{
			Timeout:       DefaultSessionTimeout,
			SweepInterval: DefaultSessionSweepInterval,
		},
		Cache: CacheConfig{
			UsageWindow: DefaultCacheUsageWindow,
		},
		Sync: SyncConfig{
			Concurrency: DefaultSyncConcurrency,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Watcher.Interval < 0 {
		return fmt.Errorf("core: watcher interval must not be negative")
	}
	if c.Watcher.MaxAttempts < 0 {
		return fmt.Errorf("core: watcher max_attempts must not be negative")
	}
	if c.Sessions.Timeout < 0 {
		return fmt.Errorf("core: session timeout must not be negative")
	}
	if c.Sync.Concurrency < 0 {
		return fmt.Errorf("core: sync concurrency must not be negative")
	}
	return nil
}
