package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	SocketPath         string
	DBPath             string
	OptimisticRollback time.Duration
	GatherCacheTTL     time.Duration
	JournalPayloadTTL  time.Duration
	JournalRetention   time.Duration
	RetentionInterval  time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	PingInterval       time.Duration
	MaxMessageBytes    int
	ValidateMessages   bool
	SideChannelBuffer  int
	MaxRenderDepth     int
}

func DefaultConfig() Config {
	return Config{
		SocketPath:         defaultSocketPath(),
		DBPath:             defaultDBPath(),
		OptimisticRollback: 5 * time.Second,
		GatherCacheTTL:     5 * time.Second,
		JournalPayloadTTL:  24 * time.Hour,
		JournalRetention:   7 * 24 * time.Hour,
		RetentionInterval:  time.Hour,
		ReadTimeout:        60 * time.Second,
		WriteTimeout:       10 * time.Second,
		PingInterval:       30 * time.Second,
		MaxMessageBytes:    1 << 20,
		ValidateMessages:   true,
		SideChannelBuffer:  64,
		MaxRenderDepth:     64,
	}
}

// fileConfig is the YAML shape of a config file. Durations are Go duration
// strings; unset fields keep their current value.
type fileConfig struct {
	SocketPath         string `yaml:"socket_path"`
	DBPath             string `yaml:"db_path"`
	OptimisticRollback string `yaml:"optimistic_rollback"`
	GatherCacheTTL     string `yaml:"gather_cache_ttl"`
	JournalPayloadTTL  string `yaml:"journal_payload_ttl"`
	JournalRetention   string `yaml:"journal_retention"`
	RetentionInterval  string `yaml:"retention_interval"`
	ReadTimeout        string `yaml:"read_timeout"`
	WriteTimeout       string `yaml:"write_timeout"`
	PingInterval       string `yaml:"ping_interval"`
	MaxMessageBytes    *int   `yaml:"max_message_bytes"`
	ValidateMessages   *bool  `yaml:"validate_messages"`
	SideChannelBuffer  *int   `yaml:"side_channel_buffer"`
	MaxRenderDepth     *int   `yaml:"max_render_depth"`
}

// Load returns DefaultConfig overlaid with the YAML file at path. A missing
// file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := cfg.Overlay(data); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Overlay applies YAML settings on top of cfg.
func (cfg *Config) Overlay(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}
	if fc.SocketPath != "" {
		cfg.SocketPath = fc.SocketPath
	}
	if fc.DBPath != "" {
		cfg.DBPath = fc.DBPath
	}
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"optimistic_rollback", fc.OptimisticRollback, &cfg.OptimisticRollback},
		{"gather_cache_ttl", fc.GatherCacheTTL, &cfg.GatherCacheTTL},
		{"journal_payload_ttl", fc.JournalPayloadTTL, &cfg.JournalPayloadTTL},
		{"journal_retention", fc.JournalRetention, &cfg.JournalRetention},
		{"retention_interval", fc.RetentionInterval, &cfg.RetentionInterval},
		{"read_timeout", fc.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", fc.WriteTimeout, &cfg.WriteTimeout},
		{"ping_interval", fc.PingInterval, &cfg.PingInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
		*d.dst = v
	}
	if fc.MaxMessageBytes != nil {
		cfg.MaxMessageBytes = *fc.MaxMessageBytes
	}
	if fc.ValidateMessages != nil {
		cfg.ValidateMessages = *fc.ValidateMessages
	}
	if fc.SideChannelBuffer != nil {
		cfg.SideChannelBuffer = *fc.SideChannelBuffer
	}
	if fc.MaxRenderDepth != nil {
		cfg.MaxRenderDepth = *fc.MaxRenderDepth
	}
	return nil
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "a2ui", "a2uid.yaml")
}

func defaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "a2ui", "a2uid.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".a2uid.sock"
	}
	return filepath.Join(home, ".local", "state", "a2ui", "a2uid.sock")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "a2ui.db"
	}
	return filepath.Join(home, ".local", "state", "a2ui", "state.db")
}
