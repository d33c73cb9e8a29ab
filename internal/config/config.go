// Package config loads and validates watcher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	Mirrors  MirrorsConfig  `mapstructure:"mirrors"`
	Race     RaceConfig     `mapstructure:"race"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Merge    MergeConfig    `mapstructure:"merge"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Accounts []string       `mapstructure:"accounts"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
	// APIKey, when set, is required on /v1 routes via X-API-Key or ?api_key=.
	APIKey string `mapstructure:"api_key"`
}

// MirrorsConfig lists where feed mirrors come from.
type MirrorsConfig struct {
	Static       []string      `mapstructure:"static"`
	DirectoryURL string        `mapstructure:"directory_url"`
	DirectoryTTL time.Duration `mapstructure:"directory_ttl"`
	FeedPath     string        `mapstructure:"feed_path"`
	ItemSelector string        `mapstructure:"item_selector"`
}

// RaceConfig bounds one mirror race.
type RaceConfig struct {
	Deadline    time.Duration `mapstructure:"deadline"`
	Concurrency int           `mapstructure:"concurrency"`
	Retries     int           `mapstructure:"retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
}

// HTTPConfig configures the fetch transport and per-host pacing.
type HTTPConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxConnsPerHost   int           `mapstructure:"max_conns_per_host"`
	UserAgent         string        `mapstructure:"user_agent"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// MergeConfig tunes the merge-dedup pass.
type MergeConfig struct {
	Capacity          int      `mapstructure:"capacity"`
	FreeToPlayMarkers []string `mapstructure:"free_to_play_markers"`
	DLCMarkers        []string `mapstructure:"dlc_markers"`
}

// ScheduleConfig sets how often collection cycles run.
type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// SnapshotConfig selects and configures the dedup snapshot backend.
type SnapshotConfig struct {
	Backend       string `mapstructure:"backend"`
	Dir           string `mapstructure:"dir"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	GCSPrefix     string `mapstructure:"gcs_prefix"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
	LevelDBPath   string `mapstructure:"leveldb_path"`
}

// PubSubConfig enables announcing activations on a Pub/Sub topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Snapshot backend names.
const (
	BackendLocal    = "local"
	BackendMemory   = "memory"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendLevelDB  = "leveldb"
)

// Load builds a Config from defaults, an optional file, and FREEGAMES_* environment
// variables. With an empty path, freegames.{yaml,json,toml} is looked up in the
// working directory and $HOME/.freegames; not finding one is fine.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FREEGAMES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("freegames")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.freegames")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("mirrors.static", []string{})
	v.SetDefault("mirrors.directory_url", "")
	v.SetDefault("mirrors.directory_ttl", 10*time.Minute)
	v.SetDefault("mirrors.feed_path", "/")
	v.SetDefault("mirrors.item_selector", "article")
	v.SetDefault("race.deadline", 60*time.Second)
	v.SetDefault("race.concurrency", 4)
	v.SetDefault("race.retries", 3)
	v.SetDefault("race.backoff_base", time.Second)
	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("http.max_conns_per_host", 2)
	v.SetDefault("http.user_agent", "freegame-watcher/0.1")
	v.SetDefault("http.max_body_bytes", 4<<20)
	v.SetDefault("http.requests_per_second", 1.0)
	v.SetDefault("http.burst", 2)
	v.SetDefault("merge.capacity", 256)
	v.SetDefault("merge.free_to_play_markers", []string{"permanently free", "free to play", "free-to-play"})
	v.SetDefault("merge.dlc_markers", []string{"free dlc"})
	v.SetDefault("schedule.interval", 30*time.Minute)
	v.SetDefault("accounts", []string{})
	v.SetDefault("snapshot.backend", BackendLocal)
	v.SetDefault("snapshot.dir", "snapshots")
	v.SetDefault("snapshot.gcs_bucket", "")
	v.SetDefault("snapshot.gcs_prefix", "")
	v.SetDefault("snapshot.postgres_dsn", "")
	v.SetDefault("snapshot.postgres_table", "dedup_snapshots")
	v.SetDefault("snapshot.redis_addr", "")
	v.SetDefault("snapshot.redis_prefix", "freegames:snapshot:")
	v.SetDefault("snapshot.leveldb_path", "snapshots.ldb")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Race.Deadline <= 0 {
		return fmt.Errorf("race.deadline must be > 0")
	}
	if c.Race.Concurrency <= 0 {
		return fmt.Errorf("race.concurrency must be > 0")
	}
	if c.Race.BackoffBase <= 0 {
		return fmt.Errorf("race.backoff_base must be > 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be > 0")
	}
	if c.Merge.Capacity <= 0 {
		return fmt.Errorf("merge.capacity must be > 0")
	}
	if c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be > 0")
	}
	if len(c.Mirrors.Static) == 0 && c.Mirrors.DirectoryURL == "" {
		return fmt.Errorf("mirrors.static or mirrors.directory_url must be set")
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	for _, a := range c.Accounts {
		if strings.TrimSpace(a) == "" || strings.ContainsAny(a, `/\`) {
			return fmt.Errorf("invalid account name %q", a)
		}
		if _, dup := seen[a]; dup {
			return fmt.Errorf("duplicate account %q", a)
		}
		seen[a] = struct{}{}
	}
	return c.Snapshot.validate()
}

func (s SnapshotConfig) validate() error {
	switch s.Backend {
	case BackendLocal:
		if s.Dir == "" {
			return fmt.Errorf("snapshot.dir is required for the local backend")
		}
	case BackendMemory:
	case BackendGCS:
		if s.GCSBucket == "" {
			return fmt.Errorf("snapshot.gcs_bucket is required for the gcs backend")
		}
	case BackendPostgres:
		if s.PostgresDSN == "" {
			return fmt.Errorf("snapshot.postgres_dsn is required for the postgres backend")
		}
	case BackendRedis:
		if s.RedisAddr == "" {
			return fmt.Errorf("snapshot.redis_addr is required for the redis backend")
		}
	case BackendLevelDB:
		if s.LevelDBPath == "" {
			return fmt.Errorf("snapshot.leveldb_path is required for the leveldb backend")
		}
	default:
		return fmt.Errorf("unknown snapshot.backend %q", s.Backend)
	}
	return nil
}
