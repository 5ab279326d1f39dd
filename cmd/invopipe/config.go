package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/invopipe/invopipe"
	"github.com/invopipe/invopipe/store"
	natskvstore "github.com/invopipe/invopipe/store/natskv"
	pgstore "github.com/invopipe/invopipe/store/postgres"
	redisstore "github.com/invopipe/invopipe/store/redis"
	sqlitestore "github.com/invopipe/invopipe/store/sqlite"
)

// duration decodes YAML values like "30s" into a time.Duration.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %w", raw, err)
	}
	*d = duration(parsed)
	return nil
}

// config is the on-disk YAML configuration of the CLI.
type config struct {
	Store struct {
		// Backend selects the checkpoint store: memory, sqlite, postgres,
		// redis, or nats.
		Backend string `yaml:"backend"`

		SQLitePath  string `yaml:"sqlite_path"`
		PostgresURL string `yaml:"postgres_url"`
		RedisAddr   string `yaml:"redis_addr"`
		RedisPrefix string `yaml:"redis_prefix"`
		NATSURL     string `yaml:"nats_url"`
		NATSBucket  string `yaml:"nats_bucket"`
	} `yaml:"store"`

	Pipeline struct {
		MaxRetries        int      `yaml:"max_retries"`
		StageTimeout      duration `yaml:"stage_timeout"`
		TopologyPath      string   `yaml:"topology_path"`
		PatchThreshold    float64  `yaml:"patch_threshold"`
		ReviewThreshold   float64  `yaml:"review_threshold"`
		EscalateThreshold float64  `yaml:"escalate_threshold"`
	} `yaml:"pipeline"`

	Run struct {
		// Concurrency bounds how many workflows run in parallel.
		Concurrency int `yaml:"concurrency"`
		// OutputDir receives the exported records.
		OutputDir string `yaml:"output_dir"`
	} `yaml:"run"`

	// MetricsAddr, when set, serves Prometheus metrics on /metrics while a
	// run is in progress.
	MetricsAddr string `yaml:"metrics_addr"`
}

// loadConfig reads the YAML config at path, or returns defaults when path is
// empty.
func loadConfig(path string) (*config, error) {
	cfg := &config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sqlite"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "invopipe.db"
	}
	if cfg.Pipeline.MaxRetries <= 0 {
		cfg.Pipeline.MaxRetries = 3
	}
	if cfg.Run.Concurrency <= 0 {
		cfg.Run.Concurrency = 4
	}
	if cfg.Run.OutputDir == "" {
		cfg.Run.OutputDir = "exported"
	}
	return cfg, nil
}

// openStore builds the checkpoint store the config selects.
func openStore(ctx context.Context, cfg *config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return sqlitestore.Open(ctx, cfg.Store.SQLitePath)
	case "postgres":
		if cfg.Store.PostgresURL == "" {
			return nil, fmt.Errorf("store backend 'postgres' requires postgres_url")
		}
		return pgstore.Connect(ctx, cfg.Store.PostgresURL)
	case "redis":
		if cfg.Store.RedisAddr == "" {
			return nil, fmt.Errorf("store backend 'redis' requires redis_addr")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redisstore.New(client, cfg.Store.RedisPrefix), nil
	case "nats":
		if cfg.Store.NATSURL == "" {
			return nil, fmt.Errorf("store backend 'nats' requires nats_url")
		}
		return natskvstore.Connect(ctx, cfg.Store.NATSURL, cfg.Store.NATSBucket)
	default:
		return nil, fmt.Errorf("unknown store backend '%s'", cfg.Store.Backend)
	}
}

// loadTopology resolves the topology from the config, falling back to the
// built-in pipeline.
func loadTopology(cfg *config) (*invopipe.Topology, error) {
	if cfg.Pipeline.TopologyPath == "" {
		return invopipe.DefaultTopology(), nil
	}
	return invopipe.LoadTopology(cfg.Pipeline.TopologyPath)
}
