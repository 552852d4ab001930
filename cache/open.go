package cache

import (
	"context"
	"fmt"
)

// Store kinds accepted by Open.
const (
	KindMemory   = "memory"
	KindFile     = "file"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindRedis    = "redis"
	KindMinio    = "minio"
)

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

// Config selects and configures a store backend.
type Config struct {
	Kind string `yaml:"kind" env:"KIND"`
	// Path is the directory of a file store or the database file of a sqlite store.
	Path  string      `yaml:"path" env:"PATH"`
	DSN   string      `yaml:"dsn" env:"DSN"`
	Redis RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
	Minio MinioConfig `yaml:"minio" envPrefix:"MINIO_"`
}

// Open creates the configured store. An empty kind is a memory store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Kind {
	case "", KindMemory:
		return NewMemStore(), nil
	case KindFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file store requires a path")
		}
		return NewFileStore(cfg.Path)
	case KindSQLite:
		return NewSQLiteStore(cfg.Path)
	case KindPostgres:
		return NewPostgresStore(ctx, cfg.DSN)
	case KindRedis:
		return NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
	case KindMinio:
		return NewMinioStore(ctx, cfg.Minio)
	}
	return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
}
