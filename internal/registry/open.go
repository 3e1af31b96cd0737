package registry

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config selects and configures a registry backend.
type Config struct {
	Backend  string
	Path     string
	Postgres PostgresConfig
	Redis    RedisConfig
}

// Open creates the configured registry. An empty backend selects the file
// registry.
func Open(ctx context.Context, cfg Config) (Registry, error) {
	switch cfg.Backend {
	case "", BackendFile:
		return NewFileRegistry(cfg.Path)
	case BackendPostgres:
		return NewPostgresRegistry(ctx, cfg.Postgres)
	case BackendRedis:
		return NewRedisRegistry(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Backend)
	}
}
