package persistence

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/casedesk/case-service/internal/config"
	"github.com/casedesk/case-service/internal/repository"
	"github.com/casedesk/case-service/internal/tabular"
	"github.com/casedesk/case-service/internal/throttle"
)

// Store is an opened case store backend.
type Store struct {
	Backend      string
	Repositories *repository.Repositories
	// Memory is set only for the memory backend.
	Memory *repository.MemoryState

	postgres *Postgres
	tabular  *tabular.Client
}

// OpenStore builds the repositories for the configured backend.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		pg, err := NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Postgres.RunMigrations {
			if err := RunMigrations(ctx, pg.Pool, Migrations(), logger); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return &Store{
			Backend:      cfg.Store.Backend,
			Repositories: repository.NewPostgresRepositories(pg.Pool),
			postgres:     pg,
		}, nil
	case config.StoreBackendREST:
		client, err := tabular.NewClient(tabular.Options{
			BaseURL:    cfg.Tabular.BaseURL,
			APIKey:     cfg.Tabular.APIKey,
			HTTPClient: &http.Client{Timeout: tabularTimeout(cfg.Tabular)},
			MaxRetries: cfg.Tabular.MaxRetries,
			UserAgent:  cfg.App.Name + "/" + cfg.App.Version,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("using tabular store", zap.String("base_url", cfg.Tabular.BaseURL))
		return &Store{
			Backend:      cfg.Store.Backend,
			Repositories: repository.NewRestRepositories(client),
			tabular:      client,
		}, nil
	case config.StoreBackendMemory:
		repos, state := repository.NewMemoryRepositories()
		logger.Warn("using in-memory store; data is lost on exit")
		return &Store{Backend: cfg.Store.Backend, Repositories: repos, Memory: state}, nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

// Ping checks the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	switch {
	case s.postgres != nil:
		return s.postgres.Ping(ctx)
	case s.tabular != nil:
		return s.tabular.Ping(ctx)
	default:
		return nil
	}
}

// Close releases backend resources.
func (s *Store) Close() {
	if s != nil {
		s.postgres.Close()
	}
}

// NewMergeThrottle picks the merge lease implementation. The Redis client is
// only used when the redis backend is configured.
func NewMergeThrottle(cfg config.MergeConfig, r *Redis) throttle.Throttle {
	if cfg.ThrottleBackend == config.ThrottleBackendRedis && r != nil {
		return throttle.NewRedis(r.Client, cfg.Cooldown())
	}
	return throttle.NewMemory(cfg.Cooldown())
}

func tabularTimeout(cfg config.TabularConfig) time.Duration {
	if cfg.TimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}
