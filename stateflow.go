// Package stateflow provides a top-level convenience entry point that
// assembles the full stack with minimal boilerplate: a durable KV store,
// the versioned state store, the change notifier, and the agent
// coordinator, all wired together.
//
// Usage:
//
//	sys, err := stateflow.New(config.DefaultConfig(), myExecutor)
//	version, err := sys.Store().Write(ctx, workflowID, state, author, "")
//	report, err := sys.Coordinator().Assign(ctx, state)
package stateflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/agent"
	"github.com/BaSui01/stateflow/config"
	"github.com/BaSui01/stateflow/coordinator"
	"github.com/BaSui01/stateflow/internal/database"
	"github.com/BaSui01/stateflow/internal/metrics"
	"github.com/BaSui01/stateflow/persistence"
	"github.com/BaSui01/stateflow/state"
)

// System is the assembled StateFlow stack.
type System struct {
	cfg    *config.Config
	logger *zap.Logger

	kv    persistence.KVStore
	cold  persistence.ObjectStore
	pool  *database.PoolManager
	store *state.VersionedStore

	notifier *state.Notifier
	coord    *coordinator.Coordinator
	hub      *coordinator.ChannelHub
}

// Option configures the assembled system.
type Option func(*systemOptions)

type systemOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithLogger overrides the logger built from the config's log section.
func WithLogger(logger *zap.Logger) Option {
	return func(o *systemOptions) { o.logger = logger }
}

// WithRegisterer overrides the Prometheus registerer. Pass a fresh
// registry in tests to avoid duplicate registration.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *systemOptions) { o.registerer = reg }
}

// New assembles a System from configuration. Spawned agents run tasks
// through executor.
func New(cfg *config.Config, executor agent.TaskExecutor, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &systemOptions{
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = config.BuildLogger(cfg.Log)
	}

	collector := metrics.NewCollector("stateflow", o.registerer, logger)

	sys := &System{cfg: cfg, logger: logger}
	if err := sys.openStores(); err != nil {
		return nil, err
	}

	sys.coord = coordinator.NewCoordinator(executor,
		coordinator.WithMaxAgents(cfg.Coordinator.MaxAgents),
		coordinator.WithStore(sys.kv),
		coordinator.WithCollector(collector),
		coordinator.WithLogger(logger),
	)
	sys.hub = coordinator.NewChannelHub(sys.coord, collector, logger)
	sys.notifier = state.NewNotifier(sys.hub, collector, logger)

	storeOpts := []state.Option{
		state.WithNotifier(sys.notifier),
		state.WithCollector(collector),
		state.WithLogger(logger),
		state.WithArchivePolicy(state.ArchivePolicy{
			MaxVersions:        cfg.Archive.MaxVersions,
			RetentionDays:      cfg.Archive.RetentionDays,
			ColdStorageEnabled: cfg.Archive.ColdStorageEnabled,
		}),
	}
	if sys.cold != nil {
		storeOpts = append(storeOpts, state.WithColdStorage(sys.cold))
	}
	sys.store = state.NewVersionedStore(sys.kv, storeOpts...)

	logger.Info("stateflow system assembled",
		zap.String("store_type", cfg.Store.Type),
		zap.Int("max_agents", cfg.Coordinator.MaxAgents),
		zap.Bool("cold_storage", sys.cold != nil),
	)
	return sys, nil
}

// openStores builds the KV backend and optional cold object store from
// the config.
func (s *System) openStores() error {
	switch s.cfg.Store.Type {
	case "gorm":
		pool, err := database.Open(s.cfg.Database, s.logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		kv, err := persistence.NewGormKVStore(pool.DB())
		if err != nil {
			pool.Close()
			return fmt.Errorf("create gorm kv store: %w", err)
		}
		s.pool = pool
		s.kv = kv
	default:
		kv, err := persistence.NewKVStore(persistence.StoreConfig{
			Type:    persistence.StoreType(s.cfg.Store.Type),
			BaseDir: s.cfg.Store.BaseDir,
			Redis: persistence.RedisStoreConfig{
				Addr:      s.cfg.Redis.Addr,
				Password:  s.cfg.Redis.Password,
				DB:        s.cfg.Redis.DB,
				PoolSize:  s.cfg.Redis.PoolSize,
				KeyPrefix: s.cfg.Store.KeyPrefix,
			},
		})
		if err != nil {
			return fmt.Errorf("create kv store: %w", err)
		}
		s.kv = kv
	}

	if s.cfg.Store.ColdDir != "" {
		cold, err := persistence.NewFileObjectStore(s.cfg.Store.ColdDir)
		if err != nil {
			return fmt.Errorf("create cold storage: %w", err)
		}
		s.cold = cold
	}
	return nil
}

// Store returns the versioned state store.
func (s *System) Store() *state.VersionedStore {
	return s.store
}

// Coordinator returns the agent coordinator.
func (s *System) Coordinator() *coordinator.Coordinator {
	return s.coord
}

// Notifier returns the change notifier.
func (s *System) Notifier() *state.Notifier {
	return s.notifier
}

// Archive runs one archive pass over all workflows.
func (s *System) Archive(ctx context.Context) (int, error) {
	return s.store.Archive(ctx)
}

// Close terminates all agents and releases storage resources.
func (s *System) Close(ctx context.Context) error {
	var errs []error
	for _, agentID := range s.coord.Agents() {
		if err := s.coord.Terminate(ctx, agentID); err != nil {
			errs = append(errs, err)
		}
	}
	if s.kv != nil {
		if err := s.kv.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.cold != nil {
		if err := s.cold.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
