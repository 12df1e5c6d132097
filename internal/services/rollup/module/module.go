// Package module provides the rollup module implementation
package module

import (
	"context"

	"ghafacts/internal/modkit"
	"ghafacts/internal/platform/logger"
	"ghafacts/internal/services/rollup/aggregate"
	"ghafacts/internal/services/rollup/domain"
	"ghafacts/internal/services/rollup/guardrails"
	"ghafacts/internal/services/rollup/ingest"
	"ghafacts/internal/services/rollup/repo"
	"ghafacts/internal/services/rollup/service"
)

// Ports defines the rollup module ports
type Ports struct {
	Runner domain.RunnerPort
}

// Module implements the rollup module
type Module struct {
	deps  modkit.Deps
	ports Ports
	stats *repo.CH
}

// New constructs the rollup module from deps.Cfg. The ledger, leases and file
// stats are wired only when the matching backend is present in deps
func New(deps modkit.Deps, st domain.ObjectStore, factory domain.StoreFactory) (*Module, error) {
	opts := FromConfig(deps.Cfg)
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	timeouts := guardrails.Timeouts{Fetch: opts.FetchTimeout, DB: opts.DBTimeout}
	svc := service.New(st, factory, service.Config{
		Ingest:     ingest.Config{Workers: opts.Workers, BatchFiles: opts.BatchFiles},
		QueueDepth: opts.QueueDepth,
		Aggregate: aggregate.Config{
			CompactEvery:  opts.CompactEvery,
			Ceiling:       opts.Ceiling,
			ConvergeDelta: opts.ConvergeDelta,
		},
		RepoBatch:         opts.RepoBatch,
		CommitBatch:       opts.CommitBatch,
		StatementsPerFile: opts.StatementsPerFile,
		FetchRetryDelay:   opts.FetchRetryDelay,
		UploadDelays:      opts.UploadDelays,
		FreshClientFrom:   opts.FreshClientFrom,
		Timeouts:          timeouts,
	}, deps.MetricsOrNop())

	m := &Module{deps: deps}
	if deps.PG != nil {
		svc.WithLedger(deps.PG, repo.NewPG())
		if opts.Leases {
			svc.WithLease(guardrails.MakeTableLease(deps.PG, timeouts))
		}
	}
	if deps.CH != nil {
		m.stats = repo.NewCH(deps.CH)
		svc.WithStats(m.stats)
	}
	m.ports = Ports{Runner: svc}
	return m, nil
}

// Bootstrap creates the ledger and stats tables on the configured backends
func (m *Module) Bootstrap(ctx context.Context) error {
	log := logger.Named("rollup")
	if m.deps.PG != nil {
		if err := repo.EnsureSchema(ctx, m.deps.PG); err != nil {
			return err
		}
		log.Debug().Msg("rollup: ledger schema ready")
	}
	if m.stats != nil {
		if err := m.stats.EnsureTable(ctx); err != nil {
			return err
		}
		log.Debug().Msg("rollup: file stats table ready")
	}
	return nil
}

// Name returns the module name
func (m *Module) Name() string { return "rollup" }

// Ports returns the module ports
func (m *Module) Ports() Ports { return m.ports }
