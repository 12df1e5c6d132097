package service

import (
	"context"

	"ghafacts/internal/modkit/repokit"
	"ghafacts/internal/platform/logger"
	"ghafacts/internal/services/rollup/domain"
	"ghafacts/internal/services/rollup/guardrails"
)

// Ledger and stats writes are bookkeeping: failures are logged and the run goes on.

func (s *Service) ledgerEnabled() bool { return s.DB != nil && s.Ledger != nil }

func (s *Service) startRun(ctx context.Context, runID string, job domain.Job) {
	if !s.ledgerEnabled() {
		return
	}
	s.ledgerTx(ctx, "start run", func(l domain.LedgerRepo) error {
		return l.StartRun(ctx, runID, job)
	})
}

func (s *Service) recordChunk(ctx context.Context, runID string, c domain.Chunk) {
	if !s.ledgerEnabled() {
		return
	}
	s.ledgerTx(ctx, "record chunk", func(l domain.LedgerRepo) error {
		return l.RecordChunk(ctx, runID, c)
	})
}

func (s *Service) finishRun(ctx context.Context, runID string, rep domain.RunReport, errText string) {
	if !s.ledgerEnabled() {
		return
	}
	s.ledgerTx(ctx, "finish run", func(l domain.LedgerRepo) error {
		return l.FinishRun(ctx, runID, rep, errText)
	})
}

func (s *Service) ledgerTx(ctx context.Context, what string, fn func(domain.LedgerRepo) error) {
	dbCtx, cancel := guardrails.ForDB(ctx, s.Cfg.Timeouts)
	defer cancel()
	err := repokit.WithTx(dbCtx, s.DB, func(q repokit.Queryer) error {
		return fn(repokit.MustBind(s.Ledger, q))
	})
	if err != nil {
		logger.C(ctx).Error().Err(err).Str("op", what).Msg("rollup: ledger write failed")
	}
}

func (s *Service) writeStats(ctx context.Context, stats []domain.FileStat) {
	if s.Stats == nil || len(stats) == 0 {
		return
	}
	dbCtx, cancel := guardrails.ForDB(ctx, s.Cfg.Timeouts)
	defer cancel()
	if err := s.Stats.WriteFileStats(dbCtx, logger.RunID(ctx), stats); err != nil {
		logger.C(ctx).Error().Err(err).Int("files", len(stats)).Msg("rollup: file stats write failed")
	}
}
