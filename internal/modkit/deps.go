// Package modkit provides module wiring and core deps
package modkit

import (
	"ghafacts/internal/modkit/repokit"
	"ghafacts/internal/platform/config"
	"ghafacts/internal/platform/logger"
	"ghafacts/internal/platform/metrics"
	"ghafacts/internal/platform/store"
)

// Deps holds core dependencies passed to modules
// this is wiring only and does not introduce new abstractions
type Deps struct {
	Log     logger.Logger
	Cfg     config.Conf
	PG      repokit.TxRunner
	CH      store.Clickhouse
	Metrics *metrics.Metrics
}

// FromStore fills the storage seams from an opened Store
func (d Deps) FromStore(s *store.Store) Deps {
	if s == nil {
		return d
	}
	d.PG = s.PG
	d.CH = s.CH
	return d
}

// MetricsOrNop returns d.Metrics, or collectors on a private registry when unset
func (d Deps) MetricsOrNop() *metrics.Metrics {
	if d.Metrics != nil {
		return d.Metrics
	}
	return metrics.Nop()
}
