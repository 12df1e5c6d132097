package repo

import (
	"context"

	"ghafacts/internal/platform/store"
	"ghafacts/internal/services/rollup/domain"
)

// FileStatsTable is the clickhouse table receiving per-file outcomes
const FileStatsTable = "ingest_file_stats"

// FileStatsDDL creates FileStatsTable when missing
const FileStatsDDL = `
CREATE TABLE IF NOT EXISTS ingest_file_stats (
  run_id             String,
  object_key         String,
  status             LowCardinality(String),
  attempts           UInt8,
  events             UInt64,
  malformed          UInt64,
  records            UInt64,
  bytes_uncompressed UInt64,
  fetch_ms           UInt32,
  read_ms            UInt32,
  finished_at        DateTime64(3, 'UTC')
) ENGINE = MergeTree
ORDER BY (run_id, object_key)`

// CH writes file stats to clickhouse
type CH struct{ ch store.Clickhouse }

// NewCH returns a FileStatsSink over a clickhouse seam
func NewCH(c store.Clickhouse) *CH { return &CH{ch: c} }

var _ domain.FileStatsSink = (*CH)(nil)

// EnsureTable creates the stats table when missing
func (s *CH) EnsureTable(ctx context.Context) error {
	return s.ch.Exec(ctx, FileStatsDDL)
}

// WriteFileStats inserts stats as one batch; empty input is a no-op
func (s *CH) WriteFileStats(ctx context.Context, runID string, stats []domain.FileStat) error {
	if len(stats) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(stats))
	for _, st := range stats {
		rows = append(rows, []any{
			runID,
			st.Key,
			st.Status,
			uint8(min(st.Attempts, 255)),
			uint64(max(st.Events, 0)),
			uint64(max(st.Malformed, 0)),
			uint64(max(st.Records, 0)),
			uint64(max(st.BytesUncompressed, 0)),
			uint32(max(st.FetchMS, 0)),
			uint32(max(st.ReadMS, 0)),
			st.FinishedAt.UTC(),
		})
	}
	return s.ch.Insert(ctx, FileStatsTable, rows)
}
