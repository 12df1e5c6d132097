package module

import (
	"time"

	"ghafacts/internal/platform/config"
	"ghafacts/internal/platform/validate"
	"ghafacts/internal/services/rollup/domain"
	"ghafacts/internal/services/rollup/export"
)

// Options holds the rollup tunables. env tags name the CORE_ROLLUP_ key in validation messages
type Options struct {
	Workers    int `env:"CORE_ROLLUP_WORKERS" validate:"min=1,max=64"`
	BatchFiles int `env:"CORE_ROLLUP_BATCH_FILES" validate:"min=1,max=64"`
	QueueDepth int `env:"CORE_ROLLUP_QUEUE_DEPTH" validate:"min=1"`

	CompactEvery  int `env:"CORE_ROLLUP_COMPACT_EVERY" validate:"min=1"`
	Ceiling       int `env:"CORE_ROLLUP_CEILING" validate:"min=1"`
	ConvergeDelta int `env:"CORE_ROLLUP_CONVERGE_DELTA" validate:"min=0"`

	RepoBatch         int `env:"CORE_ROLLUP_REPO_BATCH" validate:"min=1,max=1000"`
	CommitBatch       int `env:"CORE_ROLLUP_COMMIT_BATCH" validate:"min=1,max=1000"`
	StatementsPerFile int `env:"CORE_ROLLUP_STATEMENTS_PER_FILE" validate:"min=1"`

	FetchRetryDelay time.Duration   `env:"CORE_ROLLUP_FETCH_RETRY_DELAY" validate:"min=0"`
	UploadDelays    []time.Duration `env:"CORE_ROLLUP_UPLOAD_DELAYS" validate:"min=1,max=10"`
	FreshClientFrom int             `env:"CORE_ROLLUP_FRESH_CLIENT_FROM" validate:"min=0"`

	FetchTimeout time.Duration `env:"CORE_ROLLUP_FETCH_TIMEOUT" validate:"min=0"`
	DBTimeout    time.Duration `env:"CORE_ROLLUP_DB_TIMEOUT" validate:"min=0"`
	Leases       bool          `env:"CORE_ROLLUP_LEASES"`
}

// FromConfig reads the rollup options from config with CORE_ROLLUP_ prefix
func FromConfig(cfg config.Conf) Options {
	r := cfg.Prefix("CORE_ROLLUP_")
	compactEvery := r.MayInt("COMPACT_EVERY", 2_000_000)
	return Options{
		Workers:           r.MayInt("WORKERS", 2),
		BatchFiles:        r.MayInt("BATCH_FILES", 8),
		QueueDepth:        r.MayInt("QUEUE_DEPTH", 64),
		CompactEvery:      compactEvery,
		Ceiling:           r.MayInt("CEILING", 40_000_000),
		ConvergeDelta:     r.MayInt("CONVERGE_DELTA", compactEvery/100),
		RepoBatch:         r.MayInt("REPO_BATCH", 5),
		CommitBatch:       r.MayInt("COMMIT_BATCH", 20),
		StatementsPerFile: r.MayInt("STATEMENTS_PER_FILE", 10_000),
		FetchRetryDelay:   r.MayDuration("FETCH_RETRY_DELAY", 50*time.Millisecond),
		UploadDelays:      r.MayDurations("UPLOAD_DELAYS", export.DefaultDelays),
		FreshClientFrom:   r.MayInt("FRESH_CLIENT_FROM", 3),
		FetchTimeout:      r.MayDuration("FETCH_TIMEOUT", 10*time.Minute),
		DBTimeout:         r.MayDuration("DB_TIMEOUT", 30*time.Second),
		Leases:            r.MayBool("LEASES", true),
	}
}

// Validate reports the first unusable option
func (o Options) Validate() error { return validate.Struct(o) }

// JobOptions is one run's parameters as read from GHA_ keys and overridden by flags
type JobOptions struct {
	Mode         string `env:"GHA_MODE" validate:"required,oneof=committer-count repo-mapping"`
	Year         int    `env:"GHA_YEAR" validate:"min=2011,max=2100"`
	Hours        int    `env:"GHA_HOURS" validate:"min=1"`
	DryRun       bool   `env:"GHA_DRY_RUN"`
	Obfuscate    bool   `env:"GHA_OBFUSCATE"`
	SourceBucket string `env:"GHA_SOURCE_BUCKET" validate:"required,bucket"`
	DestBucket   string `env:"GHA_DEST_BUCKET" validate:"required,bucket"`
	DestPrefix   string `env:"GHA_DEST_PREFIX"`
	DestACL      string `env:"OBJSTORE_DEST_ACL"`
}

// JobFromConfig reads run parameters. Missing required keys are left zero for flags to fill
func JobFromConfig(cfg config.Conf) JobOptions {
	return JobOptions{
		Mode:         cfg.MayString("GHA_MODE", string(domain.ModeCommitters)),
		Year:         cfg.MayInt("GHA_YEAR", 0),
		Hours:        cfg.MayInt("GHA_HOURS", 0),
		DryRun:       cfg.MayBool("GHA_DRY_RUN", false),
		Obfuscate:    cfg.MayBool("GHA_OBFUSCATE", false),
		SourceBucket: cfg.MayString("GHA_SOURCE_BUCKET", ""),
		DestBucket:   cfg.MayString("GHA_DEST_BUCKET", ""),
		DestPrefix:   cfg.MayString("GHA_DEST_PREFIX", "rollups"),
		DestACL:      cfg.MayString("OBJSTORE_DEST_ACL", ""),
	}
}

// Job validates o and converts it to a domain job
func (o JobOptions) Job() (domain.Job, error) {
	mode, err := domain.ParseMode(o.Mode)
	if err == nil {
		o.Mode = string(mode)
	}
	if err := validate.Struct(o); err != nil {
		return domain.Job{}, err
	}
	return domain.Job{
		Mode:         mode,
		Year:         o.Year,
		Hours:        o.Hours,
		DryRun:       o.DryRun,
		Obfuscate:    o.Obfuscate,
		SourceBucket: o.SourceBucket,
		DestBucket:   o.DestBucket,
		DestPrefix:   o.DestPrefix,
		DestACL:      o.DestACL,
	}, nil
}
