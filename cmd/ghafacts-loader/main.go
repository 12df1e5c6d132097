package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ghafacts/internal/adapters/objstore"
	"ghafacts/internal/core/version"
	"ghafacts/internal/modkit/repokit"
	"ghafacts/internal/platform/config"
	"ghafacts/internal/platform/logger"
	"ghafacts/internal/platform/metrics"
	ophttp "ghafacts/internal/platform/net/http"
	"ghafacts/internal/platform/store"
	"ghafacts/internal/services/loader"
	"ghafacts/internal/services/rollup/domain"
)

func main() {
	_ = godotenv.Load() // .env is optional

	root := config.New()
	var (
		fMode    = flag.String("mode", root.MayString("GHA_MODE", string(domain.ModeCommitters)), "committer-count | repo-mapping")
		fYear    = flag.Int("year", root.MayInt("GHA_YEAR", 0), "year directory to load")
		fBucket  = flag.String("bucket", root.MayString("GHA_DEST_BUCKET", ""), "bucket holding exported chunks")
		fPrefix  = flag.String("prefix", root.MayString("GHA_DEST_PREFIX", "rollups"), "key prefix of exported chunks")
		fSchema  = flag.Bool("schema", true, "create target tables before loading")
		fVersion = flag.Bool("version", false, "print build information and exit")
	)
	flag.Parse()

	bi := version.Info("ghafacts-loader")
	if *fVersion {
		_ = json.NewEncoder(os.Stdout).Encode(bi)
		return
	}

	l := logger.Get()
	l.Info().Str("version", bi.Version).Str("commit", bi.Short()).Msg("ghafacts-loader starting")
	mode, err := domain.ParseMode(*fMode)
	if err != nil {
		l.Fatal().Err(err).Msg("bad -mode")
	}
	if *fYear == 0 || *fBucket == "" {
		l.Fatal().Msg("-year and -bucket are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the loader needs postgres
	root.Prefix("SERVICE_PGSQL_").Require("DBURL")
	st, err := store.Open(ctx, store.ConfigFromEnv("loader"), store.WithLogger(*l))
	if err != nil {
		l.Fatal().Err(err).Msg("store.Open failed")
	}
	defer func() { _ = st.Close(context.Background()) }()
	repokit.MustGuard(ctx, st)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if addr := root.MayString("METRICS_ADDR", ""); addr != "" {
		srv := ophttp.NewServer(addr, ophttp.Ops(reg, st.Guard))
		if err := srv.Start(); err != nil {
			l.Fatal().Err(err).Msg("ops server failed to start")
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	client, err := objstore.New(objstore.ConfigFromEnv(root))
	if err != nil {
		l.Fatal().Err(err).Msg("object store client failed")
	}

	lc := root.Prefix("CORE_LOADER_")
	ld := loader.New(client, st.PG, loader.Config{
		Bucket:           *fBucket,
		Prefix:           *fPrefix,
		Mode:             mode,
		Year:             *fYear,
		ApplySchema:      *fSchema,
		MaxRetries:       lc.MayInt("RETRIES", 3),
		RetryBase:        lc.MayDuration("RETRY_BASE", 0),
		StatementTimeout: lc.MayDuration("STATEMENT_TIMEOUT", 0),
	}, m)

	rep, err := ld.Run(ctx)
	if err != nil {
		l.Fatal().Err(err).Msg("load failed")
	}
	if rep.Failed > 0 {
		l.Error().Int("failed", rep.Failed).Msg("some chunks failed to load")
		stop()
		os.Exit(2)
	}
}
