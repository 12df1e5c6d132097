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
	"ghafacts/internal/modkit"
	"ghafacts/internal/platform/config"
	"ghafacts/internal/platform/logger"
	"ghafacts/internal/platform/metrics"
	ophttp "ghafacts/internal/platform/net/http"
	"ghafacts/internal/platform/store"
	"ghafacts/internal/services/rollup/domain"
	"ghafacts/internal/services/rollup/module"
)

func main() {
	_ = godotenv.Load() // .env is optional

	var (
		fCommitters = flag.Bool("committers", false, "produce per-(repository, contributor) committer facts")
		fRepos      = flag.Bool("repo-mapping", false, "produce the repository id to name mapping")
		fYear       = flag.Int("year", 0, "archive year to process (overrides GHA_YEAR)")
		fHours      = flag.Int("hours", 0, "number of hourly files to process (overrides GHA_HOURS)")
		fDryRun     = flag.Bool("dry-run", false, "compress but skip uploads")
		fObfuscate  = flag.Bool("obfuscate", false, "hash contributor logins in committer output")
		fVersion    = flag.Bool("version", false, "print build information and exit")
	)
	flag.Parse()

	bi := version.Info("ghafacts-rollup")
	if *fVersion {
		_ = json.NewEncoder(os.Stdout).Encode(bi)
		return
	}

	l := logger.Get()
	l.Info().Str("version", bi.Version).Str("commit", bi.Short()).Msg("ghafacts-rollup starting")
	root := config.New()

	if *fCommitters && *fRepos {
		l.Fatal().Msg("-committers and -repo-mapping are mutually exclusive")
	}
	jo := module.JobFromConfig(root)
	switch {
	case *fCommitters:
		jo.Mode = string(domain.ModeCommitters)
	case *fRepos:
		jo.Mode = string(domain.ModeRepoMapping)
	}
	if *fYear != 0 {
		jo.Year = *fYear
	}
	if *fHours != 0 {
		jo.Hours = *fHours
	}
	jo.DryRun = jo.DryRun || *fDryRun
	jo.Obfuscate = jo.Obfuscate || *fObfuscate
	job, err := jo.Job()
	if err != nil {
		l.Fatal().Err(err).Msg("invalid run configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.ConfigFromEnv("rollup"), store.WithLogger(*l))
	if err != nil {
		l.Fatal().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

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

	osCfg := objstore.ConfigFromEnv(root)
	client, err := objstore.New(osCfg)
	if err != nil {
		l.Fatal().Err(err).Msg("object store client failed")
	}
	var objects domain.ObjectStore = client
	if osCfg.CacheDir != "" {
		cached, err := objstore.NewCachedStore(client, osCfg.CacheDir, osCfg.CacheMaxBytes)
		if err != nil {
			l.Fatal().Err(err).Str("dir", osCfg.CacheDir).Msg("object cache unavailable")
		}
		objects = cached
	}

	deps := modkit.Deps{Cfg: root, Log: *l, Metrics: m}.FromStore(st)
	mod, err := module.New(deps, objects, objstore.Factory{Cfg: osCfg})
	if err != nil {
		l.Fatal().Err(err).Msg("invalid rollup options")
	}
	if err := mod.Bootstrap(ctx); err != nil {
		l.Fatal().Err(err).Msg("rollup bootstrap failed")
	}

	rep, err := mod.Ports().Runner.Run(ctx, job)
	if err != nil {
		l.Fatal().Err(err).Msg("rollup failed")
	}
	if rep.ChunksFailed > 0 {
		l.Error().Int("chunks_failed", rep.ChunksFailed).Str("run_id", rep.RunID).
			Msg("some chunks were not uploaded; re-run the failed chunks recorded in the ledger")
		stop()
		os.Exit(2)
	}
}
