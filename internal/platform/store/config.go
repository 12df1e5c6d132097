package store

import (
	"time"

	"ghafacts/internal/platform/config"
)

// Config aggregates per backend configuration
type Config struct {
	AppName string

	PG PGConfig
	CH CHConfig
}

// PGConfig configures postgres connectivity and tracing
type PGConfig struct {
	Enabled     bool
	URL         string
	MaxConns    int32
	LogSQL      bool
	SlowQueryMs int

	ConnectRetries int           // default 20
	PingTimeout    time.Duration // default 3s
}

// CHConfig configures clickhouse connectivity
type CHConfig struct {
	Enabled bool
	URL     string
	Role    string
}

// ConfigFromEnv reads SERVICE_PGSQL_* and SERVICE_CLICKHOUSE_* keys.
// A backend is enabled only when its DBURL is set
func ConfigFromEnv(appName string) Config {
	pgc := config.New().Prefix("SERVICE_PGSQL_")
	chc := config.New().Prefix("SERVICE_CLICKHOUSE_")
	return Config{
		AppName: appName,
		PG: PGConfig{
			Enabled:        pgc.Has("DBURL"),
			URL:            pgc.MayString("DBURL", ""),
			MaxConns:       int32(pgc.MayInt("MAX_CONNS", 4)),
			LogSQL:         pgc.MayBool("LOG_SQL", false),
			SlowQueryMs:    pgc.MayInt("SLOW_MS", 500),
			ConnectRetries: pgc.MayInt("CONNECT_RETRIES", 20),
			PingTimeout:    pgc.MayDuration("PING_TIMEOUT", 3*time.Second),
		},
		CH: CHConfig{
			Enabled: chc.Has("DBURL"),
			URL:     chc.MayString("DBURL", ""),
			Role:    appName,
		},
	}
}
