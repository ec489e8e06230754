package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Remote generation API
const (
	KieRequestTimeout = 30 * time.Second
	TaskStatusTimeout = 10 * time.Second
)

// Object storage
const (
	FetchTimeout      = 30 * time.Second
	MaxFetchSizeBytes = 25 << 20
)

// Reconciliation
const ReconcileLockTTL = 30 * time.Second

// Background job intervals
const StaleJobSweepInterval = 2 * time.Minute

// Default rate limiting
const DefaultRateLimitPerMin = 10

// Job event stream
const EventsPollInterval = 3 * time.Second
