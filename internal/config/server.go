package config

import "time"

// ServerConfig holds runtime configuration for the rollout controller
// server.
type ServerConfig struct {
	Environment string
	Addr        string
	DBPath      string

	// WorkflowEngine selects the finalize execution backend: "sync",
	// "goworkflows", or "dbos".
	WorkflowEngine string
	DBOSDatabase   string

	MetricsBaseURL   string
	RouterBaseURL    string
	WorkloadsBaseURL string

	TickInterval   time.Duration
	ScrapeInterval time.Duration
	MetricsWindow  time.Duration
	QueryTimeout   time.Duration

	DefaultMinDwell       time.Duration
	DefaultMaxEvaluations int
	DefaultSoftErrorRate  float64
	DefaultHardErrorRate  float64
	DefaultMinSamples     int

	PromoteReplicas int

	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMaxElapsed time.Duration
}

// LoadServerConfig constructs a ServerConfig from environment variables.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Environment: GetString("APP_ENV", "development"),
		Addr:        GetString("ROLLOUTD_ADDR", ":7700"),
		DBPath:      GetString("ROLLOUTD_DB_PATH", "rolloutd.db"),

		WorkflowEngine: GetString("ROLLOUTD_WORKFLOW_ENGINE", "sync"),
		DBOSDatabase:   GetString("ROLLOUTD_DBOS_DATABASE_URL", ""),

		MetricsBaseURL:   GetString("ROLLOUTD_METRICS_URL", "http://localhost:9090"),
		RouterBaseURL:    GetString("ROLLOUTD_ROUTER_URL", "http://localhost:8080"),
		WorkloadsBaseURL: GetString("ROLLOUTD_WORKLOADS_URL", "http://localhost:8081"),

		TickInterval:   time.Duration(GetInt("ROLLOUTD_TICK_SECONDS", 30)) * time.Second,
		ScrapeInterval: time.Duration(GetInt("ROLLOUTD_SCRAPE_SECONDS", 15)) * time.Second,
		MetricsWindow:  time.Duration(GetInt("ROLLOUTD_METRICS_WINDOW_SECONDS", 300)) * time.Second,
		QueryTimeout:   time.Duration(GetInt("ROLLOUTD_QUERY_TIMEOUT_SECONDS", 5)) * time.Second,

		DefaultMinDwell:       time.Duration(GetInt("ROLLOUTD_DEFAULT_DWELL_SECONDS", 120)) * time.Second,
		DefaultMaxEvaluations: GetInt("ROLLOUTD_DEFAULT_MAX_EVALUATIONS", 5),
		DefaultSoftErrorRate:  GetFloat("ROLLOUTD_DEFAULT_SOFT_ERROR_RATE", 2),
		DefaultHardErrorRate:  GetFloat("ROLLOUTD_DEFAULT_HARD_ERROR_RATE", 10),
		DefaultMinSamples:     GetInt("ROLLOUTD_DEFAULT_MIN_SAMPLES", 3),

		PromoteReplicas: GetInt("ROLLOUTD_PROMOTE_REPLICAS", 4),

		RetryInitial:    time.Duration(GetInt("ROLLOUTD_RETRY_INITIAL_MS", 500)) * time.Millisecond,
		RetryMax:        time.Duration(GetInt("ROLLOUTD_RETRY_MAX_MS", 10000)) * time.Millisecond,
		RetryMaxElapsed: time.Duration(GetInt("ROLLOUTD_RETRY_ELAPSED_MS", 60000)) * time.Millisecond,
	}
}
