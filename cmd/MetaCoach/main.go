package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/MetaCoach/internal/analysis"
	"github.com/BTreeMap/MetaCoach/internal/api"
	"github.com/BTreeMap/MetaCoach/internal/coach"
	"github.com/BTreeMap/MetaCoach/internal/genai"
	"github.com/BTreeMap/MetaCoach/internal/lockfile"
	"github.com/BTreeMap/MetaCoach/internal/store"
	"github.com/BTreeMap/MetaCoach/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for MetaCoach state data
	DefaultStateDir = "/var/lib/metacoach"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "metacoach.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	if err := run(); err != nil {
		slog.Error("MetaCoach failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("MetaCoach exited successfully")
}

func run() error {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// The SQLite file allows one writer; refuse to start beside another instance.
	if dsn := *flags.dbDSN; dsn != "memory" && store.DetectDSNType(dsn) == "sqlite3" {
		lock, err := lockfile.AcquireLock(filepath.Dir(dsn))
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	remoteOpts := buildRemoteAnalysisOptions(flags)
	orchOpts := buildOrchestratorOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping MetaCoach with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "remote", len(remoteOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	return api.Run(storeOpts, genaiOpts, remoteOpts, orchOpts, apiOpts)
}

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	StateDir        string
	OpenAIKey       string
	OpenAIModel     string
	AnalysisURL     string
	AnalysisKey     string
	AnalysisTimeout time.Duration
	ViaGenAI        bool
	SessionTimeout  time.Duration
	APIAddr         string
	GenAIDebug      bool
	IdleTTL         time.Duration
	PruneSchedule   string
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	openaiKey       *string
	openaiModel     *string
	analysisURL     *string
	analysisKey     *string
	analysisTimeout *time.Duration
	viaGenAI        *bool
	sessionTimeout  *time.Duration
	apiAddr         *string
	genaiDebug      *bool
	idleTTL         *time.Duration
	pruneSchedule   *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("METACOACH_STATE_DIR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     os.Getenv("OPENAI_MODEL"),
		AnalysisURL:     os.Getenv("ANALYSIS_ENDPOINT"),
		AnalysisKey:     os.Getenv("ANALYSIS_API_KEY"),
		AnalysisTimeout: util.ParseDurationEnv("ANALYSIS_TIMEOUT", analysis.DefaultRemoteTimeout),
		ViaGenAI:        util.ParseBoolEnv("REMOTE_ANALYSIS_VIA_GENAI", false),
		SessionTimeout:  util.ParseDurationEnv("COACH_SESSION_TIMEOUT", coach.DefaultSessionTimeout),
		APIAddr:         os.Getenv("API_ADDR"),
		GenAIDebug:      util.ParseBoolEnv("GENAI_DEBUG", false),
		IdleTTL:         util.ParseDurationEnv("IDLE_TTL", api.DefaultIdleTTL),
		PruneSchedule:   os.Getenv("PRUNE_SCHEDULE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No METACOACH_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"METACOACH_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"ANALYSIS_ENDPOINT", config.AnalysisURL,
		"ANALYSIS_TIMEOUT", config.AnalysisTimeout,
		"REMOTE_ANALYSIS_VIA_GENAI", config.ViaGenAI,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for MetaCoach data (overrides $METACOACH_STATE_DIR)"),
		dbDSN:           flag.String("db-dsn", config.DatabaseURL, "database DSN; empty uses SQLite in the state directory, \"memory\" uses the in-memory store (overrides $DATABASE_URL)"),
		openaiKey:       flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:     flag.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		analysisURL:     flag.String("analysis-endpoint", config.AnalysisURL, "remote analysis endpoint (overrides $ANALYSIS_ENDPOINT)"),
		analysisKey:     flag.String("analysis-api-key", config.AnalysisKey, "remote analysis API key (overrides $ANALYSIS_API_KEY)"),
		analysisTimeout: flag.Duration("analysis-timeout", config.AnalysisTimeout, "remote analysis timeout (overrides $ANALYSIS_TIMEOUT)"),
		viaGenAI:        flag.Bool("analysis-via-genai", config.ViaGenAI, "use the OpenAI model for remote analysis when no endpoint is set (overrides $REMOTE_ANALYSIS_VIA_GENAI)"),
		sessionTimeout:  flag.Duration("session-timeout", config.SessionTimeout, "conversational service timeout (overrides $COACH_SESSION_TIMEOUT)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		genaiDebug:      flag.Bool("genai-debug", config.GenAIDebug, "write GenAI requests to the state directory (overrides $GENAI_DEBUG)"),
		idleTTL:         flag.Duration("idle-ttl", config.IdleTTL, "drop in-memory workflows and sessions idle this long (overrides $IDLE_TTL)"),
		pruneSchedule:   flag.String("prune-schedule", config.PruneSchedule, "cron schedule of the idle pruning job (overrides $PRUNE_SCHEDULE)"),
	}

	flag.Parse()

	if *flags.dbDSN == "" {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", *flags.dbDSN)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"analysisEndpoint", *flags.analysisURL,
		"analysisTimeout", *flags.analysisTimeout,
		"apiAddr", *flags.apiAddr)

	return flags
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	dsn := *flags.dbDSN
	switch {
	case dsn == "memory":
		slog.Debug("In-memory store requested")
	case store.DetectDSNType(dsn) == "postgres":
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(dsn))
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(dsn))
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	if *flags.genaiDebug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true, *flags.stateDir))
	}
	return genaiOpts
}

// buildRemoteAnalysisOptions constructs remote analysis client options
func buildRemoteAnalysisOptions(flags Flags) []analysis.Option {
	var opts []analysis.Option
	if *flags.analysisURL != "" {
		opts = append(opts, analysis.WithEndpoint(*flags.analysisURL))
	}
	if *flags.analysisKey != "" {
		opts = append(opts, analysis.WithAPIKey(*flags.analysisKey))
	}
	return opts
}

// buildOrchestratorOptions constructs analysis orchestrator options
func buildOrchestratorOptions(flags Flags) []analysis.OrchestratorOption {
	return []analysis.OrchestratorOption{analysis.WithTimeout(*flags.analysisTimeout)}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	apiOpts = append(apiOpts,
		api.WithRemoteAnalysisViaGenAI(*flags.viaGenAI),
		api.WithSessionTimeout(*flags.sessionTimeout),
		api.WithIdlePruning(*flags.idleTTL, *flags.pruneSchedule),
	)
	return apiOpts
}
