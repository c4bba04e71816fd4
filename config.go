package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// ModelConfig selects the decision maker behind a seat. ModelName "human"
// binds the seat to a websocket client.
type ModelConfig struct {
	ModelName string `json:"model_name"`
	Provider  string `json:"provider,omitempty"` // ollama | openai | claude | gemini | groq | openai-compatible
	APIKey    string `json:"api_key,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
}

// PlayerConfig is one seat of the game config.
type PlayerConfig struct {
	Role string `json:"role"`
	ModelConfig
}

// GameConfig is the payload of initialize.
type GameConfig struct {
	Players           []PlayerConfig `json:"players"`
	Models            []ModelConfig  `json:"models,omitempty"`
	Judge             *ModelConfig   `json:"judge,omitempty"`
	RandomModel       bool           `json:"random_model"`
	RandomizeRoles    bool           `json:"randomize_roles"`
	RandomizePosition bool           `json:"randomize_position"`
	Seed              int64          `json:"seed,omitempty"`
}

// ServerConfig is the scalar part of the config; it is the part that can
// come from the environment.
type ServerConfig struct {
	// Server
	DB   string `json:"db" env:"DB"`     // database connection string
	Dev  bool   `json:"dev" env:"DEV"`   // dev mode: verbose logging, db dumps on errors
	Addr string `json:"addr" env:"ADDR"` // HTTP listen address

	// Logging (extended diagnostics, off by default)
	LogOutputDir string `json:"log_output_dir" env:"LOG_OUTPUT_DIR"`
	LogRequests  bool   `json:"log_requests" env:"LOG_REQUESTS"`
	LogDB        bool   `json:"log_db" env:"LOG_DB"`
	LogWS        bool   `json:"log_ws" env:"LOG_WS"`
	LogDebug     bool   `json:"log_debug" env:"LOG_DEBUG"`

	// Game artifacts
	GameLogDir       string `json:"log_dir" env:"GAME_LOG_DIR"`
	ReplayFile       string `json:"replay_file" env:"REPLAY_FILE"`
	AuditTokenCounts bool   `json:"audit_token_counts" env:"AUDIT_TOKEN_COUNTS"`

	// Tracing
	OTelEndpoint string `json:"otel_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Decision makers
	DecisionAttempts   uint          `json:"decision_attempts" env:"DECISION_ATTEMPTS"`
	DecisionRetryDelay time.Duration `json:"decision_retry_delay" env:"DECISION_RETRY_DELAY"`
	HumanTimeout       time.Duration `json:"human_timeout" env:"HUMAN_TIMEOUT"`
	LLMTemperature     string        `json:"llm_temperature" env:"LLM_TEMPERATURE"` // float 0-1 as string
	LLMThinking        string        `json:"llm_thinking" env:"LLM_THINKING"`       // none | low | medium | high | auto
	OllamaURL          string        `json:"ollama_url" env:"OLLAMA_URL"`
	GroqAPIKey         string        `json:"groq_api_key" env:"GROQ_API_KEY"`
}

// AppConfig holds all server configuration.
// Priority (lowest → highest): defaults < env vars < JSON config file < CLI flags.
type AppConfig struct {
	ServerConfig
	Game GameConfig
}

func (cfg AppConfig) toLogConfig() LogConfig {
	return LogConfig{
		OutputDir:   cfg.LogOutputDir,
		LogRequests: cfg.LogRequests,
		LogDB:       cfg.LogDB,
		LogWS:       cfg.LogWS,
		Debug:       cfg.LogDebug,
	}
}

func (cfg AppConfig) retryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: cfg.DecisionAttempts, Delay: cfg.DecisionRetryDelay}
}

func defaultConfig() AppConfig {
	return AppConfig{
		ServerConfig: ServerConfig{
			DB:                 "file::memory:?cache=shared",
			Addr:               ":8080",
			GameLogDir:         "logs",
			DecisionAttempts:   10,
			DecisionRetryDelay: 10 * time.Second,
			HumanTimeout:       5 * time.Minute,
			OllamaURL:          "http://localhost:11434",
		},
	}
}

// loadConfig builds a config by layering: defaults → env vars → JSON config file.
// CLI flag overrides are applied separately by flagValues.applyTo after flag.Parse.
func loadConfig(configPath string) (AppConfig, error) {
	cfg := defaultConfig()

	// Layer 1: env vars. Unset variables keep the defaults.
	if err := env.Parse(&cfg.ServerConfig); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	// Layer 2: JSON config file: only fields present in the file override env vars
	if data, err := os.ReadFile(configPath); err == nil {
		var overlay map[string]json.RawMessage
		if err := json.Unmarshal(data, &overlay); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", configPath, err)
		}
		if err := applyJSONOverlay(&cfg, overlay); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", configPath, err)
		}
		log.Printf("Config: loaded from %s", configPath)
	} else if !os.IsNotExist(err) {
		log.Printf("Config: failed to read %s: %v", configPath, err)
	}

	return cfg, nil
}

// applyJSONOverlay only sets fields that are explicitly present in the JSON map.
func applyJSONOverlay(cfg *AppConfig, m map[string]json.RawMessage) error {
	var firstErr error
	set := func(key string, dst any) {
		v, ok := m[key]
		if !ok {
			return
		}
		if err := json.Unmarshal(v, dst); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", key, err)
		}
	}
	duration := func(key string, dst *time.Duration) {
		var s string
		set(key, &s)
		if s == "" {
			return
		}
		d, err := time.ParseDuration(s)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", key, err)
			return
		}
		*dst = d
	}

	set("db", &cfg.DB)
	set("dev", &cfg.Dev)
	set("addr", &cfg.Addr)
	set("log_output_dir", &cfg.LogOutputDir)
	set("log_requests", &cfg.LogRequests)
	set("log_db", &cfg.LogDB)
	set("log_ws", &cfg.LogWS)
	set("log_debug", &cfg.LogDebug)
	set("log_dir", &cfg.GameLogDir)
	set("replay_file", &cfg.ReplayFile)
	set("audit_token_counts", &cfg.AuditTokenCounts)
	set("otel_endpoint", &cfg.OTelEndpoint)
	set("decision_attempts", &cfg.DecisionAttempts)
	duration("decision_retry_delay", &cfg.DecisionRetryDelay)
	duration("human_timeout", &cfg.HumanTimeout)
	set("llm_temperature", &cfg.LLMTemperature)
	set("llm_thinking", &cfg.LLMThinking)
	set("ollama_url", &cfg.OllamaURL)
	set("groq_api_key", &cfg.GroqAPIKey)

	set("players", &cfg.Game.Players)
	set("models", &cfg.Game.Models)
	set("judge", &cfg.Game.Judge)
	set("random_model", &cfg.Game.RandomModel)
	set("randomize_roles", &cfg.Game.RandomizeRoles)
	set("randomize_position", &cfg.Game.RandomizePosition)
	set("seed", &cfg.Game.Seed)
	return firstErr
}

// flagValues holds pointers to all registered CLI flags.
type flagValues struct {
	configPath         *string
	db                 *string
	dev                *bool
	addr               *string
	logOutputDir       *string
	logRequests        *bool
	logDB              *bool
	logWS              *bool
	logDebug           *bool
	gameLogDir         *string
	replayFile         *string
	auditTokenCounts   *bool
	otelEndpoint       *string
	decisionAttempts   *uint
	decisionRetryDelay *time.Duration
	humanTimeout       *time.Duration
	llmTemperature     *string
	llmThinking        *string
	randomModel        *bool
	randomizeRoles     *bool
	randomizePosition  *bool
	seed               *int64
}

// registerFlags registers all CLI flags and returns pointers to their values.
// Call flag.Parse() after this, then applyTo to layer them over the loaded config.
func registerFlags(fs *flag.FlagSet) flagValues {
	return flagValues{
		configPath:         fs.String("config", "config.json", "path to JSON config file"),
		db:                 fs.String("db", "", "database connection string"),
		dev:                fs.Bool("dev", false, "enable development mode (verbose logging, db dumps on error)"),
		addr:               fs.String("addr", "", "HTTP listen address (e.g. :8080)"),
		logOutputDir:       fs.String("log-output-dir", "", "directory for extended log files"),
		logRequests:        fs.Bool("log-requests", false, "log HTTP requests and responses"),
		logDB:              fs.Bool("log-db", false, "log database dumps"),
		logWS:              fs.Bool("log-ws", false, "log WebSocket messages"),
		logDebug:           fs.Bool("log-debug", false, "enable debug logging"),
		gameLogDir:         fs.String("log-dir", "", "directory for result, audit and replay logs"),
		replayFile:         fs.String("replay", "", "answer every operation from this replay log"),
		auditTokenCounts:   fs.Bool("audit-token-counts", false, "count prompt tokens in the audit log"),
		otelEndpoint:       fs.String("otel-endpoint", "", "OTLP/HTTP endpoint for traces"),
		decisionAttempts:   fs.Uint("decision-attempts", 0, "attempts per decision before giving up"),
		decisionRetryDelay: fs.Duration("decision-retry-delay", 0, "fixed delay between decision attempts"),
		humanTimeout:       fs.Duration("human-timeout", 0, "how long to wait for a human seat to answer"),
		llmTemperature:     fs.String("llm-temperature", "", "sampling temperature 0-1"),
		llmThinking:        fs.String("llm-thinking", "", "thinking mode: none|low|medium|high|auto"),
		randomModel:        fs.Bool("random-model", false, "deal the configured models across seats"),
		randomizeRoles:     fs.Bool("randomize-roles", false, "shuffle the standard roles"),
		randomizePosition:  fs.Bool("randomize-position", false, "shuffle seat order"),
		seed:               fs.Int64("seed", 0, "seed for all shuffles (0 picks one)"),
	}
}

// applyTo overlays any CLI flags that were explicitly set onto cfg.
// Flags that were not passed on the command line are ignored (env/JSON values win).
func (fv flagValues) applyTo(fs *flag.FlagSet, cfg *AppConfig) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DB = *fv.db
		case "dev":
			cfg.Dev = *fv.dev
		case "addr":
			cfg.Addr = *fv.addr
		case "log-output-dir":
			cfg.LogOutputDir = *fv.logOutputDir
		case "log-requests":
			cfg.LogRequests = *fv.logRequests
		case "log-db":
			cfg.LogDB = *fv.logDB
		case "log-ws":
			cfg.LogWS = *fv.logWS
		case "log-debug":
			cfg.LogDebug = *fv.logDebug
		case "log-dir":
			cfg.GameLogDir = *fv.gameLogDir
		case "replay":
			cfg.ReplayFile = *fv.replayFile
		case "audit-token-counts":
			cfg.AuditTokenCounts = *fv.auditTokenCounts
		case "otel-endpoint":
			cfg.OTelEndpoint = *fv.otelEndpoint
		case "decision-attempts":
			cfg.DecisionAttempts = *fv.decisionAttempts
		case "decision-retry-delay":
			cfg.DecisionRetryDelay = *fv.decisionRetryDelay
		case "human-timeout":
			cfg.HumanTimeout = *fv.humanTimeout
		case "llm-temperature":
			cfg.LLMTemperature = *fv.llmTemperature
		case "llm-thinking":
			cfg.LLMThinking = *fv.llmThinking
		case "random-model":
			cfg.Game.RandomModel = *fv.randomModel
		case "randomize-roles":
			cfg.Game.RandomizeRoles = *fv.randomizeRoles
		case "randomize-position":
			cfg.Game.RandomizePosition = *fv.randomizePosition
		case "seed":
			cfg.Game.Seed = *fv.seed
		}
	})
}

// validate rejects settings the engine cannot run with.
func (cfg AppConfig) validate() error {
	if cfg.DecisionAttempts < 1 {
		return fmt.Errorf("decision_attempts must be at least 1")
	}
	if cfg.DecisionRetryDelay < 0 {
		return fmt.Errorf("decision_retry_delay must not be negative")
	}
	return nil
}
