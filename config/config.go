package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/upb/redlab/services/budget"
	"github.com/upb/redlab/utils"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: gate audit sink and readiness ping. When nil, both are off.
	Paths         PathsConfig
	Budget        BudgetConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration for the report server
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// PathsConfig holds the file locations the lab reads and writes
type PathsConfig struct {
	ResultsDir     string `validate:"required"`
	EvaluatorRules string `validate:"required"`
	GatesRules     string `validate:"required"`
}

// BudgetConfig holds per-run budget ceilings loaded from the environment.
// A nil field means the corresponding limit is not enforced.
type BudgetConfig struct {
	MaxTrials           *int
	MaxCalls            *int
	MaxTotalTokens      *int
	MaxPromptTokens     *int
	MaxCompletionTokens *int
	DryRun              bool
	FailOnBudget        bool
}

// Limits converts the config into the tracker's limit set.
func (c BudgetConfig) Limits() budget.Limits {
	return budget.Limits{
		MaxTrials:           c.MaxTrials,
		MaxCalls:            c.MaxCalls,
		MaxTotalTokens:      c.MaxTotalTokens,
		MaxPromptTokens:     c.MaxPromptTokens,
		MaxCompletionTokens: c.MaxCompletionTokens,
		DryRun:              c.DryRun,
		FailOnBudget:        c.FailOnBudget,
	}
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string `validate:"required,oneof=debug info warn error"`
	LogFormat string `validate:"required,oneof=json text"`
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env if present (repo root or current dir)
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Paths: PathsConfig{
			ResultsDir:     getEnv("RESULTS_DIR", "results"),
			EvaluatorRules: getEnv("EVALUATOR_RULES", "policies/evaluator.yaml"),
			GatesRules:     getEnv("GATES_RULES", "policies/gates.yaml"),
		},
		Budget: BudgetConfig{
			MaxTrials:           getEnvAsOptionalInt("MAX_TRIALS"),
			MaxCalls:            getEnvAsOptionalInt("MAX_CALLS"),
			MaxTotalTokens:      getEnvAsOptionalInt("MAX_TOTAL_TOKENS"),
			MaxPromptTokens:     getEnvAsOptionalInt("MAX_PROMPT_TOKENS"),
			MaxCompletionTokens: getEnvAsOptionalInt("MAX_COMPLETION_TOKENS"),
			DryRun:              getEnvAsBool("DRY_RUN", false),
			FailOnBudget:        getEnvAsBool("FAIL_ON_BUDGET", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c.Paths); err != nil {
		return err
	}
	if err := utils.ValidateStruct(c.Observability); err != nil {
		return err
	}

	if c.Database != nil && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	for name, limit := range map[string]*int{
		"MAX_TRIALS":            c.Budget.MaxTrials,
		"MAX_CALLS":             c.Budget.MaxCalls,
		"MAX_TOTAL_TOKENS":      c.Budget.MaxTotalTokens,
		"MAX_PROMPT_TOKENS":     c.Budget.MaxPromptTokens,
		"MAX_COMPLETION_TOKENS": c.Budget.MaxCompletionTokens,
	} {
		if limit != nil && *limit < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Returns nil when neither is set; the audit sink and the readiness ping stay off.
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return &DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}
	return &DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "redlab"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsOptionalInt returns nil when the variable is unset, empty, or
// unparsable; budget ceilings are only enforced when explicitly configured.
func getEnvAsOptionalInt(key string) *int {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return nil
	}
	return &value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
