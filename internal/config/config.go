package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	logx "intake-agent/pkg/logger"
)

const (
	AnalysisBackendHTTP   = "http"
	AnalysisBackendOpenAI = "openai"

	StoreBackendMemory   = "memory"
	StoreBackendDynamoDB = "dynamodb"
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
)

// Config is the full service configuration, sourced from the environment.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"debug"`

	HTTP     HTTPConfig
	Analysis AnalysisConfig
	OpenAI   OpenAIConfig
	Store    StoreConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Report   ReportConfig
}

type HTTPConfig struct {
	Addr string `envconfig:"HTTP_ADDR" default:":8080"`
}

type AnalysisConfig struct {
	Backend string `split_words:"true" default:"http"`
	BaseURL string `split_words:"true" default:"http://localhost:8000"`
	// Timeout of zero leaves the transport default in place.
	Timeout time.Duration `split_words:"true" default:"0s"`
}

type OpenAIConfig struct {
	ParamPrefix string `split_words:"true"`
	Model       string `split_words:"true" default:"gpt-4o-mini"`
	BaseURL     string `split_words:"true"`
	// TokenCacheTTL bounds how long parameter store reads are reused.
	TokenCacheTTL time.Duration `split_words:"true" default:"15m"`
}

type StoreConfig struct {
	Backend string        `split_words:"true" default:"memory"`
	Table   string        `split_words:"true"`
	TTL     time.Duration `envconfig:"STORE_TTL" default:"720h"`
}

type RedisConfig struct {
	URL          string `split_words:"true"`
	ReadTimeout  int    `split_words:"true" default:"3"`
	WriteTimeout int    `split_words:"true" default:"3"`
	DialTimeout  int    `split_words:"true" default:"5"`
}

type PostgresConfig struct {
	URL     string `split_words:"true"`
	Migrate bool   `split_words:"true" default:"true"`
}

type ReportConfig struct {
	FontPath string `split_words:"true"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		logx.Debug().Err(err).Msg("no .env file loaded")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks backend-specific required settings.
func (c Config) Validate() error {
	switch c.Analysis.Backend {
	case AnalysisBackendHTTP:
		if strings.TrimSpace(c.Analysis.BaseURL) == "" {
			return errors.New("config: ANALYSIS_BASE_URL is required for the http backend")
		}
	case AnalysisBackendOpenAI:
		if strings.TrimSpace(c.OpenAI.ParamPrefix) == "" {
			return errors.New("config: OPENAI_PARAM_PREFIX is required for the openai backend")
		}
	default:
		return fmt.Errorf("config: unknown analysis backend %q", c.Analysis.Backend)
	}

	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendDynamoDB:
		if strings.TrimSpace(c.Store.Table) == "" {
			return errors.New("config: STORE_TABLE is required for the dynamodb store")
		}
	case StoreBackendRedis:
		if strings.TrimSpace(c.Redis.URL) == "" {
			return errors.New("config: REDIS_URL is required for the redis store")
		}
	case StoreBackendPostgres:
		if strings.TrimSpace(c.Postgres.URL) == "" {
			return errors.New("config: POSTGRES_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if c.Analysis.Timeout < 0 {
		return errors.New("config: ANALYSIS_TIMEOUT must not be negative")
	}
	return nil
}

// Env returns the parsed deployment environment.
func (c Config) Env() Environment {
	return ParseEnvironment(c.Environment)
}

// NeedsAWS reports whether any configured backend talks to AWS.
func (c Config) NeedsAWS() bool {
	return c.Store.Backend == StoreBackendDynamoDB || c.Analysis.Backend == AnalysisBackendOpenAI
}

// LoggerOpts maps the configuration onto logger options.
func (c Config) LoggerOpts() logx.LoggerOpts {
	return logx.LoggerOpts{Production: c.Env().IsProduction(), Level: c.LogLevel}
}
