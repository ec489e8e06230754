package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"3001"`
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	KieAPIKey  string `env:"KIE_API_KEY"`
	KieBaseURL string `env:"KIE_BASE_URL" envDefault:"https://api.kie.ai/api/v1/jobs"`
	KieModel   string `env:"KIE_MODEL" envDefault:"nano-banana-pro"`

	StorageEndpoint        string `env:"STORAGE_ENDPOINT"`
	StorageRegion          string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	StorageAccessKeyID     string `env:"STORAGE_ACCESS_KEY_ID"`
	StorageSecretAccessKey string `env:"STORAGE_SECRET_ACCESS_KEY"`
	StoragePublicBaseURL   string `env:"STORAGE_PUBLIC_BASE_URL"`
	StorageUsePathStyle    bool   `env:"STORAGE_USE_PATH_STYLE" envDefault:"true"`

	JobMaxAgeMinutes        int   `env:"JOB_MAX_AGE_MINUTES" envDefault:"15"`
	GenerateRateLimitPerMin int   `env:"GENERATE_RATE_LIMIT_PER_MIN" envDefault:"10"`
	MaxUploadSizeBytes      int64 `env:"MAX_UPLOAD_SIZE_BYTES" envDefault:"8388608"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) JobMaxAge() time.Duration {
	return time.Duration(c.JobMaxAgeMinutes) * time.Minute
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) Validate() error {
	if c.StoragePublicBaseURL == "" {
		return errors.New("STORAGE_PUBLIC_BASE_URL is required")
	}
	if c.JobMaxAgeMinutes <= 0 {
		return fmt.Errorf("JOB_MAX_AGE_MINUTES must be positive, got %d", c.JobMaxAgeMinutes)
	}
	if (c.StorageAccessKeyID == "") != (c.StorageSecretAccessKey == "") {
		return errors.New("STORAGE_ACCESS_KEY_ID and STORAGE_SECRET_ACCESS_KEY must be set together")
	}

	if c.KieAPIKey == "" {
		log.Warn().Msg("KIE_API_KEY is empty: generation requests will fail")
	}
	if c.IsProduction() && strings.HasPrefix(c.RedisURL, "redis://") {
		log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
	}

	return nil
}

// LoadDotEnv reads a .env file into the process environment if one exists.
// Variables already set in the environment win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
