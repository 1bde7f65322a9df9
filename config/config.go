package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Rewards  RewardsConfig
	Session  SessionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/rewards?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and S3 bucket names.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	MediaBucket          string
	AuditBucket          string
	PresignExpireMinutes int
}

// RewardsConfig holds rewards provider / wallet endpoints and retry policy.
type RewardsConfig struct {
	ProviderURL         string // base URL of the rewards provider (claim submission)
	WalletURL           string // base URL of the wallet service (balance lookup)
	APIKey              string
	RewardAmount        float64 // coins credited per validated watch
	BalanceRetries      int     // bounded retries for wallet refresh after a successful claim
	BalanceRetryDelayMS int
	RequestTimeoutSec   int
}

// SessionConfig holds anti-cheat thresholds and session timing.
type SessionConfig struct {
	SeekThresholdSec   float64 // forward jump must exceed this (exclusive) to count as a seek
	SeekSlackSec       float64 // and land beyond last safe time + this slack
	PauseEpisodeMaxSec float64 // single pause episode limit
	PauseCountMax      int     // pause episodes per session limit
	PauseTotalMaxSec   float64 // cumulative paused time limit
	MinWatchFraction   float64 // watch fraction required for reward eligibility
	AutoAdvanceSec     int     // countdown before auto-loading the next item
	CloseDelaySec      int     // delay before closing the session view when nothing follows
	StaleAfterMin      int     // sessions without samples for this long are reaped
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/rewards?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "rewards"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			MediaBucket:          getEnv("AWS_S3_MEDIA_BUCKET", "rewards-media-bucket"),
			AuditBucket:          getEnv("AWS_S3_AUDIT_BUCKET", "rewards-audit-bucket"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Rewards: RewardsConfig{
			ProviderURL:         getEnv("REWARDS_PROVIDER_URL", "http://localhost:9090"),
			WalletURL:           getEnv("WALLET_URL", "http://localhost:9091"),
			APIKey:              getEnv("REWARDS_API_KEY", ""),
			RewardAmount:        getEnvFloat("REWARD_AMOUNT", 10),
			BalanceRetries:      getEnvInt("BALANCE_RETRIES", 3),
			BalanceRetryDelayMS: getEnvInt("BALANCE_RETRY_DELAY_MS", 1000),
			RequestTimeoutSec:   getEnvInt("REWARDS_REQUEST_TIMEOUT_SEC", 10),
		},
		Session: SessionConfig{
			SeekThresholdSec:   getEnvFloat("SEEK_THRESHOLD_SEC", 5),
			SeekSlackSec:       getEnvFloat("SEEK_SLACK_SEC", 2),
			PauseEpisodeMaxSec: getEnvFloat("PAUSE_EPISODE_MAX_SEC", 30),
			PauseCountMax:      getEnvInt("PAUSE_COUNT_MAX", 5),
			PauseTotalMaxSec:   getEnvFloat("PAUSE_TOTAL_MAX_SEC", 120),
			MinWatchFraction:   getEnvFloat("MIN_WATCH_FRACTION", 0.9),
			AutoAdvanceSec:     getEnvInt("AUTO_ADVANCE_SEC", 5),
			CloseDelaySec:      getEnvInt("CLOSE_DELAY_SEC", 3),
			StaleAfterMin:      getEnvInt("SESSION_STALE_AFTER_MIN", 30),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
