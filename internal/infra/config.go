package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorageFilesystem = "filesystem"
	StorageS3         = "s3"

	SubmitterLocal     = "local"
	SubmitterSageMaker = "sagemaker"

	BackendRuntime  = "runtime"
	BackendEndpoint = "endpoint"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	LogFile          string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	JWTSecret         string
	JWTPublicKeyPath  string
	JWTJWKSURL        string
	JWTIssuer         string
	JWTRequiredScopes []string

	RateLimitBurst           float64
	RateLimitRefillPerSecond float64
	RateLimitFile            string
	RedisURL                 string

	DatabaseURL string

	StorageBackend     string
	StoragePath        string
	StorageBucket      string
	StorageInputPrefix string
	CleanupInputs      bool

	AsyncSubmitter        string
	SageMakerEndpointName string
	AWSRegion             string

	BackendKind     string
	RuntimeURL      string
	ModelDir        string
	ModelID         string
	ModelS3Location string
	DeviceHint      string
	SyncTimeout     time.Duration

	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		LogFile:          os.Getenv("LOG_FILE"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 150)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		JWTSecret:         os.Getenv("JWT_SECRET"),
		JWTPublicKeyPath:  os.Getenv("JWT_PUBLIC_KEY_PATH"),
		JWTJWKSURL:        os.Getenv("JWT_JWKS_URL"),
		JWTIssuer:         os.Getenv("JWT_ISSUER"),
		JWTRequiredScopes: getEnvList("JWT_REQUIRED_SCOPES"),

		RateLimitBurst:           getEnvFloat("RATE_LIMIT_BURST", 10),
		RateLimitRefillPerSecond: getEnvFloat("RATE_LIMIT_REFILL_PER_SECOND", 1),
		RateLimitFile:            os.Getenv("RATE_LIMIT_FILE"),
		RedisURL:                 os.Getenv("REDIS_URL"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		StorageBackend:     strings.ToLower(getEnv("STORAGE_BACKEND", StorageFilesystem)),
		StoragePath:        getEnv("STORAGE_PATH", "./data"),
		StorageBucket:      getEnv("STORAGE_BUCKET", "inference"),
		StorageInputPrefix: getEnv("STORAGE_INPUT_PREFIX", "async-inputs"),
		CleanupInputs:      getEnvBool("CLEANUP_INPUTS", false),

		AsyncSubmitter:        strings.ToLower(getEnv("ASYNC_SUBMITTER", SubmitterLocal)),
		SageMakerEndpointName: os.Getenv("SAGEMAKER_ENDPOINT_NAME"),
		AWSRegion:             os.Getenv("AWS_REGION"),

		BackendKind:     strings.ToLower(getEnv("BACKEND_KIND", BackendRuntime)),
		RuntimeURL:      getEnv("RUNTIME_URL", "http://127.0.0.1:7860"),
		ModelDir:        getEnv("MODEL_DIR", "/opt/ml/model"),
		ModelID:         os.Getenv("MODEL_ID"),
		ModelS3Location: os.Getenv("MODEL_S3_LOCATION"),
		DeviceHint:      strings.ToLower(getEnv("DEVICE_HINT", "auto")),
		SyncTimeout:     getEnvDuration("SYNC_TIMEOUT_SECONDS", 120*time.Second),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
	}

	if cfg.JWTSecret == "" && cfg.JWTPublicKeyPath == "" && cfg.JWTJWKSURL == "" {
		return nil, fmt.Errorf("one of JWT_SECRET, JWT_PUBLIC_KEY_PATH or JWT_JWKS_URL is required")
	}
	if cfg.RateLimitBurst <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_BURST must be > 0")
	}
	switch cfg.StorageBackend {
	case StorageFilesystem, StorageS3:
	default:
		return nil, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageFilesystem, StorageS3, cfg.StorageBackend)
	}
	switch cfg.AsyncSubmitter {
	case SubmitterLocal:
	case SubmitterSageMaker:
		if cfg.SageMakerEndpointName == "" {
			return nil, fmt.Errorf("SAGEMAKER_ENDPOINT_NAME is required for the sagemaker submitter")
		}
	default:
		return nil, fmt.Errorf("ASYNC_SUBMITTER must be %q or %q, got %q", SubmitterLocal, SubmitterSageMaker, cfg.AsyncSubmitter)
	}
	switch cfg.BackendKind {
	case BackendRuntime:
	case BackendEndpoint:
		if cfg.SageMakerEndpointName == "" {
			return nil, fmt.Errorf("SAGEMAKER_ENDPOINT_NAME is required for the endpoint backend")
		}
	default:
		return nil, fmt.Errorf("BACKEND_KIND must be %q or %q, got %q", BackendRuntime, BackendEndpoint, cfg.BackendKind)
	}

	return cfg, nil
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c *Config) NeedsAWS() bool {
	return c.StorageBackend == StorageS3 || c.AsyncSubmitter == SubmitterSageMaker || c.BackendKind == BackendEndpoint
}

// EffectiveDeviceHint is the device hint handed to the model backend. A
// managed endpoint runs the model elsewhere, so no local device is probed.
func (c *Config) EffectiveDeviceHint() string {
	if c.BackendKind == BackendEndpoint {
		return "remote"
	}
	return c.DeviceHint
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration reads a whole number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if secs := getEnvInt(key, -1); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
