package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"claims-backend/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Env             string
	Port            string
	DatabaseURL     string
	CORSAllowOrigin []string
	JWTSecret       string

	// DB_* override the pool sized from WorkerConcurrency. Zero keeps the
	// derived value.
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	DBPingTimeout     time.Duration

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	SourceProvider       string
	DriveCredentialsFile string
	DriveAllowedFolders  []string
	DriveCacheTTL        time.Duration

	ExtractorProvider string
	OpenAIAPIKey      string
	LLMModel          string
	ExtractorRPS      float64
	ExtractorBurst    int
	ExtractorMaxChars int
	MinConfidence     float64

	WorkerConcurrency        int
	RetryMaxAttempts         int
	RetryBaseDelay           time.Duration
	AttemptTimeout           time.Duration
	SystemicFailureThreshold int
	SynthesisThreshold       float64
	StandardsTablePath       string
	SQSQueueURL              string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		telemetry.Warn("config.database_url_missing", map[string]any{"env": env})
	}

	return Config{
		Env:             env,
		Port:            getEnv("PORT", "8080"),
		DatabaseURL:     dbURL,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		JWTSecret:       os.Getenv("JWT_SECRET"),

		DBMaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 0),
		DBMaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 0),
		DBConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 0),
		DBConnMaxIdleTime: getDuration("DB_CONN_MAX_IDLE_TIME", 0),
		DBPingTimeout:     getDuration("DB_PING_TIMEOUT", 0),

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),

		SourceProvider:       normalizeChoice(getEnv("SOURCE_PROVIDER", "object"), "object", "drive"),
		DriveCredentialsFile: getEnv("DRIVE_CREDENTIALS_FILE", ""),
		DriveAllowedFolders:  splitAndTrim(getEnv("DRIVE_ALLOWED_FOLDERS", "")),
		DriveCacheTTL:        getDuration("DRIVE_CACHE_TTL", time.Hour),

		ExtractorProvider: normalizeChoice(getEnv("EXTRACTOR_PROVIDER", "heuristic"), "heuristic", "openai"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		LLMModel:          getEnv("LLM_MODEL", ""),
		ExtractorRPS:      getFloat("EXTRACTOR_RPS", 2),
		ExtractorBurst:    getInt("EXTRACTOR_BURST", 5),
		ExtractorMaxChars: getInt("EXTRACTOR_MAX_CHARS", 16000),
		MinConfidence:     getFloat("MIN_CONFIDENCE", 0.5),

		WorkerConcurrency:        getInt("WORKER_CONCURRENCY", 5),
		RetryMaxAttempts:         getInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:           getDuration("RETRY_BASE_DELAY", time.Second),
		AttemptTimeout:           getDuration("ATTEMPT_TIMEOUT", 60*time.Second),
		SystemicFailureThreshold: getInt("SYSTEMIC_FAILURE_THRESHOLD", 3),
		SynthesisThreshold:       getFloat("SYNTHESIS_THRESHOLD", 0.6),
		StandardsTablePath:       getEnv("STANDARDS_TABLE_PATH", ""),
		SQSQueueURL:              strings.TrimSpace(os.Getenv("CA_SQS_QUEUE_URL")),
	}
}

// IsDevLike reports whether the environment tolerates in-memory fallbacks.
func (c Config) IsDevLike() bool {
	return c.Env == "dev" || c.Env == "local"
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		telemetry.Warn("config.invalid_value", map[string]any{"key": key, "value": raw})
		return def
	}
	return v
}

func getFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		telemetry.Warn("config.invalid_value", map[string]any{"key": key, "value": raw})
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		telemetry.Warn("config.invalid_value", map[string]any{"key": key, "value": raw})
		return def
	}
	return v
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	return normalizeChoice(raw, "local", "s3")
}

// normalizeChoice returns raw if it is one of allowed, else the first allowed value.
func normalizeChoice(raw string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return allowed[0]
}
