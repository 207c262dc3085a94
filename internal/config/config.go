package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Session  SessionConfig
	Engine   EngineConfig
	Ai       AIConfig
	Data     DataConfig
	Auth     AuthConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	HubLogFilePath     string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	OtlpEndpoint       string
}

type DatabaseConfig struct {
	Connection string // postgres DSN
	SQLitePath string
}

type SessionConfig struct {
	Backend       string // "memory", "redis", "postgres" or "sqlite"
	TTL           time.Duration
	HistoryLimit  int
	FactLimit     int
	LockTTL       time.Duration
	LockWait      time.Duration
	SweepInterval time.Duration
}

type EngineConfig struct {
	ConfidenceThreshold float64
	ClassifierTimeout   time.Duration
	ExecTimeout         time.Duration
	ExecOverhead        time.Duration
	ExecAttempts        int
	MaxOutputBytes      int
	ExecMaxMemoryMB     int
	RequestTimeout      time.Duration
	ContextTokenBudget  int
	WorkflowsFile       string // optional override of the embedded declarations
}

type AIConfig struct {
	LLMProvider   string // "ollama", "huggingface", "anthropic", "openai" or "none"
	LLMModel      string
	OllamaBaseURL string
	HuggingFace   string
	Anthropic     string
	OpenAI        string
}

// APIKey returns the key of the configured provider
func (c AIConfig) APIKey() string {
	switch strings.ToLower(c.LLMProvider) {
	case "huggingface":
		return c.HuggingFace
	case "anthropic":
		return c.Anthropic
	case "openai":
		return c.OpenAI
	}
	return ""
}

type DataConfig struct {
	Dir          string
	SchemaCache  int
	MaxFrameRows int
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			HubLogFilePath:     getEnv("HUB_LOG_FILE_PATH", "logs/hub.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
			OtlpEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
			SQLitePath: getEnv("SQLITE_PATH", "data/sessions.db"),
		},
		Session: SessionConfig{
			Backend:       strings.ToLower(getEnv("SESSION_BACKEND", "memory")),
			TTL:           getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			HistoryLimit:  getEnvAsInt("SESSION_HISTORY_LIMIT", 50),
			FactLimit:     getEnvAsInt("SESSION_FACT_LIMIT", 20),
			LockTTL:       getEnvAsDuration("SESSION_LOCK_TTL", 30*time.Second),
			LockWait:      getEnvAsDuration("SESSION_LOCK_WAIT", 5*time.Second),
			SweepInterval: getEnvAsDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute),
		},
		Engine: EngineConfig{
			ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.6),
			ClassifierTimeout:   getEnvAsDuration("CLASSIFIER_TIMEOUT", 3*time.Second),
			ExecTimeout:         getEnvAsDuration("EXEC_TIMEOUT", 10*time.Second),
			ExecOverhead:        getEnvAsDuration("EXEC_OVERHEAD", 500*time.Millisecond),
			ExecAttempts:        getEnvAsInt("EXEC_ATTEMPTS", 2),
			MaxOutputBytes:      getEnvAsInt("EXEC_MAX_OUTPUT_BYTES", 8192),
			ExecMaxMemoryMB:     getEnvAsInt("EXEC_MAX_MEMORY_MB", 1024),
			RequestTimeout:      getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
			ContextTokenBudget:  getEnvAsInt("CONTEXT_TOKEN_BUDGET", 512),
			WorkflowsFile:       getEnv("WORKFLOWS_FILE", ""),
		},
		Ai: AIConfig{
			LLMProvider:   strings.ToLower(getEnv("LLM_PROVIDER", "ollama")),
			LLMModel:      getEnv("LLM_MODEL", "llama3"),
			OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			HuggingFace:   getEnv("HUGGINGFACE_API_KEY", ""),
			Anthropic:     getEnv("ANTHROPIC_API_KEY", ""),
			OpenAI:        getEnv("OPENAI_API_KEY", ""),
		},
		Data: DataConfig{
			Dir:          getEnv("DATA_DIR", "data/uploads"),
			SchemaCache:  getEnvAsInt("DATA_SCHEMA_CACHE", 128),
			MaxFrameRows: getEnvAsInt("DATA_MAX_ROWS", 200000),
		},
		Auth: AuthConfig{
			Enabled:   getEnvAsBool("AUTH_ENABLED", false),
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("5s") or a bare number of seconds
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	if seconds, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
