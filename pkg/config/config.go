package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	Environment     string
	DatabasePath    string
	JWTSecret       string
	TokenTTL        time.Duration
	CORSOrigins     string
	MaxUploadSize   int64
	FileStoragePath string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	WSEventsPerSecond float64
	WSEventBurst      int
}

// Load reads configuration from the environment. Variables already set in
// the process win over the env file named by HELLOCHAT_ENV_FILE, which
// defaults to .env when present.
func Load() *Config {
	loadEnvFile()

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		DatabasePath:    getEnv("DATABASE_PATH", "./data/hellochat.db"),
		JWTSecret:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		TokenTTL:        parseDuration(getEnv("TOKEN_TTL", "24h"), 24*time.Hour),
		CORSOrigins:     getEnv("CORS_ORIGINS", "*"),
		MaxUploadSize:   parseInt64(getEnv("MAX_UPLOAD_SIZE", "10485760"), 10485760), // 10MB default
		FileStoragePath: getEnv("FILE_STORAGE_PATH", "./data/uploads"),

		VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
		VAPIDSubscriber: getEnv("VAPID_SUBSCRIBER", "mailto:push@hellochat.local"),

		WSEventsPerSecond: parseFloat(getEnv("WS_EVENTS_PER_SECOND", "10"), 10),
		WSEventBurst:      int(parseInt64(getEnv("WS_EVENT_BURST", "20"), 20)),
	}
}

func loadEnvFile() {
	path, explicit := os.LookupEnv("HELLOCHAT_ENV_FILE")
	if !explicit {
		path = ".env"
		if _, err := os.Stat(path); err != nil {
			return
		}
	}
	// godotenv.Load never overrides variables that are already set
	if err := godotenv.Load(path); err != nil {
		log.Printf("config: failed to load env file %s: %v", path, err)
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseInt64(s string, fallback int64) int64 {
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}

func parseFloat(s string, fallback float64) float64 {
	val, err := strconv.ParseFloat(s, 64)
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
