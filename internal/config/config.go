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
	StoreDir       string
	HTTPHost       string
	HTTPPort       int
	CatalogType    string
	CatalogOptions string
	ContentType    string
	ContentOptions string
	MaxUploadBytes int64
	SweepAfter     time.Duration
	LogLevel       string

	KafkaBrokers      []string
	KafkaRequestTopic string
	KafkaEventTopic   string
	KafkaGroupID      string

	RedisAddr     string
	RedisPassword string
	RateLimit     int
	RateWindow    time.Duration

	MongoURI      string
	MongoDatabase string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioBucket    string

	ResolverURL  string
	FetchTimeout time.Duration
}

// Load reads .env when present, then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: ignoring .env: %v", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, applying defaults.
func FromEnv(getenv func(string) string) Config {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		StoreDir:       get("STORE_DIR", "Videos"),
		HTTPHost:       get("HTTP_HOST", "0.0.0.0"),
		HTTPPort:       intValue(get("HTTP_PORT", ""), 8000),
		CatalogType:    get("CATALOG_TYPE", "none"),
		CatalogOptions: get("CATALOG_OPTIONS", ""),
		ContentType:    get("CONTENT_TYPE", "fs"),
		ContentOptions: get("CONTENT_OPTIONS", ""),
		MaxUploadBytes: int64Value(get("MAX_UPLOAD_BYTES", ""), 2<<30),
		SweepAfter:     durationValue(get("SWEEP_AFTER", ""), 24*time.Hour),
		LogLevel:       get("LOG_LEVEL", "info"),

		KafkaBrokers:      SplitCSV(get("KAFKA_BROKERS", "")),
		KafkaRequestTopic: get("KAFKA_REQUEST_TOPIC", "fetch-requests"),
		KafkaEventTopic:   get("KAFKA_EVENT_TOPIC", "asset-events"),
		KafkaGroupID:      get("KAFKA_GROUP_ID", "teradrop-bot"),

		RedisAddr:     get("REDIS_ADDR", ""),
		RedisPassword: get("REDIS_PASSWORD", ""),
		RateLimit:     intValue(get("RATE_LIMIT", ""), 5),
		RateWindow:    durationValue(get("RATE_WINDOW", ""), time.Minute),

		MongoURI:      get("MONGO_URI", ""),
		MongoDatabase: get("MONGO_DATABASE", "teradrop"),

		MinioEndpoint:  get("MINIO_ENDPOINT", ""),
		MinioAccessKey: get("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: get("MINIO_SECRET_KEY", ""),
		MinioUseSSL:    boolValue(get("MINIO_USE_SSL", "")),
		MinioBucket:    get("MINIO_BUCKET", "teradrop-archive"),

		ResolverURL:  get("RESOLVER_URL", ""),
		FetchTimeout: durationValue(get("FETCH_TIMEOUT", ""), 30*time.Minute),
	}
	if cfg.ContentType == "fs" && cfg.ContentOptions == "" {
		cfg.ContentOptions = cfg.StoreDir
	}
	return cfg
}

func SplitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intValue(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}

func int64Value(s string, def int64) int64 {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	return def
}

func durationValue(s string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	return def
}

func boolValue(s string) bool {
	return s == "true" || s == "1"
}
