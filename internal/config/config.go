package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storefront configures the storefront client core.
type Storefront struct {
	AppEnv               string
	Debug                bool
	APIURL               string
	RequestTimeout       time.Duration
	RedisAddr            string
	RedisPassword        string
	SessionKey           string
	SessionTTL           time.Duration
	SSEMaxAttempts       int
	SSEBaseDelay         time.Duration
	NotificationPageSize int
	JWTSecret            string
}

// Gateway configures the reference gateway server.
type Gateway struct {
	AppEnv            string
	Debug             bool
	HTTPPort          string
	RequestTimeout    time.Duration
	ShutdownTimeout   time.Duration
	HeartbeatInterval time.Duration
	RedisAddr         string
	RedisPassword     string
	CatalogDBPath     string
	JWTSecret         string
	KafkaBrokers      []string
	CheckoutTopic     string
	AdminRoleID       int
}

// LoadDotEnv reads .env when present. A missing file is not an error.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

func LoadStorefront() *Storefront {
	return &Storefront{
		AppEnv:               getEnv("APP_ENV", "development"),
		Debug:                getBool("DEBUG", false),
		APIURL:               strings.TrimRight(getEnv("STOREFRONT_API_URL", getEnv("NEXT_PUBLIC_API_URL", "http://localhost:8080")), "/"),
		RequestTimeout:       getDuration("REQUEST_TIMEOUT", 15*time.Second),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		SessionKey:           getEnv("SESSION_KEY", "default"),
		SessionTTL:           getDuration("SESSION_TTL", 7*24*time.Hour),
		SSEMaxAttempts:       getInt("SSE_MAX_RECONNECT_ATTEMPTS", 5),
		SSEBaseDelay:         getDuration("SSE_BASE_DELAY", 3*time.Second),
		NotificationPageSize: getInt("NOTIFICATION_PAGE_SIZE", 10),
		JWTSecret:            getEnv("JWT_SECRET", "secret"),
	}
}

func LoadGateway() *Gateway {
	var brokers []string
	if raw := getEnv("KAFKA_BROKERS", ""); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return &Gateway{
		AppEnv:            getEnv("APP_ENV", "development"),
		Debug:             getBool("DEBUG", false),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		RequestTimeout:    getDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:   getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		HeartbeatInterval: getDuration("SSE_HEARTBEAT_INTERVAL", 25*time.Second),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		CatalogDBPath:     getEnv("CATALOG_DB_PATH", "catalog.db"),
		JWTSecret:         getEnv("JWT_SECRET", "secret"),
		KafkaBrokers:      brokers,
		CheckoutTopic:     getEnv("CHECKOUT_TOPIC", "checkout-outbox"),
		AdminRoleID:       getInt("ADMIN_ROLE_ID", 1),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}
