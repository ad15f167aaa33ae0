package app

import (
	"time"

	cmnenv "office_server/server/common/env"
	"office_server/server/office/service"
)

// Config holds the office process settings. Empty infrastructure endpoints
// disable the matching integration.
type Config struct {
	Env           string
	Port          string
	JWTSecret     string
	JWTTTLMinutes int

	OrganizationID     string
	FloorplanPath      string
	ProximityThreshold float64
	GracePeriod        time.Duration
	MaxObjects         int
	ChatTail           int
	OutboxSize         int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LavinMQURL    string
	PostgresDSN   string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	IntegrationKeyHash string
}

func LoadConfig() Config {
	return Config{
		Env:                cmnenv.String("APP_ENV", "dev"),
		Port:               cmnenv.String("PORT", "8080"),
		JWTSecret:          cmnenv.String("JWT_SECRET", "change-me-in-production"),
		JWTTTLMinutes:      cmnenv.Int("JWT_TTL_MINUTES", 1440),
		OrganizationID:     cmnenv.String("OFFICE_ORG_ID", "default"),
		FloorplanPath:      cmnenv.String("FLOORPLAN_PATH", ""),
		ProximityThreshold: cmnenv.Float("OFFICE_PROXIMITY_THRESHOLD", service.DefaultProximityThreshold),
		GracePeriod:        cmnenv.Seconds("OFFICE_GRACE_SECONDS", service.DefaultGracePeriod),
		MaxObjects:         cmnenv.Int("OFFICE_MAX_OBJECTS", service.DefaultMaxObjects),
		ChatTail:           cmnenv.Int("OFFICE_CHAT_TAIL", service.DefaultChatTail),
		OutboxSize:         cmnenv.Int("OFFICE_OUTBOX_SIZE", 4096),
		RedisAddr:          cmnenv.String("REDIS_ADDR", ""),
		RedisPassword:      cmnenv.String("REDIS_PASSWORD", ""),
		RedisDB:            cmnenv.Int("REDIS_DB", 0),
		LavinMQURL:         cmnenv.String("LAVINMQ_URL", ""),
		PostgresDSN:        cmnenv.String("POSTGRES_DSN", ""),
		MinioEndpoint:      cmnenv.String("MINIO_ENDPOINT", ""),
		MinioAccessKey:     cmnenv.String("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey:     cmnenv.String("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:        cmnenv.String("MINIO_BUCKET", "office-attachments"),
		MinioUseSSL:        cmnenv.Bool("MINIO_USE_SSL", false),
		IntegrationKeyHash: cmnenv.String("CALENDAR_INTEGRATION_KEY_HASH", ""),
	}
}
