package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// APIServerConfig 保存 API 服务器特有的配置。
type APIServerConfig struct {
	Host string     `mapstructure:"HOST"`
	Port string     `mapstructure:"PORT"`
	CORS CORSConfig `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// RedisConfig holds configuration for Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
}

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string          `mapstructure:"APP_NAME"`
	AppVersion string          `mapstructure:"APP_VERSION"`
	LogLevel   string          `mapstructure:"LOG_LEVEL"`
	Server     ServerConfig    `mapstructure:"SERVER"`     // ChatServer (WebSocket) 的配置
	APIServer  APIServerConfig `mapstructure:"API_SERVER"` // REST API 服务器配置
	Kafka      KafkaConfig     `mapstructure:"KAFKA"`
	Database   DatabaseConfig  `mapstructure:"DATABASE"`
	Storage    StorageConfig   `mapstructure:"STORAGE"`
	Auth       AuthConfig      `mapstructure:"AUTH"`
	WebSocket  WebSocketConfig `mapstructure:"WEBSOCKET"`
	Redis      RedisConfig     `mapstructure:"REDIS"`
	Messaging  MessagingConfig `mapstructure:"MESSAGING"`
	Presence   PresenceConfig  `mapstructure:"PRESENCE"`
	Delivery   DeliveryConfig  `mapstructure:"DELIVERY"`
	Client     ClientConfig    `mapstructure:"CLIENT"`
}

// ServerConfig holds configuration for the chat (push) server.
type ServerConfig struct {
	Host           string        `mapstructure:"HOST"`
	Port           string        `mapstructure:"PORT"`
	WebSocketPath  string        `mapstructure:"WEBSOCKET_PATH"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"`
	MaxHeaderBytes int           `mapstructure:"MAX_HEADER_BYTES"`
}

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Enabled                bool     `mapstructure:"ENABLED"`
	Brokers                []string `mapstructure:"BROKERS"`
	ClientID               string   `mapstructure:"CLIENT_ID"`
	WebSocketOutgoingTopic string   `mapstructure:"WEBSOCKET_OUTGOING_TOPIC"` // 服务端推向客户端的事件
	ConsumerGroup          string   `mapstructure:"CONSUMER_GROUP"`           // 每个 ChatServer 实例会追加唯一后缀
	Protocol               string   `mapstructure:"PROTOCOL"`
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type     string `mapstructure:"TYPE"` // "postgres" or "memory"
	Host     string `mapstructure:"HOST"`
	Port     int    `mapstructure:"PORT"`
	User     string `mapstructure:"USER"`
	Password string `mapstructure:"PASSWORD"`
	DBName   string `mapstructure:"DB_NAME"`
	SSLMode  string `mapstructure:"SSL_MODE"`
	LogSQL   bool   `mapstructure:"LOG_SQL"`
}

// StorageConfig holds configuration for file storage.
type StorageConfig struct {
	Type          string `mapstructure:"TYPE"` // only "local" is implemented
	LocalPath     string `mapstructure:"LOCAL_PATH"`
	BaseURL       string `mapstructure:"BASE_URL"`
	MaxFileSizeMB int64  `mapstructure:"MAX_FILE_SIZE_MB"`
}

// AuthConfig holds configuration for authentication (e.g., JWT).
type AuthConfig struct {
	JWTSecretKey string        `mapstructure:"JWT_SECRET_KEY"`
	JWTExpiry    time.Duration `mapstructure:"JWT_EXPIRY"`
	JWTIssuer    string        `mapstructure:"JWT_ISSUER"`
}

// WebSocketConfig holds configuration for WebSocket connections.
type WebSocketConfig struct {
	WriteWaitSeconds    int `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds     int `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds   int `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes int `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
	SendBufferSize      int `mapstructure:"SEND_BUFFER_SIZE"`
}

// MessagingConfig holds limits applied by the conversation store.
type MessagingConfig struct {
	MaxContentLength  int     `mapstructure:"MAX_CONTENT_LENGTH"`
	DefaultPageSize   int     `mapstructure:"DEFAULT_PAGE_SIZE"`
	MaxPageSize       int     `mapstructure:"MAX_PAGE_SIZE"`
	ReplyPreviewRunes int     `mapstructure:"REPLY_PREVIEW_RUNES"`
	SendRatePerSecond float64 `mapstructure:"SEND_RATE_PER_SECOND"`
	SendBurst         int     `mapstructure:"SEND_BURST"`
}

// PresenceConfig configures the typing tracker.
type PresenceConfig struct {
	Backend       string        `mapstructure:"BACKEND"` // "memory" or "redis"
	TypingTTL     time.Duration `mapstructure:"TYPING_TTL"`
	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`
}

// DeliveryConfig configures the client-side delivery coordinator.
type DeliveryConfig struct {
	InitialFetchLimit int           `mapstructure:"INITIAL_FETCH_LIMIT"`
	PollInterval      time.Duration `mapstructure:"POLL_INTERVAL"`
	TombstoneTTL      time.Duration `mapstructure:"TOMBSTONE_TTL"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ReconnectMin      time.Duration `mapstructure:"RECONNECT_MIN"`
	ReconnectMax      time.Duration `mapstructure:"RECONNECT_MAX"`
}

// ClientConfig is used by cmd/chatclient.
type ClientConfig struct {
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	WSURL      string `mapstructure:"WS_URL"`
	Token      string `mapstructure:"TOKEN"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "Campus-IM")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("LOG_LEVEL", "info")

	// ChatServer defaults
	v.SetDefault("SERVER.HOST", "0.0.0.0")
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.WEBSOCKET_PATH", "/ws/chat")
	v.SetDefault("SERVER.READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.MAX_HEADER_BYTES", 1<<20) // 1 MB

	// APIServer defaults
	v.SetDefault("API_SERVER.HOST", "0.0.0.0")
	v.SetDefault("API_SERVER.PORT", "8081")
	v.SetDefault("API_SERVER.CORS.ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"})
	v.SetDefault("API_SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length"})
	v.SetDefault("API_SERVER.CORS.ALLOW_CREDENTIALS", true)
	v.SetDefault("API_SERVER.CORS.MAX_AGE", 300) // 5 minutes

	// Kafka defaults
	v.SetDefault("KAFKA.ENABLED", true)
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "campus-im")
	v.SetDefault("KAFKA.WEBSOCKET_OUTGOING_TOPIC", "im-websocket-outgoing")
	v.SetDefault("KAFKA.CONSUMER_GROUP", "im-chat-server")
	v.SetDefault("KAFKA.PROTOCOL", "plaintext")

	// Database defaults (PostgreSQL)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "campus_im")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.LOG_SQL", false)

	// Storage defaults
	v.SetDefault("STORAGE.TYPE", "local")
	v.SetDefault("STORAGE.LOCAL_PATH", "./uploads")
	v.SetDefault("STORAGE.BASE_URL", "/uploads")
	v.SetDefault("STORAGE.MAX_FILE_SIZE_MB", 25)

	// Auth defaults
	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")
	v.SetDefault("AUTH.JWT_EXPIRY", 15*time.Minute)
	v.SetDefault("AUTH.JWT_ISSUER", "campus-identity")

	// Redis defaults
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)

	// WebSocket defaults
	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 4096)
	v.SetDefault("WEBSOCKET.SEND_BUFFER_SIZE", 256)

	// Messaging defaults
	v.SetDefault("MESSAGING.MAX_CONTENT_LENGTH", 4000)
	v.SetDefault("MESSAGING.DEFAULT_PAGE_SIZE", 50)
	v.SetDefault("MESSAGING.MAX_PAGE_SIZE", 200)
	v.SetDefault("MESSAGING.REPLY_PREVIEW_RUNES", 200)
	v.SetDefault("MESSAGING.SEND_RATE_PER_SECOND", 5.0)
	v.SetDefault("MESSAGING.SEND_BURST", 10)

	// Presence defaults
	v.SetDefault("PRESENCE.BACKEND", "memory")
	v.SetDefault("PRESENCE.TYPING_TTL", 3*time.Second)
	v.SetDefault("PRESENCE.SWEEP_INTERVAL", time.Second)

	// Delivery defaults
	v.SetDefault("DELIVERY.INITIAL_FETCH_LIMIT", 50)
	v.SetDefault("DELIVERY.POLL_INTERVAL", 5*time.Second)
	v.SetDefault("DELIVERY.TOMBSTONE_TTL", 2*time.Minute)
	v.SetDefault("DELIVERY.REQUEST_TIMEOUT", 10*time.Second)
	v.SetDefault("DELIVERY.RECONNECT_MIN", 500*time.Millisecond)
	v.SetDefault("DELIVERY.RECONNECT_MAX", 30*time.Second)

	// Client defaults
	v.SetDefault("CLIENT.API_BASE_URL", "http://localhost:8081")
	v.SetDefault("CLIENT.WS_URL", "ws://localhost:8080/ws/chat")
	v.SetDefault("CLIENT.TOKEN", "")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// 本地开发可放一个 .env，已存在的环境变量优先
	_ = godotenv.Load()
	v.AutomaticEnv()
	// For nested keys viper uses underscore: DELIVERY_POLL_INTERVAL overrides DELIVERY.POLL_INTERVAL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		// 没有配置文件时使用默认值
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}
