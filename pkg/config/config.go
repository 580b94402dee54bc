package config

import (
	"fmt"
	"time"

	"lexhub-backend/pkg/env"
)

// Signaling backends
const (
	BackendFirestore = "firestore"
	BackendRedis     = "redis"
	BackendMemory    = "memory"
)

// DefaultSTUNServers is the fixed public STUN list handed to every peer connection. No TURN.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Signaling SignalingConfig
	Firebase  FirebaseConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	MinIO     MinIOConfig
	JWT       JWTConfig
	Push      PushConfig
	Log       LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Environment    string // development, staging, production
	ServiceName    string
	AllowedOrigins []string
	MaxWSConns     int
}

// SignalingConfig controls the call signaling channel and peer connections
type SignalingConfig struct {
	Backend           string // firestore, redis, memory
	STUNServers       []string
	CandidatePoolSize int
	RecencyWindow     time.Duration
	RingTimeout       time.Duration // 0 rings until hangup
	RecordTTL         time.Duration
	JanitorInterval   time.Duration
	CandidateRetries  int
	DisconnectedAfter time.Duration
	FailedAfter       time.Duration
	KeepAliveInterval time.Duration
	EnableCapture     bool // use camera/microphone when the binary was built with capture support
}

// FirebaseConfig holds Firebase Admin SDK configuration
type FirebaseConfig struct {
	ProjectID       string
	CredentialsPath string
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// CassandraConfig holds Cassandra configuration
type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Consistency string
	Username    string
	Password    string
	Timeout     time.Duration
}

// MinIOConfig holds MinIO configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	URLExpiry time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
	AnonymousExpiry   time.Duration
}

// PushConfig selects the push provider used for offline call notifications
type PushConfig struct {
	Provider       string // mock, fcm, apns
	APNsBundleID   string
	APNsKeyPath    string
	APNsKeyID      string
	APNsTeamID     string
	APNsCertPath   string
	APNsCertPass   string
	APNsProduction bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           env.GetInt("PORT", 8080),
			Environment:    env.GetString("ENV", "development"),
			ServiceName:    env.GetString("SERVICE_NAME", "support-service"),
			AllowedOrigins: env.GetStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://127.0.0.1:3000"}),
			MaxWSConns:     env.GetInt("WS_MAX_CONNECTIONS", 1000),
		},
		Signaling: SignalingConfig{
			Backend:           env.GetString("SIGNALING_BACKEND", BackendFirestore),
			STUNServers:       env.GetStringSlice("STUN_SERVERS", DefaultSTUNServers),
			CandidatePoolSize: env.GetInt("ICE_CANDIDATE_POOL_SIZE", 10),
			RecencyWindow:     env.GetDuration("CALL_RECENCY_WINDOW", 10*time.Second),
			RingTimeout:       env.GetDuration("RING_TIMEOUT", 0),
			RecordTTL:         env.GetDuration("CALL_RECORD_TTL", 2*time.Minute),
			JanitorInterval:   env.GetDuration("CALL_JANITOR_INTERVAL", 30*time.Second),
			CandidateRetries:  env.GetInt("CANDIDATE_WRITE_RETRIES", 3),
			DisconnectedAfter: env.GetDuration("ICE_DISCONNECTED_TIMEOUT", 30*time.Second),
			FailedAfter:       env.GetDuration("ICE_FAILED_TIMEOUT", 120*time.Second),
			KeepAliveInterval: env.GetDuration("ICE_KEEPALIVE_INTERVAL", 2*time.Second),
			EnableCapture:     env.GetBool("MEDIA_CAPTURE", false),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.GetStringFromFile("FIREBASE_PROJECT_ID", ""),
			CredentialsPath: env.GetString("FIREBASE_CREDENTIALS_PATH", env.GetString("GOOGLE_APPLICATION_CREDENTIALS", "")),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "lexhub"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Cassandra: CassandraConfig{
			Hosts:       env.GetStringSlice("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace:    env.GetString("CASSANDRA_KEYSPACE", "lexhub"),
			Consistency: env.GetString("CASSANDRA_CONSISTENCY", "QUORUM"),
			Username:    env.GetString("CASSANDRA_USER", ""),
			Password:    env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
			Timeout:     env.GetDuration("CASSANDRA_TIMEOUT", 600*time.Millisecond),
		},
		MinIO: MinIOConfig{
			Endpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env.GetStringFromFile("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
			UseSSL:    env.GetBool("MINIO_USE_SSL", false),
			Bucket:    env.GetString("MINIO_BUCKET", "support-attachments"),
			URLExpiry: env.GetDuration("MINIO_URL_EXPIRY", 15*time.Minute),
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			AnonymousExpiry:   env.GetDuration("JWT_ANONYMOUS_EXPIRY", 24*time.Hour),
		},
		Push: PushConfig{
			Provider:       env.GetString("PUSH_PROVIDER", "mock"),
			APNsBundleID:   env.GetString("APNS_BUNDLE_ID", ""),
			APNsKeyPath:    env.GetString("APNS_KEY_PATH", ""),
			APNsKeyID:      env.GetString("APNS_KEY_ID", ""),
			APNsTeamID:     env.GetString("APNS_TEAM_ID", ""),
			APNsCertPath:   env.GetString("APNS_CERT_PATH", ""),
			APNsCertPass:   env.GetStringFromFile("APNS_CERT_PASSWORD", ""),
			APNsProduction: env.GetBool("APNS_PRODUCTION", false),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/lexhub.log"),
		},
	}

	// Validate critical configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Signaling.Backend {
	case BackendFirestore, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown SIGNALING_BACKEND %q", c.Signaling.Backend)
	}

	if c.Signaling.CandidatePoolSize < 0 || c.Signaling.CandidatePoolSize > 255 {
		return fmt.Errorf("ICE_CANDIDATE_POOL_SIZE must be between 0 and 255")
	}
	if c.Signaling.RecencyWindow <= 0 {
		return fmt.Errorf("CALL_RECENCY_WINDOW must be positive")
	}
	if c.Signaling.RingTimeout < 0 {
		return fmt.Errorf("RING_TIMEOUT must not be negative")
	}

	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.Signaling.Backend == BackendMemory {
			return fmt.Errorf("SIGNALING_BACKEND=memory is not allowed in production")
		}
		if c.Push.Provider == "mock" {
			return fmt.Errorf("PUSH_PROVIDER=mock is not allowed in production")
		}
	}

	return nil
}

// IsProduction reports whether the service runs with production rules
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
