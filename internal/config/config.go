package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	OTP      OTPConfig
	SMS      SMSConfig
	Tracker  TrackerConfig
	Portals  []PortalConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey     string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

type OTPConfig struct {
	Length      int
	Expiry      time.Duration
	MaxAttempts int
	// RegistrationWindow is how long a verified session for an unregistered
	// phone stays usable for the registration step.
	RegistrationWindow time.Duration
	HashCost           int
	DeliveryTimeout    time.Duration
}

// SMSConfig selects the OTP delivery channel. With no GatewayURL codes are
// only logged, which is what local development uses.
type SMSConfig struct {
	GatewayURL string
	APIKey     string
	SenderID   string
}

type TrackerConfig struct {
	StaleAfter      time.Duration
	PortalTimeout   time.Duration
	SyncConcurrency int
}

type PortalConfig struct {
	Name    string
	BaseURL string
	Secret  string
	// Scheme is the webhook signature scheme: "hmac-sha256" or "static".
	Scheme string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	portals, err := ParsePortals(getEnv("PORTALS", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "ap-south-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "KarigarTable"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", ""),
			AccessExpiry:  getEnvAsDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshExpiry: getEnvAsDuration("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
		},
		OTP: OTPConfig{
			Length:             getEnvAsInt("OTP_LENGTH", 6),
			Expiry:             getEnvAsDuration("OTP_EXPIRY", 5*time.Minute),
			MaxAttempts:        getEnvAsInt("OTP_MAX_ATTEMPTS", 3),
			RegistrationWindow: getEnvAsDuration("OTP_REGISTRATION_WINDOW", 10*time.Minute),
			HashCost:           getEnvAsInt("OTP_HASH_COST", 10),
			DeliveryTimeout:    getEnvAsDuration("OTP_DELIVERY_TIMEOUT", 5*time.Second),
		},
		SMS: SMSConfig{
			GatewayURL: getEnv("SMS_GATEWAY_URL", ""),
			APIKey:     getEnv("SMS_API_KEY", ""),
			SenderID:   getEnv("SMS_SENDER_ID", "KARGAR"),
		},
		Tracker: TrackerConfig{
			StaleAfter:      getEnvAsDuration("TRACKER_STALE_AFTER", 15*time.Minute),
			PortalTimeout:   getEnvAsDuration("TRACKER_PORTAL_TIMEOUT", 5*time.Second),
			SyncConcurrency: getEnvAsInt("TRACKER_SYNC_CONCURRENCY", 4),
		},
		Portals: portals,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if c.OTP.Length <= 0 {
		return fmt.Errorf("OTP_LENGTH must be > 0")
	}

	if c.OTP.MaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be > 0")
	}

	if c.Tracker.SyncConcurrency <= 0 {
		return fmt.Errorf("TRACKER_SYNC_CONCURRENCY must be > 0")
	}

	return nil
}

// ParsePortals reads a comma separated list of name|baseURL|secret[|scheme]
// entries.
func ParsePortals(raw string) ([]PortalConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var portals []PortalConfig
	seen := make(map[string]bool)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, "|")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("invalid PORTALS entry %q: want name|baseURL|secret[|scheme]", entry)
		}

		p := PortalConfig{
			Name:    strings.TrimSpace(parts[0]),
			BaseURL: strings.TrimRight(strings.TrimSpace(parts[1]), "/"),
			Secret:  strings.TrimSpace(parts[2]),
			Scheme:  "hmac-sha256",
		}
		if len(parts) == 4 {
			p.Scheme = strings.TrimSpace(parts[3])
		}

		if p.Name == "" || p.Secret == "" {
			return nil, fmt.Errorf("invalid PORTALS entry %q: name and secret are required", entry)
		}
		if p.Scheme != "hmac-sha256" && p.Scheme != "static" {
			return nil, fmt.Errorf("invalid PORTALS entry %q: unknown signature scheme %q", entry, p.Scheme)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate portal %q in PORTALS", p.Name)
		}
		seen[p.Name] = true

		portals = append(portals, p)
	}

	return portals, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
