package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv      string
	Port         string
	ServerSecret string
	JWTSecret    string
	Database     DatabaseConfig
	Delivery     DeliveryConfig
	Erp          ErpConfig
	Otp          OtpChannelConfig
	EvidenceDir  string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// DeliveryConfig holds the tunable constants of the confirmation protocol
type DeliveryConfig struct {
	OtpLength      int
	OtpMaxRequests int
	OtpWindow      time.Duration
	SessionTTL     time.Duration
	QrTTL          time.Duration
}

// ErpConfig holds settings for the external order-of-record system
type ErpConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

// OtpChannelConfig holds outbound OTP channel settings
type OtpChannelConfig struct {
	GatewayURL string
	GatewayKey string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	serverSecret := os.Getenv("SERVER_SECRET")
	if serverSecret == "" {
		return nil, fmt.Errorf("SERVER_SECRET is required")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &Config{
		NodeEnv:      getEnv("NODE_ENV", "development"),
		Port:         getEnv("PORT", "3210"),
		ServerSecret: serverSecret,
		JWTSecret:    jwtSecret,
		EvidenceDir:  getEnv("EVIDENCE_DIR", "./evidence"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "mesanova_entregas"),
		},
		Delivery: DeliveryConfig{
			OtpLength:      getEnvInt("OTP_LENGTH", 6),
			OtpMaxRequests: getEnvInt("OTP_MAX_REQUESTS", 5),
			OtpWindow:      time.Duration(getEnvInt("OTP_WINDOW_MINUTES", 15)) * time.Minute,
			SessionTTL:     time.Duration(getEnvInt("SESSION_TTL_MINUTES", 20)) * time.Minute,
			QrTTL:          time.Duration(getEnvInt("QR_TTL_HOURS", 24)) * time.Hour,
		},
		Erp: ErpConfig{
			URL:      os.Getenv("ERP_URL"),
			Database: os.Getenv("ERP_DATABASE"),
			Username: os.Getenv("ERP_USERNAME"),
			Password: os.Getenv("ERP_PASSWORD"),
		},
		Otp: OtpChannelConfig{
			GatewayURL: os.Getenv("OTP_GATEWAY_URL"),
			GatewayKey: os.Getenv("OTP_GATEWAY_KEY"),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
