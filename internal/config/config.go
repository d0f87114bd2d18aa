// Package config provides configuration management for the callback relay
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the relay
type Config struct {
	Server   ServerConfig
	Merchant MerchantConfig
	Forward  ForwardConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// MerchantConfig holds the gateway credentials of the shop
type MerchantConfig struct {
	Login              string
	PaymentPassword    string
	ValidationPassword string
	HashAlgo           string
	Test               bool
	// Strict makes the relay confirm every notification against the
	// gateway's invoice state before forwarding it.
	Strict bool
}

// ForwardConfig holds the downstream endpoint validated events go to
type ForwardConfig struct {
	URL       string
	JWTSecret string
	Timeout   time.Duration
}

// ErrMissingCredentials is returned by Load when the merchant login or one
// of the passwords is not configured.
var ErrMissingCredentials = errors.New("RELAY_MERCHANT_LOGIN, RELAY_PAYMENT_PASSWORD and RELAY_VALIDATION_PASSWORD must be set")

// Load loads configuration from the environment with defaults. A .env file
// in the working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Addr:         getEnv("RELAY_ADDR", ":8080"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Merchant: MerchantConfig{
			Login:              os.Getenv("RELAY_MERCHANT_LOGIN"),
			PaymentPassword:    os.Getenv("RELAY_PAYMENT_PASSWORD"),
			ValidationPassword: os.Getenv("RELAY_VALIDATION_PASSWORD"),
			HashAlgo:           getEnv("RELAY_HASH_ALGO", "md5"),
			Test:               getBool("RELAY_TEST_MODE", false),
			Strict:             getBool("RELAY_STRICT", false),
		},
		Forward: ForwardConfig{
			URL:       os.Getenv("RELAY_FORWARD_URL"),
			JWTSecret: getEnv("RELAY_JWT_SECRET", "relay-dev-secret-change-in-production"),
			Timeout:   10 * time.Second,
		},
	}

	if cfg.Merchant.Login == "" || cfg.Merchant.PaymentPassword == "" || cfg.Merchant.ValidationPassword == "" {
		return nil, ErrMissingCredentials
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
