package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBFile      string
	AdminAddr   string
	APIAddr     string
	UploadsPath string
	JWTSecret   string
	TokenExpiry time.Duration
	// AuthTimeout bounds the wait for the authenticate frame on a new socket.
	AuthTimeout      time.Duration
	RoomHistory      int
	MaxUploadSize    int64
	UploadsPerMinute int
	VAPIDPublicKey   string
	VAPIDPrivateKey  string
	VAPIDSubject     string
}

func Load(cliMode bool) (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, fmt.Errorf("TOKEN_EXPIRY: %w", err)
	}
	authTimeout, err := time.ParseDuration(getEnv("AUTH_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("AUTH_TIMEOUT: %w", err)
	}
	roomHistory, err := strconv.Atoi(getEnv("ROOM_HISTORY", "50"))
	if err != nil {
		return nil, fmt.Errorf("ROOM_HISTORY: %w", err)
	}
	maxUpload, err := strconv.ParseInt(getEnv("MAX_UPLOAD_SIZE", "10485760"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("MAX_UPLOAD_SIZE: %w", err)
	}
	uploadsPerMinute, err := strconv.Atoi(getEnv("UPLOADS_PER_MINUTE", "5"))
	if err != nil {
		return nil, fmt.Errorf("UPLOADS_PER_MINUTE: %w", err)
	}

	cfg := &Config{
		DBFile:           getEnv("MIYAV_DB", "miyav.db"),
		AdminAddr:        getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:          getEnv("API_ADDR", ":8080"),
		UploadsPath:      getEnv("UPLOADS_PATH", "uploads"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		TokenExpiry:      tokenExpiry,
		AuthTimeout:      authTimeout,
		RoomHistory:      roomHistory,
		MaxUploadSize:    maxUpload,
		UploadsPerMinute: uploadsPerMinute,
		VAPIDPublicKey:   os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:  os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:     getEnv("VAPID_SUBJECT", "mailto:admin@miyav.local"),
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the server settings. CLI commands only talk to the admin API and need no secret.
func (c *Config) Validate(cliMode bool) error {
	if c.JWTSecret == "" && !cliMode {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("AUTH_TIMEOUT must be greater than 0")
	}
	if c.RoomHistory <= 0 {
		return fmt.Errorf("ROOM_HISTORY must be greater than 0")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be greater than 0")
	}
	if c.UploadsPerMinute < 0 {
		return fmt.Errorf("UPLOADS_PER_MINUTE must not be negative")
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
