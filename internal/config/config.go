/**
 * Configuration for the document scan worker and OCR backend
 *
 * Loads configuration from environment variables (optionally seeded from .env)
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Queue backends
const (
	QueueBackendRedis = "redis"
	QueueBackendAsynq = "asynq"
)

// Recognizers
const (
	RecognizerTesseract = "tesseract"
	RecognizerRemote    = "remote"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL     string
	QueueBackend string
	QueueName    string
	ResultTTL    int // seconds

	// PostgreSQL job status tracking (optional)
	DatabaseURL string

	// Worker configuration
	WorkerConcurrency int
	MaxFileSize       int64
	ProcessingTimeout int // milliseconds

	// Recognition
	Recognizer        string
	OCRBackendURL     string
	TesseractLanguage string

	// Normalization defaults
	MaxWidth int
	ToGray   bool
	Binarize bool
	Sharpen  bool

	// Submission
	SubmitURL     string
	SubmitTimeout int // milliseconds

	// Field rules file merged over the built-in rule table
	FieldRulesPath string

	AppEnv string
}

// BackendConfig holds OCR backend configuration
type BackendConfig struct {
	Port           string
	OCRAPIKey      string
	OCRAPIURL      string
	UploadDir      string
	MaxUploadSize  int64
	AllowedOrigins []string
	OCRTimeout     int // milliseconds
	AppEnv         string
}

// LoadConfig loads worker configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		QueueBackend:      getEnvOrDefault("QUEUE_BACKEND", QueueBackendRedis),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "docscan:jobs"),
		ResultTTL:         getEnvAsIntOrDefault("RESULT_TTL", 3600),
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", ""),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		MaxFileSize:       getEnvAsInt64OrDefault("MAX_FILE_SIZE", 26214400), // 25MB
		ProcessingTimeout: getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 120000), // 2 minutes
		Recognizer:        getEnvOrDefault("RECOGNIZER", RecognizerTesseract),
		OCRBackendURL:     getEnvOrDefault("OCR_BACKEND_URL", "http://localhost:5000"),
		TesseractLanguage: getEnvOrDefault("TESSERACT_LANGUAGE", "eng"),
		MaxWidth:          getEnvAsIntOrDefault("NORMALIZE_MAX_WIDTH", 1600),
		ToGray:            getEnvAsBoolOrDefault("NORMALIZE_GRAY", true),
		Binarize:          getEnvAsBoolOrDefault("NORMALIZE_BINARIZE", true),
		Sharpen:           getEnvAsBoolOrDefault("NORMALIZE_SHARPEN", true),
		SubmitURL:         getEnvOrDefault("SUBMIT_URL", ""),
		SubmitTimeout:     getEnvAsIntOrDefault("SUBMIT_TIMEOUT", 30000),
		FieldRulesPath:    getEnvOrDefault("FIELD_RULES_PATH", ""),
		AppEnv:            getEnvOrDefault("APP_ENV", "development"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}

	switch c.QueueBackend {
	case QueueBackendRedis, QueueBackendAsynq:
	default:
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueBackendRedis, QueueBackendAsynq, c.QueueBackend)
	}

	switch c.Recognizer {
	case RecognizerTesseract:
	case RecognizerRemote:
		if c.OCRBackendURL == "" {
			return fmt.Errorf("OCR_BACKEND_URL is required when RECOGNIZER=%s", RecognizerRemote)
		}
	default:
		return fmt.Errorf("RECOGNIZER must be %q or %q, got %q", RecognizerTesseract, RecognizerRemote, c.Recognizer)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 64 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 64, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 268435456 { // 1KB to 256MB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 256MB, got %d", c.MaxFileSize)
	}

	if c.MaxWidth < 1 {
		return fmt.Errorf("NORMALIZE_MAX_WIDTH must be positive, got %d", c.MaxWidth)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.ResultTTL < 0 {
		return fmt.Errorf("RESULT_TTL must not be negative, got %d", c.ResultTTL)
	}

	return nil
}

// LoadBackendConfig loads OCR backend configuration from environment variables
func LoadBackendConfig() (*BackendConfig, error) {
	cfg := &BackendConfig{
		Port:           getEnvOrDefault("PORT", "5000"),
		OCRAPIKey:      getEnvOrDefault("OCR_API_KEY", ""),
		OCRAPIURL:      getEnvOrDefault("OCR_API_URL", "https://api.ocr.space/parse/image"),
		UploadDir:      getEnvOrDefault("UPLOAD_DIR", "uploads"),
		MaxUploadSize:  getEnvAsInt64OrDefault("MAX_UPLOAD_SIZE", 10485760), // 10MB
		AllowedOrigins: getEnvAsListOrDefault("CORS_ALLOWED_ORIGINS", []string{"*"}),
		OCRTimeout:     getEnvAsIntOrDefault("OCR_TIMEOUT", 60000),
		AppEnv:         getEnvOrDefault("APP_ENV", "development"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if backend configuration is valid
func (c *BackendConfig) Validate() error {
	if c.OCRAPIKey == "" {
		return fmt.Errorf("OCR_API_KEY is required")
	}

	if c.OCRAPIURL == "" {
		return fmt.Errorf("OCR_API_URL is required")
	}

	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR is required")
	}

	if c.MaxUploadSize < 1024 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be at least 1KB, got %d", c.MaxUploadSize)
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsListOrDefault splits a comma separated environment variable
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}

	if len(values) == 0 {
		return defaultValue
	}

	return values
}
