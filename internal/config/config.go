package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	APIToken    string
	CRMBaseURL  string
	CRMToken    string
	RealtimeURL string
	PageSize    int
	MaxTabs     int
	Port        string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("UNIBOX_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment: env,
		APIToken:    os.Getenv("UNIBOX_API_TOKEN"),
		CRMBaseURL:  os.Getenv("UNIBOX_CRM_BASE_URL"),
		CRMToken:    os.Getenv("UNIBOX_CRM_TOKEN"),
		RealtimeURL: os.Getenv("UNIBOX_REALTIME_URL"),
		PageSize:    getEnvIntOrDefault("UNIBOX_PAGE_SIZE", 50),
		MaxTabs:     getEnvIntOrDefault("UNIBOX_MAX_TABS", 10),
		Port:        getEnvOrDefault("PORT", "8080"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.APIToken == "" {
		return fmt.Errorf("UNIBOX_API_TOKEN is required")
	}

	if c.CRMBaseURL == "" {
		return fmt.Errorf("UNIBOX_CRM_BASE_URL is required")
	}

	if c.RealtimeURL == "" {
		return fmt.Errorf("UNIBOX_REALTIME_URL is required")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
