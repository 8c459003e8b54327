// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds configuration shared by the Lambda handlers and the hook
// forwarder. Each binary validates only the fields it needs.
type Config struct {
	// AWS configuration
	AWSRegion     string
	AssumeRoleARN string // Optional: IAM role ARN to assume via STS

	// Record store tables
	UserTable              string
	ActiveMeetingsTable    string
	ScheduledMeetingsTable string

	// WebSocket management API endpoint for pushing to connections
	WebsocketEndpoint string

	// Conferencing provider API
	ZoomBaseURL   string
	ZoomAPIKey    string
	ZoomAPISecret string

	// Reminder trigger target (the notifications Lambda)
	NotificationFunctionName string
	NotificationFunctionARN  string

	// Missed-meeting email transport
	NotifEmail         string
	NotifEmailPassword string
	SMTPHost           string
	SMTPPort           int

	// Hook forwarder
	WebhookSocketURL string

	// Server configuration
	Port string
	Bind string

	// Logging
	Debug bool
}

// Load reads configuration from the environment. A local .env file is
// loaded first when present so the binaries can run outside the platform.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AWSRegion:                os.Getenv("AWS_REGION"),
		AssumeRoleARN:            os.Getenv("AWS_ASSUME_ROLE_ARN"),
		UserTable:                os.Getenv("USER_TABLE_NAME"),
		ActiveMeetingsTable:      os.Getenv("ACTIVE_MEETINGS_TABLE_NAME"),
		ScheduledMeetingsTable:   os.Getenv("SCHEDULED_MEETINGS_TABLE_NAME"),
		WebsocketEndpoint:        os.Getenv("WEBSOCKET_ENDPOINT"),
		ZoomBaseURL:              os.Getenv("ZOOM_BASE_URL"),
		ZoomAPIKey:               os.Getenv("ZOOM_API_KEY"),
		ZoomAPISecret:            os.Getenv("ZOOM_API_SECRET"),
		NotificationFunctionName: os.Getenv("NOTIFICATION_FUNCTION_NAME"),
		NotificationFunctionARN:  os.Getenv("NOTIFICATION_FUNCTION_ARN"),
		NotifEmail:               os.Getenv("NOTIF_EMAIL"),
		NotifEmailPassword:       os.Getenv("NOTIF_EMAIL_PASSWORD"),
		SMTPHost:                 os.Getenv("SMTP_HOST"),
		SMTPPort:                 parseIntEnv("SMTP_PORT", 465),
		WebhookSocketURL:         os.Getenv("WEBHOOK_SOCKET_URL"),
		Port:                     os.Getenv("PORT"),
		Bind:                     os.Getenv("BIND"),
		Debug:                    parseBooleanEnv("DEBUG"),
	}

	if cfg.AWSRegion == "" {
		cfg.AWSRegion = "us-west-1"
	}
	if cfg.UserTable == "" {
		cfg.UserTable = "UserData"
	}
	if cfg.ActiveMeetingsTable == "" {
		cfg.ActiveMeetingsTable = "ActiveMeetings"
	}
	if cfg.ScheduledMeetingsTable == "" {
		cfg.ScheduledMeetingsTable = "ScheduledMeetings"
	}
	if cfg.ZoomBaseURL == "" {
		cfg.ZoomBaseURL = "https://api.zoom.us/v2"
	}
	if cfg.SMTPHost == "" {
		cfg.SMTPHost = "smtp.gmail.com"
	}
	if cfg.NotificationFunctionName == "" {
		cfg.NotificationFunctionName = "NotificationLambdaFunction"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Bind == "" {
		cfg.Bind = "*"
	}

	return cfg, nil
}

// Require returns an error naming any of the given environment variables
// whose corresponding value is empty.
func Require(pairs map[string]string) error {
	missing := []string{}
	for name, value := range pairs {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// parseBooleanEnv parses a boolean environment variable with common truthy values.
func parseBooleanEnv(envVar string) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(envVar)))
	truthyValues := []string{"true", "yes", "t", "y", "1"}
	return slices.Contains(truthyValues, value)
}

// parseIntEnv parses an integer environment variable with a default value.
func parseIntEnv(envVar string, defaultVal int) int {
	s := strings.TrimSpace(os.Getenv(envVar))
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}
