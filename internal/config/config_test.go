// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UserTable != "UserData" {
		t.Errorf("got user table %q", cfg.UserTable)
	}
	if cfg.ActiveMeetingsTable != "ActiveMeetings" {
		t.Errorf("got active table %q", cfg.ActiveMeetingsTable)
	}
	if cfg.ScheduledMeetingsTable != "ScheduledMeetings" {
		t.Errorf("got scheduled table %q", cfg.ScheduledMeetingsTable)
	}
	if cfg.ZoomBaseURL != "https://api.zoom.us/v2" {
		t.Errorf("got base URL %q", cfg.ZoomBaseURL)
	}
	if cfg.SMTPPort != 465 {
		t.Errorf("got SMTP port %d", cfg.SMTPPort)
	}
	if cfg.Port != "8080" || cfg.Bind != "*" {
		t.Errorf("got listener defaults %q %q", cfg.Port, cfg.Bind)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("USER_TABLE_NAME", "Staff")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("DEBUG", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UserTable != "Staff" {
		t.Errorf("got user table %q", cfg.UserTable)
	}
	if cfg.SMTPPort != 2525 {
		t.Errorf("got SMTP port %d", cfg.SMTPPort)
	}
	if !cfg.Debug {
		t.Error("DEBUG=yes did not enable debug")
	}
}

func TestRequire(t *testing.T) {
	if err := Require(map[string]string{"A": "set", "B": "also set"}); err != nil {
		t.Errorf("Require with all set: %v", err)
	}

	err := Require(map[string]string{"ZOOM_API_KEY": "", "WEBSOCKET_ENDPOINT": "", "PRESENT": "x"})
	if err == nil {
		t.Fatal("expected error for missing variables")
	}
	msg := err.Error()
	if !strings.Contains(msg, "ZOOM_API_KEY") || !strings.Contains(msg, "WEBSOCKET_ENDPOINT") {
		t.Errorf("error does not name missing variables: %s", msg)
	}
	if strings.Contains(msg, "PRESENT") {
		t.Errorf("error names a present variable: %s", msg)
	}
	// Names are sorted for stable messages.
	if strings.Index(msg, "WEBSOCKET_ENDPOINT") > strings.Index(msg, "ZOOM_API_KEY") {
		t.Errorf("missing names not sorted: %s", msg)
	}
}

func TestParseIntEnvRejectsJunk(t *testing.T) {
	t.Setenv("SMTP_PORT", "not-a-number")
	if got := parseIntEnv("SMTP_PORT", 465); got != 465 {
		t.Errorf("got %d, want default 465", got)
	}
	t.Setenv("SMTP_PORT", "-25")
	if got := parseIntEnv("SMTP_PORT", 465); got != 465 {
		t.Errorf("got %d for negative input, want default 465", got)
	}
}
