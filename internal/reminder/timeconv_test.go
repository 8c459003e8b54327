// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

package reminder

import (
	"testing"
	"time"
)

func TestIsUTCTimestamp(t *testing.T) {
	tests := []struct {
		ts   string
		want bool
	}{
		{"2026-04-01T14:00:00Z", true},
		{"2026-04-01T14:00:00", false},
		{"2026-04-01T14:00:00-05:00", false},
		{"2026-04-01 14:00:00Z", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsUTCTimestamp(tt.ts); got != tt.want {
			t.Errorf("IsUTCTimestamp(%q) = %v, want %v", tt.ts, got, tt.want)
		}
	}
}

func TestNormalizeToUTC(t *testing.T) {
	tests := []struct {
		name string
		ts   string
		tz   string
		want string
	}{
		{
			name: "already UTC passes through",
			ts:   "2026-04-01T14:00:00Z",
			tz:   "America/New_York",
			want: "2026-04-01T14:00:00Z",
		},
		{
			name: "explicit offset is converted",
			ts:   "2024-03-01T09:00:00-05:00",
			want: "2024-03-01T14:00:00Z",
		},
		{
			name: "zone-less interpreted in named zone",
			ts:   "2026-01-15T09:00:00",
			tz:   "America/New_York",
			want: "2026-01-15T14:00:00Z",
		},
		{
			name: "zone-less defaults to UTC",
			ts:   "2026-01-15T09:00:00",
			want: "2026-01-15T09:00:00Z",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeToUTC(tt.ts, tt.tz)
			if err != nil {
				t.Fatalf("NormalizeToUTC(%q, %q): %v", tt.ts, tt.tz, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeToUTC(%q, %q) = %q, want %q", tt.ts, tt.tz, got, tt.want)
			}
		})
	}

	t.Run("unknown zone fails", func(t *testing.T) {
		if _, err := NormalizeToUTC("2026-01-15T09:00:00", "Not/AZone"); err == nil {
			t.Error("expected error for unknown timezone")
		}
	})
}

func TestParseAndFormatUTC(t *testing.T) {
	got, err := ParseUTC("2026-04-01T14:00:00Z")
	if err != nil {
		t.Fatalf("ParseUTC: %v", err)
	}
	want := time.Date(2026, 4, 1, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if s := FormatUTC(want.Add(90 * time.Second)); s != "2026-04-01T14:01:30Z" {
		t.Errorf("FormatUTC = %q", s)
	}

	// Sub-second precision is dropped.
	if s := FormatUTC(want.Add(500 * time.Millisecond)); s != "2026-04-01T14:00:00Z" {
		t.Errorf("FormatUTC with sub-second input = %q", s)
	}

	if _, err := ParseUTC("yesterday"); err == nil {
		t.Error("expected error for junk timestamp")
	}
}
