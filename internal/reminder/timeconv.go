// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

package reminder

import (
	"fmt"
	"time"
)

// utcLayout is the canonical stored timestamp form: ISO-8601 truncated to
// whole seconds with a literal trailing Z.
const utcLayout = "2006-01-02T15:04:05Z"

// localLayout is the provider's zone-less local timestamp form.
const localLayout = "2006-01-02T15:04:05"

// IsUTCTimestamp reports whether ts is already in bare UTC ISO-8601 form.
// Detection is structural, matching the provider's conventions: 'T' at
// offset 10 and 'Z' at offset 19.
func IsUTCTimestamp(ts string) bool {
	return len(ts) == 20 && ts[10] == 'T' && ts[19] == 'Z'
}

// FormatUTC renders an instant in the canonical stored form.
func FormatUTC(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(utcLayout)
}

// ParseUTC parses a timestamp in the canonical stored form, also accepting
// a full RFC 3339 string with an explicit offset.
func ParseUTC(ts string) (time.Time, error) {
	if t, err := time.Parse(utcLayout, ts); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", ts, err)
	}
	return t.UTC(), nil
}

// NormalizeToUTC converts a provider timestamp into the canonical stored
// form. Already-UTC strings pass through truncated; strings with an
// explicit offset are converted; zone-less strings are interpreted in the
// named IANA timezone (UTC when tz is empty).
func NormalizeToUTC(ts, tz string) (string, error) {
	if IsUTCTimestamp(ts) {
		t, err := time.Parse(utcLayout, ts)
		if err != nil {
			return "", fmt.Errorf("parsing UTC timestamp %q: %w", ts, err)
		}
		return FormatUTC(t), nil
	}

	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return FormatUTC(t), nil
	}

	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", fmt.Errorf("loading timezone %q: %w", tz, err)
	}
	t, err := time.ParseInLocation(localLayout, ts, loc)
	if err != nil {
		return "", fmt.Errorf("parsing local timestamp %q: %w", ts, err)
	}
	return FormatUTC(t), nil
}
