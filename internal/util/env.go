// Package util provides small helpers shared across OrderPipe components.
package util

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// ParseBoolEnv reads a boolean environment variable. true/1/yes/on and
// false/0/no/off are accepted in any case; anything else yields def.
func ParseBoolEnv(key string, def bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "":
		return def
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv: invalid boolean, using default", "key", key, "value", raw, "default", def)
	return def
}

// ParseDurationEnv reads a positive Go duration such as "90m" or "24h".
// Unset, malformed and non-positive values yield def.
func ParseDurationEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("ParseDurationEnv: invalid duration, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return d
}
