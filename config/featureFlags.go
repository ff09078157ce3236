package config

import (
	"os"
	"strconv"
	"strings"
)

// ImmediateConfirmationEnabled gates the browser-return fast path.
// The poller stays the source of truth either way.
//
// Set via env:
// - ENABLE_IMMEDIATE_CONFIRMATION=false
func ImmediateConfirmationEnabled() bool {
	return envBoolDefault("ENABLE_IMMEDIATE_CONFIRMATION", true)
}

// LivePlatforms lists the platforms accepting new donation requests.
// Rows already created on other platforms are still reconciled (incremental rollout).
//
// Set via env:
// - RECONCILE_LIVE_PLATFORMS="justgiving,everyorg"
//
// Keys are case-insensitive.
func LivePlatforms() []string {
	raw := os.Getenv("RECONCILE_LIVE_PLATFORMS")
	if strings.TrimSpace(raw) == "" {
		return []string{"justgiving"}
	}
	out := make([]string, 0)
	for _, part := range splitAndTrim(raw) {
		out = append(out, strings.ToLower(part))
	}
	return out
}

// EnvBoolDefault reads an on/off switch; unknown values fall back to def.
func EnvBoolDefault(key string, def bool) bool {
	return envBoolDefault(key, def)
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func stringFromEnv(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
