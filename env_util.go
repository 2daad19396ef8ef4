package adminsync

import "os"

// Environment variables read by LoadConfig.
const (
	EnvBaseURL   = "ADMINSYNC_BASE_URL"
	EnvEventsURL = "ADMINSYNC_EVENTS_URL"
	EnvToken     = "ADMINSYNC_TOKEN"
)

func GetEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}
