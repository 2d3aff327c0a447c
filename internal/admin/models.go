package admin

import "time"

// Config holds the admin server configuration.
type Config struct {
	ListenAddr      string
	RateLimit       int           // requests per window and client, 0 for the default
	RateLimitWindow time.Duration // 0 for one minute
	AllowedOrigins  []string      // CORS is off when empty
}
