package config

import (
	"strings"

	"go.uber.org/zap"
)

const minJWTSecretLength = 32

// ProductionWarnings lists insecure settings that are tolerated in
// development but should not reach production
func (c *Config) ProductionWarnings() []string {
	var warnings []string

	if len(c.JWTSecret) < minJWTSecretLength {
		warnings = append(warnings, "jwt_secret is shorter than 32 bytes")
	}
	if strings.TrimSpace(c.CORSAllowedOrigins) == "*" {
		warnings = append(warnings, "cors_allowed_origins allows every origin")
	}
	if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		warnings = append(warnings, "database_url disables TLS (sslmode=disable)")
	}
	if strings.HasPrefix(c.RedisURL, "redis://") && !strings.Contains(c.RedisURL, "@") {
		warnings = append(warnings, "redis_url has no credentials")
	}
	if c.RateLimitRequests == 0 {
		warnings = append(warnings, "rate limiting is disabled")
	}

	return warnings
}

// LogSecurityWarnings logs actionable security warnings when running in
// production with insecure defaults. Call this at service startup after
// configuration is loaded.
func (c *Config) LogSecurityWarnings(log *zap.Logger) {
	if !c.IsProduction() {
		return
	}

	warnings := c.ProductionWarnings()

	for _, w := range warnings {
		log.Warn("SECURITY", zap.String("warning", w))
	}

	if len(warnings) > 0 {
		log.Warn("SECURITY: production deployment has insecure configuration",
			zap.Int("warning_count", len(warnings)))
	}
}
