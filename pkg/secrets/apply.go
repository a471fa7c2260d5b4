package secrets

import (
	"context"
	"fmt"

	"github.com/jordanlanch/occasions/config"
)

// Apply overrides cfg with values from the JSON bundle stored under
// cfg.SecretsID. Keys match the environment variable names. Missing or
// empty keys leave cfg untouched. The env backend is a no-op.
func Apply(ctx context.Context, m *Manager, cfg *config.Config) error {
	if cfg.SecretsBackend == "" || cfg.SecretsBackend == BackendEnv {
		return nil
	}
	if cfg.SecretsID == "" {
		return fmt.Errorf("SECRETS_ID is required for backend %s", cfg.SecretsBackend)
	}

	var bundle map[string]string
	if err := m.GetSecretJSON(ctx, cfg.SecretsID, &bundle); err != nil {
		return err
	}

	targets := map[string]*string{
		"JWT_SECRET":       &cfg.JWTSecret,
		"DATABASE_URL":     &cfg.DatabaseURL,
		"REDIS_URL":        &cfg.RedisURL,
		"SENDGRID_API_KEY": &cfg.SendGridAPIKey,
		"SENTRY_DSN":       &cfg.SentryDSN,
	}
	for key, field := range targets {
		if v := bundle[key]; v != "" {
			*field = v
		}
	}
	return nil
}
