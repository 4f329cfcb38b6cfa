package config

import (
	"fmt"

	"github.com/alanyoungcy/xarb/internal/crypto"
)

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging the active
// configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redactVenue(&out.Binance)
	redactVenue(&out.Bitfinex)

	redact(&out.Redis.Password)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	return out
}

// Credentials resolves a venue's API key and secret, decrypting the secret
// file when no raw secret is configured.
func (v VenueConfig) Credentials() (crypto.Credentials, error) {
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     v.APISecret,
		EncryptedPath: v.EncryptedSecretPath,
		Password:      v.SecretPassword,
	})
	if err != nil {
		return crypto.Credentials{}, fmt.Errorf("config: load secret: %w", err)
	}
	return crypto.Credentials{Key: v.APIKey, Secret: secret}, nil
}

const redacted = "***"

func redactVenue(v *VenueConfig) {
	redact(&v.APIKey)
	redact(&v.APISecret)
	redact(&v.SecretPassword)
}

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
