package config

const redacted = "***"

// RedactedConfig returns a copy of cfg with every secret replaced by "***",
// safe to log.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Deriv.Token)
	redact(&out.Deriv.TokenPassword)
	redact(&out.Server.APIKey)
	redact(&out.Redis.Password)
	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices are copied so the redacted value shares nothing mutable.
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)

	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
