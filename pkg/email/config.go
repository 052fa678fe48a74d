package email

import "time"

// Config holds email delivery configuration. Postmark tokens are optional so
// that environments without them fall back to DevSender.
type Config struct {
	PostmarkServerToken  string        `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string        `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string        `env:"SENDER_EMAIL" envDefault:"notifications@example.com"`
	SupportEmail         string        `env:"SUPPORT_EMAIL" envDefault:"support@example.com"`
	Timeout              time.Duration `env:"EMAIL_TIMEOUT" envDefault:"15s"`
	DevOutputDir         string        `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
}

// PostmarkEnabled reports whether both Postmark tokens are configured.
func (c Config) PostmarkEnabled() bool {
	return c.PostmarkServerToken != "" && c.PostmarkAccountToken != ""
}
