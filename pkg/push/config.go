package push

import "time"

// Config configures the Expo push provider.
type Config struct {
	Enabled     bool          `env:"PUSH_ENABLED" envDefault:"false"`
	Endpoint    string        `env:"PUSH_EXPO_ENDPOINT" envDefault:"https://exp.host/--/api/v2/push/send"`
	AccessToken string        `env:"PUSH_EXPO_ACCESS_TOKEN"`
	Timeout     time.Duration `env:"PUSH_TIMEOUT" envDefault:"10s"`
	BatchSize   int           `env:"PUSH_BATCH_SIZE" envDefault:"100"`
	// RatePerSecond caps outbound requests. Expo allows 600 notifications per second per project.
	RatePerSecond float64 `env:"PUSH_RATE_PER_SECOND" envDefault:"6"`
	RateBurst     int     `env:"PUSH_RATE_BURST" envDefault:"1"`
}
