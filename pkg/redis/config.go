package redis

import "time"

// Config describes the Redis connection used by the quota counters. An empty
// ConnectionURL keeps counters in process memory.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"15s"`
}

func (c Config) Enabled() bool {
	return c.ConnectionURL != ""
}
