package notifykit

import (
	"time"

	"github.com/dmitrymomot/notifykit/pkg/breaker"
	"github.com/dmitrymomot/notifykit/pkg/config"
	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/fallback"
	"github.com/dmitrymomot/notifykit/pkg/pg"
	"github.com/dmitrymomot/notifykit/pkg/push"
	"github.com/dmitrymomot/notifykit/pkg/queue"
	"github.com/dmitrymomot/notifykit/pkg/quota"
	"github.com/dmitrymomot/notifykit/pkg/redis"
	"github.com/dmitrymomot/notifykit/pkg/retry"
	"github.com/dmitrymomot/notifykit/pkg/sender"
)

// Config aggregates the configuration of every component. Nested structs
// carry their own env tags, so one Load fills everything.
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"notifykit"`

	// MigrateOnStart applies the embedded migrations when Postgres is configured.
	MigrateOnStart    bool          `env:"MIGRATE_ON_START" envDefault:"true"`
	DeliveryRetention time.Duration `env:"DELIVERY_RETENTION" envDefault:"2160h"`

	PG       pg.Config
	Redis    redis.Config
	Breaker  breaker.Config
	Retry    retry.Config
	Quota    quota.Config
	Fallback fallback.Config
	Queue    queue.Config
	Push     push.Config
	Email    email.Config
	Sender   sender.Config
}

// LoadConfig reads Config from the environment and an optional .env file.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
