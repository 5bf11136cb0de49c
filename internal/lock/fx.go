package lock

import (
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/vitrinelabs/vitrine/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("lock",
	fx.Provide(provideClient),
	fx.Provide(NewLocker),
)

// provideClient returns nil when redis is not configured; the locker then
// stays disabled and reconciliation relies on conditional updates alone.
func provideClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
