package state

import "github.com/matst80/dialout/internal/obs"

// Open creates either an in-memory or Redis-backed store based on configuration.
func Open(redisAddr, redisPassword string, redisDB int, namespace string) (Store, error) {
	if redisAddr == "" {
		obs.Info("state.backend", obs.Fields{"type": "in-memory"})
		return NewMemory(), nil
	}
	obs.Info("state.backend", obs.Fields{"type": "redis", "addr": redisAddr, "namespace": namespace})
	return NewRedis(redisAddr, redisPassword, redisDB, namespace)
}
