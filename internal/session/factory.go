package session

import (
	"nudge/internal/config"
	"nudge/internal/logger"
)

// NewStore builds the store named by cfg.Store. A redis store that cannot
// be reached falls back to memory.
func NewStore(cfg config.Relay) (StoreInterface, error) {
	log := logger.Component("session")

	if cfg.Store == "redis" {
		store, err := NewRedisStore(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Username, cfg.Redis.Password)
		if err != nil {
			log.Warn().Err(err).Msg("redis connection failed, falling back to in-memory session store")
			return NewMemoryStore(cfg.CleanupInterval), nil
		}
		log.Info().Str("addr", cfg.Redis.Host+":"+cfg.Redis.Port).Msg("using redis session store")
		return store, nil
	}

	log.Info().Msg("using in-memory session store")
	return NewMemoryStore(cfg.CleanupInterval), nil
}
