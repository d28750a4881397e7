package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/config"
)

// KeyStore resolves a device API key to the device it was issued for.
// An unknown key resolves to "".
type KeyStore interface {
	GetDeviceKey(ctx context.Context, apiKey string) (string, error)
}

type cacheEntry struct {
	deviceID  string
	expiresAt time.Time
}

// Authenticator checks device API keys. Static keys from configuration
// are fleet-wide and may post for any device; keys issued per device are
// bound to it.
type Authenticator struct {
	localCache sync.Map
	keys       KeyStore
	ttl        time.Duration
	staticKeys map[string]bool
	log        *zap.Logger
	now        func() time.Time
}

func NewAuthenticator(cfg *config.Config, keys KeyStore, log *zap.Logger) *Authenticator {
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			staticKeys[k] = true
		}
	}

	return &Authenticator{
		keys:       keys,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
		log:        log,
		now:        time.Now,
	}
}

// Authenticate returns the device the key is bound to ("" for a fleet-wide
// key) and whether the key is valid at all.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (string, bool) {
	// Level 0: static config keys
	if a.staticKeys[apiKey] {
		return "", true
	}

	// Level 1: in-memory cache
	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if a.now().Before(entry.expiresAt) {
			return entry.deviceID, true
		}
		a.localCache.Delete(apiKey)
	}

	// Level 2: Redis lookup
	if a.keys == nil {
		return "", false
	}
	deviceID, err := a.keys.GetDeviceKey(ctx, apiKey)
	if err != nil {
		a.log.Warn("api key lookup failed", zap.Error(err))
		return "", false
	}
	if deviceID == "" {
		return "", false
	}

	a.localCache.Store(apiKey, cacheEntry{
		deviceID:  deviceID,
		expiresAt: a.now().Add(a.ttl),
	})

	return deviceID, true
}
