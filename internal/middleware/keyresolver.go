package middleware

import (
	"sync"

	"omni2api-go/internal/config"
	"omni2api-go/internal/models"
	"omni2api-go/internal/secret"
)

// StaticKeyResolver resolves API keys from the config file's api_keys
// list. Lookup compares against every entry so timing does not reveal
// whether a prefix matched.
type StaticKeyResolver struct {
	mu      sync.RWMutex
	entries []config.APIKeyEntry
}

func NewStaticKeyResolver(entries []config.APIKeyEntry) *StaticKeyResolver {
	return &StaticKeyResolver{entries: entries}
}

// Update swaps the entry list, used by the config reload hook.
func (r *StaticKeyResolver) Update(entries []config.APIKeyEntry) {
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
}

func (r *StaticKeyResolver) ResolveKey(key string) (*models.Principal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched *config.APIKeyEntry
	for i := range r.entries {
		e := &r.entries[i]
		if e.Key != "" && secret.ConstantTimeEquals(key, e.Key) && matched == nil {
			matched = e
		}
	}
	if matched == nil {
		return nil, false
	}
	return &models.Principal{
		UserID:      matched.UserID,
		ConfigType:  matched.ConfigType,
		SessionAuth: false,
		TrustLevel:  matched.TrustLevel,
		Beta:        matched.Beta,
	}, true
}
