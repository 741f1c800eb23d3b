package cache

import (
	"fmt"

	"omni2api-go/internal/constants"
)

// Key builders. Every cache consumer goes through these so the layout stays
// in one place.

func PKCEStateKey(state string) string {
	return constants.CacheKeyPKCEState + state
}

func DeviceCodeKey(state string) string {
	return constants.CacheKeyDeviceCode + state
}

// RoundRobinKey is the per-(user, model) rotation cursor.
func RoundRobinKey(userID int64, model string) string {
	return fmt.Sprintf("%s%d:%s", constants.CacheKeyRoundRobin, userID, model)
}

func ModelsKey(userID int64, provider string) string {
	return fmt.Sprintf("%s%d:%s", constants.CacheKeyModels, userID, provider)
}

func PluginKeyKey(userID int64) string {
	return fmt.Sprintf("%s%d", constants.CacheKeyPluginKey, userID)
}

func LastUsedThrottleKey(provider string, accountID int64) string {
	return fmt.Sprintf("%s%s:%d", constants.CacheKeyLastUsedThrottle, provider, accountID)
}

func RefreshLockKey(provider string, accountID int64) string {
	return fmt.Sprintf("%s%s:%d", constants.CacheKeyRefreshLock, provider, accountID)
}
