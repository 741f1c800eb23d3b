package constants

import "time"

// 账户冷却退避（选择器）
const (
	// CooldownBase is the first-strike cooldown.
	CooldownBase = 1 * time.Second
	// CooldownMax caps exponential cooldown growth.
	CooldownMax = 30 * time.Minute
)

// 限额冻结
const (
	// WeekFreezeThreshold distinguishes a week-window quota freeze from a
	// shorter rolling-window one when the upstream reports reset delay.
	WeekFreezeThreshold = 5 * time.Hour
)

// 设备码轮询
const (
	// DevicePollSlowDownStep is added to the poll interval on slow_down.
	DevicePollSlowDownStep = 5 * time.Second
	// DevicePollDefaultInterval is used when the provider omits one.
	DevicePollDefaultInterval = 5 * time.Second
)

// 上游重试
const (
	UpstreamMaxRetries = 3
	UpstreamRetryDelay = 1 * time.Second
)
