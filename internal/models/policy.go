package models

import "time"

// Known subscription tiers, most restrictive first.
const (
	TierFree       = "free"
	TierBasic      = "basic"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
	TierUnlimited  = "unlimited"
)

// NoLimit marks a ceiling that is never enforced.
const NoLimit = -1

// Limit parameters for one subscription tier. Loaded once at startup
// and read-only afterwards.
type TierPolicy struct {
	Name                  string        `mapstructure:"name" json:"name"`
	RequestsPerWindow     int           `mapstructure:"requests_per_window" json:"requests_per_window"`
	WindowDuration        time.Duration `mapstructure:"window_duration" json:"window_duration"`
	DailyQuota            int           `mapstructure:"daily_quota" json:"daily_quota"`
	MonthlyQuota          int           `mapstructure:"monthly_quota" json:"monthly_quota"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests" json:"max_concurrent_requests"`
	BurstLimitPerMinute   int           `mapstructure:"burst_limit_per_minute" json:"burst_limit_per_minute"`
}

// Per-endpoint override of a tier's rate fields. When present it
// replaces the tier's requests/window/cost entirely; quota, concurrency
// and burst limits still come from the tier.
type EndpointPolicy struct {
	Endpoint          string        `mapstructure:"endpoint" json:"endpoint"`
	Tier              string        `mapstructure:"tier" json:"tier"`
	RequestsPerWindow int           `mapstructure:"requests_per_window" json:"requests_per_window"`
	WindowDuration    time.Duration `mapstructure:"window_duration" json:"window_duration"`
	Cost              int           `mapstructure:"cost" json:"cost"`
}
