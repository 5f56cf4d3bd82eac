package models

import "time"

// Represents one admitted or rejected API request. Append-only; a
// record is never mutated after it is written.
type UsageRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         string    `gorm:"index:idx_usage_user_ts,priority:1" json:"user_id"`
	TenantID       string    `gorm:"index:idx_usage_tenant_ts,priority:1" json:"tenant_id"`
	Endpoint       string    `gorm:"index:idx_usage_endpoint_ts,priority:1" json:"endpoint"`
	Method         string    `json:"method"`
	Timestamp      time.Time `gorm:"index:idx_usage_user_ts,priority:2;index:idx_usage_tenant_ts,priority:2;index:idx_usage_endpoint_ts,priority:2" json:"timestamp"`
	ResponseTimeMs int       `json:"response_time_ms"`
	StatusCode     int       `gorm:"index" json:"status_code"`
	RateLimitHit   bool      `json:"rate_limit_hit"`
	Cost           int       `gorm:"default:1" json:"cost"`
	Tier           string    `json:"tier"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}
