package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/aman-churiwal/admission-engine/internal/models"
	"github.com/aman-churiwal/admission-engine/internal/policy"
	"github.com/aman-churiwal/admission-engine/internal/quota"
	"github.com/aman-churiwal/admission-engine/internal/repository"
)

// Per-(endpoint, method, time bucket) rollup.
type EndpointStat struct {
	Endpoint        string    `json:"endpoint"`
	Method          string    `json:"method"`
	Bucket          time.Time `json:"bucket"`
	Requests        int64     `json:"requests"`
	TotalCost       int64     `json:"total_cost"`
	AvgResponseTime float64   `json:"avg_response_time_ms"`
	RateLimitHits   int64     `json:"rate_limit_hits"`
	Errors          int64     `json:"errors"`
}

// Totals across all groups in the requested range.
type Summary struct {
	TotalRequests      int64   `json:"total_requests"`
	TotalCost          int64   `json:"total_cost"`
	TotalErrors        int64   `json:"total_errors"`
	TotalRateLimitHits int64   `json:"total_rate_limit_hits"`
	AvgResponseTime    float64 `json:"avg_response_time_ms"`
	ErrorRate          float64 `json:"error_rate"`
	RateLimitHitRate   float64 `json:"rate_limit_hit_rate"`
}

type UsageStats struct {
	PerEndpoint []EndpointStat `json:"per_endpoint"`
	QuotaUsage  quota.Snapshot `json:"quota_usage"`
	Summary     Summary        `json:"summary"`
}

// Produces per-endpoint rollups and summary statistics from the usage
// log. Sufficient for dashboards and billing reconciliation, not ad-hoc
// querying.
type Service struct {
	repo     *repository.UsageRepository
	quotas   *quota.Tracker
	registry *policy.Registry
}

func NewService(repo *repository.UsageRepository, quotas *quota.Tracker, registry *policy.Registry) *Service {
	return &Service{
		repo:     repo,
		quotas:   quotas,
		registry: registry,
	}
}

type groupKey struct {
	endpoint string
	method   string
	bucket   time.Time
}

// GetUsageStats aggregates a user's records in [from, to] grouped by
// (endpoint, method, bucket). period "hour" buckets by hour, anything
// else by calendar day.
func (s *Service) GetUsageStats(ctx context.Context, userID, tier, period string, from, to time.Time) (*UsageStats, error) {
	recs, err := s.repo.FindByUserAndRange(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	stats, summary := rollup(recs, period)

	eff := s.registry.Resolve(tier, "")
	quotaUsage, err := s.quotas.Usage(ctx, userID, eff)
	if err != nil {
		return nil, err
	}

	return &UsageStats{
		PerEndpoint: stats,
		QuotaUsage:  quotaUsage,
		Summary:     summary,
	}, nil
}

func rollup(recs []models.UsageRecord, period string) ([]EndpointStat, Summary) {
	groups := make(map[groupKey]*EndpointStat)
	var totalResponseTime int64
	summary := Summary{}

	for _, rec := range recs {
		bucket := truncate(rec.Timestamp.UTC(), period)
		key := groupKey{endpoint: policy.NormalizePath(rec.Endpoint), method: rec.Method, bucket: bucket}

		stat, ok := groups[key]
		if !ok {
			stat = &EndpointStat{Endpoint: key.endpoint, Method: key.method, Bucket: bucket}
			groups[key] = stat
		}

		stat.Requests++
		stat.TotalCost += int64(rec.Cost)
		// running mean over the group
		stat.AvgResponseTime += (float64(rec.ResponseTimeMs) - stat.AvgResponseTime) / float64(stat.Requests)

		summary.TotalRequests++
		summary.TotalCost += int64(rec.Cost)
		totalResponseTime += int64(rec.ResponseTimeMs)

		if rec.RateLimitHit {
			stat.RateLimitHits++
			summary.TotalRateLimitHits++
		}
		if rec.StatusCode >= 400 {
			stat.Errors++
			summary.TotalErrors++
		}
	}

	if summary.TotalRequests > 0 {
		summary.AvgResponseTime = float64(totalResponseTime) / float64(summary.TotalRequests)
		summary.ErrorRate = (float64(summary.TotalErrors) / float64(summary.TotalRequests)) * 100
		summary.RateLimitHitRate = (float64(summary.TotalRateLimitHits) / float64(summary.TotalRequests)) * 100
	}

	stats := make([]EndpointStat, 0, len(groups))
	for _, stat := range groups {
		stats = append(stats, *stat)
	}
	sort.Slice(stats, func(i, j int) bool {
		if !stats[i].Bucket.Equal(stats[j].Bucket) {
			return stats[i].Bucket.Before(stats[j].Bucket)
		}
		if stats[i].Endpoint != stats[j].Endpoint {
			return stats[i].Endpoint < stats[j].Endpoint
		}
		return stats[i].Method < stats[j].Method
	})

	return stats, summary
}

// GetTenantUsageStats aggregates a whole tenant's records the same way
// GetUsageStats does for one user. No quota snapshot: quotas are
// per-user ceilings, a tenant does not have one.
func (s *Service) GetTenantUsageStats(ctx context.Context, tenantID, period string, from, to time.Time) (*UsageStats, error) {
	recs, err := s.repo.FindByTenantAndRange(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	stats, summary := rollup(recs, period)
	return &UsageStats{PerEndpoint: stats, Summary: summary}, nil
}

// CleanupOldRecords deletes records past the retention period.
func (s *Service) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	return s.repo.DeleteOlderThan(ctx, cutoff)
}

func truncate(ts time.Time, period string) time.Time {
	if period == "hour" {
		return ts.Truncate(time.Hour)
	}
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}
