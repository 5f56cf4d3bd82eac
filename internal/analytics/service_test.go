package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/aman-churiwal/admission-engine/internal/models"
	"github.com/aman-churiwal/admission-engine/internal/policy"
	"github.com/aman-churiwal/admission-engine/internal/quota"
	"github.com/aman-churiwal/admission-engine/internal/repository"
	"github.com/aman-churiwal/admission-engine/internal/storage"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*Service, *repository.UsageRepository) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.UsageRecord{}))

	repo := repository.NewUsageRepository(&storage.Postgres{DB: db})
	registry := policy.NewRegistry([]models.TierPolicy{
		{
			Name:         models.TierFree,
			DailyQuota:   1000,
			MonthlyQuota: 10000,
		},
	}, nil)

	return NewService(repo, quota.NewTracker(repo), registry), repo
}

func seed(t *testing.T, repo *repository.UsageRepository, recs []*models.UsageRecord) {
	t.Helper()
	require.NoError(t, repo.CreateBatch(context.Background(), recs))
}

func TestGetUsageStatsGroupsByEndpointMethodAndDay(t *testing.T) {
	svc, repo := newTestService(t)

	day1 := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, time.March, 11, 14, 0, 0, 0, time.UTC)

	seed(t, repo, []*models.UsageRecord{
		{UserID: "user-1", Endpoint: "/api/widgets", Method: "GET", Timestamp: day1, ResponseTimeMs: 100, StatusCode: 200, Cost: 1},
		{UserID: "user-1", Endpoint: "/api/widgets", Method: "GET", Timestamp: day1.Add(time.Hour), ResponseTimeMs: 200, StatusCode: 500, Cost: 1},
		{UserID: "user-1", Endpoint: "/api/widgets", Method: "POST", Timestamp: day1, ResponseTimeMs: 50, StatusCode: 201, Cost: 1},
		{UserID: "user-1", Endpoint: "/api/widgets", Method: "GET", Timestamp: day2, ResponseTimeMs: 300, StatusCode: 429, RateLimitHit: true, Cost: 1},
		{UserID: "someone-else", Endpoint: "/api/widgets", Method: "GET", Timestamp: day1, ResponseTimeMs: 10, StatusCode: 200, Cost: 1},
	})

	stats, err := svc.GetUsageStats(context.Background(), "user-1", models.TierFree, "day",
		day1.Add(-time.Hour), day2.Add(time.Hour))
	require.NoError(t, err)

	require.Len(t, stats.PerEndpoint, 3)

	// sorted by bucket, then endpoint, then method
	get1 := stats.PerEndpoint[0]
	assert.Equal(t, "GET", get1.Method)
	assert.Equal(t, "/api/widgets", get1.Endpoint)
	assert.Equal(t, int64(2), get1.Requests)
	assert.Equal(t, 150.0, get1.AvgResponseTime)
	assert.Equal(t, int64(1), get1.Errors)

	post1 := stats.PerEndpoint[1]
	assert.Equal(t, "POST", post1.Method)
	assert.Equal(t, int64(1), post1.Requests)

	get2 := stats.PerEndpoint[2]
	assert.Equal(t, day2.Truncate(24*time.Hour).Day(), get2.Bucket.Day())
	assert.Equal(t, int64(1), get2.RateLimitHits)
	assert.Equal(t, int64(1), get2.Errors, "429s count as errors too")
}

func TestGetUsageStatsHourPeriod(t *testing.T) {
	svc, repo := newTestService(t)

	base := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	seed(t, repo, []*models.UsageRecord{
		{UserID: "user-1", Endpoint: "/api/widgets", Method: "GET", Timestamp: base.Add(5 * time.Minute), StatusCode: 200, Cost: 1},
		{UserID: "user-1", Endpoint: "/api/widgets", Method: "GET", Timestamp: base.Add(50 * time.Minute), StatusCode: 200, Cost: 1},
		{UserID: "user-1", Endpoint: "/api/widgets", Method: "GET", Timestamp: base.Add(90 * time.Minute), StatusCode: 200, Cost: 1},
	})

	stats, err := svc.GetUsageStats(context.Background(), "user-1", models.TierFree, "hour",
		base.Add(-time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)

	require.Len(t, stats.PerEndpoint, 2, "two hourly buckets")
	assert.Equal(t, int64(2), stats.PerEndpoint[0].Requests)
	assert.Equal(t, int64(1), stats.PerEndpoint[1].Requests)
}

func TestGetUsageStatsSummaryRates(t *testing.T) {
	svc, repo := newTestService(t)

	ts := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	seed(t, repo, []*models.UsageRecord{
		{UserID: "user-1", Endpoint: "/api/a", Method: "GET", Timestamp: ts, ResponseTimeMs: 100, StatusCode: 200, Cost: 1},
		{UserID: "user-1", Endpoint: "/api/a", Method: "GET", Timestamp: ts, ResponseTimeMs: 100, StatusCode: 200, Cost: 2},
		{UserID: "user-1", Endpoint: "/api/b", Method: "GET", Timestamp: ts, ResponseTimeMs: 400, StatusCode: 500, Cost: 1},
		{UserID: "user-1", Endpoint: "/api/b", Method: "GET", Timestamp: ts, ResponseTimeMs: 200, StatusCode: 429, RateLimitHit: true, Cost: 1},
	})

	stats, err := svc.GetUsageStats(context.Background(), "user-1", models.TierFree, "day",
		ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)

	sum := stats.Summary
	assert.Equal(t, int64(4), sum.TotalRequests)
	assert.Equal(t, int64(5), sum.TotalCost)
	assert.Equal(t, int64(2), sum.TotalErrors)
	assert.Equal(t, int64(1), sum.TotalRateLimitHits)
	assert.Equal(t, 200.0, sum.AvgResponseTime)
	assert.Equal(t, 50.0, sum.ErrorRate)
	assert.Equal(t, 25.0, sum.RateLimitHitRate)
}

func TestGetUsageStatsNormalizesRecordedEndpoints(t *testing.T) {
	svc, repo := newTestService(t)

	ts := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	seed(t, repo, []*models.UsageRecord{
		{UserID: "user-1", Endpoint: "/orders/42", Method: "GET", Timestamp: ts, StatusCode: 200, Cost: 1},
		{UserID: "user-1", Endpoint: "/orders/918273", Method: "GET", Timestamp: ts, StatusCode: 200, Cost: 1},
	})

	stats, err := svc.GetUsageStats(context.Background(), "user-1", models.TierFree, "day",
		ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)

	require.Len(t, stats.PerEndpoint, 1)
	assert.Equal(t, "/orders/:id", stats.PerEndpoint[0].Endpoint)
	assert.Equal(t, int64(2), stats.PerEndpoint[0].Requests)
}

func TestGetUsageStatsQuotaUsage(t *testing.T) {
	svc, repo := newTestService(t)

	now := time.Now().UTC()
	seed(t, repo, []*models.UsageRecord{
		{UserID: "user-1", Endpoint: "/api/a", Method: "GET", Timestamp: now, StatusCode: 200, Cost: 1},
	})

	stats, err := svc.GetUsageStats(context.Background(), "user-1", models.TierFree, "day",
		now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(1), stats.QuotaUsage.DailyUsed)
	assert.Equal(t, 1000, stats.QuotaUsage.DailyLimit)
}

func TestGetTenantUsageStatsSpansUsers(t *testing.T) {
	svc, repo := newTestService(t)

	ts := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	seed(t, repo, []*models.UsageRecord{
		{UserID: "user-1", TenantID: "tenant-1", Endpoint: "/api/a", Method: "GET", Timestamp: ts, StatusCode: 200, Cost: 1},
		{UserID: "user-2", TenantID: "tenant-1", Endpoint: "/api/a", Method: "GET", Timestamp: ts, StatusCode: 200, Cost: 1},
		{UserID: "user-3", TenantID: "other", Endpoint: "/api/a", Method: "GET", Timestamp: ts, StatusCode: 200, Cost: 1},
	})

	stats, err := svc.GetTenantUsageStats(context.Background(), "tenant-1", "day",
		ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Summary.TotalRequests)
	require.Len(t, stats.PerEndpoint, 1)
	assert.Equal(t, int64(2), stats.PerEndpoint[0].Requests)
	assert.Zero(t, stats.QuotaUsage, "tenants have no quota snapshot")
}

func TestCleanupOldRecords(t *testing.T) {
	svc, repo := newTestService(t)

	old := time.Now().UTC().AddDate(0, 0, -100)
	recent := time.Now().UTC().Add(-time.Hour)
	seed(t, repo, []*models.UsageRecord{
		{UserID: "user-1", Endpoint: "/api/a", Method: "GET", Timestamp: old, StatusCode: 200, Cost: 1},
		{UserID: "user-1", Endpoint: "/api/a", Method: "GET", Timestamp: recent, StatusCode: 200, Cost: 1},
	})

	deleted, err := svc.CleanupOldRecords(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
