package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-engine/internal/models"
	"github.com/aman-churiwal/admission-engine/internal/storage"
)

type UsageRepository struct {
	db *storage.Postgres
}

func NewUsageRepository(db *storage.Postgres) *UsageRepository {
	return &UsageRepository{db: db}
}

// Inserts a single usage record
func (r *UsageRepository) Create(ctx context.Context, rec *models.UsageRecord) error {
	return r.db.DB.WithContext(ctx).Create(rec).Error
}

// Inserts multiple usage records (used by the recorder's batch worker)
func (r *UsageRepository) CreateBatch(ctx context.Context, recs []*models.UsageRecord) error {
	if len(recs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&recs).Error
}

// Counts a user's records since the given instant. Quota enforcement
// counts rejected attempts too; they are part of the log.
func (r *UsageRepository) CountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("user_id = ? AND timestamp >= ?", userID, since).
		Count(&count).Error

	return count, err
}

// Retrieves a user's records within a time range, oldest first
func (r *UsageRepository) FindByUserAndRange(ctx context.Context, userID string, from, to time.Time) ([]models.UsageRecord, error) {
	var recs []models.UsageRecord

	err := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND timestamp BETWEEN ? AND ?", userID, from, to).
		Order("timestamp ASC").
		Find(&recs).Error

	return recs, err
}

// Retrieves a tenant's records within a time range, oldest first
func (r *UsageRepository) FindByTenantAndRange(ctx context.Context, tenantID string, from, to time.Time) ([]models.UsageRecord, error) {
	var recs []models.UsageRecord

	err := r.db.DB.WithContext(ctx).
		Where("tenant_id = ? AND timestamp BETWEEN ? AND ?", tenantID, from, to).
		Order("timestamp ASC").
		Find(&recs).Error

	return recs, err
}

// Deletes records older than the given cutoff
func (r *UsageRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.UsageRecord{})

	return result.RowsAffected, result.Error
}
