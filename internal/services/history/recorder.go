package history

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ratewatch/ratewatch/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Recorder persists closed minute buckets and serves range queries over
// them. Records are write-once; Seal is an upsert so retries after a
// transient failure cannot duplicate a minute.
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

func (r *Recorder) AutoMigrate() error {
	return r.db.AutoMigrate(&models.HistoryRecord{})
}

// Seal persists one closed bucket. Idempotent: sealing the same
// (entity, minute) twice leaves exactly one record with the latest counts.
func (r *Recorder) Seal(ctx context.Context, kind models.EntityKind, id uint, bucket models.MinuteBucket) error {
	record := models.HistoryRecord{
		EntityKind:          kind,
		EntityID:            id,
		MinuteTimestamp:     bucket.Minute,
		RequestCount:        bucket.RequestCount,
		InputTokens:         bucket.InputTokens,
		OutputTokens:        bucket.OutputTokens,
		CacheReadTokens:     bucket.CacheReadTokens,
		CacheCreationTokens: bucket.CacheCreationTokens,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "entity_kind"}, {Name: "entity_id"}, {Name: "minute_timestamp"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"request_count", "input_tokens", "output_tokens",
				"cache_read_tokens", "cache_creation_tokens",
			}),
		}).
		Create(&record).Error
	if err != nil {
		return models.NewStorageError(
			fmt.Sprintf("failed to seal %s %d minute %s", kind, id, bucket.Minute.Format("2006-01-02 15:04")), err)
	}
	return nil
}

// Query returns the records with start <= minute_timestamp <= end, ascending
// by minute, paginated without gaps or overlap, plus the total match count.
func (r *Recorder) Query(ctx context.Context, kind models.EntityKind, id uint, q models.HistoryQuery) (*models.HistoryPage, error) {
	if err := normalizeQuery(&q); err != nil {
		return nil, err
	}

	base := r.db.WithContext(ctx).
		Model(&models.HistoryRecord{}).
		Where("entity_kind = ? AND entity_id = ?", kind, id)

	if !q.StartTime.IsZero() {
		base = base.Where("minute_timestamp >= ?", q.StartTime)
	}
	if !q.EndTime.IsZero() {
		base = base.Where("minute_timestamp <= ?", q.EndTime)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, models.NewStorageError("failed to count history records", err)
	}

	var records []models.HistoryRecord
	offset := (q.Page - 1) * q.Limit
	if err := base.Order("minute_timestamp ASC").Offset(offset).Limit(q.Limit).Find(&records).Error; err != nil {
		return nil, models.NewStorageError("failed to query history records", err)
	}

	return &models.HistoryPage{
		Records: records,
		Total:   total,
		Page:    q.Page,
		Limit:   q.Limit,
	}, nil
}

func normalizeQuery(q *models.HistoryQuery) error {
	if q.Page < 0 {
		return models.NewValidationError(fmt.Sprintf("page must be positive, got %d", q.Page), nil)
	}
	if q.Limit < 0 || q.Limit > maxPageSize {
		return models.NewValidationError(fmt.Sprintf("limit must be between 1 and %d, got %d", maxPageSize, q.Limit), nil)
	}
	if !q.StartTime.IsZero() && !q.EndTime.IsZero() && q.StartTime.After(q.EndTime) {
		return models.NewValidationError(
			fmt.Sprintf("start_time %s is after end_time %s", q.StartTime.Format("2006-01-02 15:04"), q.EndTime.Format("2006-01-02 15:04")), nil)
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = defaultPageSize
	}
	return nil
}
