package models

import "time"

// HistoryRecord is a persisted closed minute bucket. Write-once: the unique
// (entity_kind, entity_id, minute_timestamp) key makes sealing idempotent
// under retry.
type HistoryRecord struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	EntityKind          EntityKind `gorm:"size:16;uniqueIndex:idx_history_entity_minute" json:"entity_kind"`
	EntityID            uint       `gorm:"uniqueIndex:idx_history_entity_minute" json:"entity_id"`
	MinuteTimestamp     time.Time  `gorm:"uniqueIndex:idx_history_entity_minute" json:"minute_timestamp"`
	RequestCount        int        `gorm:"default:0" json:"request_count"`
	InputTokens         int        `gorm:"default:0" json:"input_tokens"`
	OutputTokens        int        `gorm:"default:0" json:"output_tokens"`
	CacheReadTokens     int        `gorm:"default:0" json:"cache_read_tokens"`
	CacheCreationTokens int        `gorm:"default:0" json:"cache_creation_tokens"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (HistoryRecord) TableName() string {
	return "rate_history"
}

// TotalTokens is the record's aggregate token count.
func (r HistoryRecord) TotalTokens() int {
	return r.InputTokens + r.OutputTokens + r.CacheReadTokens + r.CacheCreationTokens
}

// HistoryQuery is a validated time-range + pagination request.
type HistoryQuery struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Page      int       `json:"page"`
	Limit     int       `json:"limit"`
}

// HistoryPage is one page of history plus the total match count.
type HistoryPage struct {
	Records []HistoryRecord `json:"history"`
	Total   int64           `json:"total"`
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
}
