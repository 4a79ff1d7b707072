package models

import "time"

// AlertMetric names the metric that crossed a threshold.
type AlertMetric string

const (
	MetricRpm AlertMetric = "rpm"
	MetricTpm AlertMetric = "tpm"
)

// AlertLevel distinguishes non-blocking warning crossings from actual limit
// enforcement.
type AlertLevel string

const (
	AlertLevelWarning AlertLevel = "warning"
	AlertLevelLimited AlertLevel = "limited"
)

// AlertEvent is generated when an entity crosses a warning threshold or
// enters the limited state. Alerts are derived from usage, not authored;
// the engine keeps a bounded in-memory log of the most recent ones.
type AlertEvent struct {
	ID         string      `json:"id"`
	Kind       EntityKind  `json:"entity_kind"`
	EntityID   uint        `json:"entity_id"`
	EntityName string      `json:"entity_name,omitempty"`
	Metric     AlertMetric `json:"metric"`
	Level      AlertLevel  `json:"level"`
	Current    int         `json:"current"`
	Limit      int         `json:"limit"`
	Timestamp  time.Time   `json:"timestamp"`
}
