package models

import "time"

// LimitState is derived on every read from current counters, configuration
// and any active cooldown. It is never stored as a whole; only the cooldown
// end time persists across events.
type LimitState struct {
	Rpm                int        `json:"current_rpm"`
	Tpm                int        `json:"current_tpm"`
	RpmUsagePercentage float64    `json:"rpm_usage_percentage"`
	TpmUsagePercentage float64    `json:"tpm_usage_percentage"`
	IsRpmLimited       bool       `json:"is_rpm_limited"`
	IsTpmLimited       bool       `json:"is_tpm_limited"`
	RpmWarning         bool       `json:"rpm_warning"`
	TpmWarning         bool       `json:"tpm_warning"`
	RateLimitEndTime   *time.Time `json:"rate_limit_end_time,omitempty"`
}

// Limited reports whether either metric currently gates traffic.
func (s LimitState) Limited() bool {
	return s.IsRpmLimited || s.IsTpmLimited
}

// UsagePercentage returns current/limit as a percentage, capped at 100.
// A zero (unlimited) limit always reports 0.
func UsagePercentage(current, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	pct := float64(current) / float64(limit) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// EntityStats is the per-entity stats payload served to the dashboard
// frontend.
type EntityStats struct {
	Kind                EntityKind `json:"kind"`
	ID                  uint       `json:"id"`
	Name                string     `json:"name,omitempty"`
	CurrentRpm          int        `json:"current_rpm"`
	CurrentTpm          int        `json:"current_tpm"`
	MaxRpm              int        `json:"max_rpm"`
	MaxTpm              int        `json:"max_tpm"`
	RpmLimit            int        `json:"rpm_limit"`
	TpmLimit            int        `json:"tpm_limit"`
	RpmWarningThreshold int        `json:"rpm_warning_threshold"`
	TpmWarningThreshold int        `json:"tpm_warning_threshold"`
	RpmUsagePercentage  float64    `json:"rpm_usage_percentage"`
	TpmUsagePercentage  float64    `json:"tpm_usage_percentage"`
	IsRpmLimited        bool       `json:"is_rpm_limited"`
	IsTpmLimited        bool       `json:"is_tpm_limited"`
	RateLimitEndTime    *time.Time `json:"rate_limit_end_time,omitempty"`
}
