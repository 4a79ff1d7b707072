package models

import (
	"fmt"
	"time"
)

// EntityKind discriminates the two rate-limited principal kinds plus the
// aggregate system scope.
type EntityKind string

const (
	KindAPIKey  EntityKind = "api_key"
	KindAccount EntityKind = "account"
	KindSystem  EntityKind = "system"
)

// ParseEntityKind validates a kind coming from an HTTP path segment.
// Accepts plural path forms ("keys", "accounts") as well as the canonical
// names.
func ParseEntityKind(s string) (EntityKind, error) {
	switch s {
	case "api_key", "api_keys", "keys", "key":
		return KindAPIKey, nil
	case "account", "accounts":
		return KindAccount, nil
	case "system":
		return KindSystem, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
}

// LimitSettings is the configured (never traffic-mutated) limit block shared
// by API keys and accounts. A limit of 0 means unlimited. Warning thresholds
// are percentages of the corresponding limit.
type LimitSettings struct {
	RpmLimit            int `gorm:"default:0" json:"rpm_limit"`
	TpmLimit            int `gorm:"default:0" json:"tpm_limit"`
	RpmWarningThreshold int `gorm:"default:0" json:"rpm_warning_threshold"`
	TpmWarningThreshold int `gorm:"default:0" json:"tpm_warning_threshold"`
}

type APIKey struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"not null;size:255" json:"name"`
	IsActive bool   `gorm:"default:true;index" json:"is_active"`

	LimitSettings `gorm:"embedded"`

	// Mirrored live stats, refreshed by the scheduled sync job. The counter
	// store is authoritative while the process is running.
	CurrentRpm       int        `gorm:"default:0" json:"current_rpm"`
	CurrentTpm       int        `gorm:"default:0" json:"current_tpm"`
	MaxRpm           int        `gorm:"default:0" json:"max_rpm"`
	MaxTpm           int        `gorm:"default:0" json:"max_tpm"`
	RateLimitEndTime *time.Time `json:"rate_limit_end_time,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (APIKey) TableName() string {
	return "api_keys"
}

type Account struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"not null;size:255" json:"name"`
	IsActive bool   `gorm:"default:true;index" json:"is_active"`

	LimitSettings `gorm:"embedded"`

	CurrentRpm       int        `gorm:"default:0" json:"current_rpm"`
	CurrentTpm       int        `gorm:"default:0" json:"current_tpm"`
	MaxRpm           int        `gorm:"default:0" json:"max_rpm"`
	MaxTpm           int        `gorm:"default:0" json:"max_tpm"`
	RateLimitEndTime *time.Time `json:"rate_limit_end_time,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// Entity is the kind-agnostic view the evaluator and aggregator work with.
type Entity struct {
	Kind     EntityKind    `json:"kind"`
	ID       uint          `json:"id"`
	Name     string        `json:"name"`
	IsActive bool          `json:"is_active"`
	Limits   LimitSettings `json:"limits"`
}

func (k *APIKey) Entity() Entity {
	return Entity{Kind: KindAPIKey, ID: k.ID, Name: k.Name, IsActive: k.IsActive, Limits: k.LimitSettings}
}

func (a *Account) Entity() Entity {
	return Entity{Kind: KindAccount, ID: a.ID, Name: a.Name, IsActive: a.IsActive, Limits: a.LimitSettings}
}

// UpdateLimitsRequest carries a partial limit-configuration update. Nil
// fields are left untouched.
type UpdateLimitsRequest struct {
	RpmLimit            *int `json:"rpm_limit,omitempty"`
	TpmLimit            *int `json:"tpm_limit,omitempty"`
	RpmWarningThreshold *int `json:"rpm_warning_threshold,omitempty"`
	TpmWarningThreshold *int `json:"tpm_warning_threshold,omitempty"`
}

// Validate rejects negative values. Malformed configuration is refused at
// update time so evaluation never has to deal with it.
func (r *UpdateLimitsRequest) Validate() error {
	check := func(name string, v *int) error {
		if v != nil && *v < 0 {
			return NewValidationError(fmt.Sprintf("%s must be non-negative, got %d", name, *v), nil)
		}
		return nil
	}
	if err := check("rpm_limit", r.RpmLimit); err != nil {
		return err
	}
	if err := check("tpm_limit", r.TpmLimit); err != nil {
		return err
	}
	if err := check("rpm_warning_threshold", r.RpmWarningThreshold); err != nil {
		return err
	}
	return check("tpm_warning_threshold", r.TpmWarningThreshold)
}

// Empty reports whether the update would change nothing.
func (r *UpdateLimitsRequest) Empty() bool {
	return r.RpmLimit == nil && r.TpmLimit == nil &&
		r.RpmWarningThreshold == nil && r.TpmWarningThreshold == nil
}

// Updates returns the gorm column map for the non-nil fields.
func (r *UpdateLimitsRequest) Updates() map[string]any {
	updates := make(map[string]any, 4)
	if r.RpmLimit != nil {
		updates["rpm_limit"] = *r.RpmLimit
	}
	if r.TpmLimit != nil {
		updates["tpm_limit"] = *r.TpmLimit
	}
	if r.RpmWarningThreshold != nil {
		updates["rpm_warning_threshold"] = *r.RpmWarningThreshold
	}
	if r.TpmWarningThreshold != nil {
		updates["tpm_warning_threshold"] = *r.TpmWarningThreshold
	}
	return updates
}
