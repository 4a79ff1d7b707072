package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds the rate-tracking engine knobs.
type EngineConfig struct {
	// Cooldown is how long an entity stays limited after an overshoot.
	// Sticky: the entity reports limited until the cooldown expires even if
	// usage drops in the meantime. Configured as a duration string ("5m").
	Cooldown time.Duration `yaml:"-" json:"cooldown"`

	// TopN bounds the dashboard rankings.
	TopN int `yaml:"top_n" json:"top_n"`

	// AlertLogSize bounds the recent-alerts ring buffer.
	AlertLogSize int `yaml:"alert_log_size" json:"alert_log_size"`

	// RecentAlerts is how many alerts a dashboard snapshot returns.
	RecentAlerts int `yaml:"recent_alerts" json:"recent_alerts"`

	// SealWorkers / SealBuffer size the async history flush pool.
	SealWorkers int `yaml:"seal_workers" json:"seal_workers"`
	SealBuffer  int `yaml:"seal_buffer" json:"seal_buffer"`

	// ScanConcurrency bounds the dashboard's parallel entity scan.
	ScanConcurrency int `yaml:"scan_concurrency" json:"scan_concurrency"`

	// System-wide limits applied to the aggregate system scope. Zero means
	// unlimited, like any other entity.
	SystemRpmLimit int `yaml:"system_rpm_limit" json:"system_rpm_limit"`
	SystemTpmLimit int `yaml:"system_tpm_limit" json:"system_tpm_limit"`
}

const (
	DefaultCooldown        = 5 * time.Minute
	DefaultTopN            = 10
	DefaultAlertLogSize    = 256
	DefaultRecentAlerts    = 20
	DefaultSealWorkers     = 2
	DefaultSealBuffer      = 1024
	DefaultScanConcurrency = 16
)

// UnmarshalYAML decodes the config block, parsing cooldown from a duration
// string.
func (c *EngineConfig) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		Cooldown        string `yaml:"cooldown"`
		TopN            int    `yaml:"top_n"`
		AlertLogSize    int    `yaml:"alert_log_size"`
		RecentAlerts    int    `yaml:"recent_alerts"`
		SealWorkers     int    `yaml:"seal_workers"`
		SealBuffer      int    `yaml:"seal_buffer"`
		ScanConcurrency int    `yaml:"scan_concurrency"`
		SystemRpmLimit  int    `yaml:"system_rpm_limit"`
		SystemTpmLimit  int    `yaml:"system_tpm_limit"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	if aux.Cooldown != "" {
		d, err := time.ParseDuration(aux.Cooldown)
		if err != nil {
			return fmt.Errorf("invalid cooldown %q: %w", aux.Cooldown, err)
		}
		c.Cooldown = d
	}
	c.TopN = aux.TopN
	c.AlertLogSize = aux.AlertLogSize
	c.RecentAlerts = aux.RecentAlerts
	c.SealWorkers = aux.SealWorkers
	c.SealBuffer = aux.SealBuffer
	c.ScanConcurrency = aux.ScanConcurrency
	c.SystemRpmLimit = aux.SystemRpmLimit
	c.SystemTpmLimit = aux.SystemTpmLimit
	return nil
}

// WithDefaults fills in zero fields.
func (c EngineConfig) WithDefaults() EngineConfig {
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.TopN <= 0 {
		c.TopN = DefaultTopN
	}
	if c.AlertLogSize <= 0 {
		c.AlertLogSize = DefaultAlertLogSize
	}
	if c.RecentAlerts <= 0 {
		c.RecentAlerts = DefaultRecentAlerts
	}
	if c.SealWorkers <= 0 {
		c.SealWorkers = DefaultSealWorkers
	}
	if c.SealBuffer <= 0 {
		c.SealBuffer = DefaultSealBuffer
	}
	if c.ScanConcurrency <= 0 {
		c.ScanConcurrency = DefaultScanConcurrency
	}
	return c
}

// SystemLimits returns the aggregate scope as an Entity the evaluator can
// treat like any other.
func (c EngineConfig) SystemLimits() Entity {
	return Entity{
		Kind:     KindSystem,
		ID:       0,
		Name:     "system",
		IsActive: true,
		Limits: LimitSettings{
			RpmLimit: c.SystemRpmLimit,
			TpmLimit: c.SystemTpmLimit,
		},
	}
}
