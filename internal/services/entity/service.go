package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ratewatch/ratewatch/internal/models"
)

// Service manages API key and account configuration rows. Limit settings
// live here; live counters live in the counter store and are only mirrored
// into these rows by the scheduled stats sync.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&models.APIKey{}, &models.Account{})
}

func (s *Service) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return models.NewStorageError("failed to create api key", err)
	}
	return nil
}

func (s *Service) CreateAccount(ctx context.Context, account *models.Account) error {
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return models.NewStorageError("failed to create account", err)
	}
	return nil
}

func (s *Service) GetAPIKey(ctx context.Context, id uint) (*models.APIKey, error) {
	var key models.APIKey
	if err := s.db.WithContext(ctx).First(&key, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError(fmt.Sprintf("api key %d not found", id), err)
		}
		return nil, models.NewStorageError(fmt.Sprintf("failed to load api key %d", id), err)
	}
	return &key, nil
}

func (s *Service) GetAccount(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError(fmt.Sprintf("account %d not found", id), err)
		}
		return nil, models.NewStorageError(fmt.Sprintf("failed to load account %d", id), err)
	}
	return &account, nil
}

// Lookup returns the kind-agnostic view of an entity's configuration.
func (s *Service) Lookup(ctx context.Context, kind models.EntityKind, id uint) (models.Entity, error) {
	switch kind {
	case models.KindAPIKey:
		key, err := s.GetAPIKey(ctx, id)
		if err != nil {
			return models.Entity{}, err
		}
		return key.Entity(), nil
	case models.KindAccount:
		account, err := s.GetAccount(ctx, id)
		if err != nil {
			return models.Entity{}, err
		}
		return account.Entity(), nil
	default:
		return models.Entity{}, models.NewValidationError(fmt.Sprintf("cannot look up entity kind %q", kind), nil)
	}
}

// UpdateLimits applies a partial limit-configuration update and returns the
// refreshed entity. Validation failures and unknown entities leave the row
// untouched.
func (s *Service) UpdateLimits(ctx context.Context, kind models.EntityKind, id uint, req *models.UpdateLimitsRequest) (models.Entity, error) {
	if err := req.Validate(); err != nil {
		return models.Entity{}, err
	}

	// Existence check first so a no-op update still 404s on unknown ids.
	entity, err := s.Lookup(ctx, kind, id)
	if err != nil {
		return models.Entity{}, err
	}
	if req.Empty() {
		return entity, nil
	}

	var model any
	switch kind {
	case models.KindAPIKey:
		model = &models.APIKey{}
	case models.KindAccount:
		model = &models.Account{}
	}
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(req.Updates()).Error; err != nil {
		return models.Entity{}, models.NewStorageError(fmt.Sprintf("failed to update limits for %s %d", kind, id), err)
	}

	return s.Lookup(ctx, kind, id)
}

// SyncStats mirrors an entity's live counters into its configuration row.
// Peaks only ratchet upward so a process restart cannot lower a recorded
// maximum.
func (s *Service) SyncStats(ctx context.Context, kind models.EntityKind, id uint, usage models.Usage, rateLimitEnd *time.Time) error {
	var model any
	switch kind {
	case models.KindAPIKey:
		model = &models.APIKey{}
	case models.KindAccount:
		model = &models.Account{}
	default:
		return models.NewValidationError(fmt.Sprintf("cannot sync stats for entity kind %q", kind), nil)
	}

	updates := map[string]any{
		"current_rpm":         usage.Rpm,
		"current_tpm":         usage.Tpm,
		"max_rpm":             gorm.Expr("CASE WHEN max_rpm > ? THEN max_rpm ELSE ? END", usage.MaxRpm, usage.MaxRpm),
		"max_tpm":             gorm.Expr("CASE WHEN max_tpm > ? THEN max_tpm ELSE ? END", usage.MaxTpm, usage.MaxTpm),
		"rate_limit_end_time": rateLimitEnd,
	}
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(updates).Error; err != nil {
		return models.NewStorageError(fmt.Sprintf("failed to sync stats for %s %d", kind, id), err)
	}
	return nil
}

// Stats assembles the per-entity dashboard payload from the configuration
// row, live usage, and the evaluated limit state.
func Stats(entity models.Entity, usage models.Usage, state models.LimitState) models.EntityStats {
	return models.EntityStats{
		Kind:                entity.Kind,
		ID:                  entity.ID,
		Name:                entity.Name,
		CurrentRpm:          usage.Rpm,
		CurrentTpm:          usage.Tpm,
		MaxRpm:              usage.MaxRpm,
		MaxTpm:              usage.MaxTpm,
		RpmLimit:            entity.Limits.RpmLimit,
		TpmLimit:            entity.Limits.TpmLimit,
		RpmWarningThreshold: entity.Limits.RpmWarningThreshold,
		TpmWarningThreshold: entity.Limits.TpmWarningThreshold,
		RpmUsagePercentage:  state.RpmUsagePercentage,
		TpmUsagePercentage:  state.TpmUsagePercentage,
		IsRpmLimited:        state.IsRpmLimited,
		IsTpmLimited:        state.IsTpmLimited,
		RateLimitEndTime:    state.RateLimitEndTime,
	}
}
