package gate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ratewatch/ratewatch/internal/models"
	"github.com/ratewatch/ratewatch/internal/services/counter"
	"github.com/ratewatch/ratewatch/internal/services/limiter"
)

type mapDirectory map[string]models.Entity

func (d mapDirectory) Lookup(_ context.Context, kind models.EntityKind, id uint) (models.Entity, error) {
	ent, ok := d[fmt.Sprintf("%s:%d", kind, id)]
	if !ok {
		return models.Entity{}, models.NewNotFoundError(fmt.Sprintf("%s %d not found", kind, id), nil)
	}
	return ent, nil
}

func newTestService(systemRpm int) (*Service, mapDirectory) {
	now := time.Date(2026, 8, 31, 12, 0, 30, 0, time.UTC)
	clock := func() time.Time { return now }

	store := counter.NewStore(nil)
	store.SetNow(clock)
	cooldowns := limiter.NewMemoryCooldownStore()
	cooldowns.SetNow(clock)
	evaluator := limiter.NewEvaluator(cooldowns, nil, 5*time.Minute)
	evaluator.SetNow(clock)

	dir := mapDirectory{}
	cfg := models.EngineConfig{SystemRpmLimit: systemRpm}
	return NewService(store, evaluator, dir, nil, cfg.SystemLimits()), dir
}

func TestIngestAllowsWithinLimit(t *testing.T) {
	s, dir := newTestService(0)
	dir["api_key:1"] = models.Entity{
		Kind: models.KindAPIKey, ID: 1, Name: "k", IsActive: true,
		Limits: models.LimitSettings{RpmLimit: 10},
	}

	v, err := s.Ingest(context.Background(), models.KindAPIKey, 1, models.TokenDeltas{InputTokens: 5})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if !v.Allowed {
		t.Errorf("single event under limit must be allowed: %+v", v)
	}
	if v.Entity.Rpm != 1 || v.Entity.Tpm != 5 {
		t.Errorf("verdict must reflect the ingested event, got rpm=%d tpm=%d", v.Entity.Rpm, v.Entity.Tpm)
	}
}

func TestIngestGatesOnOvershoot(t *testing.T) {
	s, dir := newTestService(0)
	dir["api_key:1"] = models.Entity{
		Kind: models.KindAPIKey, ID: 1, Name: "k", IsActive: true,
		Limits: models.LimitSettings{RpmLimit: 3},
	}

	var v Verdict
	var err error
	for i := 0; i < 4; i++ {
		v, err = s.Ingest(context.Background(), models.KindAPIKey, 1, models.TokenDeltas{})
		if err != nil {
			t.Fatalf("ingest %d failed: %v", i, err)
		}
	}
	if v.Allowed {
		t.Errorf("4th event over rpm_limit 3 must be limited")
	}
	if v.Reason != "rpm limit exceeded" {
		t.Errorf("reason = %q", v.Reason)
	}
}

func TestIngestCountsSystemScope(t *testing.T) {
	s, dir := newTestService(2)
	for id := uint(1); id <= 3; id++ {
		dir[fmt.Sprintf("api_key:%d", id)] = models.Entity{
			Kind: models.KindAPIKey, ID: id, Name: "k", IsActive: true,
		}
	}

	// Three unlimited keys, one event each: the aggregate crosses the system
	// rpm limit of 2 even though no single key is near any limit.
	var v Verdict
	var err error
	for id := uint(1); id <= 3; id++ {
		v, err = s.Ingest(context.Background(), models.KindAPIKey, id, models.TokenDeltas{})
		if err != nil {
			t.Fatalf("ingest failed: %v", err)
		}
	}
	if v.Allowed {
		t.Errorf("system overshoot must gate traffic")
	}
	if v.Reason != "system rpm limit exceeded" {
		t.Errorf("reason = %q", v.Reason)
	}
	if v.System == nil || v.System.Rpm != 3 {
		t.Errorf("system state not reported: %+v", v.System)
	}
}

func TestIngestUnknownEntity(t *testing.T) {
	s, _ := newTestService(0)

	_, err := s.Ingest(context.Background(), models.KindAPIKey, 404, models.TokenDeltas{})
	if err == nil {
		t.Fatalf("expected not found error")
	}
	if appErr := models.AsAppError(err); appErr.Type != models.ErrorTypeNotFound {
		t.Errorf("expected not_found, got %s", appErr.Type)
	}
}

func TestCheckDoesNotRecord(t *testing.T) {
	s, dir := newTestService(0)
	dir["account:1"] = models.Entity{Kind: models.KindAccount, ID: 1, Name: "a", IsActive: true}

	for i := 0; i < 3; i++ {
		if _, err := s.Check(context.Background(), models.KindAccount, 1); err != nil {
			t.Fatalf("check failed: %v", err)
		}
	}
	v, err := s.Check(context.Background(), models.KindAccount, 1)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if v.Entity.Rpm != 0 {
		t.Errorf("check must not count as traffic, rpm = %d", v.Entity.Rpm)
	}
}
