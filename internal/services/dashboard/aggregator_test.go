package dashboard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ratewatch/ratewatch/internal/models"
	"github.com/ratewatch/ratewatch/internal/services/alerts"
	"github.com/ratewatch/ratewatch/internal/services/counter"
	"github.com/ratewatch/ratewatch/internal/services/limiter"
)

type mapDirectory map[string]models.Entity

func dirKey(kind models.EntityKind, id uint) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

func (d mapDirectory) Lookup(_ context.Context, kind models.EntityKind, id uint) (models.Entity, error) {
	ent, ok := d[dirKey(kind, id)]
	if !ok {
		return models.Entity{}, models.NewNotFoundError(fmt.Sprintf("%s %d not found", kind, id), nil)
	}
	return ent, nil
}

func (d mapDirectory) add(kind models.EntityKind, id uint, limits models.LimitSettings) {
	d[dirKey(kind, id)] = models.Entity{
		Kind:     kind,
		ID:       id,
		Name:     fmt.Sprintf("%s-%d", kind, id),
		IsActive: true,
		Limits:   limits,
	}
}

func newTestAggregator(cfg models.EngineConfig) (*Aggregator, *counter.Store, mapDirectory, *alerts.Log) {
	start := time.Date(2026, 8, 31, 12, 0, 30, 0, time.UTC)
	now := func() time.Time { return start }

	store := counter.NewStore(nil)
	store.SetNow(now)

	cooldowns := limiter.NewMemoryCooldownStore()
	cooldowns.SetNow(now)
	log := alerts.NewLog(cfg.WithDefaults().AlertLogSize)
	evaluator := limiter.NewEvaluator(cooldowns, log, 5*time.Minute)
	evaluator.SetNow(now)

	dir := mapDirectory{}
	agg := NewAggregator(store, evaluator, log, dir, cfg)
	agg.SetNow(now)
	return agg, store, dir, log
}

func record(store *counter.Store, kind models.EntityKind, id uint, requests, tokensPer int) {
	for i := 0; i < requests; i++ {
		store.Record(kind, id, models.TokenDeltas{InputTokens: tokensPer})
	}
}

func TestSnapshotTopByRpm(t *testing.T) {
	agg, store, dir, _ := newTestAggregator(models.EngineConfig{TopN: 3})

	// rpm profile [50, 200, 10, 200]: ranking must be 2, 4, 1 with the tie on
	// 200 broken by ascending id.
	for id, rpm := range map[uint]int{1: 50, 2: 200, 3: 10, 4: 200} {
		dir.add(models.KindAPIKey, id, models.LimitSettings{})
		record(store, models.KindAPIKey, id, rpm, 1)
	}

	snap := agg.Snapshot(context.Background())
	if len(snap.TopAPIKeys) != 3 {
		t.Fatalf("expected top 3, got %d", len(snap.TopAPIKeys))
	}
	wantIDs := []uint{2, 4, 1}
	for i, want := range wantIDs {
		if snap.TopAPIKeys[i].ID != want {
			t.Errorf("rank %d: id = %d, want %d", i, snap.TopAPIKeys[i].ID, want)
		}
	}
	if snap.Summary.TrackedAPIKeys != 4 {
		t.Errorf("tracked api keys = %d, want 4", snap.Summary.TrackedAPIKeys)
	}
}

func TestSnapshotTieBreakByTpm(t *testing.T) {
	agg, store, dir, _ := newTestAggregator(models.EngineConfig{TopN: 2})

	dir.add(models.KindAccount, 1, models.LimitSettings{})
	dir.add(models.KindAccount, 2, models.LimitSettings{})
	record(store, models.KindAccount, 1, 10, 5)
	record(store, models.KindAccount, 2, 10, 50)

	snap := agg.Snapshot(context.Background())
	if len(snap.TopAccounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(snap.TopAccounts))
	}
	if snap.TopAccounts[0].ID != 2 {
		t.Errorf("equal rpm must rank higher tpm first, got id %d", snap.TopAccounts[0].ID)
	}
}

func TestSnapshotSummaryCounts(t *testing.T) {
	agg, store, dir, _ := newTestAggregator(models.EngineConfig{})

	// Limited: 20 > 10.
	dir.add(models.KindAPIKey, 1, models.LimitSettings{RpmLimit: 10})
	record(store, models.KindAPIKey, 1, 20, 1)
	// Warning: 85% of 100 with threshold 80.
	dir.add(models.KindAPIKey, 2, models.LimitSettings{RpmLimit: 100, RpmWarningThreshold: 80})
	record(store, models.KindAPIKey, 2, 85, 1)
	// Unconfigured, just tracked.
	dir.add(models.KindAccount, 3, models.LimitSettings{})
	record(store, models.KindAccount, 3, 5, 1)

	snap := agg.Snapshot(context.Background())
	if snap.Summary.LimitedEntities != 1 {
		t.Errorf("limited = %d, want 1", snap.Summary.LimitedEntities)
	}
	if snap.Summary.WarningEntities != 1 {
		t.Errorf("warning = %d, want 1", snap.Summary.WarningEntities)
	}
	if snap.Summary.ConfiguredEntities != 2 {
		t.Errorf("configured = %d, want 2", snap.Summary.ConfiguredEntities)
	}
	if snap.Summary.TrackedAPIKeys != 2 || snap.Summary.TrackedAccounts != 1 {
		t.Errorf("tracked = %d/%d, want 2/1", snap.Summary.TrackedAPIKeys, snap.Summary.TrackedAccounts)
	}
}

func TestSnapshotSkipsUnknownEntities(t *testing.T) {
	agg, store, dir, _ := newTestAggregator(models.EngineConfig{})

	dir.add(models.KindAPIKey, 1, models.LimitSettings{})
	record(store, models.KindAPIKey, 1, 5, 1)
	// Tracked in the counters but missing from the directory.
	record(store, models.KindAPIKey, 2, 50, 1)

	snap := agg.Snapshot(context.Background())
	if snap.Summary.TrackedAPIKeys != 1 {
		t.Errorf("unknown entity must be skipped, tracked = %d", snap.Summary.TrackedAPIKeys)
	}
	if len(snap.TopAPIKeys) != 1 || snap.TopAPIKeys[0].ID != 1 {
		t.Errorf("unexpected ranking %+v", snap.TopAPIKeys)
	}
}

func TestSnapshotIncludesSystemAndAlerts(t *testing.T) {
	agg, store, dir, _ := newTestAggregator(models.EngineConfig{SystemRpmLimit: 100})

	dir.add(models.KindAPIKey, 1, models.LimitSettings{RpmLimit: 3})
	record(store, models.KindAPIKey, 1, 5, 10)
	record(store, models.KindSystem, 0, 5, 10)

	snap := agg.Snapshot(context.Background())
	if snap.System.CurrentRpm != 5 || snap.System.CurrentTpm != 50 {
		t.Errorf("system stats = %d rpm / %d tpm, want 5/50", snap.System.CurrentRpm, snap.System.CurrentTpm)
	}
	if snap.System.RpmLimit != 100 {
		t.Errorf("system rpm limit = %d, want 100", snap.System.RpmLimit)
	}

	// The scan evaluated api_key 1 over its limit, which publishes an alert
	// into the ring the same snapshot reads from.
	if len(snap.RecentAlerts) != 1 {
		t.Fatalf("expected 1 recent alert, got %d", len(snap.RecentAlerts))
	}
	if snap.RecentAlerts[0].Level != models.AlertLevelLimited {
		t.Errorf("expected limited alert, got %s", snap.RecentAlerts[0].Level)
	}
}

func TestSnapshotServedFromCache(t *testing.T) {
	agg, store, dir, _ := newTestAggregator(models.EngineConfig{})

	dir.add(models.KindAPIKey, 1, models.LimitSettings{})
	record(store, models.KindAPIKey, 1, 5, 1)

	first := agg.Snapshot(context.Background())

	// New traffic within the cache window is not visible until a refresh.
	record(store, models.KindAPIKey, 1, 5, 1)
	second := agg.Snapshot(context.Background())
	if second.TopAPIKeys[0].CurrentRpm != first.TopAPIKeys[0].CurrentRpm {
		t.Errorf("expected cached snapshot, got rpm %d vs %d",
			second.TopAPIKeys[0].CurrentRpm, first.TopAPIKeys[0].CurrentRpm)
	}

	refreshed := agg.Refresh(context.Background())
	if refreshed.TopAPIKeys[0].CurrentRpm != 10 {
		t.Errorf("refresh must rescan, got rpm %d", refreshed.TopAPIKeys[0].CurrentRpm)
	}
}
