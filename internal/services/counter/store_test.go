package counter

import (
	"sync"
	"testing"
	"time"

	"github.com/ratewatch/ratewatch/internal/models"
)

type sealCollector struct {
	mu    sync.Mutex
	tasks []SealTask
}

func (c *sealCollector) Enqueue(task SealTask) {
	c.mu.Lock()
	c.tasks = append(c.tasks, task)
	c.mu.Unlock()
}

func (c *sealCollector) all() []SealTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SealTask(nil), c.tasks...)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStore_ConcurrentRecord(t *testing.T) {
	store := NewStore(nil)
	store.SetNow(fixedClock(time.Date(2026, 8, 31, 12, 0, 30, 0, time.UTC)))

	const n = 500
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Record(models.KindAPIKey, 1, models.TokenDeltas{InputTokens: 2, OutputTokens: 3})
		}()
	}
	wg.Wait()

	usage := store.Usage(models.KindAPIKey, 1)
	if usage.Rpm != n {
		t.Errorf("expected request count %d, got %d", n, usage.Rpm)
	}
	if usage.Tpm != n*5 {
		t.Errorf("expected token count %d, got %d", n*5, usage.Tpm)
	}
}

func TestStore_ConcurrentRecordManyEntities(t *testing.T) {
	store := NewStore(nil)
	store.SetNow(fixedClock(time.Date(2026, 8, 31, 12, 0, 30, 0, time.UTC)))

	const entities = 20
	const perEntity = 50
	var wg sync.WaitGroup
	for id := uint(1); id <= entities; id++ {
		for i := 0; i < perEntity; i++ {
			wg.Add(1)
			go func(id uint) {
				defer wg.Done()
				store.Record(models.KindAccount, id, models.TokenDeltas{InputTokens: 1})
			}(id)
		}
	}
	wg.Wait()

	for id := uint(1); id <= entities; id++ {
		if got := store.Usage(models.KindAccount, id).Rpm; got != perEntity {
			t.Errorf("entity %d: expected %d requests, got %d", id, perEntity, got)
		}
	}
}

func TestStore_MinuteRollover(t *testing.T) {
	sink := &sealCollector{}
	store := NewStore(sink)

	minute1 := time.Date(2026, 8, 31, 12, 0, 10, 0, time.UTC)
	store.SetNow(fixedClock(minute1))

	for i := 0; i < 3; i++ {
		store.Record(models.KindAPIKey, 7, models.TokenDeltas{InputTokens: 10})
	}

	// Advance past the minute boundary; the next event must land in a fresh
	// bucket and the old one must be sealed untouched.
	minute2 := minute1.Add(time.Minute)
	store.SetNow(fixedClock(minute2))
	store.Record(models.KindAPIKey, 7, models.TokenDeltas{InputTokens: 1})

	tasks := sink.all()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 sealed bucket, got %d", len(tasks))
	}
	sealed := tasks[0].Bucket
	if sealed.RequestCount != 3 {
		t.Errorf("sealed bucket: expected 3 requests, got %d", sealed.RequestCount)
	}
	if !sealed.Minute.Equal(minute1.Truncate(time.Minute)) {
		t.Errorf("sealed bucket minute = %v, want %v", sealed.Minute, minute1.Truncate(time.Minute))
	}

	usage := store.Usage(models.KindAPIKey, 7)
	if usage.Rpm != 1 {
		t.Errorf("live bucket after rollover: expected 1 request, got %d", usage.Rpm)
	}
}

func TestStore_PeaksSurviveRollover(t *testing.T) {
	store := NewStore(nil)
	minute1 := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	store.SetNow(fixedClock(minute1))

	for i := 0; i < 40; i++ {
		store.Record(models.KindAccount, 3, models.TokenDeltas{OutputTokens: 5})
	}

	store.SetNow(fixedClock(minute1.Add(2 * time.Minute)))
	usage := store.Usage(models.KindAccount, 3)
	if usage.Rpm != 0 {
		t.Errorf("expected current rpm 0 after quiet rollover, got %d", usage.Rpm)
	}
	if usage.MaxRpm != 40 {
		t.Errorf("expected max rpm 40, got %d", usage.MaxRpm)
	}
	if usage.MaxTpm != 200 {
		t.Errorf("expected max tpm 200, got %d", usage.MaxTpm)
	}
}

func TestStore_UsageUnknownEntity(t *testing.T) {
	store := NewStore(nil)
	if got := store.Usage(models.KindAPIKey, 99); got != (models.Usage{}) {
		t.Errorf("expected zero usage for unknown entity, got %+v", got)
	}
}

func TestStore_SweepSealsIdleEntities(t *testing.T) {
	sink := &sealCollector{}
	store := NewStore(sink)

	minute1 := time.Date(2026, 8, 31, 15, 30, 0, 0, time.UTC)
	store.SetNow(fixedClock(minute1))
	store.Record(models.KindAPIKey, 1, models.TokenDeltas{})
	store.Record(models.KindAccount, 2, models.TokenDeltas{})

	store.SetNow(fixedClock(minute1.Add(time.Minute)))
	if sealed := store.Sweep(); sealed != 2 {
		t.Errorf("expected 2 sealed buckets, got %d", sealed)
	}
	if len(sink.all()) != 2 {
		t.Errorf("expected 2 seal tasks, got %d", len(sink.all()))
	}

	// A second sweep in the same minute has nothing left to seal.
	if sealed := store.Sweep(); sealed != 0 {
		t.Errorf("expected idempotent sweep, sealed %d", sealed)
	}
}

func TestStore_TrackedExcludesSystem(t *testing.T) {
	store := NewStore(nil)
	store.SetNow(fixedClock(time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC)))

	store.Record(models.KindAPIKey, 1, models.TokenDeltas{})
	store.Record(models.KindAccount, 2, models.TokenDeltas{})
	store.Record(models.KindSystem, 0, models.TokenDeltas{})

	tracked := store.Tracked()
	if len(tracked) != 2 {
		t.Fatalf("expected 2 tracked entities, got %d", len(tracked))
	}
	for _, e := range tracked {
		if e.Kind == models.KindSystem {
			t.Errorf("system scope must not appear in tracked entities")
		}
	}
}
