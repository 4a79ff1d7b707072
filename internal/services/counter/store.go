package counter

import (
	"fmt"
	"sync"
	"time"

	"github.com/ratewatch/ratewatch/internal/models"
)

// SealTask carries a closed minute bucket to the history recorder.
type SealTask struct {
	Kind   models.EntityKind
	ID     uint
	Bucket models.MinuteBucket
}

// SealSink receives sealed buckets. Implementations must not block: sealing
// happens on the traffic path while a cell lock is held.
type SealSink interface {
	Enqueue(task SealTask)
}

// SealSinkFunc adapts a function to the SealSink interface.
type SealSinkFunc func(task SealTask)

func (f SealSinkFunc) Enqueue(task SealTask) { f(task) }

// Store maintains live per-entity minute buckets. Cells are created lazily
// and synchronized independently, so concurrent traffic for different
// entities never contends on a shared lock.
type Store struct {
	cells sync.Map // "kind:id" -> *cell
	sink  SealSink
	now   func() time.Time
}

type cell struct {
	mu     sync.Mutex
	kind   models.EntityKind
	id     uint
	minute time.Time
	bucket models.MinuteBucket
	maxRpm int
	maxTpm int
}

// NewStore creates a counter store that hands sealed buckets to sink. A nil
// sink discards sealed buckets (useful for tests and the system scope).
func NewStore(sink SealSink) *Store {
	return &Store{
		sink: sink,
		now:  time.Now,
	}
}

// SetNow overrides the store clock. Test hook.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

func cellKey(kind models.EntityKind, id uint) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

func (s *Store) getCell(kind models.EntityKind, id uint) *cell {
	key := cellKey(kind, id)
	if v, ok := s.cells.Load(key); ok {
		return v.(*cell)
	}
	// First writer wins; losers pick up the stored cell.
	v, _ := s.cells.LoadOrStore(key, &cell{kind: kind, id: id})
	return v.(*cell)
}

// Record applies one traffic event to the entity's live bucket for the
// current wall-clock minute. If the minute has advanced since the last
// event, the stale bucket is sealed first and the event lands in a fresh
// bucket, so a sealed minute is never mutated.
func (s *Store) Record(kind models.EntityKind, id uint, deltas models.TokenDeltas) {
	now := s.now()
	minute := now.Truncate(time.Minute)

	c := s.getCell(kind, id)
	c.mu.Lock()
	s.rollLocked(c, minute)
	c.bucket.Add(deltas)
	if c.bucket.RequestCount > c.maxRpm {
		c.maxRpm = c.bucket.RequestCount
	}
	if tpm := c.bucket.TotalTokens(); tpm > c.maxTpm {
		c.maxTpm = tpm
	}
	c.mu.Unlock()
}

// rollLocked seals the live bucket if it belongs to an earlier minute and
// resets it for the given minute. Caller holds c.mu.
func (s *Store) rollLocked(c *cell, minute time.Time) {
	if c.minute.Equal(minute) {
		return
	}
	if !c.minute.IsZero() && c.bucket.RequestCount > 0 && s.sink != nil {
		s.sink.Enqueue(SealTask{Kind: c.kind, ID: c.id, Bucket: c.bucket})
	}
	c.minute = minute
	c.bucket = models.MinuteBucket{Minute: minute}
}

// Usage returns the entity's current calendar-minute counts. This is the
// documented approximation of current_rpm/current_tpm: the count so far in
// this minute, which resets to zero at each minute boundary.
func (s *Store) Usage(kind models.EntityKind, id uint) models.Usage {
	v, ok := s.cells.Load(cellKey(kind, id))
	if !ok {
		return models.Usage{}
	}
	c := v.(*cell)
	minute := s.now().Truncate(time.Minute)

	c.mu.Lock()
	defer c.mu.Unlock()
	s.rollLocked(c, minute)
	return models.Usage{
		Rpm:    c.bucket.RequestCount,
		Tpm:    c.bucket.TotalTokens(),
		MaxRpm: c.maxRpm,
		MaxTpm: c.maxTpm,
	}
}

// TrackedEntity identifies one entity with live counters.
type TrackedEntity struct {
	Kind models.EntityKind
	ID   uint
}

// Tracked lists every entity the store currently holds a cell for,
// excluding the aggregate system scope.
func (s *Store) Tracked() []TrackedEntity {
	var out []TrackedEntity
	s.cells.Range(func(_, v any) bool {
		c := v.(*cell)
		if c.kind != models.KindSystem {
			out = append(out, TrackedEntity{Kind: c.kind, ID: c.id})
		}
		return true
	})
	return out
}

// Sweep seals any live bucket whose minute has elapsed. Run shortly after
// each minute boundary so idle entities still get their closing bucket
// persisted without waiting for their next event.
func (s *Store) Sweep() int {
	minute := s.now().Truncate(time.Minute)
	sealed := 0
	s.cells.Range(func(_, v any) bool {
		c := v.(*cell)
		c.mu.Lock()
		if !c.minute.IsZero() && c.minute.Before(minute) && c.bucket.RequestCount > 0 {
			sealed++
		}
		s.rollLocked(c, minute)
		c.mu.Unlock()
		return true
	})
	return sealed
}
