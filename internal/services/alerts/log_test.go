package alerts

import (
	"fmt"
	"testing"
	"time"

	"github.com/ratewatch/ratewatch/internal/models"
)

func TestLog_NewestFirst(t *testing.T) {
	log := NewLog(10)
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		log.Publish(models.AlertEvent{
			Kind:      models.KindAPIKey,
			EntityID:  uint(i + 1),
			Metric:    models.MetricRpm,
			Level:     models.AlertLevelLimited,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	recent := log.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 events, got %d", len(recent))
	}
	for i, want := range []uint{5, 4, 3} {
		if recent[i].EntityID != want {
			t.Errorf("recent[%d].EntityID = %d, want %d", i, recent[i].EntityID, want)
		}
	}
	for _, e := range recent {
		if e.ID == "" {
			t.Errorf("published event missing ID")
		}
	}
}

func TestLog_EvictsOldest(t *testing.T) {
	log := NewLog(4)
	for i := 1; i <= 10; i++ {
		log.Publish(models.AlertEvent{EntityID: uint(i), EntityName: fmt.Sprintf("key-%d", i)})
	}

	if log.Len() != 4 {
		t.Fatalf("expected 4 retained events, got %d", log.Len())
	}
	recent := log.Recent(0)
	if len(recent) != 4 {
		t.Fatalf("expected all 4 events, got %d", len(recent))
	}
	if recent[0].EntityID != 10 || recent[3].EntityID != 7 {
		t.Errorf("expected events 10..7 newest first, got %d..%d", recent[0].EntityID, recent[3].EntityID)
	}
}
