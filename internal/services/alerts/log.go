package alerts

import (
	"sync"

	"github.com/google/uuid"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ratewatch/ratewatch/internal/models"
)

// Log is a bounded in-memory ring of recent alert events. Alerts are derived
// state: the log exists only to serve the dashboard's recent-alerts feed and
// does not survive a restart.
type Log struct {
	mu   sync.Mutex
	ring []models.AlertEvent
	next int
	size int
}

// NewLog creates an alert log that retains the most recent capacity events.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = models.DefaultAlertLogSize
	}
	return &Log{ring: make([]models.AlertEvent, capacity)}
}

// Publish assigns the event an ID and appends it, evicting the oldest entry
// once the ring is full.
func (l *Log) Publish(event models.AlertEvent) {
	event.ID = uuid.NewString()

	l.mu.Lock()
	l.ring[l.next] = event
	l.next = (l.next + 1) % len(l.ring)
	if l.size < len(l.ring) {
		l.size++
	}
	l.mu.Unlock()

	fiberlog.Warnf("alert: %s %s %d %s %d/%d",
		event.Level, event.Kind, event.EntityID, event.Metric, event.Current, event.Limit)
}

// Recent returns up to n events, newest first.
func (l *Log) Recent(n int) []models.AlertEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]models.AlertEvent, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.ring)) % len(l.ring)
		out = append(out, l.ring[idx])
	}
	return out
}

// Len reports how many events are currently retained.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}
