package gate

import (
	"context"

	"github.com/ratewatch/ratewatch/internal/models"
	"github.com/ratewatch/ratewatch/internal/services/counter"
	"github.com/ratewatch/ratewatch/internal/services/limiter"
	"github.com/ratewatch/ratewatch/internal/services/metrics"
)

// Directory resolves entity configuration.
type Directory interface {
	Lookup(ctx context.Context, kind models.EntityKind, id uint) (models.Entity, error)
}

// Verdict is the gate's answer for one event or check: the entity's limit
// state, the aggregate system state, and whether traffic should pass.
type Verdict struct {
	Allowed bool               `json:"allowed"`
	Reason  string             `json:"reason,omitempty"`
	Entity  models.LimitState  `json:"entity"`
	System  *models.LimitState `json:"system,omitempty"`
}

// Service records traffic events and evaluates the gate. Every event also
// lands in the aggregate system counters so system-wide limits see the full
// traffic volume.
type Service struct {
	store     *counter.Store
	evaluator *limiter.Evaluator
	directory Directory
	metrics   *metrics.Metrics
	system    models.Entity
}

func NewService(store *counter.Store, evaluator *limiter.Evaluator, directory Directory, m *metrics.Metrics, system models.Entity) *Service {
	return &Service{
		store:     store,
		evaluator: evaluator,
		directory: directory,
		metrics:   m,
		system:    system,
	}
}

// Ingest applies one traffic event and returns the resulting verdict. The
// event is counted before evaluation, so the verdict reflects the traffic
// including this event.
func (s *Service) Ingest(ctx context.Context, kind models.EntityKind, id uint, deltas models.TokenDeltas) (Verdict, error) {
	entity, err := s.directory.Lookup(ctx, kind, id)
	if err != nil {
		return Verdict{}, err
	}

	s.store.Record(kind, id, deltas)
	s.store.Record(models.KindSystem, s.system.ID, deltas)
	s.metrics.RecordEvent(kind)

	return s.verdict(ctx, entity), nil
}

// Check evaluates the gate without recording anything.
func (s *Service) Check(ctx context.Context, kind models.EntityKind, id uint) (Verdict, error) {
	entity, err := s.directory.Lookup(ctx, kind, id)
	if err != nil {
		return Verdict{}, err
	}
	return s.verdict(ctx, entity), nil
}

// State evaluates one entity's limit state against its live usage.
func (s *Service) State(ctx context.Context, entity models.Entity) (models.Usage, models.LimitState) {
	usage := s.store.Usage(entity.Kind, entity.ID)
	return usage, s.evaluator.Evaluate(ctx, entity, usage)
}

func (s *Service) verdict(ctx context.Context, entity models.Entity) Verdict {
	_, state := s.State(ctx, entity)
	_, systemState := s.State(ctx, s.system)

	v := Verdict{
		Allowed: !state.Limited() && !systemState.Limited(),
		Entity:  state,
		System:  &systemState,
	}
	switch {
	case state.IsRpmLimited:
		v.Reason = "rpm limit exceeded"
	case state.IsTpmLimited:
		v.Reason = "tpm limit exceeded"
	case systemState.IsRpmLimited:
		v.Reason = "system rpm limit exceeded"
	case systemState.IsTpmLimited:
		v.Reason = "system tpm limit exceeded"
	}

	s.metrics.RecordVerdict(entity.Kind, !v.Allowed)
	return v
}
