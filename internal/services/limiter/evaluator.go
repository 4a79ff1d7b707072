package limiter

import (
	"context"
	"strconv"
	"sync"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ratewatch/ratewatch/internal/models"
)

// AlertSink receives alert events emitted on threshold crossings.
type AlertSink interface {
	Publish(event models.AlertEvent)
}

// Evaluator derives LimitState from current counters, entity configuration
// and any active cooldown. It owns no counter data; only the edge-detection
// memory used to emit alerts exactly once per crossing lives here.
//
// Evaluation never fails. Cooldown store errors are logged and treated as
// "no cooldown": the engine fails open, since traffic-path availability
// outweighs limiting precision.
type Evaluator struct {
	cooldowns CooldownStore
	alerts    AlertSink
	cooldown  time.Duration
	now       func() time.Time

	mu   sync.Mutex
	last map[string]edgeState
}

type edgeState struct {
	rpmLimited bool
	tpmLimited bool
	rpmWarning bool
	tpmWarning bool
}

// NewEvaluator creates an evaluator. alerts may be nil, in which case
// crossings are not reported anywhere.
func NewEvaluator(cooldowns CooldownStore, alerts AlertSink, cooldown time.Duration) *Evaluator {
	if cooldown <= 0 {
		cooldown = models.DefaultCooldown
	}
	return &Evaluator{
		cooldowns: cooldowns,
		alerts:    alerts,
		cooldown:  cooldown,
		now:       time.Now,
		last:      make(map[string]edgeState),
	}
}

// SetNow overrides the evaluator clock. Test hook.
func (e *Evaluator) SetNow(now func() time.Time) {
	e.now = now
}

// Evaluate computes the entity's limit state for its current usage, starting
// a cooldown on a fresh overshoot and emitting alert events on crossings.
func (e *Evaluator) Evaluate(ctx context.Context, entity models.Entity, usage models.Usage) models.LimitState {
	now := e.now()

	state := models.LimitState{
		Rpm:                usage.Rpm,
		Tpm:                usage.Tpm,
		RpmUsagePercentage: models.UsagePercentage(usage.Rpm, entity.Limits.RpmLimit),
		TpmUsagePercentage: models.UsagePercentage(usage.Tpm, entity.Limits.TpmLimit),
	}

	rpmEnd := e.evaluateMetric(ctx, entity, models.MetricRpm, usage.Rpm, entity.Limits.RpmLimit, now, &state.IsRpmLimited)
	tpmEnd := e.evaluateMetric(ctx, entity, models.MetricTpm, usage.Tpm, entity.Limits.TpmLimit, now, &state.IsTpmLimited)

	if end := latest(rpmEnd, tpmEnd); end != nil && end.After(now) {
		state.RateLimitEndTime = end
	}

	state.RpmWarning = warningCrossed(state.RpmUsagePercentage, entity.Limits.RpmWarningThreshold)
	state.TpmWarning = warningCrossed(state.TpmUsagePercentage, entity.Limits.TpmWarningThreshold)

	e.emitCrossings(entity, usage, state, now)
	return state
}

// evaluateMetric resolves one metric's limited flag, consulting and, on a
// fresh overshoot, starting the sticky cooldown. Returns the active cooldown
// end, if any.
func (e *Evaluator) evaluateMetric(ctx context.Context, entity models.Entity, metric models.AlertMetric, current, limit int, now time.Time, limited *bool) *time.Time {
	if limit <= 0 {
		// Unlimited: an earlier cooldown may still be draining, honor it.
		end := e.activeCooldown(ctx, entity, metric, now)
		*limited = end != nil
		return end
	}

	over := current > limit
	end := e.activeCooldown(ctx, entity, metric, now)

	if over && end == nil {
		until := now.Add(e.cooldown)
		if err := e.cooldowns.Set(ctx, entity.Kind, entity.ID, metric, until); err != nil {
			fiberlog.Errorf("failed to persist cooldown for %s %d %s: %v", entity.Kind, entity.ID, metric, err)
		}
		end = &until
	}

	*limited = over || end != nil
	return end
}

func (e *Evaluator) activeCooldown(ctx context.Context, entity models.Entity, metric models.AlertMetric, now time.Time) *time.Time {
	end, err := e.cooldowns.Get(ctx, entity.Kind, entity.ID, metric)
	if err != nil {
		fiberlog.Errorf("failed to read cooldown for %s %d %s: %v", entity.Kind, entity.ID, metric, err)
		return nil
	}
	if end == nil || !now.Before(*end) {
		return nil
	}
	return end
}

func warningCrossed(percentage float64, threshold int) bool {
	return threshold > 0 && percentage >= float64(threshold)
}

// emitCrossings publishes alerts on false->true transitions only, so a
// sustained overload produces one alert instead of one per event.
func (e *Evaluator) emitCrossings(entity models.Entity, usage models.Usage, state models.LimitState, now time.Time) {
	if e.alerts == nil {
		return
	}
	key := string(entity.Kind) + ":" + strconv.FormatUint(uint64(entity.ID), 10)

	e.mu.Lock()
	prev := e.last[key]
	next := edgeState{
		rpmLimited: state.IsRpmLimited,
		tpmLimited: state.IsTpmLimited,
		rpmWarning: state.RpmWarning,
		tpmWarning: state.TpmWarning,
	}
	e.last[key] = next
	e.mu.Unlock()

	emit := func(metric models.AlertMetric, level models.AlertLevel, current, limit int) {
		e.alerts.Publish(models.AlertEvent{
			Kind:       entity.Kind,
			EntityID:   entity.ID,
			EntityName: entity.Name,
			Metric:     metric,
			Level:      level,
			Current:    current,
			Limit:      limit,
			Timestamp:  now,
		})
	}

	if next.rpmLimited && !prev.rpmLimited {
		emit(models.MetricRpm, models.AlertLevelLimited, usage.Rpm, entity.Limits.RpmLimit)
	}
	if next.tpmLimited && !prev.tpmLimited {
		emit(models.MetricTpm, models.AlertLevelLimited, usage.Tpm, entity.Limits.TpmLimit)
	}
	if next.rpmWarning && !prev.rpmWarning && !next.rpmLimited {
		emit(models.MetricRpm, models.AlertLevelWarning, usage.Rpm, entity.Limits.RpmLimit)
	}
	if next.tpmWarning && !prev.tpmWarning && !next.tpmLimited {
		emit(models.MetricTpm, models.AlertLevelWarning, usage.Tpm, entity.Limits.TpmLimit)
	}
}

func latest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.After(*b) {
		return a
	}
	return b
}
