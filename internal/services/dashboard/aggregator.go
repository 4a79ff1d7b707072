package dashboard

import (
	"context"
	"sort"
	"sync"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/ratewatch/ratewatch/internal/models"
	"github.com/ratewatch/ratewatch/internal/services/alerts"
	"github.com/ratewatch/ratewatch/internal/services/counter"
	"github.com/ratewatch/ratewatch/internal/services/entity"
	"github.com/ratewatch/ratewatch/internal/services/limiter"
)

const snapshotTTL = 5 * time.Second

// Directory resolves entity configuration for the scan.
type Directory interface {
	Lookup(ctx context.Context, kind models.EntityKind, id uint) (models.Entity, error)
}

// Summary is the dashboard header block.
type Summary struct {
	TrackedAPIKeys     int `json:"tracked_api_keys"`
	TrackedAccounts    int `json:"tracked_accounts"`
	ConfiguredEntities int `json:"configured_entities"`
	LimitedEntities    int `json:"limited_entities"`
	WarningEntities    int `json:"warning_entities"`
}

// Snapshot is one consistent dashboard payload.
type Snapshot struct {
	Summary      Summary              `json:"summary"`
	TopAPIKeys   []models.EntityStats `json:"top_api_keys"`
	TopAccounts  []models.EntityStats `json:"top_accounts"`
	System       models.EntityStats   `json:"system"`
	RecentAlerts []models.AlertEvent  `json:"recent_alerts"`
	GeneratedAt  time.Time            `json:"generated_at"`
}

// Aggregator assembles dashboard snapshots from the live counters, entity
// configuration and the alert ring. Snapshots are cached briefly so a busy
// dashboard does not rescan every tracked entity per request.
type Aggregator struct {
	store     *counter.Store
	evaluator *limiter.Evaluator
	alerts    *alerts.Log
	directory Directory

	topN            int
	recentAlerts    int
	scanConcurrency int
	system          models.Entity
	now             func() time.Time

	mu     sync.Mutex
	cached *Snapshot
}

func NewAggregator(store *counter.Store, evaluator *limiter.Evaluator, alertLog *alerts.Log, directory Directory, cfg models.EngineConfig) *Aggregator {
	cfg = cfg.WithDefaults()
	return &Aggregator{
		store:           store,
		evaluator:       evaluator,
		alerts:          alertLog,
		directory:       directory,
		topN:            cfg.TopN,
		recentAlerts:    cfg.RecentAlerts,
		scanConcurrency: cfg.ScanConcurrency,
		system:          cfg.SystemLimits(),
		now:             time.Now,
	}
}

// SetNow overrides the aggregator clock. Test hook.
func (a *Aggregator) SetNow(now func() time.Time) {
	a.now = now
}

// Snapshot returns the cached snapshot when it is fresh enough, otherwise
// builds a new one.
func (a *Aggregator) Snapshot(ctx context.Context) Snapshot {
	a.mu.Lock()
	if a.cached != nil && a.now().Sub(a.cached.GeneratedAt) < snapshotTTL {
		snap := *a.cached
		a.mu.Unlock()
		return snap
	}
	a.mu.Unlock()
	return a.Refresh(ctx)
}

// Refresh builds a fresh snapshot and caches it. Run from the scheduler so
// the dashboard usually serves from cache.
func (a *Aggregator) Refresh(ctx context.Context) Snapshot {
	snap := a.build(ctx)
	a.mu.Lock()
	a.cached = &snap
	a.mu.Unlock()
	return snap
}

func (a *Aggregator) build(ctx context.Context) Snapshot {
	tracked := a.store.Tracked()

	var (
		mu    sync.Mutex
		stats []models.EntityStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.scanConcurrency)
	for _, tr := range tracked {
		tr := tr
		g.Go(func() error {
			ent, err := a.directory.Lookup(gctx, tr.Kind, tr.ID)
			if err != nil {
				// Unknown or unreadable entities are skipped; one bad row must
				// not take down the whole snapshot.
				fiberlog.Debugf("dashboard scan skipping %s %d: %v", tr.Kind, tr.ID, err)
				return nil
			}
			usage := a.store.Usage(tr.Kind, tr.ID)
			state := a.evaluator.Evaluate(gctx, ent, usage)

			mu.Lock()
			stats = append(stats, entity.Stats(ent, usage, state))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	snap := Snapshot{
		System:       a.systemStats(ctx),
		RecentAlerts: a.alerts.Recent(a.recentAlerts),
		GeneratedAt:  a.now(),
	}

	var keys, accounts []models.EntityStats
	for _, st := range stats {
		switch st.Kind {
		case models.KindAPIKey:
			keys = append(keys, st)
		case models.KindAccount:
			accounts = append(accounts, st)
		}
		if st.RpmLimit > 0 || st.TpmLimit > 0 || st.RpmWarningThreshold > 0 || st.TpmWarningThreshold > 0 {
			snap.Summary.ConfiguredEntities++
		}
		if st.IsRpmLimited || st.IsTpmLimited {
			snap.Summary.LimitedEntities++
		} else if warning(st) {
			snap.Summary.WarningEntities++
		}
	}
	snap.Summary.TrackedAPIKeys = len(keys)
	snap.Summary.TrackedAccounts = len(accounts)
	snap.TopAPIKeys = topByRpm(keys, a.topN)
	snap.TopAccounts = topByRpm(accounts, a.topN)
	return snap
}

// SystemStats reports the aggregate scope's current usage and limit state.
func (a *Aggregator) SystemStats(ctx context.Context) models.EntityStats {
	return a.systemStats(ctx)
}

func (a *Aggregator) systemStats(ctx context.Context) models.EntityStats {
	usage := a.store.Usage(models.KindSystem, a.system.ID)
	state := a.evaluator.Evaluate(ctx, a.system, usage)
	return entity.Stats(a.system, usage, state)
}

func warning(st models.EntityStats) bool {
	return (st.RpmWarningThreshold > 0 && st.RpmUsagePercentage >= float64(st.RpmWarningThreshold)) ||
		(st.TpmWarningThreshold > 0 && st.TpmUsagePercentage >= float64(st.TpmWarningThreshold))
}

// topByRpm ranks by current rpm descending, ties broken by current tpm
// descending then id ascending so the ordering is deterministic.
func topByRpm(stats []models.EntityStats, n int) []models.EntityStats {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].CurrentRpm != stats[j].CurrentRpm {
			return stats[i].CurrentRpm > stats[j].CurrentRpm
		}
		if stats[i].CurrentTpm != stats[j].CurrentTpm {
			return stats[i].CurrentTpm > stats[j].CurrentTpm
		}
		return stats[i].ID < stats[j].ID
	})
	if len(stats) > n {
		stats = stats[:n]
	}
	return stats
}
