// Package engine orchestrates one classification run: signal collection,
// combination bonuses, tier classification, committing scores, and pruning
// high-confidence bot sessions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"botsweep/internal/classify"
	"botsweep/internal/crawler"
	"botsweep/internal/detect"
	"botsweep/internal/ranges"
	"botsweep/internal/store"
	"botsweep/internal/versions"
)

// Engine wires the detectors to one analytics store.
type Engine struct {
	store      *store.Store
	thresholds detect.Thresholds
	matcher    crawler.Matcher
	versions   versions.Provider
	ranges     *ranges.Cache
	log        *slog.Logger
}

// New creates an engine. matcher, provider and rangeCache may be nil for
// callers that disable the corresponding detectors.
func New(s *store.Store, thresholds detect.Thresholds, matcher crawler.Matcher, provider versions.Provider, rangeCache *ranges.Cache, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if provider == nil {
		provider = versions.Static{}
	}
	return &Engine{
		store:      s,
		thresholds: thresholds,
		matcher:    matcher,
		versions:   provider,
		ranges:     rangeCache,
		log:        log,
	}
}

// RunOptions are the per-invocation knobs of a run.
type RunOptions struct {
	// BatchSize overrides the configured scan batch size when positive.
	BatchSize int

	// DryRun computes everything but writes nothing.
	DryRun bool
}

// RunStats are the aggregate counters reported at the end of every run.
type RunStats struct {
	RunID  string
	DryRun bool

	// Scored counts sessions that collected at least one signal.
	Scored int

	High   int
	Medium int
	Low    int

	Committed        int
	PageViewsFlagged int64

	PrunedSessions     int64
	PrunedPageViews    int64
	PrunedElementViews int64

	Errors   int
	Duration time.Duration
}

// detectors returns the fixed detection sequence. The orphan pass runs
// first so the user-agent pass can skip sessions it already condemned.
func (e *Engine) detectors(t detect.Thresholds) []detect.Detector {
	ds := []detect.Detector{
		&detect.OrphanDetector{Store: e.store, Batch: t.BatchSize},
		&detect.UserAgentDetector{
			Store:     e.store,
			Batch:     t.BatchSize,
			Matcher:   e.matcher,
			Versions:  e.versions,
			SkipScore: t.SkipScore,
			Log:       e.log,
		},
		&detect.VolumeDetector{Store: e.store, Thresholds: t},
		&detect.TimingDetector{Store: e.store, Thresholds: t},
		&detect.CrawlDetector{Store: e.store, Thresholds: t},
		&detect.SinglePageDetector{Store: e.store, Batch: t.BatchSize},
	}
	if t.DatacenterDetection && e.ranges != nil {
		ds = append(ds, &detect.DatacenterDetector{Store: e.store, Batch: t.BatchSize, Cache: e.ranges, Log: e.log})
	}
	return ds
}

// Run executes one full classification run. Per-session failures are
// counted and logged but never abort the run; only cancellation does.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunStats, error) {
	// Per-invocation overrides apply to this run only.
	thresholds := e.thresholds
	if opts.BatchSize > 0 {
		thresholds.BatchSize = opts.BatchSize
	}

	stats := &RunStats{
		RunID:  uuid.NewString(),
		DryRun: opts.DryRun,
	}
	start := time.Now()
	log := e.log.With("run_id", stats.RunID)

	log.Info("classification run starting",
		"batch_size", thresholds.BatchSize,
		"dry_run", opts.DryRun,
	)

	// Phase 1: signal collection into the run-scoped accumulator.
	acc := detect.NewAccumulator()
	for _, d := range e.detectors(thresholds) {
		if err := d.Detect(ctx, acc); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return stats, err
			}
			// A detector failure costs its signals, not the run. Missing
			// signals can only under-score, never wrongly delete.
			stats.Errors++
			log.Error("detector failed", "detector", d.Name(), "error", err)
		}
	}
	stats.Scored = acc.Len()

	// Phase 2: combination bonuses, at most one per session.
	entries := acc.Entries()
	for id, entry := range entries {
		if bonus, tag, ok := classify.ApplyCombo(entry.Reasons); ok {
			acc.Add(id, bonus, tag)
		}
	}

	// Phase 3: classify and commit. Sessions with zero signals are left
	// untouched. Sorted order keeps logs and failures reproducible.
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var pruneEligible []string
	for _, id := range ids {
		entry := entries[id]
		score := classify.Cap(entry.Score)
		tier := classify.TierFor(score)

		switch tier {
		case classify.TierHigh:
			stats.High++
		case classify.TierMedium:
			stats.Medium++
		default:
			stats.Low++
		}

		if opts.DryRun {
			continue
		}

		reason := strings.Join(entry.Reasons.Sorted(), ",")
		if err := e.store.CommitScore(id, score, reason, tier == classify.TierHigh); err != nil {
			stats.Errors++
			log.Error("commit failed", "session_id", id, "error", err)
			continue
		}
		stats.Committed++

		if tier == classify.TierHigh {
			n, err := e.store.MarkPageViewsBot(id)
			if err != nil {
				// A partially committed session must not reach the pruner.
				stats.Errors++
				log.Error("page view flag propagation failed", "session_id", id, "error", err)
				continue
			}
			stats.PageViewsFlagged += n
			pruneEligible = append(pruneEligible, id)
		}
	}

	// Phase 4: prune. Only sessions this run both classified HIGH and
	// fully committed.
	if !opts.DryRun {
		e.prune(ctx, thresholds.BatchSize, pruneEligible, stats, log)
	}

	stats.Duration = time.Since(start)
	log.Info("classification run finished",
		"scored", stats.Scored,
		"high", stats.High,
		"medium", stats.Medium,
		"low", stats.Low,
		"committed", stats.Committed,
		"pruned_sessions", stats.PrunedSessions,
		"errors", stats.Errors,
		"duration", stats.Duration,
		"dry_run", opts.DryRun,
	)

	return stats, nil
}

// prune deletes HIGH-confidence sessions in batches, children first, each
// batch one transaction. A failed batch is reported and skipped.
func (e *Engine) prune(ctx context.Context, batch int, ids []string, stats *RunStats, log *slog.Logger) {
	for len(ids) > 0 {
		if err := ctx.Err(); err != nil {
			return
		}

		n := min(batch, len(ids))
		res, err := e.store.PruneSessions(ids[:n])
		if err != nil {
			stats.Errors++
			log.Error("prune batch failed", "sessions", n, "error", err)
		} else {
			stats.PrunedSessions += res.Sessions
			stats.PrunedPageViews += res.PageViews
			stats.PrunedElementViews += res.ElementViews
		}
		ids = ids[n:]
	}
}

// Thresholds returns the engine's effective detector tuning.
func (e *Engine) Thresholds() detect.Thresholds {
	return e.thresholds
}

// String renders the stats in the operator-facing summary format.
func (s *RunStats) String() string {
	mode := "run"
	if s.DryRun {
		mode = "dry run"
	}
	return fmt.Sprintf(
		"%s %s: %d scored (%d high / %d medium / %d low), %d committed, %d sessions pruned (%d page views, %d element views), %d errors in %s",
		mode, s.RunID, s.Scored, s.High, s.Medium, s.Low,
		s.Committed, s.PrunedSessions, s.PrunedPageViews, s.PrunedElementViews,
		s.Errors, s.Duration.Round(time.Millisecond),
	)
}
