// Package pipeline orchestrates one digest run:
// fetch -> deduplicate -> rank -> summarize -> compose -> dispatch.
//
// State is loaded once at run start, threaded through as an explicit value,
// and persisted exactly once after confirmed delivery. A run either commits
// or leaves the prior state untouched.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/paperfeed/internal/dedup"
	"github.com/kalambet/paperfeed/internal/digest"
	"github.com/kalambet/paperfeed/internal/feed"
	"github.com/kalambet/paperfeed/internal/mail"
	"github.com/kalambet/paperfeed/internal/rank"
	"github.com/kalambet/paperfeed/internal/state"
	"github.com/kalambet/paperfeed/internal/storage"
	"github.com/kalambet/paperfeed/internal/summarize"
)

// ErrDelivery marks a failed digest delivery. The watermark does not move;
// the next run recomputes the same window and retries naturally.
var ErrDelivery = errors.New("digest delivery failed")

// Fetcher retrieves candidates from the source registry.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []feed.Source) ([]feed.Candidate, error)
}

// StateStore loads and persists the run state record.
type StateStore interface {
	Load() (state.Record, error)
	Save(state.Record) error
}

// Ranker scores candidates and selects the top-K.
type Ranker interface {
	Rank(ctx context.Context, cands []feed.Candidate) (selected, considered []rank.Ranked)
}

// Summarizer produces the structured answer set for one selected candidate.
type Summarizer interface {
	Summarize(ctx context.Context, rc rank.Ranked) summarize.Summary
	Questions() []summarize.Question
}

// Config carries the pipeline-level settings.
type Config struct {
	Sources  []feed.Source
	Rules    rank.Rules
	Lookback time.Duration
	Overlap  time.Duration
	// MarkUnselectedSeen also marks unseen-but-not-selected candidates as
	// seen on commit; by default only delivered items are marked.
	MarkUnselectedSeen bool
	RetentionDays      int
	SubjectPrefix      string
}

// Options are the per-invocation switches.
type Options struct {
	// DryRun composes and logs but skips delivery and all state mutation.
	DryRun bool
	// NoEmail skips delivery but still advances state.
	NoEmail bool
}

// RunReport summarizes one completed run for logging and exit reporting.
type RunReport struct {
	RunID       string
	WindowStart time.Time
	WindowEnd   time.Time
	Fetched     int
	Unseen      int
	Ranked      int
	Selected    int
	Degraded    int
	Delivered   bool
	Report      digest.Report
}

// Runner wires the pipeline stages together.
type Runner struct {
	cfg        Config
	fetcher    Fetcher
	store      StateStore
	ranker     Ranker
	summarizer Summarizer
	sender     mail.Sender
	archive    *storage.Archive
	clock      func() time.Time
	logger     *slog.Logger
}

// NewRunner creates a Runner. archive may be nil (no run history, no
// retention pruning); sender may be nil only when every run is dry-run or
// --no-email.
func NewRunner(cfg Config, fetcher Fetcher, store StateStore, ranker Ranker, summarizer Summarizer, sender mail.Sender, archive *storage.Archive) *Runner {
	return &Runner{
		cfg:        cfg,
		fetcher:    fetcher,
		store:      store,
		ranker:     ranker,
		summarizer: summarizer,
		sender:     sender,
		archive:    archive,
		clock:      time.Now,
		logger:     slog.Default().With("component", "pipeline"),
	}
}

// WithClock overrides the time source (used by tests).
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// Run executes one pipeline pass. On any error before the commit step the
// persisted state is untouched, so a rerun recomputes the identical window.
func (r *Runner) Run(ctx context.Context, opts Options) (RunReport, error) {
	started := r.clock().UTC()

	rec, err := r.store.Load()
	if err != nil {
		return RunReport{}, fmt.Errorf("loading state: %w", err)
	}

	now := r.clock().UTC()
	windowStart := rec.LastRunAt
	if windowStart.IsZero() {
		windowStart = now.Add(-r.cfg.Lookback)
	}

	rep := RunReport{
		RunID:       uuid.New().String(),
		WindowStart: windowStart,
		WindowEnd:   now,
	}

	// Fetch.
	cands, err := r.fetcher.FetchAll(ctx, r.cfg.Sources)
	if err != nil {
		return rep, err
	}
	rep.Fetched = len(cands)

	// Deduplicate against seen set and watermark.
	unseen := dedup.Filter(cands, dedup.Options{
		Watermark: rec.LastRunAt,
		Overlap:   r.cfg.Overlap,
		Lookback:  r.cfg.Lookback,
		Seen:      rec.SeenSet(),
		Now:       now,
	})
	rep.Unseen = len(unseen)

	// Interest-profile prefilter, then rank.
	filtered := rank.Prefilter(unseen, r.cfg.Rules)
	selected, considered := r.ranker.Rank(ctx, filtered)
	rep.Ranked = len(considered)
	rep.Selected = len(selected)
	for _, rc := range considered {
		if rc.Degraded {
			rep.Degraded++
		}
	}

	// Summarize the top-K and compose the digest.
	entries := make([]digest.Entry, len(selected))
	for i, rc := range selected {
		sum := r.summarizer.Summarize(ctx, rc)
		if sum.Unavailable {
			rep.Degraded++
		}
		entries[i] = digest.Entry{Ranked: rc, Summary: sum}
	}
	rep.Report = digest.Compose(entries, windowStart, now, digest.Counts{
		Fetched:  rep.Fetched,
		Unseen:   rep.Unseen,
		Ranked:   rep.Ranked,
		Selected: rep.Selected,
		Degraded: rep.Degraded,
	}, digest.Options{
		SubjectPrefix: r.cfg.SubjectPrefix,
		Questions:     r.summarizer.Questions(),
	})

	r.logger.Info("digest composed",
		"run_id", rep.RunID,
		"fetched", rep.Fetched,
		"unseen", rep.Unseen,
		"ranked", rep.Ranked,
		"selected", rep.Selected,
		"degraded", rep.Degraded,
	)

	if opts.DryRun {
		r.logger.Info("dry run: skipping delivery and state mutation", "subject", rep.Report.Subject)
		return rep, nil
	}

	// Deliver. Failure here leaves the watermark untouched so the next run
	// retries the same window (at-least-once delivery).
	if !opts.NoEmail {
		if err := r.sender.Send(ctx, rep.Report); err != nil {
			return rep, fmt.Errorf("%w: %v", ErrDelivery, err)
		}
		rep.Delivered = true
	} else {
		r.logger.Info("email disabled: skipping delivery, still advancing state")
	}

	// Commit: advance watermark, append identifiers, prune aged entries,
	// persist atomically.
	if err := r.commit(rec, rep, selected, considered, started, now); err != nil {
		return rep, err
	}
	return rep, nil
}

func (r *Runner) commit(rec state.Record, rep RunReport, selected, considered []rank.Ranked, started, now time.Time) error {
	delivered := selected
	if r.cfg.MarkUnselectedSeen {
		delivered = considered
	}
	ids := make([]string, len(delivered))
	for i, rc := range delivered {
		ids[i] = rc.ID
	}

	next := rec.Advanced(now, ids)
	next.RetentionDays = r.cfg.RetentionDays

	if r.archive != nil && r.cfg.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -r.cfg.RetentionDays)
		aged, err := r.archive.DeliveredBefore(cutoff)
		if err != nil {
			r.logger.Warn("retention query failed, skipping prune", "error", err)
		} else if len(aged) > 0 {
			next = next.Pruned(aged)
			r.logger.Info("pruned aged seen identifiers", "count", len(aged))
		}
	}

	if err := r.store.Save(next); err != nil {
		// Loud by contract: a silent failure here risks duplicate or lost
		// delivery on the next run.
		r.logger.Error("state persist failed", "error", err)
		return err
	}

	if r.archive != nil {
		items := make([]storage.DeliveredItem, len(selected))
		for i, rc := range selected {
			items[i] = storage.DeliveredItem{
				Identifier:  rc.ID,
				Title:       rc.Title,
				Source:      rc.Source,
				Score:       rc.Score,
				DeliveredAt: now,
			}
		}
		run := storage.Run{
			ID:          rep.RunID,
			StartedAt:   started,
			FinishedAt:  r.clock().UTC(),
			WindowStart: rep.WindowStart,
			WindowEnd:   rep.WindowEnd,
			Fetched:     rep.Fetched,
			Unseen:      rep.Unseen,
			Selected:    rep.Selected,
			Delivered:   len(items),
			Status:      runStatus(rep),
		}
		if err := r.archive.RecordRun(run, items); err != nil {
			// The JSON state file is authoritative; archive loss only costs
			// history and retention precision.
			r.logger.Warn("recording run in archive failed", "error", err)
		}
	}
	return nil
}

func runStatus(rep RunReport) string {
	if rep.Delivered {
		return "delivered"
	}
	return "skipped"
}
