// Package rank scores unseen candidates against the interest profile and
// selects the top-K for summarization and delivery.
package rank

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/kalambet/paperfeed/internal/feed"
)

const defaultConcurrency = 3

// Relevance is one scorer judgment.
type Relevance struct {
	Score  int
	Reason string
}

// Scorer rates a candidate's relevance to the research profile.
// Implementations: LLMScorer (service-backed) and KeywordScorer
// (deterministic fallback).
type Scorer interface {
	Score(ctx context.Context, c feed.Candidate) (Relevance, error)
}

// Ranked is a candidate annotated with its relevance score and rank position.
// Degraded marks candidates whose service scoring failed and fell back to
// the keyword score.
type Ranked struct {
	feed.Candidate
	Score    int
	Reason   string
	Position int
	Degraded bool
}

// Config wires a Ranker.
type Config struct {
	// Scorer is the service-backed scorer; nil means keyword-only ranking.
	Scorer Scorer
	// Keyword is the deterministic scorer, always present. It pre-orders
	// candidates and substitutes for failed service calls.
	Keyword *KeywordScorer
	// SourceWeights adds a per-source-group bias to the final score.
	SourceWeights map[string]int
	// TopK caps the number of selected candidates (default 10).
	TopK int
	// MaxEval caps how many candidates get a service scoring call;
	// the rest keep their keyword score (default 30).
	MaxEval int
	// MinScore drops service-scored candidates below this floor before
	// top-K selection. Ignored in keyword-only mode.
	MinScore int
	// Concurrency bounds parallel scoring calls (default 3).
	Concurrency int
}

// Ranker orders candidates by relevance and selects the top-K.
type Ranker struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Ranker. Zero or negative limits fall back to defaults.
func New(cfg Config) *Ranker {
	if cfg.Keyword == nil {
		cfg.Keyword = &KeywordScorer{}
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.MaxEval <= 0 {
		cfg.MaxEval = 30
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Ranker{cfg: cfg, logger: slog.Default().With("component", "ranker")}
}

// Rank is total: every candidate gets a score and appears in considered,
// sorted by score descending with ties broken by newer publication then
// identifier. selected is the top-K prefix after the optional min-score
// cutoff. A failed service call degrades that candidate to its keyword
// score and is logged, never dropped.
func (r *Ranker) Rank(ctx context.Context, cands []feed.Candidate) (selected, considered []Ranked) {
	if len(cands) == 0 {
		return nil, nil
	}

	ranked := make([]Ranked, len(cands))
	for i, c := range cands {
		rel, _ := r.cfg.Keyword.Score(ctx, c)
		ranked[i] = Ranked{Candidate: c, Score: rel.Score, Reason: rel.Reason}
	}
	// Keyword pre-order decides which candidates are worth a service call.
	sortRanked(ranked)

	if r.cfg.Scorer != nil {
		r.scoreConcurrently(ctx, ranked)
	}

	for i := range ranked {
		ranked[i].Score += r.cfg.SourceWeights[ranked[i].SourceGroup]
	}
	sortRanked(ranked)

	if r.cfg.Scorer != nil && r.cfg.MinScore > 0 {
		kept := ranked[:0]
		for _, rc := range ranked {
			if rc.Score >= r.cfg.MinScore {
				kept = append(kept, rc)
			}
		}
		ranked = kept
	}

	for i := range ranked {
		ranked[i].Position = i + 1
	}

	k := min(r.cfg.TopK, len(ranked))
	return ranked[:k], ranked
}

// scoreConcurrently replaces the keyword score with the service judgment for
// the first MaxEval candidates, bounded to Concurrency in-flight calls.
func (r *Ranker) scoreConcurrently(ctx context.Context, ranked []Ranked) {
	n := min(r.cfg.MaxEval, len(ranked))
	sem := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				ranked[idx].Degraded = true
				return
			}
			defer func() { <-sem }()

			rel, err := r.cfg.Scorer.Score(ctx, ranked[idx].Candidate)
			if err != nil {
				ranked[idx].Degraded = true
				r.logger.Warn("relevance scoring failed, keeping keyword score",
					"id", ranked[idx].ID, "title", ranked[idx].Title, "error", err)
				return
			}
			ranked[idx].Score = rel.Score
			ranked[idx].Reason = rel.Reason
		}(i)
	}
	wg.Wait()
}

// sortRanked orders by score descending, then newer publication, then
// identifier ascending for full determinism.
func sortRanked(ranked []Ranked) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if !ranked[i].Published.Equal(ranked[j].Published) {
			return ranked[i].Published.After(ranked[j].Published)
		}
		return ranked[i].ID < ranked[j].ID
	})
}
