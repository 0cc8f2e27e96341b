// Package dedup filters fetched candidates against the persisted seen set
// and the run watermark.
package dedup

import (
	"log/slog"
	"time"

	"github.com/kalambet/paperfeed/internal/feed"
)

// Options controls one deduplication pass.
type Options struct {
	// Watermark is the last successful run timestamp. Zero means no prior
	// run; Lookback bounds the window instead.
	Watermark time.Time
	// Overlap widens the window below the watermark to tolerate feeds that
	// backdate publication times.
	Overlap time.Duration
	// Lookback is the window size used when Watermark is zero.
	Lookback time.Duration
	// Seen is the set of already-delivered identifiers.
	Seen map[string]struct{}
	// Now anchors the Lookback window.
	Now time.Time
}

// WindowStart returns the lower bound of the publication window.
func (o Options) WindowStart() time.Time {
	if o.Watermark.IsZero() {
		return o.Now.Add(-o.Lookback)
	}
	return o.Watermark.Add(-o.Overlap)
}

// Filter returns the candidates that are unseen and published after the
// window start. When several candidates share an identifier, the one with
// the more complete abstract wins; otherwise the first seen is kept.
// The output never contains an identifier present in Options.Seen.
func Filter(cands []feed.Candidate, opts Options) []feed.Candidate {
	start := opts.WindowStart()
	logger := slog.Default().With("component", "dedup")

	byID := make(map[string]int)
	var out []feed.Candidate
	dropped := 0
	for _, c := range cands {
		if !c.Published.After(start) {
			dropped++
			continue
		}
		if _, seen := opts.Seen[c.ID]; seen {
			dropped++
			continue
		}

		idx, dup := byID[c.ID]
		if !dup {
			byID[c.ID] = len(out)
			out = append(out, c)
			continue
		}
		// Same item from two sources: prefer the richer abstract.
		if len(c.Abstract) > len(out[idx].Abstract) {
			out[idx] = c
		}
	}

	logger.Debug("deduplicated candidates",
		"fetched", len(cands),
		"unseen", len(out),
		"dropped", dropped,
		"window_start", start,
	)
	return out
}
