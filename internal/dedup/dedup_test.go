package dedup

import (
	"testing"
	"time"

	"github.com/kalambet/paperfeed/internal/feed"
)

func cand(id string, published time.Time) feed.Candidate {
	return feed.Candidate{ID: id, Title: id, Published: published}
}

// Mirrors the reference scenario: A seen and stale, B and C fresh and unseen.
func TestFilter_SeenAndWindow(t *testing.T) {
	watermark := time.Date(2026, 2, 1, 1, 0, 0, 0, time.UTC)
	cands := []feed.Candidate{
		cand("doi:a", time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC)),
		cand("doi:b", time.Date(2026, 2, 1, 2, 0, 0, 0, time.UTC)),
		cand("doi:c", time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)),
	}

	out := Filter(cands, Options{
		Watermark: watermark,
		Seen:      map[string]struct{}{"doi:a": {}},
	})

	if len(out) != 2 {
		t.Fatalf("got %d candidates, want 2: %v", len(out), out)
	}
	if out[0].ID != "doi:b" || out[1].ID != "doi:c" {
		t.Errorf("got %q, %q; want doi:b, doi:c", out[0].ID, out[1].ID)
	}
}

func TestFilter_SeenExcludedEvenInsideWindow(t *testing.T) {
	watermark := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	fresh := cand("doi:a", watermark.Add(2*time.Hour))

	out := Filter([]feed.Candidate{fresh}, Options{
		Watermark: watermark,
		Seen:      map[string]struct{}{"doi:a": {}},
	})
	if len(out) != 0 {
		t.Fatalf("seen identifier leaked through: %v", out)
	}
}

func TestFilter_OverlapMargin(t *testing.T) {
	watermark := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	// Published an hour before the watermark: inside a 6h overlap margin.
	jittered := cand("doi:j", watermark.Add(-time.Hour))

	out := Filter([]feed.Candidate{jittered}, Options{Watermark: watermark})
	if len(out) != 0 {
		t.Fatalf("without overlap the item must be dropped: %v", out)
	}

	out = Filter([]feed.Candidate{jittered}, Options{Watermark: watermark, Overlap: 6 * time.Hour})
	if len(out) != 1 {
		t.Fatalf("overlap margin must admit the jittered item")
	}
}

func TestFilter_LookbackWhenNoWatermark(t *testing.T) {
	now := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	old := cand("doi:old", now.Add(-48*time.Hour))
	fresh := cand("doi:new", now.Add(-12*time.Hour))

	out := Filter([]feed.Candidate{old, fresh}, Options{
		Lookback: 36 * time.Hour,
		Now:      now,
	})
	if len(out) != 1 || out[0].ID != "doi:new" {
		t.Fatalf("got %v, want only doi:new", out)
	}
}

func TestFilter_CollisionKeepsRicherAbstract(t *testing.T) {
	watermark := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	bare := feed.Candidate{ID: "doi:x", Abstract: "", Published: watermark.Add(time.Hour), Source: "first"}
	rich := feed.Candidate{ID: "doi:x", Abstract: "full abstract text", Published: watermark.Add(time.Hour), Source: "second"}

	out := Filter([]feed.Candidate{bare, rich}, Options{Watermark: watermark})
	if len(out) != 1 {
		t.Fatalf("got %d candidates, want 1", len(out))
	}
	if out[0].Source != "second" {
		t.Errorf("kept %q, want the richer-abstract duplicate", out[0].Source)
	}

	// Equal abstracts: first seen wins.
	twin := rich
	twin.Source = "third"
	out = Filter([]feed.Candidate{rich, twin}, Options{Watermark: watermark})
	if out[0].Source != "second" {
		t.Errorf("kept %q, want first-seen on tie", out[0].Source)
	}
}
