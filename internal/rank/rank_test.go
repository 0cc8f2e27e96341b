package rank

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/paperfeed/internal/feed"
)

// --- mock scorer ---

type mockScorer struct {
	scoreFn func(ctx context.Context, c feed.Candidate) (Relevance, error)
}

func (m *mockScorer) Score(ctx context.Context, c feed.Candidate) (Relevance, error) {
	if m.scoreFn != nil {
		return m.scoreFn(ctx, c)
	}
	return Relevance{Score: 50}, nil
}

func cand(id string, published time.Time) feed.Candidate {
	return feed.Candidate{ID: id, Title: id, Published: published}
}

// --- tests ---

func TestRank_OrdersByServiceScore(t *testing.T) {
	scores := map[string]int{"doi:a": 30, "doi:b": 90, "doi:c": 60}
	scorer := &mockScorer{scoreFn: func(_ context.Context, c feed.Candidate) (Relevance, error) {
		return Relevance{Score: scores[c.ID], Reason: "r"}, nil
	}}

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	r := New(Config{Scorer: scorer, TopK: 2})
	selected, considered := r.Rank(context.Background(), []feed.Candidate{
		cand("doi:a", base), cand("doi:b", base), cand("doi:c", base),
	})

	if len(considered) != 3 {
		t.Fatalf("considered = %d, want 3 (ranking must be total)", len(considered))
	}
	wantOrder := []string{"doi:b", "doi:c", "doi:a"}
	for i, id := range wantOrder {
		if considered[i].ID != id {
			t.Errorf("considered[%d] = %s, want %s", i, considered[i].ID, id)
		}
		if considered[i].Position != i+1 {
			t.Errorf("considered[%d].Position = %d", i, considered[i].Position)
		}
	}
	if len(selected) != 2 || selected[0].ID != "doi:b" || selected[1].ID != "doi:c" {
		t.Errorf("selected = %v", selected)
	}
}

func TestRank_TopKBound(t *testing.T) {
	var cands []feed.Candidate
	for i := 0; i < 50; i++ {
		cands = append(cands, cand(fmt.Sprintf("doi:%03d", i), time.Now()))
	}
	r := New(Config{TopK: 10})
	selected, considered := r.Rank(context.Background(), cands)
	if len(selected) != 10 {
		t.Errorf("selected = %d, want 10", len(selected))
	}
	if len(considered) != 50 {
		t.Errorf("considered = %d, want 50", len(considered))
	}

	// Fewer candidates than K: all kept.
	selected, _ = r.Rank(context.Background(), cands[:3])
	if len(selected) != 3 {
		t.Errorf("selected = %d, want 3", len(selected))
	}
}

func TestRank_DeterministicTieBreaks(t *testing.T) {
	older := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(6 * time.Hour)
	scorer := &mockScorer{scoreFn: func(_ context.Context, c feed.Candidate) (Relevance, error) {
		return Relevance{Score: 70}, nil
	}}

	r := New(Config{Scorer: scorer, TopK: 10})
	_, considered := r.Rank(context.Background(), []feed.Candidate{
		cand("doi:b", older), cand("doi:a", older), cand("doi:c", newer),
	})

	// Equal scores: newer first, then identifier ascending.
	wantOrder := []string{"doi:c", "doi:a", "doi:b"}
	for i, id := range wantOrder {
		if considered[i].ID != id {
			t.Errorf("considered[%d] = %s, want %s", i, considered[i].ID, id)
		}
	}
}

func TestRank_FailedScoringDegradesNeverDrops(t *testing.T) {
	scorer := &mockScorer{scoreFn: func(_ context.Context, c feed.Candidate) (Relevance, error) {
		if c.ID == "doi:bad" {
			return Relevance{}, fmt.Errorf("service down")
		}
		return Relevance{Score: 80}, nil
	}}

	kw := &KeywordScorer{Keywords: []string{"resilience"}}
	cands := []feed.Candidate{
		{ID: "doi:bad", Title: "resilience study", Published: time.Now()},
		{ID: "doi:good", Title: "resilience too", Published: time.Now()},
	}
	r := New(Config{Scorer: scorer, Keyword: kw, TopK: 10})
	_, considered := r.Rank(context.Background(), cands)

	if len(considered) != 2 {
		t.Fatalf("failed scoring dropped a candidate: %v", considered)
	}
	var bad *Ranked
	for i := range considered {
		if considered[i].ID == "doi:bad" {
			bad = &considered[i]
		}
	}
	if bad == nil {
		t.Fatal("doi:bad missing from ranking")
	}
	if !bad.Degraded {
		t.Error("failed scoring not flagged as degraded")
	}
	if bad.Score != 1 {
		t.Errorf("degraded score = %d, want keyword fallback 1", bad.Score)
	}
}

func TestRank_MinScoreCutoff(t *testing.T) {
	scores := map[string]int{"doi:a": 20, "doi:b": 90}
	scorer := &mockScorer{scoreFn: func(_ context.Context, c feed.Candidate) (Relevance, error) {
		return Relevance{Score: scores[c.ID]}, nil
	}}

	r := New(Config{Scorer: scorer, TopK: 10, MinScore: 60})
	selected, considered := r.Rank(context.Background(), []feed.Candidate{
		cand("doi:a", time.Now()), cand("doi:b", time.Now()),
	})
	if len(considered) != 1 || considered[0].ID != "doi:b" {
		t.Errorf("considered = %v, want only doi:b", considered)
	}
	if len(selected) != 1 {
		t.Errorf("selected = %v", selected)
	}
}

func TestRank_SourceWeights(t *testing.T) {
	r := New(Config{
		Keyword:       &KeywordScorer{Keywords: []string{"grid"}},
		SourceWeights: map[string]int{"journals": 5},
		TopK:          10,
	})
	cands := []feed.Candidate{
		{ID: "doi:arxiv", Title: "grid paper", SourceGroup: "arxiv", Published: time.Now()},
		{ID: "doi:journal", Title: "grid paper", SourceGroup: "journals", Published: time.Now()},
	}
	_, considered := r.Rank(context.Background(), cands)
	if considered[0].ID != "doi:journal" {
		t.Errorf("weighted source not ranked first: %v", considered)
	}
	if considered[0].Score != 6 {
		t.Errorf("score = %d, want keyword 1 + weight 5", considered[0].Score)
	}
}

func TestRank_MaxEvalCapsServiceCalls(t *testing.T) {
	calls := 0
	scorer := &mockScorer{scoreFn: func(_ context.Context, c feed.Candidate) (Relevance, error) {
		calls++
		return Relevance{Score: 50}, nil
	}}

	var cands []feed.Candidate
	for i := 0; i < 20; i++ {
		cands = append(cands, cand(fmt.Sprintf("doi:%03d", i), time.Now()))
	}
	r := New(Config{Scorer: scorer, TopK: 10, MaxEval: 5, Concurrency: 1})
	r.Rank(context.Background(), cands)
	if calls != 5 {
		t.Errorf("service calls = %d, want 5", calls)
	}
}

func TestRank_Empty(t *testing.T) {
	r := New(Config{})
	selected, considered := r.Rank(context.Background(), nil)
	if selected != nil || considered != nil {
		t.Errorf("got %v, %v for empty input", selected, considered)
	}
}

func TestPrefilter(t *testing.T) {
	cands := []feed.Candidate{
		{ID: "1", Title: "Editorial: welcome to the new issue"},
		{ID: "2", Title: "Grid resilience with renewables", Abstract: "power system study"},
		{ID: "3", Title: "Protein folding advances", Abstract: "biology"},
		{ID: "4", Title: "Grid stability survey", Abstract: "contains blockchain hype"},
	}
	rules := Rules{
		Keywords:             []string{"grid", "power"},
		ExcludeKeywords:      []string{"blockchain"},
		ExcludeTitlePrefixes: []string{"editorial:"},
		MinKeywordHits:       1,
	}
	out := Prefilter(cands, rules)
	if len(out) != 1 || out[0].ID != "2" {
		t.Fatalf("got %v, want only candidate 2", out)
	}
}

func TestPrefilter_GroupFloor(t *testing.T) {
	cands := []feed.Candidate{
		{ID: "1", Title: "resilience of urban distribution networks"},
		{ID: "2", Title: "resilience of supply chains"},
	}
	rules := Rules{
		Groups: []TopicGroup{
			{Name: "power", Any: []string{"distribution network", "power grid"}},
			{Name: "resilience", Any: []string{"resilience"}},
		},
		MinGroupsMatched: 2,
	}
	out := Prefilter(cands, rules)
	if len(out) != 1 || out[0].ID != "1" {
		t.Fatalf("got %v, want only candidate 1", out)
	}
}

func TestKeywordScorer(t *testing.T) {
	s := &KeywordScorer{
		Keywords: []string{"grid", "resilience", "missing"},
		Groups: []TopicGroup{
			{Name: "g1", Any: []string{"urban"}},
		},
	}
	rel, err := s.Score(context.Background(), feed.Candidate{
		Title:    "Urban grid resilience",
		Abstract: "a study of grids",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2 keyword hits + 1 group hit.
	if rel.Score != 3 {
		t.Errorf("score = %d, want 3", rel.Score)
	}
}
