package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/paperfeed/internal/feed"
	"github.com/kalambet/paperfeed/internal/llm"
)

const scoreSystemPrompt = "You are a literature screening assistant. Judge relevance " +
	"using only the provided paper metadata; never invent facts. " +
	"Respond with strict JSON."

// LLMScorer asks the relevance service to rate a candidate 0-100 against
// the configured research focus.
type LLMScorer struct {
	client llm.Chatter
	focus  string
}

// NewLLMScorer creates an LLMScorer for the given research focus statement.
func NewLLMScorer(client llm.Chatter, focus string) *LLMScorer {
	return &LLMScorer{client: client, focus: focus}
}

// Score returns the service's relevance judgment, clamped to [0, 100].
// Transport and parse failures are returned as errors; the ranker decides
// how to degrade.
func (s *LLMScorer) Score(ctx context.Context, c feed.Candidate) (Relevance, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research focus: %s\n\n", s.focus)
	sb.WriteString("Paper:\n")
	fmt.Fprintf(&sb, "Title: %s\n", c.Title)
	fmt.Fprintf(&sb, "Venue: %s\n", c.Venue)
	fmt.Fprintf(&sb, "Authors: %s\n", authorsOrUnknown(c.Authors))
	fmt.Fprintf(&sb, "Abstract: %s\n\n", abstractOrNone(c.Abstract))
	sb.WriteString("Rate the paper's relevance to the research focus from 0 to 100 ")
	sb.WriteString("and give a reason of at most 40 words. ")
	sb.WriteString(`Return JSON: {"score": <0-100>, "reason": "..."}`)

	resp, err := s.client.ChatJSON(ctx, []llm.Message{
		{Role: "system", Content: scoreSystemPrompt},
		{Role: "user", Content: sb.String()},
	}, 0.1)
	if err != nil {
		return Relevance{}, err
	}

	raw, err := llm.ExtractJSON(resp)
	if err != nil {
		return Relevance{}, fmt.Errorf("parsing relevance response: %w", err)
	}
	var obj struct {
		Score  int    `json:"score"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Relevance{}, fmt.Errorf("parsing relevance response: %w", err)
	}

	return Relevance{Score: clamp(obj.Score, 0, 100), Reason: obj.Reason}, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func authorsOrUnknown(authors []string) string {
	if len(authors) == 0 {
		return "unknown"
	}
	return strings.Join(authors, ", ")
}

func abstractOrNone(abstract string) string {
	if abstract == "" {
		return "none"
	}
	return abstract
}
