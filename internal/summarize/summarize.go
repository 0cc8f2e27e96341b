// Package summarize answers the configured analytical questions for each
// selected candidate.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/paperfeed/internal/llm"
	"github.com/kalambet/paperfeed/internal/rank"
)

// Unavailable is the placeholder answer used when summarization failed or
// was skipped. Selected candidates are always reported, never dropped.
const Unavailable = "summary unavailable"

const summarySystemPrompt = "You are a research assistant. Answer only from the provided " +
	"paper information; never invent or extrapolate missing facts. If the abstract does not " +
	"contain an answer, say \"not stated in the abstract\". Respond with strict JSON."

// Question is one fixed analytical question, applied identically to every
// candidate. Key names the JSON answer field; Prompt is the question text.
type Question struct {
	Key    string `yaml:"key"`
	Prompt string `yaml:"prompt"`
}

// Summary is one candidate's structured answer set.
type Summary struct {
	// Answers maps question key to answer text; every configured key is
	// present.
	Answers map[string]string
	// Unavailable is set when the answers are placeholders.
	Unavailable bool
}

// Placeholder returns the "summary unavailable" answer set for the given
// questions.
func Placeholder(questions []Question) Summary {
	answers := make(map[string]string, len(questions))
	for _, q := range questions {
		answers[q.Key] = Unavailable
	}
	return Summary{Answers: answers, Unavailable: true}
}

// Summarizer produces structured summaries via the text-generation service.
// A nil client degrades every summary to the placeholder set.
type Summarizer struct {
	client    llm.Chatter
	questions []Question
	focus     string
	logger    *slog.Logger
}

// New creates a Summarizer. client may be nil (--no-llm mode).
func New(client llm.Chatter, questions []Question, focus string) *Summarizer {
	return &Summarizer{
		client:    client,
		questions: questions,
		focus:     focus,
		logger:    slog.Default().With("component", "summarizer"),
	}
}

// Questions returns the configured question list in order.
func (s *Summarizer) Questions() []Question { return s.questions }

// Summarize answers the question list for one selected candidate. It never
// fails: service errors, empty abstracts, and missing answers all degrade
// to placeholders with a logged warning, because a selected candidate must
// appear in the digest regardless.
func (s *Summarizer) Summarize(ctx context.Context, rc rank.Ranked) Summary {
	if s.client == nil {
		return Placeholder(s.questions)
	}

	resp, err := s.client.ChatJSON(ctx, []llm.Message{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: s.buildPrompt(rc)},
	}, 0.2)
	if err != nil {
		s.logger.Warn("summarization failed, using placeholder", "id", rc.ID, "title", rc.Title, "error", err)
		return Placeholder(s.questions)
	}

	raw, err := llm.ExtractJSON(resp)
	if err != nil {
		s.logger.Warn("summary response unparseable, using placeholder", "id", rc.ID, "error", err)
		return Placeholder(s.questions)
	}
	var answers map[string]string
	if err := json.Unmarshal(raw, &answers); err != nil {
		s.logger.Warn("summary response unparseable, using placeholder", "id", rc.ID, "error", err)
		return Placeholder(s.questions)
	}

	out := Summary{Answers: make(map[string]string, len(s.questions))}
	for _, q := range s.questions {
		if a := strings.TrimSpace(answers[q.Key]); a != "" {
			out.Answers[q.Key] = a
		} else {
			out.Answers[q.Key] = "not provided"
		}
	}
	return out
}

func (s *Summarizer) buildPrompt(rc rank.Ranked) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research focus: %s\n\n", s.focus)
	sb.WriteString("Paper:\n")
	fmt.Fprintf(&sb, "Title: %s\n", rc.Title)
	fmt.Fprintf(&sb, "Venue: %s\n", rc.Venue)
	if len(rc.Authors) > 0 {
		fmt.Fprintf(&sb, "Authors: %s\n", strings.Join(rc.Authors, ", "))
	}
	fmt.Fprintf(&sb, "Published: %s\n", rc.Published.Format("2006-01-02"))
	abstract := rc.Abstract
	if abstract == "" {
		abstract = "none"
	}
	fmt.Fprintf(&sb, "Abstract: %s\n\n", abstract)

	sb.WriteString("Answer the following questions. Return a JSON object with exactly these fields:\n")
	for _, q := range s.questions {
		fmt.Fprintf(&sb, "%s: %s\n", q.Key, q.Prompt)
	}
	return sb.String()
}
