package rank

import (
	"context"
	"strings"

	"github.com/kalambet/paperfeed/internal/feed"
)

// TopicGroup matches when any of its keywords appears in the candidate text.
type TopicGroup struct {
	Name string
	Any  []string
}

// KeywordScorer scores candidates by keyword and topic-group hits. It is
// deterministic and needs no network, which makes it both the --no-llm
// scorer and the fallback when the relevance service is unavailable.
type KeywordScorer struct {
	Keywords []string
	Groups   []TopicGroup
}

// Score counts keyword hits plus matched topic groups over title+abstract.
func (s *KeywordScorer) Score(_ context.Context, c feed.Candidate) (Relevance, error) {
	text := candidateText(c)
	hits := keywordHits(text, s.Keywords)
	groups := groupHits(text, s.Groups)
	return Relevance{Score: hits + groups, Reason: "keyword match"}, nil
}

func candidateText(c feed.Candidate) string {
	return strings.ToLower(c.Title + " " + c.Abstract)
}

func keywordHits(textLow string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(textLow, strings.ToLower(kw)) {
			hits++
		}
	}
	return hits
}

func groupHits(textLow string, groups []TopicGroup) int {
	matched := 0
	for _, g := range groups {
		for _, kw := range g.Any {
			if kw != "" && strings.Contains(textLow, strings.ToLower(kw)) {
				matched++
				break
			}
		}
	}
	return matched
}

// Rules are the pre-ranking filters applied to unseen candidates.
type Rules struct {
	Keywords             []string
	ExcludeKeywords      []string
	ExcludeTitlePrefixes []string
	MinKeywordHits       int
	Groups               []TopicGroup
	MinGroupsMatched     int
}

// Prefilter drops candidates excluded by title prefix or keyword, and those
// below the keyword-hit and group-match floors. With no keywords configured
// the hit floor does not apply.
func Prefilter(cands []feed.Candidate, rules Rules) []feed.Candidate {
	out := make([]feed.Candidate, 0, len(cands))
	for _, c := range cands {
		if excludedByPrefix(c.Title, rules.ExcludeTitlePrefixes) {
			continue
		}
		text := candidateText(c)
		if keywordHits(text, rules.ExcludeKeywords) > 0 {
			continue
		}
		if len(rules.Keywords) > 0 && keywordHits(text, rules.Keywords) < rules.MinKeywordHits {
			continue
		}
		if rules.MinGroupsMatched > 0 && groupHits(text, rules.Groups) < rules.MinGroupsMatched {
			continue
		}
		out = append(out, c)
	}
	return out
}

func excludedByPrefix(title string, prefixes []string) bool {
	titleLow := strings.ToLower(strings.TrimSpace(title))
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(titleLow, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
