package feed

import "time"

// Kind selects how a source's payload is retrieved and parsed.
type Kind string

const (
	// KindRSS is a journal RSS/Atom feed fetched directly from its URL.
	KindRSS Kind = "rss"
	// KindArxiv is an arXiv category query against the export API.
	KindArxiv Kind = "arxiv"
)

// Source describes one configured publication feed.
type Source struct {
	Name  string
	Kind  Kind
	URL   string
	Group string

	// arXiv-only parameters.
	Categories []string
	MaxResults int
	UseUpdated bool
}

// Candidate is a normalized, not-yet-ranked publication record.
// ID is stable across runs for the same item: "doi:<doi>" when the feed
// entry carries a DOI, "title:<normalized title>" otherwise.
type Candidate struct {
	ID          string
	Title       string
	Authors     []string
	Venue       string
	Link        string
	Abstract    string
	Published   time.Time
	Source      string
	SourceGroup string
}
