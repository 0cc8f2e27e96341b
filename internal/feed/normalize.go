package feed

import (
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

// StripHTML removes markup from feed-provided abstract text and collapses
// whitespace. Journal feeds routinely wrap abstracts in <p>/<jats:p> tags.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	var sb strings.Builder
	tok := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := tok.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			sb.Write(tok.Text())
			sb.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// NormalizeTitle lowercases a title and drops everything but letters and
// digits, yielding a fingerprint stable against punctuation and case drift.
func NormalizeTitle(title string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Identifier derives the stable dedup key for an item: the DOI when one is
// present, the normalized title otherwise.
func Identifier(doi, title string) string {
	if doi != "" {
		return "doi:" + strings.ToLower(strings.TrimSpace(doi))
	}
	return "title:" + NormalizeTitle(title)
}

// doiFromItem digs a DOI out of the places feeds tend to hide them:
// Dublin Core identifiers, the GUID, and the link.
func doiFromItem(item *gofeed.Item) string {
	if item.DublinCoreExt != nil {
		for _, id := range item.DublinCoreExt.Identifier {
			if doi := extractDOI(id); doi != "" {
				return doi
			}
		}
	}
	if doi := extractDOI(item.GUID); doi != "" {
		return doi
	}
	return extractDOI(item.Link)
}

func extractDOI(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "doi:"):
		return strings.TrimSpace(s[4:])
	case strings.HasPrefix(lower, "10."):
		return s
	}
	if idx := strings.Index(lower, "doi.org/"); idx != -1 {
		return s[idx+len("doi.org/"):]
	}
	return ""
}

// itemPublished returns the item's publication time in UTC, preferring the
// published date over the updated date unless useUpdated is set.
// Returns the zero time when the feed provides neither.
func itemPublished(item *gofeed.Item, useUpdated bool) time.Time {
	first, second := item.PublishedParsed, item.UpdatedParsed
	if useUpdated {
		first, second = second, first
	}
	if first != nil {
		return first.UTC()
	}
	if second != nil {
		return second.UTC()
	}
	return time.Time{}
}

// normalizeItem maps one feed entry into the canonical Candidate shape.
// Returns false for entries with no usable title.
func normalizeItem(item *gofeed.Item, src Source, feedTitle string, now time.Time) (Candidate, bool) {
	title := strings.Join(strings.Fields(item.Title), " ")
	if title == "" {
		return Candidate{}, false
	}

	var authors []string
	for _, a := range item.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	abstract := item.Description
	if abstract == "" {
		abstract = item.Content
	}

	venue := src.Name
	if venue == "" {
		venue = feedTitle
	}

	published := itemPublished(item, src.UseUpdated)
	if published.IsZero() {
		published = now
	}

	doi := doiFromItem(item)
	return Candidate{
		ID:          Identifier(doi, title),
		Title:       title,
		Authors:     authors,
		Venue:       venue,
		Link:        strings.TrimSpace(item.Link),
		Abstract:    StripHTML(abstract),
		Published:   published,
		Source:      src.Name,
		SourceGroup: src.Group,
	}, true
}
