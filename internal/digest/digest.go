// Package digest assembles the ranked, summarized candidates into one
// formatted report. Compose is a pure function over its inputs, which keeps
// the formatting directly unit-testable.
package digest

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/kalambet/paperfeed/internal/rank"
	"github.com/kalambet/paperfeed/internal/summarize"
)

// Entry is one selected candidate with its structured summary.
type Entry struct {
	rank.Ranked
	Summary summarize.Summary
}

// Counts carries the per-stage totals reported in the digest footer.
type Counts struct {
	Fetched  int
	Unseen   int
	Ranked   int
	Selected int
	Degraded int
}

// Report is the deliverable unit: subject plus text and HTML alternatives.
type Report struct {
	Subject     string
	Text        string
	HTML        string
	GeneratedAt time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Entries     int
}

// Options configures report formatting.
type Options struct {
	SubjectPrefix string
	Questions     []summarize.Question
}

// Compose builds the report for one run window. An empty entry list yields
// a valid "nothing new today" report.
func Compose(entries []Entry, windowStart, windowEnd time.Time, counts Counts, opts Options) Report {
	prefix := opts.SubjectPrefix
	if prefix == "" {
		prefix = "[paperfeed]"
	}
	dateStr := windowEnd.Format("2006-01-02")

	rep := Report{
		Subject:     prefix + " " + dateStr,
		GeneratedAt: windowEnd,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Entries:     len(entries),
	}
	rep.Text = composeText(entries, windowStart, windowEnd, counts, opts, dateStr)
	rep.HTML = composeHTML(entries, windowStart, windowEnd, counts, opts, dateStr)
	return rep
}

func composeText(entries []Entry, windowStart, windowEnd time.Time, counts Counts, opts Options, dateStr string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s literature digest\n", dateStr)
	fmt.Fprintf(&sb, "Window: %s .. %s\n\n", windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))

	if len(entries) == 0 {
		sb.WriteString("No new relevant papers in this window.\n")
		writeTextFooter(&sb, counts)
		return sb.String()
	}

	sb.WriteString("Contents:\n")
	for i, e := range entries {
		fmt.Fprintf(&sb, "%d. %s (%s) [score=%d]\n", i+1, e.Title, e.Venue, e.Score)
	}

	for i, e := range entries {
		fmt.Fprintf(&sb, "\n==== %d. %s ====\n", i+1, e.Title)
		fmt.Fprintf(&sb, "Venue: %s\n", e.Venue)
		fmt.Fprintf(&sb, "Authors: %s\n", authorsLine(e.Authors))
		fmt.Fprintf(&sb, "Published: %s\n", e.Published.Format("2006-01-02"))
		fmt.Fprintf(&sb, "Link: %s\n", e.Link)
		fmt.Fprintf(&sb, "Score: %d", e.Score)
		if e.Reason != "" {
			fmt.Fprintf(&sb, " (%s)", e.Reason)
		}
		sb.WriteByte('\n')
		if e.Summary.Unavailable {
			fmt.Fprintf(&sb, "[%s]\n", summarize.Unavailable)
		}
		for _, q := range opts.Questions {
			fmt.Fprintf(&sb, "%s: %s\n", q.Prompt, e.Summary.Answers[q.Key])
		}
	}

	writeTextFooter(&sb, counts)
	return sb.String()
}

func writeTextFooter(sb *strings.Builder, counts Counts) {
	fmt.Fprintf(sb, "\n--\nfetched %d / unseen %d / ranked %d / selected %d",
		counts.Fetched, counts.Unseen, counts.Ranked, counts.Selected)
	if counts.Degraded > 0 {
		fmt.Fprintf(sb, " / degraded %d", counts.Degraded)
	}
	sb.WriteByte('\n')
}

func composeHTML(entries []Entry, windowStart, windowEnd time.Time, counts Counts, opts Options, dateStr string) string {
	esc := html.EscapeString
	var sb strings.Builder
	fmt.Fprintf(&sb, "<h2>%s literature digest</h2>", esc(dateStr))
	fmt.Fprintf(&sb, "<p>Window: %s .. %s</p>",
		esc(windowStart.Format(time.RFC3339)), esc(windowEnd.Format(time.RFC3339)))

	if len(entries) == 0 {
		sb.WriteString("<p>No new relevant papers in this window.</p>")
		writeHTMLFooter(&sb, counts)
		return sb.String()
	}

	sb.WriteString("<ol>")
	for _, e := range entries {
		fmt.Fprintf(&sb, `<li><a href="%s">%s</a> (%s) [score=%d]</li>`,
			esc(e.Link), esc(e.Title), esc(e.Venue), e.Score)
	}
	sb.WriteString("</ol>")

	for i, e := range entries {
		fmt.Fprintf(&sb, "<hr><h3>%d. %s</h3>", i+1, esc(e.Title))
		fmt.Fprintf(&sb, "<p><b>Venue</b>: %s</p>", esc(e.Venue))
		fmt.Fprintf(&sb, "<p><b>Authors</b>: %s</p>", esc(authorsLine(e.Authors)))
		fmt.Fprintf(&sb, "<p><b>Published</b>: %s</p>", esc(e.Published.Format("2006-01-02")))
		fmt.Fprintf(&sb, `<p><b>Link</b>: <a href="%s">%s</a></p>`, esc(e.Link), esc(e.Link))
		if e.Reason != "" {
			fmt.Fprintf(&sb, "<p><b>Score</b>: %d (%s)</p>", e.Score, esc(e.Reason))
		} else {
			fmt.Fprintf(&sb, "<p><b>Score</b>: %d</p>", e.Score)
		}
		if e.Summary.Unavailable {
			fmt.Fprintf(&sb, "<p><i>%s</i></p>", esc(summarize.Unavailable))
		}
		for _, q := range opts.Questions {
			fmt.Fprintf(&sb, "<p><b>%s</b>: %s</p>", esc(q.Prompt), esc(e.Summary.Answers[q.Key]))
		}
	}

	writeHTMLFooter(&sb, counts)
	return sb.String()
}

func writeHTMLFooter(sb *strings.Builder, counts Counts) {
	fmt.Fprintf(sb, "<hr><p><small>fetched %d / unseen %d / ranked %d / selected %d",
		counts.Fetched, counts.Unseen, counts.Ranked, counts.Selected)
	if counts.Degraded > 0 {
		fmt.Fprintf(sb, " / degraded %d", counts.Degraded)
	}
	sb.WriteString("</small></p>")
}

func authorsLine(authors []string) string {
	if len(authors) == 0 {
		return "unknown"
	}
	return strings.Join(authors, ", ")
}
