package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Journal of Testing</title>
  <item>
    <title>Grid resilience under  extreme weather</title>
    <link>https://example.org/articles/1</link>
    <description>&lt;p&gt;We study &lt;b&gt;resilience&lt;/b&gt; of urban grids.&lt;/p&gt;</description>
    <pubDate>Mon, 02 Feb 2026 08:00:00 GMT</pubDate>
    <dc:creator>Alice Zhang</dc:creator>
    <dc:identifier>doi:10.1000/TEST.2026.001</dc:identifier>
  </item>
  <item>
    <title>Untitled entry should survive</title>
    <link>https://example.org/articles/2</link>
    <description>No DOI here.</description>
    <pubDate>Mon, 02 Feb 2026 09:00:00 GMT</pubDate>
  </item>
</channel>
</rss>`

const sampleAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>ArXiv Query: search_query=cat:eess.SY</title>
  <entry>
    <id>http://arxiv.org/abs/2602.01234v1</id>
    <title>Distribution network hardening
      via convex relaxation</title>
    <summary>A convex relaxation approach.</summary>
    <published>2026-02-02T05:00:00Z</published>
    <updated>2026-02-02T06:00:00Z</updated>
    <author><name>Bob Lee</name></author>
    <link href="http://arxiv.org/abs/2602.01234v1" rel="alternate"/>
  </entry>
</feed>`

func newTestFetcher(concurrency int) *Fetcher {
	f := NewFetcher(5*time.Second, concurrency)
	f.backoff = time.Millisecond
	return f
}

func feedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAll_NormalizesRSS(t *testing.T) {
	srv := feedServer(t, sampleRSS)
	f := newTestFetcher(2)

	cands, err := f.FetchAll(context.Background(), []Source{
		{Name: "Journal of Testing", Kind: KindRSS, URL: srv.URL, Group: "journals"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want 2", len(cands))
	}

	c := cands[0]
	if c.ID != "doi:10.1000/test.2026.001" {
		t.Errorf("ID = %q, want doi identifier", c.ID)
	}
	if c.Title != "Grid resilience under extreme weather" {
		t.Errorf("Title = %q, whitespace not collapsed", c.Title)
	}
	if strings.Contains(c.Abstract, "<") {
		t.Errorf("Abstract = %q, HTML not stripped", c.Abstract)
	}
	if c.Published.Location() != time.UTC {
		t.Errorf("Published not normalized to UTC: %v", c.Published)
	}
	if c.SourceGroup != "journals" {
		t.Errorf("SourceGroup = %q", c.SourceGroup)
	}

	// Second item has no DOI: identifier falls back to normalized title.
	if got := cands[1].ID; got != "title:untitledentryshouldsurvive" {
		t.Errorf("fallback ID = %q", got)
	}
}

func TestFetchAll_ArxivAtom(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(sampleAtom))
	}))
	defer srv.Close()

	f := newTestFetcher(1)
	cands, err := f.FetchAll(context.Background(), []Source{{
		Name:       "arXiv",
		Kind:       KindArxiv,
		URL:        srv.URL,
		Group:      "arxiv",
		Categories: []string{"eess.SY", "cs.SY"},
		MaxResults: 25,
		UseUpdated: true,
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1", len(cands))
	}

	if !strings.Contains(gotQuery, "max_results=25") {
		t.Errorf("query = %q, max_results not set", gotQuery)
	}
	if !strings.Contains(gotQuery, "cat%3Aeess.SY+OR+cat%3Acs.SY") {
		t.Errorf("query = %q, category terms not joined with OR", gotQuery)
	}

	c := cands[0]
	if c.Title != "Distribution network hardening via convex relaxation" {
		t.Errorf("Title = %q, newline not collapsed", c.Title)
	}
	// UseUpdated prefers the updated timestamp.
	want := time.Date(2026, 2, 2, 6, 0, 0, 0, time.UTC)
	if !c.Published.Equal(want) {
		t.Errorf("Published = %v, want %v", c.Published, want)
	}
}

func TestFetchAll_OneSourceFailing(t *testing.T) {
	good := feedServer(t, sampleRSS)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()

	f := newTestFetcher(2)
	cands, err := f.FetchAll(context.Background(), []Source{
		{Name: "good", Kind: KindRSS, URL: good.URL},
		{Name: "bad", Kind: KindRSS, URL: bad.URL},
	})
	if err != nil {
		t.Fatalf("one failing source must not abort the run: %v", err)
	}
	if len(cands) != 2 {
		t.Errorf("got %d candidates from surviving source, want 2", len(cands))
	}
}

func TestFetchAll_AllSourcesFailed(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer bad.Close()

	f := newTestFetcher(2)
	_, err := f.FetchAll(context.Background(), []Source{
		{Name: "a", Kind: KindRSS, URL: bad.URL},
		{Name: "b", Kind: KindRSS, URL: bad.URL},
	})
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("err = %v, want ErrAllSourcesFailed", err)
	}
}

func TestFetchAll_NoSources(t *testing.T) {
	f := newTestFetcher(1)
	_, err := f.FetchAll(context.Background(), nil)
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("err = %v, want ErrAllSourcesFailed", err)
	}
}
