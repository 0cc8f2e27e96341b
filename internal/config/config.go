// Package config loads the pipeline configuration: source registry,
// interest profile, question list, and service settings.
//
// Configuration lives in a YAML file; secrets (SMTP credentials, LLM API
// key) come from environment variables, which also override file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/paperfeed/internal/feed"
	"github.com/kalambet/paperfeed/internal/rank"
	"github.com/kalambet/paperfeed/internal/summarize"
)

// Config is the full pipeline configuration.
type Config struct {
	LookbackHours       int    `yaml:"lookback_hours"`
	OverlapHours        int    `yaml:"overlap_hours"`
	MaxPapers           int    `yaml:"max_papers"`
	StatePath           string `yaml:"state_path"`
	ArchivePath         string `yaml:"archive_path"`
	FetchTimeoutSeconds int    `yaml:"fetch_timeout_seconds"`
	FetchConcurrency    int    `yaml:"fetch_concurrency"`

	Sources   []Source             `yaml:"sources"`
	Filter    Filter               `yaml:"filter"`
	Ranking   Ranking              `yaml:"ranking"`
	Dedup     Dedup                `yaml:"dedup"`
	LLM       LLM                  `yaml:"llm"`
	Email     Email                `yaml:"email"`
	Questions []summarize.Question `yaml:"questions"`
}

// Source is one configured feed.
type Source struct {
	Name       string   `yaml:"name"`
	Kind       string   `yaml:"kind"`
	URL        string   `yaml:"url"`
	Group      string   `yaml:"group"`
	Categories []string `yaml:"categories"`
	MaxResults int      `yaml:"max_results"`
	UseUpdated bool     `yaml:"use_updated"`
}

// Filter is the interest profile and pre-ranking filters.
type Filter struct {
	Focus                string       `yaml:"focus"`
	Keywords             []string     `yaml:"keywords"`
	ExcludeKeywords      []string     `yaml:"exclude_keywords"`
	ExcludeTitlePrefixes []string     `yaml:"exclude_title_prefixes"`
	MinKeywordHits       int          `yaml:"min_keyword_hits"`
	TopicGroups          []TopicGroup `yaml:"topic_groups"`
	MinGroupsMatched     int          `yaml:"min_groups_matched"`
}

// TopicGroup matches when any of its keywords appears.
type TopicGroup struct {
	Name string   `yaml:"name"`
	Any  []string `yaml:"any"`
}

// Ranking tunes relevance scoring and selection.
type Ranking struct {
	SourceWeights     map[string]int `yaml:"source_weights"`
	MaxLLMEval        int            `yaml:"max_llm_eval"`
	MinRelevanceScore int            `yaml:"min_relevance_score"`
	Concurrency       int            `yaml:"concurrency"`
}

// Dedup tunes the seen-set policy.
type Dedup struct {
	// MarkUnselectedSeen also marks unseen-but-not-selected candidates as
	// seen. Default false: only delivered items are marked, so items ranked
	// below top-K stay eligible for a future run.
	MarkUnselectedSeen bool `yaml:"mark_unselected_seen"`
	RetentionDays      int  `yaml:"retention_days"`
}

// LLM configures the relevance/summarization service.
type LLM struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"-"`
	// Require aborts the run when no API key is configured instead of
	// degrading to keyword scoring.
	Require bool `yaml:"require"`
}

// Email configures digest delivery.
type Email struct {
	SubjectPrefix string   `yaml:"subject_prefix"`
	FromName      string   `yaml:"from_name"`
	Host          string   `yaml:"-"`
	Port          int      `yaml:"-"`
	Username      string   `yaml:"-"`
	Password      string   `yaml:"-"`
	To            []string `yaml:"to"`
}

func defaults() Config {
	return Config{
		LookbackHours:       36,
		OverlapHours:        6,
		MaxPapers:           10,
		StatePath:           "state/state.json",
		ArchivePath:         "state/archive.db",
		FetchTimeoutSeconds: 20,
		FetchConcurrency:    4,
		Ranking: Ranking{
			MaxLLMEval:  30,
			Concurrency: 3,
		},
		Dedup: Dedup{RetentionDays: 365},
		LLM: LLM{
			BaseURL: "https://api.deepseek.com/v1",
			Model:   "deepseek-chat",
		},
		Email: Email{
			SubjectPrefix: "[paperfeed]",
			FromName:      "paperfeed",
		},
		Questions: DefaultQuestions(),
	}
}

// DefaultQuestions is the analytical question set applied to every selected
// paper when the config does not override it.
func DefaultQuestions() []summarize.Question {
	return []summarize.Question{
		{Key: "brief", Prompt: "One-line introduction (title, venue, authors)"},
		{Key: "problem", Prompt: "What concrete problem does the paper solve"},
		{Key: "significance", Prompt: "Why the problem matters for the research focus"},
		{Key: "data_methods", Prompt: "What data and methods are used, and where the data comes from"},
		{Key: "novelty", Prompt: "Where the novelty lies (modeling, mathematics, or other)"},
		{Key: "critique", Prompt: "A reviewer's critique: strengths, weaknesses, and directions for follow-up work"},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. Secrets are environment-only:
// SMTP_HOST/SMTP_PORT/SMTP_USER/SMTP_PASS/MAIL_TO and
// PAPERFEED_LLM_API_KEY.
func Load(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config file %s not found (run `paperfeed init` to create one)", path)
		}
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Email.Port = port
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.Username = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		cfg.Email.Password = v
	}
	if v := os.Getenv("MAIL_TO"); v != "" {
		cfg.Email.To = splitAddresses(v)
	}
	if v := os.Getenv("PAPERFEED_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("PAPERFEED_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("PAPERFEED_STATE_PATH"); v != "" {
		cfg.StatePath = v
	}
}

func splitAddresses(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if addr := strings.TrimSpace(p); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// Validate checks the configuration for a run. Email settings are only
// required when delivery will actually happen.
func (c Config) Validate(needEmail bool) error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("missing required config: no sources configured")
	}
	for _, s := range c.Sources {
		if s.Kind != string(feed.KindRSS) && s.Kind != string(feed.KindArxiv) {
			return fmt.Errorf("source %q: unknown kind %q", s.Name, s.Kind)
		}
	}

	if needEmail {
		var missing []string
		if c.Email.Host == "" {
			missing = append(missing, "SMTP_HOST")
		}
		if c.Email.Port == 0 {
			missing = append(missing, "SMTP_PORT")
		}
		if c.Email.Username == "" {
			missing = append(missing, "SMTP_USER")
		}
		if c.Email.Password == "" {
			missing = append(missing, "SMTP_PASS")
		}
		if len(c.Email.To) == 0 {
			missing = append(missing, "MAIL_TO")
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
		}
	}

	if c.LLM.Require && c.LLM.APIKey == "" {
		return fmt.Errorf("missing required config: llm.require is set but PAPERFEED_LLM_API_KEY is empty")
	}
	return nil
}

// FeedSources converts the configured sources to fetcher descriptors.
func (c Config) FeedSources() []feed.Source {
	out := make([]feed.Source, len(c.Sources))
	for i, s := range c.Sources {
		out[i] = feed.Source{
			Name:       s.Name,
			Kind:       feed.Kind(s.Kind),
			URL:        s.URL,
			Group:      s.Group,
			Categories: s.Categories,
			MaxResults: s.MaxResults,
			UseUpdated: s.UseUpdated,
		}
	}
	return out
}

// RankRules converts the filter section to pre-ranking rules.
func (c Config) RankRules() rank.Rules {
	return rank.Rules{
		Keywords:             c.Filter.Keywords,
		ExcludeKeywords:      c.Filter.ExcludeKeywords,
		ExcludeTitlePrefixes: c.Filter.ExcludeTitlePrefixes,
		MinKeywordHits:       c.Filter.MinKeywordHits,
		Groups:               c.TopicGroups(),
		MinGroupsMatched:     c.Filter.MinGroupsMatched,
	}
}

// TopicGroups converts the configured topic groups to ranker form.
func (c Config) TopicGroups() []rank.TopicGroup {
	out := make([]rank.TopicGroup, len(c.Filter.TopicGroups))
	for i, g := range c.Filter.TopicGroups {
		out[i] = rank.TopicGroup{Name: g.Name, Any: g.Any}
	}
	return out
}

// Lookback is the window size used when no prior run exists.
func (c Config) Lookback() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

// Overlap is the watermark margin tolerating feed publication-time jitter.
func (c Config) Overlap() time.Duration {
	return time.Duration(c.OverlapHours) * time.Hour
}

// FetchTimeout is the per-request feed fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}
