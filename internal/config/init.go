package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigYAML is the commented starter configuration written by
// `paperfeed init`.
const DefaultConfigYAML = `# paperfeed configuration
#
# Secrets are read from the environment (or a .env file):
#   SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASS, MAIL_TO
#   PAPERFEED_LLM_API_KEY, PAPERFEED_LLM_BASE_URL

lookback_hours: 36   # window when no prior run exists
overlap_hours: 6     # watermark margin for feeds that backdate entries
max_papers: 10       # top-K delivered per digest

state_path: state/state.json
archive_path: state/archive.db

sources:
  - name: Nature Energy
    kind: rss
    url: https://www.nature.com/nenergy.rss
    group: nature
  - name: arXiv
    kind: arxiv
    group: arxiv
    categories: [eess.SY, cs.SY]
    max_results: 50
    use_updated: true

filter:
  focus: >
    Resilience assessment of urban buildings and power distribution grids
    under extreme events.
  keywords: [resilience, "distribution network", "power grid", microgrid]
  exclude_keywords: []
  exclude_title_prefixes: ["editorial:", "correction:"]
  min_keyword_hits: 1
  topic_groups: []
  min_groups_matched: 0

ranking:
  source_weights:
    nature: 5
    arxiv: 0
  max_llm_eval: 30
  min_relevance_score: 0
  concurrency: 3

dedup:
  mark_unselected_seen: false
  retention_days: 365

llm:
  base_url: https://api.deepseek.com/v1
  model: deepseek-chat
  require: false

email:
  subject_prefix: "[paperfeed]"
  from_name: paperfeed bot
`

// WriteDefault creates the starter config file. An existing file is left
// untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(DefaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
