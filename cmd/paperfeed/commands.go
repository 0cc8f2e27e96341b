package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/paperfeed/internal/config"
	"github.com/kalambet/paperfeed/internal/feed"
	"github.com/kalambet/paperfeed/internal/llm"
	"github.com/kalambet/paperfeed/internal/mail"
	"github.com/kalambet/paperfeed/internal/pipeline"
	"github.com/kalambet/paperfeed/internal/rank"
	"github.com/kalambet/paperfeed/internal/state"
	"github.com/kalambet/paperfeed/internal/storage"
	"github.com/kalambet/paperfeed/internal/summarize"
)

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one digest run",
	Long: `Execute one fetch -> dedup -> rank -> summarize -> deliver pass.

The run is idempotent across repeated triggers: state only advances after
confirmed delivery, so a failed or dry run recomputes the same window.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		noEmail, _ := cmd.Flags().GetBool("no-email")
		noLLM, _ := cmd.Flags().GetBool("no-llm")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if statePath != "" {
			cfg.StatePath = statePath
		}
		needEmail := !dryRun && !noEmail
		if err := cfg.Validate(needEmail); err != nil {
			return err
		}

		runner, archive, err := buildRunner(cfg, noLLM, needEmail)
		if err != nil {
			return err
		}
		if archive != nil {
			defer archive.Close()
		}

		rep, err := runner.Run(cmd.Context(), pipeline.Options{DryRun: dryRun, NoEmail: noEmail})
		if err != nil {
			return err
		}

		if dryRun {
			fmt.Fprintln(os.Stdout, rep.Report.Text)
		}
		fmt.Fprintf(os.Stdout, "run %s: fetched %d, unseen %d, ranked %d, selected %d, delivered=%v\n",
			rep.RunID, rep.Fetched, rep.Unseen, rep.Ranked, rep.Selected, rep.Delivered)
		return nil
	},
}

func buildRunner(cfg config.Config, noLLM, needEmail bool) (*pipeline.Runner, *storage.Archive, error) {
	fetcher := feed.NewFetcher(cfg.FetchTimeout(), cfg.FetchConcurrency)
	store := state.NewStore(cfg.StatePath)

	var chatter llm.Chatter
	if !noLLM && cfg.LLM.APIKey != "" {
		chatter = llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	} else {
		slog.Warn("relevance service disabled, falling back to keyword scoring")
	}

	keyword := &rank.KeywordScorer{
		Keywords: cfg.Filter.Keywords,
		Groups:   cfg.TopicGroups(),
	}
	var scorer rank.Scorer
	if chatter != nil {
		scorer = rank.NewLLMScorer(chatter, cfg.Filter.Focus)
	}
	ranker := rank.New(rank.Config{
		Scorer:        scorer,
		Keyword:       keyword,
		SourceWeights: cfg.Ranking.SourceWeights,
		TopK:          cfg.MaxPapers,
		MaxEval:       cfg.Ranking.MaxLLMEval,
		MinScore:      cfg.Ranking.MinRelevanceScore,
		Concurrency:   cfg.Ranking.Concurrency,
	})

	summarizer := summarize.New(chatter, cfg.Questions, cfg.Filter.Focus)

	var sender mail.Sender
	if needEmail {
		sender = mail.NewSMTPSender(mail.Config{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			FromName: cfg.Email.FromName,
			To:       cfg.Email.To,
		})
	}

	archive, err := storage.Open(cfg.ArchivePath)
	if err != nil {
		// History and retention pruning degrade; the run itself can proceed.
		slog.Warn("opening run archive failed, continuing without it", "error", err)
		archive = nil
	}

	runner := pipeline.NewRunner(pipeline.Config{
		Sources:            cfg.FeedSources(),
		Rules:              cfg.RankRules(),
		Lookback:           cfg.Lookback(),
		Overlap:            cfg.Overlap(),
		MarkUnselectedSeen: cfg.Dedup.MarkUnselectedSeen,
		RetentionDays:      cfg.Dedup.RetentionDays,
		SubjectPrefix:      cfg.Email.SubjectPrefix,
	}, fetcher, store, ranker, summarizer, sender, archive)
	return runner, archive, nil
}

// --- init ---

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(configPath); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "wrote %s\n", configPath)
		return nil
	},
}

// --- state ---

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and maintain the persisted run state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current state record as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStateStore()
		if err != nil {
			return err
		}
		rec, err := store.Load()
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	},
}

var statePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Cap the seen-identifier list to its most recent entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")
		store, err := openStateStore()
		if err != nil {
			return err
		}
		rec, err := store.Load()
		if err != nil {
			return err
		}
		if len(rec.SeenIdentifiers) <= keep {
			fmt.Fprintf(os.Stdout, "nothing to prune (%d identifiers)\n", len(rec.SeenIdentifiers))
			return nil
		}
		pruned := len(rec.SeenIdentifiers) - keep
		rec.SeenIdentifiers = rec.SeenIdentifiers[pruned:]
		if err := store.Save(rec); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "pruned %d identifiers, kept %d\n", pruned, keep)
		return nil
	},
}

func openStateStore() (*state.Store, error) {
	path := statePath
	if path == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		path = cfg.StatePath
	}
	return state.NewStore(path), nil
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs from the archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		archive, err := storage.Open(cfg.ArchivePath)
		if err != nil {
			return err
		}
		defer archive.Close()

		runs, err := archive.RecentRuns(limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stdout, "no recorded runs")
			return nil
		}
		for _, r := range runs {
			fmt.Fprintf(os.Stdout, "%s  %s  fetched=%d unseen=%d selected=%d delivered=%d  %s\n",
				r.FinishedAt.Format("2006-01-02 15:04"), r.Status,
				r.Fetched, r.Unseen, r.Selected, r.Delivered, r.ID)
		}
		return nil
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the paperfeed version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "paperfeed %s\n", version)
	},
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "compose and print the digest without delivering or mutating state")
	runCmd.Flags().Bool("no-email", false, "skip delivery but still advance state")
	runCmd.Flags().Bool("no-llm", false, "skip the relevance/summarization service, keyword scoring only")
	statePruneCmd.Flags().Int("keep", 5000, "number of most recent identifiers to keep")
	runsCmd.Flags().Int("limit", 20, "maximum number of runs to list")
}
