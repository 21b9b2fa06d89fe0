// Command seed loads the citizen charter into the vector index and checks
// retrieval against it.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/civicfix/backend/internal/app"
	"github.com/civicfix/backend/internal/config"
	"github.com/civicfix/backend/internal/dedup"
	"github.com/civicfix/backend/internal/seed"
	"github.com/civicfix/backend/internal/service"
	"github.com/civicfix/backend/internal/vectorindex"
)

const defaultVerifyQuery = "Who handles garbage collection and waste management?"

type env struct {
	logger  zerolog.Logger
	backend app.Backend
	seeder  *seed.Seeder
}

func main() {
	var (
		e           env
		concurrency int
		stableIDs   bool
		only        string
	)

	rootCmd := &cobra.Command{
		Use:   "seed",
		Short: "Charter seeding tool",
		Long: `Charter seeding tool

Extracts resolution-time clauses and department responsibilities from a
citizen charter and stores them in the vector index used for SLA and
routing lookups.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			switch only {
			case seed.OnlyAll, seed.OnlySLA, seed.OnlyDepartment:
			default:
				return fmt.Errorf("--only must be %q or %q", seed.OnlySLA, seed.OnlyDepartment)
			}
			e.logger = app.NewLogger(cfg, "civicfix-seed")
			e.backend, err = app.OpenBackend(cmd.Context(), cfg, e.logger)
			if err != nil {
				return err
			}
			provider, err := app.NewProvider(cfg, e.logger)
			if err != nil {
				return err
			}
			e.seeder = &seed.Seeder{
				Extractor:   provider,
				Embedder:    app.NewEmbedder(cfg, e.logger),
				Index:       e.backend.Index,
				Logger:      e.logger,
				Concurrency: concurrency,
				StableIDs:   stableIDs,
				Only:        only,
			}
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if e.backend.Close != nil {
				e.backend.Close()
			}
		},
	}
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 4, "Parallel embedding requests")
	rootCmd.PersistentFlags().BoolVar(&stableIDs, "stable-ids", false, "Derive record ids from content so re-seeding overwrites")
	rootCmd.PersistentFlags().StringVar(&only, "only", "", "Seed only one namespace: sla or department")

	rootCmd.AddCommand(pdfCmd(&e), yamlCmd(&e), verifyCmd(&e), reindexCmd(&e))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func pdfCmd(e *env) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "pdf",
		Short: "Extract and seed policy items from a charter PDF",
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := seed.ExtractPDFText(file)
			if err != nil {
				return err
			}
			e.logger.Info().Str("file", file).Int("chars", len(text)).Msg("pdf text extracted")
			e.seeder.Source = filepath.Base(file)
			res, err := e.seeder.SeedFromText(cmd.Context(), text)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to the charter PDF")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func yamlCmd(e *env) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "yaml",
		Short: "Seed pre-extracted policy items from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := seed.LoadItemsYAML(file)
			if err != nil {
				return err
			}
			e.seeder.Source = filepath.Base(file)
			res, err := e.seeder.SeedItems(cmd.Context(), items)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to the YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func verifyCmd(e *env) *cobra.Command {
	var (
		query     string
		namespace string
		topK      int
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run a retrieval query against a seeded namespace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ns := vectorindex.Namespace(namespace)
			if err := ns.Validate(); err != nil {
				return err
			}
			matches, err := e.seeder.Verify(cmd.Context(), ns, query, topK)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Query: %q\n", query)
			if len(matches) == 0 {
				fmt.Fprintln(out, "No matches found.")
				return nil
			}
			for i, m := range matches {
				fmt.Fprintf(out, "%d. score=%.4f id=%s\n", i+1, m.Score, m.ID)
				switch ns {
				case vectorindex.NamespaceDepartment:
					var d vectorindex.DepartmentCharter
					if err := vectorindex.DecodeMetadata(m.Metadata, &d); err == nil {
						fmt.Fprintf(out, "   department: %s\n   summary: %s\n", d.DepartmentName, d.Summary)
					}
				case vectorindex.NamespaceSLA:
					var p vectorindex.SLAPolicy
					if err := vectorindex.DecodeMetadata(m.Metadata, &p); err == nil {
						fmt.Fprintf(out, "   %s / %s: %g %s (%s)\n", p.Category, p.IssueType, p.SLADuration, p.SLAUnit, p.SectionReference)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&query, "query", defaultVerifyQuery, "Query text")
	cmd.Flags().StringVar(&namespace, "namespace", string(vectorindex.NamespaceDepartment), "Namespace to query")
	cmd.Flags().IntVar(&topK, "top", 3, "Number of matches")
	return cmd
}

func reindexCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex-tickets",
		Short: "Re-embed open tickets for duplicate detection",
		Long: `Re-embed open tickets for duplicate detection.

Run after changing EMBEDDING_MODEL or EMBEDDING_DIMENSIONS so new reports
are compared against vectors from the same model.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := &service.ReindexService{
				Store: e.backend.Tickets,
				Dedup: &dedup.Coordinator{
					Store:    e.backend.Tickets,
					Index:    e.backend.Index,
					Embedder: e.seeder.Embedder,
					Logger:   e.logger,
				},
				Logger: e.logger,
			}
			summary, err := svc.ReindexOpenTickets(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Open tickets: %v, indexed: %v, failed: %v\n",
				summary.Counts["tickets_open"], summary.Counts["indexed"], summary.Counts["failed"])
			return nil
		},
	}
}

func printResult(cmd *cobra.Command, res seed.Result) {
	fmt.Fprintf(cmd.OutOrStdout(), "SLA items: %d extracted, %d stored\nDepartments: %d extracted, %d stored\nSkipped: %d\n",
		res.SLAItems, res.SLARecords, res.DepartmentItems, res.DepartmentRecords, res.Skipped)
}
