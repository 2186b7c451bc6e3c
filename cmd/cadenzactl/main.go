// Package main provides cadenzactl, the operator CLI for the feedback engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/cadenza/internal/adapters/repository"
	app "github.com/okian/cadenza/internal/app"
	"github.com/okian/cadenza/internal/bootstrap"
	"github.com/okian/cadenza/internal/config"
	"github.com/okian/cadenza/internal/domain/category"
	"github.com/okian/cadenza/internal/loadgen"
	"github.com/okian/cadenza/pkg/logger"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "cadenzactl"

	defaultLoadDeadline = 10 * time.Minute
)

func main() {
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Operate the Cadenza feedback engine",
		Long: `cadenzactl inspects categories, seeds and rescores courses directly
against the configured store, and drives load against a running server.

Store settings come from the same CADENZA_* environment and CADENZA_CONFIG
file the server reads.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return logger.SetLevelString(logLevel)
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		versionCmd(),
		categoriesCmd(),
		seedCmd(),
		rescoreCmd(),
		loadCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}

func categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List feedback categories and their metric keys",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printCategories(cmd.OutOrStdout(), category.All())
		},
	}
}

func printCategories(out io.Writer, schemas []category.Schema) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tLABEL\tMETRICS")
	for _, s := range schemas {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Category, s.Label, strings.Join(s.MetricKeys, ","))
	}
	_ = w.Flush()
}

func seedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a YAML fixture of students, courses and classes into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			if file != "" {
				cfg.SeedFile = file
			}
			if cfg.SeedFile == "" {
				return errors.New("no seed file: pass --file or set CADENZA_SEED_FILE")
			}
			store, created, err := openSeeded(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return fmt.Errorf("close store: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %s: %d documents created\n", cfg.SeedFile, created)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Seed fixture path (YAML)")
	return cmd
}

func rescoreCmd() *cobra.Command {
	var courseID string

	cmd := &cobra.Command{
		Use:   "rescore",
		Short: "Recompute every stored score of a course from its feedback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(ctx context.Context, svc *app.Service) error {
				scores, err := svc.Rescore(ctx, courseID)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "STUDENT\tCATEGORY\tSCORE")
				for _, e := range scores {
					fmt.Fprintf(w, "%s\t%s\t%.4f\n", e.StudentID, e.Category, e.Score)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&courseID, "course", "", "Course id to rescore")
	_ = cmd.MarkFlagRequired("course")
	return cmd
}

// openSeeded opens the configured store and applies the configured seed.
func openSeeded(ctx context.Context, cfg *config.Config) (repository.Store, int, error) {
	store, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		return nil, 0, err
	}
	created, err := bootstrap.ApplySeed(ctx, cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, created, err
	}
	return store, created, nil
}

// withService runs fn against a started service over the configured store.
func withService(ctx context.Context, cfg *config.Config, fn func(context.Context, *app.Service) error) error {
	log := logger.Get().Named(appName)

	store, _, err := openSeeded(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn(ctx, "store close failed", logger.Error(err))
		}
	}()

	svc := app.New(
		app.WithLogger(log.Named("service")),
		app.WithStore(store),
		app.WithAggregateMaxRetries(cfg.AggregateMaxRetries),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	return fn(ctx, svc)
}

func loadCmd() *cobra.Command {
	cfg := loadgen.DefaultConfig()
	var (
		categoryName string
		deadline     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Submit concurrent feedback to a running server and verify its scores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.Category = categoryFlag(categoryName)
			ctx, cancel := context.WithTimeout(cmd.Context(), deadline)
			defer cancel()

			stats, err := loadgen.Run(ctx, cfg)
			if stats != nil {
				fmt.Fprintf(cmd.OutOrStdout(),
					"submitted %d (successful %d, duplicate %d, failed %d), verified %d scores, %d mismatches in %s\n",
					stats.Submitted, stats.Successful, stats.Duplicate, stats.Failed,
					stats.ScoresVerified, stats.Mismatches, stats.Duration.Round(time.Millisecond))
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", loadgen.DefaultBaseURL, "Base URL of the service")
	f.StringVar(&cfg.CourseID, "course", "", "Course id to submit against")
	f.StringVar(&categoryName, "category", string(cfg.Category), "Feedback category")
	f.StringSliceVar(&cfg.StudentIDs, "students", nil, "Student ids to rotate over")
	f.StringSliceVar(&cfg.ClassIDs, "classes", nil, "Class ids of the course")
	f.IntVar(&cfg.Submissions, "submissions", loadgen.DefaultSubmissions, "Number of distinct submissions")
	f.IntVar(&cfg.ReplayEvery, "replay-every", 0, "Resend every Nth submission with the same idempotency key")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of concurrent workers")
	f.DurationVar(&cfg.Timeout, "timeout", loadgen.DefaultTimeout, "HTTP request timeout")
	f.DurationVar(&deadline, "deadline", defaultLoadDeadline, "Overall run deadline")
	f.StringVarP(&cfg.OutputFile, "output", "o", "", "Write generated submissions to this JSON file")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Log progress while submitting")
	_ = cmd.MarkFlagRequired("course")
	_ = cmd.MarkFlagRequired("students")
	_ = cmd.MarkFlagRequired("classes")
	return cmd
}

func categoryFlag(v string) category.Category {
	return category.Category(strings.ToLower(strings.TrimSpace(v)))
}
