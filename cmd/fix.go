package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/observability"
	"github.com/xkilldash9x/mender/internal/reporting"
	"github.com/xkilldash9x/mender/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const persistTimeout = 30 * time.Second

type fixOptions struct {
	fixturesDir string
	outputDir   string
	concurrency int
	persist     bool
	format      string
	report      string
}

// fixSummary is what the driver writes to <name>.result.json.
type fixSummary struct {
	Fixture         string                    `json:"fixture"`
	RunID           string                    `json:"run_id"`
	Success         bool                      `json:"success"`
	FinalScore      float64                   `json:"final_score"`
	ErrorsRemaining int                       `json:"errors_remaining"`
	PhasesCompleted []schemas.FixPhase        `json:"phases_completed"`
	Metrics         schemas.FixMetrics        `json:"metrics"`
	ErrorMessage    string                    `json:"error_message,omitempty"`
	Remaining       []schemas.ClassifiedError `json:"remaining,omitempty"`
}

func newFixCmd(factory service.ComponentFactory) *cobra.Command {
	var opts fixOptions

	fixCmd := &cobra.Command{
		Use:   "fix [files...]",
		Short: "Repairs fixture documents and writes the results",
		Long: `Runs every *.html file in the fixtures directory (or the files given as
arguments) through the repair pipeline. For each fixture it writes
<name>.result.json and, when a document was produced, <name>.fixed.html
to the output directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}

			// Flags were bound onto the driver section before the config was built.
			opts.fixturesDir = cfg.Driver.FixturesDir
			opts.outputDir = cfg.Driver.OutputDir
			opts.concurrency = cfg.Driver.Concurrency

			return runFix(ctx, observability.GetLogger(), cfg, args, opts, factory, cmd.OutOrStdout())
		},
	}

	fixCmd.Flags().StringP("fixtures", "f", "", "Directory of *.html fixtures. (Overrides config/env)")
	fixCmd.Flags().StringP("out", "o", "", "Directory for result files. (Overrides config/env)")
	fixCmd.Flags().IntP("concurrency", "j", 0, "Number of fixtures repaired in parallel. (Overrides config/env)")
	fixCmd.Flags().BoolVar(&opts.persist, "persist", false, "Also store each run in PostgreSQL (requires MENDER_DATABASE_URL).")
	fixCmd.Flags().StringVar(&opts.format, "format", "text", "Summary format ('text' or 'json').")
	fixCmd.Flags().StringVar(&opts.report, "report", "", "Write the summary to this file instead of stdout.")

	return fixCmd
}

// runFix contains the driver logic, separated from cobra for testing.
func runFix(ctx context.Context, logger *zap.Logger, cfg *config.Config, files []string, opts fixOptions, factory service.ComponentFactory, stdout io.Writer) error {
	fixtures, err := collectFixtures(opts.fixturesDir, files)
	if err != nil {
		return err
	}
	if opts.concurrency <= 0 {
		opts.concurrency = 1
	}

	runCfg := *cfg
	if !opts.persist {
		runCfg.Database.URL = ""
	} else if runCfg.Database.URL == "" {
		return errors.New("--persist requires a database URL (hint: set MENDER_DATABASE_URL)")
	}

	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", opts.outputDir, err)
	}

	var reporter reporting.Reporter
	if opts.report == "" {
		reporter, err = reporting.NewWithWriter(opts.format, stdout)
	} else {
		reporter, err = reporting.New(opts.format, opts.report)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Error("Failed to close reporter", zap.Error(err))
		}
	}()

	components, err := factory.Create(ctx, &runCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	logger.Info("Repairing fixtures",
		zap.Int("fixtures", len(fixtures)),
		zap.Int("concurrency", opts.concurrency),
		zap.String("output_dir", opts.outputDir),
		zap.Bool("persist", components.Store != nil),
	)

	var repaired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for _, path := range fixtures {
		g.Go(func() error {
			ok, err := fixOne(gctx, logger, components, reporter, path, opts.outputDir)
			if ok {
				repaired.Add(1)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Fixture run complete", zap.Int64("repaired", repaired.Load()), zap.Int("total", len(fixtures)))
	if opts.report == "" && opts.format != "json" {
		fmt.Fprintf(stdout, "Repaired %d/%d fixtures. Results written to %s\n", repaired.Load(), len(fixtures), opts.outputDir)
	}
	return nil
}

func fixOne(ctx context.Context, logger *zap.Logger, c *service.Components, reporter reporting.Reporter, path, outDir string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read fixture %s: %w", path, err)
	}
	fixture := filepath.Base(path)
	name := strings.TrimSuffix(fixture, filepath.Ext(fixture))

	res := c.Orchestrator.Fix(ctx, string(data))

	if err := writeResult(outDir, name, fixture, &res); err != nil {
		return false, err
	}

	if c.Store != nil {
		// Persist even when the run itself was interrupted.
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := c.Store.SaveRun(persistCtx, fixture, &res); err != nil {
			logger.Warn("Failed to persist run", zap.String("fixture", fixture), zap.Error(err))
		}
	}

	if err := reporter.Write(name, &res); err != nil {
		return false, fmt.Errorf("failed to report %s: %w", fixture, err)
	}
	return res.Success, nil
}

func writeResult(outDir, name, fixture string, res *schemas.OrchestratorResult) error {
	summary := fixSummary{
		Fixture:         fixture,
		RunID:           res.RunID,
		Success:         res.Success,
		FinalScore:      res.FinalScore,
		ErrorsRemaining: res.ErrorsRemaining,
		PhasesCompleted: res.PhasesCompleted,
		Metrics:         res.Metrics,
		ErrorMessage:    res.ErrorMessage,
		Remaining:       res.Remaining,
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result for %s: %w", fixture, err)
	}
	if err := os.WriteFile(filepath.Join(outDir, name+".result.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write result for %s: %w", fixture, err)
	}

	if res.FixedHTML == "" {
		return nil
	}
	if err := os.WriteFile(filepath.Join(outDir, name+".fixed.html"), []byte(res.FixedHTML), 0o644); err != nil {
		return fmt.Errorf("failed to write fixed document for %s: %w", fixture, err)
	}
	return nil
}

// collectFixtures returns files when given, otherwise every *.html file in dir.
func collectFixtures(dir string, files []string) ([]string, error) {
	if len(files) > 0 {
		return files, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("fixtures directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fixtures path %s is not a directory", dir)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no *.html fixtures found in %s", dir)
	}
	return matches, nil
}
