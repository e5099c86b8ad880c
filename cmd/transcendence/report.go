package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gonum.org/v1/plot/vg"

	"github.com/rewired-gh/transcendence/internal/analysis"
	"github.com/rewired-gh/transcendence/internal/config"
	"github.com/rewired-gh/transcendence/internal/glicko2"
	"github.com/rewired-gh/transcendence/internal/logger"
	"github.com/rewired-gh/transcendence/internal/models"
	"github.com/rewired-gh/transcendence/internal/plot"
	"github.com/rewired-gh/transcendence/internal/storage"
	"github.com/rewired-gh/transcendence/internal/telegram"
	"github.com/rewired-gh/transcendence/internal/wandb"
)

var reportOpts struct {
	DryRun  bool
	NoPlots bool
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Load game tables, rate them, render plots and archive the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var notifier *telegram.Client
		if cfg.Telegram.Enabled && !reportOpts.DryRun {
			var err error
			notifier, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
			if err != nil {
				return fmt.Errorf("failed to initialize Telegram client: %w", err)
			}
			logger.Info("Telegram client initialized successfully")
		} else {
			logger.Debug("Telegram notifications disabled")
		}

		report, err := runReport(ctx, cfg, reportOpts.DryRun, reportOpts.NoPlots)
		if err != nil {
			logger.Error("Report run failed: %v", err)
			if notifier != nil {
				if sendErr := notifier.SendError(ctx, err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return err
		}

		if err := printSummary(cmd.OutOrStdout(), report); err != nil {
			return err
		}

		if notifier != nil {
			if err := notifier.SendReport(ctx, report); err != nil {
				logger.Error("Failed to send Telegram notification: %v", err)
			} else {
				logger.Info("Sent report %s to Telegram", report.ID)
			}
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportOpts.DryRun, "dry-run", false, "Compute and print the report without archiving or announcing it")
	reportCmd.Flags().BoolVar(&reportOpts.NoPlots, "no-plots", false, "Skip rendering plots")
	rootCmd.AddCommand(reportCmd)
}

// runReport loads every configured table, rates each as one rating period,
// aggregates the results and, unless dryRun, archives the report.
func runReport(ctx context.Context, cfg *config.Config, dryRun, noPlots bool) (*models.Report, error) {
	if err := cfg.ValidateSources(); err != nil {
		return nil, err
	}
	startTime := time.Now()
	logger.Info("Starting report run")

	client := wandb.NewClient(cfg.WandB.APIURL, cfg.WandB.Timeout, wandb.ClientConfig{
		APIKey:         cfg.WandB.APIKey,
		Entity:         cfg.WandB.Entity,
		Project:        cfg.WandB.Project,
		MaxRetries:     cfg.WandB.MaxRetries,
		RetryDelayBase: cfg.WandB.RetryDelayBase,
	})
	sources := make([]wandb.Source, len(cfg.WandB.Sources))
	for i, s := range cfg.WandB.Sources {
		sources[i] = wandb.Source{Model: s.Model, Dirs: s.Dirs, Files: s.Files, URLs: s.URLs}
	}

	tables, err := client.Load(ctx, sources)
	if err != nil {
		return nil, fmt.Errorf("failed to load tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables found in %d sources", len(sources))
	}
	logger.Info("Loaded %d tables from %d sources", len(tables), len(sources))

	analyzer, err := newAnalyzer(cfg.Rating)
	if err != nil {
		return nil, err
	}
	results, err := analyzer.RateTables(ctx, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to rate tables: %w", err)
	}

	var samples []models.WinRateSample
	for _, t := range tables {
		s, err := analysis.WinRates(t)
		if err != nil {
			return nil, fmt.Errorf("failed to tally win rates: %w", err)
		}
		samples = append(samples, s...)
	}

	report := &models.Report{
		ID:        uuid.NewString(),
		Project:   cfg.WandB.Project,
		CreatedAt: time.Now().UTC(),
		Tables:    len(tables),
		Ratings:   results,
		WinRates:  analysis.SummarizeWinRates(samples),
		Heatmap:   analysis.Heatmap(results),
	}

	if cfg.Plot.Enabled && !noPlots {
		paths, err := renderPlots(cfg, report, analysis.SummarizeRatings(results))
		if err != nil {
			return nil, err
		}
		report.Plots = paths
		logger.Info("Rendered %d plots to %s", len(paths), cfg.Plot.OutputDir)
	}

	if !dryRun {
		if err := archive(ctx, cfg.Storage, report); err != nil {
			return nil, err
		}
	}

	logger.Info("Report run %s completed in %v", report.ID, time.Since(startTime))
	return report, nil
}

func newAnalyzer(rc config.RatingConfig) (*analysis.Analyzer, error) {
	elos, err := rc.EngineElos()
	if err != nil {
		return nil, err
	}
	return analysis.New(analysis.Config{
		Prior: glicko2.Rating{
			Rating:     rc.InitialRating,
			Deviation:  rc.InitialDeviation,
			Volatility: rc.InitialVolatility,
		},
		Glicko: glicko2.Config{
			Tau:           rc.Tau,
			Epsilon:       rc.Epsilon,
			MaxIterations: rc.MaxIterations,
		},
		OpponentDeviation: rc.OpponentDeviation,
		EngineElo:         elos,
		Workers:           rc.Workers,
	}), nil
}

// renderPlots draws a win-rate and a rating chart per model, in source order,
// then the matchup heatmap.
func renderPlots(cfg *config.Config, report *models.Report, ratingSums []models.RatingSummary) ([]string, error) {
	r := plot.NewRenderer(plot.Config{
		OutputDir:    cfg.Plot.OutputDir,
		Width:        vg.Length(cfg.Plot.Width) * vg.Inch,
		Height:       vg.Length(cfg.Plot.Height) * vg.Inch,
		HeatmapMin:   cfg.Plot.HeatmapMin,
		HeatmapMax:   cfg.Plot.HeatmapMax,
		XTicksByData: cfg.Plot.XTicksByData,
	})

	var paths []string
	seen := make(map[string]bool)
	for _, src := range cfg.WandB.Sources {
		if seen[src.Model] {
			continue
		}
		seen[src.Model] = true

		for _, chart := range []plot.LineChart{
			plot.WinRateChart(src.Model, report.WinRates),
			plot.RatingChart(src.Model, ratingSums),
		} {
			if len(chart.Series) == 0 {
				logger.Debug("Skipping %q: no data", chart.Title)
				continue
			}
			path, err := r.Line(chart)
			if err != nil {
				return nil, fmt.Errorf("failed to render %q: %w", chart.Title, err)
			}
			paths = append(paths, path)
		}
	}

	if len(report.Heatmap) > 0 {
		path, err := r.Heatmap(plot.MatchupChart(report.Heatmap))
		if err != nil {
			return nil, fmt.Errorf("failed to render heatmap: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func archive(ctx context.Context, sc config.StorageConfig, report *models.Report) error {
	store, err := storage.New(sc.Driver, sc.DSN)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	if err := store.SaveReport(ctx, report); err != nil {
		return fmt.Errorf("failed to archive report: %w", err)
	}
	removed, err := store.RotateReports(ctx, sc.MaxReports)
	if err != nil {
		logger.Warn("Failed to rotate reports: %v", err)
	} else if removed > 0 {
		logger.Debug("Rotated out %d old reports", removed)
	}
	logger.Info("Archived report %s", report.ID)
	return nil
}

func printSummary(w io.Writer, r *models.Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Report %s (%d tables)\n\n", r.ID, r.Tables)
	fmt.Fprintln(tw, "TABLE\tMODEL\tTEMP\tLEVEL\tRATING\tRD\tW/D/L")
	for _, x := range r.Ratings {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\t%.1f\t%.1f\t%d/%d/%d\n",
			x.Table, x.Model, x.Temperature, x.EngineLevel, x.Rating, x.Deviation, x.Wins, x.Draws, x.Losses)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "MODEL\tTEMP\tLEVEL\tWIN RATE\tSTD\t95% CI")
	for _, s := range r.WinRates {
		fmt.Fprintf(tw, "%s\t%.2f\t%d\t%.3f\t%.3f\t[%.3f, %.3f]\n",
			s.Model, s.Temperature, s.EngineLevel, s.Mean, s.StdDev, s.CILow, s.CIHigh)
	}
	for _, p := range r.Plots {
		fmt.Fprintf(tw, "plot: %s\n", p)
	}
	return tw.Flush()
}
