package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/retailscope/proximity-cli/internal/analyzer"
)

var watchIntervalHours int

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Recompute all analyses on a fixed interval",
	Long:  "Runs a batch analysis immediately and then on every interval tick until interrupted. Analyses completed before an interrupt are kept.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		interval := watchIntervalHours
		if interval <= 0 {
			interval = cfg.Analysis.RecomputeIntervalHours
		}

		reg, err := openRegistry(ctx)
		if err != nil {
			return eris.Wrap(err, "watch: open registry")
		}
		defer reg.Close() //nolint:errcheck

		a := analyzer.New(reg, analyzer.WithWorkers(cfg.Analysis.Workers))
		radius := cfg.Analysis.DefaultRadiusKm
		log := zap.L().With(zap.String("component", "watch"))

		log.Info("watch started",
			zap.Int("interval_hours", interval),
			zap.Float64("radius_km", radius),
		)

		ticker := time.NewTicker(time.Duration(interval) * time.Hour)
		defer ticker.Stop()

		for {
			result, err := a.AnalyzeAll(ctx, radius)
			if err != nil {
				if ctx.Err() != nil {
					log.Info("watch stopped")
					return nil
				}
				log.Error("batch analysis failed", zap.Error(err))
			} else {
				log.Info("batch analysis complete",
					zap.Int("succeeded", result.Succeeded()),
					zap.Int("failed", result.Failed()),
					zap.Bool("cancelled", result.Cancelled),
				)
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				log.Info("watch stopped")
				return nil
			}
		}
	},
}

func init() {
	watchCmd.Flags().IntVar(&watchIntervalHours, "interval", 0, "hours between runs (default from config)")
	rootCmd.AddCommand(watchCmd)
}
