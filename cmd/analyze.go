package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/retailscope/proximity-cli/internal/analyzer"
)

var (
	analyzeStoreID string
	analyzeRadius  float64
	analyzeAll     bool
	analyzeShow    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compute competitor proximity for own stores",
	Long:  "Finds active competitors within the search radius of an own store, persists the ranked result, and reports per-chain counts. --all runs every active own store concurrently; per-store failures do not stop the batch.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if analyzeAll == (analyzeStoreID != "") {
			return eris.New("exactly one of --store or --all is required")
		}

		radius := analyzeRadius
		if radius == 0 {
			radius = cfg.Analysis.DefaultRadiusKm
		}

		reg, err := openRegistry(ctx)
		if err != nil {
			return eris.Wrap(err, "analyze: open registry")
		}
		defer reg.Close() //nolint:errcheck

		a := analyzer.New(reg, analyzer.WithWorkers(cfg.Analysis.Workers))

		if analyzeAll {
			result, err := a.AnalyzeAll(ctx, radius)
			if err != nil {
				return eris.Wrap(err, "analyze: batch")
			}
			for storeID, failure := range result.Failures {
				zap.L().Warn("store analysis failed",
					zap.String("store_id", storeID),
					zap.Error(failure),
				)
			}
			zap.L().Info("batch analysis complete",
				zap.Int("succeeded", result.Succeeded()),
				zap.Int("failed", result.Failed()),
				zap.Bool("cancelled", result.Cancelled),
			)
			return nil
		}

		analysis, err := a.AnalyzeOne(ctx, analyzeStoreID, radius)
		if err != nil {
			return eris.Wrapf(err, "analyze: store %s", analyzeStoreID)
		}

		zap.L().Info("analysis complete",
			zap.String("store_id", analyzeStoreID),
			zap.Float64("radius_km", radius),
			zap.Int("competitors", analysis.Count()),
		)
		if analyzeShow {
			return printJSON(analysis)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeStoreID, "store", "", "own store id to analyze")
	analyzeCmd.Flags().Float64Var(&analyzeRadius, "radius", 0, "search radius in km (default from config)")
	analyzeCmd.Flags().BoolVar(&analyzeAll, "all", false, "analyze every active own store")
	analyzeCmd.Flags().BoolVar(&analyzeShow, "show", false, "print the analysis as JSON")
	rootCmd.AddCommand(analyzeCmd)
}
