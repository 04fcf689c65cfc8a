package main

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/retailscope/proximity-cli/internal/importer"
	"github.com/retailscope/proximity-cli/internal/model"
)

var (
	importCSVPath  string
	importXLSXPath string
	importKind     string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a store roster from CSV or XLSX",
	Long:  "Imports store records into the own or competitor partition. Rows without coordinates are geocoded from their address; failed rows are reported, not fatal.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if (importCSVPath == "") == (importXLSXPath == "") {
			return eris.New("exactly one of --csv or --xlsx is required")
		}

		kind := model.Partition(strings.ToLower(importKind))
		if !kind.Valid() {
			return eris.Errorf("--kind must be %q or %q", model.PartitionOwn, model.PartitionCompetitor)
		}

		reg, err := openRegistry(ctx)
		if err != nil {
			return eris.Wrap(err, "import: open registry")
		}
		defer reg.Close() //nolint:errcheck

		imp := importer.New(reg, newGeocoder())

		var result *importer.Result
		if importCSVPath != "" {
			f, err := os.Open(importCSVPath)
			if err != nil {
				return eris.Wrapf(err, "import: open %s", importCSVPath)
			}
			defer f.Close() //nolint:errcheck
			result, err = imp.ImportCSV(ctx, f, kind)
			if err != nil {
				return eris.Wrap(err, "import: csv")
			}
		} else {
			result, err = imp.ImportXLSX(ctx, importXLSXPath, kind)
			if err != nil {
				return eris.Wrap(err, "import: xlsx")
			}
		}

		for _, failure := range result.Failed {
			zap.L().Warn("row not imported",
				zap.Int("row", failure.Row),
				zap.String("store_id", failure.StoreID),
				zap.String("reason", failure.Reason),
			)
		}
		zap.L().Info("import complete",
			zap.String("partition", string(kind)),
			zap.Int("imported", result.Imported),
			zap.Int("failed", len(result.Failed)),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV roster")
	importCmd.Flags().StringVar(&importXLSXPath, "xlsx", "", "path to XLSX roster")
	importCmd.Flags().StringVar(&importKind, "kind", "own", "target partition: own or competitor")
	rootCmd.AddCommand(importCmd)
}
