package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/retailscope/proximity-cli/internal/model"
)

var (
	storesCity       string
	storesState      string
	storesActiveOnly bool
	storesChain      string
)

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "Inspect and manage store records",
}

var storesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List own stores, optionally filtered by city or state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		reg, err := openRegistry(ctx)
		if err != nil {
			return eris.Wrap(err, "stores: open registry")
		}
		defer reg.Close() //nolint:errcheck

		var records []model.StoreRecord
		switch {
		case storesCity != "":
			records, err = reg.ListOwnStoresByCity(ctx, storesCity)
		case storesState != "":
			records, err = reg.ListOwnStoresByState(ctx, storesState)
		default:
			records, err = reg.ListOwnStores(ctx, storesActiveOnly)
		}
		if err != nil {
			return eris.Wrap(err, "stores: list")
		}

		return printJSON(records)
	},
}

var storesCompetitorsCmd = &cobra.Command{
	Use:   "competitors",
	Short: "List competitor stores, optionally filtered by chain",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		reg, err := openRegistry(ctx)
		if err != nil {
			return eris.Wrap(err, "stores: open registry")
		}
		defer reg.Close() //nolint:errcheck

		var chain *model.Chain
		if storesChain != "" {
			c := model.ParseChain(storesChain)
			chain = &c
		}

		records, err := reg.ListCompetitorStores(ctx, chain)
		if err != nil {
			return eris.Wrap(err, "stores: list competitors")
		}

		return printJSON(records)
	},
}

var storesGetCmd = &cobra.Command{
	Use:   "get <store-id>",
	Short: "Show one store from either partition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		reg, err := openRegistry(ctx)
		if err != nil {
			return eris.Wrap(err, "stores: open registry")
		}
		defer reg.Close() //nolint:errcheck

		rec, side, err := reg.GetStore(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "stores: get %s", args[0])
		}

		return printJSON(map[string]any{
			"partition": side,
			"store":     rec,
		})
	},
}

var storesDeactivateCmd = &cobra.Command{
	Use:   "deactivate <store-id>",
	Short: "Mark a store closed without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		reg, err := openRegistry(ctx)
		if err != nil {
			return eris.Wrap(err, "stores: open registry")
		}
		defer reg.Close() //nolint:errcheck

		if err := reg.DeactivateStore(ctx, args[0]); err != nil {
			return eris.Wrapf(err, "stores: deactivate %s", args[0])
		}

		zap.L().Info("store deactivated", zap.String("store_id", args[0]))
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func init() {
	storesListCmd.Flags().StringVar(&storesCity, "city", "", "filter by exact city")
	storesListCmd.Flags().StringVar(&storesState, "state", "", "filter by exact state")
	storesListCmd.Flags().BoolVar(&storesActiveOnly, "active", false, "only active stores")
	storesCompetitorsCmd.Flags().StringVar(&storesChain, "chain", "", "filter by competitor chain")

	storesCmd.AddCommand(storesListCmd, storesCompetitorsCmd, storesGetCmd, storesDeactivateCmd)
	rootCmd.AddCommand(storesCmd)
}
