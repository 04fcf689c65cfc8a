package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/retailscope/proximity-cli/internal/config"
	"github.com/retailscope/proximity-cli/internal/registry"
	"github.com/retailscope/proximity-cli/pkg/geocode"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "proximity-cli",
	Short: "Store registry and competitor proximity analysis",
	Long:  "Maintains a registry of own-brand and competitor store locations, imports rosters from CSV/XLSX with address geocoding, and computes per-store competitor proximity within a search radius.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// openRegistry opens the configured registry backend. Caller closes it.
func openRegistry(ctx context.Context) (registry.Registry, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("database URL is required (PROXIMITY_STORE_DATABASE_URL)")
		}
		return registry.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	case "sqlite":
		return registry.NewSQLite(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// newGeocoder builds the Census geocoder from config.
func newGeocoder() geocode.Client {
	return geocode.NewClient(
		geocode.WithRateLimit(cfg.Geocode.RateLimitRPS),
		geocode.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Geocode.TimeoutSecs) * time.Second,
		}),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
