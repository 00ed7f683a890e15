package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wnt/lotkeeper/internal/cache"
	"github.com/wnt/lotkeeper/internal/config"
	"github.com/wnt/lotkeeper/internal/database"
	"github.com/wnt/lotkeeper/internal/explorer"
	"github.com/wnt/lotkeeper/internal/importer"
	"github.com/wnt/lotkeeper/internal/ledger"
	"github.com/wnt/lotkeeper/internal/logger"
	"github.com/wnt/lotkeeper/internal/normalize"
	"github.com/wnt/lotkeeper/internal/pricing"
	"github.com/wnt/lotkeeper/internal/rpc"
)

type options struct {
	wallet      string
	dryRun      bool
	sellHolding uint
	sellQty     float64
	sellPrice   float64
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the command and returns its exit code, so deferred shutdowns
// complete before the process exits
func execute(args []string) int {
	// Parse command-line arguments
	flags := flag.NewFlagSet("lotkeeper", flag.ContinueOnError)
	envFile := flags.String("envFile", ".env", "Path to .env file")
	var opts options
	flags.StringVar(&opts.wallet, "wallet", "", "Wallet address to import")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Import into an in-memory ledger instead of the database")
	flags.UintVar(&opts.sellHolding, "sell-holding", 0, "Holding id to match a hypothetical sell against")
	flags.Float64Var(&opts.sellQty, "sell-qty", 0, "Quantity of the hypothetical sell")
	flags.Float64Var(&opts.sellPrice, "sell-price", 0, "USD price per unit of the hypothetical sell")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if opts.wallet == "" && opts.sellHolding == 0 {
		fmt.Fprintln(os.Stderr, "Usage: lotkeeper -wallet <address> [-dry-run] [-sell-holding <id> -sell-qty <qty> -sell-price <usd>]")
		return 2
	}

	// Load environment variables from the specified file
	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("No .env file found at %s, using environment variables", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}

	appLogger := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(cfg.MetricsPort, appLogger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := run(ctx, cfg, opts, appLogger); err != nil {
		appLogger.Error().Err(err).Msg("lotkeeper failed")
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, opts options, appLogger zerolog.Logger) error {
	repo, err := openLedger(cfg, opts.dryRun, appLogger)
	if err != nil {
		return err
	}

	if opts.wallet != "" {
		imp, cleanup, err := newImporter(cfg, repo, appLogger)
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := imp.Run(ctx, opts.wallet)
		if err != nil {
			return fmt.Errorf("import of %s failed: %w", opts.wallet, err)
		}
		if err := printJSON(result); err != nil {
			return err
		}
	}

	if opts.sellHolding != 0 {
		holding, match, err := ledger.MatchHoldingSell(ctx, repo, opts.sellHolding, opts.sellQty, opts.sellPrice)
		if err != nil {
			return fmt.Errorf("sell match against holding %d failed: %w", opts.sellHolding, err)
		}
		if err := printJSON(struct {
			HoldingID uint             `json:"holding_id"`
			AssetID   string           `json:"asset_id"`
			Symbol    string           `json:"symbol"`
			Match     ledger.SellMatch `json:"match"`
		}{holding.ID, holding.AssetID, holding.Symbol, match}); err != nil {
			return err
		}
	}

	return nil
}

func openLedger(cfg config.Config, dryRun bool, appLogger zerolog.Logger) (ledger.Repository, error) {
	if dryRun {
		appLogger.Info().Msg("Dry run, using an in-memory ledger")
		return ledger.NewMemoryRepository(), nil
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return ledger.NewGormRepository(db), nil
}

// newImporter wires the feeds, the price resolver and the optional Redis
// cache. The returned cleanup closes the Redis client.
func newImporter(cfg config.Config, repo ledger.Repository, appLogger zerolog.Logger) (*importer.Importer, func(), error) {
	cleanup := func() {}

	var (
		directoryCache pricing.DirectoryCache
		locker         importer.Locker
	)
	if cfg.RedisURL != "" {
		client, err := cache.NewClient(cfg.RedisURL, appLogger)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to initialize redis: %w", err)
		}
		directoryCache = client
		locker = client
		cleanup = func() {
			if err := client.Close(); err != nil {
				appLogger.Warn().Err(err).Msg("Failed to close redis client")
			}
		}
	}

	pool := rpc.NewPool(cfg.ExplorerEndpoints, cfg.ExplorerRateLimit, rpc.DefaultBurst, appLogger)
	fetcher := rpc.NewFetcher(pool, "explorer", cfg.RequestTimeout, appLogger)
	transfers := explorer.NewClient(fetcher, explorer.Options{
		APIKey:  cfg.ExplorerAPIKey,
		ChainID: cfg.ExplorerChainID,
	}, appLogger)

	gecko := pricing.NewCoinGeckoClient(cfg.PriceAPIURL, cfg.PriceAPIKey, cfg.PricePlatform, cfg.RequestTimeout)
	directory := pricing.NewDirectory(gecko, directoryCache, cfg.NativeAssetID, appLogger)
	resolver := pricing.NewResolver(gecko, pricing.Options{
		Concurrency: cfg.PriceConcurrency,
		CallTimeout: cfg.RequestTimeout,
	}, appLogger)

	imp := importer.New(transfers, directory, resolver, repo, locker, importer.Options{
		Timeout: cfg.ImportTimeout,
		Native:  normalize.Options{NativeSymbol: cfg.NativeSymbol},
	}, appLogger)
	return imp, cleanup, nil
}

func startMetricsServer(port string, appLogger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Warn().Err(err).Str("port", port).Msg("Metrics server stopped")
		}
	}()
	return server
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
