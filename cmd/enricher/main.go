package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"propenrich/internal/adapters/geocoder"
	"propenrich/internal/adapters/memcache"
	"propenrich/internal/adapters/observability"
	"propenrich/internal/adapters/providers"
	redisad "propenrich/internal/adapters/redis"
	"propenrich/internal/app"
	"propenrich/internal/domain"
	"propenrich/internal/shared"
	mysqlrepo "propenrich/internal/storage/mysql"
)

var (
	cfgFile   string
	inputFile string
	workers   int
	noPersist bool
)

var rootCmd = &cobra.Command{
	Use:   "enricher [address...]",
	Short: "Enrich property addresses and print one JSON record per line",
	Long: `Runs the enrichment pipeline for each address, from arguments or from
a file with one address per line. Records go to stdout as JSON lines, logs to
stderr.

Example:
  enricher "123 Solar Way, Fort Worth, TX"
  enricher --file addresses.txt --workers 8 --no-persist`,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (sets CONFIG_FILE)")
	rootCmd.Flags().StringVarP(&inputFile, "file", "f", "", "read addresses from file ('-' for stdin)")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent enrichments (default ENRICH_WORKERS)")
	rootCmd.Flags().BoolVar(&noPersist, "no-persist", false, "do not write solar estimates or records to MySQL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfgFile != "" {
		_ = os.Setenv("CONFIG_FILE", cfgFile)
	}
	cfg := shared.Load()
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
	if workers <= 0 {
		workers = cfg.Workers
	}

	addrs := append([]string(nil), args...)
	if inputFile != "" {
		in := os.Stdin
		if inputFile != "-" {
			f, err := os.Open(inputFile)
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer f.Close()
			in = f
		}
		more, err := readAddresses(in)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		addrs = append(addrs, more...)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("no addresses given")
	}

	var (
		solar   domain.SolarStore
		archive *app.Archiver
	)
	if !noPersist {
		db, err := mysqlrepo.Open(ctx, cfg.MySQLDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		repo := mysqlrepo.New(db)
		solar = repo
		archive = app.NewArchiver(repo, nil, 1)
	}

	var cache domain.Cache = memcache.New(cfg.MemCacheTTL, nil)
	if cfg.RedisAddr != "" {
		rdb := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		defer rdb.Close()
		if err := rdb.Ping(ctx); err == nil {
			cache = memcache.New(cfg.MemCacheTTL, rdb)
		} else {
			log.Warn().Err(err).Msg("redis unreachable; geocodes cached in memory only")
		}
	}

	client := providers.NewClient(cfg.ProviderKey, cfg.ProviderRPS)
	geo := geocoder.NewCached(geocoder.New(cfg.GeocoderURL, client), cache, cfg.CacheTTL)
	fetchers := shared.Fetchers(cfg, client, solar)
	opts := app.Options{FetchTimeout: cfg.FetchTimeout, GeocodeTimeout: cfg.GeocodeTimeout}

	b := batch{
		workers: workers,
		newOrch: func() (*app.Orchestrator, error) {
			return app.NewOrchestrator(geo, fetchers, nil, nil, opts)
		},
	}
	if archive != nil {
		b.archive = archive.Archive
	}

	log.Info().Int("addresses", len(addrs)).Int("workers", workers).Int("fetchers", len(fetchers)).Msg("batch starting")
	failed := b.run(ctx, addrs, os.Stdout)
	log.Info().Int("failed", failed).Msg("batch complete")
	if failed > 0 {
		return fmt.Errorf("%d of %d addresses failed", failed, len(addrs))
	}
	return nil
}
