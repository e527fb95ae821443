package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"propenrich/internal/adapters/geocoder"
	server "propenrich/internal/adapters/http_server"
	"propenrich/internal/adapters/memcache"
	"propenrich/internal/adapters/observability"
	"propenrich/internal/adapters/providers"
	redisad "propenrich/internal/adapters/redis"
	"propenrich/internal/app"
	"propenrich/internal/shared"
	mysqlrepo "propenrich/internal/storage/mysql"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	// db
	db, err := mysqlrepo.Open(ctx, cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("mysql open failed")
	}
	defer db.Close()
	log.Info().Msg("database connection ok")

	// deps
	repo := mysqlrepo.New(db)
	rdb := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer rdb.Close()
	if err := rdb.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("redis unreachable; continuing with memory cache misses")
	}
	cache := memcache.New(cfg.MemCacheTTL, rdb)

	client := providers.NewClient(cfg.ProviderKey, cfg.ProviderRPS)
	geo := geocoder.NewCached(geocoder.New(cfg.GeocoderURL, client), cache, cfg.CacheTTL)
	fetchers := shared.Fetchers(cfg, client, repo)

	orch, err := app.NewOrchestrator(geo, fetchers, app.NewStore(nil), app.NewBus(), app.Options{
		FetchTimeout:   cfg.FetchTimeout,
		GeocodeTimeout: cfg.GeocodeTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("orchestrator init failed")
	}

	archiver := app.NewArchiver(repo, cache, 128)
	defer archiver.Attach(orch.Bus())()
	archived := make(chan struct{})
	go func() {
		archiver.Run(ctx)
		close(archived)
	}()

	q := app.NewQueryService(repo, cache, cfg.CacheTTL)

	// http
	srv := server.New(cfg.CORSOrigins...)
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{Orch: orch, Q: q, Solar: repo})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
		// event streams end on shutdown instead of holding it open
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(sctx)
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Int("fetchers", len(fetchers)).Msg("API listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server failed")
	}
	<-archived
	log.Info().Msg("API stopped")
}
