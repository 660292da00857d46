package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/WatchParty/internal/adapters/http"
	"github.com/dkeye/WatchParty/internal/admission"
	"github.com/dkeye/WatchParty/internal/app"
	"github.com/dkeye/WatchParty/internal/app/orch"
	"github.com/dkeye/WatchParty/internal/config"
	"github.com/dkeye/WatchParty/internal/history"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	store, err := history.Open(ctx, cfg.History.Driver, cfg.History.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open history store")
	}
	defer store.Close()

	policy, err := app.PolicyByName(cfg.Signal.Backpressure)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid backpressure policy")
	}

	rooms := app.NewRooms()
	reg := app.NewRegistry()
	relay := app.NewRelay(rooms, reg, policy)
	o := orch.New(reg, rooms, relay, store)

	deps := router.Deps{Orch: o, Rooms: rooms, History: store, Admission: admission.AllowAll{}}
	if cfg.Admission.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Admission.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Admission.RedisAddr).Msg("redis unreachable, plan cache degraded")
		}
		source := admission.NewPlanClient(cfg.Admission.PlanAPIURL, cfg.Admission.Timeout)
		deps.Admission = admission.NewCachedChecker(source, rdb, cfg.Admission.CachePrefix, cfg.Admission.CacheTTL)
	}

	r := router.SetupRouter(ctx, cfg, deps)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("WatchParty server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
