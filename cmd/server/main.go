package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Live/internal/adapters/http"
	"github.com/dkeye/Live/internal/adapters/rtc"
	"github.com/dkeye/Live/internal/adapters/store"
	"github.com/dkeye/Live/internal/app"
	"github.com/dkeye/Live/internal/app/orch"
	"github.com/dkeye/Live/internal/config"
	"github.com/dkeye/Live/internal/core"
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
	setupLogging(cfg)

	users, messages, closeStore := openStore(ctx, cfg)
	defer closeStore()
	status := openStatus(cfg)
	defer status.Close()

	engine := rtc.NewEngine(rtc.Config{
		ICEServers:    cfg.RTC.ICEServers,
		AnnouncedIPs:  cfg.RTC.AnnouncedIPs,
		UDPPortMin:    cfg.RTC.UDPPortMin,
		UDPPortMax:    cfg.RTC.UDPPortMax,
		GatherTimeout: cfg.RTC.GatherTimeout,
		Loopback:      cfg.RTC.Loopback,
	})

	reg := app.NewRegistry()
	o := &orch.Orchestrator{
		Registry:     reg,
		Groups:       core.NewGroups(),
		Chat:         app.NewChatLogs(),
		Offers:       app.NewOfferBook(),
		Policy:       app.SimplePolicy{},
		Engine:       engine,
		Users:        users,
		Messages:     messages,
		Status:       status,
		StoreTimeout: cfg.Store.Timeout,
	}

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Live server started")
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
	// Hijacked sockets outlive Shutdown; closing the registry cancels them
	// and releases every router.
	reg.Close()
	log.Info().Msg("Server exited gracefully")
}

func setupLogging(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func openStore(ctx context.Context, cfg *config.Config) (core.UserStore, core.MessageStore, func()) {
	if cfg.Store.Backend != "mongo" {
		log.Info().Str("module", "main").Msg("using in-memory document store")
		return store.NewMemoryUserStore(), store.NewMemoryMessageStore(), func() {}
	}
	m, err := store.ConnectMongo(ctx, store.MongoConfig{
		URI:      cfg.Store.MongoURI,
		Database: cfg.Store.MongoDB,
		Timeout:  cfg.Store.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open document store")
	}
	return m.Users(), m.Messages(), func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Close(closeCtx); err != nil {
			log.Warn().Err(err).Str("module", "main").Msg("close document store")
		}
	}
}

func openStatus(cfg *config.Config) core.LiveStatusPublisher {
	if cfg.Status.Backend != "redis" {
		return store.NoopStatus{}
	}
	s, err := store.NewRedisStatus(store.RedisConfig{
		Address:  cfg.Status.RedisAddr,
		Password: cfg.Status.RedisPassword,
		DB:       cfg.Status.RedisDB,
		Channel:  cfg.Status.Channel,
	})
	if err != nil {
		// The index is advisory; the server runs without it.
		log.Error().Err(err).Str("module", "main").Msg("live status index unavailable")
		return store.NoopStatus{}
	}
	return s
}
