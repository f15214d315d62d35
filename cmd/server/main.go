package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/wctv/backend/internal/api"
	"github.com/wctv/backend/internal/config"
	"github.com/wctv/backend/internal/engine"
	"github.com/wctv/backend/internal/scoring"
	"github.com/wctv/backend/internal/seed"
	"github.com/wctv/backend/internal/store"
	"github.com/wctv/backend/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	dbPath := flag.String("db", "", "Override database path")
	doSeed := flag.Bool("seed", true, "Seed stalls and history into an empty database")
	noMotor := flag.Bool("no-motor", false, "Disable the visit simulator (serve data only)")
	flag.Parse()

	logLevel := zerolog.InfoLevel
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		if parsed, err := zerolog.ParseLevel(env); err == nil {
			logLevel = parsed
		}
	}
	log := zerolog.New(os.Stdout).Level(logLevel).With().
		Timestamp().
		Str("service", "wctv").
		Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Seed.Enabled && *doSeed {
		if err := seed.Run(ctx, st, cfg.Seed, cfg.Motor, log); err != nil {
			log.Fatal().Err(err).Msg("seeding failed")
		}
	}

	broadcaster := ws.NewBroadcaster(st, cfg.Server.SnapshotInterval, log)
	go broadcaster.Run(ctx)

	rng := engine.NewRand(time.Now().UnixNano())
	lifecycle := engine.NewLifecycle(cfg.Motor, st, broadcaster, rng, log)

	if !*noMotor {
		gen := scoring.NewSeeded(time.Now().UnixNano())
		motor := engine.NewMotor(cfg.Motor, st, gen, broadcaster, lifecycle, rng, log)
		go motor.Run(ctx)
	}

	server := api.NewServer(st, broadcaster, lifecycle, log)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}

	// Let outstanding trigger timelines observe cancellation before exit.
	lifecycle.Wait()
}
