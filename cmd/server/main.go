// Command server runs the M-Pesa checkout HTTP API.
//
//	@title			go-mpesa-checkout API
//	@version		1.0
//	@description	M-Pesa STK push checkout: payment initiation, callback ingestion, status reconciliation, and order recording.
//	@BasePath		/
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/tbourn/go-mpesa-checkout/docs"
	"github.com/tbourn/go-mpesa-checkout/internal/config"
	"github.com/tbourn/go-mpesa-checkout/internal/events"
	httpapi "github.com/tbourn/go-mpesa-checkout/internal/http"
	"github.com/tbourn/go-mpesa-checkout/internal/migrate"
	"github.com/tbourn/go-mpesa-checkout/internal/mpesa"
	"github.com/tbourn/go-mpesa-checkout/internal/observability"
	"github.com/tbourn/go-mpesa-checkout/internal/repo"
	"github.com/tbourn/go-mpesa-checkout/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func setupLogging(cfg config.Config) {
	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var base zerolog.Logger
	if cfg.LogPretty {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		base = zerolog.New(os.Stderr)
	}
	log.Logger = base.With().Timestamp().Str("service", cfg.OTEL.ServiceName).Logger()
	// Work detached from a request (callback processing) still logs somewhere.
	zerolog.DefaultContextLogger = &log.Logger
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, cfg.Mpesa.Environment)
	if err != nil {
		return err
	}

	db, err := repo.Open(cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.Path)
	if err != nil {
		return err
	}
	if cfg.OTEL.Enabled {
		if err := observability.InstrumentDB(db); err != nil {
			log.Warn().Err(err).Msg("db tracing disabled")
		}
	}
	if cfg.Store.Driver == repo.DriverPostgres && !cfg.Store.AutoMigrate {
		err = migrate.RunMigrations(db, cfg.Store.MigrationsPath)
	} else {
		err = repo.AutoMigrate(db)
	}
	if err != nil {
		return err
	}

	gw := mpesa.NewClient(cfg.Mpesa)
	if err := gw.Ready(); err != nil {
		log.Warn().Err(err).Msg("M-Pesa credentials incomplete; payment endpoints will answer with a configuration error")
	}
	log.Info().
		Str("mpesa_base_url", cfg.Mpesa.ResolvedBaseURL()).
		Bool("callback_url_configured", cfg.Mpesa.CallbackURL != "").
		Msg("gateway configured")

	pub := events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.PublishTimeout)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	h := httpapi.RegisterRoutes(r, db, gw, pub, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// Acknowledged callbacks still being applied.
	if err := h.Wait(sctx); err != nil {
		log.Error().Err(err).Msg("callbacks still in flight at shutdown")
	}
	if err := pub.Close(); err != nil {
		log.Error().Err(err).Msg("event publisher close")
	}
	if err := shutdownOTel(sctx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}
