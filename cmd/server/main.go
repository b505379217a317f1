package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/stock-ledger/internal/config"
	"github.com/ksred/stock-ledger/internal/database"
	"github.com/ksred/stock-ledger/internal/ledger"
	"github.com/ksred/stock-ledger/internal/trading"
	"github.com/ksred/stock-ledger/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// configureLogging enables pretty printing outside production and debug
// logging when requested
func configureLogging(cfg config.Config) {
	if !cfg.Production() {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}
	zerolog.DefaultContextLogger = &zlog.Logger

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main runs the ledger API with saga recovery and graceful shutdown
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	configureLogging(cfg)

	loc, err := cfg.Location()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid ledger timezone")
	}

	db, err := database.NewDatabase(cfg.DatabasePath, cfg.MaxOpenConns)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	if cfg.SeedFile != "" {
		seed, err := database.LoadSeed(cfg.SeedFile)
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to load seed file")
		}
		inserted, err := seed.Apply(context.Background(), ledger.NewDatabase(db))
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to apply seed")
		}
		zlog.Info().Int("inserted", inserted).Str("file", cfg.SeedFile).Msg("Seed applied")
	}

	tradingService := trading.NewService(db, trading.Options{
		Location:    loc,
		Timeout:     cfg.TradeTimeout,
		MaxAttempts: cfg.TradeMaxAttempts,
	})
	tradingHandlers := trading.NewGinHandlers(tradingService)

	// Compensate anything a previous run left mid-trade, then keep watching
	recoveryProcessor := trading.NewProcessor(tradingService, cfg.SagaRecoveryInterval, cfg.SagaStaleAfter)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go recoveryProcessor.Start(processorCtx)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Correlation(), middleware.RequestLogger())

	setupRoutes(router, tradingHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		zlog.Info().Str("port", cfg.Port).Msg("Listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop recovery first so it does not race in-flight trades being drained
	processorCancel()

	// Give outstanding trades 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
func setupRoutes(router *gin.Engine, tradingHandlers *trading.GinHandlers) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	tradingHandlers.RegisterRoutes(router.Group("/api/v1"))
}
