package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/coin-rotator/internal/auth"
	"github.com/ksred/coin-rotator/internal/config"
	"github.com/ksred/coin-rotator/internal/exchange"
	"github.com/ksred/coin-rotator/internal/fulfillment"
	"github.com/ksred/coin-rotator/internal/metrics"
	"github.com/ksred/coin-rotator/internal/scheduler"
	"github.com/ksred/coin-rotator/internal/status"
	"github.com/ksred/coin-rotator/internal/storage"
	"github.com/ksred/coin-rotator/internal/trader"
	"github.com/ksred/coin-rotator/pkg/middleware"
)

// init configures application logging. Development runs get pretty console
// output; DEBUG=true raises the global level.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main wires the trading loop, status API and background jobs, then blocks
// until an interrupt triggers graceful shutdown.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid configuration")
	}

	gormDB, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}
	db := storage.NewDatabase(gormDB)

	// Exchange gateway. A failed connectivity probe is fatal: trading with
	// an unreachable exchange would only accumulate scout failures.
	client := exchange.NewClient(cfg.APIKey, cfg.APISecret, cfg.Testnet, cfg.ConstraintsTTL, zlog.Logger)
	if err := client.TestConnection(); err != nil {
		zlog.Fatal().Err(err).Msg("Exchange connectivity check failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Live price stream; the REST ticker remains the fallback when the
	// stream is stale or disconnected.
	symbols := make([]string, 0, len(cfg.SupportedCoins))
	for _, coin := range cfg.SupportedCoins {
		symbols = append(symbols, cfg.Symbol(coin))
	}
	stream := exchange.NewStream(symbols, zlog.Logger)
	client.UseStream(stream)
	go stream.Run(ctx)

	monitor := fulfillment.NewMonitor(client, cfg.MonitorInterval, cfg.MonitorTimeout, cfg.MaxRetries, cfg.AcceptPartialFills, zlog.Logger)
	bot := trader.NewTrader(client, db, monitor, cfg, zlog.Logger)

	strategy, err := trader.NewStrategy(cfg.Strategy, bot)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Unknown strategy")
	}
	if err := strategy.Initialize(); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize strategy")
	}

	sched := scheduler.New(zlog.Logger)
	sched.OnFailure = metrics.IncJobFailure
	mustSchedule(sched, cfg.ScoutInterval, "scout", strategy.Scout)
	mustSchedule(sched, cfg.SnapshotInterval, "value_snapshot", bot.SnapshotValue)
	mustSchedule(sched, cfg.PruneInterval, "prune_history", bot.PruneHistory)
	go sched.Start(ctx)

	srv := statusServer(cfg, db)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()
	zlog.Info().
		Str("strategy", cfg.Strategy).
		Str("bridge", cfg.BridgeAsset).
		Strs("coins", cfg.SupportedCoins).
		Str("port", cfg.Port).
		Msg("Bot started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Bot exiting")
}

func mustSchedule(sched *scheduler.Scheduler, interval time.Duration, tag string, fn func() error) {
	if err := sched.Every(interval, tag, fn); err != nil {
		zlog.Fatal().Err(err).Str("tag", tag).Msg("Failed to schedule job")
	}
}

// statusServer builds the read-only HTTP API and metrics endpoint.
func statusServer(cfg *config.Config, db *storage.Database) *http.Server {
	if os.Getenv("ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(middleware.RateLimit())

	authService := auth.NewService(cfg.JWTSecret)
	authService.RegisterAPICredentials(cfg.StatusAPIKey, cfg.StatusAPISecret)
	authHandlers := auth.NewGinHandlers(authService)

	statusHandlers := status.NewGinHandlers(status.NewService(db))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/token", authHandlers.GenerateTokenHandler())
		}

		statusRoutes := v1.Group("/status")
		statusRoutes.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			statusRoutes.GET("/position", statusHandlers.GetPositionHandler())
			statusRoutes.GET("/prices/:symbol", statusHandlers.GetPricesHandler())
			statusRoutes.GET("/ledger", statusHandlers.GetLedgerHandler())
			statusRoutes.GET("/value", statusHandlers.GetValueHandler())
		}
	}

	return &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
}
