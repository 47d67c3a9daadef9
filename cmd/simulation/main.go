package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/coin-rotator/internal/config"
	"github.com/ksred/coin-rotator/internal/exchange"
	"github.com/ksred/coin-rotator/internal/fulfillment"
	"github.com/ksred/coin-rotator/internal/storage"
	"github.com/ksred/coin-rotator/internal/trader"
)

const (
	numTicks      = 500
	tickInterval  = 20 * time.Millisecond
	bridgeBalance = 1000.0
	databasePath  = "simulation.db"
)

var seedPrices = map[string]float64{
	"BTCUSDT":  62000,
	"ETHUSDT":  2400,
	"SOLUSDT":  140,
	"ADAUSDT":  0.35,
	"DOGEUSDT": 0.1,
}

// init configures pretty logging for the simulation run.
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// scoutStats tracks per-tick scout durations for the closing summary.
type scoutStats struct {
	durations []time.Duration
	failures  int
}

func (s *scoutStats) record(d time.Duration, err error) {
	s.durations = append(s.durations, d)
	if err != nil {
		s.failures++
	}
}

func (s *scoutStats) calculate() (min, max, mean, p95 time.Duration) {
	if len(s.durations) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(s.durations, func(i, j int) bool {
		return s.durations[i] < s.durations[j]
	})
	min = s.durations[0]
	max = s.durations[len(s.durations)-1]
	var total time.Duration
	for _, d := range s.durations {
		total += d
	}
	mean = total / time.Duration(len(s.durations))
	p95 = s.durations[len(s.durations)*95/100]
	return min, max, mean, p95
}

// main runs an accelerated paper-trading session against the mock exchange
// and prints a trading summary. No real orders are placed.
func main() {
	cfg := simulationConfig()

	os.Remove(databasePath)
	gormDB, err := storage.Open(databasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation database")
	}
	db := storage.NewDatabase(gormDB)
	defer os.Remove(databasePath)

	gateway := exchange.NewMockGateway(seedPrices, cfg.BridgeAsset, bridgeBalance, log.Logger)
	monitor := fulfillment.NewMonitor(gateway, cfg.MonitorInterval, cfg.MonitorTimeout, cfg.MaxRetries, cfg.AcceptPartialFills, log.Logger)
	bot := trader.NewTrader(gateway, db, monitor, cfg, log.Logger)

	strategy, err := trader.NewStrategy(cfg.Strategy, bot)
	if err != nil {
		log.Fatal().Err(err).Msg("Unknown strategy")
	}
	if err := strategy.Initialize(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize strategy")
	}

	log.Info().
		Int("ticks", numTicks).
		Str("strategy", cfg.Strategy).
		Float64("bridge_balance", bridgeBalance).
		Msg("Starting simulation")

	stats := &scoutStats{}
	for i := 0; i < numTicks; i++ {
		start := time.Now()
		err := strategy.Scout()
		stats.record(time.Since(start), err)
		if err != nil {
			log.Warn().Err(err).Int("tick", i).Msg("Scout failed")
		}
		time.Sleep(tickInterval)
	}

	printSummary(db, bot, cfg, stats)
}

// simulationConfig builds an accelerated configuration without touching the
// environment, so a simulation run needs no .env or exchange credentials.
func simulationConfig() *config.Config {
	coins := []string{"ADA", "BTC", "DOGE", "ETH", "SOL"}
	strategy := os.Getenv("STRATEGY")
	if strategy == "" {
		strategy = "momentum"
	}
	return &config.Config{
		BridgeAsset:        "USDT",
		SupportedCoins:     coins,
		Strategy:           strategy,
		ScoutInterval:      tickInterval,
		SnapshotInterval:   time.Second,
		PruneInterval:      time.Minute,
		LookbackWindow:     5 * time.Second,
		MomentumThreshold:  0.5,
		BuyNotional:        100,
		NetProfitTarget:    0.005,
		AcceptPartialFills: false,
		TieBreak:           config.TieBreakBest,
		MonitorInterval:    10 * time.Millisecond,
		MonitorTimeout:     time.Second,
		MaxRetries:         3,
		DatabasePath:       databasePath,
	}
}

func printSummary(db *storage.Database, bot *trader.Trader, cfg *config.Config, stats *scoutStats) {
	profit, err := db.RealizedProfit()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read realized profit")
	}
	trades, err := db.RecentLedger(1000)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read trade ledger")
	}

	var buys, sells, failed int
	for _, trade := range trades {
		if trade.Status != "FILLED" {
			failed++
			continue
		}
		if trade.Side == "BUY" {
			buys++
		} else {
			sells++
		}
	}

	min, max, mean, p95 := stats.calculate()

	fmt.Println()
	fmt.Println("=== Simulation Summary ===")
	fmt.Printf("Strategy:        %s\n", cfg.Strategy)
	fmt.Printf("Ticks:           %d (%d scout failures)\n", len(stats.durations), stats.failures)
	fmt.Printf("Buys:            %d\n", buys)
	fmt.Printf("Sells:           %d\n", sells)
	fmt.Printf("Failed attempts: %d\n", failed)
	fmt.Printf("Realized profit: %.4f %s\n", profit, cfg.BridgeAsset)
	if pos := bot.Position(); pos != nil && pos.Holding() {
		fmt.Printf("Open position:   %.6f %s @ %.4f\n", pos.Quantity, pos.Coin, pos.EntryPrice)
	} else {
		fmt.Println("Open position:   none")
	}
	fmt.Printf("Scout latency:   min=%s max=%s mean=%s p95=%s\n", min, max, mean, p95)
}
