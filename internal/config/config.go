package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// TieBreakPolicy decides which symbol wins when several signal BUY on the
// same scout tick.
type TieBreakPolicy string

const (
	// TieBreakFirst picks the first symbol in lexicographic order.
	TieBreakFirst TieBreakPolicy = "first"
	// TieBreakBest picks the symbol with the largest window change.
	TieBreakBest TieBreakPolicy = "best"
)

// Config holds all runtime settings for the bot. Values are read from the
// environment (optionally seeded from a .env file) and validated once at
// startup; validation failures are fatal before any trading begins.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool

	BridgeAsset    string
	SupportedCoins []string
	InitialCoin    string
	Strategy       string

	ScoutInterval     time.Duration
	SnapshotInterval  time.Duration
	PruneInterval     time.Duration
	LookbackWindow    time.Duration
	MomentumThreshold float64 // percent rise over the lookback window that triggers a BUY
	BuyNotional       float64 // bridge-asset amount spent per entry
	NetProfitTarget   float64 // desired net profit fraction after round-trip fees

	AcceptPartialFills bool
	TieBreak           TieBreakPolicy

	MonitorInterval time.Duration
	MonitorTimeout  time.Duration
	MaxRetries      int

	ConstraintsTTL time.Duration

	DatabasePath    string
	Port            string
	JWTSecret       string
	StatusAPIKey    string
	StatusAPISecret string
}

// Load reads configuration from the environment. A .env file in the working
// directory is honoured when present.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments export variables directly.
	_ = godotenv.Load()

	cfg := &Config{
		APIKey:             os.Getenv("API_KEY"),
		APISecret:          os.Getenv("API_SECRET"),
		Testnet:            envBool("TESTNET", false),
		BridgeAsset:        envString("BRIDGE_ASSET", "USDT"),
		InitialCoin:        os.Getenv("INITIAL_COIN"),
		Strategy:           envString("STRATEGY", "momentum"),
		ScoutInterval:      envDuration("SCOUT_INTERVAL", 5*time.Second),
		SnapshotInterval:   envDuration("SNAPSHOT_INTERVAL", time.Minute),
		PruneInterval:      envDuration("PRUNE_INTERVAL", time.Hour),
		LookbackWindow:     envDuration("LOOKBACK_WINDOW", 15*time.Minute),
		MomentumThreshold:  envFloat("MOMENTUM_THRESHOLD", 2.0),
		BuyNotional:        envFloat("BUY_NOTIONAL", 20),
		NetProfitTarget:    envFloat("NET_PROFIT_TARGET", 0.01),
		AcceptPartialFills: envBool("ACCEPT_PARTIAL_FILLS", false),
		TieBreak:           TieBreakPolicy(envString("TIE_BREAK", string(TieBreakFirst))),
		MonitorInterval:    envDuration("MONITOR_INTERVAL", 2*time.Second),
		MonitorTimeout:     envDuration("MONITOR_TIMEOUT", 30*time.Second),
		MaxRetries:         envInt("MAX_RETRIES", 3),
		ConstraintsTTL:     envDuration("CONSTRAINTS_TTL", time.Hour),
		DatabasePath:       envString("DATABASE_PATH", "rotator.db"),
		Port:               envString("PORT", "8080"),
		JWTSecret:          envString("JWT_SECRET", "rotator-secret-key"),
		StatusAPIKey:       envString("STATUS_API_KEY", "status-api-key"),
		StatusAPISecret:    envString("STATUS_API_SECRET", "status-api-secret"),
	}

	for _, coin := range strings.Split(os.Getenv("SUPPORTED_COINS"), ",") {
		coin = strings.ToUpper(strings.TrimSpace(coin))
		if coin != "" {
			cfg.SupportedCoins = append(cfg.SupportedCoins, coin)
		}
	}
	// Deterministic iteration order is relied on by the tie-break policy.
	sort.Strings(cfg.SupportedCoins)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIKey == "" || c.APISecret == "" {
		return fmt.Errorf("configuration: API_KEY and API_SECRET are required")
	}
	if len(c.SupportedCoins) == 0 {
		return fmt.Errorf("configuration: SUPPORTED_COINS must list at least one coin")
	}
	if c.InitialCoin != "" && !c.Supports(c.InitialCoin) {
		return fmt.Errorf("configuration: INITIAL_COIN %q is not in SUPPORTED_COINS", c.InitialCoin)
	}
	if c.Strategy == "" {
		return fmt.Errorf("configuration: STRATEGY must not be empty")
	}
	if c.MomentumThreshold <= 0 {
		return fmt.Errorf("configuration: MOMENTUM_THRESHOLD must be positive, got %v", c.MomentumThreshold)
	}
	if c.BuyNotional <= 0 {
		return fmt.Errorf("configuration: BUY_NOTIONAL must be positive, got %v", c.BuyNotional)
	}
	if c.NetProfitTarget < 0 {
		return fmt.Errorf("configuration: NET_PROFIT_TARGET must not be negative, got %v", c.NetProfitTarget)
	}
	if c.TieBreak != TieBreakFirst && c.TieBreak != TieBreakBest {
		return fmt.Errorf("configuration: TIE_BREAK must be %q or %q, got %q", TieBreakFirst, TieBreakBest, c.TieBreak)
	}
	if c.MonitorTimeout >= c.ScoutInterval*12 {
		// The monitor blocks its scheduled job; an oversized timeout starves
		// every other job for its duration.
		return fmt.Errorf("configuration: MONITOR_TIMEOUT %v is too large relative to SCOUT_INTERVAL %v", c.MonitorTimeout, c.ScoutInterval)
	}
	return nil
}

// Supports reports whether coin is in the supported set.
func (c *Config) Supports(coin string) bool {
	for _, s := range c.SupportedCoins {
		if s == coin {
			return true
		}
	}
	return false
}

// Symbol returns the trading pair for a supported coin against the bridge.
func (c *Config) Symbol(coin string) string {
	return coin + c.BridgeAsset
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare numbers are treated as seconds, matching older deployments.
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return fallback
}
