package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/breaker"
	"main/internal/broker"
	"main/internal/engine"
	"main/internal/reconcile"

	"github.com/shopspring/decimal"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Bot       BotConfig       `json:"bot"`
	Broker    BrokerConfig    `json:"broker"`
	Stream    StreamConfig    `json:"stream"`
	Engine    EngineConfig    `json:"engine"`
	Breaker   BreakerConfig   `json:"breaker"`
	Reconcile ReconcileConfig `json:"reconcile"`
	Journal   JournalConfig   `json:"journal"`
	Profile   ProfileConfig   `json:"profile"`
}

// BotConfig identifies this process and its working files.
type BotConfig struct {
	ID           string `json:"id"`
	Underlying   string `json:"underlying"`
	RegistryPath string `json:"registryPath"`
	SnapshotPath string `json:"snapshotPath"`
}

// BrokerConfig holds the REST transport settings.
type BrokerConfig struct {
	BaseURL        string `json:"baseUrl"`
	AccountID      string `json:"accountId"`
	ClientID       string `json:"clientId"`
	ClientSecret   string `json:"clientSecret"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// StreamConfig holds the quote streamer settings.
type StreamConfig struct {
	URL string `json:"url"`
}

// EngineConfig tunes the execution budgets.
type EngineConfig struct {
	LegRetries        int    `json:"legRetries"`
	CloseRetries      int    `json:"closeRetries"`
	RetryDelaySeconds int    `json:"retryDelaySeconds"`
	Slippage          string `json:"slippage"`
}

// BreakerConfig tunes the circuit breaker thresholds.
type BreakerConfig struct {
	WindowSize           int `json:"windowSize"`
	WindowThreshold      int `json:"windowThreshold"`
	ConsecutiveThreshold int `json:"consecutiveThreshold"`
	CooldownMinutes      int `json:"cooldownMinutes"`
	SessionTripLimit     int `json:"sessionTripLimit"`
}

// ReconcileConfig spaces the periodic reconciliation runs.
type ReconcileConfig struct {
	IntervalMinutes int `json:"intervalMinutes"`
}

// JournalConfig enables the optional trade journal sink.
type JournalConfig struct {
	DSN string `json:"dsn"`
}

// ProfileConfig enables the optional continuous profiler.
type ProfileConfig struct {
	Enabled   bool   `json:"enabled"`
	ServerURL string `json:"serverUrl"`
}

// Loaded is the resolved configuration ready for wiring.
type Loaded struct {
	BotID        string
	Underlying   string
	RegistryPath string
	SnapshotPath string
	StreamURL    string
	JournalDSN   string
	Profile      ProfileConfig

	Broker    broker.Config
	Engine    engine.Config
	Breaker   breaker.Config
	Reconcile reconcile.Config
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}

	if err := validateBot(cfg.Bot); err != nil {
		return Loaded{}, err
	}
	brokerCfg, err := resolveBroker(cfg.Broker)
	if err != nil {
		return Loaded{}, err
	}
	engineCfg, err := resolveEngine(cfg.Engine)
	if err != nil {
		return Loaded{}, err
	}

	return Loaded{
		BotID:        cfg.Bot.ID,
		Underlying:   cfg.Bot.Underlying,
		RegistryPath: cfg.Bot.RegistryPath,
		SnapshotPath: cfg.Bot.SnapshotPath,
		StreamURL:    cfg.Stream.URL,
		JournalDSN:   cfg.Journal.DSN,
		Profile:      cfg.Profile,
		Broker:       brokerCfg,
		Engine:       engineCfg,
		Breaker:      resolveBreaker(cfg.Breaker),
		Reconcile: reconcile.Config{
			BotID:      cfg.Bot.ID,
			Underlying: cfg.Bot.Underlying,
			Interval:   minutesOr(cfg.Reconcile.IntervalMinutes, 5),
		},
	}, nil
}

func validateBot(cfg BotConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("bot id is empty")
	}
	if cfg.Underlying == "" {
		return fmt.Errorf("bot underlying is empty")
	}
	if cfg.RegistryPath == "" {
		return fmt.Errorf("bot registryPath is empty")
	}
	if cfg.SnapshotPath == "" {
		return fmt.Errorf("bot snapshotPath is empty")
	}
	return nil
}

func resolveBroker(cfg BrokerConfig) (broker.Config, error) {
	if cfg.BaseURL == "" {
		return broker.Config{}, fmt.Errorf("broker baseUrl is empty")
	}
	if cfg.AccountID == "" {
		return broker.Config{}, fmt.Errorf("broker accountId is empty")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return broker.Config{}, fmt.Errorf("broker credentials are empty")
	}
	timeout := 10 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return broker.Config{
		BaseURL:      cfg.BaseURL,
		AccountID:    cfg.AccountID,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Timeout:      timeout,
	}, nil
}

func resolveEngine(cfg EngineConfig) (engine.Config, error) {
	out := engine.DefaultConfig()
	if cfg.LegRetries > 0 {
		out.LegRetries = cfg.LegRetries
	}
	if cfg.CloseRetries > 0 {
		out.CloseRetries = cfg.CloseRetries
	}
	if cfg.RetryDelaySeconds > 0 {
		out.RetryDelay = time.Duration(cfg.RetryDelaySeconds) * time.Second
	}
	if cfg.Slippage != "" {
		slippage, err := decimal.NewFromString(cfg.Slippage)
		if err != nil {
			return engine.Config{}, fmt.Errorf("invalid engine slippage %q: %w", cfg.Slippage, err)
		}
		if slippage.IsNegative() {
			return engine.Config{}, fmt.Errorf("engine slippage must be >= 0")
		}
		out.Slippage = slippage
	}
	return out, nil
}

func resolveBreaker(cfg BreakerConfig) breaker.Config {
	out := breaker.DefaultConfig()
	if cfg.WindowSize > 0 {
		out.WindowSize = cfg.WindowSize
	}
	if cfg.WindowThreshold > 0 {
		out.WindowThreshold = cfg.WindowThreshold
	}
	if cfg.ConsecutiveThreshold > 0 {
		out.ConsecutiveThreshold = cfg.ConsecutiveThreshold
	}
	if cfg.CooldownMinutes > 0 {
		out.Cooldown = time.Duration(cfg.CooldownMinutes) * time.Minute
	}
	if cfg.SessionTripLimit > 0 {
		out.SessionTripLimit = cfg.SessionTripLimit
	}
	return out
}

func minutesOr(minutes, fallback int) time.Duration {
	if minutes <= 0 {
		minutes = fallback
	}
	return time.Duration(minutes) * time.Minute
}
