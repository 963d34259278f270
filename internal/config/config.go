// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/singatoshi/bnb-trading-agent/internal/market"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Exchange describes the Binance connectivity parameters used for prices, lot rules and live orders.
type Exchange struct {
	BaseURL      string `yaml:"base_url"`
	StreamURL    string `yaml:"stream_url"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	Testnet      bool   `yaml:"testnet"`
	TimeoutMs    int    `yaml:"timeout_ms"`
	RecvWindowMs int    `yaml:"recv_window_ms"` // signed request validity, 5000 when zero
	PriceSource  string `yaml:"price_source"`   // rest|stream
}

// Session holds the per-run trading parameters. Dates use dd/mm/yyyy.
type Session struct {
	Symbol     string `yaml:"symbol"`
	Investment string `yaml:"investment"`
	Start      string `yaml:"start"`
	End        string `yaml:"end"`
	Interval   string `yaml:"interval"`
}

// Loop tunes the trading loop.
type Loop struct {
	PollIntervalMs int     `yaml:"poll_interval_ms"`
	Reinvest       string  `yaml:"reinvest"` // all|principal
	BuyBufferBps   float64 `yaml:"buy_buffer_bps"`
}

// Signal selects the optional signal source gating trades.
type Signal struct {
	Mode       string  `yaml:"mode"` // none|volatility|trend
	Threshold  float64 `yaml:"threshold"`
	WindowSecs int     `yaml:"window_secs"`
}

// Guard selects the order guard wrapping every order.
type Guard struct {
	Mode             string `yaml:"mode"` // noop|signer
	MaxJitterMs      int    `yaml:"max_jitter_ms"`
	PrivateKeyBase58 string `yaml:"private_key_base58"`
}

// Venue picks where orders are sent.
type Venue struct {
	Mode string `yaml:"mode"` // paper|binance|alpaca
}

// Risk encodes guard-rails for how much size the executor may take on.
type Risk struct {
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade"`
}

// Paper captures paper-trading execution tuning.
type Paper struct {
	SlippageBps  float64 `yaml:"slippage_bps"`
	MaxLatencyMs int     `yaml:"max_latency_ms"`
	MaxPosition  float64 `yaml:"max_position"`
}

// Alpaca configures the Alpaca broker venue.
type Alpaca struct {
	BaseURL       string `yaml:"base_url"`
	Symbol        string `yaml:"symbol"`
	APIKey        string `yaml:"api_key"`
	APISecret     string `yaml:"api_secret"`
	FillTimeoutMs int    `yaml:"fill_timeout_ms"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	Session  Session  `yaml:"session"`
	Loop     Loop     `yaml:"loop"`
	Signal   Signal   `yaml:"signal"`
	Guard    Guard    `yaml:"guard"`
	Venue    Venue    `yaml:"venue"`
	Risk     Risk     `yaml:"risk"`
	Paper    Paper    `yaml:"paper"`
	Alpaca   Alpaca   `yaml:"alpaca"`
}

// Load reads a YAML file from disk and hydrates a Config struct with defaults applied.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.ApplyDefaults()
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "bnb-trading-agent"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogFormat == "" {
		c.App.LogFormat = "json"
	}
	if c.Exchange.TimeoutMs <= 0 {
		c.Exchange.TimeoutMs = 10000
	}
	if c.Exchange.PriceSource == "" {
		c.Exchange.PriceSource = "rest"
	}
	c.Session.Symbol = strings.ToUpper(strings.TrimSpace(c.Session.Symbol))
	if c.Loop.PollIntervalMs <= 0 {
		c.Loop.PollIntervalMs = 2000
	}
	if c.Loop.Reinvest == "" {
		c.Loop.Reinvest = "all"
	}
	if c.Signal.Mode == "" {
		c.Signal.Mode = "none"
	}
	if c.Signal.WindowSecs <= 0 {
		c.Signal.WindowSecs = 300
	}
	if c.Guard.Mode == "" {
		c.Guard.Mode = "noop"
	}
	if c.Venue.Mode == "" {
		c.Venue.Mode = "paper"
	}
	if c.Alpaca.FillTimeoutMs <= 0 {
		c.Alpaca.FillTimeoutMs = 30000
	}
}

// Validate reports configuration that cannot start a session.
func (c *Config) Validate() error {
	var errs []error
	if c.Session.Symbol == "" {
		errs = append(errs, errors.New("session.symbol is required"))
	}
	if c.Session.Investment == "" {
		errs = append(errs, errors.New("session.investment is required"))
	}
	if c.Session.Start == "" {
		errs = append(errs, errors.New("session.start is required"))
	}
	if c.Session.Interval == "" {
		errs = append(errs, errors.New("session.interval is required"))
	} else if _, err := market.ParseInterval(c.Session.Interval); err != nil {
		errs = append(errs, fmt.Errorf("session.interval: %w", err))
	}
	switch c.Exchange.PriceSource {
	case "rest", "stream":
	default:
		errs = append(errs, fmt.Errorf("exchange.price_source %q must be rest or stream", c.Exchange.PriceSource))
	}
	switch c.Loop.Reinvest {
	case "all", "principal":
	default:
		errs = append(errs, fmt.Errorf("loop.reinvest %q must be all or principal", c.Loop.Reinvest))
	}
	switch c.Guard.Mode {
	case "noop", "signer":
	default:
		errs = append(errs, fmt.Errorf("guard.mode %q must be noop or signer", c.Guard.Mode))
	}
	switch c.Venue.Mode {
	case "paper":
	case "binance":
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			errs = append(errs, errors.New("binance venue requires exchange api credentials"))
		}
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			errs = append(errs, errors.New("alpaca venue requires alpaca api credentials"))
		}
	default:
		errs = append(errs, fmt.Errorf("venue.mode %q must be paper, binance or alpaca", c.Venue.Mode))
	}
	if c.Risk.MaxNotionalPerTrade < 0 {
		errs = append(errs, errors.New("risk.max_notional_per_trade must not be negative"))
	}
	return errors.Join(errs...)
}

// ApplyEnv loads envFile (best-effort, ".env" when empty) and overlays credentials from the
// process environment. Values already present in the environment win over the file, and the
// BINANCE_-prefixed names win over the bare API_KEY/API_SECRET.
func (c *Config) ApplyEnv(envFile string) {
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile) // best-effort

	overlay := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	overlay(&c.Exchange.APIKey, "API_KEY")
	overlay(&c.Exchange.APISecret, "API_SECRET")
	overlay(&c.Exchange.APIKey, "BINANCE_API_KEY")
	overlay(&c.Exchange.APISecret, "BINANCE_API_SECRET")
	overlay(&c.Alpaca.APIKey, "APCA_API_KEY_ID")
	overlay(&c.Alpaca.APISecret, "APCA_API_SECRET_KEY")
	overlay(&c.Guard.PrivateKeyBase58, "GUARD_PRIVATE_KEY_BASE58")
}
