package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/singatoshi/bnb-trading-agent/internal/broker"
	"github.com/singatoshi/bnb-trading-agent/internal/config"
	"github.com/singatoshi/bnb-trading-agent/internal/exchange"
	"github.com/singatoshi/bnb-trading-agent/internal/execution"
	"github.com/singatoshi/bnb-trading-agent/internal/guard"
	"github.com/singatoshi/bnb-trading-agent/internal/metrics"
	"github.com/singatoshi/bnb-trading-agent/internal/paper"
	"github.com/singatoshi/bnb-trading-agent/internal/risk"
	"github.com/singatoshi/bnb-trading-agent/internal/strategy"
	"github.com/singatoshi/bnb-trading-agent/internal/trader"
	"github.com/singatoshi/bnb-trading-agent/internal/util"
)

type oracle interface {
	trader.PriceOracle
	trader.LotRules
}

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	envFile := flag.String("env", ".env", "dotenv file with credentials")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := util.NewLogger("info", "json")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	cfg.ApplyEnv(*envFile)
	log := util.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat).With().Str("app", cfg.App.Name).Str("env", cfg.App.Env).Logger()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	session, err := trader.NewSession(trader.SessionParams{
		Symbol:     cfg.Session.Symbol,
		Investment: cfg.Session.Investment,
		Start:      cfg.Session.Start,
		End:        cfg.Session.End,
		Interval:   cfg.Session.Interval,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("session")
	}
	reinvest, err := trader.ParseReinvest(cfg.Loop.Reinvest)
	if err != nil {
		log.Fatal().Err(err).Msg("reinvest policy")
	}

	var metricsSrv *http.Server
	if cfg.App.MetricsAddr != "" {
		metricsSrv = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rest := newRESTClient(cfg, log)
	var prices oracle = rest
	if cfg.Exchange.PriceSource == "stream" {
		feed := exchange.NewFeed(exchange.ProviderBinance, []string{session.Symbol()}, log, exchange.WithStreamURL(cfg.Exchange.StreamURL))
		stream := exchange.NewStreamOracle(rest, feed, 0)
		stream.Start(ctx)
		prices = stream
	}

	venue, err := buildVenue(cfg, session, rest, log)
	if err != nil {
		log.Fatal().Err(err).Msg("venue")
	}
	orderGuard, err := guard.Build(cfg.Guard.Mode, cfg.Guard.PrivateKeyBase58, time.Duration(cfg.Guard.MaxJitterMs)*time.Millisecond, log)
	if err != nil {
		log.Fatal().Err(err).Msg("order guard")
	}
	source, err := strategy.Build(cfg.Signal.Mode, strategy.Params{Threshold: cfg.Signal.Threshold})
	if err != nil {
		log.Fatal().Err(err).Msg("signal source")
	}

	ledger := paper.NewLedger(1024)
	exec := execution.NewExecutor(venue, log,
		execution.WithGuard(orderGuard),
		execution.WithLimits(risk.Limits{MaxNotionalPerTrade: decimal.NewFromFloat(cfg.Risk.MaxNotionalPerTrade)}),
		execution.WithRecorder(ledger),
		execution.WithRunID(cfg.App.Name),
	)

	loop := trader.NewLoop(session, prices, prices, exec, log,
		trader.WithPollInterval(time.Duration(cfg.Loop.PollIntervalMs)*time.Millisecond),
		trader.WithSignalSource(source, time.Duration(cfg.Signal.WindowSecs)*time.Second),
		trader.WithReinvest(reinvest),
		trader.WithBuyBuffer(cfg.Loop.BuyBufferBps),
	)

	log.Info().
		Str("sym", session.Symbol()).
		Str("investment", session.Investment().String()).
		Str("interval", session.Interval().String()).
		Str("venue", venue.Name()).
		Str("guard", cfg.Guard.Mode).
		Str("signal", cfg.Signal.Mode).
		Msg("trading agent started")

	err = loop.Run(ctx)
	if shutdownErr := metrics.Shutdown(metricsSrv, 5*time.Second); shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("metrics shutdown")
	}
	st := loop.State()
	log.Info().
		Str("mode", st.Mode.String()).
		Str("held", st.Held.String()).
		Str("investment", st.Investment.String()).
		Str("proceeds", st.Proceeds.String()).
		Str("residual", st.Residual.String()).
		Int("fills", len(ledger.Snapshot())).
		Str("net_quote", ledger.NetQuote().String()).
		Msg("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("loop stopped")
	}
}

func newRESTClient(cfg *config.Config, log zerolog.Logger) *exchange.Client {
	baseURL := cfg.Exchange.BaseURL
	if baseURL == "" && cfg.Exchange.Testnet {
		baseURL = exchange.TestnetBaseURL
	}
	return exchange.NewClient(baseURL, log,
		exchange.WithCredentials(cfg.Exchange.APIKey, cfg.Exchange.APISecret),
		exchange.WithTimeout(time.Duration(cfg.Exchange.TimeoutMs)*time.Millisecond),
		exchange.WithRecvWindow(time.Duration(cfg.Exchange.RecvWindowMs)*time.Millisecond),
	)
}

func buildVenue(cfg *config.Config, session trader.Session, rest *exchange.Client, log zerolog.Logger) (execution.Venue, error) {
	switch cfg.Venue.Mode {
	case "binance":
		return rest, nil
	case "alpaca":
		return broker.NewVenue(broker.Config{
			APIKey:      cfg.Alpaca.APIKey,
			APISecret:   cfg.Alpaca.APISecret,
			BaseURL:     cfg.Alpaca.BaseURL,
			Symbol:      cfg.Alpaca.Symbol,
			FillTimeout: time.Duration(cfg.Alpaca.FillTimeoutMs) * time.Millisecond,
		}, log)
	default:
		opts := []paper.Option{
			paper.WithSlippageBps(cfg.Paper.SlippageBps),
			paper.WithMaxLatency(time.Duration(cfg.Paper.MaxLatencyMs) * time.Millisecond),
		}
		if cfg.Paper.MaxPosition > 0 {
			opts = append(opts, paper.WithMaxPosition(decimal.NewFromFloat(cfg.Paper.MaxPosition)))
		}
		return paper.NewAccount(session.Investment(), opts...), nil
	}
}
