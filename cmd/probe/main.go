package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/singatoshi/bnb-trading-agent/internal/config"
	"github.com/singatoshi/bnb-trading-agent/internal/exchange"
	"github.com/singatoshi/bnb-trading-agent/internal/trader"
	"github.com/singatoshi/bnb-trading-agent/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	log := util.NewLogger("warn", "console")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
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

	baseURL := cfg.Exchange.BaseURL
	if baseURL == "" && cfg.Exchange.Testnet {
		baseURL = exchange.TestnetBaseURL
	}
	client := exchange.NewClient(baseURL, log, exchange.WithTimeout(time.Duration(cfg.Exchange.TimeoutMs)*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	stats, err := client.HistoricalStats(ctx, session.Symbol(), session.Window(), session.Interval())
	if err != nil {
		log.Fatal().Err(err).Msg("historical stats")
	}
	lot := client.LotConstraint(ctx, session.Symbol())
	price, err := client.CurrentPrice(ctx, session.Symbol())
	if err != nil {
		log.Fatal().Err(err).Msg("current price")
	}

	qty := trader.QuantityBuy(lot.MinQty, price, session.Investment(), lot.StepSize)
	w := os.Stdout
	fmt.Fprintf(w, "symbol      %s (%s candles from %s)\n", session.Symbol(), session.Interval(), session.Window().Start.Format(time.DateOnly))
	fmt.Fprintf(w, "samples     %d\n", stats.Samples)
	fmt.Fprintf(w, "min mean    %s (buy at or below)\n", stats.MinMean.StringFixed(8))
	fmt.Fprintf(w, "max mean    %s (sell at or above)\n", stats.MaxMean.StringFixed(8))
	fmt.Fprintf(w, "lot         min %s step %s\n", lot.MinQty, lot.StepSize)
	fmt.Fprintf(w, "price       %s\n", price)
	fmt.Fprintf(w, "buy qty     %s for %s\n", qty, session.Investment())
	switch {
	case price.LessThanOrEqual(stats.MinMean):
		fmt.Fprintln(w, "signal      buy zone")
	case price.GreaterThanOrEqual(stats.MaxMean):
		fmt.Fprintln(w, "signal      sell zone")
	default:
		fmt.Fprintln(w, "signal      hold")
	}
}
