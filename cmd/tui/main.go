package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/singatoshi/bnb-trading-agent/internal/config"
	"github.com/singatoshi/bnb-trading-agent/internal/market"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== Trading Agent Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit session")
		fmt.Println("3) Edit loop, signal and risk knobs")
		fmt.Println("4) Save config")
		fmt.Println("5) Probe thresholds")
		fmt.Println("6) Launch agent")
		fmt.Println("7) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editSession(reader, cfg)
		case "3":
			editLoop(reader, cfg)
		case "4":
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
			}
			if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "5":
			run(reader, "./cmd/probe", false)
		case "6":
			run(reader, "./cmd/agent", true)
		case "7":
			reloaded, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Symbol: %s | investment: %s\n", cfg.Session.Symbol, cfg.Session.Investment)
	end := cfg.Session.End
	if end == "" {
		end = "now"
	}
	fmt.Printf("Window: %s -> %s @ %s\n", cfg.Session.Start, end, cfg.Session.Interval)
	fmt.Printf("Poll interval: %dms | reinvest: %s | buy buffer: %.1f bps\n", cfg.Loop.PollIntervalMs, cfg.Loop.Reinvest, cfg.Loop.BuyBufferBps)
	fmt.Printf("Signal: %s (threshold %.4f, window %ds)\n", cfg.Signal.Mode, cfg.Signal.Threshold, cfg.Signal.WindowSecs)
	fmt.Printf("Guard: %s (max jitter %dms)\n", cfg.Guard.Mode, cfg.Guard.MaxJitterMs)
	fmt.Printf("Venue: %s | price source: %s\n", cfg.Venue.Mode, cfg.Exchange.PriceSource)
	fmt.Printf("Per-trade notional cap: $%.2f\n", cfg.Risk.MaxNotionalPerTrade)
	fmt.Printf("Paper slippage: %.1f bps | max latency: %dms\n", cfg.Paper.SlippageBps, cfg.Paper.MaxLatencyMs)
}

func editSession(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Session ---")
	cfg.Session.Symbol = strings.ToUpper(promptString(reader, "Symbol", cfg.Session.Symbol))
	cfg.Session.Investment = promptString(reader, "Investment", cfg.Session.Investment)
	cfg.Session.Start = promptDate(reader, "Start (dd/mm/yyyy)", cfg.Session.Start)
	cfg.Session.End = promptDate(reader, "End (dd/mm/yyyy, '-' for now)", cfg.Session.End)
	for {
		interval := strings.ToUpper(promptString(reader, "Interval (e.g. 1MINUTE, 30MINUTE, 1WEEK)", cfg.Session.Interval))
		if _, err := market.ParseInterval(interval); err != nil {
			fmt.Println(err)
			continue
		}
		cfg.Session.Interval = interval
		return
	}
}

func editLoop(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Loop / Signal / Risk ---")
	cfg.Loop.PollIntervalMs = int(promptFloat(reader, "Poll interval (ms)", float64(cfg.Loop.PollIntervalMs)))
	cfg.Loop.Reinvest = promptString(reader, "Reinvest policy (all|principal)", cfg.Loop.Reinvest)
	cfg.Loop.BuyBufferBps = promptFloat(reader, "Buy buffer (bps)", cfg.Loop.BuyBufferBps)
	cfg.Signal.Mode = promptString(reader, "Signal mode (none|volatility|trend)", cfg.Signal.Mode)
	cfg.Signal.Threshold = promptFloat(reader, "Signal threshold", cfg.Signal.Threshold)
	cfg.Guard.Mode = promptString(reader, "Guard mode (noop|signer)", cfg.Guard.Mode)
	cfg.Venue.Mode = promptString(reader, "Venue (paper|binance|alpaca)", cfg.Venue.Mode)
	cfg.Risk.MaxNotionalPerTrade = promptFloat(reader, "Max notional per trade (0 = off)", cfg.Risk.MaxNotionalPerTrade)
}

func run(reader *bufio.Reader, pkg string, interactive bool) {
	fmt.Printf("Running %s (Ctrl+C to stop)...\n", pkg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", pkg, "-config", locateConfig())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if !interactive {
		if err := cmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "%s failed: %v\n", pkg, err)
		}
		return
	}

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start agent: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the agent and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptString(reader *bufio.Reader, label, current string) string {
	fmt.Printf("%s [%s]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	return line
}

func promptDate(reader *bufio.Reader, label, current string) string {
	for {
		v := promptString(reader, label, current)
		if v == "-" {
			return ""
		}
		if v == "" {
			return v
		}
		if _, err := market.ParseDate(v); err != nil {
			fmt.Println(err)
			continue
		}
		return v
	}
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

func saveConfig(cfg *config.Config) error {
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if filepath.IsAbs(defaultConfigPath) {
		return defaultConfigPath
	}
	return filepath.Clean(defaultConfigPath)
}
