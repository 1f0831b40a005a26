package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rxtech-lab/gridhedge/internal/broker/paper"
	"github.com/rxtech-lab/gridhedge/internal/config"
	"github.com/rxtech-lab/gridhedge/internal/engine"
	"github.com/rxtech-lab/gridhedge/internal/journal"
	"github.com/rxtech-lab/gridhedge/internal/logger"
)

func main() {
	configFlag := flag.String("config", "", "Path to YAML configuration file (default settings when omitted)")
	balanceFlag := flag.Float64("balance", 10000, "Paper account starting balance")
	priceFlag := flag.Float64("price", 2650.00, "Paper feed starting price")
	walkFlag := flag.Float64("walk", 5, "Paper feed random walk step, in pips")
	journalFlag := flag.String("journal", "", "Journal database path (overrides config, empty keeps in-memory)")
	exportFlag := flag.String("export", "", "Directory for Parquet journal export on shutdown")
	seedFlag := flag.Int64("seed", 0, "Paper feed random seed (0 uses the clock)")

	flag.Parse()

	cfg := config.DefaultConfig()

	if *configFlag != "" {
		loaded, err := config.LoadConfig(*configFlag)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}

		cfg = *loaded
	}

	if *journalFlag != "" {
		cfg.JournalPath = *journalFlag
	}

	zl, err := logger.NewLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	jr, err := journal.NewJournal(cfg.JournalPath, zl)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	defer jr.Close()

	gateway := paper.NewGateway(cfg.Symbol, *balanceFlag)
	gateway.SetPrice(*priceFlag, time.Now())

	bot := engine.NewBot(&cfg, gateway, jr, zl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, stopping...")
		cancel()
	}()

	seed := *seedFlag
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	go feedPrices(ctx, gateway, &cfg, *priceFlag, *walkFlag, seed)

	zl.Info("paper trading session starting",
		zap.String("symbol", cfg.Symbol),
		zap.Float64("balance", *balanceFlag),
		zap.Float64("price", *priceFlag))

	if err := bot.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Bot error: %v", err)
	}

	printSummary(jr, cfg.Symbol)

	if *exportFlag != "" {
		if err := jr.Export(*exportFlag); err != nil {
			zl.Warn("journal export failed", zap.Error(err))
		}
	}
}

// feedPrices drives the paper gateway with a random walk around the start
// price, one step per tick interval.
func feedPrices(ctx context.Context, gateway *paper.Gateway, cfg *config.Config, start, walkPips float64, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	price := start

	ticker := time.NewTicker(cfg.TickInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			price += (rng.Float64()*2 - 1) * cfg.PipsToPrice(walkPips)
			if price <= 0 {
				price = start
			}

			gateway.SetPrice(price, now)
		}
	}
}

func printSummary(jr *journal.Journal, symbol string) {
	stats, err := jr.Stats(symbol)
	if err != nil {
		fmt.Printf("Failed to compute session stats: %v\n", err)

		return
	}

	fmt.Printf("Session summary for %s\n", symbol)
	fmt.Printf("  closes:      %d (%d won / %d lost, win rate %.1f%%)\n",
		stats.Closes, stats.Winning, stats.Losing, stats.WinRate*100)
	fmt.Printf("  net profit:  %.2f (grid %.2f / hedge %.2f)\n",
		stats.NetProfit, stats.GridProfit, stats.HedgeProfit)
	fmt.Printf("  best/worst:  %.2f / %.2f\n", stats.MaxProfit, stats.MaxLoss)
}
