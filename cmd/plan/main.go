package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rxtech-lab/gridhedge/internal/advisor"
	"github.com/rxtech-lab/gridhedge/internal/autoconfig"
	"github.com/rxtech-lab/gridhedge/internal/broker/paper"
	"github.com/rxtech-lab/gridhedge/internal/config"
	"github.com/rxtech-lab/gridhedge/internal/logger"
	"github.com/rxtech-lab/gridhedge/internal/types"
)

func main() {
	modeFlag := flag.String("mode", "atr", "Planning mode: atr, resilience")
	configFlag := flag.String("config", "", "Path to YAML configuration file (default settings when omitted)")
	candlesFlag := flag.String("candles", "", "CSV candle file for ATR mode: time,open,high,low,close,volume")
	profileFlag := flag.String("risk-profile", "moderate", "Risk profile: very_conservative, conservative, moderate, aggressive, very_aggressive")
	balanceFlag := flag.Float64("balance", 10000, "Account balance")
	priceFlag := flag.Float64("price", 2650.00, "Current price")
	distanceFlag := flag.Float64("target-distance", 5000, "Resilience mode: adverse move to survive, in pips")
	drawdownFlag := flag.Float64("drawdown-ratio", 0.6, "Resilience mode: balance fraction allowed as open loss")
	maxLevelsFlag := flag.Int("max-levels", 40, "Resilience mode: grid level cap")
	emitFlag := flag.Bool("emit-config", false, "Print the full updated configuration as YAML")

	flag.Parse()

	cfg := config.DefaultConfig()

	if *configFlag != "" {
		loaded, err := config.LoadConfig(*configFlag)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}

		cfg = *loaded
	}

	zl := logger.NewNopLogger()
	gateway := paper.NewGateway(cfg.Symbol, *balanceFlag)
	gateway.SetPrice(*priceFlag, time.Now())

	if *candlesFlag != "" {
		candles, err := loadCandles(*candlesFlag)
		if err != nil {
			log.Fatalf("Failed to load candles: %v", err)
		}

		gateway.SetCandles(types.TimeframeM15, candles)
	}

	planner := autoconfig.NewPlanner(gateway, &cfg, advisor.NewAdvisor(gateway, &cfg, zl), zl)
	ctx := context.Background()

	var plan *autoconfig.Plan

	var err error

	switch *modeFlag {
	case "atr":
		if *candlesFlag == "" {
			log.Fatal("ATR mode requires --candles")
		}

		plan, err = planner.PlanFromATR(ctx, *profileFlag, time.Now())
	case "resilience":
		params := autoconfig.ResilienceParams{
			TargetDistance: *distanceFlag,
			DrawdownRatio:  *drawdownFlag,
			MaxLevels:      *maxLevelsFlag,
		}
		plan, err = planner.PlanResilience(ctx, params, time.Now())
	default:
		log.Fatalf("Unknown mode %q", *modeFlag)
	}

	if err != nil {
		log.Fatalf("Planning failed: %v", err)
	}

	printPlan(plan)

	survivability := planner.Survive(*balanceFlag, *priceFlag, 100, plan)
	fmt.Printf("Worst-case walk:   %s after %.0f pips (%d grid / %d hedge levels, final equity %.2f)\n",
		survivability.Status, survivability.MaxDistancePips,
		survivability.MaxGridLevels, survivability.MaxHedgeLevels, survivability.FinalEquity)

	if *emitFlag {
		plan.Apply(&cfg)

		out, err := yaml.Marshal(cfg)
		if err != nil {
			log.Fatalf("Failed to marshal config: %v", err)
		}

		fmt.Println("---")
		os.Stdout.Write(out)
	}
}

func printPlan(plan *autoconfig.Plan) {
	fmt.Printf("Risk profile:      %s\n", plan.RiskProfile)

	if plan.ATR > 0 {
		fmt.Printf("ATR:               %.1f pips\n", plan.ATR)
	}

	fmt.Printf("Grid distance:     %.0f pips\n", plan.GridDistance)
	fmt.Printf("Hedge distance:    %.0f pips\n", plan.HedgeDistance)
	fmt.Printf("Breakeven trigger: %.0f pips\n", plan.SLTrigger)
	fmt.Printf("Direction:         %s (%s confidence)\n", plan.Direction, plan.Confidence)

	if detail := plan.Resilience; detail != nil {
		fmt.Printf("Grid levels:       %d over %.0f pips (requested %.0f)\n",
			detail.GridLevels, detail.ActualDistance, detail.RequestedDistance)
		fmt.Printf("Estimated DD:      %.2f of %.2f budget\n", detail.EstimatedDrawdown, detail.TargetDrawdown)
		fmt.Printf("Margin use:        %.1f%% (%.2f)\n", detail.MarginUsagePercent, detail.TotalMargin)
	}
}

// loadCandles reads a candle CSV with a header row. The time column accepts
// RFC 3339 or a unix timestamp in seconds.
func loadCandles(path string) ([]types.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	if len(rows) < 2 {
		return nil, fmt.Errorf("candle file %s has no data rows", path)
	}

	candles := make([]types.Candle, 0, len(rows)-1)

	for _, row := range rows[1:] {
		if len(row) < 6 {
			return nil, fmt.Errorf("candle row needs 6 columns, got %d", len(row))
		}

		at, err := parseTime(row[0])
		if err != nil {
			return nil, err
		}

		values := make([]float64, 5)

		for i, raw := range row[1:6] {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q: %w", raw, err)
			}

			values[i] = v
		}

		candles = append(candles, types.Candle{
			Time:   at,
			Open:   values[0],
			High:   values[1],
			Low:    values[2],
			Close:  values[3],
			Volume: values[4],
		})
	}

	return candles, nil
}

func parseTime(raw string) (time.Time, error) {
	if at, err := time.Parse(time.RFC3339, raw); err == nil {
		return at, nil
	}

	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q", raw)
	}

	return time.Unix(unix, 0).UTC(), nil
}
