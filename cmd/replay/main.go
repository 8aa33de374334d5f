// cmd/replay feeds stored candles from SQLite through one bot's trading loop
// against the paper broker and prints the resulting trades and realized P&L.
//
// Usage:
//
//	go run ./cmd/replay --bots=bots.yaml --bot=BTCUSDT:breakout --speed=0
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-enginev1/config"
	"trading-enginev1/internal/broker"
	"trading-enginev1/internal/classifier"
	"trading-enginev1/internal/logger"
	"trading-enginev1/internal/marketdata/replay"
	"trading-enginev1/internal/orchestrator"
	"trading-enginev1/internal/portfolio"
	"trading-enginev1/internal/position"
	sqlitestore "trading-enginev1/internal/store/sqlite"
	"trading-enginev1/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	botsPath := flag.String("bots", "bots.yaml", "Bot definition file")
	botKey := flag.String("bot", "", "Bot to replay as SYMBOL:STRATEGY (default: first bot)")
	dbPath := flag.String("db", "data/candles.db", "Path to SQLite candle history")
	fromTS := flag.Int64("from", 0, "Unix timestamp to start replay from (0=all)")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	verbose := flag.Bool("v", false, "Print every non-hold cycle")
	logLevel := flag.String("log", "warn", "Log level for loop internals")
	flag.Parse()

	slogger := logger.Init("replay", logger.ParseLevel(*logLevel))

	bots, err := config.LoadBots(*botsPath)
	if err != nil {
		log.Fatalf("[replay] %v", err)
	}
	if err := bots.Validate(); err != nil {
		log.Fatalf("[replay] invalid bot file:\n%v", err)
	}
	bot, ok := pickBot(bots, *botKey)
	if !ok {
		log.Fatalf("[replay] bot %q not found", *botKey)
	}

	// Open SQLite
	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[replay] sqlite open failed: %v", err)
	}
	defer reader.Close()

	var from time.Time
	if *fromTS > 0 {
		from = time.Unix(*fromTS, 0).UTC()
	}
	feed, err := replay.Load(reader, []string{bot.Symbol}, bot.Timeframe, from)
	if err != nil {
		log.Fatalf("[replay] %v", err)
	}
	feed.WithSpecs(bots.Paper.Default, bots.Paper.Symbols)

	// Paper broker priced by the replay clock; the account starts fresh.
	account := portfolio.NewAccount(bots.Risk.AccountBalance, feed.Now)
	pf := portfolio.New()
	pnl := portfolio.NewPnLTracker(pf)
	paper := broker.NewPaperBroker(bots.Paper, feed, slogger)

	deps := strategy.Deps{Logger: slogger}
	if bot.Strategy == strategy.NameClassifier {
		m, err := classifier.Load(classifier.Config{ModelPath: bot.Params.ModelPath, LibraryPath: bots.OnnxLibrary})
		if err != nil {
			log.Fatalf("[replay] %v", err)
		}
		defer m.Close()
		deps.Classifier = m
	}
	strat, err := strategy.New(bot.Strategy, bot.Params, deps)
	if err != nil {
		log.Fatalf("[replay] %v", err)
	}
	risk, err := portfolio.NewRiskManager(bots.RiskFor(bot), account, pf, slogger)
	if err != nil {
		log.Fatalf("[replay] %v", err)
	}
	mgr, err := position.NewManager(position.Config{
		Symbol:           bot.Symbol,
		Strategy:         bot.Strategy,
		Cooldown:         bot.Cooldown,
		MaxPendingChecks: bot.MaxPendingChecks,
	}, position.Deps{
		Risk:     risk,
		Broker:   paper,
		Market:   feed,
		Sink:     pnl,
		Registry: pf,
		Logger:   slogger,
	})
	if err != nil {
		log.Fatalf("[replay] %v", err)
	}
	loop, err := orchestrator.NewLoop(orchestrator.LoopConfig{
		Symbol:        bot.Symbol,
		Timeframe:     bot.Timeframe,
		MinConfidence: bot.MinConfidence,
	}, orchestrator.LoopDeps{
		Market:   feed,
		Strategy: strat,
		Manager:  mgr,
		Logger:   slogger,
	})
	if err != nil {
		log.Fatalf("[replay] %v", err)
	}

	// Setup context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cycles, entries := 0, 0
	err = feed.Replay(ctx, *speed, func(now time.Time) {
		rep := loop.Step(ctx, now)
		cycles++
		if rep.Action == position.ActionOpened {
			entries++
		}
		if *verbose && rep.Outcome != orchestrator.OutcomeHold && rep.Outcome != orchestrator.OutcomeInsufficientData {
			fmt.Printf("  [%s] %-17s %-4s %-14s %s\n", now.Format("2006-01-02 15:04"), rep.Outcome, rep.Signal.Direction, rep.Action, rep.Reason)
		}
	})
	if err != nil {
		log.Printf("[replay] stopped early: %v", err)
	}

	// Print trades
	trades := pnl.GetTrades()
	fmt.Println()
	for _, t := range trades {
		fmt.Printf("  %s → %s  %-4s %10.6g @ %-12.6g → %-12.6g  P&L %10.2f  %s\n",
			t.OpenedAt.Format("01-02 15:04"), t.Timestamp.Format("01-02 15:04"),
			t.Direction, t.Size, t.EntryPrice, t.ExitPrice, t.RealizedPnL, t.ExitReason)
	}

	// Print summary
	summary := pnl.GetSummary()
	status := account.Status()
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        REPLAY COMPLETE               ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Bot:          %-21s ║\n", loop.Key())
	fmt.Printf("║  Cycles:       %-21d ║\n", cycles)
	fmt.Printf("║  Entries:      %-21d ║\n", entries)
	fmt.Printf("║  Trades:       %-21d ║\n", summary.TotalTrades)
	fmt.Printf("║  Realized P&L: %-21.2f ║\n", summary.RealizedPnL)
	fmt.Printf("║  Balance:      %-21.2f ║\n", status.Balance)
	fmt.Println("╚══════════════════════════════════════╝")
	if pos, ok := mgr.Position(); ok {
		fmt.Printf("  still open: %s %.6g @ %.6g\n", pos.Direction, pos.Size, pos.EntryPrice)
	}
}

func pickBot(f *config.BotsFile, key string) (config.Bot, bool) {
	if key == "" {
		return f.Bots[0], true
	}
	for _, b := range f.Bots {
		if b.Key() == key {
			return b, true
		}
	}
	return config.Bot{}, false
}
