// cmd/tradeengine runs one trading loop per configured bot against the
// paper broker, with market data from the exchange REST API or kline stream.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"trading-enginev1/config"
	"trading-enginev1/internal/broker"
	"trading-enginev1/internal/candlestore"
	"trading-enginev1/internal/circuit"
	"trading-enginev1/internal/classifier"
	"trading-enginev1/internal/logger"
	"trading-enginev1/internal/marketdata/rest"
	"trading-enginev1/internal/marketdata/ws"
	"trading-enginev1/internal/metrics"
	"trading-enginev1/internal/model"
	"trading-enginev1/internal/notification"
	"trading-enginev1/internal/orchestrator"
	"trading-enginev1/internal/portfolio"
	"trading-enginev1/internal/position"
	"trading-enginev1/internal/sink"
	pgstore "trading-enginev1/internal/store/postgres"
	redisstore "trading-enginev1/internal/store/redis"
	sqlitestore "trading-enginev1/internal/store/sqlite"
	"trading-enginev1/internal/strategy"
	"trading-enginev1/internal/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tradeengine] starting...")

	// ---- Load config ----
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[tradeengine] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[tradeengine] invalid configuration:\n%v", err)
	}
	bots := cfg.Bots
	slogger := logger.Init("tradeengine", logger.ParseLevel(cfg.LogLevel))
	log.Printf("[tradeengine] %d bots, market data %s, broker %s", len(bots.Bots), bots.Market.Source, cfg.BrokerMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics, health, alerts ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.New(reg)
	health := metrics.NewHealthStatus()

	notifiers := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramToken != "" {
		tg, err := notification.NewTelegramNotifier(notification.TelegramConfig{BotToken: cfg.TelegramToken, ChatID: cfg.TelegramChatID})
		if err != nil {
			log.Printf("[tradeengine] WARNING: telegram disabled: %v", err)
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	alerter := notification.NewAlerter(notifiers, bots.RejectAlertThreshold)
	alertsDone := make(chan struct{})
	go func() {
		defer close(alertsDone)
		alerter.Run(ctx)
	}()

	// ---- Account, portfolio, P&L ----
	account := portfolio.NewAccount(bots.Risk.AccountBalance, nil)
	pf := portfolio.New()
	pnl := portfolio.NewPnLTracker(pf)

	// ---- Reporting sinks (off the trading path) ----
	sinks := sink.New(256, sink.DefaultTimeout, slogger)
	sinks.OnDrop = func(name string) { prom.SinkDropsTotal.WithLabelValues(name).Inc() }
	sinks.OnError = func(name string, err error) { prom.SinkErrorsTotal.WithLabelValues(name).Inc() }
	sinks.Add("pnl", pnl)

	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	var journal *sqlitestore.Journal
	if cfg.JournalPath != "" {
		os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755)
		journal, err = sqlitestore.NewJournal(cfg.JournalPath)
		if err != nil {
			log.Fatalf("[tradeengine] journal init failed: %v", err)
		}
		defer journal.Close()
		if prior, err := journal.RealizedPnL(ctx); err == nil {
			log.Printf("[tradeengine] journal realized P&L so far: %.2f", prior)
		}
		sinks.Add("journal", journal)
	}

	var publisher *redisstore.Publisher
	redisCB := circuit.New(5, 10*time.Second)
	redisCB.OnStateChange = func(from, to circuit.State) {
		prom.RedisCircuitChanged(from, to)
		alerter.CircuitChanged("redis")(from, to)
	}
	if cfg.RedisAddr != "" {
		publisher, err = redisstore.New(redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			log.Printf("[tradeengine] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			defer publisher.Close()
			buffered := redisstore.NewBufferedPublisher(ctx, publisher, redisCB, 10000)
			buffered.OnBuffer = prom.RedisBufferedTrades.Inc
			sinks.Add("redis", buffered)
		}
	}

	var pgTrades *pgstore.TradeStore
	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.PoolConfigFromEnv())
		if err != nil {
			log.Printf("[tradeengine] WARNING: postgres init failed: %v (continuing without postgres)", err)
		} else {
			pgTrades = pgstore.NewTradeStore(pool, slogger)
			defer pgTrades.Close()
			if err := pgTrades.Migrate(ctx); err != nil {
				log.Fatalf("[tradeengine] postgres migrate failed: %v", err)
			}
			sinks.Add("postgres", pgTrades)
		}
	}
	sinks.Start(ctx)
	log.Printf("[tradeengine] sinks ready: %v", sinks.Names())

	// ---- Liveness checks ----
	sqlDB := journalDB(journal)
	if publisher != nil {
		health.StartLivenessChecker(ctx, publisher.Client(), sqlDB, cfg.HealthInterval)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlDB, cfg.HealthInterval)
	}

	// ---- Market data ----
	store := candlestore.New(bots.Market.Capacity, 0)
	restClient := rest.New(bots.Market.REST, slogger)
	var market model.MarketData = restClient
	var prices broker.PriceSource = store
	if bots.Market.Source == config.SourceWS {
		feed, err := ws.New(ws.Config{
			BaseURL:   bots.Market.WSURL,
			Symbols:   bots.Symbols(),
			Timeframe: bots.Timeframes()[0],
			Capacity:  bots.Market.Capacity,
		}, restClient, slogger)
		if err != nil {
			log.Fatalf("[tradeengine] ws feed init failed: %v", err)
		}
		feed.OnReconnect = prom.WSReconnects.Inc
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[tradeengine] ws feed stopped: %v", err)
			}
		}()
		go watchFeed(ctx, feed, health)
		market = feed
		prices = feed
	}

	// Closed candles are recorded to SQLite for the replay tool.
	history, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[tradeengine] sqlite init failed: %v", err)
	}
	defer history.Close()
	recorder := sqlitestore.NewRecorder(market, 5000)
	for _, b := range bots.Bots {
		if err := recorder.Resume(history, b.Symbol, b.Timeframe); err != nil {
			log.Printf("[tradeengine] history resume %s: %v", b.Key(), err)
		}
	}
	historyDone := make(chan struct{})
	go func() {
		defer close(historyDone)
		history.Run(context.WithoutCancel(ctx), recorder.Rows())
	}()
	market = recorder

	// ---- Broker ----
	paper := broker.NewPaperBroker(bots.Paper, prices, slogger)
	brokerCB := circuit.New(bots.Circuit.MaxFailures, bots.Circuit.ResetTimeout)
	brokerCB.OnStateChange = func(from, to circuit.State) {
		prom.BrokerCircuitChanged(from, to)
		alerter.CircuitChanged("broker")(from, to)
	}
	guarded := broker.NewGuarded(paper, brokerCB, slogger)

	// ---- Classifier model (shared by classifier bots) ----
	models := map[string]*classifier.ONNX{}
	defer func() {
		for _, m := range models {
			m.Close()
		}
	}()

	// ---- Loops ----
	var loops []*orchestrator.Loop
	for _, b := range bots.Bots {
		deps := strategy.Deps{Logger: slogger}
		if b.Strategy == strategy.NameClassifier {
			m, ok := models[b.Params.ModelPath]
			if !ok {
				m, err = classifier.Load(classifier.Config{ModelPath: b.Params.ModelPath, LibraryPath: bots.OnnxLibrary})
				if err != nil {
					log.Fatalf("[tradeengine] %s: %v", b.Key(), err)
				}
				models[b.Params.ModelPath] = m
			}
			deps.Classifier = m
		}
		strat, err := strategy.New(b.Strategy, b.Params, deps)
		if err != nil {
			log.Fatalf("[tradeengine] %s: %v", b.Key(), err)
		}
		risk, err := portfolio.NewRiskManager(bots.RiskFor(b), account, pf, slogger)
		if err != nil {
			log.Fatalf("[tradeengine] %s: %v", b.Key(), err)
		}
		mgr, err := position.NewManager(position.Config{
			Symbol:           b.Symbol,
			Strategy:         b.Strategy,
			Cooldown:         b.Cooldown,
			MaxPendingChecks: b.MaxPendingChecks,
		}, position.Deps{
			Risk:     risk,
			Broker:   guarded,
			Market:   market,
			Sink:     sinks,
			Registry: pf,
			Logger:   slogger,
		})
		if err != nil {
			log.Fatalf("[tradeengine] %s: %v", b.Key(), err)
		}
		loop, err := orchestrator.NewLoop(orchestrator.LoopConfig{
			Symbol:        b.Symbol,
			Timeframe:     b.Timeframe,
			PollInterval:  b.PollInterval,
			MinConfidence: b.MinConfidence,
		}, orchestrator.LoopDeps{
			Market:   market,
			Strategy: strat,
			Manager:  mgr,
			Store:    store,
			Logger:   slogger,
		})
		if err != nil {
			log.Fatalf("[tradeengine] %s: %v", b.Key(), err)
		}
		health.RegisterLoop(loop.Key(), b.PollInterval)
		loops = append(loops, loop)

		if pgTrades != nil {
			if recent, err := pgTrades.RecentTrades(ctx, b.Symbol, 1); err == nil && len(recent) > 0 {
				last := recent[0]
				log.Printf("[tradeengine] %s last recorded trade: %s %.2f at %s", b.Key(), last.Direction, last.RealizedPnL, last.Timestamp.Format(time.RFC3339))
			}
		}
	}

	// ---- HTTP ----
	hub := stream.NewHub(500)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, reg, pnl, account)
	metricsSrv.Handle("/ws", hub)
	metricsSrv.Start()

	// ---- Reports: metrics, health, alerts, dashboards, signal publishing ----
	reports := make(chan orchestrator.CycleReport, 64)
	reportsDone := make(chan struct{})
	go func() {
		defer close(reportsDone)
		for rep := range reports {
			prom.ObserveCycle(rep)
			health.ObserveCycle(rep)
			alerter.ObserveCycle(rep)
			hub.PublishCycle(rep)
			prom.ObserveAccount(account.Status(), pf.Count(), pnl.GetRealizedPnL())
			if publisher != nil && rep.Signal.Direction.Valid() {
				publishSignal(ctx, publisher, redisCB, rep)
			}
		}
	}()

	sched := orchestrator.NewScheduler(slogger, loops...)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx, reports)
		close(reports)
	}()
	log.Printf("[tradeengine] running %d loops; metrics on %s", len(loops), cfg.MetricsAddr)

	// ---- Wait for shutdown signal ----
	select {
	case <-sigCh:
		log.Println("[tradeengine] shutdown signal received, finishing in-flight cycles...")
	case <-schedDone:
		log.Println("[tradeengine] scheduler exited")
	}
	cancel()
	<-schedDone
	<-reportsDone

	sinks.Close()
	recorder.Close()
	<-historyDone
	<-alertsDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	for _, l := range loops {
		if pos, ok := l.Manager().Position(); ok {
			log.Printf("[tradeengine] %s left open: %s %.6g @ %.6g", l.Key(), pos.Direction, pos.Size, pos.EntryPrice)
		}
	}
	summary := pnl.GetSummary()
	log.Printf("[tradeengine] session realized P&L %.2f over %d trades", summary.RealizedPnL, summary.TotalTrades)
	log.Println("[tradeengine] shutdown complete.")
}

func publishSignal(ctx context.Context, p *redisstore.Publisher, cb *circuit.Breaker, rep orchestrator.CycleReport) {
	if cb.Allow() != nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := p.PublishSignal(pubCtx, redisstore.SignalEvent{
		Symbol:   rep.Symbol,
		Strategy: rep.Strategy,
		Cycle:    rep.Cycle,
		TraceID:  rep.TraceID,
		Signal:   rep.Signal,
	})
	cb.Record(err)
}

func watchFeed(ctx context.Context, feed *ws.Feed, health *metrics.HealthStatus) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			health.SetWSConnected(feed.Connected())
		}
	}
}

func journalDB(j *sqlitestore.Journal) *sql.DB {
	if j == nil {
		return nil
	}
	return j.DB()
}
