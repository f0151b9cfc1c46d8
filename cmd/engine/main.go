package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"xbot/internal/api"
	"xbot/internal/bot"
	"xbot/internal/bus"
	"xbot/internal/config"
	"xbot/internal/exchange"
	"xbot/internal/feed"
	"xbot/internal/models"
	"xbot/internal/notifier"
	"xbot/internal/repository"
	"xbot/internal/strategy"
	"xbot/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer logger.Sync()

	if err := run(cfg); err != nil {
		utils.Error("engine failed", utils.Err(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// Определения ботов
	bots, err := config.LoadBots(cfg.Engine.BotsFile)
	if err != nil {
		return fmt.Errorf("load bots: %w", err)
	}

	// База данных
	db, err := initDatabase(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	utils.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	orderRepo := repository.NewOrderRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Уведомления: структурированный лог + персистентный журнал
	notify := notifier.New(256, notifier.LogSink{}, notifier.JournalSink{Journal: notificationRepo})
	defer notify.Close()

	// Торговый транспорт за декоратором retry/rate-limit/timeout
	inner, err := buildTransport(bots)
	if err != nil {
		return err
	}
	rcfg := exchange.DefaultResilientConfig()
	rcfg.CallTimeout = cfg.Engine.OrderTimeout
	rcfg.Retry.MaxRetries = cfg.Engine.MaxRetries
	rcfg.Retry.InitialDelay = cfg.Engine.RetryBackoff
	transport := exchange.NewResilientTransport(inner, rcfg)
	defer transport.Close()

	// Риск-бухгалтер, менеджер ордеров, супервизор
	risk := bot.NewAccountant(bot.RiskConfig{
		AllocatedCapital: bots.Capital,
		MaxPositionSize:  bots.Risk.MaxPositionSize,
		MaxDrawdown:      bots.Risk.MaxDrawdown,
	})
	om := bot.NewOrderManager(transport, risk, orderRepo)
	sched := bot.NewScheduler(bot.SchedulerConfig{
		MaxRestarts: cfg.Engine.MaxRestarts,
		BackoffBase: cfg.Engine.RestartBackoff,
		Workers:     cfg.Engine.Workers,
	}, om, risk)
	sched.SetNotifier(notify.Publish)

	// Шина рыночных данных
	marketBus := bus.New(0)
	defer marketBus.Close()

	// Инстансы из определений ботов
	if err := buildInstances(bots, marketBus, om, risk, sched, notify); err != nil {
		return err
	}

	// Сверка с биржей и журналом до приёма рыночных данных
	recovery := bot.NewRecoveryManager(bot.RecoveryConfig{
		Timeout: cfg.Engine.RecoveryTimeout,
	}, orderRepo, transport, om)
	recovery.SetNotifier(notify.Publish)

	recoverCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.RecoveryTimeout)
	report, err := recovery.Recover(recoverCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	utils.Info("startup recovery complete",
		utils.Int("checked", report.Checked),
		utils.Int("resolved", report.Resolved),
		utils.Int("foreign", report.Foreign),
		utils.Int("fetch_fails", report.FetchFails))

	// Поток исполнений от биржи в state machine ордеров
	if err := transport.SubscribeUpdates(func(update *models.OrderUpdate) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Engine.OrderTimeout)
		defer cancel()
		if err := om.OnExternalUpdate(ctx, update); err != nil {
			utils.Warn("external order update rejected",
				utils.String("order_id", update.OrderID), utils.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("subscribe order updates: %w", err)
	}

	// Рыночные данные: один фид на таймфрейм
	feeds, err := buildFeeds(cfg, bots, marketBus)
	if err != nil {
		return err
	}
	for _, f := range feeds {
		if err := f.Connect(); err != nil {
			return fmt.Errorf("connect feed: %w", err)
		}
		defer f.Close()
	}

	// Paper-транспорт наливает рыночные ордера по mark price
	if paper, ok := inner.(*exchange.PaperTransport); ok {
		if err := pumpMarkPrices(marketBus, paper, bots.Symbols()); err != nil {
			return fmt.Errorf("mark price pump: %w", err)
		}
	}

	// Запуск инстансов
	if err := sched.StartAll(); err != nil {
		utils.Warn("some instances failed to start", utils.Err(err))
	}

	// Операторский API
	router := api.SetupRoutes(&api.Dependencies{
		Scheduler:     sched,
		Risk:          risk,
		Orders:        om,
		Notifications: notificationRepo,
		APITokenHash:  cfg.Security.APITokenHash,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		utils.Info("starting operator api", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		utils.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("operator api: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Сначала останавливаем торговлю (drain in-flight ордеров),
	// затем HTTP: оператор видит статусы до последнего момента
	if err := sched.StopAll(shutdownCtx); err != nil {
		utils.Error("instances stopped with errors", utils.Err(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	utils.Info("engine exited")
	return nil
}

// buildTransport выбирает торговый транспорт по определениям ботов.
//
// В поставке только paper-транспорт (симуляция исполнения); живые
// коннекторы подключаются через exchange.OrderTransport. Боевой режим
// без живого коннектора - ошибка конфигурации, а не тихая симуляция.
func buildTransport(bots *config.BotsFile) (exchange.OrderTransport, error) {
	if bots.Exchange == "paper" || bots.Testnet {
		return exchange.NewPaperTransport(bots.Exchange, true, 50*time.Millisecond), nil
	}
	return nil, fmt.Errorf("no live transport for exchange %q (set testnet=true for paper execution)", bots.Exchange)
}

// buildInstances создаёт и регистрирует инстансы: одно определение бота
// с N парами разворачивается в N инстансов
func buildInstances(bots *config.BotsFile, b *bus.Bus, om *bot.OrderManager, risk *bot.Accountant, sched *bot.Scheduler, notify *notifier.Notifier) error {
	for _, bc := range bots.Bots {
		for _, symbol := range bc.Pairs {
			id := bc.ID
			if len(bc.Pairs) > 1 {
				id = bc.ID + "-" + strings.ToLower(symbol)
			}

			strat, err := strategy.Build(bc.Strategy)
			if err != nil {
				return fmt.Errorf("bot %s: %w", bc.ID, err)
			}
			if err := strat.Setup(bc.Params); err != nil {
				return fmt.Errorf("bot %s: setup: %w", bc.ID, err)
			}

			icfg := bot.InstanceConfig{
				ID:            id,
				Symbol:        symbol,
				Timeframe:     bc.Timeframe,
				TickDriven:    bc.TickDriven,
				DCAMode:       bc.DCAMode,
				HistorySize:   bc.HistorySize,
				OrderNotional: bc.OrderNotional,
				LotSize:       bc.LotSize,
				StopLoss:      bc.StopLoss,
				TakeProfit:    bc.TakeProfit,

				StrategyTimeout: time.Duration(bc.StrategyTimeoutSec * float64(time.Second)),
			}
			// Глобальные уровни защиты, если бот не переопределил
			if icfg.StopLoss == 0 {
				icfg.StopLoss = bots.Risk.StopLoss
			}
			if icfg.TakeProfit == 0 {
				icfg.TakeProfit = bots.Risk.TakeProfit
			}

			inst, err := bot.NewInstance(icfg, strat, b, om, risk)
			if err != nil {
				return fmt.Errorf("bot %s: %w", bc.ID, err)
			}
			inst.SetNotifier(notify.Publish)
			if err := sched.Register(inst); err != nil {
				return fmt.Errorf("bot %s: %w", bc.ID, err)
			}
		}
	}
	return nil
}

// buildFeeds группирует ботов по таймфрейму: один WebSocket фид
// на таймфрейм, подписанный на все символы этой группы
func buildFeeds(cfg *config.Config, bots *config.BotsFile, b *bus.Bus) ([]*feed.Feed, error) {
	url := cfg.Engine.WSURL
	if url == "" {
		url = streamURL(bots.Exchange, bots.Testnet)
	}
	if url == "" {
		return nil, fmt.Errorf("no market data url for exchange %q (set WS_URL)", bots.Exchange)
	}

	type group struct {
		symbols []string
		seen    map[string]bool
		ticks   bool
	}
	groups := map[string]*group{}
	for _, bc := range bots.Bots {
		g, ok := groups[bc.Timeframe]
		if !ok {
			g = &group{seen: map[string]bool{}}
			groups[bc.Timeframe] = g
		}
		for _, symbol := range bc.Pairs {
			if !g.seen[symbol] {
				g.seen[symbol] = true
				g.symbols = append(g.symbols, symbol)
			}
		}
		if bc.TickDriven {
			g.ticks = true
		}
	}

	feeds := make([]*feed.Feed, 0, len(groups))
	for timeframe, g := range groups {
		feeds = append(feeds, feed.New(feed.Config{
			Exchange:       bots.Exchange,
			URL:            url,
			Symbols:        g.symbols,
			Timeframe:      timeframe,
			Ticks:          g.ticks,
			InitialDelay:   cfg.Engine.WSReconnectDelay,
			ConnectTimeout: cfg.Engine.WSConnectTimeout,
			PingInterval:   cfg.Engine.WSPingInterval,
		}, b))
	}
	return feeds, nil
}

// pumpMarkPrices подписывает paper-транспорт на рыночные данные:
// закрытия свечей и тики символа становятся его mark price
func pumpMarkPrices(b *bus.Bus, paper *exchange.PaperTransport, symbols []string) error {
	for _, symbol := range symbols {
		sub, err := b.Subscribe("paper-mark-"+strings.ToLower(symbol), symbol, 64)
		if err != nil {
			return err
		}
		go func(symbol string, sub *bus.Subscription) {
			for ev := range sub.Events() {
				if ev.Market == nil {
					continue
				}
				switch ev.Market.Kind {
				case models.EventKindCandle:
					paper.SetMarkPrice(symbol, ev.Market.Candle.Close)
				case models.EventKindTick:
					paper.SetMarkPrice(symbol, ev.Market.Tick.Price)
				}
			}
		}(symbol, sub)
	}
	return nil
}

// streamURL возвращает публичный WebSocket URL известной биржи
func streamURL(exchangeName string, testnet bool) string {
	switch exchangeName {
	case "bybit":
		if testnet {
			return "wss://stream-testnet.bybit.com/v5/public/spot"
		}
		return "wss://stream.bybit.com/v5/public/spot"
	}
	return ""
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
