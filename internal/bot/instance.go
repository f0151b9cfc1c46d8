package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"xbot/internal/bus"
	"xbot/internal/models"
	"xbot/internal/strategy"
	"xbot/pkg/utils"
)

// ErrNotRunning - команда инстансу в несовместимом состоянии
var ErrNotRunning = errors.New("instance is not running")

const defaultHistorySize = 200

// defaultStrategyTimeout ограничивает один вызов пользовательской
// стратегии, если конфигурация не задала свой потолок
const defaultStrategyTimeout = 30 * time.Second

// InstanceConfig - конфигурация одного торгового инстанса
type InstanceConfig struct {
	ID        string `json:"id"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`

	// TickDriven включает вызов OnTick на каждом тике.
	// По умолчанию решения принимаются только на закрытых свечах.
	TickDriven bool `json:"tick_driven"`

	// DCAMode разрешает повторные входы при открытой позиции:
	// fill вливается в средневзвешенную позицию (усреднение)
	DCAMode bool `json:"dca_mode"`

	// HistorySize - глубина окна свечей для стратегии
	HistorySize int `json:"history_size"`

	// OrderNotional - размер входа в котируемой валюте
	OrderNotional float64 `json:"order_notional"`

	// LotSize - минимальный шаг объёма на бирже, 0 = без округления
	LotSize float64 `json:"lot_size"`

	// StopLoss/TakeProfit - доли от цены входа (0.02 = 2%), 0 = выключено.
	// Сигнал стратегии с явными уровнями имеет приоритет.
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`

	// EventBuffer - ёмкость очереди подписки на шине (0 = default шины)
	EventBuffer int `json:"event_buffer"`

	// StrategyTimeout - потолок одного вызова стратегии (0 = 30s).
	// Стратегия обязана вернуться в лимит: превышение - нарушение
	// контракта, инстанс уходит в ERROR
	StrategyTimeout time.Duration `json:"strategy_timeout"`
}

// NotifyFunc - приёмник уведомлений жизненного цикла
type NotifyFunc func(n *models.Notification)

// StateHook наблюдает переходы state machine инстанса (для Supervisor)
type StateHook func(instanceID, from, to string)

// Instance - один торговый бот: одна стратегия, один символ,
// собственная позиция и окно истории.
//
// Модель владения:
//   - позицию и окно свечей мутирует только goroutine самого инстанса
//   - state machine защищена mutex: команды оператора (Pause/Resume/Stop)
//     приходят из других goroutines
//   - PAUSED-инстанс продолжает принимать рыночные данные (иначе очередь
//     на шине переполнится), но не принимает торговых решений
type Instance struct {
	cfg   InstanceConfig
	strat strategy.Strategy
	bus   *bus.Bus
	om    *OrderManager
	risk  *Accountant

	mu        sync.Mutex
	state     string
	stateErr  error // причина перехода в ERROR
	position  *models.Position
	stopPrice float64 // уровень SL открытой позиции (0 = нет)
	takePrice float64 // уровень TP открытой позиции (0 = нет)
	// уровни, зафиксированные при решении о входе; активируются первым fill
	pendingStop float64
	pendingTake float64
	stats       models.InstanceStats

	candles     []*models.Candle
	lastEvent   map[string]time.Time // последний timestamp по виду события
	decisionSeq uint64
	exitPending bool // выходной интент отправлен, дубль не нужен

	notify  NotifyFunc
	onState StateHook

	sub     *bus.Subscription
	cancel  context.CancelFunc
	drainCh chan struct{} // закрывается graceful-остановкой
	done    chan struct{}
}

// NewInstance создаёт инстанс в состоянии INIT
func NewInstance(cfg InstanceConfig, strat strategy.Strategy, b *bus.Bus, om *OrderManager, risk *Accountant) (*Instance, error) {
	if cfg.ID == "" || cfg.Symbol == "" {
		return nil, fmt.Errorf("instance config: id and symbol are required")
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.StrategyTimeout <= 0 {
		cfg.StrategyTimeout = defaultStrategyTimeout
	}
	return &Instance{
		cfg:       cfg,
		strat:     strat,
		bus:       b,
		om:        om,
		risk:      risk,
		state:     models.StateInit,
		lastEvent: make(map[string]time.Time),
		stats:     models.InstanceStats{InstanceID: cfg.ID},
	}, nil
}

// ID возвращает идентификатор инстанса
func (i *Instance) ID() string { return i.cfg.ID }

// Symbol возвращает торгуемый символ
func (i *Instance) Symbol() string { return i.cfg.Symbol }

// State возвращает текущее состояние инстанса
func (i *Instance) State() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// LastError возвращает причину последнего перехода в ERROR
func (i *Instance) LastError() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stateErr
}

// Stats возвращает копию торговой статистики
func (i *Instance) Stats() models.InstanceStats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stats
}

// Position возвращает копию открытой позиции или nil
func (i *Instance) Position() *models.Position {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.position == nil {
		return nil
	}
	cp := *i.position
	return &cp
}

// SetNotifier подключает приёмник уведомлений
func (i *Instance) SetNotifier(fn NotifyFunc) { i.notify = fn }

// SetStateHook подключает наблюдателя переходов состояний
func (i *Instance) SetStateHook(fn StateHook) { i.onState = fn }

// Start переводит инстанс INIT → RUNNING: подписка на шину,
// OnStart стратегии, запуск цикла обработки событий.
func (i *Instance) Start(ctx context.Context) error {
	if err := i.transition(models.StateRunning); err != nil {
		return err
	}

	sub, err := i.bus.Subscribe(i.cfg.ID, i.cfg.Symbol, i.cfg.EventBuffer)
	if err != nil {
		i.fail(fmt.Errorf("subscribe: %w", err))
		return err
	}
	i.sub = sub

	if err := i.invoke(ctx, "OnStart", func(c context.Context) error {
		return i.strat.OnStart(c)
	}); err != nil {
		i.bus.Unsubscribe(sub)
		i.fail(fmt.Errorf("strategy OnStart: %w", err))
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	i.mu.Lock()
	i.cancel = cancel
	i.drainCh = make(chan struct{})
	i.done = make(chan struct{})
	i.stats.StartedAt = time.Now()
	i.mu.Unlock()

	go i.run(runCtx)
	return nil
}

// Pause останавливает принятие решений. Рыночные данные продолжают
// обновлять окно свечей, открытые ордера остаются на бирже.
func (i *Instance) Pause() error {
	if err := i.transition(models.StatePaused); err != nil {
		return err
	}
	i.emit(models.NotificationInstancePause, models.SeverityInfo, "instance paused")
	return nil
}

// Resume возобновляет принятие решений после паузы
func (i *Instance) Resume() error {
	i.mu.Lock()
	if i.state != models.StatePaused {
		state := i.state
		i.mu.Unlock()
		return fmt.Errorf("%w: resume from %s", ErrNotRunning, state)
	}
	i.setStateLocked(models.StateRunning)
	i.mu.Unlock()
	i.emit(models.NotificationInstanceResume, models.SeverityInfo, "instance resumed")
	return nil
}

// Stop - graceful остановка: дочитывание очереди событий, отмена
// открытых ордеров инстанса, OnStop стратегии. Блокирует до завершения.
func (i *Instance) Stop(ctx context.Context) error {
	if err := i.transition(models.StateStopping); err != nil {
		return err
	}

	// Очередь дочитывается до конца: уже доставленные события
	// не пропадают, последние решения успевают отправить ордера
	i.mu.Lock()
	drain, done := i.drainCh, i.done
	i.mu.Unlock()
	if drain != nil {
		close(drain)
	}
	if done != nil {
		<-done
	}

	// Открытые ордера отменяются после дочитывания: подтверждения
	// отмен успеют прийти через транспорт
	for _, order := range i.om.OpenOrders() {
		if order.InstanceID != i.cfg.ID {
			continue
		}
		if err := i.om.Cancel(ctx, order.ID); err != nil && !errors.Is(err, ErrOrderTerminal) {
			i.emit(models.NotificationInstanceError, models.SeverityWarn,
				fmt.Sprintf("cancel on stop: %v", err))
		}
	}

	i.mu.Lock()
	cancel := i.cancel
	i.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if i.sub != nil {
		i.bus.Unsubscribe(i.sub)
	}
	if err := i.invoke(ctx, "OnStop", func(c context.Context) error {
		return i.strat.OnStop(c)
	}); err != nil {
		i.emit(models.NotificationInstanceError, models.SeverityWarn,
			fmt.Sprintf("strategy OnStop: %v", err))
	}
	return i.transition(models.StateStopped)
}

// ForceStop - немедленная остановка без ожидания биржи.
// Нетерминальные ордера переводятся в UNKNOWN для сверки при
// следующем старте.
func (i *Instance) ForceStop(ctx context.Context) error {
	if err := i.transition(models.StateStopping); err != nil {
		return err
	}
	i.om.MarkUnknown(ctx, i.cfg.ID)
	i.shutdown(ctx)
	return i.transition(models.StateStopped)
}

// HandleFill применяет исполнение ордера этого инстанса: позиция,
// риск-леджер, статистика, callback стратегии.
// Вызывается диспетчером fills Supervisor'а.
func (i *Instance) HandleFill(ctx context.Context, order *models.Order, fill *models.Fill) {
	i.mu.Lock()
	entry := order.ReservationID != ""
	var realized float64
	if entry {
		if i.position == nil {
			side := models.PositionLong
			if order.Side == models.SideSell {
				side = models.PositionShort
			}
			i.position = &models.Position{
				Symbol:   fill.Symbol,
				Side:     side,
				OpenedAt: fill.Timestamp,
			}
		}
		i.position.AddFill(fill.Quantity, fill.Price)
		i.stopPrice, i.takePrice = i.pendingStop, i.pendingTake
	} else if i.position != nil {
		realized = i.position.ReduceFill(fill.Quantity, fill.Price)
		if !i.position.IsOpen() {
			i.position = nil
			i.stopPrice = 0
			i.takePrice = 0
			i.stats.RecordTrade(realized)
			result := "win"
			if realized <= 0 {
				result = "loss"
			}
			TradesTotal.WithLabelValues(fill.Symbol, result).Inc()
		}
		i.exitPending = false
	}
	i.mu.Unlock()

	if i.risk != nil {
		resID := ""
		if entry {
			resID = order.ReservationID
		}
		if err := i.risk.RecordFill(fill, resID, realized); err != nil && !errors.Is(err, ErrDrawdownBreach) {
			i.handleError(ctx, err)
		}
		// ErrDrawdownBreach обрабатывает breach hook бухгалтера:
		// Supervisor поставит на паузу все инстансы, включая этот
	}

	if err := i.invoke(ctx, "OnOrderFilled", func(c context.Context) error {
		return i.strat.OnOrderFilled(c, order)
	}); err != nil {
		i.handleError(ctx, err)
	}

	if order.State == models.OrderStateFilled {
		i.emit(models.NotificationOrderFilled, models.SeverityInfo,
			fmt.Sprintf("order %s filled: %s %.8f @ %.8f", order.ID, order.Side, order.FilledQty, order.AvgFillPrice))
	}
}

// ============ ЦИКЛ ОБРАБОТКИ ============

func (i *Instance) run(ctx context.Context) {
	defer close(i.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-i.drainCh:
			i.drainQueue(ctx)
			return
		case ev, ok := <-i.sub.Events():
			if !ok {
				// Канал закрыт: overflow или остановка шины.
				// Тихая потеря событий запрещена - инстанс падает в ERROR.
				err := i.sub.Err()
				if err == nil {
					err = bus.ErrClosed
				}
				i.emit(models.NotificationOverflow, models.SeverityError, err.Error())
				i.fail(err)
				return
			}
			if ev.Type == bus.EventMarket && ev.Market != nil {
				i.handleMarket(ctx, ev.Market)
			}
		}
	}
}

// drainQueue дочитывает накопленную очередь подписки без блокировки.
// Graceful-остановка обрабатывает уже доставленные события до
// перехода в STOPPED.
func (i *Instance) drainQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-i.sub.Events():
			if !ok {
				return
			}
			if ev.Type == bus.EventMarket && ev.Market != nil {
				i.handleMarket(ctx, ev.Market)
			}
		default:
			return
		}
	}
}

// handleMarket обрабатывает одно рыночное событие: контроль порядка,
// обновление окна, SL/TP, решение стратегии
func (i *Instance) handleMarket(ctx context.Context, ev *models.MarketEvent) {
	started := time.Now()
	defer func() {
		EventProcessingLatency.WithLabelValues(ev.Symbol, ev.Kind).
			Observe(float64(time.Since(started).Microseconds()) / 1000)
	}()

	if err := i.checkOrdering(ev); err != nil {
		i.handleError(ctx, err)
		return
	}

	switch ev.Kind {
	case models.EventKindCandle:
		i.onCandle(ctx, ev.Candle)
	case models.EventKindTick:
		i.onTick(ctx, ev.Tick)
	}
}

// checkOrdering проверяет монотонность timestamps в рамках вида события.
// Регрессия - ошибка данных (событие отбрасывается), точный повтор -
// дубликат после реконнекта фида.
func (i *Instance) checkOrdering(ev *models.MarketEvent) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	last, seen := i.lastEvent[ev.Kind]
	if seen {
		if ev.Timestamp.Equal(last) {
			return fmt.Errorf("%w: %s at %s", ErrDuplicateEvent, ev.Kind, ev.Timestamp)
		}
		if ev.Timestamp.Before(last) {
			return fmt.Errorf("%w: %s %s after %s", ErrOutOfOrderEvent, ev.Kind, ev.Timestamp, last)
		}
	}
	i.lastEvent[ev.Kind] = ev.Timestamp
	return nil
}

func (i *Instance) onCandle(ctx context.Context, candle *models.Candle) {
	if candle == nil {
		return
	}

	i.mu.Lock()
	if candle.Closed {
		i.candles = append(i.candles, candle)
		if len(i.candles) > i.cfg.HistorySize {
			i.candles = i.candles[len(i.candles)-i.cfg.HistorySize:]
		}
	}
	state := i.state
	i.mu.Unlock()

	// Пауза замораживает ВСЕ новые ордера, включая защитные выходы.
	// STOPPING - не пауза: graceful-остановка дочитывает очередь как обычно
	if state != models.StateRunning && state != models.StateStopping {
		return
	}

	if i.checkProtection(ctx, candle.Close, candle.CloseTime) {
		return
	}

	// Решения только на закрытых свечах
	if !candle.Closed {
		return
	}

	// Каждая оценка стратегии - решение, включая Hold: номера решений
	// непрерывны, idempotency keys воспроизводимы при восстановлении
	seq := i.nextDecision()

	var sig *models.Signal
	err := i.invoke(ctx, "OnCandle", func(c context.Context) error {
		var cerr error
		sig, cerr = i.strat.OnCandle(c, i.snapshotContext(nil))
		return cerr
	})
	if err != nil {
		i.handleError(ctx, err)
		return
	}
	i.act(ctx, sig, candle.Close, seq)
}

func (i *Instance) onTick(ctx context.Context, tick *models.Tick) {
	if tick == nil {
		return
	}
	i.mu.Lock()
	state := i.state
	i.mu.Unlock()
	if state != models.StateRunning && state != models.StateStopping {
		return
	}

	if i.checkProtection(ctx, tick.Price, tick.Timestamp) {
		return
	}
	if !i.cfg.TickDriven {
		return
	}

	seq := i.nextDecision()

	var sig *models.Signal
	err := i.invoke(ctx, "OnTick", func(c context.Context) error {
		var terr error
		sig, terr = i.strat.OnTick(c, i.snapshotContext(tick))
		return terr
	})
	if err != nil {
		i.handleError(ctx, err)
		return
	}
	i.act(ctx, sig, tick.Price, seq)
}

// checkProtection сравнивает цену с уровнями SL/TP открытой позиции.
// Срабатывание генерирует выход на стороне ДВИЖКА: стратегия может
// спать между свечами, защита - нет. Возвращает true если выход отправлен.
func (i *Instance) checkProtection(ctx context.Context, price float64, at time.Time) bool {
	i.mu.Lock()
	pos := i.position
	stop, take := i.stopPrice, i.takePrice
	pending := i.exitPending
	i.mu.Unlock()

	if pos == nil || pending || price <= 0 {
		return false
	}

	long := pos.Side == models.PositionLong
	var kind string
	switch {
	case stop > 0 && ((long && price <= stop) || (!long && price >= stop)):
		kind = models.NotificationStopLoss
	case take > 0 && ((long && price >= take) || (!long && price <= take)):
		kind = models.NotificationTakeProfit
	default:
		return false
	}

	i.emit(kind, models.SeverityWarn,
		fmt.Sprintf("%s triggered at %.8f (entry %.8f)", kind, price, pos.EntryPrice))

	// Защитный выход - решение движка, занимает номер в общей нумерации
	seq := i.nextDecision()
	sig := models.ClosePosition(i.cfg.Symbol)
	sig.Reason = kind
	sig.Timestamp = at
	i.act(ctx, sig, price, seq)
	return true
}

// nextDecision выдаёт порядковый номер решения. Счётчик двигается на
// каждой оценке, а не на каждом ордере: повторный прогон той же
// истории даёт те же idempotency keys.
func (i *Instance) nextDecision() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.decisionSeq++
	return i.decisionSeq
}

// act транслирует сигнал стратегии максимум в один ордер-интент
func (i *Instance) act(ctx context.Context, sig *models.Signal, refPrice float64, seq uint64) {
	if sig == nil || !sig.IsActionable() {
		return
	}
	if err := sig.Validate(); err != nil {
		// Невалидный сигнал - нарушение контракта стратегии
		i.fail(fmt.Errorf("%w: strategy %s: %v", ErrContractViolation, i.strat.Name(), err))
		return
	}

	if sig.IsEntry() {
		i.enter(ctx, sig, refPrice, seq)
		return
	}
	i.exit(ctx, sig, refPrice, seq)
}

// enter открывает позицию: reserve-before-act, затем Submit
func (i *Instance) enter(ctx context.Context, sig *models.Signal, refPrice float64, seq uint64) {
	i.mu.Lock()
	if i.position != nil && !i.cfg.DCAMode {
		i.mu.Unlock()
		return // не больше одной позиции на инстанс
	}
	i.mu.Unlock()

	price := sig.Price
	if price <= 0 {
		price = refPrice
	}
	if price <= 0 {
		return
	}

	notional := i.cfg.OrderNotional
	if sig.Size > 0 {
		notional = sig.Size * price
	}
	if notional <= 0 {
		return
	}

	resID, err := i.risk.TryReserve(i.cfg.ID, i.cfg.Symbol, notional)
	if err != nil {
		// Отказ риска - штатный исход, не ошибка инстанса
		i.emit(models.NotificationRiskDenied, models.SeverityWarn,
			fmt.Sprintf("reservation denied: %v", err))
		return
	}

	// Входы только в long: движок торгует спот, шорт требует
	// маржинального транспорта. Sell без открытой позиции гаснет в exit().
	side := models.SideBuy

	i.mu.Lock()
	// Уровни защиты фиксируются на момент решения
	i.pendingStop, i.pendingTake = protectionLevels(sig, price, side, i.cfg)
	i.mu.Unlock()

	qty := notional / price
	if i.cfg.LotSize > 0 {
		qty = utils.RoundToLotSize(qty, i.cfg.LotSize)
		if qty <= 0 {
			_ = i.risk.Release(resID)
			return
		}
	}

	intent := &models.OrderIntent{
		InstanceID:    i.cfg.ID,
		DecisionSeq:   seq,
		Symbol:        i.cfg.Symbol,
		Side:          side,
		Quantity:      qty,
		Price:         sig.Price,
		ReservationID: resID,
		Reason:        sig.Type,
	}
	i.submit(ctx, intent)
}

// exit закрывает позицию: резервация не нужна, ёмкость уже занята позицией
func (i *Instance) exit(ctx context.Context, sig *models.Signal, refPrice float64, seq uint64) {
	i.mu.Lock()
	pos := i.position
	if pos == nil || i.exitPending {
		i.mu.Unlock()
		return
	}
	i.exitPending = true
	qty := pos.Quantity
	side := models.SideSell
	if pos.Side == models.PositionShort {
		side = models.SideBuy
	}
	i.mu.Unlock()

	intent := &models.OrderIntent{
		InstanceID:  i.cfg.ID,
		DecisionSeq: seq,
		Symbol:      i.cfg.Symbol,
		Side:        side,
		Quantity:    qty,
		Price:       sig.Price,
		Reason:      sig.Reason,
	}
	if intent.Reason == "" {
		intent.Reason = sig.Type
	}
	i.submit(ctx, intent)
}

func (i *Instance) submit(ctx context.Context, intent *models.OrderIntent) {
	_, err := i.om.Submit(ctx, intent)
	if err != nil {
		if intent.ReservationID == "" {
			i.mu.Lock()
			i.exitPending = false
			i.mu.Unlock()
		}
		i.emit(models.NotificationOrderRejected, models.SeverityWarn,
			fmt.Sprintf("submit %s: %v", intent.IdempotencyKey(), err))
		i.handleError(ctx, err)
	}
}

// ============ ОШИБКИ И СОСТОЯНИЯ ============

// invoke вызывает метод стратегии с ограничением по времени и
// перехватом panic. Пользовательский код не должен ронять процесс:
// panic и превышение таймаута - нарушение контракта, этот инстанс
// уходит в ERROR, остальные продолжают работать.
func (i *Instance) invoke(ctx context.Context, method string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, i.cfg.StrategyTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- contractViolation("strategy %s: panic in %s: %v", i.strat.Name(), method, r)
			}
		}()
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// Остановка инстанса, не вина стратегии
			return ctx.Err()
		}
		return contractViolation("strategy %s: %s exceeded call timeout %s", i.strat.Name(), method, i.cfg.StrategyTimeout)
	}
}

// handleError применяет таксономию ошибок:
// Fatal → ERROR; Data/Risk/Recoverable → событие отброшено, работа идёт
func (i *Instance) handleError(ctx context.Context, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if Classify(err) == ClassFatal {
		i.fail(err)
		return
	}
	if verr := i.invoke(ctx, "OnError", func(c context.Context) error {
		i.strat.OnError(c, err)
		return nil
	}); verr != nil && !errors.Is(verr, context.Canceled) {
		i.fail(verr)
	}
}

// fail переводит инстанс в ERROR с причиной
func (i *Instance) fail(err error) {
	i.mu.Lock()
	if i.state == models.StateError {
		i.mu.Unlock()
		return
	}
	i.stateErr = err
	i.setStateLocked(models.StateError)
	cancel := i.cancel
	i.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if i.sub != nil {
		i.bus.Unsubscribe(i.sub)
	}
	i.emit(models.NotificationInstanceError, models.SeverityError, err.Error())
}

// Reset возвращает инстанс из ERROR/STOPPED в INIT для перезапуска.
// Позиция, статистика и decisionSeq сохраняются: позиция - реальные
// деньги, а seq не должен порождать коллизии idempotency keys.
func (i *Instance) Reset() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !CanTransition(i.state, models.StateInit) {
		return fmt.Errorf("invalid transition %s → %s", i.state, models.StateInit)
	}
	i.setStateLocked(models.StateInit)
	i.stateErr = nil
	i.lastEvent = make(map[string]time.Time)
	i.exitPending = false
	i.sub = nil
	i.cancel = nil
	i.drainCh = nil
	i.done = nil
	return nil
}

// transition двигает state machine с проверкой валидности перехода
func (i *Instance) transition(to string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !CanTransition(i.state, to) {
		return fmt.Errorf("invalid transition %s → %s", i.state, to)
	}
	i.setStateLocked(to)
	return nil
}

// setStateLocked меняет состояние и зовёт hook (вызывать под mutex)
func (i *Instance) setStateLocked(to string) {
	from := i.state
	i.state = to
	if i.onState != nil {
		// hook зовётся в отдельной goroutine: он может звать методы
		// инстанса, которые берут тот же mutex
		go i.onState(i.cfg.ID, from, to)
	}
}

// shutdown немедленно останавливает цикл и стратегию (forced-путь)
func (i *Instance) shutdown(ctx context.Context) {
	i.mu.Lock()
	cancel, done := i.cancel, i.done
	i.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if i.sub != nil {
		i.bus.Unsubscribe(i.sub)
	}
	if err := i.invoke(ctx, "OnStop", func(c context.Context) error {
		return i.strat.OnStop(c)
	}); err != nil {
		i.emit(models.NotificationInstanceError, models.SeverityWarn,
			fmt.Sprintf("strategy OnStop: %v", err))
	}
}

// snapshotContext собирает read-only контекст для стратегии
func (i *Instance) snapshotContext(tick *models.Tick) *strategy.Context {
	i.mu.Lock()
	candles := make([]*models.Candle, len(i.candles))
	copy(candles, i.candles)
	var pos *models.Position
	if i.position != nil {
		cp := *i.position
		pos = &cp
	}
	i.mu.Unlock()

	dc := &strategy.Context{
		InstanceID: i.cfg.ID,
		Symbol:     i.cfg.Symbol,
		Timeframe:  i.cfg.Timeframe,
		Candles:    candles,
		Tick:       tick,
		Position:   pos,
	}
	if i.risk != nil {
		snap := i.risk.Snapshot()
		dc.Account = strategy.AccountSnapshot{
			AllocatedCapital: snap.AllocatedCapital,
			AvailableCapital: snap.AvailableCapital,
			Equity:           snap.Equity,
			RealizedDrawdown: snap.Drawdown,
		}
	}
	return dc
}

// emit отправляет уведомление жизненного цикла
func (i *Instance) emit(ntype, severity, message string) {
	if i.notify == nil {
		return
	}
	i.notify(&models.Notification{
		Timestamp:  time.Now(),
		Type:       ntype,
		Severity:   severity,
		InstanceID: i.cfg.ID,
		Symbol:     i.cfg.Symbol,
		Message:    message,
	})
}

// protectionLevels вычисляет абсолютные уровни SL/TP из сигнала или конфига
func protectionLevels(sig *models.Signal, price float64, side string, cfg InstanceConfig) (stop, take float64) {
	long := side == models.SideBuy

	stop = sig.StopLoss
	if stop <= 0 && cfg.StopLoss > 0 {
		if long {
			stop = price * (1 - cfg.StopLoss)
		} else {
			stop = price * (1 + cfg.StopLoss)
		}
	}
	take = sig.TakeProfit
	if take <= 0 && cfg.TakeProfit > 0 {
		if long {
			take = price * (1 + cfg.TakeProfit)
		} else {
			take = price * (1 - cfg.TakeProfit)
		}
	}
	return stop, take
}
