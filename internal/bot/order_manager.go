package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"xbot/internal/exchange"
	"xbot/internal/models"
	"xbot/pkg/utils"
)

var (
	// ErrDuplicateFill - fill с уже применённым ID (тихо игнорируется выше)
	ErrDuplicateFill = errors.New("duplicate fill")
	// ErrOrderNotFound - ордер неизвестен менеджеру
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderTerminal - попытка изменить ордер в финальном состоянии
	ErrOrderTerminal = errors.New("order already in terminal state")
)

// OrderPersister - минимальный контракт персистентности для менеджера.
// Терминальные ордера и их fills уходят в append-only журнал;
// ошибка записи не откатывает состояние в памяти.
type OrderPersister interface {
	SaveOrder(ctx context.Context, order *models.Order) error
	SaveFill(ctx context.Context, fill *models.Fill) error
}

// FillHook вызывается после применения fill (частичного или полного).
// Инстанс-владелец через него двигает позицию, риск-леджер и стратегию.
type FillHook func(order *models.Order, fill *models.Fill)

// TerminalHook вызывается один раз при переходе ордера в терминальное состояние
type TerminalHook func(order *models.Order)

// OrderManager - единственный владелец state machine всех ордеров движка.
//
// Правила:
//   - Submit идемпотентен по ключу (instance, decision seq): повтор того же
//     решения возвращает существующий ордер, не создавая дубликата на бирже
//   - Переходы состояний монотонны: терминальный ордер не двигается
//   - Fills применяются идемпотентно по fill ID
//   - Внешнее обновление по неизвестному ID сверяется с биржей (FetchStatus)
type OrderManager struct {
	mu        sync.Mutex
	transport exchange.OrderTransport
	risk      *Accountant
	repo      OrderPersister // может быть nil (paper-режим без журнала)

	byID       map[string]*models.Order // внутренний ID → ордер
	byExternal map[string]*models.Order // биржевой ID → ордер
	byKey      map[string]*models.Order // idempotency key → ордер
	seenFills  map[string]bool          // идемпотентность по fill ID

	onFill     FillHook
	onTerminal TerminalHook
}

// NewOrderManager создаёт менеджер ордеров
func NewOrderManager(transport exchange.OrderTransport, risk *Accountant, repo OrderPersister) *OrderManager {
	return &OrderManager{
		transport:  transport,
		risk:       risk,
		repo:       repo,
		byID:       make(map[string]*models.Order),
		byExternal: make(map[string]*models.Order),
		byKey:      make(map[string]*models.Order),
		seenFills:  make(map[string]bool),
	}
}

// SetFillHook устанавливает callback применённого fill
func (om *OrderManager) SetFillHook(fn FillHook) {
	om.mu.Lock()
	om.onFill = fn
	om.mu.Unlock()
}

// SetTerminalHook устанавливает callback терминального перехода
func (om *OrderManager) SetTerminalHook(fn TerminalHook) {
	om.mu.Lock()
	om.onTerminal = fn
	om.mu.Unlock()
}

// Submit отправляет интент на биржу.
//
// Идемпотентность: повторный Submit с тем же (InstanceID, DecisionSeq)
// возвращает уже созданный ордер без повторной отправки - ретраи после
// обрыва связи безопасны.
//
// При отказе транспорта ордер переводится в REJECTED, резервация
// возвращается в риск-леджер, ошибка классифицируется вызывающим.
func (om *OrderManager) Submit(ctx context.Context, intent *models.OrderIntent) (*models.Order, error) {
	if intent == nil || intent.Symbol == "" || intent.Quantity <= 0 {
		return nil, fmt.Errorf("%w: invalid order intent", ErrContractViolation)
	}
	if intent.Side != models.SideBuy && intent.Side != models.SideSell {
		return nil, fmt.Errorf("%w: unknown side %q", ErrContractViolation, intent.Side)
	}

	key := intent.IdempotencyKey()

	om.mu.Lock()
	if existing, ok := om.byKey[key]; ok {
		om.mu.Unlock()
		return existing, nil // повтор решения: дубликат не создаём
	}

	now := time.Now()
	order := &models.Order{
		ID:             "ord-" + key,
		IdempotencyKey: key,
		InstanceID:     intent.InstanceID,
		Symbol:         intent.Symbol,
		Side:           intent.Side,
		Quantity:       intent.Quantity,
		RequestedPrice: intent.Price,
		State:          models.OrderStatePending,
		ReservationID:  intent.ReservationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	om.byKey[key] = order
	om.byID[order.ID] = order
	om.mu.Unlock()

	// Сетевой вызов вне mutex: конкурентный Submit того же ключа
	// уже видит PENDING-ордер и не дойдёт сюда
	ack, err := om.transport.Place(ctx, intent)
	if err != nil {
		om.rejectOrder(ctx, order, err.Error())
		return order, fmt.Errorf("place order %s: %w", order.ID, err)
	}

	om.mu.Lock()
	order.ExternalID = ack.ExternalID
	order.State = models.OrderStateSubmitted
	order.UpdatedAt = time.Now()
	om.byExternal[ack.ExternalID] = order
	om.mu.Unlock()

	OrdersSubmitted.WithLabelValues(order.Symbol, order.Side).Inc()
	om.persistOrder(ctx, order)
	return order, nil
}

// Cancel запрашивает отмену ордера на бирже. Подтверждение отмены
// приходит асинхронно через OnExternalUpdate.
func (om *OrderManager) Cancel(ctx context.Context, orderID string) error {
	om.mu.Lock()
	order, ok := om.byID[orderID]
	if !ok {
		om.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if order.IsTerminal() {
		om.mu.Unlock()
		return fmt.Errorf("%w: %s (%s)", ErrOrderTerminal, orderID, order.State)
	}
	externalID := order.ExternalID
	om.mu.Unlock()

	if externalID == "" {
		// Биржа ордер не видела: отменяем локально
		om.mu.Lock()
		om.transitionLocked(order, models.OrderStateCancelled, "cancelled before submit")
		om.mu.Unlock()
		om.finishTerminal(ctx, order)
		return nil
	}
	return om.transport.Cancel(ctx, externalID)
}

// OnExternalUpdate применяет внешнее уведомление биржи к state machine.
//
// Неизвестный ID - не ошибка протокола: после рестарта WebSocket может
// прислать событие раньше, чем recovery восстановит ордер. Менеджер
// сверяется с биржей через FetchStatus и принимает ордер во владение.
func (om *OrderManager) OnExternalUpdate(ctx context.Context, update *models.OrderUpdate) error {
	if update == nil || update.OrderID == "" {
		return fmt.Errorf("%w: empty order update", ErrContractViolation)
	}

	om.mu.Lock()
	order, ok := om.byID[update.OrderID]
	if !ok {
		order, ok = om.byExternal[update.OrderID]
	}
	om.mu.Unlock()

	if !ok {
		var err error
		order, err = om.reconcileUnknown(ctx, update.OrderID)
		if err != nil {
			return err
		}
	}

	switch update.Status {
	case models.UpdateStatusFill:
		return om.applyFill(ctx, order, update.Fill)
	case models.UpdateStatusCancelled:
		return om.applyTerminal(ctx, order, models.OrderStateCancelled, update.Reason)
	case models.UpdateStatusRejected:
		return om.applyTerminal(ctx, order, models.OrderStateRejected, update.Reason)
	default:
		return fmt.Errorf("%w: unknown update status %q", ErrContractViolation, update.Status)
	}
}

// Adopt принимает ордер во владение без отправки на биржу
// (восстановление из журнала при старте)
func (om *OrderManager) Adopt(order *models.Order) {
	if order == nil {
		return
	}
	om.mu.Lock()
	om.byID[order.ID] = order
	if order.IdempotencyKey != "" {
		om.byKey[order.IdempotencyKey] = order
	}
	if order.ExternalID != "" {
		om.byExternal[order.ExternalID] = order
	}
	om.mu.Unlock()
}

// Get возвращает ордер по внутреннему ID
func (om *OrderManager) Get(orderID string) (*models.Order, bool) {
	om.mu.Lock()
	defer om.mu.Unlock()
	order, ok := om.byID[orderID]
	return order, ok
}

// OpenOrders возвращает ордера в нетерминальных состояниях
func (om *OrderManager) OpenOrders() []*models.Order {
	om.mu.Lock()
	defer om.mu.Unlock()

	var open []*models.Order
	for _, order := range om.byID {
		if !order.IsTerminal() && order.State != models.OrderStateUnknown {
			open = append(open, order)
		}
	}
	return open
}

// MarkUnknown переводит все нетерминальные ордера инстанса в UNKNOWN.
// Вызывается при принудительной остановке: судьба ордеров на бирже
// неизвестна, сверка произойдёт при следующем старте.
func (om *OrderManager) MarkUnknown(ctx context.Context, instanceID string) []*models.Order {
	om.mu.Lock()
	var marked []*models.Order
	for _, order := range om.byID {
		if order.InstanceID != instanceID || order.IsTerminal() || order.State == models.OrderStateUnknown {
			continue
		}
		order.State = models.OrderStateUnknown
		order.UpdatedAt = time.Now()
		marked = append(marked, order)
	}
	om.mu.Unlock()

	for _, order := range marked {
		om.persistOrder(ctx, order)
	}
	return marked
}

// ============ ВНУТРЕННЕЕ ============

// canAdvanceOrder проверяет монотонность перехода ордера
func canAdvanceOrder(from, to string) bool {
	if models.IsTerminalOrderState(from) {
		return false
	}
	switch from {
	case models.OrderStatePending:
		// REJECTED напрямую из PENDING: транспорт отказал до подтверждения
		return to == models.OrderStateSubmitted || to == models.OrderStateCancelled ||
			to == models.OrderStateRejected || to == models.OrderStateUnknown
	case models.OrderStateSubmitted:
		return to == models.OrderStatePartiallyFilled || to == models.OrderStateFilled ||
			to == models.OrderStateCancelled || to == models.OrderStateRejected ||
			to == models.OrderStateUnknown
	case models.OrderStatePartiallyFilled:
		return to == models.OrderStateFilled || to == models.OrderStateCancelled ||
			to == models.OrderStateRejected || to == models.OrderStateUnknown
	case models.OrderStateUnknown:
		// После сверки ордер может оказаться в любом состоянии
		return true
	default:
		return false
	}
}

// transitionLocked двигает state machine (вызывать под mutex).
// Регрессивные переходы молча отбрасываются: биржа может прислать
// устаревшее событие после реконнекта.
func (om *OrderManager) transitionLocked(order *models.Order, to, reason string) bool {
	if !canAdvanceOrder(order.State, to) {
		return false
	}
	order.State = to
	order.UpdatedAt = time.Now()
	if reason != "" {
		order.ErrorMessage = reason
	}
	if to == models.OrderStateFilled {
		now := time.Now()
		order.FilledAt = &now
	}
	return true
}

// applyFill применяет исполнение: накапливает FilledQty со средневзвешенной
// ценой, двигает PARTIALLY_FILLED → FILLED при полном объёме
func (om *OrderManager) applyFill(ctx context.Context, order *models.Order, fill *models.Fill) error {
	if fill == nil || fill.FillID == "" {
		return fmt.Errorf("%w: fill update without fill", ErrContractViolation)
	}

	om.mu.Lock()
	if om.seenFills[fill.FillID] {
		om.mu.Unlock()
		return nil // повтор после реконнекта
	}
	if order.IsTerminal() {
		om.mu.Unlock()
		return nil // устаревшее событие
	}
	om.seenFills[fill.FillID] = true

	qty := fill.Quantity
	if qty > order.RemainingQty() {
		qty = order.RemainingQty() // биржа не может исполнить больше заявки
	}
	prevNotional := order.FilledQty * order.AvgFillPrice
	order.FilledQty += qty
	if order.FilledQty > 0 {
		order.AvgFillPrice = (prevNotional + qty*fill.Price) / order.FilledQty
	}

	filled := order.RemainingQty() <= 1e-9
	if filled {
		om.transitionLocked(order, models.OrderStateFilled, "")
	} else {
		om.transitionLocked(order, models.OrderStatePartiallyFilled, "")
	}
	fillHook := om.onFill
	om.mu.Unlock()

	om.persistFill(ctx, fill)
	om.persistOrder(ctx, order)

	if fillHook != nil {
		fillHook(order, fill)
	}
	if filled {
		om.finishTerminal(ctx, order)
	}
	return nil
}

// applyTerminal завершает ордер отменой или отказом биржи
func (om *OrderManager) applyTerminal(ctx context.Context, order *models.Order, state, reason string) error {
	om.mu.Lock()
	moved := om.transitionLocked(order, state, reason)
	om.mu.Unlock()

	if !moved {
		return nil // регрессивное или повторное событие
	}
	om.persistOrder(ctx, order)
	om.finishTerminal(ctx, order)
	return nil
}

// rejectOrder - локальный отказ до подтверждения биржей
func (om *OrderManager) rejectOrder(ctx context.Context, order *models.Order, reason string) {
	om.mu.Lock()
	om.transitionLocked(order, models.OrderStateRejected, reason)
	om.mu.Unlock()
	om.persistOrder(ctx, order)
	om.finishTerminal(ctx, order)
}

// finishTerminal освобождает остаток резервации и зовёт terminal hook.
// Для частично исполненного ордера RecordFill уже списал исполненную
// часть: Release возвращает только несработавший остаток.
func (om *OrderManager) finishTerminal(ctx context.Context, order *models.Order) {
	OrdersTerminal.WithLabelValues(order.Symbol, order.State).Inc()
	OrderExecutionLatency.WithLabelValues(order.Symbol, order.Side).
		Observe(float64(time.Since(order.CreatedAt).Milliseconds()))

	if om.risk != nil && order.ReservationID != "" {
		// ErrUnknownReservation означает что резервация уже
		// полностью сконвертирована в экспозицию
		if err := om.risk.Release(order.ReservationID); err != nil && !errors.Is(err, ErrUnknownReservation) {
			order.ErrorMessage = err.Error()
		}
	}

	om.mu.Lock()
	hook := om.onTerminal
	om.mu.Unlock()
	if hook != nil {
		hook(order)
	}
}

// reconcileUnknown сверяет неизвестный внешний ID с биржей
func (om *OrderManager) reconcileUnknown(ctx context.Context, externalID string) (*models.Order, error) {
	fetched, err := om.transport.FetchStatus(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("reconcile order %s: %w", externalID, err)
	}
	om.Adopt(fetched)
	om.persistOrder(ctx, fetched)
	return fetched, nil
}

func (om *OrderManager) persistOrder(ctx context.Context, order *models.Order) {
	if om.repo == nil {
		return
	}
	// Журнал append-only: ошибка записи не трогает состояние в памяти,
	// но мёртвый журнал должен быть виден в логах
	if err := om.repo.SaveOrder(ctx, order); err != nil {
		utils.Warn("order journal write failed",
			utils.OrderID(order.ID), utils.Err(err))
	}
}

func (om *OrderManager) persistFill(ctx context.Context, fill *models.Fill) {
	if om.repo == nil {
		return
	}
	if err := om.repo.SaveFill(ctx, fill); err != nil {
		utils.Warn("fill journal write failed",
			utils.String("fill_id", fill.FillID), utils.Err(err))
	}
}
