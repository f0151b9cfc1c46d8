package models

import (
	"fmt"
	"time"
)

// Стороны ордера
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Состояния ордера (state machine)
//
// Pending → Submitted → {PartiallyFilled → Filled | Cancelled | Rejected}
//
// Переходы монотонны: терминальное состояние (FILLED, CANCELLED, REJECTED)
// не может быть переоткрыто или отменено. UNKNOWN - особый случай после
// принудительной остановки: ордер ждёт сверки с биржей при следующем старте.
const (
	OrderStatePending         = "PENDING"          // интент принят, на биржу не отправлен
	OrderStateSubmitted       = "SUBMITTED"        // отправлен и подтверждён биржей
	OrderStatePartiallyFilled = "PARTIALLY_FILLED" // исполнен частично
	OrderStateFilled          = "FILLED"           // исполнен полностью (терминальное)
	OrderStateCancelled       = "CANCELLED"        // отменён (терминальное)
	OrderStateRejected        = "REJECTED"         // отклонён биржей (терминальное)
	OrderStateUnknown         = "UNKNOWN"          // судьба неизвестна, требуется сверка
)

// IsTerminalOrderState возвращает true для финальных состояний
func IsTerminalOrderState(state string) bool {
	switch state {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejected:
		return true
	default:
		return false
	}
}

// OrderIntent - намерение инстанса выставить ордер.
// DecisionSeq - порядковый номер решения инстанса; вместе с InstanceID
// он детерминированно задаёт idempotency key.
type OrderIntent struct {
	InstanceID    string  `json:"instance_id"`
	DecisionSeq   uint64  `json:"decision_seq"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"` // buy, sell
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price,omitempty"` // 0 = market
	ReservationID string  `json:"reservation_id,omitempty"`
	Reason        string  `json:"reason,omitempty"` // тип сигнала-источника
}

// IdempotencyKey детерминированно выводит ключ из (инстанс, номер решения).
// Повторная отправка того же решения никогда не создаёт дубликат ордера.
func (i *OrderIntent) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", i.InstanceID, i.DecisionSeq)
}

// Order - ордер во владении Order Manager до терминального состояния
type Order struct {
	ID             string     `json:"id" db:"id"`                   // внутренний ID
	ExternalID     string     `json:"external_id" db:"external_id"` // ID на бирже
	IdempotencyKey string     `json:"idempotency_key" db:"idempotency_key"`
	InstanceID     string     `json:"instance_id" db:"instance_id"`
	Symbol         string     `json:"symbol" db:"symbol"`
	Side           string     `json:"side" db:"side"`
	Quantity       float64    `json:"quantity" db:"quantity"`
	FilledQty      float64    `json:"filled_qty" db:"filled_qty"`
	AvgFillPrice   float64    `json:"avg_fill_price" db:"avg_fill_price"`
	RequestedPrice float64    `json:"requested_price" db:"requested_price"` // 0 = market
	State          string     `json:"state" db:"state"`
	ReservationID  string     `json:"reservation_id,omitempty" db:"reservation_id"`
	ErrorMessage   string     `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	FilledAt       *time.Time `json:"filled_at,omitempty" db:"filled_at"`
}

// IsTerminal возвращает true если ордер в финальном состоянии
func (o *Order) IsTerminal() bool {
	return IsTerminalOrderState(o.State)
}

// RemainingQty возвращает неисполненный остаток
func (o *Order) RemainingQty() float64 {
	rem := o.Quantity - o.FilledQty
	if rem < 0 {
		return 0
	}
	return rem
}

// Fill - исполнение (полное или частичное) ордера на бирже.
// FillID уникален на стороне биржи: применение одного fill дважды
// должно менять состояние ровно один раз (идемпотентность).
type Fill struct {
	FillID    string    `json:"fill_id" db:"fill_id"`
	OrderID   string    `json:"order_id" db:"order_id"`
	Symbol    string    `json:"symbol" db:"symbol"`
	Side      string    `json:"side" db:"side"`
	Quantity  float64   `json:"quantity" db:"quantity"`
	Price     float64   `json:"price" db:"price"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Статусы внешних обновлений от биржи
const (
	UpdateStatusFill      = "fill"      // частичное или полное исполнение
	UpdateStatusCancelled = "cancelled" // ордер отменён биржей
	UpdateStatusRejected  = "rejected"  // ордер отклонён биржей
)

// OrderUpdate - внешнее уведомление от биржи (fill/cancel/reject),
// двигающее state machine ордера вперёд
type OrderUpdate struct {
	OrderID string `json:"order_id"` // внутренний или внешний ID
	Status  string `json:"status"`   // fill, cancelled, rejected
	Fill    *Fill  `json:"fill,omitempty"`
	Reason  string `json:"reason,omitempty"`
}
