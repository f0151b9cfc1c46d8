package exchange

import (
	"context"
	"errors"

	"xbot/internal/models"
)

// Классы ошибок транспорта.
//
// Таксономия для движка:
// - timeout, rate_limited, network → Recoverable (retry с backoff)
// - auth, permission → Fatal (инстанс в ERROR, без retry)
// - insufficient_funds, invalid_request → ордер отклоняется, не ретраится
const (
	ErrKindTimeout           = "timeout"
	ErrKindRateLimited       = "rate_limited"
	ErrKindNetwork           = "network"
	ErrKindAuth              = "auth"
	ErrKindPermission        = "permission"
	ErrKindInsufficientFunds = "insufficient_funds"
	ErrKindInvalidRequest    = "invalid_request"
	ErrKindUnknownOrder      = "unknown_order"
)

// ErrOrderNotFound возвращается FetchStatus для неизвестного бирже ордера
var ErrOrderNotFound = errors.New("exchange: order not found")

// Error - типизированная ошибка биржи
type Error struct {
	Exchange string
	Kind     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Exchange + ": " + e.Message
	}
	if e.Err != nil {
		return e.Exchange + ": " + e.Err.Error()
	}
	return e.Exchange + ": " + e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable реализует retry.RetryableError: транзиентные ошибки ретраятся
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrKindTimeout, ErrKindRateLimited, ErrKindNetwork:
		return true
	default:
		return false
	}
}

// Temporary - совместимость со стандартным net-style контрактом
func (e *Error) Temporary() bool {
	return e.Retryable()
}

// IsFatal возвращает true для ошибок аутентификации/прав:
// повторная попытка бессмысленна, инстанс должен перейти в ERROR
func (e *Error) IsFatal() bool {
	return e.Kind == ErrKindAuth || e.Kind == ErrKindPermission
}

// NewError создаёт типизированную ошибку биржи
func NewError(exchange, kind, message string, err error) *Error {
	return &Error{Exchange: exchange, Kind: kind, Message: message, Err: err}
}

// Ack - подтверждение приёма ордера биржей
type Ack struct {
	ExternalID string `json:"external_id"` // ID ордера на стороне биржи
}

// OrderTransport - узкий контракт движка к торговому транспорту биржи.
//
// Конкретная реализация (REST/WebSocket клиент, подписи, бухгалтерия
// rate-limit'ов) - внешний коллаборатор. Движку нужны только эти операции,
// каждая с ограниченным таймаутом через context.
type OrderTransport interface {
	// Name возвращает имя биржи
	Name() string

	// Place отправляет ордер. Успех = ордер принят биржей (не исполнен)
	Place(ctx context.Context, intent *models.OrderIntent) (*Ack, error)

	// Cancel отменяет ордер по внешнему ID
	Cancel(ctx context.Context, externalID string) error

	// FetchStatus возвращает авторитетное состояние ордера.
	// Используется для сверки после рестарта или потери обновлений.
	FetchStatus(ctx context.Context, externalID string) (*models.Order, error)

	// OpenOrders возвращает все нетерминальные ордера.
	// Read path только для стартовой сверки.
	OpenOrders(ctx context.Context) ([]*models.Order, error)

	// SubscribeUpdates подписывает callback на поток fill/cancel/reject
	// уведомлений. Доставка не блокирует транспорт.
	SubscribeUpdates(cb func(*models.OrderUpdate)) error

	// Close закрывает соединения с биржей
	Close() error
}
