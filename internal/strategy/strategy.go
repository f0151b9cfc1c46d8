package strategy

import (
	"context"

	"xbot/internal/models"
)

// AccountSnapshot - read-only срез счёта на момент решения
type AccountSnapshot struct {
	AllocatedCapital float64 `json:"allocated_capital"`
	AvailableCapital float64 `json:"available_capital"` // за вычетом резерваций
	Equity           float64 `json:"equity"`
	RealizedDrawdown float64 `json:"realized_drawdown"` // доля от пика equity
}

// Context - read-only контекст одного цикла оценки.
//
// Стратегия НЕ мутирует контекст: окно свечей, позиция и срез счёта -
// копии или снимки, принадлежащие инстансу.
type Context struct {
	InstanceID string
	Symbol     string
	Timeframe  string

	// Candles - окно истории, последний элемент - свеча, вызвавшая оценку
	Candles []*models.Candle

	// Tick - заполнен только при tick-driven вызове OnTick
	Tick *models.Tick

	// Position - текущая открытая позиция или nil
	Position *models.Position

	Account AccountSnapshot
}

// LastCandle возвращает свечу, вызвавшую оценку (nil если окно пусто)
func (c *Context) LastCandle() *models.Candle {
	if len(c.Candles) == 0 {
		return nil
	}
	return c.Candles[len(c.Candles)-1]
}

// HasPosition возвращает true если у инстанса открыта позиция
func (c *Context) HasPosition() bool {
	return c.Position.IsOpen()
}

// Strategy - контракт подключаемой стратегии.
//
// Решение о наличии опциональных методов принимается на этапе композиции:
// встраивание BaseStrategy даёт no-op реализации всего, кроме OnCandle, -
// единственного метода, который стратегия обязана написать сама.
//
// Все методы могут выполнять I/O (например, ходить в сервис анализа)
// и обязаны завершаться в пределах таймаута из ctx. Паника или невалидный
// Signal - нарушение контракта, Fatal для инстанса.
type Strategy interface {
	// Name возвращает имя стратегии для логов и идентификации сигналов
	Name() string

	// Setup вызывается один раз до старта с параметрами из конфигурации.
	// Неизвестные стратегии параметры - ошибка, не молчаливый пропуск.
	Setup(params map[string]interface{}) error

	// OnStart вызывается при запуске инстанса
	OnStart(ctx context.Context) error

	// OnCandle - основная торговая логика, вызывается на каждой
	// ЗАКРЫТОЙ свече. Возвращённый Signal транслируется максимум
	// в один ордер-интент.
	OnCandle(ctx context.Context, dc *Context) (*models.Signal, error)

	// OnTick вызывается на каждом тике, только если инстанс явно
	// включил tick-driven режим. nil-сигнал допустим.
	OnTick(ctx context.Context, dc *Context) (*models.Signal, error)

	// OnOrderFilled вызывается при исполнении ордера инстанса
	OnOrderFilled(ctx context.Context, order *models.Order) error

	// OnError вызывается при Recoverable/Data ошибках инстанса
	OnError(ctx context.Context, err error)

	// OnStop вызывается при остановке инстанса
	OnStop(ctx context.Context) error
}

// BaseStrategy - no-op адаптер опциональных методов контракта.
// Встраивается в конкретные стратегии; OnCandle намеренно отсутствует,
// чтобы его пропуск ловился компилятором.
type BaseStrategy struct{}

// Setup - no-op (стратегия без параметров)
func (BaseStrategy) Setup(params map[string]interface{}) error { return nil }

// OnStart - no-op
func (BaseStrategy) OnStart(ctx context.Context) error { return nil }

// OnTick - no-op (стратегия не tick-driven)
func (BaseStrategy) OnTick(ctx context.Context, dc *Context) (*models.Signal, error) {
	return nil, nil
}

// OnOrderFilled - no-op
func (BaseStrategy) OnOrderFilled(ctx context.Context, order *models.Order) error { return nil }

// OnError - no-op
func (BaseStrategy) OnError(ctx context.Context, err error) {}

// OnStop - no-op
func (BaseStrategy) OnStop(ctx context.Context) error { return nil }
