package models

import (
	"errors"
	"fmt"
	"time"
)

// Типы рыночных событий
const (
	EventKindCandle = "candle" // закрытая или обновляющаяся свеча
	EventKindTick   = "tick"   // отдельная сделка / обновление цены
)

// Ошибки валидации рыночных данных
var (
	ErrEmptySymbol      = errors.New("market event: empty symbol")
	ErrUnknownEventKind = errors.New("market event: unknown kind")
	ErrNoPayload        = errors.New("market event: missing payload")
	ErrMalformedCandle  = errors.New("market event: malformed candle")
	ErrZeroTimestamp    = errors.New("market event: zero timestamp")
)

// Candle - агрегированные OHLCV данные за фиксированный интервал
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`  // 1m, 5m, 15m, 1h, 4h, 1d
	OpenTime  time.Time `json:"open_time"`  // начало интервала
	CloseTime time.Time `json:"close_time"` // конец интервала
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Closed    bool      `json:"closed"` // true = свеча закрыта, можно принимать решение
}

// Validate проверяет целостность OHLCV данных.
// Сломанная свеча не должна попадать в буферы индикаторов.
func (c *Candle) Validate() error {
	if c.Symbol == "" {
		return ErrEmptySymbol
	}
	if c.OpenTime.IsZero() || c.CloseTime.IsZero() {
		return ErrZeroTimestamp
	}
	if c.High < c.Low {
		return fmt.Errorf("%w: high %.8f < low %.8f", ErrMalformedCandle, c.High, c.Low)
	}
	if c.Open < c.Low || c.Open > c.High || c.Close < c.Low || c.Close > c.High {
		return fmt.Errorf("%w: open/close outside [low, high]", ErrMalformedCandle)
	}
	if c.Volume < 0 {
		return fmt.Errorf("%w: negative volume", ErrMalformedCandle)
	}
	return nil
}

// Tick - отдельное обновление цены (сделка или best bid/ask)
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// MarketEvent - единица данных, проходящая через шину событий.
//
// Инварианты:
// - Timestamp строго неубывающий в рамках потока (symbol, kind)
// - событие с нарушенным порядком отклоняется, НЕ переупорядочивается
// - заполнен ровно один payload в соответствии с Kind
type MarketEvent struct {
	Symbol    string    `json:"symbol"`
	Kind      string    `json:"kind"` // candle | tick
	Timestamp time.Time `json:"timestamp"`

	// Payload (ровно один, по Kind)
	Candle *Candle `json:"candle,omitempty"`
	Tick   *Tick   `json:"tick,omitempty"`
}

// Validate проверяет событие перед публикацией на шину
func (e *MarketEvent) Validate() error {
	if e.Symbol == "" {
		return ErrEmptySymbol
	}
	if e.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	switch e.Kind {
	case EventKindCandle:
		if e.Candle == nil {
			return ErrNoPayload
		}
		return e.Candle.Validate()
	case EventKindTick:
		if e.Tick == nil {
			return ErrNoPayload
		}
		if e.Tick.Price <= 0 {
			return fmt.Errorf("%w: non-positive tick price", ErrMalformedCandle)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, e.Kind)
	}
}

// CandleEvent создаёт событие закрытой/обновляющейся свечи
func CandleEvent(c *Candle) *MarketEvent {
	return &MarketEvent{
		Symbol:    c.Symbol,
		Kind:      EventKindCandle,
		Timestamp: c.CloseTime,
		Candle:    c,
	}
}

// TickEvent создаёт событие тика
func TickEvent(t *Tick) *MarketEvent {
	return &MarketEvent{
		Symbol:    t.Symbol,
		Kind:      EventKindTick,
		Timestamp: t.Timestamp,
		Tick:      t,
	}
}
