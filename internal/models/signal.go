package models

import (
	"errors"
	"fmt"
	"time"
)

// Типы торговых сигналов
const (
	SignalBuy        = "buy"         // открыть лонг
	SignalSell       = "sell"        // закрыть лонг / открыть шорт
	SignalHold       = "hold"        // ничего не делать
	SignalClose      = "close"       // закрыть текущую позицию
	SignalStopLoss   = "stop_loss"   // выход по Stop Loss (генерируется движком)
	SignalTakeProfit = "take_profit" // выход по Take Profit (генерируется движком)
)

// Ошибки валидации сигналов
var (
	ErrUnknownSignalType = errors.New("signal: unknown type")
	ErrBadConfidence     = errors.New("signal: confidence must be in [0.0, 1.0]")
)

// Signal - торговое решение стратегии за один цикл оценки.
//
// Size/Price - необязательные подсказки: движок может скорректировать
// размер под лимиты риска, нулевой Size означает "размер по умолчанию
// из конфигурации инстанса".
type Signal struct {
	Type       string    `json:"type"`
	Symbol     string    `json:"symbol"`
	Confidence float64   `json:"confidence"`            // 0.0 - 1.0
	Size       float64   `json:"size,omitempty"`        // подсказка размера в базовой валюте
	Price      float64   `json:"price,omitempty"`       // подсказка цены исполнения
	StopLoss   float64   `json:"stop_loss,omitempty"`   // подсказка уровня SL
	TakeProfit float64   `json:"take_profit,omitempty"` // подсказка уровня TP
	Reason     string    `json:"reason,omitempty"`      // человекочитаемое обоснование
	Source     string    `json:"source,omitempty"`      // имя стратегии-источника
	Timestamp  time.Time `json:"timestamp"`
}

// Buy создаёт сигнал на открытие лонга
func Buy(symbol string) *Signal {
	return &Signal{Type: SignalBuy, Symbol: symbol, Confidence: 1.0, Timestamp: time.Now()}
}

// Sell создаёт сигнал на продажу
func Sell(symbol string) *Signal {
	return &Signal{Type: SignalSell, Symbol: symbol, Confidence: 1.0, Timestamp: time.Now()}
}

// Hold создаёт сигнал "ничего не делать"
func Hold(symbol string) *Signal {
	return &Signal{Type: SignalHold, Symbol: symbol, Confidence: 1.0, Timestamp: time.Now()}
}

// ClosePosition создаёт сигнал на закрытие позиции
func ClosePosition(symbol string) *Signal {
	return &Signal{Type: SignalClose, Symbol: symbol, Confidence: 1.0, Timestamp: time.Now()}
}

// Validate проверяет контракт сигнала.
// Невалидный сигнал от стратегии - Fatal ошибка (нарушение контракта).
func (s *Signal) Validate() error {
	switch s.Type {
	case SignalBuy, SignalSell, SignalHold, SignalClose, SignalStopLoss, SignalTakeProfit:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSignalType, s.Type)
	}
	if s.Symbol == "" {
		return ErrEmptySymbol
	}
	if s.Confidence < 0.0 || s.Confidence > 1.0 {
		return fmt.Errorf("%w: %.4f", ErrBadConfidence, s.Confidence)
	}
	return nil
}

// IsActionable возвращает true если сигнал требует действия
func (s *Signal) IsActionable() bool {
	return s.Type != SignalHold
}

// IsEntry возвращает true для сигналов открытия позиции
func (s *Signal) IsEntry() bool {
	return s.Type == SignalBuy
}

// IsExit возвращает true для сигналов закрытия позиции
func (s *Signal) IsExit() bool {
	switch s.Type {
	case SignalSell, SignalClose, SignalStopLoss, SignalTakeProfit:
		return true
	default:
		return false
	}
}

func (s *Signal) String() string {
	return fmt.Sprintf("Signal(%s %s confidence=%.2f size=%.8f)", s.Type, s.Symbol, s.Confidence, s.Size)
}
