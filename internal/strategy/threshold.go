package strategy

import (
	"context"
	"fmt"

	"xbot/internal/models"
)

// IndicatorFunc вычисляет значение индикатора по окну свечей.
// Формулы конкретных индикаторов - внешняя ответственность;
// движку важно только итоговое число.
type IndicatorFunc func(candles []*models.Candle) float64

// LastClose - индикатор по умолчанию: цена закрытия последней свечи
func LastClose(candles []*models.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	return candles[len(candles)-1].Close
}

// Threshold - пороговая стратегия:
// Buy когда индикатор < Lower и нет позиции,
// Sell когда индикатор > Upper и позиция открыта,
// иначе Hold.
type Threshold struct {
	BaseStrategy

	Lower     float64
	Upper     float64
	Indicator IndicatorFunc
}

// NewThreshold создаёт пороговую стратегию с заданными уровнями
func NewThreshold(lower, upper float64) *Threshold {
	return &Threshold{Lower: lower, Upper: upper, Indicator: LastClose}
}

// Name возвращает имя стратегии
func (s *Threshold) Name() string {
	return "threshold"
}

// Setup принимает параметры lower/upper; неизвестные ключи - ошибка
func (s *Threshold) Setup(params map[string]interface{}) error {
	for key, raw := range params {
		val, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("threshold: param %q must be a number", key)
		}
		switch key {
		case "lower":
			s.Lower = val
		case "upper":
			s.Upper = val
		default:
			return fmt.Errorf("threshold: unknown param %q", key)
		}
	}
	if s.Lower >= s.Upper {
		return fmt.Errorf("threshold: lower %.2f must be below upper %.2f", s.Lower, s.Upper)
	}
	if s.Indicator == nil {
		s.Indicator = LastClose
	}
	return nil
}

// OnCandle принимает решение по значению индикатора
func (s *Threshold) OnCandle(ctx context.Context, dc *Context) (*models.Signal, error) {
	indicator := s.Indicator
	if indicator == nil {
		indicator = LastClose
	}
	value := indicator(dc.Candles)

	switch {
	case value < s.Lower && !dc.HasPosition():
		sig := models.Buy(dc.Symbol)
		sig.Source = s.Name()
		sig.Reason = fmt.Sprintf("indicator %.2f below %.2f", value, s.Lower)
		return sig, nil
	case value > s.Upper && dc.HasPosition():
		sig := models.Sell(dc.Symbol)
		sig.Source = s.Name()
		sig.Reason = fmt.Sprintf("indicator %.2f above %.2f", value, s.Upper)
		return sig, nil
	default:
		return models.Hold(dc.Symbol), nil
	}
}
