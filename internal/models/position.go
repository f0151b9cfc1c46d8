package models

import "time"

// Стороны позиции
const (
	PositionLong  = "long"
	PositionShort = "short"
)

// Position - открытая позиция инстанса по одному символу.
//
// Владение: позицию мутирует ТОЛЬКО её инстанс-владелец.
// Не больше одной открытой позиции на (инстанс, символ); в режиме DCA
// докупки сливаются в одну запись со средневзвешенной ценой входа.
type Position struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"` // long, short
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"` // средневзвешенная цена входа
	OpenedAt   time.Time `json:"opened_at"`
}

// AddFill вливает исполнение в позицию со средневзвешенной ценой (DCA/grid)
func (p *Position) AddFill(qty, price float64) {
	total := p.Quantity + qty
	if total <= 0 {
		return
	}
	p.EntryPrice = (p.EntryPrice*p.Quantity + price*qty) / total
	p.Quantity = total
}

// ReduceFill уменьшает позицию и возвращает реализованный PnL закрытой части
func (p *Position) ReduceFill(qty, price float64) float64 {
	if qty > p.Quantity {
		qty = p.Quantity
	}
	var pnl float64
	switch p.Side {
	case PositionLong:
		pnl = (price - p.EntryPrice) * qty
	case PositionShort:
		pnl = (p.EntryPrice - price) * qty
	}
	p.Quantity -= qty
	return pnl
}

// UnrealizedPNL возвращает нереализованный PnL по текущей цене
func (p *Position) UnrealizedPNL(currentPrice float64) float64 {
	switch p.Side {
	case PositionLong:
		return (currentPrice - p.EntryPrice) * p.Quantity
	case PositionShort:
		return (p.EntryPrice - currentPrice) * p.Quantity
	default:
		return 0
	}
}

// IsOpen возвращает true если позиция не пуста
func (p *Position) IsOpen() bool {
	return p != nil && p.Quantity > 0
}
