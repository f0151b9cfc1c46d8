package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"xbot/internal/models"
)

// PaperTransport - бумажная (симулируемая) реализация OrderTransport.
//
// Используется в testnet режиме и в тестах движка:
//   - рыночные ордера исполняются по последней известной цене символа
//   - исполнение приходит асинхронным OrderUpdate, как у настоящей биржи
//   - в ручном режиме (autoFill=false) исполнение управляется тестом
//     через EmitFill/EmitCancel
type PaperTransport struct {
	name      string
	autoFill  bool
	fillDelay time.Duration

	mu         sync.Mutex
	markPrices map[string]float64
	orders     map[string]*models.Order // по external ID
	seq        int
	fillSeq    int
	cb         func(*models.OrderUpdate)
}

// NewPaperTransport создаёт бумажный транспорт.
// autoFill=true - немедленное полное исполнение рыночных ордеров.
func NewPaperTransport(name string, autoFill bool, fillDelay time.Duration) *PaperTransport {
	return &PaperTransport{
		name:       name,
		autoFill:   autoFill,
		fillDelay:  fillDelay,
		markPrices: make(map[string]float64),
		orders:     make(map[string]*models.Order),
	}
}

// Name возвращает имя биржи
func (p *PaperTransport) Name() string {
	return p.name
}

// SetMarkPrice устанавливает текущую цену символа для исполнения
func (p *PaperTransport) SetMarkPrice(symbol string, price float64) {
	p.mu.Lock()
	p.markPrices[symbol] = price
	p.mu.Unlock()
}

// Place принимает ордер и (в режиме autoFill) планирует его исполнение
func (p *PaperTransport) Place(ctx context.Context, intent *models.OrderIntent) (*Ack, error) {
	select {
	case <-ctx.Done():
		return nil, NewError(p.name, ErrKindTimeout, "place cancelled", ctx.Err())
	default:
	}

	if intent.Quantity <= 0 {
		return nil, NewError(p.name, ErrKindInvalidRequest, "non-positive quantity", nil)
	}

	p.mu.Lock()
	price := intent.Price
	if price == 0 {
		price = p.markPrices[intent.Symbol]
	}
	if price == 0 {
		p.mu.Unlock()
		return nil, NewError(p.name, ErrKindInvalidRequest,
			fmt.Sprintf("no mark price for %s", intent.Symbol), nil)
	}

	p.seq++
	externalID := fmt.Sprintf("%s-%d", p.name, p.seq)
	order := &models.Order{
		ID:             externalID,
		ExternalID:     externalID,
		IdempotencyKey: intent.IdempotencyKey(),
		InstanceID:     intent.InstanceID,
		Symbol:         intent.Symbol,
		Side:           intent.Side,
		Quantity:       intent.Quantity,
		RequestedPrice: intent.Price,
		State:          models.OrderStateSubmitted,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	p.orders[externalID] = order
	autoFill := p.autoFill
	p.mu.Unlock()

	if autoFill {
		go func() {
			if p.fillDelay > 0 {
				time.Sleep(p.fillDelay)
			}
			p.EmitFill(externalID, intent.Quantity, price)
		}()
	}

	return &Ack{ExternalID: externalID}, nil
}

// Cancel отменяет нетерминальный ордер
func (p *PaperTransport) Cancel(ctx context.Context, externalID string) error {
	select {
	case <-ctx.Done():
		return NewError(p.name, ErrKindTimeout, "cancel cancelled", ctx.Err())
	default:
	}

	p.mu.Lock()
	order, ok := p.orders[externalID]
	if !ok {
		p.mu.Unlock()
		return NewError(p.name, ErrKindUnknownOrder, "unknown order "+externalID, ErrOrderNotFound)
	}
	if order.IsTerminal() {
		p.mu.Unlock()
		return NewError(p.name, ErrKindInvalidRequest, "order already terminal", nil)
	}
	order.State = models.OrderStateCancelled
	order.UpdatedAt = time.Now()
	cb := p.cb
	p.mu.Unlock()

	if cb != nil {
		cb(&models.OrderUpdate{OrderID: externalID, Status: models.UpdateStatusCancelled})
	}
	return nil
}

// FetchStatus возвращает копию авторитетного состояния ордера
func (p *PaperTransport) FetchStatus(ctx context.Context, externalID string) (*models.Order, error) {
	select {
	case <-ctx.Done():
		return nil, NewError(p.name, ErrKindTimeout, "fetch cancelled", ctx.Err())
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[externalID]
	if !ok {
		return nil, NewError(p.name, ErrKindUnknownOrder, "unknown order "+externalID, ErrOrderNotFound)
	}
	cp := *order
	return &cp, nil
}

// OpenOrders возвращает копии всех нетерминальных ордеров
func (p *PaperTransport) OpenOrders(ctx context.Context) ([]*models.Order, error) {
	select {
	case <-ctx.Done():
		return nil, NewError(p.name, ErrKindTimeout, "fetch cancelled", ctx.Err())
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var open []*models.Order
	for _, order := range p.orders {
		if !order.IsTerminal() {
			cp := *order
			open = append(open, &cp)
		}
	}
	return open, nil
}

// SubscribeUpdates регистрирует callback на поток обновлений
func (p *PaperTransport) SubscribeUpdates(cb func(*models.OrderUpdate)) error {
	p.mu.Lock()
	p.cb = cb
	p.mu.Unlock()
	return nil
}

// Close освобождает ресурсы (для бумажного транспорта - no-op)
func (p *PaperTransport) Close() error {
	return nil
}

// EmitFill эмитит исполнение ордера (частичное или полное).
// Повторный вызов для исполненного ордера игнорируется.
func (p *PaperTransport) EmitFill(externalID string, qty, price float64) {
	p.mu.Lock()
	order, ok := p.orders[externalID]
	if !ok || order.IsTerminal() {
		p.mu.Unlock()
		return
	}
	if qty > order.RemainingQty() {
		qty = order.RemainingQty()
	}

	filled := order.FilledQty + qty
	order.AvgFillPrice = (order.AvgFillPrice*order.FilledQty + price*qty) / filled
	order.FilledQty = filled
	if order.RemainingQty() == 0 {
		order.State = models.OrderStateFilled
		now := time.Now()
		order.FilledAt = &now
	} else {
		order.State = models.OrderStatePartiallyFilled
	}
	order.UpdatedAt = time.Now()

	p.fillSeq++
	fill := &models.Fill{
		FillID:    fmt.Sprintf("%s-fill-%d", p.name, p.fillSeq),
		OrderID:   externalID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  qty,
		Price:     price,
		Timestamp: time.Now(),
	}
	cb := p.cb
	p.mu.Unlock()

	if cb != nil {
		cb(&models.OrderUpdate{OrderID: externalID, Status: models.UpdateStatusFill, Fill: fill})
	}
}
