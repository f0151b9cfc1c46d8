package bot

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"xbot/internal/models"
)

// Ошибки риск-менеджмента
var (
	// ErrReservationDenied - резервация отклонена (лимит экспозиции/капитала)
	ErrReservationDenied = errors.New("risk reservation denied")
	// ErrDrawdownBreach - просадка превысила потолок, торговля заморожена
	ErrDrawdownBreach = errors.New("drawdown ceiling breached")
	// ErrUnknownReservation - release по несуществующей резервации
	ErrUnknownReservation = errors.New("unknown reservation")
)

// RiskConfig - лимиты общего для всех инстансов риск-бюджета
type RiskConfig struct {
	// AllocatedCapital - выделенный на торговлю капитал (quote валюта)
	AllocatedCapital float64
	// MaxPositionSize - доля капитала на экспозицию одного символа (0..1]
	MaxPositionSize float64
	// MaxDrawdown - потолок реализованной просадки от пика equity (0..1]
	MaxDrawdown float64
}

// Reservation - зарезервированный под ордер кусок капитала
type Reservation struct {
	ID         string
	InstanceID string
	Symbol     string
	Notional   float64
	CreatedAt  time.Time
}

// LedgerSnapshot - read-only срез леджера для стратегий и оператора
type LedgerSnapshot struct {
	AllocatedCapital float64            `json:"allocated_capital"`
	AvailableCapital float64            `json:"available_capital"`
	OpenExposure     map[string]float64 `json:"open_exposure"` // по символам
	TotalReserved    float64            `json:"total_reserved"`
	RealizedPNL      float64            `json:"realized_pnl"`
	Equity           float64            `json:"equity"`
	PeakEquity       float64            `json:"peak_equity"`
	Drawdown         float64            `json:"drawdown"` // доля от пика
	Breached         bool               `json:"breached"`
}

// Accountant - process-wide бухгалтер риска, общий для всех инстансов.
//
// Единственный владелец RiskLedger: никакой компонент не читает и не пишет
// поля леджера напрямую, только через атомарные операции под одним mutex.
// Классический reserve-before-act: проверка лимита и резервация - одна
// операция, два конкурентных инстанса не могут вдвоём пробить общий лимит.
//
// Инварианты:
//   - экспозиция символа (открытая + зарезервированная) ≤ MaxPositionSize × капитал
//   - суммарная экспозиция ≤ капитал
//   - просадка от пика equity > MaxDrawdown ⇒ breach: все новые резервации
//     отклоняются, Scheduler ставит все инстансы на паузу
type Accountant struct {
	mu  sync.Mutex
	cfg RiskConfig

	exposure     map[string]float64 // открытая экспозиция по символам (notional)
	reserved     map[string]*Reservation
	reservedSym  map[string]float64 // сумма резерваций по символам
	appliedFills map[string]bool    // идемпотентность RecordFill по fill ID

	realizedPNL float64
	peakEquity  float64
	breached    bool
	seq         uint64

	// onBreach вызывается ровно один раз при пробое просадки
	// (Scheduler использует его для паузы всех инстансов)
	onBreach func(snapshot LedgerSnapshot)
}

// NewAccountant создаёт бухгалтера риска
func NewAccountant(cfg RiskConfig) *Accountant {
	return &Accountant{
		cfg:          cfg,
		exposure:     make(map[string]float64),
		reserved:     make(map[string]*Reservation),
		reservedSym:  make(map[string]float64),
		appliedFills: make(map[string]bool),
		peakEquity:   cfg.AllocatedCapital,
	}
}

// SetBreachHook устанавливает callback на пробой просадки.
// Вызывать до старта торговли.
func (a *Accountant) SetBreachHook(fn func(snapshot LedgerSnapshot)) {
	a.mu.Lock()
	a.onBreach = fn
	a.mu.Unlock()
}

// TryReserve атомарно проверяет лимиты и резервирует notional под ордер.
// Возвращает ID резервации или ошибку, оборачивающую ErrReservationDenied.
func (a *Accountant) TryReserve(instanceID, symbol string, notional float64) (string, error) {
	if notional <= 0 {
		return "", fmt.Errorf("%w: non-positive notional %.8f", ErrReservationDenied, notional)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.breached {
		RiskReservations.WithLabelValues(symbol, "denied").Inc()
		return "", fmt.Errorf("%w: %w", ErrReservationDenied, ErrDrawdownBreach)
	}

	symbolCap := a.cfg.MaxPositionSize * a.cfg.AllocatedCapital
	if symbolCap > 0 && a.exposure[symbol]+a.reservedSym[symbol]+notional > symbolCap {
		RiskReservations.WithLabelValues(symbol, "denied").Inc()
		return "", fmt.Errorf("%w: symbol exposure %.2f + %.2f would exceed cap %.2f",
			ErrReservationDenied, a.exposure[symbol], notional, symbolCap)
	}

	var totalExposure float64
	for _, e := range a.exposure {
		totalExposure += e
	}
	var totalReserved float64
	for _, r := range a.reservedSym {
		totalReserved += r
	}
	if totalExposure+totalReserved+notional > a.cfg.AllocatedCapital {
		RiskReservations.WithLabelValues(symbol, "denied").Inc()
		return "", fmt.Errorf("%w: insufficient capital (%.2f available)",
			ErrReservationDenied, a.cfg.AllocatedCapital-totalExposure-totalReserved)
	}

	RiskReservations.WithLabelValues(symbol, "granted").Inc()
	a.seq++
	res := &Reservation{
		ID:         fmt.Sprintf("res-%s-%d", instanceID, a.seq),
		InstanceID: instanceID,
		Symbol:     symbol,
		Notional:   notional,
		CreatedAt:  time.Now(),
	}
	a.reserved[res.ID] = res
	a.reservedSym[symbol] += notional
	return res.ID, nil
}

// Release возвращает зарезервированную ёмкость (отклонение/отмена ордера).
// Идемпотентен: повторный release неизвестной резервации - ErrUnknownReservation.
func (a *Accountant) Release(reservationID string) error {
	if reservationID == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	res, ok := a.reserved[reservationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReservation, reservationID)
	}
	a.freeLocked(res)
	return nil
}

// freeLocked удаляет резервацию из индексов (вызывать под mutex)
func (a *Accountant) freeLocked(res *Reservation) {
	delete(a.reserved, res.ID)
	a.reservedSym[res.Symbol] -= res.Notional
	if a.reservedSym[res.Symbol] <= 0 {
		delete(a.reservedSym, res.Symbol)
	}
}

// RecordFill применяет исполнение к леджеру. Идемпотентен по fill ID:
// повторное применение того же fill (например, после реконнекта) меняет
// состояние ровно один раз.
//
// reservationID != "" - входной fill: notional переходит из резервации
// в открытую экспозицию. reservationID == "" - выходной fill: экспозиция
// уменьшается, realizedPNL (посчитанный инстансом-владельцем позиции)
// учитывается в equity и просадке.
func (a *Accountant) RecordFill(fill *models.Fill, reservationID string, realizedPNL float64) error {
	if fill == nil || fill.FillID == "" {
		return fmt.Errorf("%w: fill without ID", ErrCorruptedState)
	}

	a.mu.Lock()

	if a.appliedFills[fill.FillID] {
		a.mu.Unlock()
		return nil // уже применён
	}
	a.appliedFills[fill.FillID] = true

	notional := fill.Quantity * fill.Price

	if reservationID != "" {
		// Входной fill: резервация (частично) конвертируется в экспозицию
		if res, ok := a.reserved[reservationID]; ok {
			consumed := notional
			if consumed > res.Notional {
				consumed = res.Notional
			}
			res.Notional -= consumed
			a.reservedSym[res.Symbol] -= consumed
			if res.Notional <= 0 {
				a.freeLocked(res)
			}
		}
		a.exposure[fill.Symbol] += notional
	} else {
		// Выходной fill: экспозиция уменьшается, PnL реализуется
		a.exposure[fill.Symbol] -= notional
		if a.exposure[fill.Symbol] <= 0 {
			delete(a.exposure, fill.Symbol)
		}
		a.realizedPNL += realizedPNL
	}

	// Обновление пика и проверка просадки
	equity := a.cfg.AllocatedCapital + a.realizedPNL
	if equity > a.peakEquity {
		a.peakEquity = equity
	}
	PnlTotal.Set(a.realizedPNL)
	RiskExposure.WithLabelValues(fill.Symbol).Set(a.exposure[fill.Symbol])
	if a.peakEquity > 0 {
		RiskDrawdown.Set((a.peakEquity - equity) / a.peakEquity)
	}
	var hook func(LedgerSnapshot)
	var snapshot LedgerSnapshot
	breach := false
	if !a.breached && a.cfg.MaxDrawdown > 0 && a.peakEquity > 0 {
		drawdown := (a.peakEquity - equity) / a.peakEquity
		if drawdown > a.cfg.MaxDrawdown {
			a.breached = true
			breach = true
			hook = a.onBreach
			snapshot = a.snapshotLocked()
		}
	}
	a.mu.Unlock()

	if breach {
		// Hook зовётся вне mutex: он ставит инстансы на паузу
		// и может повторно обращаться к бухгалтеру
		if hook != nil {
			hook(snapshot)
		}
		return ErrDrawdownBreach
	}
	return nil
}

// Breached возвращает true если просадка пробита и торговля заморожена
func (a *Accountant) Breached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.breached
}

// ResetBreach снимает заморозку. Только по явной команде оператора.
func (a *Accountant) ResetBreach() {
	a.mu.Lock()
	a.breached = false
	a.peakEquity = a.cfg.AllocatedCapital + a.realizedPNL
	a.mu.Unlock()
}

// Snapshot возвращает копию состояния леджера
func (a *Accountant) Snapshot() LedgerSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Accountant) snapshotLocked() LedgerSnapshot {
	exposure := make(map[string]float64, len(a.exposure))
	var totalExposure float64
	for sym, e := range a.exposure {
		exposure[sym] = e
		totalExposure += e
	}
	var totalReserved float64
	for _, r := range a.reservedSym {
		totalReserved += r
	}

	equity := a.cfg.AllocatedCapital + a.realizedPNL
	var drawdown float64
	if a.peakEquity > 0 && equity < a.peakEquity {
		drawdown = (a.peakEquity - equity) / a.peakEquity
	}

	return LedgerSnapshot{
		AllocatedCapital: a.cfg.AllocatedCapital,
		AvailableCapital: a.cfg.AllocatedCapital - totalExposure - totalReserved,
		OpenExposure:     exposure,
		TotalReserved:    totalReserved,
		RealizedPNL:      a.realizedPNL,
		Equity:           equity,
		PeakEquity:       a.peakEquity,
		Drawdown:         drawdown,
		Breached:         a.breached,
	}
}
