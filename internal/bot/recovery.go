package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"xbot/internal/exchange"
	"xbot/internal/models"
)

// OrderLoader - доступ к журналу ордеров при старте
type OrderLoader interface {
	// UnresolvedOrders возвращает ордера в нетерминальных состояниях
	// (включая UNKNOWN после принудительной остановки)
	UnresolvedOrders(ctx context.Context) ([]*models.Order, error)
}

// RecoveryConfig - параметры восстановления при старте
type RecoveryConfig struct {
	// Timeout - общий таймаут сверки
	Timeout time.Duration `json:"timeout"`

	// AdoptForeign - принимать во владение открытые на бирже ордера,
	// отсутствующие в журнале (упали между Place и записью).
	// Безопасное значение false: только уведомление.
	AdoptForeign bool `json:"adopt_foreign"`
}

// DefaultRecoveryConfig возвращает безопасные параметры
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{Timeout: 30 * time.Second, AdoptForeign: false}
}

// RecoveryReport - итог сверки при старте
type RecoveryReport struct {
	Checked    int `json:"checked"`     // ордеров из журнала сверено
	Resolved   int `json:"resolved"`    // судьба выяснена (terminal или открыт)
	StillOpen  int `json:"still_open"`  // живы на бирже, приняты во владение
	Vanished   int `json:"vanished"`    // биржа ордер не знает → CANCELLED
	Foreign    int `json:"foreign"`     // на бирже есть, в журнале нет
	FetchFails int `json:"fetch_fails"` // сверка не удалась, остаются UNKNOWN
}

// RecoveryManager сверяет журнал ордеров с биржей после рестарта.
//
// Ордер в UNKNOWN (принудительная остановка) или незавершённом состоянии
// мог исполниться, отмениться или до сих пор висеть. До завершения сверки
// инстансы не запускаются: торговать поверх невыясненных ордеров нельзя.
type RecoveryManager struct {
	cfg       RecoveryConfig
	loader    OrderLoader
	transport exchange.OrderTransport
	om        *OrderManager
	notify    NotifyFunc
}

// NewRecoveryManager создаёт менеджер восстановления
func NewRecoveryManager(cfg RecoveryConfig, loader OrderLoader, transport exchange.OrderTransport, om *OrderManager) *RecoveryManager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRecoveryConfig().Timeout
	}
	return &RecoveryManager{cfg: cfg, loader: loader, transport: transport, om: om}
}

// SetNotifier подключает приёмник уведомлений восстановления
func (r *RecoveryManager) SetNotifier(fn NotifyFunc) { r.notify = fn }

// Recover выполняет стартовую сверку: журнал против биржи.
// Возвращает отчёт; ошибка только при недоступности журнала.
func (r *RecoveryManager) Recover(ctx context.Context) (*RecoveryReport, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	report := &RecoveryReport{}

	var journal []*models.Order
	if r.loader != nil {
		var err error
		journal, err = r.loader.UnresolvedOrders(ctx)
		if err != nil {
			return nil, fmt.Errorf("load unresolved orders: %w", err)
		}
	}

	known := make(map[string]bool, len(journal))
	for _, order := range journal {
		report.Checked++
		if order.ExternalID != "" {
			known[order.ExternalID] = true
		}
		r.reconcileOrder(ctx, order, report)
	}

	r.scanForeign(ctx, known, report)
	return report, nil
}

// reconcileOrder выясняет судьбу одного ордера из журнала
func (r *RecoveryManager) reconcileOrder(ctx context.Context, order *models.Order, report *RecoveryReport) {
	if order.ExternalID == "" {
		// До биржи не дошёл: PENDING на момент падения, безопасно отменить
		order.State = models.OrderStateCancelled
		order.ErrorMessage = "never reached the exchange, cancelled on recovery"
		order.UpdatedAt = time.Now()
		r.om.Adopt(order)
		report.Resolved++
		report.Vanished++
		return
	}

	current, err := r.transport.FetchStatus(ctx, order.ExternalID)
	if err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			// Биржа ордер не знает: считаем отменённым
			order.State = models.OrderStateCancelled
			order.ErrorMessage = "unknown to the exchange after restart"
			order.UpdatedAt = time.Now()
			r.om.Adopt(order)
			report.Resolved++
			report.Vanished++
			return
		}
		// Сверка не удалась: ордер остаётся UNKNOWN до следующей попытки
		order.State = models.OrderStateUnknown
		r.om.Adopt(order)
		report.FetchFails++
		r.emit(models.SeverityWarn, order.InstanceID,
			fmt.Sprintf("order %s reconciliation failed: %v", order.ID, err))
		return
	}

	// Биржа - источник истины: переносим её состояние в наш ордер
	order.State = current.State
	order.FilledQty = current.FilledQty
	order.AvgFillPrice = current.AvgFillPrice
	order.UpdatedAt = time.Now()
	if current.FilledAt != nil {
		order.FilledAt = current.FilledAt
	}
	r.om.Adopt(order)
	report.Resolved++

	if !order.IsTerminal() {
		report.StillOpen++
		r.emit(models.SeverityInfo, order.InstanceID,
			fmt.Sprintf("order %s still open on the exchange (%s), readopted", order.ID, order.State))
	}
}

// scanForeign ищет открытые на бирже ордера, которых нет в журнале
func (r *RecoveryManager) scanForeign(ctx context.Context, known map[string]bool, report *RecoveryReport) {
	open, err := r.transport.OpenOrders(ctx)
	if err != nil {
		r.emit(models.SeverityWarn, "", fmt.Sprintf("open orders scan failed: %v", err))
		return
	}

	for _, order := range open {
		if known[order.ExternalID] {
			continue
		}
		report.Foreign++
		if r.cfg.AdoptForeign {
			r.om.Adopt(order)
			r.emit(models.SeverityWarn, order.InstanceID,
				fmt.Sprintf("foreign order %s adopted", order.ExternalID))
			continue
		}
		// Только уведомление: чужой ордер трогать опасно
		r.emit(models.SeverityWarn, order.InstanceID,
			fmt.Sprintf("foreign open order %s found on the exchange, not touching it", order.ExternalID))
	}
}

func (r *RecoveryManager) emit(severity, instanceID, message string) {
	if r.notify == nil {
		return
	}
	r.notify(&models.Notification{
		Timestamp:  time.Now(),
		Type:       models.NotificationRecovery,
		Severity:   severity,
		InstanceID: instanceID,
		Message:    message,
	})
}
