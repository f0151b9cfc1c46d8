package models

import "time"

// Notification представляет уведомление о событии жизненного цикла
type Notification struct {
	ID         int                    `json:"id" db:"id"`
	Timestamp  time.Time              `json:"timestamp" db:"timestamp"`
	Type       string                 `json:"type" db:"type"`         // ORDER_FILLED, INSTANCE_ERROR, ...
	Severity   string                 `json:"severity" db:"severity"` // info, warn, error
	InstanceID string                 `json:"instance_id,omitempty" db:"instance_id"`
	Symbol     string                 `json:"symbol,omitempty" db:"symbol"`
	Message    string                 `json:"message" db:"message"`
	Meta       map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON)
}

// Типы уведомлений
const (
	NotificationOrderFilled    = "ORDER_FILLED"    // ордер исполнен
	NotificationOrderRejected  = "ORDER_REJECTED"  // ордер отклонён биржей
	NotificationRiskDenied     = "RISK_DENIED"     // резервация отклонена риск-менеджером
	NotificationDrawdownBreach = "DRAWDOWN_BREACH" // превышена просадка, все инстансы на паузу
	NotificationStopLoss       = "STOP_LOSS"       // срабатывание Stop Loss
	NotificationTakeProfit     = "TAKE_PROFIT"     // срабатывание Take Profit
	NotificationInstanceError  = "INSTANCE_ERROR"  // инстанс в состоянии ERROR
	NotificationInstancePause  = "INSTANCE_PAUSE"  // инстанс поставлен на паузу
	NotificationInstanceResume = "INSTANCE_RESUME" // инстанс возобновлён
	NotificationOverflow       = "BUS_OVERFLOW"    // переполнение очереди подписчика
	NotificationRecovery       = "RECOVERY"        // события стартовой сверки с биржей
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
