package bot

import (
	"context"
	"errors"
	"fmt"

	"xbot/internal/bus"
	"xbot/internal/exchange"
)

// Классы ошибок движка.
//
// Политика распространения:
// - Recoverable: retry с backoff на месте вызова, состояние инстанса не меняется
// - Data: событие отклоняется и логируется, инстанс продолжает со следующего
// - Risk: сигнал подавляется, ордер НЕ создаётся; breach просадки - пауза всех
// - Fatal: инстанс в ERROR, рестарт с backoff через Scheduler
const (
	ClassRecoverable = "recoverable"
	ClassData        = "data"
	ClassRisk        = "risk"
	ClassFatal       = "fatal"
)

// Ошибки потока событий и контракта стратегии
var (
	// ErrOutOfOrderEvent - timestamp события меньше последнего принятого
	ErrOutOfOrderEvent = errors.New("event out of order")
	// ErrDuplicateEvent - событие с уже обработанным timestamp
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrContractViolation - стратегия нарушила контракт (невалидный Signal, паника)
	ErrContractViolation = errors.New("strategy contract violation")
	// ErrCorruptedState - локальное состояние инстанса повреждено
	ErrCorruptedState = errors.New("corrupted local state")
)

// Classify относит ошибку к одному из четырёх классов.
//
// Неизвестные ошибки считаются Recoverable: ложная остановка инстанса
// хуже лишнего retry, ограниченного счётчиком попыток.
func Classify(err error) string {
	if err == nil {
		return ClassRecoverable
	}

	// Контракт и целостность состояния - фатально
	if errors.Is(err, ErrContractViolation) || errors.Is(err, ErrCorruptedState) {
		return ClassFatal
	}

	// Переполнение очереди подписчика ломает состояние индикаторов - фатально
	if errors.Is(err, bus.ErrOverflow) {
		return ClassFatal
	}

	// Нарушение порядка или целостности рыночных данных
	if errors.Is(err, ErrOutOfOrderEvent) || errors.Is(err, ErrDuplicateEvent) {
		return ClassData
	}

	// Ошибки риск-менеджмента
	if errors.Is(err, ErrReservationDenied) || errors.Is(err, ErrDrawdownBreach) {
		return ClassRisk
	}

	// Типизированные ошибки биржи
	var exchErr *exchange.Error
	if errors.As(err, &exchErr) {
		switch {
		case exchErr.IsFatal():
			return ClassFatal
		case exchErr.Retryable():
			return ClassRecoverable
		case exchErr.Kind == exchange.ErrKindInsufficientFunds:
			return ClassRisk
		default:
			// invalid_request, unknown_order: локальная проблема данных
			return ClassData
		}
	}

	// Таймаут внешнего вызова - транзиентная ошибка
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRecoverable
	}

	return ClassRecoverable
}

// IsFatalClass возвращает true если ошибка требует эскалации в Scheduler
func IsFatalClass(err error) bool {
	return Classify(err) == ClassFatal
}

// contractViolation оборачивает ошибку стратегии как нарушение контракта
func contractViolation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}
