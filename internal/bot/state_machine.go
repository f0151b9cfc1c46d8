package bot

import "xbot/internal/models"

// ValidTransitions определяет допустимые переходы состояний инстанса
var ValidTransitions = map[string][]string{
	models.StateInit:     {models.StateRunning, models.StateError},
	models.StateRunning:  {models.StatePaused, models.StateStopping, models.StateStopped, models.StateError}, // Stopped при forced stop
	models.StatePaused:   {models.StateRunning, models.StateStopping, models.StateStopped, models.StateError},
	models.StateStopping: {models.StateStopped, models.StateError},
	models.StateStopped:  {models.StateInit}, // повторный запуск
	models.StateError:    {models.StateInit}, // только внешний рестарт
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния для оператора
func StateInfo(s string) string {
	switch s {
	case models.StateInit:
		return "Инстанс создан, ожидает запуска"
	case models.StateRunning:
		return "Инстанс обрабатывает события"
	case models.StatePaused:
		return "Инстанс на паузе (решения не принимаются)"
	case models.StateStopping:
		return "Остановка: дренаж очереди и in-flight ордеров"
	case models.StateStopped:
		return "Инстанс остановлен"
	case models.StateError:
		return "Ошибка! Требуется вмешательство оператора"
	default:
		return "Неизвестное состояние"
	}
}
