package models

// Состояния инстанса бота (state machine)
//
// Жизненный цикл:
//
//	INIT → RUNNING ⇄ PAUSED
//	RUNNING/PAUSED → STOPPING → STOPPED
//	RUNNING → ERROR (терминальное до внешнего рестарта → INIT)
const (
	StateInit     = "INIT"     // создан, не запущен
	StateRunning  = "RUNNING"  // обрабатывает события
	StatePaused   = "PAUSED"   // события потребляются, решения не принимаются
	StateStopping = "STOPPING" // graceful drain очереди и in-flight ордеров
	StateStopped  = "STOPPED"  // остановлен
	StateError    = "ERROR"    // фатальная ошибка, требуется вмешательство
)

// IsActiveState возвращает true если инстанс жив (потребляет события)
func IsActiveState(s string) bool {
	return s == StateRunning || s == StatePaused || s == StateStopping
}
