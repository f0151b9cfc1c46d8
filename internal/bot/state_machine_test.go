package bot

import (
	"testing"

	"xbot/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		// Жизненный цикл запуска
		{"INIT → RUNNING (start)", models.StateInit, models.StateRunning, true},
		{"INIT → ERROR (start failure)", models.StateInit, models.StateError, true},

		// Пауза и возобновление
		{"RUNNING → PAUSED (pause)", models.StateRunning, models.StatePaused, true},
		{"PAUSED → RUNNING (resume)", models.StatePaused, models.StateRunning, true},

		// Graceful и forced остановка
		{"RUNNING → STOPPING (graceful stop)", models.StateRunning, models.StateStopping, true},
		{"RUNNING → STOPPED (forced stop)", models.StateRunning, models.StateStopped, true},
		{"PAUSED → STOPPING (graceful stop)", models.StatePaused, models.StateStopping, true},
		{"STOPPING → STOPPED (drain complete)", models.StateStopping, models.StateStopped, true},

		// Фатальные ошибки
		{"RUNNING → ERROR (fatal)", models.StateRunning, models.StateError, true},
		{"STOPPING → ERROR (drain failure)", models.StateStopping, models.StateError, true},

		// Рестарт
		{"STOPPED → INIT (restart)", models.StateStopped, models.StateInit, true},
		{"ERROR → INIT (external restart)", models.StateError, models.StateInit, true},

		// Запрещённые переходы
		{"INIT → PAUSED", models.StateInit, models.StatePaused, false},
		{"ERROR → RUNNING (no direct recovery)", models.StateError, models.StateRunning, false},
		{"STOPPED → RUNNING", models.StateStopped, models.StateRunning, false},
		{"STOPPING → RUNNING", models.StateStopping, models.StateRunning, false},
		{"unknown state", "FLYING", models.StateRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStateInfoCoversAllStates(t *testing.T) {
	states := []string{
		models.StateInit, models.StateRunning, models.StatePaused,
		models.StateStopping, models.StateStopped, models.StateError,
	}
	seen := make(map[string]bool)
	for _, s := range states {
		info := StateInfo(s)
		if info == "" || info == StateInfo("UNKNOWN") {
			t.Errorf("StateInfo(%s) is not descriptive: %q", s, info)
		}
		if seen[info] {
			t.Errorf("StateInfo(%s) duplicates another state description", s)
		}
		seen[info] = true
	}
}
