package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"xbot/internal/bot"
	"xbot/internal/models"
)

// InstanceController - операции супервизора, нужные операторскому API
type InstanceController interface {
	List() []*bot.Instance
	Get(instanceID string) (*bot.Instance, bool)
	Start(instanceID string) error
	PauseAll()
	ResumeAll()
}

// InstanceHandler отвечает за управление торговыми инстансами
//
// Endpoints:
// - GET  /api/v1/instances - список инстансов с состояниями
// - GET  /api/v1/instances/{id} - статус одного инстанса
// - POST /api/v1/instances/{id}/start - запуск (сбрасывает счётчик перезапусков)
// - POST /api/v1/instances/{id}/pause - пауза
// - POST /api/v1/instances/{id}/resume - возобновление
// - POST /api/v1/instances/{id}/stop - graceful останов
// - POST /api/v1/instances/pause - пауза всех
// - POST /api/v1/instances/resume - возобновление всех (сбрасывает breach)
type InstanceHandler struct {
	scheduler InstanceController
}

// NewInstanceHandler создает новый InstanceHandler
func NewInstanceHandler(scheduler InstanceController) *InstanceHandler {
	return &InstanceHandler{scheduler: scheduler}
}

// InstanceDTO представляет инстанс в API
type InstanceDTO struct {
	ID        string               `json:"id"`
	Symbol    string               `json:"symbol"`
	State     string               `json:"state"`
	Position  *models.Position     `json:"position,omitempty"`
	Stats     models.InstanceStats `json:"stats"`
	WinRate   float64              `json:"win_rate"`
	LastError string               `json:"last_error,omitempty"`
}

func instanceDTO(inst *bot.Instance) InstanceDTO {
	stats := inst.Stats()
	dto := InstanceDTO{
		ID:       inst.ID(),
		Symbol:   inst.Symbol(),
		State:    inst.State(),
		Position: inst.Position(),
		Stats:    stats,
		WinRate:  stats.WinRate(),
	}
	if err := inst.LastError(); err != nil {
		dto.LastError = err.Error()
	}
	return dto
}

// GetInstances возвращает список всех инстансов
//
// GET /api/v1/instances
func (h *InstanceHandler) GetInstances(w http.ResponseWriter, r *http.Request) {
	instances := h.scheduler.List()

	dtos := make([]InstanceDTO, 0, len(instances))
	for _, inst := range instances {
		dtos = append(dtos, instanceDTO(inst))
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Data: dtos})
}

// GetInstance возвращает статус одного инстанса
//
// GET /api/v1/instances/{id}
func (h *InstanceHandler) GetInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.scheduler.Get(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusNotFound, "instance not found")
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Data: instanceDTO(inst)})
}

// StartInstance запускает инстанс
//
// POST /api/v1/instances/{id}/start
func (h *InstanceHandler) StartInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.scheduler.Start(id); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Message: "instance started"})
}

// PauseInstance ставит инстанс на паузу
//
// POST /api/v1/instances/{id}/pause
func (h *InstanceHandler) PauseInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.scheduler.Get(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusNotFound, "instance not found")
		return
	}

	if err := inst.Pause(); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Message: "instance paused"})
}

// ResumeInstance возобновляет инстанс
//
// POST /api/v1/instances/{id}/resume
func (h *InstanceHandler) ResumeInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.scheduler.Get(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusNotFound, "instance not found")
		return
	}

	if err := inst.Resume(); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Message: "instance resumed"})
}

// StopInstance выполняет graceful останов инстанса
//
// POST /api/v1/instances/{id}/stop
func (h *InstanceHandler) StopInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.scheduler.Get(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusNotFound, "instance not found")
		return
	}

	if err := inst.Stop(r.Context()); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Message: "instance stopped"})
}

// PauseAll ставит все инстансы на паузу
//
// POST /api/v1/instances/pause
func (h *InstanceHandler) PauseAll(w http.ResponseWriter, r *http.Request) {
	h.scheduler.PauseAll()
	respondJSON(w, http.StatusOK, SuccessResponse{Message: "all instances paused"})
}

// ResumeAll возобновляет все инстансы. Единственный путь возобновления
// после drawdown breach - явное решение оператора.
//
// POST /api/v1/instances/resume
func (h *InstanceHandler) ResumeAll(w http.ResponseWriter, r *http.Request) {
	h.scheduler.ResumeAll()
	respondJSON(w, http.StatusOK, SuccessResponse{Message: "all instances resumed"})
}
