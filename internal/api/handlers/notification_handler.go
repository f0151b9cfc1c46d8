package handlers

import (
	"context"
	"net/http"
	"strconv"

	"xbot/internal/models"
)

const (
	defaultNotificationLimit = 100
	maxNotificationLimit     = 500
)

// NotificationStore - журнал уведомлений (репозиторий БД)
type NotificationStore interface {
	GetRecent(ctx context.Context, limit int) ([]*models.Notification, error)
	GetByType(ctx context.Context, notifType string, limit int) ([]*models.Notification, error)
}

// NotificationHandler отвечает за журнал событий движка
//
// Endpoints:
// - GET /api/v1/notifications - последние уведомления
// - GET /api/v1/notifications?type=DRAWDOWN_BREACH - фильтр по типу
// - GET /api/v1/notifications?limit=50 - ограничение количества
type NotificationHandler struct {
	store NotificationStore
}

// NewNotificationHandler создает новый NotificationHandler
func NewNotificationHandler(store NotificationStore) *NotificationHandler {
	return &NotificationHandler{store: store}
}

// GetNotifications возвращает журнал уведомлений
//
// GET /api/v1/notifications
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	limit := defaultNotificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxNotificationLimit {
			n = maxNotificationLimit
		}
		limit = n
	}

	var (
		items []*models.Notification
		err   error
	)
	if notifType := r.URL.Query().Get("type"); notifType != "" {
		items, err = h.store.GetByType(r.Context(), notifType, limit)
	} else {
		items, err = h.store.GetRecent(r.Context(), limit)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load notifications")
		return
	}

	if items == nil {
		items = []*models.Notification{}
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Data: items})
}
