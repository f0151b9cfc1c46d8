package handlers

import (
	"net/http"

	"xbot/internal/bot"
	"xbot/internal/models"
)

// RiskReader - снимок риск-леджера для API
type RiskReader interface {
	Snapshot() bot.LedgerSnapshot
}

// OrderBook - открытые ордера менеджера
type OrderBook interface {
	OpenOrders() []*models.Order
}

// RiskHandler отвечает за наблюдение риск-состояния
//
// Endpoints:
// - GET /api/v1/risk - снимок леджера (капитал, экспозиция, просадка)
// - GET /api/v1/orders - открытые (нетерминальные) ордера
type RiskHandler struct {
	risk   RiskReader
	orders OrderBook
}

// NewRiskHandler создает новый RiskHandler
func NewRiskHandler(risk RiskReader, orders OrderBook) *RiskHandler {
	return &RiskHandler{risk: risk, orders: orders}
}

// GetRisk возвращает снимок риск-леджера
//
// GET /api/v1/risk
func (h *RiskHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, SuccessResponse{Data: h.risk.Snapshot()})
}

// GetOpenOrders возвращает нетерминальные ордера
//
// GET /api/v1/orders
func (h *RiskHandler) GetOpenOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.orders.OpenOrders()
	if orders == nil {
		orders = []*models.Order{}
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Data: orders})
}
