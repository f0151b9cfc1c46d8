package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xbot/internal/api/handlers"
	"xbot/internal/api/middleware"
)

// Dependencies содержит все зависимости для API handlers.
// Nil-поле отключает соответствующую группу маршрутов.
type Dependencies struct {
	Scheduler     handlers.InstanceController
	Risk          handlers.RiskReader
	Orders        handlers.OrderBook
	Notifications handlers.NotificationStore

	// APITokenHash - bcrypt-хеш операторского токена.
	// Пустая строка отключает аутентификацию.
	APITokenHash string
}

// SetupRoutes настраивает все HTTP маршруты операторского API
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /instances/
//	│   ├── GET  /            - список инстансов
//	│   ├── GET  /{id}        - статус инстанса
//	│   ├── POST /{id}/start  - запуск
//	│   ├── POST /{id}/pause  - пауза
//	│   ├── POST /{id}/resume - возобновление
//	│   ├── POST /{id}/stop   - graceful останов
//	│   ├── POST /pause       - пауза всех
//	│   └── POST /resume      - возобновление всех (сброс breach)
//	├── /risk
//	│   └── GET / - снимок риск-леджера
//	├── /orders
//	│   └── GET / - открытые ордера
//	└── /notifications
//	    └── GET / - журнал событий
//
// /health  - проверка живости
// /metrics - prometheus
//
// Middleware: Recovery → Logging → CORS для всего, BearerAuth для /api/v1
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	api := router.PathPrefix("/api/v1").Subrouter()
	if deps != nil {
		api.Use(middleware.BearerAuth(deps.APITokenHash))
	}

	if deps != nil && deps.Scheduler != nil {
		h := handlers.NewInstanceHandler(deps.Scheduler)
		api.HandleFunc("/instances", h.GetInstances).Methods("GET")
		// Групповые команды до {id}-маршрутов, иначе mux сопоставит
		// "pause" как идентификатор инстанса
		api.HandleFunc("/instances/pause", h.PauseAll).Methods("POST")
		api.HandleFunc("/instances/resume", h.ResumeAll).Methods("POST")
		api.HandleFunc("/instances/{id}", h.GetInstance).Methods("GET")
		api.HandleFunc("/instances/{id}/start", h.StartInstance).Methods("POST")
		api.HandleFunc("/instances/{id}/pause", h.PauseInstance).Methods("POST")
		api.HandleFunc("/instances/{id}/resume", h.ResumeInstance).Methods("POST")
		api.HandleFunc("/instances/{id}/stop", h.StopInstance).Methods("POST")
	}

	if deps != nil && deps.Risk != nil && deps.Orders != nil {
		h := handlers.NewRiskHandler(deps.Risk, deps.Orders)
		api.HandleFunc("/risk", h.GetRisk).Methods("GET")
		api.HandleFunc("/orders", h.GetOpenOrders).Methods("GET")
	}

	if deps != nil && deps.Notifications != nil {
		h := handlers.NewNotificationHandler(deps.Notifications)
		api.HandleFunc("/notifications", h.GetNotifications).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
