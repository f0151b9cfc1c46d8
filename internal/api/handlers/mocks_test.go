package handlers

import (
	"context"
	"sync"
	"time"

	"xbot/internal/bot"
	"xbot/internal/models"
)

// ============ Mock Instance Controller ============

// MockScheduler мок для InstanceController
type MockScheduler struct {
	instances map[string]*bot.Instance
	order     []string
	startErr  error
	pausedAll bool
	resumed   bool
	mu        sync.RWMutex
}

// NewMockScheduler создает новый мок супервизора
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{instances: make(map[string]*bot.Instance)}
}

// AddInstance регистрирует инстанс в состоянии INIT
func (m *MockScheduler) AddInstance(id, symbol string) *bot.Instance {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, err := bot.NewInstance(bot.InstanceConfig{ID: id, Symbol: symbol}, nil, nil, nil, nil)
	if err != nil {
		panic(err)
	}
	m.instances[id] = inst
	m.order = append(m.order, id)
	return inst
}

func (m *MockScheduler) List() []*bot.Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*bot.Instance, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.instances[id])
	}
	return result
}

func (m *MockScheduler) Get(id string) (*bot.Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[id]
	return inst, ok
}

func (m *MockScheduler) Start(id string) error {
	return m.startErr
}

func (m *MockScheduler) PauseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pausedAll = true
}

func (m *MockScheduler) ResumeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumed = true
}

// ============ Mock Risk Reader ============

// MockRiskReader мок для RiskReader
type MockRiskReader struct {
	snapshot bot.LedgerSnapshot
}

func (m *MockRiskReader) Snapshot() bot.LedgerSnapshot {
	return m.snapshot
}

// ============ Mock Order Book ============

// MockOrderBook мок для OrderBook
type MockOrderBook struct {
	orders []*models.Order
}

func (m *MockOrderBook) OpenOrders() []*models.Order {
	return m.orders
}

// ============ Mock Notification Store ============

// MockNotificationStore мок для NotificationStore
type MockNotificationStore struct {
	notifications []*models.Notification
	err           error
	mu            sync.RWMutex
}

// NewMockNotificationStore создает новый мок журнала уведомлений
func NewMockNotificationStore() *MockNotificationStore {
	return &MockNotificationStore{}
}

// AddNotification добавляет уведомление в журнал
func (m *MockNotificationStore) AddNotification(notifType, severity, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifications = append(m.notifications, &models.Notification{
		ID:        len(m.notifications) + 1,
		Timestamp: time.Now(),
		Type:      notifType,
		Severity:  severity,
		Message:   message,
	})
}

func (m *MockNotificationStore) GetRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}
	if limit > len(m.notifications) {
		limit = len(m.notifications)
	}
	return m.notifications[:limit], nil
}

func (m *MockNotificationStore) GetByType(ctx context.Context, notifType string, limit int) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}
	result := make([]*models.Notification, 0)
	for _, n := range m.notifications {
		if n.Type == notifType && len(result) < limit {
			result = append(result, n)
		}
	}
	return result, nil
}
