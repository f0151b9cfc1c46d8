package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"xbot/internal/models"
)

var (
	// ErrInstanceExists - инстанс с таким ID уже зарегистрирован
	ErrInstanceExists = errors.New("instance already registered")
	// ErrInstanceNotFound - инстанс не зарегистрирован
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrSchedulerClosed - планировщик остановлен
	ErrSchedulerClosed = errors.New("scheduler is closed")
)

// SchedulerConfig - параметры супервизора инстансов
type SchedulerConfig struct {
	// MaxRestarts - потолок попыток перезапуска после ERROR.
	// Исчерпание оставляет инстанс в ERROR до вмешательства оператора.
	MaxRestarts int `json:"max_restarts"`

	// BackoffBase/BackoffMax - экспоненциальная задержка перезапуска
	BackoffBase time.Duration `json:"backoff_base"`
	BackoffMax  time.Duration `json:"backoff_max"`

	// Workers - размер пула для параллельных групповых операций
	Workers int `json:"workers"`
}

func (c *SchedulerConfig) withDefaults() SchedulerConfig {
	cfg := *c
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return cfg
}

// Scheduler - супервизор всех инстансов движка.
//
// Обязанности:
//   - реестр инстансов, групповые запуск/пауза/остановка через пул workers
//   - перезапуск упавших инстансов с экспоненциальным backoff и потолком
//     попыток; после потолка инстанс остаётся в ERROR
//   - реакция на пробой просадки: пауза ВСЕХ инстансов (breach hook
//     бухгалтера риска)
//   - маршрутизация fills от Order Manager к инстансу-владельцу
type Scheduler struct {
	cfg  SchedulerConfig
	om   *OrderManager
	risk *Accountant

	mu        sync.Mutex
	instances map[string]*Instance
	restarts  map[string]int
	closed    bool

	notify NotifyFunc

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler создаёт супервизор и подключает его к менеджеру ордеров
// (диспетчеризация fills) и бухгалтеру риска (пауза при breach)
func NewScheduler(cfg SchedulerConfig, om *OrderManager, risk *Accountant) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:       cfg.withDefaults(),
		om:        om,
		risk:      risk,
		instances: make(map[string]*Instance),
		restarts:  make(map[string]int),
		rootCtx:   ctx,
		cancel:    cancel,
	}

	if om != nil {
		om.SetFillHook(s.dispatchFill)
	}
	if risk != nil {
		risk.SetBreachHook(s.onDrawdownBreach)
	}
	return s
}

// SetNotifier подключает приёмник уведомлений супервизора
func (s *Scheduler) SetNotifier(fn NotifyFunc) { s.notify = fn }

// Register добавляет инстанс в реестр (без запуска)
func (s *Scheduler) Register(inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	if _, ok := s.instances[inst.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrInstanceExists, inst.ID())
	}
	s.instances[inst.ID()] = inst
	inst.SetStateHook(s.onStateChange)
	return nil
}

// Deregister снимает остановленный инстанс с учёта
func (s *Scheduler) Deregister(instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	if models.IsActiveState(inst.State()) {
		return fmt.Errorf("instance %s is still active (%s)", instanceID, inst.State())
	}
	delete(s.instances, instanceID)
	delete(s.restarts, instanceID)
	return nil
}

// Get возвращает инстанс по ID
func (s *Scheduler) Get(instanceID string) (*Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	return inst, ok
}

// List возвращает все зарегистрированные инстансы
func (s *Scheduler) List() []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	return out
}

// Start запускает один инстанс по команде оператора.
// Явный запуск обнуляет счётчик попыток перезапуска.
func (s *Scheduler) Start(instanceID string) error {
	inst, ok := s.Get(instanceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	s.mu.Lock()
	delete(s.restarts, instanceID)
	s.mu.Unlock()
	return inst.Start(s.rootCtx)
}

// StartAll запускает все инстансы параллельно через пул workers
func (s *Scheduler) StartAll() error {
	return s.forEach(func(inst *Instance) error {
		if inst.State() != models.StateInit {
			return nil
		}
		return inst.Start(s.rootCtx)
	})
}

// PauseAll ставит на паузу все работающие инстансы
func (s *Scheduler) PauseAll() {
	_ = s.forEach(func(inst *Instance) error {
		if inst.State() == models.StateRunning {
			return inst.Pause()
		}
		return nil
	})
}

// ResumeAll снимает с паузы все инстансы. Если пауза была вызвана
// пробоем просадки, сначала сбрасывается breach: возобновление -
// явное решение оператора, не автоматика.
func (s *Scheduler) ResumeAll() {
	if s.risk != nil && s.risk.Breached() {
		s.risk.ResetBreach()
	}
	_ = s.forEach(func(inst *Instance) error {
		if inst.State() == models.StatePaused {
			return inst.Resume()
		}
		return nil
	})
}

// StopAll - graceful остановка всех инстансов, затем остановка супервизора
func (s *Scheduler) StopAll(ctx context.Context) error {
	err := s.forEach(func(inst *Instance) error {
		if models.IsActiveState(inst.State()) {
			return inst.Stop(ctx)
		}
		return nil
	})

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	return err
}

// forEach выполняет операцию над всеми инстансами через пул workers
func (s *Scheduler) forEach(op func(inst *Instance) error) error {
	instances := s.List()
	sem := make(chan struct{}, s.cfg.Workers)
	errCh := make(chan error, len(instances))

	var wg sync.WaitGroup
	for _, inst := range instances {
		wg.Add(1)
		sem <- struct{}{}
		go func(inst *Instance) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := op(inst); err != nil {
				errCh <- fmt.Errorf("instance %s: %w", inst.ID(), err)
			}
		}(inst)
	}
	wg.Wait()
	close(errCh)

	// Первая ошибка достаточна: остальные видны в уведомлениях
	for err := range errCh {
		return err
	}
	return nil
}

// ============ ПЕРЕЗАПУСК И BREACH ============

// onStateChange - hook переходов состояний инстансов.
// Счётчик попыток НЕ сбрасывается при достижении RUNNING: Start
// проходит через RUNNING до того, как OnStart стратегии может упасть,
// и сброс здесь закольцевал бы вечный перезапуск. Счётчик обнуляет
// только явный запуск оператором.
func (s *Scheduler) onStateChange(instanceID, from, to string) {
	InstancesByState.WithLabelValues(from).Dec()
	InstancesByState.WithLabelValues(to).Inc()
	if to == models.StateError {
		s.scheduleRestart(instanceID)
	}
}

// scheduleRestart планирует перезапуск упавшего инстанса с backoff
func (s *Scheduler) scheduleRestart(instanceID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	attempt := s.restarts[instanceID] + 1
	s.restarts[instanceID] = attempt
	if attempt > s.cfg.MaxRestarts {
		s.mu.Unlock()
		s.emit(models.NotificationInstanceError, models.SeverityError, instanceID,
			fmt.Sprintf("restart ceiling reached (%d attempts), operator intervention required", s.cfg.MaxRestarts))
		return
	}
	// Add под тем же mutex, что и closed: StopAll не может проскочить
	// между проверкой и регистрацией goroutine
	s.wg.Add(1)
	s.mu.Unlock()

	InstanceRestarts.WithLabelValues(instanceID).Inc()

	delay := s.backoff(attempt)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.rootCtx.Done():
			return
		case <-time.After(delay):
		}

		inst, ok := s.Get(instanceID)
		if !ok {
			return
		}
		if err := inst.Reset(); err != nil {
			return // состояние изменилось, перезапуск не нужен
		}
		if err := inst.Start(s.rootCtx); err != nil {
			s.emit(models.NotificationInstanceError, models.SeverityError, instanceID,
				fmt.Sprintf("restart attempt %d failed: %v", attempt, err))
		}
	}()
}

// backoff - экспоненциальная задержка с потолком
func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.cfg.BackoffBase
	for n := 1; n < attempt; n++ {
		d *= 2
		if d >= s.cfg.BackoffMax {
			return s.cfg.BackoffMax
		}
	}
	if d > s.cfg.BackoffMax {
		d = s.cfg.BackoffMax
	}
	return d
}

// onDrawdownBreach - hook бухгалтера риска: просадка пробита,
// ВСЕ инстансы на паузу. Возобновление только через ResumeAll.
func (s *Scheduler) onDrawdownBreach(snap LedgerSnapshot) {
	s.emit(models.NotificationDrawdownBreach, models.SeverityError, "",
		fmt.Sprintf("drawdown %.2f%% breached ceiling, pausing all instances", snap.Drawdown*100))
	s.PauseAll()
}

// dispatchFill маршрутизирует fill к инстансу-владельцу ордера
func (s *Scheduler) dispatchFill(order *models.Order, fill *models.Fill) {
	inst, ok := s.Get(order.InstanceID)
	if !ok {
		// Ордер восстановленного при сверке инстанса, которого больше
		// нет в реестре: риск-леджер всё равно должен узнать о fill
		if s.risk != nil {
			_ = s.risk.RecordFill(fill, order.ReservationID, 0)
		}
		return
	}
	inst.HandleFill(s.rootCtx, order, fill)
}

// emit отправляет уведомление супервизора
func (s *Scheduler) emit(ntype, severity, instanceID, message string) {
	if s.notify == nil {
		return
	}
	s.notify(&models.Notification{
		Timestamp:  time.Now(),
		Type:       ntype,
		Severity:   severity,
		InstanceID: instanceID,
		Message:    message,
	})
}
