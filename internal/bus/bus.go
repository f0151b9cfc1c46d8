package bus

import (
	"errors"
	"sync"
	"sync/atomic"

	"xbot/internal/models"
)

// Ошибки шины событий
var (
	ErrOverflow              = errors.New("bus: subscriber queue overflow")
	ErrClosed                = errors.New("bus: closed")
	ErrDuplicateSubscription = errors.New("bus: duplicate subscription key")
)

// Типы событий на шине
const (
	EventMarket    = "market"    // рыночные данные (свечи, тики)
	EventLifecycle = "lifecycle" // события жизненного цикла (исполнение ордера, ошибка)
)

// Key - ключ доставки (инстанс, символ).
// Пустой InstanceID при публикации означает broadcast всем подписчикам символа.
type Key struct {
	InstanceID string
	Symbol     string
}

// Event - конверт события на шине
type Event struct {
	Key  Key
	Type string // market | lifecycle

	// Payload (ровно один, по Type)
	Market    *models.MarketEvent
	Lifecycle *models.Notification

	// Seq - порядковый номер в рамках подписки, присваивается шиной.
	// Используется подписчиком для контроля целостности потока.
	Seq uint64
}

// Subscription - подписка одного инстанса на один символ.
//
// Контракт:
//   - события приходят строго в порядке публикации
//   - поток бесконечен; перезапуск только через новую подписку
//   - при переполнении очереди канал закрывается и Err() == ErrOverflow:
//     тихая потеря событий запрещена, она ломает состояние индикаторов
type Subscription struct {
	key    Key
	ch     chan Event
	seq    uint64
	failed uint32 // atomic: 1 = канал закрыт из-за overflow/close
	err    error
	mu     sync.Mutex
}

// Events возвращает канал событий подписки.
// Закрытие канала означает overflow или остановку шины - см. Err().
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Key возвращает ключ подписки
func (s *Subscription) Key() Key {
	return s.key
}

// Err возвращает причину закрытия канала (nil пока подписка жива)
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// fail закрывает подписку с указанной причиной (идемпотентно)
func (s *Subscription) fail(err error) {
	if !atomic.CompareAndSwapUint32(&s.failed, 0, 1) {
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}

// Bus - in-memory шина событий с упорядоченной доставкой.
//
// Гарантии:
//   - события одного ключа (инстанс, символ) доставляются подписчику
//     в порядке публикации (FIFO канал + сериализация под mutex)
//   - между разными ключами порядок не гарантируется
//   - у каждого подписчика ограниченная очередь; при переполнении шина
//     отказывает ЭТОМУ подписчику (ErrOverflow), остальные не затронуты
type Bus struct {
	mu sync.RWMutex
	// подписки, индексированные по символу для broadcast рыночных данных
	bySymbol map[string][]*Subscription
	// подписки по полному ключу для адресных lifecycle событий
	byKey map[Key]*Subscription

	defaultBuffer int
	closed        bool

	// Хук для метрик переполнения (опционально)
	onOverflow func(key Key)
}

// New создаёт шину. defaultBuffer - размер очереди подписчика по умолчанию.
func New(defaultBuffer int) *Bus {
	if defaultBuffer <= 0 {
		defaultBuffer = 256
	}
	return &Bus{
		bySymbol:      make(map[string][]*Subscription),
		byKey:         make(map[Key]*Subscription),
		defaultBuffer: defaultBuffer,
	}
}

// SetOverflowHook устанавливает callback на переполнение очереди подписчика
func (b *Bus) SetOverflowHook(fn func(key Key)) {
	b.mu.Lock()
	b.onOverflow = fn
	b.mu.Unlock()
}

// Subscribe создаёт подписку для ключа (инстанс, символ).
// buffer <= 0 использует буфер по умолчанию.
// Повторная подписка с тем же ключом возможна только после отписки старой.
func (b *Bus) Subscribe(instanceID, symbol string, buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = b.defaultBuffer
	}
	key := Key{InstanceID: instanceID, Symbol: symbol}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, ok := b.byKey[key]; ok {
		return nil, ErrDuplicateSubscription
	}

	sub := &Subscription{
		key: key,
		ch:  make(chan Event, buffer),
	}
	b.byKey[key] = sub
	b.bySymbol[symbol] = append(b.bySymbol[symbol], sub)
	subscriptions.Inc()
	return sub, nil
}

// Unsubscribe удаляет подписку. Канал подписки закрывается.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	b.removeLocked(sub)
	b.mu.Unlock()
	sub.fail(ErrClosed)
}

// removeLocked убирает подписку из индексов (вызывать под b.mu)
func (b *Bus) removeLocked(sub *Subscription) {
	if _, ok := b.byKey[sub.key]; ok {
		subscriptions.Dec()
	}
	delete(b.byKey, sub.key)
	subs := b.bySymbol[sub.key.Symbol]
	for i, s := range subs {
		if s == sub {
			b.bySymbol[sub.key.Symbol] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.bySymbol[sub.key.Symbol]) == 0 {
		delete(b.bySymbol, sub.key.Symbol)
	}
}

// PublishMarket публикует рыночное событие всем подписчикам символа.
// Возвращает ErrOverflow если хотя бы один подписчик переполнился;
// остальные подписчики при этом получают событие как обычно.
func (b *Bus) PublishMarket(ev *models.MarketEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	eventsPublished.WithLabelValues(ev.Kind).Inc()

	var overflowErr error
	var overflowed []*Subscription
	for _, sub := range b.bySymbol[ev.Symbol] {
		if !b.deliverLocked(sub, Event{Key: sub.key, Type: EventMarket, Market: ev}) {
			overflowErr = ErrOverflow
			overflowed = append(overflowed, sub)
		}
	}
	for _, sub := range overflowed {
		b.removeLocked(sub)
	}
	return overflowErr
}

// PublishLifecycle публикует lifecycle событие адресно по ключу.
// Для broadcast (всем инстансам символа) используется пустой InstanceID.
func (b *Bus) PublishLifecycle(key Key, notif *models.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	eventsPublished.WithLabelValues(EventLifecycle).Inc()

	if key.InstanceID != "" {
		sub, ok := b.byKey[key]
		if !ok {
			return nil // подписчик ушёл, событие некому доставлять
		}
		if !b.deliverLocked(sub, Event{Key: key, Type: EventLifecycle, Lifecycle: notif}) {
			b.removeLocked(sub)
			return ErrOverflow
		}
		return nil
	}

	var overflowErr error
	var overflowed []*Subscription
	for _, sub := range b.bySymbol[key.Symbol] {
		if !b.deliverLocked(sub, Event{Key: sub.key, Type: EventLifecycle, Lifecycle: notif}) {
			overflowErr = ErrOverflow
			overflowed = append(overflowed, sub)
		}
	}
	for _, sub := range overflowed {
		b.removeLocked(sub)
	}
	return overflowErr
}

// deliverLocked кладёт событие в очередь подписчика без блокировки.
// false = очередь полна, подписка закрыта с ErrOverflow.
func (b *Bus) deliverLocked(sub *Subscription, ev Event) bool {
	if atomic.LoadUint32(&sub.failed) != 0 {
		return true // уже закрыта, не считаем повторный overflow
	}
	sub.seq++
	ev.Seq = sub.seq
	select {
	case sub.ch <- ev:
		return true
	default:
		sub.fail(ErrOverflow)
		overflows.WithLabelValues(sub.key.InstanceID).Inc()
		if b.onOverflow != nil {
			b.onOverflow(sub.key)
		}
		return false
	}
}

// Close останавливает шину и закрывает все подписки
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.byKey))
	for _, sub := range b.byKey {
		subs = append(subs, sub)
	}
	b.bySymbol = make(map[string][]*Subscription)
	b.byKey = make(map[Key]*Subscription)
	subscriptions.Sub(float64(len(subs)))
	b.mu.Unlock()

	for _, sub := range subs {
		sub.fail(ErrClosed)
	}
}
