package notifier

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"xbot/internal/models"
	"xbot/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrClosed - публикация в остановленный notifier
var ErrClosed = errors.New("notifier is closed")

// Sink - приёмник уведомлений (лог, БД, внешний мессенджер)
type Sink interface {
	Deliver(n *models.Notification) error
}

// Notifier - асинхронный fan-in уведомлений жизненного цикла.
//
// Инстансы, супервизор и recovery публикуют неблокирующе: горячий путь
// торговли никогда не ждёт доставку уведомления. При переполнении
// очереди уведомления отбрасываются со счётчиком - в отличие от
// рыночных данных, их потеря не ломает состояние.
type Notifier struct {
	ch      chan *models.Notification
	sinks   []Sink
	dropped uint64 // atomic

	closeOnce sync.Once
	done      chan struct{}
}

// New создаёт notifier с указанной ёмкостью очереди и запускает доставку
func New(buffer int, sinks ...Sink) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	n := &Notifier{
		ch:    make(chan *models.Notification, buffer),
		sinks: sinks,
		done:  make(chan struct{}),
	}
	go n.run()
	return n
}

// Publish ставит уведомление в очередь неблокирующе.
// При переполнении уведомление отбрасывается (счётчик Dropped).
func (n *Notifier) Publish(notif *models.Notification) {
	if notif == nil {
		return
	}
	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now()
	}
	select {
	case n.ch <- notif:
	default:
		atomic.AddUint64(&n.dropped, 1)
		notifierDropped.Inc()
	}
}

// Dropped возвращает количество отброшенных уведомлений
func (n *Notifier) Dropped() uint64 {
	return atomic.LoadUint64(&n.dropped)
}

// Close останавливает доставку, дожидаясь опустошения очереди
func (n *Notifier) Close() {
	n.closeOnce.Do(func() {
		close(n.ch)
		<-n.done
	})
}

func (n *Notifier) run() {
	defer close(n.done)
	for notif := range n.ch {
		for _, sink := range n.sinks {
			if err := sink.Deliver(notif); err != nil {
				// Отказ одного sink не мешает остальным
				utils.Warn("notification delivery failed",
					utils.String("type", notif.Type),
					utils.Err(err))
			}
		}
		notifierDelivered.WithLabelValues(notif.Type).Inc()
	}
}

// ============ SINKS ============

// LogSink пишет уведомления в структурированный лог
type LogSink struct{}

// Deliver логирует уведомление с уровнем по severity
func (LogSink) Deliver(n *models.Notification) error {
	fields := []zap.Field{
		utils.String("type", n.Type),
		utils.InstanceID(n.InstanceID),
		utils.Symbol(n.Symbol),
	}
	if len(n.Meta) > 0 {
		if raw, err := json.Marshal(n.Meta); err == nil {
			fields = append(fields, utils.String("meta", string(raw)))
		}
	}

	switch n.Severity {
	case models.SeverityError:
		utils.Error(n.Message, fields...)
	case models.SeverityWarn:
		utils.Warn(n.Message, fields...)
	default:
		utils.Info(n.Message, fields...)
	}
	return nil
}

// Journal - персистентный журнал уведомлений (репозиторий БД)
type Journal interface {
	Create(n *models.Notification) error
}

// JournalSink пишет уведомления в персистентный журнал
type JournalSink struct {
	Journal Journal
}

// Deliver сохраняет уведомление
func (s JournalSink) Deliver(n *models.Notification) error {
	return s.Journal.Create(n)
}
