package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"xbot/internal/bus"
	"xbot/internal/models"
	"xbot/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrFeedClosed - операция над закрытым фидом
var ErrFeedClosed = errors.New("feed is closed")

// Config - конфигурация WebSocket фида рыночных данных
type Config struct {
	// Exchange - имя биржи (для логов и метрик)
	Exchange string `json:"exchange"`
	// URL публичного WebSocket
	URL string `json:"url"`
	// Symbols - символы для подписки
	Symbols []string `json:"symbols"`
	// Timeframe свечей (1m, 5m, ...)
	Timeframe string `json:"timeframe"`
	// Ticks включает подписку на поток сделок
	Ticks bool `json:"ticks"`

	// Переподключение: 2s, 4s, 8s, 16s
	InitialDelay   time.Duration `json:"initial_delay"`
	MaxDelay       time.Duration `json:"max_delay"`
	MaxRetries     int           `json:"max_retries"` // 0 = бесконечно
	ConnectTimeout time.Duration `json:"connect_timeout"`
	PingInterval   time.Duration `json:"ping_interval"`
	PongTimeout    time.Duration `json:"pong_timeout"`
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 2 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 16 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10 * time.Second
	}
	return cfg
}

// Состояния соединения
type connState int32

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
	stateReconnecting
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateReconnecting:
		return "reconnecting"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// envelope - конверт сообщения фида
type envelope struct {
	Type string              `json:"type"` // candle | tick | pong | subscribed
	Data jsoniter.RawMessage `json:"data"`
}

// subscribeMsg - запрос подписки на каналы
type subscribeMsg struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// Feed - WebSocket фид рыночных данных с автопереподключением.
//
// Полученные свечи и тики транслируются в MarketEvent и публикуются
// на шину. Разрывы соединения переживаются exponential backoff'ом с
// восстановлением подписок; контроль монотонности timestamps - на
// стороне инстансов-подписчиков (после реконнекта возможны повторы).
type Feed struct {
	cfg Config
	bus *bus.Bus

	conn   *websocket.Conn
	connMu sync.RWMutex

	state      int32 // atomic connState
	retryCount int32 // atomic

	closeChan chan struct{}
	closeOnce sync.Once
}

// New создаёт фид поверх шины событий
func New(cfg Config, b *bus.Bus) *Feed {
	return &Feed{
		cfg:       cfg.withDefaults(),
		bus:       b,
		closeChan: make(chan struct{}),
	}
}

// State возвращает текущее состояние соединения (для ops API)
func (f *Feed) State() string {
	return connState(atomic.LoadInt32(&f.state)).String()
}

// IsConnected проверяет живость соединения
func (f *Feed) IsConnected() bool {
	return connState(atomic.LoadInt32(&f.state)) == stateConnected
}

// Connect устанавливает соединение и запускает насосы чтения и ping
func (f *Feed) Connect() error {
	select {
	case <-f.closeChan:
		return ErrFeedClosed
	default:
	}

	atomic.StoreInt32(&f.state, int32(stateConnecting))

	if err := f.dial(); err != nil {
		atomic.StoreInt32(&f.state, int32(stateDisconnected))
		return err
	}

	atomic.StoreInt32(&f.state, int32(stateConnected))
	atomic.StoreInt32(&f.retryCount, 0)
	feedConnected.WithLabelValues(f.cfg.Exchange).Set(1)

	go f.readPump()
	go f.pingPump()

	utils.Info("feed connected",
		utils.Exchange(f.cfg.Exchange),
		utils.String("url", f.cfg.URL))
	return nil
}

// Close закрывает фид и останавливает переподключение
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.closeChan)
		atomic.StoreInt32(&f.state, int32(stateClosed))
		feedConnected.WithLabelValues(f.cfg.Exchange).Set(0)

		f.connMu.Lock()
		if f.conn != nil {
			err = f.conn.Close()
			f.conn = nil
		}
		f.connMu.Unlock()
	})
	return err
}

// dial подключается и восстанавливает подписки
func (f *Feed) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.cfg.URL, err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	if err := f.subscribeChannels(conn); err != nil {
		conn.Close()
		f.connMu.Lock()
		f.conn = nil
		f.connMu.Unlock()
		return err
	}
	return nil
}

// subscribeChannels подписывается на свечи (и тики) всех символов
func (f *Feed) subscribeChannels(conn *websocket.Conn) error {
	args := make([]string, 0, len(f.cfg.Symbols)*2)
	for _, sym := range f.cfg.Symbols {
		args = append(args, fmt.Sprintf("candle.%s.%s", f.cfg.Timeframe, sym))
		if f.cfg.Ticks {
			args = append(args, fmt.Sprintf("trade.%s", sym))
		}
	}
	if len(args) == 0 {
		return nil
	}
	if err := conn.WriteJSON(subscribeMsg{Op: "subscribe", Args: args}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	utils.Info("feed subscribed",
		utils.Exchange(f.cfg.Exchange),
		utils.Int("channels", len(args)))
	return nil
}

// readPump читает и транслирует сообщения до разрыва соединения
func (f *Feed) readPump() {
	for {
		select {
		case <-f.closeChan:
			return
		default:
		}

		f.connMu.RLock()
		conn := f.conn
		f.connMu.RUnlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			f.handleDisconnect(err)
			return
		}
		f.dispatch(raw)
	}
}

// dispatch разбирает сообщение и публикует событие на шину
func (f *Feed) dispatch(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		utils.Warn("feed: malformed message",
			utils.Exchange(f.cfg.Exchange), utils.Err(err))
		return
	}

	var ev *models.MarketEvent
	switch env.Type {
	case "candle":
		var candle models.Candle
		if err := json.Unmarshal(env.Data, &candle); err != nil {
			utils.Warn("feed: malformed candle",
				utils.Exchange(f.cfg.Exchange), utils.Err(err))
			return
		}
		ev = models.CandleEvent(&candle)
	case "tick":
		var tick models.Tick
		if err := json.Unmarshal(env.Data, &tick); err != nil {
			utils.Warn("feed: malformed tick",
				utils.Exchange(f.cfg.Exchange), utils.Err(err))
			return
		}
		ev = models.TickEvent(&tick)
	default:
		return // служебные сообщения (pong, subscribed)
	}

	if err := ev.Validate(); err != nil {
		utils.Warn("feed: invalid event dropped",
			utils.Exchange(f.cfg.Exchange),
			utils.Symbol(ev.Symbol),
			utils.Err(err))
		return
	}

	if err := f.bus.PublishMarket(ev); err != nil {
		// ErrOverflow: шина уже отказала медленному подписчику,
		// его инстанс упадёт в ERROR - здесь только лог
		utils.Warn("feed: publish failed",
			utils.Exchange(f.cfg.Exchange),
			utils.Symbol(ev.Symbol),
			utils.Err(err))
	}
}

// pingPump держит соединение живым
func (f *Feed) pingPump() {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.closeChan:
			return
		case <-ticker.C:
			f.connMu.RLock()
			conn := f.conn
			f.connMu.RUnlock()
			if conn == nil || !f.IsConnected() {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(f.cfg.PongTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.handleDisconnect(err)
				return
			}
		}
	}
}

// handleDisconnect фиксирует разрыв и запускает переподключение
func (f *Feed) handleDisconnect(err error) {
	select {
	case <-f.closeChan:
		return
	default:
	}

	state := connState(atomic.LoadInt32(&f.state))
	if state == stateReconnecting || state == stateClosed {
		return
	}
	atomic.StoreInt32(&f.state, int32(stateReconnecting))
	feedConnected.WithLabelValues(f.cfg.Exchange).Set(0)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connMu.Unlock()

	utils.Warn("feed disconnected",
		utils.Exchange(f.cfg.Exchange), utils.Err(err))

	go f.reconnectLoop()
}

// reconnectLoop переподключается с exponential backoff
func (f *Feed) reconnectLoop() {
	delay := f.cfg.InitialDelay

	for {
		select {
		case <-f.closeChan:
			return
		default:
		}

		attempt := atomic.AddInt32(&f.retryCount, 1)
		if f.cfg.MaxRetries > 0 && int(attempt) > f.cfg.MaxRetries {
			atomic.StoreInt32(&f.state, int32(stateDisconnected))
			utils.Error("feed: reconnect attempts exhausted",
				utils.Exchange(f.cfg.Exchange),
				utils.Int("attempts", f.cfg.MaxRetries))
			return
		}

		select {
		case <-f.closeChan:
			return
		case <-time.After(delay):
		}

		feedReconnects.WithLabelValues(f.cfg.Exchange).Inc()
		if err := f.dial(); err != nil {
			utils.Warn("feed: reconnect failed",
				utils.Exchange(f.cfg.Exchange),
				utils.Int("attempt", int(attempt)),
				utils.Err(err))
			delay *= 2
			if delay > f.cfg.MaxDelay {
				delay = f.cfg.MaxDelay
			}
			continue
		}

		atomic.StoreInt32(&f.state, int32(stateConnected))
		atomic.StoreInt32(&f.retryCount, 0)
		feedConnected.WithLabelValues(f.cfg.Exchange).Set(1)

		utils.Info("feed reconnected", utils.Exchange(f.cfg.Exchange))

		go f.readPump()
		go f.pingPump()
		return
	}
}
