package exchange

import (
	"context"
	"errors"
	"time"

	"xbot/internal/models"
	"xbot/pkg/ratelimit"
	"xbot/pkg/retry"
)

// ResilientConfig - политика устойчивости транспорта
type ResilientConfig struct {
	// CallTimeout - потолок одного вызова биржи.
	// Каждый внешний вызов ограничен по времени: таймаут
	// классифицируется как Recoverable и ретраится, никогда
	// не превращаясь в бесконечное ожидание.
	CallTimeout time.Duration

	// Retry - политика повторов для транзиентных ошибок
	Retry retry.Config

	// Rate/Burst - token bucket перед каждым вызовом
	// (запросов в секунду / ёмкость всплеска)
	Rate  float64
	Burst float64
}

// DefaultResilientConfig возвращает политику по умолчанию
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		CallTimeout: 5 * time.Second,
		Retry:       retry.DefaultConfig(),
		Rate:        10,
		Burst:       20,
	}
}

// ResilientTransport оборачивает OrderTransport ограничением частоты
// и повторами с экспоненциальным backoff.
//
// Повтор Place безопасен: idempotency key в намерении гарантирует, что
// ордер, принятый биржей до обрыва соединения, не будет создан дважды.
type ResilientTransport struct {
	inner   OrderTransport
	limiter *ratelimit.RateLimiter
	cfg     ResilientConfig
}

// NewResilientTransport создаёт устойчивую обёртку над транспортом
func NewResilientTransport(inner OrderTransport, cfg ResilientConfig) *ResilientTransport {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Rate
	}

	rcfg := cfg.Retry
	if rcfg.RetryIf == nil {
		rcfg.RetryIf = shouldRetry
	}
	cfg.Retry = rcfg

	return &ResilientTransport{
		inner:   inner,
		limiter: ratelimit.NewRateLimiter(cfg.Rate, cfg.Burst),
		cfg:     cfg,
	}
}

// shouldRetry: транзиентные ошибки биржи ретраятся; отмена контекста
// и ErrOrderNotFound (окончательный ответ биржи) - нет
func shouldRetry(err error) bool {
	if errors.Is(err, ErrOrderNotFound) {
		return false
	}
	return retry.RetryIfNotContext(err) && retry.IsRetryable(err)
}

// callError различает истечение per-call дедлайна и отмену родительского
// контекста. Дедлайн одного вызова - транзиентный таймаут биржи,
// он ретраится с backoff; отмена сверху останавливает повторы.
// Причина не оборачивается: DeadlineExceeded в цепочке Unwrap
// остановил бы retry как отмену контекста.
func (t *ResilientTransport) callError(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(t.inner.Name(), ErrKindTimeout, "call deadline exceeded", nil)
	}
	return err
}

func (t *ResilientTransport) Name() string {
	return t.inner.Name()
}

func (t *ResilientTransport) Place(ctx context.Context, intent *models.OrderIntent) (*Ack, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return retry.DoWithResult(ctx, func() (*Ack, error) {
		cctx, cancel := context.WithTimeout(ctx, t.cfg.CallTimeout)
		defer cancel()
		ack, err := t.inner.Place(cctx, intent)
		return ack, t.callError(ctx, err)
	}, t.cfg.Retry)
}

func (t *ResilientTransport) Cancel(ctx context.Context, externalID string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return retry.Do(ctx, func() error {
		cctx, cancel := context.WithTimeout(ctx, t.cfg.CallTimeout)
		defer cancel()
		return t.callError(ctx, t.inner.Cancel(cctx, externalID))
	}, t.cfg.Retry)
}

func (t *ResilientTransport) FetchStatus(ctx context.Context, externalID string) (*models.Order, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return retry.DoWithResult(ctx, func() (*models.Order, error) {
		cctx, cancel := context.WithTimeout(ctx, t.cfg.CallTimeout)
		defer cancel()
		order, err := t.inner.FetchStatus(cctx, externalID)
		return order, t.callError(ctx, err)
	}, t.cfg.Retry)
}

func (t *ResilientTransport) OpenOrders(ctx context.Context) ([]*models.Order, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return retry.DoWithResult(ctx, func() ([]*models.Order, error) {
		cctx, cancel := context.WithTimeout(ctx, t.cfg.CallTimeout)
		defer cancel()
		return t.inner.OpenOrders(cctx)
	}, t.cfg.Retry)
}

func (t *ResilientTransport) SubscribeUpdates(cb func(*models.OrderUpdate)) error {
	return t.inner.SubscribeUpdates(cb)
}

func (t *ResilientTransport) Close() error {
	return t.inner.Close()
}
