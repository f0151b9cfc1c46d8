package bus

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"xbot/internal/models"
)

func marketEvent(symbol string, ts time.Time) *models.MarketEvent {
	return models.TickEvent(&models.Tick{Symbol: symbol, Price: 100, Quantity: 1, Timestamp: ts})
}

func TestSubscribeAndPublishOrder(t *testing.T) {
	b := New(16)
	defer b.Close()

	sub, err := b.Subscribe("bot-1", "BTCUSDT", 16)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	base := time.Now()
	for i := 0; i < 10; i++ {
		if err := b.PublishMarket(marketEvent("BTCUSDT", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}

	// События одного ключа приходят строго в порядке публикации
	for i := 0; i < 10; i++ {
		ev := <-sub.Events()
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d: seq = %d, want %d", i, ev.Seq, i+1)
		}
		want := base.Add(time.Duration(i) * time.Second)
		if !ev.Market.Timestamp.Equal(want) {
			t.Fatalf("event %d delivered out of order", i)
		}
	}
}

func TestPublishRoutesBySymbol(t *testing.T) {
	b := New(16)
	defer b.Close()

	btc, _ := b.Subscribe("bot-1", "BTCUSDT", 16)
	eth, _ := b.Subscribe("bot-2", "ETHUSDT", 16)

	if err := b.PublishMarket(marketEvent("BTCUSDT", time.Now())); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case ev := <-btc.Events():
		if ev.Key.Symbol != "BTCUSDT" {
			t.Errorf("wrong key symbol: %s", ev.Key.Symbol)
		}
	default:
		t.Fatal("BTC subscriber did not receive event")
	}

	select {
	case <-eth.Events():
		t.Fatal("ETH subscriber received BTC event")
	default:
	}
}

func TestDuplicateSubscription(t *testing.T) {
	b := New(4)
	defer b.Close()

	if _, err := b.Subscribe("bot-1", "BTCUSDT", 4); err != nil {
		t.Fatalf("first subscribe failed: %v", err)
	}
	if _, err := b.Subscribe("bot-1", "BTCUSDT", 4); !errors.Is(err, ErrDuplicateSubscription) {
		t.Fatalf("got %v, want ErrDuplicateSubscription", err)
	}
}

func TestOverflowFailsSubscriberNotOthers(t *testing.T) {
	b := New(4)
	defer b.Close()

	var overflowKeys []Key
	b.SetOverflowHook(func(key Key) { overflowKeys = append(overflowKeys, key) })

	slow, _ := b.Subscribe("slow", "BTCUSDT", 2)
	fast, _ := b.Subscribe("fast", "BTCUSDT", 16)

	// Переполняем очередь slow (buffer 2): третья публикация - overflow
	var lastErr error
	for i := 0; i < 3; i++ {
		lastErr = b.PublishMarket(marketEvent("BTCUSDT", time.Now().Add(time.Duration(i)*time.Millisecond)))
	}
	if !errors.Is(lastErr, ErrOverflow) {
		t.Fatalf("got %v, want ErrOverflow", lastErr)
	}

	// Переполнившийся подписчик закрыт с ErrOverflow, НЕ тихий drop
	drained := 0
	for range slow.Events() {
		drained++
	}
	if drained != 2 {
		t.Errorf("slow drained %d buffered events, want 2", drained)
	}
	if !errors.Is(slow.Err(), ErrOverflow) {
		t.Errorf("slow.Err() = %v, want ErrOverflow", slow.Err())
	}
	if len(overflowKeys) != 1 || overflowKeys[0].InstanceID != "slow" {
		t.Errorf("overflow hook keys = %v", overflowKeys)
	}

	// Быстрый подписчик не затронут и получил все три события
	for i := 0; i < 3; i++ {
		select {
		case <-fast.Events():
		default:
			t.Fatalf("fast subscriber missing event %d", i)
		}
	}

	// Повторная подписка с тем же ключом возможна после отказа старой
	if _, err := b.Subscribe("slow", "BTCUSDT", 8); err != nil {
		t.Errorf("re-subscribe after overflow failed: %v", err)
	}
}

func TestPublishLifecycleTargeted(t *testing.T) {
	b := New(8)
	defer b.Close()

	one, _ := b.Subscribe("bot-1", "BTCUSDT", 8)
	two, _ := b.Subscribe("bot-2", "BTCUSDT", 8)

	notif := &models.Notification{Type: models.NotificationOrderFilled, InstanceID: "bot-1"}
	if err := b.PublishLifecycle(Key{InstanceID: "bot-1", Symbol: "BTCUSDT"}, notif); err != nil {
		t.Fatalf("publish lifecycle failed: %v", err)
	}

	select {
	case ev := <-one.Events():
		if ev.Type != EventLifecycle || ev.Lifecycle.Type != models.NotificationOrderFilled {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("bot-1 did not receive targeted lifecycle event")
	}

	select {
	case <-two.Events():
		t.Fatal("bot-2 received event targeted at bot-1")
	default:
	}

	// Broadcast по символу (пустой InstanceID) получают оба
	if err := b.PublishLifecycle(Key{Symbol: "BTCUSDT"}, &models.Notification{Type: models.NotificationDrawdownBreach}); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	for _, sub := range []*Subscription{one, two} {
		select {
		case ev := <-sub.Events():
			if ev.Lifecycle.Type != models.NotificationDrawdownBreach {
				t.Errorf("unexpected broadcast payload: %+v", ev.Lifecycle)
			}
		default:
			t.Fatalf("%s missed broadcast", sub.Key().InstanceID)
		}
	}
}

func TestClosedBusRejectsOperations(t *testing.T) {
	b := New(4)
	sub, _ := b.Subscribe("bot-1", "BTCUSDT", 4)
	b.Close()

	if err := b.PublishMarket(marketEvent("BTCUSDT", time.Now())); !errors.Is(err, ErrClosed) {
		t.Errorf("publish after close: got %v, want ErrClosed", err)
	}
	if _, err := b.Subscribe("bot-2", "BTCUSDT", 4); !errors.Is(err, ErrClosed) {
		t.Errorf("subscribe after close: got %v, want ErrClosed", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("subscription channel must be closed")
	}
	if !errors.Is(sub.Err(), ErrClosed) {
		t.Errorf("sub.Err() = %v, want ErrClosed", sub.Err())
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(4)
	defer b.Close()

	sub, _ := b.Subscribe("bot-1", "BTCUSDT", 4)
	b.Unsubscribe(sub)

	if err := b.PublishMarket(marketEvent("BTCUSDT", time.Now())); err != nil {
		t.Fatalf("publish to no subscribers must not fail: %v", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("unsubscribed channel must be closed")
	}
}

func BenchmarkPublishMarket(b *testing.B) {
	bus := New(1024)
	defer bus.Close()

	subs := make([]*Subscription, 8)
	for i := range subs {
		subs[i], _ = bus.Subscribe(fmt.Sprintf("bot-%d", i), "BTCUSDT", 1024)
	}
	for _, s := range subs {
		go func(s *Subscription) {
			for range s.Events() {
			}
		}(s)
	}

	ev := marketEvent("BTCUSDT", time.Now())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bus.PublishMarket(ev)
	}
}
