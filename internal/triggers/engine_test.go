package triggers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/betbot/pmbot/internal/domain"
)

type fakeAlertStore struct {
	mu        sync.Mutex
	alerts    []*domain.Alert
	listCalls int
	triggered map[int64]bool
}

func newFakeAlertStore(alerts ...*domain.Alert) *fakeAlertStore {
	return &fakeAlertStore{alerts: alerts, triggered: make(map[int64]bool)}
}

func (f *fakeAlertStore) ListPendingAlerts(context.Context) ([]*domain.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var out []*domain.Alert
	for _, a := range f.alerts {
		if !f.triggered[a.ID] {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAlertStore) MarkAlertTriggered(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.triggered[id] {
		return false, nil
	}
	f.triggered[id] = true
	return true, nil
}

type staticQuotes map[string]float64

func (s staticQuotes) Latest(assetID string) (domain.PriceTick, bool) {
	p, ok := s[assetID]
	if !ok {
		return domain.PriceTick{}, false
	}
	return domain.PriceTick{AssetID: assetID, Price: p, Timestamp: time.Now()}, true
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("等待条件超时")
}

func TestTriggerFiresExactlyOnce(t *testing.T) {
	store := newFakeAlertStore(&domain.Alert{ID: 1, UserID: 7, TokenID: "tok", Type: domain.AlertAbove, TriggerPrice: 0.70})
	e := NewEngine(store, staticQuotes{"tok": 0.75}, 2*time.Second, 5*time.Second)

	var fires int64
	e.OnTrigger(func(_ context.Context, a *domain.Alert, price float64) {
		if a.ID != 1 || price != 0.75 {
			t.Errorf("回调参数错误: %+v @ %v", a, price)
		}
		atomic.AddInt64(&fires, 1)
	})

	ctx := context.Background()
	e.CheckOnce(ctx)
	e.CheckOnce(ctx) // 第二轮不应该再触发

	waitFor(t, func() bool { return atomic.LoadInt64(&fires) >= 1 })
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt64(&fires); got != 1 {
		t.Errorf("触发次数 = %d, 期望恰好 1", got)
	}
}

func TestHandleTickFiresOnTouchAndRetreat(t *testing.T) {
	store := newFakeAlertStore(&domain.Alert{ID: 1, UserID: 7, TokenID: "tok", Type: domain.AlertAbove, TriggerPrice: 0.65})
	e := NewEngine(store, staticQuotes{}, 2*time.Second, 5*time.Second)

	var fires int64
	e.OnTrigger(func(_ context.Context, _ *domain.Alert, price float64) {
		if price != 0.66 {
			t.Errorf("触发价 = %v, 期望触及时的 0.66", price)
		}
		atomic.AddInt64(&fires, 1)
	})

	ctx := context.Background()
	// 价格瞬间触及 0.66 又回落到 0.60：逐条求值必须命中触及的那条
	e.HandleTick(ctx, domain.PriceTick{AssetID: "tok", Price: 0.66, Timestamp: time.Now()})
	e.HandleTick(ctx, domain.PriceTick{AssetID: "tok", Price: 0.60, Timestamp: time.Now()})

	waitFor(t, func() bool { return atomic.LoadInt64(&fires) >= 1 })
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt64(&fires); got != 1 {
		t.Errorf("触发次数 = %d, 期望恰好 1", got)
	}

	store.mu.Lock()
	marked := store.triggered[1]
	store.mu.Unlock()
	if !marked {
		t.Error("触及后警报应该被标记为已触发")
	}
}

func TestHandleTickIgnoresOtherAssets(t *testing.T) {
	store := newFakeAlertStore(&domain.Alert{ID: 1, TokenID: "tok", Type: domain.AlertAbove, TriggerPrice: 0.65})
	e := NewEngine(store, staticQuotes{}, 2*time.Second, 5*time.Second)

	var fires int64
	e.OnTrigger(func(context.Context, *domain.Alert, float64) { atomic.AddInt64(&fires, 1) })

	e.HandleTick(context.Background(), domain.PriceTick{AssetID: "other", Price: 0.80, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt64(&fires) != 0 {
		t.Error("其他资产的行情不应该触发")
	}
}

func TestTriggerRejectsOutOfBandPrice(t *testing.T) {
	store := newFakeAlertStore(&domain.Alert{ID: 2, TokenID: "tok", Type: domain.AlertAbove, TriggerPrice: 0.99})
	e := NewEngine(store, staticQuotes{}, 2*time.Second, 5*time.Second)

	var fires int64
	e.OnTrigger(func(context.Context, *domain.Alert, float64) { atomic.AddInt64(&fires, 1) })

	// 1.0 的毛刺行情在有效区间之外，不应该触发
	e.HandleTick(context.Background(), domain.PriceTick{AssetID: "tok", Price: 1.0, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt64(&fires) != 0 {
		t.Error("区间之外的价格不应该触发警报")
	}
}

func TestTriggerNotFiredBelowThreshold(t *testing.T) {
	store := newFakeAlertStore(&domain.Alert{ID: 1, TokenID: "tok", Type: domain.AlertAbove, TriggerPrice: 0.70})
	e := NewEngine(store, staticQuotes{"tok": 0.65}, 2*time.Second, 5*time.Second)

	var fires int64
	e.OnTrigger(func(context.Context, *domain.Alert, float64) { atomic.AddInt64(&fires, 1) })

	e.CheckOnce(context.Background())
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt64(&fires) != 0 {
		t.Error("价格未达到触发条件不应该触发")
	}
}

func TestTriggerSkipsAssetsWithoutQuotes(t *testing.T) {
	store := newFakeAlertStore(&domain.Alert{ID: 1, TokenID: "no-quote", Type: domain.AlertBelow, TriggerPrice: 0.30})
	e := NewEngine(store, staticQuotes{}, 2*time.Second, 5*time.Second)

	var fires int64
	e.OnTrigger(func(context.Context, *domain.Alert, float64) { atomic.AddInt64(&fires, 1) })

	e.CheckOnce(context.Background())
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt64(&fires) != 0 {
		t.Error("没有行情的资产不应该触发")
	}
}

func TestPendingAlertsCached(t *testing.T) {
	store := newFakeAlertStore(&domain.Alert{ID: 1, TokenID: "tok", Type: domain.AlertAbove, TriggerPrice: 0.90})
	e := NewEngine(store, staticQuotes{"tok": 0.50}, 2*time.Second, 5*time.Second)

	ctx := context.Background()
	e.CheckOnce(ctx)
	e.CheckOnce(ctx)
	e.CheckOnce(ctx)

	store.mu.Lock()
	calls := store.listCalls
	store.mu.Unlock()
	// TTL 窗口内只打一次数据库
	if calls != 1 {
		t.Errorf("数据库查询次数 = %d, 期望缓存生效只查 1 次", calls)
	}
}

func TestInvalidateCacheForcesReload(t *testing.T) {
	store := newFakeAlertStore(&domain.Alert{ID: 1, TokenID: "tok", Type: domain.AlertAbove, TriggerPrice: 0.90})
	e := NewEngine(store, staticQuotes{"tok": 0.50}, 2*time.Second, 5*time.Second)

	ctx := context.Background()
	e.CheckOnce(ctx)
	e.InvalidateCache()
	e.CheckOnce(ctx)

	store.mu.Lock()
	calls := store.listCalls
	store.mu.Unlock()
	if calls != 2 {
		t.Errorf("数据库查询次数 = %d, 期望失效后重新加载", calls)
	}
}

func TestAutoTradeAlertCarriesTradeParams(t *testing.T) {
	alert := domain.NewStopLoss(7, "tok", "Will it rain?", 0.25, 50)
	alert.ID = 9
	store := newFakeAlertStore(alert)
	e := NewEngine(store, staticQuotes{"tok": 0.20}, 2*time.Second, 5*time.Second)

	done := make(chan *domain.Alert, 1)
	e.OnTrigger(func(_ context.Context, a *domain.Alert, _ float64) { done <- a })

	e.CheckOnce(context.Background())

	select {
	case got := <-done:
		if !got.AutoTrade || got.TradeAmount != 50 {
			t.Errorf("自动交易参数丢失: %+v", got)
		}
		if !got.Triggered {
			t.Error("回调里的警报应该标记为已触发")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("止损警报应该触发")
	}
}
