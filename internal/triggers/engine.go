package triggers

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/pmbot/internal/domain"
	"github.com/betbot/pmbot/internal/metrics"
	"github.com/betbot/pmbot/pkg/cache"
	"github.com/betbot/pmbot/pkg/logger"
	"github.com/betbot/pmbot/pkg/sigchan"
)

// AlertStore 警报持久层
type AlertStore interface {
	ListPendingAlerts(ctx context.Context) ([]*domain.Alert, error)
	// MarkAlertTriggered 只有未触发到触发的转换返回 true
	MarkAlertTriggered(ctx context.Context, id int64) (bool, error)
}

// QuoteSource 实时行情来源
type QuoteSource interface {
	Latest(assetID string) (domain.PriceTick, bool)
}

// Handler 警报触发后的回调（通知用户、自动交易）
// 在独立 goroutine 里执行，不阻塞扫描循环
type Handler func(ctx context.Context, alert *domain.Alert, price float64)

const pendingCacheKey = "pending"

// Engine 触发引擎
//
// 行情流的每条 tick 通过 HandleTick 驱动求值，周期扫描兜底。
// 未触发警报清单带短 TTL 缓存，避免每条行情都打数据库；
// 触发走数据库条件更新加内存去重双保险，保证恰好触发一次。
type Engine struct {
	store  AlertStore
	quotes QuoteSource

	pending *cache.InMemoryCache[string, []*domain.Alert]
	fired   *cache.TTLSet[int64]

	checkInterval time.Duration
	cacheTTL      time.Duration
	kick          *sigchan.Chan // 警报增删后立即补一轮扫描

	mu       sync.Mutex
	handlers []Handler
}

func NewEngine(store AlertStore, quotes QuoteSource, checkInterval, cacheTTL time.Duration) *Engine {
	if checkInterval <= 0 {
		checkInterval = 2 * time.Second
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Second
	}
	return &Engine{
		store:         store,
		quotes:        quotes,
		pending:       cache.NewInMemoryCache[string, []*domain.Alert](cacheTTL),
		fired:         cache.NewTTLSet[int64](time.Minute),
		checkInterval: checkInterval,
		cacheTTL:      cacheTTL,
		kick:          sigchan.New(1),
	}
}

// OnTrigger 注册触发回调
func (e *Engine) OnTrigger(h Handler) {
	e.mu.Lock()
	e.handlers = append(e.handlers, h)
	e.mu.Unlock()
}

// InvalidateCache 警报增删后让缓存立即失效并补一轮扫描
func (e *Engine) InvalidateCache() {
	e.pending.Delete(pendingCacheKey)
	e.kick.Emit()
}

// Start 启动扫描循环
func (e *Engine) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.CheckOnce(ctx)
			case <-e.kick.C():
				e.CheckOnce(ctx)
			}
		}
	}()
}

// HandleTick 行情回调入口：每条行情立即对照该资产的未触发警报
// 逐条求值保证触发价被瞬间触及又回落时也能命中，
// 周期扫描只作为行情间隙的兜底
func (e *Engine) HandleTick(ctx context.Context, tick domain.PriceTick) {
	alerts, err := e.pendingAlerts(ctx)
	if err != nil {
		logger.WithField("component", "triggers").Warnf("读取未触发警报失败: %v", err)
		return
	}

	for _, a := range alerts {
		if a.TokenID != tick.AssetID {
			continue
		}
		if !a.ShouldTrigger(tick.Price) {
			continue
		}
		e.fire(ctx, a, tick.Price)
	}
}

// CheckOnce 扫描一轮
func (e *Engine) CheckOnce(ctx context.Context) {
	alerts, err := e.pendingAlerts(ctx)
	if err != nil {
		logger.WithField("component", "triggers").Warnf("读取未触发警报失败: %v", err)
		return
	}

	for _, a := range alerts {
		tick, ok := e.quotes.Latest(a.TokenID)
		if !ok {
			continue
		}
		if !a.ShouldTrigger(tick.Price) {
			continue
		}
		e.fire(ctx, a, tick.Price)
	}
}

// fire 触发警报：内存去重 + 数据库条件更新，输掉竞争就放弃
func (e *Engine) fire(ctx context.Context, a *domain.Alert, price float64) {
	if e.fired.Contains(a.ID) {
		return
	}

	won, err := e.store.MarkAlertTriggered(ctx, a.ID)
	if err != nil {
		logger.WithField("component", "triggers").Errorf("标记警报 %d 触发失败: %v", a.ID, err)
		return
	}
	if !won {
		e.fired.Add(a.ID)
		return
	}

	e.fired.Add(a.ID)
	e.InvalidateCache()
	metrics.AlertsTriggered.Add(1)
	logger.WithField("component", "triggers").Infof("警报触发: id=%d user=%d token=%s price=%.4f", a.ID, a.UserID, a.TokenID, price)

	e.mu.Lock()
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.Unlock()

	alert := *a
	alert.Triggered = true
	for _, h := range handlers {
		go h(ctx, &alert, price)
	}
}

func (e *Engine) pendingAlerts(ctx context.Context) ([]*domain.Alert, error) {
	if cached, ok := e.pending.Get(pendingCacheKey); ok {
		return cached, nil
	}
	alerts, err := e.store.ListPendingAlerts(ctx)
	if err != nil {
		return nil, err
	}
	e.pending.Set(pendingCacheKey, alerts, e.cacheTTL)
	return alerts, nil
}
