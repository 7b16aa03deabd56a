package positions

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/pmbot/clob/types"
	"github.com/betbot/pmbot/internal/domain"
	"github.com/betbot/pmbot/pkg/cache"
	"github.com/betbot/pmbot/pkg/logger"
)

// PositionSource 链上持仓数据来源（Data API）
type PositionSource interface {
	GetPositions(ctx context.Context, address string) ([]types.DataPosition, error)
}

// QuoteSource 实时行情来源，用最新成交价覆盖 Data API 的滞后价格
type QuoteSource interface {
	Latest(assetID string) (domain.PriceTick, bool)
}

// StreamControl 行情订阅控制：持仓资产要纳入实时订阅
type StreamControl interface {
	Subscribe(assetIDs ...string) error
	SetPositionAssets(assetIDs []string)
}

// Snapshot 一个地址的持仓快照
type Snapshot struct {
	Address   string
	Positions []*domain.LivePosition
	Summary   domain.PortfolioSummary
	UpdatedAt time.Time
}

// Manager 持仓管理器
// 周期性从 Data API 拉取被跟踪地址的持仓，
// 叠加实时行情后缓存，碎股残留按已平仓过滤
type Manager struct {
	data    PositionSource
	quotes  QuoteSource
	cache   *cache.InMemoryCache[string, *Snapshot]
	feeBase float64

	refreshInterval time.Duration
	staleAfter      time.Duration

	mu      sync.Mutex
	tracked map[string]struct{}
	tokens  map[string][]string // 地址 → 持仓资产，用于维护流订阅
	stream  StreamControl
}

func NewManager(data PositionSource, quotes QuoteSource, feeBase float64, refreshInterval, staleAfter time.Duration) *Manager {
	if refreshInterval <= 0 {
		refreshInterval = 10 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}
	if feeBase <= 0 {
		feeBase = domain.DefaultFeeRateBase
	}
	return &Manager{
		data:            data,
		quotes:          quotes,
		cache:           cache.NewInMemoryCache[string, *Snapshot](5 * time.Minute),
		feeBase:         feeBase,
		refreshInterval: refreshInterval,
		staleAfter:      staleAfter,
		tracked:         make(map[string]struct{}),
		tokens:          make(map[string][]string),
	}
}

// BindStream 绑定行情客户端，刷新时自动订阅持仓资产
func (m *Manager) BindStream(s StreamControl) {
	m.mu.Lock()
	m.stream = s
	m.mu.Unlock()
}

// Track 把地址纳入周期刷新
func (m *Manager) Track(address string) {
	m.mu.Lock()
	m.tracked[address] = struct{}{}
	m.mu.Unlock()
}

// Untrack 停止跟踪并丢弃缓存
func (m *Manager) Untrack(address string) {
	m.mu.Lock()
	delete(m.tracked, address)
	delete(m.tokens, address)
	m.mu.Unlock()
	m.cache.Delete(address)
	m.syncStream(nil)
}

// Refresh 立即拉取一个地址的持仓并更新缓存
func (m *Manager) Refresh(ctx context.Context, address string) (*Snapshot, error) {
	raw, err := m.data.GetPositions(ctx, address)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	positions := make([]*domain.LivePosition, 0, len(raw))
	for i := range raw {
		p := m.convert(&raw[i], now)
		if p.IsClosed() {
			continue
		}
		positions = append(positions, p)
	}

	snap := &Snapshot{
		Address:   address,
		Positions: positions,
		Summary:   domain.Summarize(positions),
		UpdatedAt: now,
	}
	m.cache.Set(address, snap, 0)

	ids := make([]string, 0, len(positions))
	for _, p := range positions {
		ids = append(ids, p.TokenID)
	}
	m.mu.Lock()
	m.tokens[address] = ids
	m.mu.Unlock()
	m.syncStream(ids)

	return snap, nil
}

// syncStream 把新增持仓资产加入订阅，并整体刷新持仓资产集合
func (m *Manager) syncStream(fresh []string) {
	m.mu.Lock()
	s := m.stream
	var all []string
	if s != nil {
		for _, ids := range m.tokens {
			all = append(all, ids...)
		}
	}
	m.mu.Unlock()
	if s == nil {
		return
	}

	if len(fresh) > 0 {
		if err := s.Subscribe(fresh...); err != nil {
			logger.WithField("component", "positions").Warnf("订阅持仓资产失败: %v", err)
		}
	}
	s.SetPositionAssets(all)
}

// Snapshot 返回缓存的持仓快照（可能滞后一个刷新周期）
func (m *Manager) Snapshot(address string) (*Snapshot, bool) {
	return m.cache.Get(address)
}

// Position 按资产查询单个持仓
func (m *Manager) Position(address, tokenID string) (*domain.LivePosition, bool) {
	snap, ok := m.cache.Get(address)
	if !ok {
		return nil, false
	}
	for _, p := range snap.Positions {
		if p.TokenID == tokenID {
			return p, true
		}
	}
	return nil, false
}

// FeeAdjustedPnL 一个地址扣费后的总盈亏
func (m *Manager) FeeAdjustedPnL(address string) (float64, bool) {
	snap, ok := m.cache.Get(address)
	if !ok {
		return 0, false
	}
	total := 0.0
	for _, p := range snap.Positions {
		total += p.FeeAdjustedPnL(m.feeBase)
	}
	return total, true
}

// Start 启动周期刷新循环
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refreshAll(ctx)
			}
		}
	}()
}

func (m *Manager) refreshAll(ctx context.Context) {
	m.mu.Lock()
	addresses := make([]string, 0, len(m.tracked))
	for addr := range m.tracked {
		addresses = append(addresses, addr)
	}
	m.mu.Unlock()

	for _, addr := range addresses {
		if _, err := m.Refresh(ctx, addr); err != nil {
			logger.WithField("component", "positions").Warnf("刷新地址 %s 持仓失败: %v", addr, err)
		}
	}
}

// HandleTick 持仓行情回调：把最新价写进缓存的持仓快照
// 刷新周期之间持仓估值也跟着行情走
func (m *Manager) HandleTick(tick domain.PriceTick) {
	m.mu.Lock()
	addresses := make([]string, 0, len(m.tokens))
	for addr := range m.tokens {
		addresses = append(addresses, addr)
	}
	m.mu.Unlock()

	for _, addr := range addresses {
		snap, ok := m.cache.Get(addr)
		if !ok {
			continue
		}
		m.mu.Lock()
		changed := false
		for _, p := range snap.Positions {
			if p.TokenID == tick.AssetID {
				p.CurPrice = tick.Price
				p.UpdatedAt = tick.Timestamp
				changed = true
			}
		}
		if changed {
			snap.Summary = domain.Summarize(snap.Positions)
		}
		m.mu.Unlock()
	}
}

// AddPosition 记录一笔场外建仓（快照刷新之前先可见）
func (m *Manager) AddPosition(address string, p *domain.LivePosition) {
	snap, ok := m.cache.Get(address)
	if !ok {
		snap = &Snapshot{Address: address}
		m.cache.Set(address, snap, 0)
	}

	m.mu.Lock()
	replaced := false
	for i, cur := range snap.Positions {
		if cur.TokenID == p.TokenID {
			snap.Positions[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		snap.Positions = append(snap.Positions, p)
	}
	snap.Summary = domain.Summarize(snap.Positions)
	snap.UpdatedAt = time.Now()
	m.tokens[address] = appendToken(m.tokens[address], p.TokenID)
	m.mu.Unlock()

	m.syncStream([]string{p.TokenID})
}

// RemovePosition 移除一个已平仓的持仓
func (m *Manager) RemovePosition(address, tokenID string) {
	snap, ok := m.cache.Get(address)
	if !ok {
		return
	}

	m.mu.Lock()
	kept := snap.Positions[:0]
	for _, p := range snap.Positions {
		if p.TokenID != tokenID {
			kept = append(kept, p)
		}
	}
	snap.Positions = kept
	snap.Summary = domain.Summarize(snap.Positions)
	snap.UpdatedAt = time.Now()

	ids := m.tokens[address][:0]
	for _, id := range m.tokens[address] {
		if id != tokenID {
			ids = append(ids, id)
		}
	}
	m.tokens[address] = ids
	m.mu.Unlock()

	m.syncStream(nil)
}

// ResizePosition 场外加减仓后调整数量，加仓按成交价摊薄均价
func (m *Manager) ResizePosition(address, tokenID string, newSize, fillPrice float64) {
	snap, ok := m.cache.Get(address)
	if !ok {
		return
	}

	m.mu.Lock()
	for _, p := range snap.Positions {
		if p.TokenID != tokenID {
			continue
		}
		if newSize > p.Size && fillPrice > 0 {
			added := newSize - p.Size
			p.AvgPrice = (p.Size*p.AvgPrice + added*fillPrice) / newSize
		}
		p.Size = newSize
		p.UpdatedAt = time.Now()
		break
	}
	snap.Summary = domain.Summarize(snap.Positions)
	snap.UpdatedAt = time.Now()
	m.mu.Unlock()

	if newSize <= 0 {
		m.RemovePosition(address, tokenID)
	}
}

func appendToken(ids []string, id string) []string {
	for _, cur := range ids {
		if cur == id {
			return ids
		}
	}
	return append(ids, id)
}

// convert 叠加实时行情：流里有未过期的最新价时优先使用
func (m *Manager) convert(raw *types.DataPosition, now time.Time) *domain.LivePosition {
	curPrice := raw.CurPrice
	if m.quotes != nil {
		if tick, ok := m.quotes.Latest(raw.Asset); ok && !tick.IsStale(m.staleAfter) {
			curPrice = tick.Price
		}
	}
	return &domain.LivePosition{
		TokenID:   raw.Asset,
		Title:     raw.Title,
		Outcome:   raw.Outcome,
		Size:      raw.Size,
		AvgPrice:  raw.AvgPrice,
		CurPrice:  curPrice,
		UpdatedAt: now,
	}
}
