package stream

import (
	"sync"
	"time"

	"github.com/betbot/pmbot/internal/domain"
)

// assetState 单个资产的最新行情和价格历史
type assetState struct {
	tick    domain.PriceTick
	history []domain.PricePoint // 环形缓冲
	head    int                 // 下一个写入位置
	count   int
}

// Book 保存所有订阅资产的最新行情和有限长度的价格历史
type Book struct {
	mu          sync.RWMutex
	assets      map[string]*assetState
	historySize int
	staleAfter  time.Duration
	updates     int64
}

// NewBook historySize 为每个资产保留的历史条数
func NewBook(historySize int, staleAfter time.Duration) *Book {
	if historySize <= 0 {
		historySize = 120
	}
	return &Book{
		assets:      make(map[string]*assetState),
		historySize: historySize,
		staleAfter:  staleAfter,
	}
}

// Apply 写入一条归一化后的行情
func (b *Book) Apply(tick domain.PriceTick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.assets[tick.AssetID]
	if !ok {
		st = &assetState{history: make([]domain.PricePoint, b.historySize)}
		b.assets[tick.AssetID] = st
	}

	st.tick = tick
	st.history[st.head] = domain.PricePoint{Price: tick.Price, Timestamp: tick.Timestamp}
	st.head = (st.head + 1) % b.historySize
	if st.count < b.historySize {
		st.count++
	}
	b.updates++
}

// Latest 返回资产的最新行情，没有数据时 ok=false
func (b *Book) Latest(assetID string) (domain.PriceTick, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.assets[assetID]
	if !ok {
		return domain.PriceTick{}, false
	}
	return st.tick, true
}

// History 按时间先后返回资产最近 limit 条价格历史副本
// limit 不为正或超过现存条数时返回全部
func (b *Book) History(assetID string, limit int) []domain.PricePoint {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.assets[assetID]
	if !ok || st.count == 0 {
		return nil
	}

	n := st.count
	if limit > 0 && limit < n {
		n = limit
	}

	start := 0
	if st.count == b.historySize {
		start = st.head
	}
	// 跳过最旧的 count-n 条
	start += st.count - n

	out := make([]domain.PricePoint, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, st.history[(start+i)%b.historySize])
	}
	return out
}

// IsStale 资产行情是否超过保鲜期（无数据也算过期）
func (b *Book) IsStale(assetID string) bool {
	tick, ok := b.Latest(assetID)
	if !ok {
		return true
	}
	return tick.IsStale(b.staleAfter)
}

// Stats 返回资产数和累计更新条数
func (b *Book) Stats() (assets int, updates int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.assets), b.updates
}
