package domain

import "time"

// PriceTick 单个资产的最新行情
type PriceTick struct {
	AssetID   string
	Price     float64 // 最新成交价或中间价
	BestBid   float64
	BestAsk   float64
	Timestamp time.Time
}

// Mid 中间价，单边缺失时退化为另一边
func (t *PriceTick) Mid() float64 {
	if t.BestBid > 0 && t.BestAsk > 0 {
		return (t.BestBid + t.BestAsk) / 2
	}
	if t.BestAsk > 0 {
		return t.BestAsk
	}
	return t.BestBid
}

// SpreadPct 点差百分比（相对中间价）
func (t *PriceTick) SpreadPct() float64 {
	mid := t.Mid()
	if mid <= 0 || t.BestBid <= 0 || t.BestAsk <= 0 {
		return 0
	}
	return (t.BestAsk - t.BestBid) / mid * 100
}

// IsStale 超过 staleAfter 未更新视为过期
func (t *PriceTick) IsStale(staleAfter time.Duration) bool {
	return time.Since(t.Timestamp) > staleAfter
}

// PricePoint 历史价格点
type PricePoint struct {
	Price     float64
	Timestamp time.Time
}
