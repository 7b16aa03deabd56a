package domain

import "time"

// ClosedPositionEpsilon 持仓数量小于等于此值视为已平仓（交易所的碎股残留）
const ClosedPositionEpsilon = 0.001

// LivePosition 实时持仓
type LivePosition struct {
	TokenID   string
	Title     string  // 市场问题
	Outcome   string  // YES / NO / UP / DOWN
	Size      float64 // 持有的条件代币数量
	AvgPrice  float64 // 平均建仓价
	CurPrice  float64 // 当前价格
	UpdatedAt time.Time
}

// IsClosed 持仓是否已平仓
func (p *LivePosition) IsClosed() bool {
	return p.Size <= ClosedPositionEpsilon
}

// Value 当前市值
func (p *LivePosition) Value() float64 {
	return p.Size * p.CurPrice
}

// CostBasis 建仓成本
func (p *LivePosition) CostBasis() float64 {
	return p.Size * p.AvgPrice
}

// PnL 未实现盈亏（不含手续费）
func (p *LivePosition) PnL() float64 {
	return (p.CurPrice - p.AvgPrice) * p.Size
}

// PnLPercent 盈亏百分比（相对建仓成本）
func (p *LivePosition) PnLPercent() float64 {
	cost := p.CostBasis()
	if cost <= 0 {
		return 0
	}
	return p.PnL() / cost * 100
}

// FeeAdjustedPnL 扣除双边手续费后的盈亏
func (p *LivePosition) FeeAdjustedPnL(feeBase float64) float64 {
	return FeeAdjustedPnL(p.AvgPrice, p.CurPrice, p.Size, feeBase)
}

// IsStale 价格超过 staleAfter 未刷新
func (p *LivePosition) IsStale(staleAfter time.Duration) bool {
	return time.Since(p.UpdatedAt) > staleAfter
}

// PortfolioSummary 组合汇总
type PortfolioSummary struct {
	PositionCount int
	TotalValue    float64
	TotalCost     float64
	TotalPnL      float64
}

// Summarize 汇总一组持仓（跳过已平仓的）
func Summarize(positions []*LivePosition) PortfolioSummary {
	var s PortfolioSummary
	for _, p := range positions {
		if p.IsClosed() {
			continue
		}
		s.PositionCount++
		s.TotalValue += p.Value()
		s.TotalCost += p.CostBasis()
		s.TotalPnL += p.PnL()
	}
	return s
}
