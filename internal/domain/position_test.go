package domain

import (
	"testing"
	"time"
)

func TestPositionPnL(t *testing.T) {
	p := &LivePosition{Size: 100, AvgPrice: 0.40, CurPrice: 0.55}

	if got := p.Value(); !almostEqual(got, 55) {
		t.Errorf("Value = %v, 期望 55", got)
	}
	if got := p.PnL(); !almostEqual(got, 15) {
		t.Errorf("PnL = %v, 期望 15", got)
	}
	if got := p.PnLPercent(); !almostEqual(got, 37.5) {
		t.Errorf("PnLPercent = %v, 期望 37.5", got)
	}
}

func TestPositionIsClosed(t *testing.T) {
	// 碎股残留视为已平仓
	if p := (&LivePosition{Size: 0.001}); !p.IsClosed() {
		t.Error("size=0.001 应该视为已平仓")
	}
	if p := (&LivePosition{Size: 0.002}); p.IsClosed() {
		t.Error("size=0.002 不应该视为已平仓")
	}
	if p := (&LivePosition{Size: 0}); !p.IsClosed() {
		t.Error("size=0 应该视为已平仓")
	}
}

func TestPositionIsStale(t *testing.T) {
	fresh := &LivePosition{UpdatedAt: time.Now()}
	if fresh.IsStale(30 * time.Second) {
		t.Error("刚更新的持仓不应该过期")
	}

	old := &LivePosition{UpdatedAt: time.Now().Add(-31 * time.Second)}
	if !old.IsStale(30 * time.Second) {
		t.Error("31 秒前更新的持仓应该过期")
	}
}

func TestSummarizeSkipsClosed(t *testing.T) {
	positions := []*LivePosition{
		{Size: 100, AvgPrice: 0.40, CurPrice: 0.55},
		{Size: 0.0005, AvgPrice: 0.50, CurPrice: 0.60}, // 已平仓
		{Size: 50, AvgPrice: 0.60, CurPrice: 0.50},
	}

	s := Summarize(positions)
	if s.PositionCount != 2 {
		t.Errorf("持仓数 = %d, 期望 2（跳过已平仓）", s.PositionCount)
	}
	if !almostEqual(s.TotalValue, 55+25) {
		t.Errorf("总市值 = %v, 期望 80", s.TotalValue)
	}
	if !almostEqual(s.TotalPnL, 15-5) {
		t.Errorf("总盈亏 = %v, 期望 10", s.TotalPnL)
	}
}

func TestTickMidAndSpread(t *testing.T) {
	tick := &PriceTick{BestBid: 0.48, BestAsk: 0.52}
	if got := tick.Mid(); !almostEqual(got, 0.50) {
		t.Errorf("Mid = %v, 期望 0.50", got)
	}
	if got := tick.SpreadPct(); !almostEqual(got, 8.0) {
		t.Errorf("SpreadPct = %v, 期望 8.0", got)
	}

	// 单边缺失时退化
	askOnly := &PriceTick{BestAsk: 0.60}
	if got := askOnly.Mid(); !almostEqual(got, 0.60) {
		t.Errorf("只有卖价时 Mid = %v, 期望 0.60", got)
	}
	if got := askOnly.SpreadPct(); got != 0 {
		t.Errorf("单边缺失时 SpreadPct = %v, 期望 0", got)
	}
}
