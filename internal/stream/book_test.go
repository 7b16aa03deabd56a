package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/betbot/pmbot/internal/domain"
)

func TestBookLatest(t *testing.T) {
	b := NewBook(120, 30*time.Second)

	if _, ok := b.Latest("missing"); ok {
		t.Error("未订阅的资产不应该有行情")
	}

	b.Apply(domain.PriceTick{AssetID: "a", Price: 0.50, Timestamp: time.Now()})
	b.Apply(domain.PriceTick{AssetID: "a", Price: 0.55, Timestamp: time.Now()})

	tick, ok := b.Latest("a")
	if !ok || tick.Price != 0.55 {
		t.Errorf("Latest = %v, 期望最新价 0.55", tick.Price)
	}
}

func TestBookHistoryRing(t *testing.T) {
	b := NewBook(5, 30*time.Second)

	for i := 1; i <= 8; i++ {
		b.Apply(domain.PriceTick{
			AssetID:   "a",
			Price:     float64(i) / 100,
			Timestamp: time.Now(),
		})
	}

	hist := b.History("a", 0)
	if len(hist) != 5 {
		t.Fatalf("历史长度 = %d, 期望容量上限 5", len(hist))
	}
	// 只保留最近 5 条，按时间先后排列
	for i, want := range []float64{0.04, 0.05, 0.06, 0.07, 0.08} {
		if !almostEqual(hist[i].Price, want) {
			t.Errorf("hist[%d].Price = %v, 期望 %v", i, hist[i].Price, want)
		}
	}
}

func TestBookHistoryLimit(t *testing.T) {
	b := NewBook(5, 30*time.Second)
	for i := 1; i <= 8; i++ {
		b.Apply(domain.PriceTick{AssetID: "a", Price: float64(i) / 100, Timestamp: time.Now()})
	}

	// limit 截取最近的条数
	hist := b.History("a", 2)
	if len(hist) != 2 {
		t.Fatalf("历史长度 = %d, 期望 2", len(hist))
	}
	if !almostEqual(hist[0].Price, 0.07) || !almostEqual(hist[1].Price, 0.08) {
		t.Errorf("限量历史 = %v, 期望最近的 0.07, 0.08", hist)
	}

	// limit 超过现存条数时返回全部
	if got := b.History("a", 99); len(got) != 5 {
		t.Errorf("超额 limit 返回 %d 条, 期望全部 5 条", len(got))
	}
}

func TestBookHistoryPartialFill(t *testing.T) {
	b := NewBook(120, 30*time.Second)

	for i := 1; i <= 3; i++ {
		b.Apply(domain.PriceTick{AssetID: "a", Price: float64(i) / 10, Timestamp: time.Now()})
	}

	hist := b.History("a", 0)
	if len(hist) != 3 {
		t.Fatalf("历史长度 = %d, 期望 3", len(hist))
	}
	if !almostEqual(hist[0].Price, 0.1) || !almostEqual(hist[2].Price, 0.3) {
		t.Errorf("历史顺序错误: %v", hist)
	}
}

func TestBookIsStale(t *testing.T) {
	b := NewBook(120, 30*time.Second)

	if !b.IsStale("missing") {
		t.Error("无数据的资产应该视为过期")
	}

	b.Apply(domain.PriceTick{AssetID: "fresh", Price: 0.5, Timestamp: time.Now()})
	if b.IsStale("fresh") {
		t.Error("刚更新的资产不应该过期")
	}

	b.Apply(domain.PriceTick{AssetID: "old", Price: 0.5, Timestamp: time.Now().Add(-31 * time.Second)})
	if !b.IsStale("old") {
		t.Error("31 秒前的行情应该过期")
	}
}

func TestBookStats(t *testing.T) {
	b := NewBook(120, 30*time.Second)
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			b.Apply(domain.PriceTick{AssetID: fmt.Sprintf("asset-%d", i), Price: 0.5, Timestamp: time.Now()})
		}
	}

	assets, updates := b.Stats()
	if assets != 3 {
		t.Errorf("资产数 = %d, 期望 3", assets)
	}
	if updates != 12 {
		t.Errorf("更新条数 = %d, 期望 12", updates)
	}
}
