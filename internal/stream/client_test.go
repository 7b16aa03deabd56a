package stream

import (
	"testing"

	"github.com/betbot/pmbot/internal/domain"
	"github.com/betbot/pmbot/pkg/config"
)

func newTestClient() *Client {
	return NewClient("ws://example.invalid/ws", config.StreamConfig{})
}

func TestDispatchCallsHandlersPerTick(t *testing.T) {
	c := newTestClient()

	var general []domain.PriceTick
	c.OnTick(func(tick domain.PriceTick) { general = append(general, tick) })

	// 两条行情逐条分发，后一条不覆盖前一条
	c.handleMessage([]byte(`{"price_changes": [{"asset_id": "a", "price": "0.66"}]}`))
	c.handleMessage([]byte(`{"price_changes": [{"asset_id": "a", "price": "0.60"}]}`))

	if len(general) != 2 {
		t.Fatalf("回调次数 = %d, 期望每条行情各一次", len(general))
	}
	if general[0].Price != 0.66 || general[1].Price != 0.60 {
		t.Errorf("回调顺序错误: %+v", general)
	}
}

func TestDispatchFiltersPositionAudience(t *testing.T) {
	c := newTestClient()
	c.SetPositionAssets([]string{"b"})

	var general, position []string
	c.OnTick(func(tick domain.PriceTick) { general = append(general, tick.AssetID) })
	c.OnPositionTick(func(tick domain.PriceTick) { position = append(position, tick.AssetID) })

	c.handleMessage([]byte(`{"price_changes": [{"asset_id": "a", "price": "0.50"}, {"asset_id": "b", "price": "0.30"}]}`))

	if len(general) != 2 {
		t.Errorf("全量回调收到 %v, 期望 a 和 b", general)
	}
	if len(position) != 1 || position[0] != "b" {
		t.Errorf("持仓回调收到 %v, 期望只有 b", position)
	}
}

func TestDispatchSkipsPongAndUpdatesBook(t *testing.T) {
	c := newTestClient()

	var fires int
	c.OnTick(func(domain.PriceTick) { fires++ })

	c.handleMessage([]byte("PONG"))
	if fires != 0 {
		t.Error("心跳响应不应该触发回调")
	}

	c.handleMessage([]byte(`{"asset_id": "a", "price": "0.55"}`))
	if fires != 1 {
		t.Errorf("回调次数 = %d, 期望 1", fires)
	}
	if tick, ok := c.Book().Latest("a"); !ok || tick.Price != 0.55 {
		t.Error("分发前行情应该先写入 Book")
	}
}
