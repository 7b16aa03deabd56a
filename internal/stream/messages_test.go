package stream

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestParseBookMessage(t *testing.T) {
	data := []byte(`{
		"event_type": "book",
		"asset_id": "token-1",
		"bids": [{"price": "0.48", "size": "100"}, {"price": "0.45", "size": "200"}],
		"asks": [{"price": "0.52", "size": "150"}, {"price": "0.55", "size": "80"}]
	}`)

	ticks := ParseMessage(data)
	if len(ticks) != 1 {
		t.Fatalf("解析出 %d 条行情, 期望 1", len(ticks))
	}
	tick := ticks[0]
	if tick.AssetID != "token-1" {
		t.Errorf("AssetID = %s", tick.AssetID)
	}
	if !almostEqual(tick.BestBid, 0.48) {
		t.Errorf("BestBid = %v, 期望最高买价 0.48", tick.BestBid)
	}
	if !almostEqual(tick.BestAsk, 0.52) {
		t.Errorf("BestAsk = %v, 期望最低卖价 0.52", tick.BestAsk)
	}
	if !almostEqual(tick.Price, 0.50) {
		t.Errorf("Price = %v, 期望中间价 0.50", tick.Price)
	}
}

func TestParseSnapshotArray(t *testing.T) {
	data := []byte(`[
		{"asset_id": "a", "bids": [{"price": "0.30", "size": "10"}], "asks": [{"price": "0.34", "size": "10"}]},
		{"asset_id": "b", "bids": [{"price": "0.60", "size": "10"}], "asks": [{"price": "0.62", "size": "10"}]}
	]`)

	ticks := ParseMessage(data)
	if len(ticks) != 2 {
		t.Fatalf("解析出 %d 条行情, 期望 2", len(ticks))
	}
	if ticks[0].AssetID != "a" || ticks[1].AssetID != "b" {
		t.Errorf("资产顺序错误: %s, %s", ticks[0].AssetID, ticks[1].AssetID)
	}
}

func TestParsePriceChangeBatch(t *testing.T) {
	data := []byte(`{
		"event_type": "price_change",
		"price_changes": [
			{"asset_id": "a", "price": "0.41", "best_bid": "0.40", "best_ask": "0.42"},
			{"asset_id": "b", "price": "0.73"}
		]
	}`)

	ticks := ParseMessage(data)
	if len(ticks) != 2 {
		t.Fatalf("解析出 %d 条行情, 期望 2", len(ticks))
	}
	if !almostEqual(ticks[0].BestBid, 0.40) || !almostEqual(ticks[0].BestAsk, 0.42) {
		t.Errorf("第一条买卖价错误: bid=%v ask=%v", ticks[0].BestBid, ticks[0].BestAsk)
	}

	// 第二条缺失买卖边，应该用最新价补全
	if !almostEqual(ticks[1].BestAsk, 0.73) {
		t.Errorf("缺失卖价应该等于最新价, 得到 %v", ticks[1].BestAsk)
	}
	if !almostEqual(ticks[1].BestBid, 0.72) {
		t.Errorf("缺失买价应该等于最新价减一分, 得到 %v", ticks[1].BestBid)
	}
}

func TestParseLegacyPriceUpdate(t *testing.T) {
	data := []byte(`{"event_type": "price_update", "asset_id": "x", "price": "0.55"}`)

	ticks := ParseMessage(data)
	if len(ticks) != 1 {
		t.Fatalf("解析出 %d 条行情, 期望 1", len(ticks))
	}
	if !almostEqual(ticks[0].Price, 0.55) {
		t.Errorf("Price = %v", ticks[0].Price)
	}
}

func TestParseRejectsInvalidPrices(t *testing.T) {
	cases := []string{
		`{"event_type": "price_update", "asset_id": "x", "price": "0"}`,
		`{"event_type": "price_update", "asset_id": "x", "price": "-0.1"}`,
		`{"event_type": "price_update", "asset_id": "x", "price": "1.5"}`,
		`{"event_type": "price_update", "asset_id": "x", "price": "abc"}`,
		`{"event_type": "price_update", "price": "0.5"}`,
		`not json at all`,
	}
	for _, c := range cases {
		if ticks := ParseMessage([]byte(c)); len(ticks) != 0 {
			t.Errorf("非法消息不应该产生行情: %s", c)
		}
	}

	// 边界价格 1 合法
	if ticks := ParseMessage([]byte(`{"asset_id": "x", "price": "1"}`)); len(ticks) != 1 {
		t.Error("价格 1 应该合法")
	}
}

func TestSynthesizeBidFloorsAtZero(t *testing.T) {
	// 最新价低于一分时，补全的买价不能为负
	ticks := ParseMessage([]byte(`{"asset_id": "x", "price": "0.005"}`))
	if len(ticks) != 1 {
		t.Fatal("应该解析出一条行情")
	}
	if ticks[0].BestBid != 0 {
		t.Errorf("补全买价 = %v, 期望 0", ticks[0].BestBid)
	}
}

func TestSynthesizedSidesKeepSpreadNonNegative(t *testing.T) {
	// 只有买价、最新价低于买价：补全的卖价向买价收敛，买一不能高于卖一
	ticks := ParseMessage([]byte(`{"price_changes": [{"asset_id": "x", "price": "0.45", "best_bid": "0.50"}]}`))
	if len(ticks) != 1 {
		t.Fatal("应该解析出一条行情")
	}
	if ticks[0].BestBid > ticks[0].BestAsk {
		t.Errorf("买一 %v 高于卖一 %v", ticks[0].BestBid, ticks[0].BestAsk)
	}
	if ticks[0].BestAsk != 0.50 {
		t.Errorf("补全卖价 = %v, 期望收敛到买价 0.50", ticks[0].BestAsk)
	}

	// 只有卖价、最新价高于卖价：补全的买价被卖价封顶
	ticks = ParseMessage([]byte(`{"price_changes": [{"asset_id": "x", "price": "0.45", "best_ask": "0.40"}]}`))
	if len(ticks) != 1 {
		t.Fatal("应该解析出一条行情")
	}
	if ticks[0].BestBid > ticks[0].BestAsk {
		t.Errorf("买一 %v 高于卖一 %v", ticks[0].BestBid, ticks[0].BestAsk)
	}
}

func TestIsPong(t *testing.T) {
	if !IsPong([]byte("PONG")) || !IsPong([]byte("pong")) {
		t.Error("PONG 文本应该被识别")
	}
	if IsPong([]byte(`{"event_type":"book"}`)) || IsPong([]byte(`[]`)) {
		t.Error("JSON 消息不是心跳响应")
	}
	if IsPong([]byte("")) {
		t.Error("空消息不是心跳响应")
	}
}
