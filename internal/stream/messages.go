package stream

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/betbot/pmbot/internal/domain"
)

// EventType 行情消息类型
type EventType string

const (
	EventBook           EventType = "book"
	EventPriceChange    EventType = "price_change"
	EventLastTradePrice EventType = "last_trade_price"
	EventPriceUpdate    EventType = "price_update" // 旧格式
)

// wireLevel 订单簿单档
type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wireMessage 行情消息的统一线格式
// 四种入站形态共用一个结构：快照数组、price_change 批量、
// 单条 book/last_trade_price 更新、旧格式 price_update
type wireMessage struct {
	EventType    EventType         `json:"event_type"`
	AssetID      string            `json:"asset_id"`
	Market       string            `json:"market"`
	Price        string            `json:"price"`
	Bids         []wireLevel       `json:"bids"`
	Asks         []wireLevel       `json:"asks"`
	PriceChanges []wirePriceChange `json:"price_changes"`
	Timestamp    string            `json:"timestamp"`
}

// wirePriceChange price_change 批量中的单条变化
type wirePriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// IsPong 判断是否是心跳响应（非 JSON 文本）
func IsPong(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] == '{' || trimmed[0] == '[' {
		return false
	}
	s := string(trimmed)
	return s == "PONG" || s == "pong"
}

// ParseMessage 将一条入站消息归一化为零或多条 PriceTick
// 无法识别或价格非法的条目被静默丢弃，不中断流
func ParseMessage(data []byte) []domain.PriceTick {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}

	now := time.Now()

	// 快照：订单簿对象数组
	if trimmed[0] == '[' {
		var msgs []wireMessage
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil
		}
		ticks := make([]domain.PriceTick, 0, len(msgs))
		for i := range msgs {
			if tick, ok := normalize(&msgs[i], now); ok {
				ticks = append(ticks, tick)
			}
		}
		return ticks
	}

	var msg wireMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil
	}

	// price_change 批量
	if len(msg.PriceChanges) > 0 {
		ticks := make([]domain.PriceTick, 0, len(msg.PriceChanges))
		for _, pc := range msg.PriceChanges {
			if tick, ok := normalizeChange(pc, now); ok {
				ticks = append(ticks, tick)
			}
		}
		return ticks
	}

	if tick, ok := normalize(&msg, now); ok {
		return []domain.PriceTick{tick}
	}
	return nil
}

// normalize 处理单条 book / last_trade_price / price_update 消息
func normalize(msg *wireMessage, now time.Time) (domain.PriceTick, bool) {
	if msg.AssetID == "" {
		return domain.PriceTick{}, false
	}

	// 订单簿消息：从买卖档提取最优价
	if len(msg.Bids) > 0 || len(msg.Asks) > 0 {
		bestBid := bestOfSide(msg.Bids, true)
		bestAsk := bestOfSide(msg.Asks, false)
		price := parsePrice(msg.Price)
		if price == 0 {
			if bestBid > 0 && bestAsk > 0 {
				price = (bestBid + bestAsk) / 2
			} else if bestAsk > 0 {
				price = bestAsk
			} else {
				price = bestBid
			}
		}
		if !validPrice(price) {
			return domain.PriceTick{}, false
		}
		bestBid, bestAsk = synthesizeSides(price, bestBid, bestAsk)
		return domain.PriceTick{
			AssetID:   msg.AssetID,
			Price:     price,
			BestBid:   bestBid,
			BestAsk:   bestAsk,
			Timestamp: now,
		}, true
	}

	// 纯价格消息（last_trade_price / price_update）
	price := parsePrice(msg.Price)
	if !validPrice(price) {
		return domain.PriceTick{}, false
	}
	bestBid, bestAsk := synthesizeSides(price, 0, 0)
	return domain.PriceTick{
		AssetID:   msg.AssetID,
		Price:     price,
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		Timestamp: now,
	}, true
}

// normalizeChange 处理 price_change 批量中的单条
func normalizeChange(pc wirePriceChange, now time.Time) (domain.PriceTick, bool) {
	if pc.AssetID == "" {
		return domain.PriceTick{}, false
	}

	bestBid := parsePrice(pc.BestBid)
	bestAsk := parsePrice(pc.BestAsk)
	price := parsePrice(pc.Price)
	if price == 0 {
		if bestBid > 0 && bestAsk > 0 {
			price = (bestBid + bestAsk) / 2
		} else if bestAsk > 0 {
			price = bestAsk
		} else {
			price = bestBid
		}
	}
	if !validPrice(price) {
		return domain.PriceTick{}, false
	}

	bestBid, bestAsk = synthesizeSides(price, bestBid, bestAsk)
	return domain.PriceTick{
		AssetID:   pc.AssetID,
		Price:     price,
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		Timestamp: now,
	}, true
}

// synthesizeSides 补全缺失的买卖边
// 缺卖价时用最新价充当，缺买价时用最新价减一分（不低于 0）。
// 合成边向已有的一边收敛，保证买一不高于卖一
func synthesizeSides(price, bestBid, bestAsk float64) (float64, float64) {
	if bestAsk <= 0 {
		bestAsk = price
		if bestBid > bestAsk {
			bestAsk = bestBid
		}
	}
	if bestBid <= 0 {
		bestBid = price - 0.01
		if bestBid < 0 {
			bestBid = 0
		}
	}
	if bestBid > bestAsk {
		bestBid = bestAsk
	}
	return bestBid, bestAsk
}

// validPrice 价格必须在 (0, 1] 区间
func validPrice(price float64) bool {
	return price > 0 && price <= 1
}

func parsePrice(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// bestOfSide 提取一边的最优价（买边取最高，卖边取最低）
func bestOfSide(levels []wireLevel, isBid bool) float64 {
	best := 0.0
	for _, l := range levels {
		p := parsePrice(l.Price)
		if p <= 0 {
			continue
		}
		if best == 0 || (isBid && p > best) || (!isBid && p < best) {
			best = p
		}
	}
	return best
}
