package domain

import (
	"fmt"
	"time"

	"github.com/betbot/pmbot/clob/types"
)

// AlertType 警报类型
type AlertType string

const (
	// AlertAbove 价格上穿触发
	AlertAbove AlertType = "above"
	// AlertBelow 价格下穿触发
	AlertBelow AlertType = "below"
)

// 触发价格的有效区间
const (
	MinTriggerPrice = 0.01
	MaxTriggerPrice = 0.99
)

// Alert 价格警报
// AutoTrade 为 true 时触发后自动执行交易
type Alert struct {
	ID             int64
	UserID         int64
	TokenID        string
	MarketQuestion string
	Type           AlertType
	TriggerPrice   float64
	Side           types.Side // 自动交易的方向
	AutoTrade      bool
	TradeAmount    float64 // 自动交易金额（USDC）或卖出数量
	CreatedAt      time.Time
	Triggered      bool
}

// Validate 校验警报参数
func (a *Alert) Validate() error {
	if a.TokenID == "" {
		return fmt.Errorf("警报缺少 token ID")
	}
	if a.Type != AlertAbove && a.Type != AlertBelow {
		return fmt.Errorf("无效的警报类型: %s", a.Type)
	}
	if a.TriggerPrice < MinTriggerPrice || a.TriggerPrice > MaxTriggerPrice {
		return fmt.Errorf("触发价格 %.4f 超出有效区间 [%.2f, %.2f]", a.TriggerPrice, MinTriggerPrice, MaxTriggerPrice)
	}
	if a.AutoTrade {
		if a.Side != types.SideBuy && a.Side != types.SideSell {
			return fmt.Errorf("自动交易警报缺少方向")
		}
		if a.TradeAmount <= 0 {
			return fmt.Errorf("自动交易金额必须大于 0")
		}
	}
	return nil
}

// ShouldTrigger 当前价格是否满足触发条件
// 有效区间之外的价格（粉尘价、1.0 的毛刺行情）一律不触发
func (a *Alert) ShouldTrigger(price float64) bool {
	if a.Triggered || price < MinTriggerPrice || price > MaxTriggerPrice {
		return false
	}
	switch a.Type {
	case AlertAbove:
		return price >= a.TriggerPrice
	case AlertBelow:
		return price <= a.TriggerPrice
	}
	return false
}

// NewStopLoss 创建止损警报：价格跌破 triggerPrice 时自动卖出
func NewStopLoss(userID int64, tokenID, question string, triggerPrice, sellSize float64) *Alert {
	return &Alert{
		UserID:         userID,
		TokenID:        tokenID,
		MarketQuestion: question,
		Type:           AlertBelow,
		TriggerPrice:   triggerPrice,
		Side:           types.SideSell,
		AutoTrade:      true,
		TradeAmount:    sellSize,
		CreatedAt:      time.Now(),
	}
}

// NewTakeProfit 创建止盈警报：价格升破 triggerPrice 时自动卖出
func NewTakeProfit(userID int64, tokenID, question string, triggerPrice, sellSize float64) *Alert {
	return &Alert{
		UserID:         userID,
		TokenID:        tokenID,
		MarketQuestion: question,
		Type:           AlertAbove,
		TriggerPrice:   triggerPrice,
		Side:           types.SideSell,
		AutoTrade:      true,
		TradeAmount:    sellSize,
		CreatedAt:      time.Now(),
	}
}
