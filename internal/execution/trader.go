package execution

import (
	"context"

	"github.com/betbot/pmbot/clob/types"
)

// Trader 执行引擎依赖的交易能力
// 真实交易由 clob 客户端实现，纸交易由 PaperTrader 实现
type Trader interface {
	// PlaceOrder 构建、签名并提交订单
	PlaceOrder(ctx context.Context, userOrder *types.UserOrder, orderType types.OrderType, options *types.CreateOrderOptions) (*types.OrderResponse, error)

	// GetPrice 单边最优价：BUY 返回最优卖价，SELL 返回最优买价
	GetPrice(ctx context.Context, tokenID string, side types.Side) (float64, error)

	// DeriveAPIKey 重新派生 API 凭证（认证失败后的恢复手段）
	DeriveAPIKey(ctx context.Context) (*types.ApiKeyCreds, error)
}
