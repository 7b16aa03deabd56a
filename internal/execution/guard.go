package execution

import (
	"context"

	"github.com/betbot/pmbot/clob/client"
	"github.com/betbot/pmbot/clob/types"
	"github.com/betbot/pmbot/pkg/logger"
)

// placeGuarded 提交订单并按错误类型决定是否恢复重试
//
// 地域限制不可重试，直接返回带指引的错误。
// 认证失败时重新派生一次 API 凭证并恰好重试一次，
// 不维持黏性锁定状态：下一笔订单重新走完整流程。
func placeGuarded(ctx context.Context, t Trader, userOrder *types.UserOrder, orderType types.OrderType, options *types.CreateOrderOptions) (*types.OrderResponse, error) {
	resp, err := t.PlaceOrder(ctx, userOrder, orderType, options)
	if err == nil {
		return resp, nil
	}

	switch client.KindOf(err) {
	case client.ErrKindGeoBlocked:
		return nil, err
	case client.ErrKindAuth:
		logger.WithField("component", "execution").Warnf("认证失败，重新派生凭证后重试: %v", err)
		if _, derr := t.DeriveAPIKey(ctx); derr != nil {
			return nil, derr
		}
		return t.PlaceOrder(ctx, userOrder, orderType, options)
	default:
		return nil, err
	}
}
