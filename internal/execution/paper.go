package execution

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/betbot/pmbot/clob/types"
	"github.com/betbot/pmbot/internal/store"
	"github.com/betbot/pmbot/pkg/logger"
)

// PriceSource 纸交易的询价来源（真实行情或测试替身）
type PriceSource interface {
	GetPrice(ctx context.Context, tokenID string, side types.Side) (float64, error)
}

// PaperTrader 纸交易实现：订单按请求价立即全额成交，
// 资金和持仓记在本地数据库，不触碰真实交易所
type PaperTrader struct {
	userID         int64
	store          *store.Store
	prices         PriceSource
	initialBalance float64
}

func NewPaperTrader(userID int64, s *store.Store, prices PriceSource, initialBalance float64) *PaperTrader {
	if initialBalance <= 0 {
		initialBalance = 1000
	}
	return &PaperTrader{userID: userID, store: s, prices: prices, initialBalance: initialBalance}
}

// PlaceOrder 按请求价模拟成交
func (p *PaperTrader) PlaceOrder(ctx context.Context, userOrder *types.UserOrder, orderType types.OrderType, _ *types.CreateOrderOptions) (*types.OrderResponse, error) {
	if _, err := p.store.GetOrCreatePaperAccount(ctx, p.userID, p.initialBalance); err != nil {
		return nil, err
	}

	if err := p.store.ApplyPaperFill(ctx, p.userID, userOrder.TokenID, userOrder.Side, userOrder.Size, userOrder.Price); err != nil {
		// 余额或持仓不足按交易失败返回，不算系统错误
		return &types.OrderResponse{Success: false, ErrorMsg: err.Error()}, nil
	}

	orderID := "paper-" + uuid.NewString()
	logger.WithField("component", "paper").Infof("纸交易成交: user=%d token=%s %s %.2f@%.4f (%s)",
		p.userID, userOrder.TokenID, userOrder.Side, userOrder.Size, userOrder.Price, orderType)

	return &types.OrderResponse{
		Success: true,
		OrderID: orderID,
		Status:  "matched",
	}, nil
}

// GetPrice 委托给真实询价来源
func (p *PaperTrader) GetPrice(ctx context.Context, tokenID string, side types.Side) (float64, error) {
	if p.prices == nil {
		return 0, fmt.Errorf("纸交易缺少询价来源")
	}
	return p.prices.GetPrice(ctx, tokenID, side)
}

// DeriveAPIKey 纸交易无凭证可派生
func (p *PaperTrader) DeriveAPIKey(context.Context) (*types.ApiKeyCreds, error) {
	return &types.ApiKeyCreds{}, nil
}

// Balance 当前纸交易余额
func (p *PaperTrader) Balance(ctx context.Context) (float64, error) {
	return p.store.GetOrCreatePaperAccount(ctx, p.userID, p.initialBalance)
}
