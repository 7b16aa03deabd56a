package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/betbot/pmbot/clob/types"
	"github.com/betbot/pmbot/internal/domain"
	"github.com/betbot/pmbot/internal/execution"
)

// ErrNoSession 没有活跃会话，需要先解锁
var ErrNoSession = errors.New("会话不存在或已过期，请先解锁")

// traderFor 选择交易通道：纸交易模式走模拟盘，否则用会话里的真实客户端
func (a *App) traderFor(userID int64) (execution.Trader, error) {
	if a.cfg.Trading.PaperMode {
		return execution.NewPaperTrader(userID, a.Store, a.marketQuoter(), a.cfg.Trading.PaperBalance), nil
	}

	s, ok := a.Sessions.Get(userID)
	if !ok {
		return nil, ErrNoSession
	}
	return s.Client, nil
}

// marketQuoter 纸交易的询价来源：优先行情流，回退到任一活跃会话的 REST 询价
func (a *App) marketQuoter() execution.PriceSource {
	return &streamQuoter{app: a}
}

type streamQuoter struct {
	app *App
}

func (q *streamQuoter) GetPrice(ctx context.Context, tokenID string, side types.Side) (float64, error) {
	if tick, ok := q.app.Stream.Book().Latest(tokenID); ok && !tick.IsStale(q.app.cfg.Stream.StaleAfter) {
		if side == types.SideBuy {
			return tick.BestAsk, nil
		}
		return tick.BestBid, nil
	}

	// 行情流没有数据时借任一活跃会话询价
	for _, userID := range q.app.Sessions.ActiveUsers() {
		if s, ok := q.app.Sessions.Peek(userID); ok {
			return s.Client.GetPrice(ctx, tokenID, side)
		}
	}
	return 0, fmt.Errorf("资产 %s 没有可用行情", tokenID)
}

// Buy 按金额买入
func (a *App) Buy(ctx context.Context, userID int64, tokenID string, amountUSD, slippagePct float64) (*domain.OrderResult, error) {
	t, err := a.traderFor(userID)
	if err != nil {
		return nil, err
	}

	// 下单的同时把资产纳入行情订阅，方便后续跟踪
	if err := a.Stream.Subscribe(tokenID); err != nil {
		appLog.Warnf("订阅资产 %s 失败: %v", tokenID, err)
	}

	return a.Exec.Buy(ctx, t, execution.BuyRequest{
		UserID:      userID,
		TokenID:     tokenID,
		AmountUSD:   amountUSD,
		SlippagePct: slippagePct,
		TickSize:    types.TickSize001,
	})
}

// Sell 按数量卖出
func (a *App) Sell(ctx context.Context, userID int64, tokenID string, size float64) (*domain.OrderResult, error) {
	t, err := a.traderFor(userID)
	if err != nil {
		return nil, err
	}

	return a.Exec.Sell(ctx, t, execution.SellRequest{
		UserID:  userID,
		TokenID: tokenID,
		Size:    size,
	})
}

// SellAll 清仓某个资产
func (a *App) SellAll(ctx context.Context, userID int64, tokenID string) (*domain.OrderResult, error) {
	s, ok := a.Sessions.Get(userID)
	if !ok {
		return nil, ErrNoSession
	}

	p, ok := a.Pos.Position(s.Address, tokenID)
	if !ok {
		snap, err := a.Pos.Refresh(ctx, s.Address)
		if err != nil {
			return nil, err
		}
		for _, cand := range snap.Positions {
			if cand.TokenID == tokenID {
				p = cand
				ok = true
				break
			}
		}
	}
	if !ok || p.IsClosed() {
		return nil, fmt.Errorf("没有资产 %s 的持仓", tokenID)
	}

	return a.Sell(ctx, userID, tokenID, p.Size)
}
