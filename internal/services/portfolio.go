package services

import (
	"context"

	"github.com/betbot/pmbot/internal/positions"
	"github.com/betbot/pmbot/internal/store"
)

// Portfolio 用户的持仓快照（缓存过期时现场刷新）
func (a *App) Portfolio(ctx context.Context, userID int64) (*positions.Snapshot, error) {
	s, ok := a.Sessions.Get(userID)
	if !ok {
		return nil, ErrNoSession
	}

	if snap, ok := a.Pos.Snapshot(s.Address); ok {
		return snap, nil
	}
	return a.Pos.Refresh(ctx, s.Address)
}

// PaperBalance 纸交易余额
func (a *App) PaperBalance(ctx context.Context, userID int64) (float64, error) {
	return a.Store.GetOrCreatePaperAccount(ctx, userID, a.cfg.Trading.PaperBalance)
}

// PaperPositions 纸交易持仓
func (a *App) PaperPositions(ctx context.Context, userID int64) ([]store.PaperPosition, error) {
	return a.Store.ListPaperPositions(ctx, userID)
}

// PaperTrades 纸交易成交记录
func (a *App) PaperTrades(ctx context.Context, userID int64, limit int) ([]store.PaperTrade, error) {
	return a.Store.ListPaperTrades(ctx, userID, limit)
}

// ResetPaper 重置纸交易账户
func (a *App) ResetPaper(ctx context.Context, userID int64) error {
	return a.Store.ResetPaperAccount(ctx, userID, a.cfg.Trading.PaperBalance)
}
