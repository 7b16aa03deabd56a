package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/betbot/pmbot/clob/types"
)

// PaperPosition 纸交易持仓
type PaperPosition struct {
	UserID   int64
	TokenID  string
	Size     float64
	AvgPrice float64
}

// PaperTrade 纸交易成交记录
type PaperTrade struct {
	ID        int64
	UserID    int64
	TokenID   string
	Side      types.Side
	Size      float64
	Price     float64
	CreatedAt time.Time
}

// GetOrCreatePaperAccount 返回纸交易余额，首次访问时用初始资金建账
func (s *Store) GetOrCreatePaperAccount(ctx context.Context, userID int64, initialBalance float64) (float64, error) {
	now := time.Now().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO paper_accounts (user_id, balance, updated_at) VALUES (?,?,?)
`, userID, initialBalance, now)
	if err != nil {
		return 0, fmt.Errorf("create paper account: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT balance FROM paper_accounts WHERE user_id=?`, userID)
	var balance float64
	if err := row.Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// ResetPaperAccount 重置余额并清空持仓和成交记录
func (s *Store) ResetPaperAccount(ctx context.Context, userID int64, balance float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
INSERT INTO paper_accounts (user_id, balance, updated_at) VALUES (?,?,?)
ON CONFLICT(user_id) DO UPDATE SET balance=excluded.balance, updated_at=excluded.updated_at
`, userID, balance, now); err != nil {
		return fmt.Errorf("reset paper balance: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM paper_positions WHERE user_id=?`, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM paper_trades WHERE user_id=?`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetPaperPosition 持仓不存在时返回 (nil, nil)
func (s *Store) GetPaperPosition(ctx context.Context, userID int64, tokenID string) (*PaperPosition, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, token_id, size, avg_price FROM paper_positions WHERE user_id=? AND token_id=?
`, userID, tokenID)
	var p PaperPosition
	if err := row.Scan(&p.UserID, &p.TokenID, &p.Size, &p.AvgPrice); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// ListPaperPositions 用户的全部纸交易持仓
func (s *Store) ListPaperPositions(ctx context.Context, userID int64) ([]PaperPosition, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, token_id, size, avg_price FROM paper_positions WHERE user_id=? ORDER BY token_id
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaperPosition
	for rows.Next() {
		var p PaperPosition
		if err := rows.Scan(&p.UserID, &p.TokenID, &p.Size, &p.AvgPrice); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ApplyPaperFill 在一个事务里完成余额变动、持仓更新和成交记录
// 买入扣减余额并摊薄均价，卖出增加余额并缩减持仓（清零时删除持仓行）
func (s *Store) ApplyPaperFill(ctx context.Context, userID int64, tokenID string, side types.Side, size, price float64) error {
	if size <= 0 || price <= 0 {
		return fmt.Errorf("非法的成交参数: size=%v price=%v", size, price)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var balance float64
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM paper_accounts WHERE user_id=?`, userID).Scan(&balance); err != nil {
		return fmt.Errorf("paper account not found: %w", err)
	}

	var curSize, curAvg float64
	err = tx.QueryRowContext(ctx, `SELECT size, avg_price FROM paper_positions WHERE user_id=? AND token_id=?`, userID, tokenID).Scan(&curSize, &curAvg)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	now := time.Now().Format(time.RFC3339Nano)
	cost := size * price

	switch side {
	case types.SideBuy:
		if cost > balance {
			return fmt.Errorf("纸交易余额不足: 需要 %.2f, 可用 %.2f", cost, balance)
		}
		newSize := curSize + size
		newAvg := (curSize*curAvg + cost) / newSize
		if _, err := tx.ExecContext(ctx, `
INSERT INTO paper_positions (user_id, token_id, size, avg_price, updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(user_id, token_id) DO UPDATE SET size=excluded.size, avg_price=excluded.avg_price, updated_at=excluded.updated_at
`, userID, tokenID, newSize, newAvg, now); err != nil {
			return err
		}
		balance -= cost

	case types.SideSell:
		if size > curSize {
			return fmt.Errorf("纸交易持仓不足: 卖出 %.4f, 持有 %.4f", size, curSize)
		}
		remaining := curSize - size
		if remaining <= 0.0001 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM paper_positions WHERE user_id=? AND token_id=?`, userID, tokenID); err != nil {
				return err
			}
		} else {
			if _, err := tx.ExecContext(ctx, `
UPDATE paper_positions SET size=?, updated_at=? WHERE user_id=? AND token_id=?
`, remaining, now, userID, tokenID); err != nil {
				return err
			}
		}
		balance += cost

	default:
		return fmt.Errorf("未知方向: %s", side)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE paper_accounts SET balance=?, updated_at=? WHERE user_id=?
`, balance, now, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO paper_trades (user_id, token_id, side, size, price, created_at) VALUES (?,?,?,?,?,?)
`, userID, tokenID, string(side), size, price, now); err != nil {
		return err
	}
	return tx.Commit()
}

// ListPaperTrades 成交记录（最新在前）
func (s *Store) ListPaperTrades(ctx context.Context, userID int64, limit int) ([]PaperTrade, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, token_id, side, size, price, created_at
FROM paper_trades WHERE user_id=? ORDER BY id DESC LIMIT ?
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaperTrade
	for rows.Next() {
		var (
			t       PaperTrade
			side    string
			created string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.TokenID, &side, &t.Size, &t.Price, &created); err != nil {
			return nil, err
		}
		t.Side = types.Side(side)
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, t)
	}
	return out, rows.Err()
}
