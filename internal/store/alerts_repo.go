package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/betbot/pmbot/clob/types"
	"github.com/betbot/pmbot/internal/domain"
)

// InsertAlert 保存警报并回填自增 ID
func (s *Store) InsertAlert(ctx context.Context, a *domain.Alert) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO alerts (user_id, token_id, market_question, alert_type, trigger_price, side, auto_trade, trade_amount, triggered, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
`, a.UserID, a.TokenID, a.MarketQuestion, string(a.Type), a.TriggerPrice, string(a.Side), boolToInt(a.AutoTrade), a.TradeAmount, boolToInt(a.Triggered), a.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

// GetAlert 警报不存在时返回 (nil, nil)
func (s *Store) GetAlert(ctx context.Context, id int64) (*domain.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, token_id, market_question, alert_type, trigger_price, side, auto_trade, trade_amount, triggered, created_at
FROM alerts WHERE id=?
`, id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// ListAlertsByUser 用户的全部警报（最新在前）
func (s *Store) ListAlertsByUser(ctx context.Context, userID int64) ([]*domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, token_id, market_question, alert_type, trigger_price, side, auto_trade, trade_amount, triggered, created_at
FROM alerts WHERE user_id=? ORDER BY created_at DESC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// ListPendingAlerts 所有未触发的警报（触发引擎的扫描范围）
func (s *Store) ListPendingAlerts(ctx context.Context) ([]*domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, token_id, market_question, alert_type, trigger_price, side, auto_trade, trade_amount, triggered, created_at
FROM alerts WHERE triggered=0
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// MarkAlertTriggered 标记警报已触发
// 只有从未触发到触发的转换才算成功，保证恰好触发一次
func (s *Store) MarkAlertTriggered(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE alerts SET triggered=1, triggered_at=? WHERE id=? AND triggered=0
`, time.Now().Format(time.RFC3339Nano), id)
	if err != nil {
		return false, fmt.Errorf("mark alert triggered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteAlert 只允许删除本人的警报
func (s *Store) DeleteAlert(ctx context.Context, id, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(r rowScanner) (*domain.Alert, error) {
	var (
		a         domain.Alert
		alertType string
		side      sql.NullString
		autoTrade int
		triggered int
		createdAt string
	)
	if err := r.Scan(&a.ID, &a.UserID, &a.TokenID, &a.MarketQuestion, &alertType, &a.TriggerPrice, &side, &autoTrade, &a.TradeAmount, &triggered, &createdAt); err != nil {
		return nil, err
	}
	a.Type = domain.AlertType(alertType)
	if side.Valid {
		a.Side = types.Side(side.String)
	}
	a.AutoTrade = autoTrade == 1
	a.Triggered = triggered == 1
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &a, nil
}

func collectAlerts(rows *sql.Rows) ([]*domain.Alert, error) {
	var out []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
