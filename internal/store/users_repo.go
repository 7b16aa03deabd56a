package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User 注册用户：钱包地址和加密后的私钥
type User struct {
	UserID       int64
	Address      string
	DisplayName  string
	EncryptedKey string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLogin    time.Time // 零值表示从未解锁过
}

// UpsertUser 注册或更新用户凭证
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	now := time.Now().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (user_id, address, display_name, encrypted_key, created_at, updated_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET address=excluded.address, display_name=excluded.display_name, encrypted_key=excluded.encrypted_key, updated_at=excluded.updated_at
`, u.UserID, u.Address, u.DisplayName, u.EncryptedKey, now, now)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUser 用户不存在时返回 (nil, nil)
func (s *Store) GetUser(ctx context.Context, userID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, address, display_name, encrypted_key, created_at, updated_at, COALESCE(last_login, '')
FROM users WHERE user_id=?
`, userID)
	var u User
	var createdAt, updatedAt, lastLogin string
	if err := row.Scan(&u.UserID, &u.Address, &u.DisplayName, &u.EncryptedKey, &createdAt, &updatedAt, &lastLogin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if lastLogin != "" {
		u.LastLogin, _ = time.Parse(time.RFC3339Nano, lastLogin)
	}
	return &u, nil
}

// TouchLastLogin 解锁成功后记录登录时间
func (s *Store) TouchLastLogin(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login=? WHERE user_id=?`,
		time.Now().Format(time.RFC3339Nano), userID)
	return err
}

// DeleteUser 注销用户，级联删除警报和纸交易数据
func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE user_id=?`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// ListUserIDs 所有注册用户
func (s *Store) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM users ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
