package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Store SQLite 持久层：用户凭证、警报、纸交易账户
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）数据库并执行建表迁移
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "创建数据库目录失败")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "打开 sqlite 数据库失败")
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS users (
  user_id INTEGER PRIMARY KEY,
  address TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  encrypted_key TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  last_login TEXT
);`,
		`
CREATE TABLE IF NOT EXISTS alerts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
  token_id TEXT NOT NULL,
  market_question TEXT,
  alert_type TEXT NOT NULL,
  trigger_price REAL NOT NULL,
  side TEXT,
  auto_trade INTEGER NOT NULL DEFAULT 0,
  trade_amount REAL NOT NULL DEFAULT 0,
  triggered INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  triggered_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_pending ON alerts(triggered, token_id);`,
		`
CREATE TABLE IF NOT EXISTS paper_accounts (
  user_id INTEGER PRIMARY KEY REFERENCES users(user_id) ON DELETE CASCADE,
  balance REAL NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS paper_positions (
  user_id INTEGER NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
  token_id TEXT NOT NULL,
  size REAL NOT NULL,
  avg_price REAL NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (user_id, token_id)
);`,
		`
CREATE TABLE IF NOT EXISTS paper_trades (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
  token_id TEXT NOT NULL,
  side TEXT NOT NULL,
  size REAL NOT NULL,
  price REAL NOT NULL,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_paper_trades_user ON paper_trades(user_id, created_at DESC);`,
	}

	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return errors.Wrap(err, "执行建表迁移失败")
		}
	}
	return nil
}
