package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/pmbot/clob/client"
	"github.com/betbot/pmbot/pkg/logger"
)

// Session 一个已解锁用户的交易会话
// 持有解密后派生的交易客户端，锁定或过期后销毁
type Session struct {
	UserID       int64
	Address      string
	Client       *client.Client
	CreatedAt    time.Time
	lastActivity time.Time
}

// Manager 会话管理器
// 过期采用惰性判断（访问时检查最后活跃时间），
// 辅以周期清扫回收不再被访问的会话
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*Session

	timeout       time.Duration
	sweepInterval time.Duration
}

func NewManager(timeout, sweepInterval time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 1800 * time.Second
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Manager{
		sessions:      make(map[int64]*Session),
		timeout:       timeout,
		sweepInterval: sweepInterval,
	}
}

// Put 创建或替换用户会话
func (m *Manager) Put(userID int64, address string, c *client.Client) *Session {
	now := time.Now()
	s := &Session{
		UserID:       userID,
		Address:      address,
		Client:       c,
		CreatedAt:    now,
		lastActivity: now,
	}

	m.mu.Lock()
	m.sessions[userID] = s
	m.mu.Unlock()

	logger.WithField("component", "sessions").Infof("用户 %d 会话已建立", userID)
	return s
}

// Get 返回用户会话并刷新活跃时间
// 已过期的会话当场销毁并返回未找到
func (m *Manager) Get(userID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, false
	}
	if time.Since(s.lastActivity) > m.timeout {
		delete(m.sessions, userID)
		logger.WithField("component", "sessions").Infof("用户 %d 会话已过期", userID)
		return nil, false
	}

	s.lastActivity = time.Now()
	return s, true
}

// Peek 返回会话但不刷新活跃时间（过期判断照常）
func (m *Manager) Peek(userID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok || time.Since(s.lastActivity) > m.timeout {
		return nil, false
	}
	return s, true
}

// Remove 锁定用户：销毁会话
func (m *Manager) Remove(userID int64) {
	m.mu.Lock()
	_, existed := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if existed {
		logger.WithField("component", "sessions").Infof("用户 %d 会话已销毁", userID)
	}
}

// Count 当前未过期的会话数
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.sessions {
		if time.Since(s.lastActivity) <= m.timeout {
			n++
		}
	}
	return n
}

// ActiveUsers 所有未过期会话的用户清单
func (m *Manager) ActiveUsers() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]int64, 0, len(m.sessions))
	for id, s := range m.sessions {
		if time.Since(s.lastActivity) <= m.timeout {
			out = append(out, id)
		}
	}
	return out
}

// StartSweeper 启动周期清扫，回收过期会话
func (m *Manager) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		if time.Since(s.lastActivity) > m.timeout {
			delete(m.sessions, id)
			logger.WithField("component", "sessions").Infof("清扫回收用户 %d 的过期会话", id)
		}
	}
}
