package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/betbot/pmbot/clob/types"
	"github.com/betbot/pmbot/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUserUpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if u, err := s.GetUser(ctx, 42); err != nil || u != nil {
		t.Fatalf("不存在的用户应该返回 (nil, nil), 得到 %v, %v", u, err)
	}

	err := s.UpsertUser(ctx, User{UserID: 42, Address: "0xabc", DisplayName: "alice", EncryptedKey: "blob-1"})
	if err != nil {
		t.Fatalf("注册用户失败: %v", err)
	}

	u, err := s.GetUser(ctx, 42)
	if err != nil || u == nil {
		t.Fatalf("查询用户失败: %v", err)
	}
	if u.Address != "0xabc" || u.DisplayName != "alice" || u.EncryptedKey != "blob-1" {
		t.Errorf("用户数据不一致: %+v", u)
	}
	if !u.LastLogin.IsZero() {
		t.Error("未登录过的用户 last_login 应该是零值")
	}

	if err := s.TouchLastLogin(ctx, 42); err != nil {
		t.Fatal(err)
	}
	u, _ = s.GetUser(ctx, 42)
	if u.LastLogin.IsZero() {
		t.Error("登录后 last_login 应该有值")
	}

	// 重复注册覆盖旧凭证
	if err := s.UpsertUser(ctx, User{UserID: 42, Address: "0xdef", EncryptedKey: "blob-2"}); err != nil {
		t.Fatal(err)
	}
	u, _ = s.GetUser(ctx, 42)
	if u.EncryptedKey != "blob-2" {
		t.Error("重复注册应该覆盖旧凭证")
	}
}

func TestAlertLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertUser(ctx, User{UserID: 1, Address: "0xabc", EncryptedKey: "blob"}); err != nil {
		t.Fatal(err)
	}

	a := &domain.Alert{
		UserID:       1,
		TokenID:      "token-1",
		Type:         domain.AlertBelow,
		TriggerPrice: 0.30,
		Side:         types.SideSell,
		AutoTrade:    true,
		TradeAmount:  50,
	}
	if err := s.InsertAlert(ctx, a); err != nil {
		t.Fatalf("保存警报失败: %v", err)
	}
	if a.ID == 0 {
		t.Fatal("保存后应该回填警报 ID")
	}

	got, err := s.GetAlert(ctx, a.ID)
	if err != nil || got == nil {
		t.Fatalf("查询警报失败: %v", err)
	}
	if got.Type != domain.AlertBelow || !got.AutoTrade || got.Side != types.SideSell {
		t.Errorf("警报数据不一致: %+v", got)
	}

	pending, err := s.ListPendingAlerts(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("未触发警报数 = %d, 期望 1", len(pending))
	}

	// 恰好触发一次
	ok, err := s.MarkAlertTriggered(ctx, a.ID)
	if err != nil || !ok {
		t.Fatalf("首次标记触发应该成功: %v", err)
	}
	ok, err = s.MarkAlertTriggered(ctx, a.ID)
	if err != nil || ok {
		t.Fatal("重复标记触发应该失败")
	}

	pending, _ = s.ListPendingAlerts(ctx)
	if len(pending) != 0 {
		t.Errorf("触发后未触发警报数 = %d, 期望 0", len(pending))
	}
}

func TestDeleteAlertOwnership(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.UpsertUser(ctx, User{UserID: 1, Address: "0xa", EncryptedKey: "b"})
	a := &domain.Alert{UserID: 1, TokenID: "t", Type: domain.AlertAbove, TriggerPrice: 0.5}
	_ = s.InsertAlert(ctx, a)

	// 别人不能删
	if ok, _ := s.DeleteAlert(ctx, a.ID, 2); ok {
		t.Error("非本人不应该能删除警报")
	}
	if ok, _ := s.DeleteAlert(ctx, a.ID, 1); !ok {
		t.Error("本人删除警报应该成功")
	}
}

func TestPaperAccountAndFills(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.UpsertUser(ctx, User{UserID: 7, Address: "0xa", EncryptedKey: "b"})

	balance, err := s.GetOrCreatePaperAccount(ctx, 7, 1000)
	if err != nil || balance != 1000 {
		t.Fatalf("初始余额 = %v, 期望 1000", balance)
	}
	// 再次访问不重置余额
	if b, _ := s.GetOrCreatePaperAccount(ctx, 7, 500); b != 1000 {
		t.Errorf("重复建账余额 = %v, 期望保持 1000", b)
	}

	// 买入 100 股 @0.40
	if err := s.ApplyPaperFill(ctx, 7, "token-1", types.SideBuy, 100, 0.40); err != nil {
		t.Fatalf("买入失败: %v", err)
	}
	if b, _ := s.GetOrCreatePaperAccount(ctx, 7, 1000); b != 960 {
		t.Errorf("买入后余额 = %v, 期望 960", b)
	}

	// 加仓摊薄均价: 100@0.40 + 100@0.60 → 200@0.50
	if err := s.ApplyPaperFill(ctx, 7, "token-1", types.SideBuy, 100, 0.60); err != nil {
		t.Fatal(err)
	}
	p, _ := s.GetPaperPosition(ctx, 7, "token-1")
	if p == nil || p.Size != 200 || p.AvgPrice != 0.50 {
		t.Errorf("加仓后持仓 = %+v, 期望 200@0.50", p)
	}

	// 余额不足
	if err := s.ApplyPaperFill(ctx, 7, "token-2", types.SideBuy, 10000, 0.50); err == nil {
		t.Error("余额不足应该报错")
	}

	// 卖出一半
	if err := s.ApplyPaperFill(ctx, 7, "token-1", types.SideSell, 100, 0.55); err != nil {
		t.Fatal(err)
	}
	p, _ = s.GetPaperPosition(ctx, 7, "token-1")
	if p == nil || p.Size != 100 {
		t.Errorf("卖出后持仓 = %+v, 期望 100", p)
	}

	// 清仓后持仓行删除
	if err := s.ApplyPaperFill(ctx, 7, "token-1", types.SideSell, 100, 0.55); err != nil {
		t.Fatal(err)
	}
	if p, _ := s.GetPaperPosition(ctx, 7, "token-1"); p != nil {
		t.Errorf("清仓后持仓应该删除, 得到 %+v", p)
	}

	// 持仓不足
	if err := s.ApplyPaperFill(ctx, 7, "token-1", types.SideSell, 1, 0.55); err == nil {
		t.Error("持仓不足应该报错")
	}

	trades, err := s.ListPaperTrades(ctx, 7, 50)
	if err != nil || len(trades) != 4 {
		t.Errorf("成交记录数 = %d, 期望 4", len(trades))
	}
}

func TestResetPaperAccount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.UpsertUser(ctx, User{UserID: 9, Address: "0xa", EncryptedKey: "b"})
	_, _ = s.GetOrCreatePaperAccount(ctx, 9, 1000)
	_ = s.ApplyPaperFill(ctx, 9, "token-1", types.SideBuy, 10, 0.50)

	if err := s.ResetPaperAccount(ctx, 9, 1000); err != nil {
		t.Fatalf("重置失败: %v", err)
	}

	if b, _ := s.GetOrCreatePaperAccount(ctx, 9, 1000); b != 1000 {
		t.Errorf("重置后余额 = %v, 期望 1000", b)
	}
	if positions, _ := s.ListPaperPositions(ctx, 9); len(positions) != 0 {
		t.Error("重置后持仓应该清空")
	}
	if trades, _ := s.ListPaperTrades(ctx, 9, 50); len(trades) != 0 {
		t.Error("重置后成交记录应该清空")
	}
}

func TestDeleteUserCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.UpsertUser(ctx, User{UserID: 3, Address: "0xa", EncryptedKey: "b"})
	_ = s.InsertAlert(ctx, &domain.Alert{UserID: 3, TokenID: "t", Type: domain.AlertAbove, TriggerPrice: 0.5})
	_, _ = s.GetOrCreatePaperAccount(ctx, 3, 1000)

	if err := s.DeleteUser(ctx, 3); err != nil {
		t.Fatalf("注销失败: %v", err)
	}
	if alerts, _ := s.ListAlertsByUser(ctx, 3); len(alerts) != 0 {
		t.Error("注销后警报应该级联删除")
	}
}
