package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/betbot/pmbot/clob/types"
	"github.com/betbot/pmbot/internal/domain"
	"github.com/betbot/pmbot/internal/execution"
	"github.com/betbot/pmbot/internal/positions"
	"github.com/betbot/pmbot/internal/sessions"
	"github.com/betbot/pmbot/internal/store"
	"github.com/betbot/pmbot/internal/stream"
	"github.com/betbot/pmbot/internal/triggers"
	"github.com/betbot/pmbot/internal/vault"
	"github.com/betbot/pmbot/pkg/config"
)

// newTestApp 手工装配一个不连外部服务的 App（纸交易模式）
func newTestApp(t *testing.T) *App {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "pmbot.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Default()
	cfg.Trading.PaperMode = true

	streamClient := stream.NewClient(cfg.Clob.WSHost, cfg.Stream)
	app := &App{
		cfg:      cfg,
		Store:    db,
		Vault:    vault.New(cfg.Vault.PBKDF2Iterations, cfg.Vault.MinPasswordLength),
		Sessions: sessions.NewManager(cfg.Session.Timeout, cfg.Session.SweepInterval),
		Stream:   streamClient,
		Pos: positions.NewManager(nil, streamClient.Book(),
			cfg.Trading.FeeRateBase, 10*time.Second, cfg.Stream.StaleAfter),
		Exec: execution.NewEngine(cfg.Trading),
	}
	app.Triggers = triggers.NewEngine(db, streamClient.Book(),
		cfg.Monitor.TriggerCheckInterval, cfg.Monitor.AlertCacheTTL)
	app.Triggers.OnTrigger(app.handleTriggeredAlert)
	app.Pos.BindStream(streamClient)
	return app
}

func seedUser(t *testing.T, a *App, userID int64) {
	t.Helper()
	if err := a.Store.UpsertUser(context.Background(), store.User{
		UserID:       userID,
		Address:      "0xabc",
		EncryptedKey: "blob",
	}); err != nil {
		t.Fatal(err)
	}
}

func collectOutcomes(a *App) *[]TriggerOutcome {
	var got []TriggerOutcome
	a.OnTriggerOutcome(func(o TriggerOutcome) { got = append(got, o) })
	return &got
}

func TestNotifyOnlyAlertEmitsNotified(t *testing.T) {
	app := newTestApp(t)
	got := collectOutcomes(app)

	alert := &domain.Alert{ID: 1, UserID: 7, TokenID: "tok", Type: domain.AlertAbove, TriggerPrice: 0.70}
	app.handleTriggeredAlert(context.Background(), alert, 0.72)

	if len(*got) != 1 || (*got)[0].Status != OutcomeNotified {
		t.Fatalf("处置结果 = %+v, 期望 notified", *got)
	}
	if (*got)[0].Price != 0.72 {
		t.Errorf("触发价 = %v, 期望 0.72", (*got)[0].Price)
	}
}

func TestAutoTradeWithoutSessionEmitsNoSession(t *testing.T) {
	app := newTestApp(t)
	app.cfg.Trading.PaperMode = false
	got := collectOutcomes(app)

	alert := domain.NewStopLoss(7, "tok", "Will it rain?", 0.25, 50)
	alert.ID = 2
	app.handleTriggeredAlert(context.Background(), alert, 0.20)

	if len(*got) != 1 || (*got)[0].Status != OutcomeNoSession {
		t.Fatalf("处置结果 = %+v, 期望 no_session", *got)
	}
	if !errors.Is((*got)[0].Err, ErrNoSession) {
		t.Errorf("错误 = %v, 期望 ErrNoSession", (*got)[0].Err)
	}
}

func TestPaperAutoBuyEmitsExecuted(t *testing.T) {
	app := newTestApp(t)
	seedUser(t, app, 7)
	got := collectOutcomes(app)

	app.Stream.Book().Apply(domain.PriceTick{
		AssetID: "tok", Price: 0.55, BestBid: 0.54, BestAsk: 0.56,
		Timestamp: time.Now(),
	})

	alert := &domain.Alert{
		ID: 3, UserID: 7, TokenID: "tok",
		Type: domain.AlertBelow, TriggerPrice: 0.60,
		AutoTrade: true, Side: types.SideBuy, TradeAmount: 50,
	}
	app.handleTriggeredAlert(context.Background(), alert, 0.55)

	if len(*got) != 1 || (*got)[0].Status != OutcomeExecuted {
		t.Fatalf("处置结果 = %+v, 期望 executed", *got)
	}
	res := (*got)[0].Result
	if res == nil || !res.Success || res.Side != types.SideBuy {
		t.Errorf("成交结果 = %+v", res)
	}
	if res.FilledSize <= 0 {
		t.Errorf("成交数量 = %v, 期望大于 0", res.FilledSize)
	}
}

func TestPaperAutoSellWithoutHoldingEmitsUnfilled(t *testing.T) {
	app := newTestApp(t)
	seedUser(t, app, 7)
	got := collectOutcomes(app)

	app.Stream.Book().Apply(domain.PriceTick{
		AssetID: "tok", Price: 0.55, BestBid: 0.54, BestAsk: 0.56,
		Timestamp: time.Now(),
	})

	// 没有纸交易持仓，各层卖单都会被拒绝
	alert := domain.NewStopLoss(7, "tok", "Will it rain?", 0.60, 10)
	alert.ID = 4
	app.handleTriggeredAlert(context.Background(), alert, 0.55)

	if len(*got) != 1 || (*got)[0].Status != OutcomeUnfilled {
		t.Fatalf("处置结果 = %+v, 期望 unfilled", *got)
	}
	if res := (*got)[0].Result; res == nil || res.Success {
		t.Errorf("未成交结果 = %+v", res)
	}
}
