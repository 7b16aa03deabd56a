package services

import (
	"context"
	"errors"
	"time"

	"github.com/betbot/pmbot/clob/types"
	"github.com/betbot/pmbot/internal/domain"
	"github.com/betbot/pmbot/internal/execution"
)

// autoTradeTimeout 自动交易的执行时限
const autoTradeTimeout = 30 * time.Second

// TriggerOutcomeStatus 警报触发后的处置结果
type TriggerOutcomeStatus string

const (
	// OutcomeNotified 纯通知警报，无自动交易
	OutcomeNotified TriggerOutcomeStatus = "notified"
	// OutcomeNoSession 自动交易警报触发时没有活跃会话
	OutcomeNoSession TriggerOutcomeStatus = "no_session"
	// OutcomeExecuted 自动交易已成交
	OutcomeExecuted TriggerOutcomeStatus = "executed"
	// OutcomeUnfilled 自动交易下单后未成交
	OutcomeUnfilled TriggerOutcomeStatus = "unfilled"
	// OutcomeFailed 自动交易执行失败
	OutcomeFailed TriggerOutcomeStatus = "failed"
)

// TriggerOutcome 警报触发的处置结果，上报给前端界面
type TriggerOutcome struct {
	Alert  *domain.Alert
	Price  float64 // 触发时的行情价
	Status TriggerOutcomeStatus
	Result *domain.OrderResult // executed / unfilled 时携带
	Err    error               // failed / no_session 时携带
}

// OnTriggerOutcome 注册警报处置结果回调
func (a *App) OnTriggerOutcome(fn func(TriggerOutcome)) {
	a.outcomeMu.Lock()
	a.onOutcome = append(a.onOutcome, fn)
	a.outcomeMu.Unlock()
}

func (a *App) emitOutcome(o TriggerOutcome) {
	a.outcomeMu.Lock()
	callbacks := make([]func(TriggerOutcome), len(a.onOutcome))
	copy(callbacks, a.onOutcome)
	a.outcomeMu.Unlock()

	for _, fn := range callbacks {
		fn(o)
	}
}

// CreateAlert 创建警报并订阅对应资产的行情
func (a *App) CreateAlert(ctx context.Context, alert *domain.Alert) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	if err := a.Store.InsertAlert(ctx, alert); err != nil {
		return err
	}

	a.Triggers.InvalidateCache()
	if err := a.Stream.Subscribe(alert.TokenID); err != nil {
		appLog.Warnf("订阅警报资产 %s 失败: %v", alert.TokenID, err)
	}
	return nil
}

// ListAlerts 用户的全部警报
func (a *App) ListAlerts(ctx context.Context, userID int64) ([]*domain.Alert, error) {
	return a.Store.ListAlertsByUser(ctx, userID)
}

// DeleteAlert 删除本人的警报
func (a *App) DeleteAlert(ctx context.Context, alertID, userID int64) (bool, error) {
	ok, err := a.Store.DeleteAlert(ctx, alertID, userID)
	if ok {
		a.Triggers.InvalidateCache()
	}
	return ok, err
}

// handleTriggeredAlert 警报触发后的处理：自动交易警报立即执行，
// 处置结果统一通过 OnTriggerOutcome 上报给前端。
// 执行失败不重试（警报已标记触发，重复下单的风险比漏单更高）
func (a *App) handleTriggeredAlert(_ context.Context, alert *domain.Alert, price float64) {
	if !alert.AutoTrade {
		a.emitOutcome(TriggerOutcome{Alert: alert, Price: price, Status: OutcomeNotified})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), autoTradeTimeout)
	defer cancel()

	t, err := a.traderFor(alert.UserID)
	if err != nil {
		status := OutcomeFailed
		if errors.Is(err, ErrNoSession) {
			status = OutcomeNoSession
		}
		appLog.Errorf("警报 %d 自动交易失败: %v", alert.ID, err)
		a.emitOutcome(TriggerOutcome{Alert: alert, Price: price, Status: status, Err: err})
		return
	}

	var res *domain.OrderResult
	switch alert.Side {
	case types.SideBuy:
		res, err = a.Exec.Buy(ctx, t, execution.BuyRequest{
			UserID:    alert.UserID,
			TokenID:   alert.TokenID,
			AmountUSD: alert.TradeAmount,
			TickSize:  types.TickSize001,
		})
	case types.SideSell:
		res, err = a.Exec.Sell(ctx, t, execution.SellRequest{
			UserID:  alert.UserID,
			TokenID: alert.TokenID,
			Size:    alert.TradeAmount,
		})
	default:
		a.emitOutcome(TriggerOutcome{Alert: alert, Price: price, Status: OutcomeNotified})
		return
	}

	if err != nil {
		appLog.Errorf("警报 %d 自动交易失败: %v", alert.ID, err)
		a.emitOutcome(TriggerOutcome{Alert: alert, Price: price, Status: OutcomeFailed, Err: err})
		return
	}
	if !res.Success {
		appLog.Warnf("警报 %d 自动交易未成交: %s", alert.ID, res.Message)
		a.emitOutcome(TriggerOutcome{Alert: alert, Price: price, Status: OutcomeUnfilled, Result: res})
		return
	}
	appLog.Infof("警报 %d 自动交易完成: %s %s %.2f@%.4f (%s)",
		alert.ID, res.Side, res.TokenID, res.Size, res.Price, res.Tier)
	a.emitOutcome(TriggerOutcome{Alert: alert, Price: price, Status: OutcomeExecuted, Result: res})
}
