package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/betbot/pmbot/clob/client"
	"github.com/betbot/pmbot/clob/types"
	"github.com/betbot/pmbot/internal/domain"
	"github.com/betbot/pmbot/internal/metrics"
	"github.com/betbot/pmbot/pkg/config"
	"github.com/betbot/pmbot/pkg/logger"
)

// maxLimitPrice GTC 兜底限价的上限
const maxLimitPrice = 0.99

// fakAttempts 买入时即时成交层的尝试次数
const fakAttempts = 2

// Engine 订单执行引擎
//
// 买入：两次 FAK 即时吃单，失败后挂 GTC 限价兜底（卖一价加滑点，上限 0.99）。
// 卖出：FAK、FOK 按买一价即时吃单，之后 GTC 兜底重试，每次让价一分。
// 同一 (用户, 资产, 方向) 的并发请求做 in-flight 去重。
type Engine struct {
	cfg        config.TradingConfig
	dedup      *InFlightDeduper
	retryPause time.Duration // FAK 两次尝试之间的间隔
}

func NewEngine(cfg config.TradingConfig) *Engine {
	return &Engine{
		cfg:        cfg,
		dedup:      NewInFlightDeduper(2*time.Second, 16),
		retryPause: 500 * time.Millisecond,
	}
}

// BuyRequest 按金额买入
type BuyRequest struct {
	UserID      int64
	TokenID     string
	AmountUSD   float64
	SlippagePct float64 // 0 时使用默认滑点
	TickSize    types.TickSize
	NegRisk     bool
}

// SellRequest 按数量卖出
type SellRequest struct {
	UserID   int64
	TokenID  string
	Size     float64
	TickSize types.TickSize
	NegRisk  bool
}

// Buy 按金额买入
func (e *Engine) Buy(ctx context.Context, t Trader, req BuyRequest) (*domain.OrderResult, error) {
	if req.AmountUSD < e.cfg.MinTradeUSD || req.AmountUSD > e.cfg.MaxTradeUSD {
		return nil, fmt.Errorf("交易金额 %.2f 超出限额 [%.2f, %.2f]", req.AmountUSD, e.cfg.MinTradeUSD, e.cfg.MaxTradeUSD)
	}

	key := orderKey(req.UserID, req.TokenID, string(types.SideBuy))
	if err := e.dedup.TryAcquire(key); err != nil {
		return nil, err
	}
	defer e.dedup.Release(key)

	slippage := req.SlippagePct
	if slippage <= 0 {
		slippage = e.cfg.DefaultSlippagePct
	}
	options := &types.CreateOrderOptions{TickSize: req.TickSize, NegRisk: req.NegRisk}
	log := logger.WithField("component", "execution")

	// 即时成交层：两次 FAK 吃单，每次重新询价
	var lastAsk float64
	for attempt := 1; attempt <= fakAttempts; attempt++ {
		ask, err := t.GetPrice(ctx, req.TokenID, types.SideBuy)
		if err != nil {
			return failureResult(types.SideBuy, req.TokenID, err), nil
		}
		if ask <= 0 || ask > 1 {
			return nil, fmt.Errorf("无效的卖一价: %v", ask)
		}
		lastAsk = ask

		size := roundSize(req.AmountUSD / ask)
		if size <= 0 {
			return nil, fmt.Errorf("金额 %.2f 在价格 %.4f 下买不到任何数量", req.AmountUSD, ask)
		}

		order := &types.UserOrder{TokenID: req.TokenID, Price: ask, Size: size, Side: types.SideBuy}
		resp, err := placeGuarded(ctx, t, order, types.OrderTypeFAK, options)
		if err == nil && resp.Success {
			log.Infof("FAK 买入成交: token=%s size=%.2f price=%.4f", req.TokenID, size, ask)
			return successResult(resp, domain.TierFAK, types.SideBuy, req.TokenID, ask, size), nil
		}
		if err != nil {
			if !retryable(err) {
				return failureResult(types.SideBuy, req.TokenID, err), nil
			}
			log.Warnf("FAK 买入第 %d 次失败: %v", attempt, err)
		} else {
			log.Warnf("FAK 买入第 %d 次未成交: %s", attempt, resp.ErrorMsg)
		}

		if attempt < fakAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.retryPause):
			}
		}
	}

	// 兜底层：卖一价加滑点挂 GTC，上限 0.99
	limit := roundPrice(lastAsk * (1 + slippage/100))
	if limit > maxLimitPrice {
		limit = maxLimitPrice
	}
	size := roundSize(req.AmountUSD / limit)
	if size <= 0 {
		return nil, fmt.Errorf("金额 %.2f 在限价 %.4f 下买不到任何数量", req.AmountUSD, limit)
	}

	order := &types.UserOrder{TokenID: req.TokenID, Price: limit, Size: size, Side: types.SideBuy}
	resp, err := placeGuarded(ctx, t, order, types.OrderTypeGTC, options)
	if err != nil {
		return failureResult(types.SideBuy, req.TokenID, err), nil
	}
	if !resp.Success {
		return &domain.OrderResult{
			Side: types.SideBuy, TokenID: req.TokenID,
			Message: resp.ErrorMsg,
		}, nil
	}

	log.Infof("GTC 买入挂单: token=%s size=%.2f limit=%.4f", req.TokenID, size, limit)
	return successResult(resp, domain.TierGTC, types.SideBuy, req.TokenID, limit, size), nil
}

// Sell 按数量卖出
// 即时层 FAK、FOK 按买一价吃单，之后 GTC 兜底挂单，
// 每次兜底重试让价一分，次数由 MaxSellRetries 控制
func (e *Engine) Sell(ctx context.Context, t Trader, req SellRequest) (*domain.OrderResult, error) {
	if req.Size <= 0 {
		return nil, fmt.Errorf("卖出数量必须大于 0")
	}

	key := orderKey(req.UserID, req.TokenID, string(types.SideSell))
	if err := e.dedup.TryAcquire(key); err != nil {
		return nil, err
	}
	defer e.dedup.Release(key)

	bid, err := t.GetPrice(ctx, req.TokenID, types.SideSell)
	if err != nil {
		return failureResult(types.SideSell, req.TokenID, err), nil
	}
	if bid <= 0 || bid > 1 {
		return nil, fmt.Errorf("无效的买一价: %v", bid)
	}

	// 下单前按名义金额校验限额，和买入同一套规则
	notional := bid * req.Size
	if notional < e.cfg.MinTradeUSD || notional > e.cfg.MaxTradeUSD {
		return nil, fmt.Errorf("卖出金额 %.2f 超出限额 [%.2f, %.2f]", notional, e.cfg.MinTradeUSD, e.cfg.MaxTradeUSD)
	}

	discount := e.cfg.GTCFallbackDiscount
	if discount <= 0 {
		discount = 0.01
	}
	maxRetries := e.cfg.MaxSellRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	options := &types.CreateOrderOptions{TickSize: req.TickSize, NegRisk: req.NegRisk}
	log := logger.WithField("component", "execution")

	// 即时成交层：FAK、FOK 都按当前买一价
	var lastMsg string
	immediate := []struct {
		orderType types.OrderType
		tier      domain.ExecutionTier
	}{
		{types.OrderTypeFAK, domain.TierFAK},
		{types.OrderTypeFOK, domain.TierFOK},
	}
	for _, tier := range immediate {
		order := &types.UserOrder{TokenID: req.TokenID, Price: bid, Size: req.Size, Side: types.SideSell}
		resp, err := placeGuarded(ctx, t, order, tier.orderType, options)
		if err == nil && resp.Success {
			log.Infof("%s 卖出成交: token=%s size=%.2f price=%.4f", tier.orderType, req.TokenID, req.Size, bid)
			return successResult(resp, tier.tier, types.SideSell, req.TokenID, bid, req.Size), nil
		}
		if err != nil {
			if !retryable(err) {
				return failureResult(types.SideSell, req.TokenID, err), nil
			}
			lastMsg = err.Error()
			log.Warnf("%s 卖出失败: %v", tier.orderType, err)
		} else {
			lastMsg = resp.ErrorMsg
			log.Warnf("%s 卖出未成交: %s", tier.orderType, resp.ErrorMsg)
		}
	}

	// 兜底层：GTC 挂单重试，每次再让价一分，不低于 0.01
	for retry := 1; retry <= maxRetries; retry++ {
		price := roundPrice(bid - float64(retry)*discount)
		if price < domain.MinTriggerPrice {
			price = domain.MinTriggerPrice
		}

		order := &types.UserOrder{TokenID: req.TokenID, Price: price, Size: req.Size, Side: types.SideSell}
		resp, err := placeGuarded(ctx, t, order, types.OrderTypeGTC, options)
		if err == nil && resp.Success {
			log.Infof("GTC 卖出挂单: token=%s size=%.2f price=%.4f (第 %d 次)", req.TokenID, req.Size, price, retry)
			return successResult(resp, domain.TierGTC, types.SideSell, req.TokenID, price, req.Size), nil
		}
		if err != nil {
			if !retryable(err) {
				return failureResult(types.SideSell, req.TokenID, err), nil
			}
			lastMsg = err.Error()
			log.Warnf("GTC 卖出第 %d 次失败: %v", retry, err)
		} else {
			lastMsg = resp.ErrorMsg
			log.Warnf("GTC 卖出第 %d 次未成交: %s", retry, resp.ErrorMsg)
		}
	}

	return &domain.OrderResult{
		Side: types.SideSell, TokenID: req.TokenID,
		Message: fmt.Sprintf("所有层级均未成交: %s", lastMsg),
	}, nil
}

// retryable 是否值得降级到下一层继续尝试
// 地域限制、认证失败（守卫恢复后仍失败）和余额不足没有重试价值
func retryable(err error) bool {
	switch client.KindOf(err) {
	case client.ErrKindGeoBlocked, client.ErrKindAuth, client.ErrKindBalance:
		return false
	}
	return true
}

func successResult(resp *types.OrderResponse, tier domain.ExecutionTier, side types.Side, tokenID string, price, size float64) *domain.OrderResult {
	metrics.OrdersPlaced.Add(1)
	r := &domain.OrderResult{
		Success: true,
		OrderID: resp.OrderID,
		Status:  resp.Status,
		Tier:    tier,
		Side:    side,
		TokenID: tokenID,
		Price:   price,
		Size:    size,
	}
	r.FilledSize, r.AvgPrice = fillFromResponse(resp, side)
	// 响应没带成交金额时：即时层视为按下单价全额成交，挂单层按未成交报告
	if r.FilledSize == 0 && tier != domain.TierGTC {
		r.FilledSize, r.AvgPrice = size, price
	}
	return r
}

// fillFromResponse 从响应的 making/taking 金额推算实际成交
// 买入：making 是支出的 USDC，taking 是得到的份额；卖出相反
func fillFromResponse(resp *types.OrderResponse, side types.Side) (filled, avg float64) {
	making, _ := strconv.ParseFloat(resp.MakingAmount, 64)
	taking, _ := strconv.ParseFloat(resp.TakingAmount, 64)
	if side == types.SideBuy {
		if taking > 0 {
			return taking, making / taking
		}
		return 0, 0
	}
	if making > 0 {
		return making, taking / making
	}
	return 0, 0
}

func failureResult(side types.Side, tokenID string, err error) *domain.OrderResult {
	metrics.OrdersFailed.Add(1)
	r := &domain.OrderResult{
		Side:    side,
		TokenID: tokenID,
		Message: err.Error(),
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		r.Guidance = apiErr.Guidance()
	}
	return r
}

// roundSize 数量保留两位小数（向下取整，避免超买）
func roundSize(size float64) float64 {
	return math.Floor(size*100) / 100
}

// roundPrice 价格保留四位小数
func roundPrice(price float64) float64 {
	return math.Round(price*10000) / 10000
}
