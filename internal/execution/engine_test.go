package execution

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/betbot/pmbot/clob/client"
	"github.com/betbot/pmbot/clob/types"
	"github.com/betbot/pmbot/internal/domain"
	"github.com/betbot/pmbot/pkg/config"
)

func testConfig() config.TradingConfig {
	return config.TradingConfig{
		DefaultSlippagePct:  2.0,
		GTCFallbackDiscount: 0.01,
		MaxSellRetries:      3,
		MinTradeUSD:         1,
		MaxTradeUSD:         100,
	}
}

func testEngine() *Engine {
	e := NewEngine(testConfig())
	e.retryPause = 0
	return e
}

type placeCall struct {
	orderType types.OrderType
	price     float64
	size      float64
	side      types.Side
}

type placeOutcome struct {
	resp *types.OrderResponse
	err  error
}

// fakeTrader 按脚本逐次返回下单结果
type fakeTrader struct {
	ask, bid    float64
	outcomes    []placeOutcome
	calls       []placeCall
	deriveCalls int
}

func (f *fakeTrader) PlaceOrder(_ context.Context, o *types.UserOrder, orderType types.OrderType, _ *types.CreateOrderOptions) (*types.OrderResponse, error) {
	f.calls = append(f.calls, placeCall{orderType: orderType, price: o.Price, size: o.Size, side: o.Side})
	if len(f.outcomes) == 0 {
		return &types.OrderResponse{Success: true, OrderID: "order-ok", Status: "matched"}, nil
	}
	out := f.outcomes[0]
	f.outcomes = f.outcomes[1:]
	return out.resp, out.err
}

func (f *fakeTrader) GetPrice(_ context.Context, _ string, side types.Side) (float64, error) {
	if side == types.SideBuy {
		return f.ask, nil
	}
	return f.bid, nil
}

func (f *fakeTrader) DeriveAPIKey(context.Context) (*types.ApiKeyCreds, error) {
	f.deriveCalls++
	return &types.ApiKeyCreds{Key: "fresh"}, nil
}

func noFill() placeOutcome {
	return placeOutcome{resp: &types.OrderResponse{Success: false, ErrorMsg: "no liquidity"}}
}

func TestBuyFillsOnFirstFAK(t *testing.T) {
	ft := &fakeTrader{ask: 0.56}
	res, err := testEngine().Buy(context.Background(), ft, BuyRequest{UserID: 1, TokenID: "tok", AmountUSD: 50})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Tier != domain.TierFAK {
		t.Errorf("结果 = %+v, 期望 FAK 成交", res)
	}
	if len(ft.calls) != 1 || ft.calls[0].orderType != types.OrderTypeFAK {
		t.Errorf("调用序列错误: %+v", ft.calls)
	}
	// size = floor(50/0.56*100)/100
	wantSize := math.Floor(50/0.56*100) / 100
	if ft.calls[0].size != wantSize {
		t.Errorf("买入数量 = %v, 期望 %v", ft.calls[0].size, wantSize)
	}
}

func TestBuyFallsBackToGTC(t *testing.T) {
	ft := &fakeTrader{ask: 0.50, outcomes: []placeOutcome{
		noFill(), noFill(),
		{resp: &types.OrderResponse{Success: true, OrderID: "gtc-1", Status: "live"}},
	}}

	res, err := testEngine().Buy(context.Background(), ft, BuyRequest{UserID: 1, TokenID: "tok", AmountUSD: 50})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Tier != domain.TierGTC {
		t.Fatalf("结果 = %+v, 期望 GTC 挂单", res)
	}

	if len(ft.calls) != 3 {
		t.Fatalf("调用次数 = %d, 期望 FAK×2 + GTC", len(ft.calls))
	}
	if ft.calls[0].orderType != types.OrderTypeFAK || ft.calls[1].orderType != types.OrderTypeFAK || ft.calls[2].orderType != types.OrderTypeGTC {
		t.Errorf("层级序列错误: %+v", ft.calls)
	}
	// 兜底限价 = 0.50 × 1.02
	if !almostEqual(ft.calls[2].price, 0.51) {
		t.Errorf("GTC 限价 = %v, 期望 0.51", ft.calls[2].price)
	}
}

func TestBuyLimitCappedAt99(t *testing.T) {
	ft := &fakeTrader{ask: 0.985, outcomes: []placeOutcome{
		noFill(), noFill(),
		{resp: &types.OrderResponse{Success: true, Status: "live"}},
	}}

	_, err := testEngine().Buy(context.Background(), ft, BuyRequest{UserID: 1, TokenID: "tok", AmountUSD: 50})
	if err != nil {
		t.Fatal(err)
	}
	// 0.985 × 1.02 > 0.99 → 封顶
	if ft.calls[2].price != 0.99 {
		t.Errorf("GTC 限价 = %v, 期望封顶 0.99", ft.calls[2].price)
	}
}

func TestBuyRejectsAmountOutOfRange(t *testing.T) {
	e := testEngine()
	for _, amount := range []float64{0.5, 101} {
		if _, err := e.Buy(context.Background(), &fakeTrader{ask: 0.5}, BuyRequest{UserID: 1, TokenID: "tok", AmountUSD: amount}); err == nil {
			t.Errorf("金额 %v 应该被拒绝", amount)
		}
	}
}

func TestSellEscalatesThroughTiers(t *testing.T) {
	ft := &fakeTrader{bid: 0.40, outcomes: []placeOutcome{
		noFill(), noFill(),
		{resp: &types.OrderResponse{Success: true, OrderID: "gtc-sell", Status: "live"}},
	}}

	res, err := testEngine().Sell(context.Background(), ft, SellRequest{UserID: 1, TokenID: "tok", Size: 100})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Tier != domain.TierGTC {
		t.Fatalf("结果 = %+v, 期望 GTC", res)
	}

	// 即时层按买一价吃单，兜底层从第一次重试开始让价
	want := []struct {
		orderType types.OrderType
		price     float64
	}{
		{types.OrderTypeFAK, 0.40},
		{types.OrderTypeFOK, 0.40},
		{types.OrderTypeGTC, 0.39},
	}
	if len(ft.calls) != len(want) {
		t.Fatalf("调用次数 = %d, 期望 %d", len(ft.calls), len(want))
	}
	for i, w := range want {
		if ft.calls[i].orderType != w.orderType || !almostEqual(ft.calls[i].price, w.price) {
			t.Errorf("第 %d 层 = %+v, 期望 %s@%v", i, ft.calls[i], w.orderType, w.price)
		}
	}
}

func TestSellGTCRetriesWithDeepeningDiscount(t *testing.T) {
	ft := &fakeTrader{bid: 0.40, outcomes: []placeOutcome{
		noFill(), noFill(), noFill(), noFill(),
		{resp: &types.OrderResponse{Success: true, OrderID: "gtc-3", Status: "live"}},
	}}

	res, err := testEngine().Sell(context.Background(), ft, SellRequest{UserID: 1, TokenID: "tok", Size: 100})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Tier != domain.TierGTC {
		t.Fatalf("结果 = %+v, 期望第三次兜底成交", res)
	}
	if len(ft.calls) != 5 {
		t.Fatalf("调用次数 = %d, 期望 FAK+FOK+GTC×3", len(ft.calls))
	}
	// 兜底每次再让价一分
	for i, wantPrice := range []float64{0.39, 0.38, 0.37} {
		call := ft.calls[2+i]
		if call.orderType != types.OrderTypeGTC || !almostEqual(call.price, wantPrice) {
			t.Errorf("第 %d 次兜底 = %+v, 期望 GTC@%v", i+1, call, wantPrice)
		}
	}
}

func TestSellGTCReachableWithSingleRetry(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSellRetries = 1
	e := NewEngine(cfg)
	e.retryPause = 0

	ft := &fakeTrader{bid: 0.40, outcomes: []placeOutcome{
		noFill(), noFill(),
		{resp: &types.OrderResponse{Success: true, OrderID: "gtc-only", Status: "live"}},
	}}

	res, err := e.Sell(context.Background(), ft, SellRequest{UserID: 1, TokenID: "tok", Size: 100})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Tier != domain.TierGTC {
		t.Fatalf("结果 = %+v, 期望重试次数为 1 时兜底层仍然可达", res)
	}
	if len(ft.calls) != 3 || ft.calls[2].orderType != types.OrderTypeGTC || !almostEqual(ft.calls[2].price, 0.39) {
		t.Errorf("调用序列错误: %+v", ft.calls)
	}
}

func TestSellAllTiersFail(t *testing.T) {
	ft := &fakeTrader{bid: 0.40, outcomes: []placeOutcome{
		noFill(), noFill(), noFill(), noFill(), noFill(),
	}}

	res, err := testEngine().Sell(context.Background(), ft, SellRequest{UserID: 1, TokenID: "tok", Size: 100})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("所有层级全部失败后不应该报告成功")
	}
	if len(ft.calls) != 5 {
		t.Errorf("调用次数 = %d, 期望 FAK+FOK+GTC×3", len(ft.calls))
	}
}

func TestSellRejectsNotionalOutOfRange(t *testing.T) {
	e := testEngine()
	cases := []struct {
		name string
		size float64
	}{
		// 0.40 × 2 = 0.80 低于下限，0.40 × 300 = 120 超过上限
		{"金额不足下限", 2},
		{"金额超过上限", 300},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ft := &fakeTrader{bid: 0.40}
			if _, err := e.Sell(context.Background(), ft, SellRequest{UserID: 1, TokenID: "tok", Size: c.size}); err == nil {
				t.Errorf("数量 %v 的名义金额应该被拒绝", c.size)
			}
			if len(ft.calls) != 0 {
				t.Error("校验失败不应该下单")
			}
		})
	}
}

func TestFillAmountsFromResponse(t *testing.T) {
	// 买入：taking 是份额，making 是支出的 USDC
	ft := &fakeTrader{ask: 0.56, outcomes: []placeOutcome{
		{resp: &types.OrderResponse{Success: true, OrderID: "buy-1", Status: "matched", MakingAmount: "28", TakingAmount: "50"}},
	}}
	res, err := testEngine().Buy(context.Background(), ft, BuyRequest{UserID: 1, TokenID: "tok", AmountUSD: 50})
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(res.FilledSize, 50) || !almostEqual(res.AvgPrice, 0.56) {
		t.Errorf("买入成交 = %v@%v, 期望 50@0.56", res.FilledSize, res.AvgPrice)
	}

	// 卖出：making 是份额，taking 是得到的 USDC
	ft = &fakeTrader{bid: 0.40, outcomes: []placeOutcome{
		{resp: &types.OrderResponse{Success: true, OrderID: "sell-1", Status: "matched", MakingAmount: "100", TakingAmount: "41"}},
	}}
	res, err = testEngine().Sell(context.Background(), ft, SellRequest{UserID: 1, TokenID: "tok", Size: 100})
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(res.FilledSize, 100) || !almostEqual(res.AvgPrice, 0.41) {
		t.Errorf("卖出成交 = %v@%v, 期望 100@0.41", res.FilledSize, res.AvgPrice)
	}
}

func TestGTCBuyReportsResting(t *testing.T) {
	ft := &fakeTrader{ask: 0.50, outcomes: []placeOutcome{
		noFill(), noFill(),
		{resp: &types.OrderResponse{Success: true, OrderID: "gtc-1", Status: "live"}},
	}}

	res, err := testEngine().Buy(context.Background(), ft, BuyRequest{UserID: 1, TokenID: "tok", AmountUSD: 50})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Tier != domain.TierGTC {
		t.Fatalf("结果 = %+v, 期望 GTC 挂单", res)
	}
	// 挂单还在簿上等待，不能按全额成交报告
	if res.FilledSize != 0 || res.AvgPrice != 0 {
		t.Errorf("挂单成交 = %v@%v, 期望按未成交报告", res.FilledSize, res.AvgPrice)
	}
}

func TestImmediateFillFallsBackToRequested(t *testing.T) {
	// 响应没带成交金额时即时层按下单参数报告
	ft := &fakeTrader{bid: 0.40}
	res, err := testEngine().Sell(context.Background(), ft, SellRequest{UserID: 1, TokenID: "tok", Size: 100})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Tier != domain.TierFAK {
		t.Fatalf("结果 = %+v, 期望 FAK 成交", res)
	}
	if !almostEqual(res.FilledSize, 100) || !almostEqual(res.AvgPrice, 0.40) {
		t.Errorf("成交 = %v@%v, 期望 100@0.40", res.FilledSize, res.AvgPrice)
	}
}

func TestGeoBlockNotRetried(t *testing.T) {
	geoErr := client.ClassifyResponse(403, `{"error":"geoblock: restricted jurisdiction"}`)
	ft := &fakeTrader{ask: 0.50, outcomes: []placeOutcome{{err: geoErr}}}

	res, err := testEngine().Buy(context.Background(), ft, BuyRequest{UserID: 1, TokenID: "tok", AmountUSD: 50})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("地域限制不应该成交")
	}
	if res.Guidance == "" {
		t.Error("地域限制应该携带用户指引")
	}
	if len(ft.calls) != 1 {
		t.Errorf("地域限制后不应该重试, 调用次数 = %d", len(ft.calls))
	}
}

func TestAuthErrorRefreshesCredsOnce(t *testing.T) {
	authErr := client.ClassifyResponse(401, `{"error":"unauthorized"}`)
	ft := &fakeTrader{ask: 0.50, outcomes: []placeOutcome{
		{err: authErr},
		{resp: &types.OrderResponse{Success: true, OrderID: "retry-ok", Status: "matched"}},
	}}

	res, err := testEngine().Buy(context.Background(), ft, BuyRequest{UserID: 1, TokenID: "tok", AmountUSD: 50})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.OrderID != "retry-ok" {
		t.Errorf("结果 = %+v, 期望刷新凭证后成交", res)
	}
	if ft.deriveCalls != 1 {
		t.Errorf("凭证派生次数 = %d, 期望恰好 1", ft.deriveCalls)
	}
	if len(ft.calls) != 2 {
		t.Errorf("下单次数 = %d, 期望恰好重试一次", len(ft.calls))
	}
}

func TestAuthErrorRetriedExactlyOnce(t *testing.T) {
	authErr := client.ClassifyResponse(401, `{"error":"unauthorized"}`)
	ft := &fakeTrader{ask: 0.50, outcomes: []placeOutcome{
		{err: authErr},
		{err: authErr}, // 重试仍然失败
	}}

	res, err := testEngine().Buy(context.Background(), ft, BuyRequest{UserID: 1, TokenID: "tok", AmountUSD: 50})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("重试仍失败时不应该成交")
	}
	// 恰好一次恢复重试，不无限循环
	if len(ft.calls) != 2 || ft.deriveCalls != 1 {
		t.Errorf("下单 %d 次 / 派生 %d 次, 期望 2 / 1", len(ft.calls), ft.deriveCalls)
	}
}

func TestDuplicateOrderRejected(t *testing.T) {
	e := testEngine()
	key := orderKey(1, "tok", string(types.SideBuy))
	if err := e.dedup.TryAcquire(key); err != nil {
		t.Fatal(err)
	}

	_, err := e.Buy(context.Background(), &fakeTrader{ask: 0.50}, BuyRequest{UserID: 1, TokenID: "tok", AmountUSD: 50})
	if !errors.Is(err, ErrDuplicateInFlight) {
		t.Errorf("并发重复请求应该返回 ErrDuplicateInFlight, 得到 %v", err)
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
