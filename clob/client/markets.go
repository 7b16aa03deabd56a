package client

import (
	"context"
	"fmt"
	"strconv"

	"github.com/betbot/pmbot/clob/types"
)

// GetOrderBook 获取订单簿
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBookSummary, error) {
	if err := c.rateLimiter.Wait(ctx, "clob:book:get"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	queryParams := map[string]string{
		"token_id": tokenID,
	}

	resp, err := c.httpClient.get(ctx, EndpointGetOrderBook, nil, queryParams)
	if err != nil {
		return nil, fmt.Errorf("获取订单簿失败: %w", err)
	}

	var book types.OrderBookSummary
	if err := parseResponse(resp, &book); err != nil {
		return nil, err
	}

	return &book, nil
}

// GetPrice 获取单边市场价格
// side 为 BUY 时返回最优卖价，SELL 时返回最优买价
func (c *Client) GetPrice(ctx context.Context, tokenID string, side types.Side) (float64, error) {
	if err := c.rateLimiter.Wait(ctx, "clob:price:get"); err != nil {
		return 0, fmt.Errorf("速率限制等待失败: %w", err)
	}

	queryParams := map[string]string{
		"token_id": tokenID,
		"side":     string(side),
	}

	resp, err := c.httpClient.get(ctx, EndpointGetPrice, nil, queryParams)
	if err != nil {
		return 0, fmt.Errorf("获取价格失败: %w", err)
	}

	var price types.MarketPrice
	if err := parseResponse(resp, &price); err != nil {
		return 0, err
	}

	value, err := strconv.ParseFloat(price.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("解析价格失败: %w", err)
	}
	return value, nil
}

// GetMidpoint 获取中间价
func (c *Client) GetMidpoint(ctx context.Context, tokenID string) (float64, error) {
	queryParams := map[string]string{
		"token_id": tokenID,
	}

	resp, err := c.httpClient.get(ctx, EndpointGetMidpoint, nil, queryParams)
	if err != nil {
		return 0, fmt.Errorf("获取中间价失败: %w", err)
	}

	var mid struct {
		Mid string `json:"mid"`
	}
	if err := parseResponse(resp, &mid); err != nil {
		return 0, err
	}

	value, err := strconv.ParseFloat(mid.Mid, 64)
	if err != nil {
		return 0, fmt.Errorf("解析中间价失败: %w", err)
	}
	return value, nil
}

// GetBalanceAllowance 获取余额和授权
func (c *Client) GetBalanceAllowance(ctx context.Context, params *types.BalanceAllowanceParams) (*types.BalanceAllowanceResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}

	queryParams := map[string]string{
		"asset_type":     string(params.AssetType),
		"signature_type": strconv.Itoa(int(c.authConfig.SignatureType)),
	}
	if params.TokenID != "" {
		queryParams["token_id"] = params.TokenID
	}

	headerMap, err := c.l2HeaderMap("GET", EndpointGetBalanceAllowance, nil)
	if err != nil {
		return nil, fmt.Errorf("创建 L2 认证头失败: %w", err)
	}

	resp, err := c.httpClient.get(ctx, EndpointGetBalanceAllowance, headerMap, queryParams)
	if err != nil {
		return nil, fmt.Errorf("获取余额和授权失败: %w", err)
	}

	var balance types.BalanceAllowanceResponse
	if err := parseResponse(resp, &balance); err != nil {
		return nil, err
	}

	return &balance, nil
}
