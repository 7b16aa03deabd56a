package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/betbot/pmbot/clob/types"
)

// PostOrder 提交已签名订单
func (c *Client) PostOrder(ctx context.Context, order *types.SignedOrder, orderType types.OrderType) (*types.OrderResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}

	if err := c.rateLimiter.Wait(ctx, "clob:order:post"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	orderPayload := types.NewOrder{
		Order:     *order,
		Owner:     c.authConfig.Creds.Key,
		OrderType: orderType,
	}

	bodyBytes, err := json.Marshal(orderPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化订单载荷失败: %w", err)
	}
	bodyStr := string(bodyBytes)

	headerMap, err := c.l2HeaderMap("POST", EndpointPostOrder, &bodyStr)
	if err != nil {
		return nil, fmt.Errorf("创建 L2 认证头失败: %w", err)
	}

	resp, err := c.httpClient.post(ctx, EndpointPostOrder, headerMap, orderPayload)
	if err != nil {
		return nil, fmt.Errorf("提交订单失败: %w", err)
	}

	var orderResp types.OrderResponse
	if err := parseResponse(resp, &orderResp); err != nil {
		return nil, err
	}

	return &orderResp, nil
}

// PlaceOrder 构建、签名并提交订单
func (c *Client) PlaceOrder(ctx context.Context, userOrder *types.UserOrder, orderType types.OrderType, options *types.CreateOrderOptions) (*types.OrderResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}

	signedOrder, err := c.BuildOrder(userOrder, options)
	if err != nil {
		return nil, fmt.Errorf("构建订单失败: %w", err)
	}

	return c.PostOrder(ctx, signedOrder, orderType)
}

// CancelOrder 取消订单
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*types.OrderResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}

	if err := c.rateLimiter.Wait(ctx, "clob:order:delete"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	body := map[string]string{"orderID": orderID}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}
	bodyStr := string(bodyBytes)

	headerMap, err := c.l2HeaderMap("DELETE", EndpointCancelOrder, &bodyStr)
	if err != nil {
		return nil, fmt.Errorf("创建 L2 认证头失败: %w", err)
	}

	resp, err := c.httpClient.delete(ctx, EndpointCancelOrder, headerMap, body)
	if err != nil {
		return nil, fmt.Errorf("取消订单失败: %w", err)
	}

	var orderResp types.OrderResponse
	if err := parseResponse(resp, &orderResp); err != nil {
		return nil, err
	}

	return &orderResp, nil
}

// GetOpenOrders 获取开放订单
func (c *Client) GetOpenOrders(ctx context.Context, params *types.OpenOrderParams) (types.OpenOrdersResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}

	if err := c.rateLimiter.Wait(ctx, "clob:orders:get"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	queryParams := make(map[string]string)
	if params != nil {
		if params.ID != nil {
			queryParams["id"] = *params.ID
		}
		if params.Market != nil {
			queryParams["market"] = *params.Market
		}
		if params.AssetID != nil {
			queryParams["asset_id"] = *params.AssetID
		}
	}

	headerMap, err := c.l2HeaderMap("GET", EndpointGetOpenOrders, nil)
	if err != nil {
		return nil, fmt.Errorf("创建 L2 认证头失败: %w", err)
	}

	resp, err := c.httpClient.get(ctx, EndpointGetOpenOrders, headerMap, queryParams)
	if err != nil {
		return nil, fmt.Errorf("获取开放订单失败: %w", err)
	}

	var apiResp types.OpenOrdersAPIResponse
	if err := parseResponse(resp, &apiResp); err != nil {
		return nil, err
	}

	return types.OpenOrdersResponse(apiResp.Data), nil
}

// GetOrder 获取订单详情
func (c *Client) GetOrder(ctx context.Context, orderID string) (*types.OpenOrder, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}

	endpoint := EndpointGetOrder + orderID

	headerMap, err := c.l2HeaderMap("GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("创建 L2 认证头失败: %w", err)
	}

	resp, err := c.httpClient.get(ctx, endpoint, headerMap, nil)
	if err != nil {
		return nil, fmt.Errorf("获取订单详情失败: %w", err)
	}

	var order types.OpenOrder
	if err := parseResponse(resp, &order); err != nil {
		return nil, err
	}

	return &order, nil
}
