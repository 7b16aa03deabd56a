package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/betbot/pmbot/clob/types"
)

// DataClient Data API 客户端（持仓、成交历史等公开数据）
// Data API 无需签名认证，按地址查询
type DataClient struct {
	client *resty.Client
}

// NewDataClient 创建 Data API 客户端
func NewDataClient(host string) *DataClient {
	if host == "" {
		host = DefaultDataHost
	}

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY 等）
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(host, "/")).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时遵循 Retry-After 头
			if resp.StatusCode() == 429 {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		}).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "pmbot-data")

	return &DataClient{client: client}
}

// GetPositions 按地址查询链上持仓
func (d *DataClient) GetPositions(ctx context.Context, address string) ([]types.DataPosition, error) {
	var positions []types.DataPosition

	resp, err := d.client.R().
		SetContext(ctx).
		SetQueryParam("user", address).
		SetResult(&positions).
		Get("/positions")
	if err != nil {
		return nil, NewNetworkError(err)
	}
	if !resp.IsSuccess() {
		return nil, ClassifyResponse(resp.StatusCode(), string(resp.Body()))
	}

	return positions, nil
}

// GetPositionsForToken 按地址和资产查询单个持仓
func (d *DataClient) GetPositionsForToken(ctx context.Context, address, tokenID string) (*types.DataPosition, error) {
	positions, err := d.GetPositions(ctx, address)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].Asset == tokenID {
			return &positions[i], nil
		}
	}
	return nil, fmt.Errorf("地址 %s 没有资产 %s 的持仓", address, tokenID)
}
