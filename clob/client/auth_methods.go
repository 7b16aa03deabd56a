package client

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/betbot/pmbot/clob/signing"
	"github.com/betbot/pmbot/clob/types"
)

// CreateOrDeriveAPIKey 创建或推导 API 密钥（L1 方法）
// 先尝试推导已有密钥，账户没有密钥时（HTTP 400）创建新的
func (c *Client) CreateOrDeriveAPIKey(ctx context.Context, nonce int64) (*types.ApiKeyCreds, error) {
	if err := c.CanL1Auth(); err != nil {
		return nil, err
	}

	headers, err := signing.CreateL1Headers(c.authConfig.PrivateKey, c.authConfig.ChainID, nonce)
	if err != nil {
		return nil, fmt.Errorf("创建 L1 认证头失败: %w", err)
	}

	headerMap := map[string]string{
		"POLY_ADDRESS":   headers.PolyAddress,
		"POLY_SIGNATURE": headers.PolySignature,
		"POLY_TIMESTAMP": headers.PolyTimestamp,
		"POLY_NONCE":     headers.PolyNonce,
	}

	resp, err := c.httpClient.get(ctx, EndpointDeriveAPIKey, headerMap, nil)
	if err == nil {
		switch {
		case resp.StatusCode == http.StatusOK:
			var apiKeyRaw types.ApiKeyRaw
			if err := parseResponse(resp, &apiKeyRaw); err != nil {
				return nil, fmt.Errorf("解析 API 密钥响应失败: %w", err)
			}
			return &types.ApiKeyCreds{
				Key:        apiKeyRaw.ApiKey,
				Secret:     apiKeyRaw.Secret,
				Passphrase: apiKeyRaw.Passphrase,
			}, nil
		case resp.StatusCode == http.StatusBadRequest:
			// 400 表示账户还没有 API 密钥，走创建逻辑
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		default:
			bodyBytes, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, ClassifyResponse(resp.StatusCode, string(bodyBytes))
		}
	}

	resp, err = c.httpClient.post(ctx, EndpointCreateAPIKey, headerMap, map[string]interface{}{})
	if err != nil {
		return nil, fmt.Errorf("创建 API 密钥失败: %w", err)
	}

	var apiKeyRaw types.ApiKeyRaw
	if err := parseResponse(resp, &apiKeyRaw); err != nil {
		return nil, fmt.Errorf("解析 API 密钥响应失败: %w", err)
	}

	return &types.ApiKeyCreds{
		Key:        apiKeyRaw.ApiKey,
		Secret:     apiKeyRaw.Secret,
		Passphrase: apiKeyRaw.Passphrase,
	}, nil
}

// DeriveAPIKey 推导并设置 API 凭证（刷新凭证时使用）
func (c *Client) DeriveAPIKey(ctx context.Context) (*types.ApiKeyCreds, error) {
	creds, err := c.CreateOrDeriveAPIKey(ctx, 0)
	if err != nil {
		return nil, err
	}
	c.SetCreds(creds)
	return creds, nil
}
