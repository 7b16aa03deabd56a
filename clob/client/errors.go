package client

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind API 错误分类
// 执行层根据分类决定重试策略，因此集合是封闭的：
// 未识别的错误一律归入 ErrKindUnknown，不做猜测。
type ErrorKind string

const (
	// ErrKindGeoBlocked 地域限制，不可重试
	ErrKindGeoBlocked ErrorKind = "geo_blocked"

	// ErrKindAuth 认证失败（凭证过期或无效），可刷新凭证后重试一次
	ErrKindAuth ErrorKind = "auth"

	// ErrKindBalance 余额或授权不足
	ErrKindBalance ErrorKind = "balance"

	// ErrKindLiquidity 流动性不足（FOK/FAK 无法成交）
	ErrKindLiquidity ErrorKind = "liquidity"

	// ErrKindRateLimit 触发速率限制
	ErrKindRateLimit ErrorKind = "rate_limit"

	// ErrKindNetwork 网络错误（超时、连接失败）
	ErrKindNetwork ErrorKind = "network"

	// ErrKindUnknown 未识别的错误
	ErrKindUnknown ErrorKind = "unknown"
)

// APIError 携带分类信息的 API 错误
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("CLOB API 错误 [%s] HTTP %d: %s", e.Kind, e.StatusCode, e.Message)
}

// Guidance 返回面向用户的操作建议（地域限制时非空）
func (e *APIError) Guidance() string {
	if e.Kind == ErrKindGeoBlocked {
		return "交易所拒绝了来自当前地区的交易请求，请检查服务器所在地区或网络出口"
	}
	return ""
}

// geoBlockMarkers 响应体中标识地域限制的关键词
// 注意：裸 403（无任何关键词）按认证失败处理，不判定为地域限制
var geoBlockMarkers = []string{
	"geoblock",
	"geo-block",
	"geo_block",
	"restricted jurisdiction",
	"not available in your region",
	"trading is not available",
}

// IsGeoBlocked 判断响应是否为地域限制
// 判定依据是响应体关键词，与状态码无关（交易所可能返回 403 或 400）
func IsGeoBlocked(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range geoBlockMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ClassifyResponse 根据状态码和响应体对 API 错误分类
func ClassifyResponse(statusCode int, body string) *APIError {
	kind := classify(statusCode, body)
	return &APIError{
		Kind:       kind,
		StatusCode: statusCode,
		Message:    strings.TrimSpace(body),
	}
}

func classify(statusCode int, body string) ErrorKind {
	if IsGeoBlocked(body) {
		return ErrKindGeoBlocked
	}

	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "not enough balance") ||
		strings.Contains(lower, "insufficient balance") ||
		strings.Contains(lower, "allowance"):
		return ErrKindBalance
	case strings.Contains(lower, "fok order not filled") ||
		strings.Contains(lower, "couldn't be fully filled") ||
		strings.Contains(lower, "no liquidity") ||
		strings.Contains(lower, "order couldn't be matched"):
		return ErrKindLiquidity
	case strings.Contains(lower, "invalid signature") ||
		strings.Contains(lower, "api key") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid credentials"):
		return ErrKindAuth
	}

	switch statusCode {
	case 401, 403:
		// 裸 403 视为认证失败（代理地址通常不会被地域限制，凭证失效更常见）
		return ErrKindAuth
	case 429:
		return ErrKindRateLimit
	}

	if statusCode >= 500 {
		return ErrKindNetwork
	}
	return ErrKindUnknown
}

// NewNetworkError 包装传输层错误
func NewNetworkError(err error) *APIError {
	return &APIError{
		Kind:    ErrKindNetwork,
		Message: err.Error(),
	}
}

// KindOf 提取错误的分类（支持包装链），非 APIError 返回 ErrKindUnknown
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ErrKindUnknown
}
