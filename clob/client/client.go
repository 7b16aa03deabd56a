package client

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/betbot/pmbot/clob/signing"
	"github.com/betbot/pmbot/clob/types"
	"github.com/betbot/pmbot/pkg/ratelimit"
)

// Client CLOB 客户端
// 每个解锁的用户会话持有一个独立的 Client 实例
type Client struct {
	host        string
	chainID     types.Chain
	authConfig  *AuthConfig
	httpClient  *httpClient
	rateLimiter *ratelimit.RateLimitManager
}

// AuthConfig 认证配置
type AuthConfig struct {
	PrivateKey    *ecdsa.PrivateKey
	ChainID       types.Chain
	Creds         *types.ApiKeyCreds
	FunderAddress string
	SignatureType types.SignatureType
}

// NewClient 创建新的 CLOB 客户端
// creds 可以为 nil，之后通过 DeriveAPIKey 获取并 SetCreds
func NewClient(
	host string,
	chainID types.Chain,
	privateKey *ecdsa.PrivateKey,
	creds *types.ApiKeyCreds,
	funderAddress string,
	signatureType types.SignatureType,
) *Client {
	authConfig := &AuthConfig{
		PrivateKey:    privateKey,
		ChainID:       chainID,
		Creds:         creds,
		FunderAddress: funderAddress,
		SignatureType: signatureType,
	}

	return &Client{
		host:        strings.TrimSuffix(host, "/"),
		chainID:     chainID,
		authConfig:  authConfig,
		httpClient:  newHTTPClient(host),
		rateLimiter: ratelimit.NewRateLimitManager(),
	}
}

// GetHost 获取主机地址
func (c *Client) GetHost() string {
	return c.host
}

// GetChainID 获取链 ID
func (c *Client) GetChainID() types.Chain {
	return c.chainID
}

// GetAddress 获取签名者地址（从私钥计算）
func (c *Client) GetAddress() (common.Address, error) {
	if err := c.CanL1Auth(); err != nil {
		return common.Address{}, err
	}
	return signing.GetAddressFromPrivateKey(c.authConfig.PrivateKey), nil
}

// GetFunderAddress 获取资金账户地址
// 未设置时回退到签名者地址
func (c *Client) GetFunderAddress() string {
	if c.authConfig.FunderAddress != "" {
		return c.authConfig.FunderAddress
	}
	addr, err := c.GetAddress()
	if err != nil {
		return ""
	}
	return addr.Hex()
}

// SetCreds 设置 L2 API 凭证
func (c *Client) SetCreds(creds *types.ApiKeyCreds) {
	c.authConfig.Creds = creds
}

// CanL1Auth 检查是否可以进行 L1 认证
func (c *Client) CanL1Auth() error {
	if c.authConfig == nil || c.authConfig.PrivateKey == nil {
		return &APIError{Kind: ErrKindAuth, Message: "L1 认证不可用: 私钥未配置"}
	}
	return nil
}

// CanL2Auth 检查是否可以进行 L2 认证
func (c *Client) CanL2Auth() error {
	if c.authConfig == nil || c.authConfig.Creds == nil {
		return &APIError{Kind: ErrKindAuth, Message: "L2 认证不可用: API 凭证未配置"}
	}
	return nil
}

// l2HeaderMap 构建 L2 认证头 map
func (c *Client) l2HeaderMap(method, requestPath string, body *string) (map[string]string, error) {
	headers, err := signing.CreateL2Headers(
		c.authConfig.PrivateKey,
		c.authConfig.Creds,
		&types.L2HeaderArgs{
			Method:      method,
			RequestPath: requestPath,
			Body:        body,
		},
	)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"POLY_ADDRESS":    headers.PolyAddress,
		"POLY_SIGNATURE":  headers.PolySignature,
		"POLY_TIMESTAMP":  headers.PolyTimestamp,
		"POLY_API_KEY":    headers.PolyAPIKey,
		"POLY_PASSPHRASE": headers.PolyPassphrase,
	}, nil
}
