package signing

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"time"

	"github.com/betbot/pmbot/clob/types"
)

// CreateL1Headers 创建 L1 认证头（EIP712 签名验证）
func CreateL1Headers(
	privateKey *ecdsa.PrivateKey,
	chainID types.Chain,
	nonce int64,
) (*types.L1PolyHeader, error) {
	ts := time.Now().Unix()

	sig, err := BuildClobAuthSignature(privateKey, chainID, ts, nonce)
	if err != nil {
		return nil, fmt.Errorf("构建 EIP712 签名失败: %w", err)
	}

	return &types.L1PolyHeader{
		PolyAddress:   GetAddressFromPrivateKey(privateKey).Hex(),
		PolySignature: sig,
		PolyTimestamp: strconv.FormatInt(ts, 10),
		PolyNonce:     strconv.FormatInt(nonce, 10),
	}, nil
}

// CreateL2Headers 创建 L2 认证头（API 密钥 HMAC 验证）
func CreateL2Headers(
	privateKey *ecdsa.PrivateKey,
	creds *types.ApiKeyCreds,
	args *types.L2HeaderArgs,
) (*types.L2PolyHeader, error) {
	ts := time.Now().Unix()

	sig, err := BuildPolyHmacSignature(creds.Secret, ts, args.Method, args.RequestPath, args.Body)
	if err != nil {
		return nil, fmt.Errorf("构建 HMAC 签名失败: %w", err)
	}

	return &types.L2PolyHeader{
		PolyAddress:    GetAddressFromPrivateKey(privateKey).Hex(),
		PolySignature:  sig,
		PolyTimestamp:  strconv.FormatInt(ts, 10),
		PolyAPIKey:     creds.Key,
		PolyPassphrase: creds.Passphrase,
	}, nil
}
