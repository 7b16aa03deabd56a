package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// BuildPolyHmacSignature 构建 CLOB L2 HMAC 签名
// 消息格式：timestamp + method + requestPath [+ body]
func BuildPolyHmacSignature(
	secret string,
	timestamp int64,
	method string,
	requestPath string,
	body *string,
) (string, error) {
	message := strconv.FormatInt(timestamp, 10) + method + requestPath
	if body != nil {
		message += *body
	}

	// secret 是 base64url 编码，转换为标准 base64 后解码
	sanitized := strings.ReplaceAll(secret, "-", "+")
	sanitized = strings.ReplaceAll(sanitized, "_", "/")

	keyData, err := base64.StdEncoding.DecodeString(sanitized)
	if err != nil {
		return "", fmt.Errorf("解码 secret 失败: %w", err)
	}

	mac := hmac.New(sha256.New, keyData)
	mac.Write([]byte(message))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	// 转回 URL 安全的 base64（保留 = 后缀）
	sig = strings.ReplaceAll(sig, "+", "-")
	sig = strings.ReplaceAll(sig, "/", "_")
	return sig, nil
}
