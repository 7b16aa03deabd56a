package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32 // AES-256

	// MinIterations PBKDF2 迭代次数下限
	MinIterations = 480000
)

// ErrDecryptFailed 解密失败的统一错误
// 不区分密码错误和数据损坏，避免泄露信息
var ErrDecryptFailed = fmt.Errorf("解密失败：密码错误或数据损坏")

// Vault 凭证加密器
// 密码经 PBKDF2-SHA256 派生出 AES-256-GCM 密钥，
// 密文格式为 base64(salt ‖ nonce ‖ ciphertext)
type Vault struct {
	iterations        int
	minPasswordLength int
}

// New iterations 低于下限时自动提升到下限
func New(iterations, minPasswordLength int) *Vault {
	if iterations < MinIterations {
		iterations = MinIterations
	}
	if minPasswordLength <= 0 {
		minPasswordLength = 8
	}
	return &Vault{iterations: iterations, minPasswordLength: minPasswordLength}
}

// ValidatePassword 注册前的密码强度检查
func (v *Vault) ValidatePassword(password string) error {
	if len(password) < v.minPasswordLength {
		return fmt.Errorf("密码长度不足 %d 位", v.minPasswordLength)
	}
	return nil
}

// Encrypt 加密明文并做一次自校验
// 自校验保证写入存储的密文一定能用同一密码解回来
func (v *Vault) Encrypt(password, plaintext string) (string, error) {
	if err := v.ValidatePassword(password); err != nil {
		return "", err
	}
	if plaintext == "" {
		return "", fmt.Errorf("待加密内容为空")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("生成盐失败: %w", err)
	}

	gcm, err := buildCipher(password, salt, v.iterations)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("生成随机数失败: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	blob := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	encoded := base64.StdEncoding.EncodeToString(blob)

	// 自校验
	decrypted, err := v.Decrypt(password, encoded)
	if err != nil || decrypted != plaintext {
		return "", fmt.Errorf("加密自校验失败")
	}
	return encoded, nil
}

// Decrypt 解密，任何失败都返回 ErrDecryptFailed
func (v *Vault) Decrypt(password, encoded string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(blob) < saltSize+nonceSize+1 {
		return "", ErrDecryptFailed
	}

	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	ciphertext := blob[saltSize+nonceSize:]

	gcm, err := buildCipher(password, salt, v.iterations)
	if err != nil {
		return "", ErrDecryptFailed
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

func buildCipher(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
