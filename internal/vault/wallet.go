package vault

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
)

// defaultDerivationPath 以太坊标准派生路径（第一个账户）
const defaultDerivationPath = "m/44'/60'/0'/0/0"

// PrivateKeyFromMnemonic 从助记词派生第一个账户的私钥（不带 0x 前缀的 hex）
func PrivateKeyFromMnemonic(mnemonic string) (string, error) {
	return PrivateKeyFromMnemonicAt(mnemonic, 0)
}

// PrivateKeyFromMnemonicAt 从助记词派生指定序号账户的私钥
func PrivateKeyFromMnemonicAt(mnemonic string, index uint32) (string, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return "", fmt.Errorf("助记词为空")
	}

	wallet, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return "", fmt.Errorf("助记词无效: %w", err)
	}

	path := defaultDerivationPath
	if index > 0 {
		path = fmt.Sprintf("m/44'/60'/0'/0/%d", index)
	}
	derivationPath, err := hdwallet.ParseDerivationPath(path)
	if err != nil {
		return "", err
	}

	account, err := wallet.Derive(derivationPath, false)
	if err != nil {
		return "", fmt.Errorf("派生账户失败: %w", err)
	}
	return wallet.PrivateKeyHex(account)
}

// ValidatePrivateKey 检查私钥 hex 是否合法并返回对应的钱包地址
func ValidatePrivateKey(privateKeyHex string) (string, error) {
	cleaned := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if _, err := hex.DecodeString(cleaned); err != nil || len(cleaned) != 64 {
		return "", fmt.Errorf("私钥格式无效")
	}

	pk, err := crypto.HexToECDSA(cleaned)
	if err != nil {
		return "", fmt.Errorf("私钥无效: %w", err)
	}
	return crypto.PubkeyToAddress(pk.PublicKey).Hex(), nil
}
