package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/betbot/pmbot/clob/client"
	"github.com/betbot/pmbot/clob/signing"
	"github.com/betbot/pmbot/clob/types"
	"github.com/betbot/pmbot/internal/sessions"
	"github.com/betbot/pmbot/internal/store"
	"github.com/betbot/pmbot/internal/vault"
)

// RegisterUser 注册用户：私钥用密码加密后入库
// secret 可以是私钥 hex，也可以是助记词（按空格数判断）
func (a *App) RegisterUser(ctx context.Context, userID int64, displayName, password, secret string) (string, error) {
	secret = strings.TrimSpace(secret)

	// 助记词先派生出私钥
	if strings.Count(secret, " ") >= 11 {
		pk, err := vault.PrivateKeyFromMnemonic(secret)
		if err != nil {
			return "", err
		}
		secret = pk
	}

	address, err := vault.ValidatePrivateKey(secret)
	if err != nil {
		return "", err
	}

	blob, err := a.Vault.Encrypt(password, secret)
	if err != nil {
		return "", err
	}

	if err := a.Store.UpsertUser(ctx, store.User{
		UserID:       userID,
		Address:      address,
		DisplayName:  strings.TrimSpace(displayName),
		EncryptedKey: blob,
	}); err != nil {
		return "", err
	}

	appLog.Infof("用户 %d 注册完成: %s", userID, address)
	return address, nil
}

// Unlock 解锁用户：解密私钥、派生 API 凭证、建立会话
// 已有活跃会话时只刷新活跃时间直接复用，不重复走密钥派生
func (a *App) Unlock(ctx context.Context, userID int64, password string) (*sessions.Session, error) {
	if s, ok := a.Sessions.Get(userID); ok {
		return s, nil
	}

	u, err := a.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("用户 %d 未注册", userID)
	}

	pkHex, err := a.Vault.Decrypt(password, u.EncryptedKey)
	if err != nil {
		return nil, err
	}

	pk, err := signing.PrivateKeyFromHex(pkHex)
	if err != nil {
		return nil, fmt.Errorf("私钥损坏: %w", err)
	}

	c := client.NewClient(a.cfg.Clob.Host, types.Chain(a.cfg.Clob.ChainID), pk, nil, "", types.SignatureTypeEOA)

	// 凭证缓存命中就不必重新走派生握手
	if creds := a.cachedCreds(userID); creds != nil {
		c.SetCreds(creds)
	} else {
		creds, err := c.DeriveAPIKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("派生 API 凭证失败: %w", err)
		}
		a.cacheCreds(userID, creds)
	}

	if err := a.Store.TouchLastLogin(ctx, userID); err != nil {
		appLog.Warnf("记录用户 %d 登录时间失败: %v", userID, err)
	}

	s := a.Sessions.Put(userID, u.Address, c)
	a.Pos.Track(u.Address)
	return s, nil
}

// Lock 锁定用户：销毁会话
func (a *App) Lock(userID int64) {
	if s, ok := a.Sessions.Peek(userID); ok {
		a.Pos.Untrack(s.Address)
	}
	a.Sessions.Remove(userID)
}

// Unregister 注销用户：删除凭证、警报和缓存
func (a *App) Unregister(ctx context.Context, userID int64) error {
	a.Lock(userID)
	a.dropCachedCreds(userID)
	return a.Store.DeleteUser(ctx, userID)
}

func credsKey(userID int64) string {
	return fmt.Sprintf("clob-creds:%d", userID)
}

func (a *App) cachedCreds(userID int64) *types.ApiKeyCreds {
	if a.secrets == nil {
		return nil
	}
	raw, found, err := a.secrets.GetString(credsKey(userID))
	if err != nil || !found {
		return nil
	}
	var creds types.ApiKeyCreds
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil
	}
	return &creds
}

func (a *App) cacheCreds(userID int64, creds *types.ApiKeyCreds) {
	if a.secrets == nil || creds == nil {
		return
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return
	}
	if err := a.secrets.SetString(credsKey(userID), string(raw)); err != nil {
		appLog.Warnf("缓存用户 %d 凭证失败: %v", userID, err)
	}
}

func (a *App) dropCachedCreds(userID int64) {
	if a.secrets == nil {
		return
	}
	if err := a.secrets.Delete(credsKey(userID)); err != nil {
		appLog.Warnf("清除用户 %d 凭证缓存失败: %v", userID, err)
	}
}
