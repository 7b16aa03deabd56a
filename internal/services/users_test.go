package services

import (
	"context"
	"testing"
)

func TestUnlockReusesActiveSession(t *testing.T) {
	app := newTestApp(t)

	put := app.Sessions.Put(7, "0xabc", nil)

	// 会话还活着时直接复用，不碰数据库也不走密钥派生，
	// 所以错误的密码也不会导致失败
	s, err := app.Unlock(context.Background(), 7, "wrong-password")
	if err != nil {
		t.Fatalf("复用活跃会话不应该报错: %v", err)
	}
	if s != put {
		t.Error("应该返回已有的会话实例")
	}
}

func TestUnlockRejectsUnknownUser(t *testing.T) {
	app := newTestApp(t)

	if _, err := app.Unlock(context.Background(), 99, "password"); err == nil {
		t.Error("未注册用户解锁应该报错")
	}
}

func TestLockDestroysSession(t *testing.T) {
	app := newTestApp(t)
	app.Sessions.Put(7, "0xabc", nil)

	app.Lock(7)
	if _, ok := app.Sessions.Get(7); ok {
		t.Error("锁定后会话应该被销毁")
	}
}
