package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/pmbot/internal/domain"

	"github.com/betbot/pmbot/clob/client"
	"github.com/betbot/pmbot/internal/execution"
	"github.com/betbot/pmbot/internal/positions"
	"github.com/betbot/pmbot/internal/sessions"
	"github.com/betbot/pmbot/internal/store"
	"github.com/betbot/pmbot/internal/stream"
	"github.com/betbot/pmbot/internal/triggers"
	"github.com/betbot/pmbot/internal/vault"
	"github.com/betbot/pmbot/pkg/config"
	"github.com/betbot/pmbot/pkg/secretstore"
)

var appLog = logrus.WithField("component", "app")

// App 交易核心的组合根
// 把凭证保险库、会话、行情流、持仓、触发和执行引擎装配在一起，
// 上层界面（机器人、CLI）只跟 App 打交道
type App struct {
	cfg *config.Config

	Store    *store.Store
	Vault    *vault.Vault
	Sessions *sessions.Manager
	Stream   *stream.Client
	Data     *client.DataClient
	Pos      *positions.Manager
	Triggers *triggers.Engine
	Exec     *execution.Engine

	secrets *secretstore.Store

	outcomeMu sync.Mutex
	onOutcome []func(TriggerOutcome)

	cancel context.CancelFunc
}

// New 装配全部组件（不启动后台循环）
func New(cfg *config.Config) (*App, error) {
	db, err := store.Open(cfg.Store.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	var secrets *secretstore.Store
	if cfg.Store.SecretStorePath != "" {
		var key []byte
		if cfg.Store.SecretStoreKey != "" {
			key, err = secretstore.ParseKey(cfg.Store.SecretStoreKey)
			if err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("解析凭证库密钥失败: %w", err)
			}
		}
		secrets, err = secretstore.Open(secretstore.OpenOptions{Path: cfg.Store.SecretStorePath, EncryptionKey: key})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("打开凭证缓存失败: %w", err)
		}
	}

	streamClient := stream.NewClient(cfg.Clob.WSHost, cfg.Stream)
	dataClient := client.NewDataClient(cfg.Clob.DataHost)

	app := &App{
		cfg:      cfg,
		Store:    db,
		Vault:    vault.New(cfg.Vault.PBKDF2Iterations, cfg.Vault.MinPasswordLength),
		Sessions: sessions.NewManager(cfg.Session.Timeout, cfg.Session.SweepInterval),
		Stream:   streamClient,
		Data:     dataClient,
		Pos: positions.NewManager(dataClient, streamClient.Book(),
			cfg.Trading.FeeRateBase, cfg.Monitor.PositionRefreshInterval, cfg.Stream.StaleAfter),
		Exec: execution.NewEngine(cfg.Trading),
	}
	app.Triggers = triggers.NewEngine(db, streamClient.Book(),
		cfg.Monitor.TriggerCheckInterval, cfg.Monitor.AlertCacheTTL)
	app.Triggers.OnTrigger(app.handleTriggeredAlert)
	app.Pos.BindStream(streamClient)
	app.secrets = secrets

	return app, nil
}

// Start 连接行情并启动所有后台循环
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// 行情流逐条驱动警报求值和持仓估值，不靠轮询
	a.Stream.OnTick(func(tick domain.PriceTick) {
		a.Triggers.HandleTick(ctx, tick)
	})
	a.Stream.OnPositionTick(a.Pos.HandleTick)

	if err := a.Stream.Start(ctx); err != nil {
		cancel()
		return err
	}

	// 订阅所有未触发警报涉及的资产
	pending, err := a.Store.ListPendingAlerts(ctx)
	if err != nil {
		appLog.Warnf("读取未触发警报失败: %v", err)
	} else {
		tokens := make([]string, 0, len(pending))
		for _, al := range pending {
			tokens = append(tokens, al.TokenID)
		}
		if err := a.Stream.Subscribe(tokens...); err != nil {
			appLog.Warnf("订阅警报资产失败: %v", err)
		}
	}

	a.Sessions.StartSweeper(ctx)
	a.Pos.Start(ctx)
	a.Triggers.Start(ctx)

	appLog.Info("交易核心已启动")
	return nil
}

// Stop 停止后台循环并释放资源
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.Stream.Stop()
	if a.secrets != nil {
		_ = a.secrets.Close()
	}
	_ = a.Store.Close()
	appLog.Info("交易核心已停止")
}
