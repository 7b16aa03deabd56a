package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/pmbot/internal/metrics"
	"github.com/betbot/pmbot/internal/services"
	"github.com/betbot/pmbot/pkg/config"
	"github.com/betbot/pmbot/pkg/logger"
	"github.com/betbot/pmbot/pkg/shutdown"
)

// gracefulShutdownPeriod 优雅关闭的最长等待时间
const gracefulShutdownPeriod = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		logrus.Errorf("重新初始化日志失败: %v", err)
		os.Exit(1)
	}

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	logrus.Info("启动交易核心...")
	if cfg.Trading.PaperMode {
		logrus.Warn("纸交易模式已启用：不会进行真实交易")
	}

	app, err := services.New(cfg)
	if err != nil {
		logrus.Errorf("装配服务失败: %v", err)
		os.Exit(1)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if err := app.Start(rootCtx); err != nil {
		logrus.Errorf("启动失败: %v", err)
		os.Exit(1)
	}

	if addr := cfg.Monitor.DebugListen; addr != "" {
		if _, err := metrics.StartAsync(rootCtx, addr); err != nil {
			logrus.Warnf("调试服务启动失败: %v", err)
		} else {
			logrus.Infof("调试服务已启动: http://%s/debug/vars", addr)
		}
	}

	shutdownMgr := shutdown.NewManager()
	shutdownMgr.OnShutdown(func(context.Context) {
		app.Stop()
	})

	logrus.Info("交易核心已启动，按 Ctrl+C 停止")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logrus.Info("收到停止信号，正在关闭...")
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer shutdownCancel()
	shutdownMgr.Shutdown(shutdownCtx)

	logrus.Info("交易核心已停止")
}
