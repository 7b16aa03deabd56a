package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/betbot/pmbot/internal/stream"
	"github.com/betbot/pmbot/pkg/config"
	"github.com/betbot/pmbot/pkg/logger"
)

// 实时行情监控工具：订阅给定资产并把每个价格变动打印到终端。
//
//	price-watcher [-config config.yaml] <token_id> [token_id...]
func main() {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "用法: price-watcher [-config config.yaml] <token_id> [token_id...]")
		os.Exit(2)
	}
	tokenIDs := flag.Args()

	if err := logger.InitDefault(); err != nil {
		panic(err)
	}
	logrus.SetLevel(logrus.WarnLevel) // 只看价格输出，压低日志

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := stream.NewClient(cfg.Clob.WSHost, cfg.Stream)
	if err := client.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "连接行情流失败: %v\n", err)
		os.Exit(1)
	}
	defer client.Stop()

	if err := client.Subscribe(tokenIDs...); err != nil {
		fmt.Fprintf(os.Stderr, "订阅失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("已订阅 %d 个资产，等待行情... (Ctrl+C 退出)\n", len(tokenIDs))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sigChan:
			fmt.Println("\n已退出")
			return
		case tick := <-client.Ticks():
			fmt.Printf("[%s] %s  价格=%.4f  买一=%.4f  卖一=%.4f  点差=%.2f%%\n",
				tick.Timestamp.Format("15:04:05"),
				shortID(tick.AssetID), tick.Price, tick.BestBid, tick.BestAsk, tick.SpreadPct())
		}
	}
}

// shortID token ID 很长，截断显示
func shortID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + ".." + id[len(id)-6:]
}
