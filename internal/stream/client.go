package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/betbot/pmbot/internal/domain"
	"github.com/betbot/pmbot/internal/metrics"
	"github.com/betbot/pmbot/pkg/config"
	"github.com/betbot/pmbot/pkg/logger"
)

// maxAssetsPerSubscribe 单条订阅消息的资产上限
const maxAssetsPerSubscribe = 100

// subscribeMessage 订阅请求
type subscribeMessage struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

// TickHandler 行情回调，在读取 goroutine 上同步执行
// 处理必须足够快，耗时操作由回调自行切换 goroutine
type TickHandler func(tick domain.PriceTick)

// Client 行情 WebSocket 客户端
// 断线后自动重连并重新订阅，归一化后的行情写入 Book、
// 同步分发给注册的回调并广播给订阅者
type Client struct {
	url  string
	cfg  config.StreamConfig
	book *Book

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu  sync.Mutex
	subs   map[string]struct{}
	ticks  chan domain.PriceTick
	closed chan struct{}

	cbMu      sync.RWMutex
	onTick    []TickHandler
	onPosTick []TickHandler
	posAssets map[string]struct{}

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewClient url 为空时使用默认行情地址
func NewClient(url string, cfg config.StreamConfig) *Client {
	return &Client{
		url:       url,
		cfg:       cfg,
		book:      NewBook(cfg.HistorySize, cfg.StaleAfter),
		subs:      make(map[string]struct{}),
		ticks:     make(chan domain.PriceTick, 256),
		closed:    make(chan struct{}),
		posAssets: make(map[string]struct{}),
	}
}

// Book 返回行情快照存储
func (c *Client) Book() *Book {
	return c.book
}

// Ticks 归一化后的行情流
// 消费不及时会丢弃新行情，最新值始终可以从 Book 读到
func (c *Client) Ticks() <-chan domain.PriceTick {
	return c.ticks
}

// OnTick 注册全量行情回调，每条归一化行情都会触发
func (c *Client) OnTick(h TickHandler) {
	c.cbMu.Lock()
	c.onTick = append(c.onTick, h)
	c.cbMu.Unlock()
}

// OnPositionTick 注册持仓行情回调，只有持仓资产的行情触发
func (c *Client) OnPositionTick(h TickHandler) {
	c.cbMu.Lock()
	c.onPosTick = append(c.onPosTick, h)
	c.cbMu.Unlock()
}

// SetPositionAssets 更新持仓资产集合（整体替换）
func (c *Client) SetPositionAssets(assetIDs []string) {
	set := make(map[string]struct{}, len(assetIDs))
	for _, id := range assetIDs {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	c.cbMu.Lock()
	c.posAssets = set
	c.cbMu.Unlock()
}

// Start 建立连接并启动读取和心跳循环
func (c *Client) Start(ctx context.Context) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return fmt.Errorf("行情客户端已经在运行")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.runMu.Unlock()

	if err := c.connect(ctx); err != nil {
		cancel()
		c.runMu.Lock()
		c.running = false
		c.runMu.Unlock()
		return err
	}

	go c.readLoop(ctx)
	go c.pingLoop(ctx)
	return nil
}

// Stop 关闭连接并停止所有循环
func (c *Client) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.runMu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	logger.WithField("component", "stream").Info("行情客户端已停止")
}

// Subscribe 订阅资产行情，重连后自动恢复
func (c *Client) Subscribe(assetIDs ...string) error {
	if len(assetIDs) == 0 {
		return nil
	}

	c.subMu.Lock()
	fresh := make([]string, 0, len(assetIDs))
	for _, id := range assetIDs {
		if id == "" {
			continue
		}
		if _, ok := c.subs[id]; !ok {
			c.subs[id] = struct{}{}
			fresh = append(fresh, id)
		}
	}
	c.subMu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	return c.sendSubscribe(fresh)
}

// Unsubscribe 取消订阅（只从本地清单移除，服务端无取消语义）
func (c *Client) Unsubscribe(assetIDs ...string) {
	c.subMu.Lock()
	for _, id := range assetIDs {
		delete(c.subs, id)
	}
	c.subMu.Unlock()
}

// Subscriptions 当前订阅的资产清单
func (c *Client) Subscriptions() []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]string, 0, len(c.subs))
	for id := range c.subs {
		out = append(out, id)
	}
	return out
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("连接行情服务失败: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	logger.WithField("component", "stream").Infof("行情连接已建立: %s", c.url)
	return nil
}

// sendSubscribe 按批次发送订阅消息
func (c *Client) sendSubscribe(assetIDs []string) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		// 还没连上，重连后会统一补发
		return nil
	}

	for start := 0; start < len(assetIDs); start += maxAssetsPerSubscribe {
		end := start + maxAssetsPerSubscribe
		if end > len(assetIDs) {
			end = len(assetIDs)
		}
		payload, err := json.Marshal(subscribeMessage{
			AssetIDs: assetIDs[start:end],
			Type:     "market",
		})
		if err != nil {
			return err
		}
		c.connMu.Lock()
		err = conn.WriteMessage(websocket.TextMessage, payload)
		c.connMu.Unlock()
		if err != nil {
			return fmt.Errorf("发送订阅失败: %w", err)
		}
	}

	logger.WithField("component", "stream").Infof("已订阅 %d 个资产", len(assetIDs))
	return nil
}

// resubscribe 重连后恢复全部订阅
func (c *Client) resubscribe() {
	ids := c.Subscriptions()
	if len(ids) == 0 {
		return
	}
	if err := c.sendSubscribe(ids); err != nil {
		logger.WithField("component", "stream").Errorf("恢复订阅失败: %v", err)
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			var err error
			if conn != nil {
				err = conn.WriteMessage(websocket.TextMessage, []byte("PING"))
			}
			c.connMu.Unlock()
			if err != nil {
				logger.WithField("component", "stream").Warnf("心跳发送失败: %v", err)
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithField("component", "stream").Warnf("读取行情失败: %v", err)
			c.reconnect(ctx)
			continue
		}

		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	if IsPong(data) {
		return
	}

	for _, tick := range ParseMessage(data) {
		c.book.Apply(tick)
		metrics.StreamTicks.Add(1)
		c.dispatch(tick)
		select {
		case c.ticks <- tick:
		default:
			// 消费端阻塞时丢弃，Book 中仍有最新值
		}
	}
}

// dispatch 在读取 goroutine 上同步分发行情回调
// 保证每条行情都被求值，不会像缓冲通道那样被后续行情覆盖
func (c *Client) dispatch(tick domain.PriceTick) {
	c.cbMu.RLock()
	general := c.onTick
	position := c.onPosTick
	_, isPositionAsset := c.posAssets[tick.AssetID]
	c.cbMu.RUnlock()

	for _, h := range general {
		h(tick)
	}
	if isPositionAsset {
		for _, h := range position {
			h(tick)
		}
	}
}

// reconnect 指数退避重连，成功后退避重置并恢复订阅
func (c *Client) reconnect(ctx context.Context) {
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	delay := c.cfg.ReconnectMinDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := c.cfg.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	for attempt := 1; ; attempt++ {
		logger.WithField("component", "stream").Infof("第 %d 次重连，%v 后重试", attempt, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := c.connect(ctx); err != nil {
			logger.WithField("component", "stream").Warnf("重连失败: %v", err)
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
			continue
		}

		metrics.StreamReconnects.Add(1)
		c.resubscribe()
		return
	}
}
