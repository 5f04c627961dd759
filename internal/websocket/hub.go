package websocket

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/arcom/internal/arcom"
	"github.com/wfunc/arcom/internal/config"
	apperrors "github.com/wfunc/arcom/internal/errors"
	"go.uber.org/zap"
)

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"` // 消息类型
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"` // Unix毫秒
}

// MessageType 消息类型
const (
	// 系统消息
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"

	// 链路消息
	MessageTypeTransfer  = "transfer"  // 一次收发记录
	MessageTypeSubscribe = "subscribe" // 客户端设置过滤条件
	MessageTypeStatus    = "status"    // 链路状态
)

// TransferEvent 推送给监控端的收发记录
type TransferEvent struct {
	Direction string    `json:"direction"`
	Port      string    `json:"port"`
	Tags      string    `json:"tags"`
	Segments  int       `json:"segments"`
	Bytes     int       `json:"bytes"`
	Hex       string    `json:"hex,omitempty"`
	Truncated bool      `json:"truncated,omitempty"`
	Values    [][]int64 `json:"values,omitempty"`
	Duration  int64     `json:"duration"` // 毫秒
	Error     string    `json:"error,omitempty"`
	ErrorCode int       `json:"error_code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Time      time.Time `json:"time"`
}

type event struct {
	port      string
	direction string
	data      []byte
}

// Hub WebSocket连接管理中心
//
// 实现 arcom.Observer，将每次收发推送给订阅的客户端。推送不阻塞串口读写，
// 客户端发送缓冲区满时丢弃该条消息。
type Hub struct {
	cfg    config.WebSocketConfig
	maxHex int

	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 消息广播通道
	broadcast chan *event

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	stopCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64

	// 链路状态查询
	status func() interface{}

	// 日志
	logger *zap.Logger
}

var _ arcom.Observer = (*Hub)(nil)

// NewHub 创建Hub，maxHex 为推送的十六进制数据上限（字节）
func NewHub(cfg config.WebSocketConfig, maxHex int, logger *zap.Logger) *Hub {
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		// ping发送周期必须小于pong超时
		cfg.PingInterval = cfg.PongTimeout * 9 / 10
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Hub{
		cfg:        cfg,
		maxHex:     maxHex,
		clients:    make(map[string]*Client),
		broadcast:  make(chan *event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopCh:     make(chan struct{}),
		logger:     logger,
	}
}

// Run 运行Hub，直到 Stop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case ev := <-h.broadcast:
			h.broadcastEvent(ev)

		case <-h.stopCh:
			h.clientsMu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.Send)
			}
			h.clientsMu.Unlock()
			h.logger.Info("WebSocket Hub已停止")
			return
		}
	}
}

// SetStatusProvider 设置 status 请求的应答来源
func (h *Hub) SetStatusProvider(fn func() interface{}) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	h.status = fn
}

func (h *Hub) statusProvider() func() interface{} {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return h.status
}

// Stop 停止Hub并断开所有客户端
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.String("user", client.User))

	// 发送连接成功消息
	h.SendToClient(client.ID, MessageTypeConnected, map[string]string{
		"client_id": client.ID,
		"message":   "连接成功",
	})
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端断开",
		zap.String("client_id", client.ID),
		zap.String("user", client.User))
}

// broadcastEvent 按订阅条件广播
func (h *Hub) broadcastEvent(ev *event) {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for _, client := range h.clients {
		if !client.accepts(ev.port, ev.direction) {
			continue
		}
		select {
		case client.Send <- ev.data:
		default:
			h.logger.Warn("客户端发送缓冲区满", zap.String("client_id", client.ID))
		}
	}
}

// OnTransfer 实现 arcom.Observer
func (h *Hub) OnTransfer(t *arcom.Transfer) {
	ev := TransferEvent{
		Direction: string(t.Direction),
		Port:      t.Port,
		Tags:      t.Tags,
		Segments:  t.Segments,
		Bytes:     t.Bytes,
		Hex:       t.Hex(h.maxHex),
		Truncated: h.maxHex > 0 && len(t.Data) > h.maxHex,
		Duration:  t.Duration.Milliseconds(),
		Error:     t.Error(),
		RequestID: t.RequestID,
		Time:      t.Time,
	}
	if !ev.Truncated {
		ev.Values = t.Values
	}
	if t.Err != nil {
		ev.ErrorCode = int(apperrors.GetCode(t.Err))
	}

	data, err := encode(MessageTypeTransfer, ev)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- &event{port: ev.Port, direction: ev.Direction, data: data}:
	case <-h.stopCh:
	default:
		h.dropped.Add(1)
		h.logger.Warn("广播队列已满，丢弃收发记录", zap.String("tags", ev.Tags))
	}
}

// SendToClient 发送消息给指定客户端
func (h *Hub) SendToClient(clientID, msgType string, payload interface{}) error {
	data, err := encode(msgType, payload)
	if err != nil {
		return err
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	client, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}

	select {
	case client.Send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// GetOnlineCount 获取在线客户端数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Dropped 广播队列满时丢弃的记录数
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Register 注册客户端（公开方法）
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stopCh:
		close(client.Send)
	}
}

// Unregister 注销客户端（公开方法）
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopCh:
	}
}

func encode(msgType string, payload interface{}) ([]byte, error) {
	msg := &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}
