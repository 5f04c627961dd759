package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 错误定义
var (
	ErrClientNotFound = errors.New("客户端未找到")
	ErrSendBufferFull = errors.New("发送缓冲区已满")
)

// 最大消息大小，客户端只发送控制消息
const maxMessageSize = 4 * 1024

// Subscription 客户端订阅条件，空字段表示不过滤
type Subscription struct {
	Port      string `json:"port,omitempty"`
	Direction string `json:"direction,omitempty"` // SEND / RECEIVE
}

// Client WebSocket客户端
type Client struct {
	ID   string          // 客户端ID
	User string          // 令牌中的操作员，未启用认证时为空
	Hub  *Hub            // Hub引用
	Conn *websocket.Conn // WebSocket连接
	Send chan []byte     // 发送通道

	mu  sync.RWMutex
	sub Subscription
}

// NewClient 创建新客户端
func NewClient(hub *Hub, conn *websocket.Conn, user string) *Client {
	return &Client{
		ID:   uuid.New().String(),
		User: user,
		Hub:  hub,
		Conn: conn,
		Send: make(chan []byte, 256),
	}
}

// ServeWS 升级HTTP连接并启动读写协程
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, user string) error {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  h.cfg.ReadBufferSize,
		WriteBufferSize: h.cfg.WriteBufferSize,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败", zap.Error(err))
		return err
	}

	client := NewClient(h, conn, user)
	if port := r.URL.Query().Get("port"); port != "" {
		client.sub.Port = port
	}
	if dir := r.URL.Query().Get("direction"); dir != "" {
		client.sub.Direction = strings.ToUpper(dir)
	}

	h.Register(client)
	go client.WritePump()
	go client.ReadPump()
	return nil
}

// Subscription 当前订阅条件
func (c *Client) Subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

func (c *Client) accepts(port, direction string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sub.Port != "" && c.sub.Port != port {
		return false
	}
	if c.sub.Direction != "" && c.sub.Direction != direction {
		return false
	}
	return true
}

// ReadPump 读取消息
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	pongWait := c.Hub.cfg.PongTimeout
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket读取错误",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			return
		}

		if !c.handleMessage(message) {
			return
		}
	}
}

// WritePump 写入消息
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	writeWait := c.Hub.cfg.WriteTimeout
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息，返回 false 时断开连接
func (c *Client) handleMessage(data []byte) bool {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		c.Hub.logger.Warn("解析WebSocket消息失败",
			zap.String("client_id", c.ID),
			zap.ByteString("data", data))
		c.sendError("消息格式错误")
		return false
	}

	switch msg.Type {
	case MessageTypePing:
		c.Hub.SendToClient(c.ID, MessageTypePong, nil)

	case MessageTypePong:
		c.Hub.logger.Debug("收到pong", zap.String("client_id", c.ID))

	case MessageTypeSubscribe:
		var sub Subscription
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &sub); err != nil {
				c.sendError("订阅条件格式错误")
				return true
			}
		}
		sub.Direction = strings.ToUpper(sub.Direction)
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
		c.Hub.SendToClient(c.ID, MessageTypeSubscribe, sub)

	case MessageTypeStatus:
		fn := c.Hub.statusProvider()
		if fn == nil {
			c.sendError("链路状态不可用")
			return true
		}
		c.Hub.SendToClient(c.ID, MessageTypeStatus, fn())

	default:
		c.Hub.logger.Warn("收到不支持的消息类型",
			zap.String("client_id", c.ID),
			zap.String("type", msg.Type))
		c.sendError("不支持的消息类型: " + msg.Type)
	}
	return true
}

// sendError 发送错误消息
func (c *Client) sendError(message string) {
	c.Hub.SendToClient(c.ID, MessageTypeError, map[string]string{"error": message})
}
