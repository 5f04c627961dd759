package hardware

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/arcom/internal/logger"
	"go.uber.org/zap"
)

// 重连间隔
const (
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectInterval = 30 * time.Second
)

// ReconnectManager 串口重连管理器
//
// 自身实现 SerialPort：断线期间读写返回 ErrPortOffline，
// 检测到断线错误后在后台按指数退避重新打开同一个串口。
type ReconnectManager struct {
	config *SerialConfig
	opener PortOpener
	logger *zap.Logger

	port         SerialPort
	connected    bool
	reconnecting bool

	onConnect    func() // 连接（含重连）成功回调
	onDisconnect func() // 断开连接回调

	interval    time.Duration
	maxInterval time.Duration

	stopCh      chan struct{}
	reconnectCh chan struct{}
	mu          sync.RWMutex
}

// NewReconnectManager 创建重连管理器，opener 为空时使用 OpenPort
func NewReconnectManager(cfg *SerialConfig, opener PortOpener) *ReconnectManager {
	if opener == nil {
		opener = OpenPort
	}
	return &ReconnectManager{
		config:      cfg,
		opener:      opener,
		logger:      logger.WithModule("serial"),
		interval:    DefaultReconnectInterval,
		maxInterval: DefaultMaxReconnectInterval,
		reconnectCh: make(chan struct{}, 1),
	}
}

// SetCallbacks 设置回调函数
func (m *ReconnectManager) SetCallbacks(onConnect, onDisconnect func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = onConnect
	m.onDisconnect = onDisconnect
}

// SetBackoff 设置重连退避区间
func (m *ReconnectManager) SetBackoff(initial, maxInterval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = initial
	m.maxInterval = maxInterval
}

// Start 启动管理器，初次连接失败时在后台重试
func (m *ReconnectManager) Start() error {
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return fmt.Errorf("重连管理器已启动")
	}
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	if err := m.connect(); err != nil {
		m.logger.Warn("初始连接失败，将在后台重试",
			zap.String("port", m.config.Port),
			zap.Error(err))
		m.triggerReconnect()
	}

	go m.reconnectLoop(stopCh)
	return nil
}

// Stop 停止管理器并关闭串口
func (m *ReconnectManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	if m.port != nil {
		m.port.Close()
		m.port = nil
	}
	m.connected = false
}

// TriggerReconnect 手动触发重连
func (m *ReconnectManager) TriggerReconnect() {
	m.triggerReconnect()
}

func (m *ReconnectManager) triggerReconnect() {
	select {
	case m.reconnectCh <- struct{}{}:
	default:
		// 已经有重连请求在队列中
	}
}

// IsConnected 检查连接状态
func (m *ReconnectManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// PortName 串口名称
func (m *ReconnectManager) PortName() string {
	return m.config.Port
}

func (m *ReconnectManager) current() (SerialPort, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected || m.port == nil {
		return nil, ErrPortOffline
	}
	return m.port, nil
}

// Read 从当前串口读取
func (m *ReconnectManager) Read(b []byte) (int, error) {
	port, err := m.current()
	if err != nil {
		return 0, err
	}
	n, err := port.Read(b)
	if err != nil {
		m.handlePortError(port, err)
	}
	return n, err
}

// Write 向当前串口写入
func (m *ReconnectManager) Write(b []byte) (int, error) {
	port, err := m.current()
	if err != nil {
		return 0, err
	}
	n, err := port.Write(b)
	if err != nil {
		m.handlePortError(port, err)
	}
	return n, err
}

// Flush 清空当前串口输入缓冲
func (m *ReconnectManager) Flush() error {
	port, err := m.current()
	if err != nil {
		return err
	}
	return port.Flush()
}

// Close 等同于 Stop
func (m *ReconnectManager) Close() error {
	m.Stop()
	return nil
}

func (m *ReconnectManager) connect() error {
	port, err := m.opener(m.config)
	if err != nil {
		return fmt.Errorf("打开串口失败: %w", err)
	}

	m.mu.Lock()
	if m.stopCh == nil {
		m.mu.Unlock()
		port.Close()
		return errors.New("重连管理器已停止")
	}
	m.port = port
	m.connected = true
	onConnect := m.onConnect
	m.mu.Unlock()

	m.logger.Info("串口连接成功", zap.String("port", m.config.Port))
	if onConnect != nil {
		onConnect()
	}
	return nil
}

func (m *ReconnectManager) disconnect() {
	m.mu.Lock()
	port := m.port
	wasConnected := m.connected
	onDisconnect := m.onDisconnect
	m.port = nil
	m.connected = false
	m.mu.Unlock()

	if port != nil {
		m.logger.Info("断开串口连接", zap.String("port", m.config.Port))
		port.Close()
	}
	if wasConnected && onDisconnect != nil {
		onDisconnect()
	}
}

func (m *ReconnectManager) reconnectLoop(stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			m.logger.Info("停止重连循环", zap.String("port", m.config.Port))
			return
		case <-m.reconnectCh:
		}

		m.mu.Lock()
		if m.reconnecting {
			m.mu.Unlock()
			continue
		}
		m.reconnecting = true
		interval, maxInterval := m.interval, m.maxInterval
		m.mu.Unlock()

		m.logger.Info("开始重连", zap.String("port", m.config.Port))
		m.disconnect()

		// 丢弃断开前积压的重连请求
		select {
		case <-m.reconnectCh:
		default:
		}

		for retry := 1; ; retry++ {
			err := m.connect()
			if err == nil {
				m.logger.Info("重连成功",
					zap.String("port", m.config.Port),
					zap.Int("retry_count", retry))
				break
			}

			m.logger.Warn("重连失败，等待重试",
				zap.String("port", m.config.Port),
				zap.Int("retry", retry),
				zap.Error(err),
				zap.Duration("interval", interval))

			select {
			case <-stopCh:
				m.mu.Lock()
				m.reconnecting = false
				m.mu.Unlock()
				return
			case <-time.After(interval):
			}

			// 逐渐增加重连间隔
			interval *= 2
			if interval > maxInterval {
				interval = maxInterval
			}
		}

		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}
}

// HandleError 处理串口错误，断线类错误触发重连
func (m *ReconnectManager) HandleError(err error) {
	if !IsDisconnectError(err) {
		return
	}
	m.logger.Error("检测到串口断线",
		zap.String("port", m.config.Port),
		zap.Error(err))
	m.triggerReconnect()
}

// handlePortError 仅处理当前串口产生的错误
func (m *ReconnectManager) handlePortError(port SerialPort, err error) {
	m.mu.RLock()
	current := m.port == port
	m.mu.RUnlock()
	if current {
		m.HandleError(err)
	}
}

// IsDisconnectError 是否为设备断开类错误
func IsDisconnectError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrClosed) || errors.Is(err, os.ErrNotExist) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "input/output error") ||
		strings.Contains(errStr, "device not configured") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "no such file") ||
		strings.Contains(errStr, "port has been closed") ||
		strings.Contains(errStr, "permission denied")
}
