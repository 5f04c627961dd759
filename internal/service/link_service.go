package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/wfunc/arcom/internal/arcom"
	"github.com/wfunc/arcom/internal/config"
	apperrors "github.com/wfunc/arcom/internal/errors"
	"github.com/wfunc/arcom/internal/hardware"
	"github.com/wfunc/arcom/internal/logger"
	"go.uber.org/zap"
)

// LinkStatus 链路状态
type LinkStatus struct {
	Enabled   bool        `json:"enabled"`
	Started   bool        `json:"started"`
	Connected bool        `json:"connected"`
	Driver    string      `json:"driver"`
	Port      string      `json:"port"`
	BaudRate  int         `json:"baud_rate"`
	Reconnect bool        `json:"reconnect"`
	Stats     arcom.Stats `json:"stats"`
}

// LinkService 串口链路服务，持有守护进程唯一的 arcom.Conn
type LinkService struct {
	cfg       config.SerialConfig
	hw        *hardware.SerialConfig
	opener    hardware.PortOpener
	observers arcom.MultiObserver
	logger    *zap.Logger

	mu        sync.RWMutex
	conn      *arcom.Conn
	reconnect *hardware.ReconnectManager
}

// NewLinkService 创建链路服务，opener 为空时使用 hardware.OpenPort
func NewLinkService(cfg config.SerialConfig, opener hardware.PortOpener, observers ...arcom.Observer) *LinkService {
	if opener == nil {
		opener = hardware.OpenPort
	}
	return &LinkService{
		cfg:       cfg,
		hw:        hardware.NewSerialConfig(cfg),
		opener:    opener,
		observers: observers,
		logger:    logger.WithModule("link"),
	}
}

// Start 打开串口
func (s *LinkService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCanceled)
	}
	if err := s.hw.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrConfigValidate, err.Error())
	}

	var port hardware.SerialPort
	if s.cfg.Reconnect {
		rm := hardware.NewReconnectManager(s.hw, s.opener)
		rm.SetCallbacks(
			func() { s.logger.Info("串口链路已连接", zap.String("port", s.hw.Port)) },
			func() { s.logger.Warn("串口链路已断开", zap.String("port", s.hw.Port)) },
		)
		if err := rm.Start(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrSerialPortOpen, err.Error())
		}
		s.reconnect = rm
		port = rm
	} else {
		p, err := s.opener(s.hw)
		if err != nil {
			return apperrors.Wrapf(err, apperrors.ErrSerialPortOpen, "port=%s baud=%d: %v", s.hw.Port, s.hw.BaudRate, err)
		}
		port = p
	}

	s.conn = arcom.NewConn(port,
		arcom.WithName(s.portName()),
		arcom.WithReadTimeout(s.cfg.ReadTimeout),
		arcom.WithRetry(s.cfg.RetryTimes, s.cfg.RetryInterval),
		arcom.WithObserver(s.observers),
		arcom.WithMaxReadBytes(s.cfg.MaxReadBytes),
		arcom.WithMaxWriteBytes(s.cfg.MaxWriteBytes),
	)

	s.logger.Info("串口链路启动",
		zap.String("driver", s.hw.Driver),
		zap.String("port", s.portName()),
		zap.Int("baud_rate", s.hw.BaudRate),
		zap.Bool("reconnect", s.cfg.Reconnect))
	return nil
}

// Stop 关闭串口
func (s *LinkService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.reconnect = nil
	s.logger.Info("串口链路停止", zap.String("port", s.portName()))
	return err
}

// Limits 单次读写的字节上限
func (s *LinkService) Limits() (maxRead, maxWrite int) {
	return s.cfg.MaxReadBytes, s.cfg.MaxWriteBytes
}

func (s *LinkService) portName() string {
	if s.hw.Port == "" {
		return s.hw.Driver
	}
	return s.hw.Port
}

func (s *LinkService) connection() (*arcom.Conn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil, apperrors.New(apperrors.ErrDeviceOffline, "串口链路未启动")
	}
	return s.conn, nil
}

// withRequestID 为没有请求ID的调用生成一个，同一次 Transfer 的收发记录共用
func withRequestID(ctx context.Context) context.Context {
	if arcom.RequestIDFromContext(ctx) != "" {
		return ctx
	}
	return arcom.WithRequestID(ctx, uuid.New().String())
}

// Write 发送数值段
func (s *LinkService) Write(ctx context.Context, segs []arcom.Segment) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}
	return conn.Write(withRequestID(ctx), segs...)
}

// Read 读取声明的数值段
func (s *LinkService) Read(ctx context.Context, wants []arcom.Want) ([][]int64, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	return conn.Read(withRequestID(ctx), wants...)
}

// Transfer 先写后读，作为一次独占的交换
func (s *LinkService) Transfer(ctx context.Context, segs []arcom.Segment, wants []arcom.Want) ([][]int64, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	return conn.Transfer(withRequestID(ctx), segs, wants)
}

// Flush 丢弃输入缓冲中的残留数据
func (s *LinkService) Flush() error {
	conn, err := s.connection()
	if err != nil {
		return err
	}
	return conn.Flush()
}

// Status 链路状态
func (s *LinkService) Status() *LinkStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &LinkStatus{
		Enabled:   s.cfg.Enabled,
		Started:   s.conn != nil,
		Driver:    s.hw.Driver,
		Port:      s.portName(),
		BaudRate:  s.hw.BaudRate,
		Reconnect: s.cfg.Reconnect,
	}
	if s.conn != nil {
		status.Stats = s.conn.Stats()
		status.Connected = !status.Stats.Closed
		if s.reconnect != nil {
			status.Connected = status.Connected && s.reconnect.IsConnected()
		}
	}
	return status
}
