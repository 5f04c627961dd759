package arcom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/wfunc/arcom/internal/errors"
	"github.com/wfunc/arcom/internal/hardware"
	"github.com/wfunc/arcom/internal/logger"
	"go.uber.org/zap"
)

var (
	// ErrTimeout 等待数据超时
	ErrTimeout = errors.New("arcom: read timeout")
	// ErrClosed 连接已关闭
	ErrClosed = errors.New("arcom: connection closed")
)

// pollInterval 支持 SetReadDeadline 的流每次读取的等待上限
const pollInterval = 50 * time.Millisecond

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type flusher interface {
	Flush() error
}

// Stats 连接统计
type Stats struct {
	Port          string    `json:"port"`
	BytesWritten  uint64    `json:"bytes_written"`
	BytesRead     uint64    `json:"bytes_read"`
	Writes        uint64    `json:"writes"`
	Reads         uint64    `json:"reads"`
	Errors        uint64    `json:"errors"`
	Timeouts      uint64    `json:"timeouts"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorTime time.Time `json:"last_error_time,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
	Closed        bool      `json:"closed"`
}

// Conn 类型化串口连接
//
// Write 与 Read 分别由互斥锁串行化，一次调用的字节不会与其他调用交错。
type Conn struct {
	port   io.ReadWriteCloser
	name   string
	opts   options
	logger *zap.Logger

	writeMu sync.Mutex
	readMu  sync.Mutex
	closed  atomic.Bool

	statsMu sync.Mutex
	stats   Stats
}

// Open 按端口名与波特率打开串口连接
func Open(ctx context.Context, portName string, baud int, opts ...Option) (*Conn, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCanceled)
	}

	cfg := hardware.DefaultSerialConfig(portName, baud)
	if o.serial != nil {
		o.serial(cfg)
	}
	port, err := o.opener(cfg)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrSerialPortOpen, "port=%s baud=%d: %v", portName, baud, err)
	}

	if o.name == "" {
		o.name = portName
	}
	return newConn(port, o), nil
}

// NewConn 包装任意字节流（回环串口、TCP 串口服务器、测试桩）
func NewConn(port io.ReadWriteCloser, opts ...Option) *Conn {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = "stream"
	}
	return newConn(port, o)
}

func newConn(port io.ReadWriteCloser, o options) *Conn {
	c := &Conn{
		port:   port,
		name:   o.name,
		opts:   o,
		logger: o.logger,
	}
	if c.logger == nil {
		c.logger = logger.WithModule("serial")
	}
	c.stats.Port = o.name
	c.stats.OpenedAt = time.Now()
	return c
}

// Name 连接名称
func (c *Conn) Name() string {
	return c.name
}

// SetObserver 替换收发观察者
func (c *Conn) SetObserver(obs Observer) {
	c.writeMu.Lock()
	c.readMu.Lock()
	c.opts.observer = obs
	c.readMu.Unlock()
	c.writeMu.Unlock()
}

// Write 按调用顺序编码并发送各段数值
func (c *Conn) Write(ctx context.Context, segs ...Segment) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.write(ctx, segs)
}

// Read 阻塞直到收齐声明的字节数，按声明顺序返回各段数值
func (c *Conn) Read(ctx context.Context, wants ...Want) ([][]int64, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return c.read(ctx, wants)
}

// Transfer 先写后读，期间独占连接
func (c *Conn) Transfer(ctx context.Context, segs []Segment, wants []Want) ([][]int64, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if err := c.write(ctx, segs); err != nil {
		return nil, err
	}
	return c.read(ctx, wants)
}

func (c *Conn) write(ctx context.Context, segs []Segment) error {
	start := time.Now()
	var data []byte
	err := CheckLimit(EncodedLen(segs...), c.opts.maxWriteBytes)
	if err == nil {
		data, err = Encode(segs...)
	}
	if err == nil {
		err = c.writeAll(ctx, data)
	} else {
		err = WrapCodecError(err)
	}

	c.record(&Transfer{
		Direction: DirectionSend,
		Port:      c.name,
		Tags:      Summary(segs...),
		Segments:  len(segs),
		Bytes:     len(data),
		Data:      data,
		Values:    segmentValues(segs),
		Duration:  time.Since(start),
		Err:       err,
		Time:      start,
		RequestID: RequestIDFromContext(ctx),
	})
	return err
}

func (c *Conn) read(ctx context.Context, wants []Want) ([][]int64, error) {
	start := time.Now()
	var (
		buf    []byte
		values [][]int64
	)
	err := ValidateWants(wants...)
	if err == nil {
		err = CheckLimit(WantLen(wants...), c.opts.maxReadBytes)
	}
	if err == nil {
		buf = make([]byte, WantLen(wants...))
		var n int
		n, err = c.readFull(ctx, buf)
		buf = buf[:n]
		if err == nil {
			values, err = Decode(buf, wants...)
		}
	}
	if err != nil {
		err = WrapCodecError(err)
	}

	c.record(&Transfer{
		Direction: DirectionReceive,
		Port:      c.name,
		Tags:      WantSummary(wants...),
		Segments:  len(wants),
		Bytes:     len(buf),
		Data:      buf,
		Values:    values,
		Duration:  time.Since(start),
		Err:       err,
		Time:      start,
		RequestID: RequestIDFromContext(ctx),
	})
	return values, err
}

// segmentValues 复制发送的数值，观察者可能在调用方复用切片后才读取
func segmentValues(segs []Segment) [][]int64 {
	out := make([][]int64, len(segs))
	for i, s := range segs {
		out[i] = append([]int64(nil), s.Values...)
	}
	return out
}

func (c *Conn) writeAll(ctx context.Context, data []byte) error {
	off := 0
	for attempt := 1; off < len(data); {
		if err := c.checkState(ctx); err != nil {
			return err
		}
		n, err := c.port.Write(data[off:])
		off += n
		if err != nil {
			// 只有一个字节都未写出时才重试，避免重复发送
			if off == 0 && attempt < c.opts.retryTimes && !errors.Is(err, hardware.ErrPortOffline) {
				attempt++
				c.logger.Warn("串口写入失败，重试", zap.String("port", c.name), zap.Int("attempt", attempt), zap.Error(err))
				time.Sleep(c.opts.retryInterval)
				continue
			}
			return c.ioError(err, apperrors.ErrSerialPortWrite, off, len(data))
		}
		if n == 0 {
			return c.ioError(io.ErrShortWrite, apperrors.ErrSerialPortWrite, off, len(data))
		}
	}
	return nil
}

func (c *Conn) readFull(ctx context.Context, buf []byte) (int, error) {
	var deadline time.Time
	if c.opts.readTimeout > 0 {
		deadline = time.Now().Add(c.opts.readTimeout)
	}
	dl, canDeadline := c.port.(readDeadliner)

	n := 0
	for n < len(buf) {
		if err := c.checkState(ctx); err != nil {
			return n, err
		}
		if canDeadline {
			_ = dl.SetReadDeadline(time.Now().Add(pollInterval))
		}

		m, err := c.port.Read(buf[n:])
		n += m
		if err != nil && !os.IsTimeout(err) {
			return n, c.ioError(err, apperrors.ErrSerialPortRead, n, len(buf))
		}
		if m == 0 && !deadline.IsZero() && time.Now().After(deadline) {
			return n, apperrors.Wrapf(fmt.Errorf("%w after %v", ErrTimeout, c.opts.readTimeout),
				apperrors.ErrSerialTimeout, "port=%s received %d/%d bytes", c.name, n, len(buf))
		}
	}
	return n, nil
}

func (c *Conn) checkState(ctx context.Context) error {
	if c.closed.Load() {
		return apperrors.Wrapf(ErrClosed, apperrors.ErrSerialClosed, "port=%s", c.name)
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.Wrapf(fmt.Errorf("%w: %w", ErrTimeout, err), apperrors.ErrSerialTimeout, "port=%s: %v", c.name, err)
		}
		return apperrors.Wrapf(err, apperrors.ErrCanceled, "port=%s", c.name)
	}
	return nil
}

func (c *Conn) ioError(err error, code apperrors.ErrorCode, done, total int) error {
	switch {
	case errors.Is(err, hardware.ErrPortOffline):
		code = apperrors.ErrDeviceOffline
	case c.closed.Load():
		code = apperrors.ErrSerialClosed
	}
	return apperrors.Wrapf(err, code, "port=%s %d/%d bytes: %v", c.name, done, total, err)
}

func (c *Conn) record(t *Transfer) {
	c.statsMu.Lock()
	if t.Direction == DirectionSend {
		c.stats.Writes++
		c.stats.BytesWritten += uint64(t.Bytes)
	} else {
		c.stats.Reads++
		c.stats.BytesRead += uint64(t.Bytes)
	}
	if t.Err != nil {
		c.stats.Errors++
		if apperrors.Is(t.Err, apperrors.ErrSerialTimeout) {
			c.stats.Timeouts++
		}
		c.stats.LastError = t.Err.Error()
		c.stats.LastErrorTime = time.Now()
	}
	c.statsMu.Unlock()

	if c.opts.logger == nil {
		logger.LogSerialTransfer(string(t.Direction), t.Port, t.Tags, t.Bytes, t.Duration, t.Err)
	} else if t.Err != nil {
		c.logger.Error("串口收发失败",
			zap.String("direction", string(t.Direction)),
			zap.String("tags", t.Tags),
			zap.Int("bytes", t.Bytes),
			zap.Error(t.Err))
	} else {
		c.logger.Debug("串口收发",
			zap.String("direction", string(t.Direction)),
			zap.String("tags", t.Tags),
			zap.Int("bytes", t.Bytes),
			zap.Duration("duration", t.Duration))
	}

	if c.opts.observer != nil {
		c.opts.observer.OnTransfer(t)
	}
}

// Stats 返回统计快照
func (c *Conn) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s := c.stats
	s.Closed = c.closed.Load()
	return s
}

// Flush 丢弃串口输入缓冲中未读的数据
func (c *Conn) Flush() error {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if f, ok := c.port.(flusher); ok {
		if err := f.Flush(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrSerialPortRead)
		}
	}
	return nil
}

// Close 关闭连接，重复调用返回 nil
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.port.Close(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrSerialClosed)
	}
	c.logger.Info("串口已关闭", zap.String("port", c.name))
	return nil
}

// WrapCodecError 将编解码错误转换为 AppError
func WrapCodecError(err error) error {
	var appErr *apperrors.AppError
	if err == nil || errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, ErrUnknownTypeTag):
		return apperrors.Wrap(err, apperrors.ErrUnknownTypeTag, err.Error())
	case errors.Is(err, ErrValueRange):
		return apperrors.Wrap(err, apperrors.ErrValueRange, err.Error())
	case errors.Is(err, ErrLengthMismatch):
		return apperrors.Wrap(err, apperrors.ErrLengthMismatch, err.Error())
	case errors.Is(err, ErrArgsFormat):
		return apperrors.Wrap(err, apperrors.ErrArgsFormat, err.Error())
	case errors.Is(err, ErrNegativeCount):
		return apperrors.Wrap(err, apperrors.ErrInvalidParam, err.Error())
	case errors.Is(err, ErrTooLarge):
		return apperrors.Wrap(err, apperrors.ErrTooLarge, err.Error())
	default:
		return err
	}
}
