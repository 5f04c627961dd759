package arcom

import (
	"time"

	"github.com/wfunc/arcom/internal/hardware"
	"go.uber.org/zap"
)

const (
	// DefaultReadTimeout 默认读超时
	DefaultReadTimeout = 2 * time.Second
	// DefaultMaxTransferBytes 单次读写的默认字节上限
	DefaultMaxTransferBytes = 1 << 20
)

type options struct {
	readTimeout   time.Duration
	retryTimes    int
	retryInterval time.Duration
	observer      Observer
	logger        *zap.Logger
	opener        hardware.PortOpener
	serial        func(cfg *hardware.SerialConfig)
	name          string
	maxReadBytes  int
	maxWriteBytes int
}

func defaultOptions() options {
	return options{
		readTimeout:   DefaultReadTimeout,
		retryTimes:    1,
		retryInterval: 100 * time.Millisecond,
		opener:        hardware.OpenPort,
		maxReadBytes:  DefaultMaxTransferBytes,
		maxWriteBytes: DefaultMaxTransferBytes,
	}
}

// Option 连接选项
type Option func(*options)

// WithReadTimeout 设置整次读取的超时，0 表示一直等待
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

// WithRetry 写入失败（未写出任何字节）时的重试次数与间隔
func WithRetry(times int, interval time.Duration) Option {
	return func(o *options) {
		if times < 1 {
			times = 1
		}
		o.retryTimes = times
		o.retryInterval = interval
	}
}

// WithObserver 设置收发观察者
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger 设置日志器
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithOpener 设置串口打开方式
func WithOpener(opener hardware.PortOpener) Option {
	return func(o *options) { o.opener = opener }
}

// WithDriver 选择串口驱动（tarm / bugst / loopback）
func WithDriver(driver string) Option {
	return WithSerialConfig(func(cfg *hardware.SerialConfig) { cfg.Driver = driver })
}

// WithSerialConfig 调整打开串口时使用的配置
func WithSerialConfig(fn func(cfg *hardware.SerialConfig)) Option {
	return func(o *options) {
		prev := o.serial
		o.serial = func(cfg *hardware.SerialConfig) {
			if prev != nil {
				prev(cfg)
			}
			fn(cfg)
		}
	}
}

// WithName 设置连接名称（日志与收发记录中的端口名）
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithMaxReadBytes 单次读取的字节上限，0 表示不限制
func WithMaxReadBytes(n int) Option {
	return func(o *options) { o.maxReadBytes = n }
}

// WithMaxWriteBytes 单次写入的字节上限，0 表示不限制
func WithMaxWriteBytes(n int) Option {
	return func(o *options) { o.maxWriteBytes = n }
}
