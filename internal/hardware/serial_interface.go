package hardware

import (
	"errors"
	"io"
)

// ErrPortOffline 串口当前不可用（等待重连）
var ErrPortOffline = errors.New("hardware: serial port offline")

// SerialPort 串口接口
//
// Read 在轮询超时内未收到数据时返回 (0, nil)，调用方自行决定是否继续等待。
type SerialPort interface {
	io.ReadWriteCloser
	Flush() error
}

// PortOpener 按配置打开串口
type PortOpener func(cfg *SerialConfig) (SerialPort, error)
