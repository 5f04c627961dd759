package hardware

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tarm/serial"
	"github.com/wfunc/arcom/internal/config"
	"github.com/wfunc/arcom/internal/logger"
	bugst "go.bug.st/serial"
	"go.uber.org/zap"
)

// 串口驱动
const (
	DriverTarm     = "tarm"
	DriverBugst    = "bugst"
	DriverLoopback = "loopback"
)

// DefaultPollInterval 默认读轮询间隔
const DefaultPollInterval = 50 * time.Millisecond

// SerialConfig 串口配置
type SerialConfig struct {
	Driver       string        `yaml:"driver"`
	Port         string        `yaml:"port"`
	BaudRate     int           `yaml:"baud_rate"`
	DataBits     int           `yaml:"data_bits"`
	StopBits     int           `yaml:"stop_bits"`
	Parity       string        `yaml:"parity"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultSerialConfig 以 8N1 创建串口配置
func DefaultSerialConfig(port string, baud int) *SerialConfig {
	return &SerialConfig{
		Driver:       DriverTarm,
		Port:         port,
		BaudRate:     baud,
		DataBits:     8,
		StopBits:     1,
		Parity:       "N",
		PollInterval: DefaultPollInterval,
	}
}

// NewSerialConfig 由全局配置创建串口配置
func NewSerialConfig(c config.SerialConfig) *SerialConfig {
	cfg := DefaultSerialConfig(c.Port, c.BaudRate)
	if c.Driver != "" {
		cfg.Driver = c.Driver
	}
	if c.MockMode {
		cfg.Driver = DriverLoopback
	}
	if c.DataBits > 0 {
		cfg.DataBits = c.DataBits
	}
	if c.StopBits > 0 {
		cfg.StopBits = c.StopBits
	}
	if c.Parity != "" {
		cfg.Parity = c.Parity
	}
	if c.PollInterval > 0 {
		cfg.PollInterval = c.PollInterval
	}
	return cfg
}

// Validate 校验串口参数
func (c *SerialConfig) Validate() error {
	if c.Driver != DriverLoopback {
		if c.Port == "" {
			return errors.New("串口名称不能为空")
		}
		if c.BaudRate <= 0 {
			return fmt.Errorf("无效的波特率: %d", c.BaudRate)
		}
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("无效的数据位: %d", c.DataBits)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("无效的停止位: %d", c.StopBits)
	}
	if _, err := parseParity(c.Parity); err != nil {
		return err
	}
	return nil
}

// OpenPort 按驱动打开串口
func OpenPort(cfg *SerialConfig) (SerialPort, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	var (
		port SerialPort
		err  error
	)
	switch cfg.Driver {
	case "", DriverTarm:
		port, err = openTarm(cfg)
	case DriverBugst:
		port, err = openBugst(cfg)
	case DriverLoopback:
		port = NewLoopbackPort(cfg.PollInterval)
	default:
		err = fmt.Errorf("不支持的串口驱动: %s", cfg.Driver)
	}

	log := logger.WithModule("serial")
	if err != nil {
		log.Error("打开串口失败",
			zap.String("driver", cfg.Driver),
			zap.String("port", cfg.Port),
			zap.Error(err))
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}

	log.Info("串口连接成功",
		zap.String("driver", cfg.Driver),
		zap.String("port", cfg.Port),
		zap.Int("baud_rate", cfg.BaudRate))
	return port, nil
}

// parseParity 解析校验位，返回 N/O/E/M/S
func parseParity(s string) (byte, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "N", "NONE":
		return 'N', nil
	case "O", "ODD":
		return 'O', nil
	case "E", "EVEN":
		return 'E', nil
	case "M", "MARK":
		return 'M', nil
	case "S", "SPACE":
		return 'S', nil
	default:
		return 0, fmt.Errorf("无效的校验位: %s", s)
	}
}

func openTarm(cfg *SerialConfig) (SerialPort, error) {
	p, _ := parseParity(cfg.Parity)
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.BaudRate,
		Size:        byte(cfg.DataBits),
		Parity:      serial.Parity(p),
		StopBits:    serial.StopBits(cfg.StopBits),
		ReadTimeout: cfg.PollInterval,
	})
	if err != nil {
		return nil, err
	}
	return &tarmPort{port: port}, nil
}

// tarmPort 将 tarm 超时返回的 io.EOF 转换为 (0, nil)
type tarmPort struct {
	port SerialPort
}

func (p *tarmPort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, nil
	}
	return n, err
}

func (p *tarmPort) Write(b []byte) (int, error) { return p.port.Write(b) }
func (p *tarmPort) Flush() error                { return p.port.Flush() }
func (p *tarmPort) Close() error                { return p.port.Close() }

func openBugst(cfg *SerialConfig) (SerialPort, error) {
	mode := &bugst.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	p, _ := parseParity(cfg.Parity)
	switch p {
	case 'O':
		mode.Parity = bugst.OddParity
	case 'E':
		mode.Parity = bugst.EvenParity
	case 'M':
		mode.Parity = bugst.MarkParity
	case 'S':
		mode.Parity = bugst.SpaceParity
	}
	if cfg.StopBits == 2 {
		mode.StopBits = bugst.TwoStopBits
	}

	port, err := bugst.Open(cfg.Port, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(cfg.PollInterval); err != nil {
		port.Close()
		return nil, err
	}
	return &bugstPort{port: port}, nil
}

// bugstPort go.bug.st/serial 适配
type bugstPort struct {
	port bugst.Port
}

func (p *bugstPort) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *bugstPort) Write(b []byte) (int, error) { return p.port.Write(b) }
func (p *bugstPort) Flush() error                { return p.port.ResetInputBuffer() }
func (p *bugstPort) Close() error                { return p.port.Close() }
