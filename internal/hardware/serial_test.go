package hardware

import (
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/arcom/internal/config"
)

// MockSerialPort 模拟串口
type MockSerialPort struct {
	mock.Mock
}

func (m *MockSerialPort) Read(b []byte) (int, error) {
	args := m.Called(b)
	if data, ok := args.Get(0).([]byte); ok {
		return copy(b, data), args.Error(1)
	}
	return args.Int(0), args.Error(1)
}

func (m *MockSerialPort) Write(b []byte) (int, error) {
	args := m.Called(b)
	return args.Int(0), args.Error(1)
}

func (m *MockSerialPort) Flush() error {
	return m.Called().Error(0)
}

func (m *MockSerialPort) Close() error {
	return m.Called().Error(0)
}

func TestTarmPortTranslatesTimeoutEOF(t *testing.T) {
	port := new(MockSerialPort)
	port.On("Read", mock.Anything).Return(0, io.EOF).Once()
	port.On("Read", mock.Anything).Return([]byte{0x05, 0x00}, nil).Once()

	p := &tarmPort{port: port}
	buf := make([]byte, 4)

	n, err := p.Read(buf)
	assert.NoError(t, err, "读超时不应返回错误")
	assert.Equal(t, 0, n)

	n, err = p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x05, 0x00}, buf[:n])
	port.AssertExpectations(t)
}

func TestTarmPortPassesRealErrors(t *testing.T) {
	port := new(MockSerialPort)
	port.On("Read", mock.Anything).Return(0, os.ErrClosed)
	port.On("Flush").Return(nil)
	port.On("Close").Return(nil)

	p := &tarmPort{port: port}
	_, err := p.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.NoError(t, p.Flush())
	assert.NoError(t, p.Close())
	port.AssertExpectations(t)
}

func TestParseParity(t *testing.T) {
	tests := []struct {
		in   string
		want byte
		err  bool
	}{
		{"", 'N', false},
		{"n", 'N', false},
		{"odd", 'O', false},
		{"E", 'E', false},
		{"mark", 'M', false},
		{"space", 'S', false},
		{"X", 0, true},
	}
	for _, tt := range tests {
		got, err := parseParity(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSerialConfigValidate(t *testing.T) {
	cfg := DefaultSerialConfig("COM3", 115200)
	assert.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Port = ""
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.DataBits = 9
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.StopBits = 3
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Parity = "Q"
	assert.Error(t, bad.Validate())

	loop := &SerialConfig{Driver: DriverLoopback, DataBits: 8, StopBits: 1}
	assert.NoError(t, loop.Validate(), "回环串口不需要端口名")
}

func TestNewSerialConfig(t *testing.T) {
	cfg := NewSerialConfig(config.SerialConfig{
		Driver:       DriverBugst,
		Port:         "/dev/ttyACM0",
		BaudRate:     9600,
		StopBits:     2,
		Parity:       "E",
		PollInterval: 20 * time.Millisecond,
	})
	assert.Equal(t, DriverBugst, cfg.Driver)
	assert.Equal(t, 8, cfg.DataBits)
	assert.Equal(t, 2, cfg.StopBits)
	assert.Equal(t, 20*time.Millisecond, cfg.PollInterval)

	mockCfg := NewSerialConfig(config.SerialConfig{MockMode: true, Driver: DriverTarm})
	assert.Equal(t, DriverLoopback, mockCfg.Driver)
}

func TestOpenPort(t *testing.T) {
	cfg := &SerialConfig{Driver: DriverLoopback, DataBits: 8, StopBits: 1, PollInterval: 10 * time.Millisecond}
	port, err := OpenPort(cfg)
	require.NoError(t, err)
	defer port.Close()
	assert.IsType(t, &LoopbackPort{}, port)

	_, err = OpenPort(&SerialConfig{Driver: "ftdi", Port: "COM1", BaudRate: 9600, DataBits: 8, StopBits: 1})
	assert.Error(t, err)

	_, err = OpenPort(DefaultSerialConfig("/dev/does-not-exist-arcom", 115200))
	assert.Error(t, err)
}

func TestIsDisconnectError(t *testing.T) {
	assert.False(t, IsDisconnectError(nil))
	assert.False(t, IsDisconnectError(errors.New("timeout")))
	assert.True(t, IsDisconnectError(os.ErrClosed))
	assert.True(t, IsDisconnectError(errors.New("read /dev/ttyACM0: input/output error")))
}
