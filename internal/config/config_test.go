package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
serial:
  driver: bugst
  port: /dev/ttyACM0
  baud_rate: 9600
  read_timeout: 500ms
database:
  driver: sqlite
  dsn: ":memory:"
log:
  level: debug
`

func TestInitFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0o644))

	require.NoError(t, Init(path))
	c := Get()
	require.NotNil(t, c)

	assert.Equal(t, "bugst", c.Serial.Driver)
	assert.Equal(t, "/dev/ttyACM0", c.Serial.Port)
	assert.Equal(t, 9600, c.Serial.BaudRate)
	assert.Equal(t, 500*time.Millisecond, c.Serial.ReadTimeout)
	assert.Equal(t, "debug", c.Log.Level)

	// 未配置的项使用默认值
	assert.Equal(t, 8, c.Serial.DataBits)
	assert.Equal(t, 1<<20, c.Serial.MaxReadBytes)
	assert.Equal(t, 1<<20, c.Serial.MaxWriteBytes)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "/ws/link", c.WebSocket.Path)
	assert.Equal(t, 100, c.TransferLog.BatchSize)
	assert.Equal(t, "0.0.0.0:8080", c.Server.Addr())
	assert.Equal(t, path, ConfigFile())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "有效配置",
			cfg:  Config{Serial: SerialConfig{Enabled: true, Port: "COM3", BaudRate: 115200, Driver: "tarm"}},
		},
		{
			name:    "缺少端口",
			cfg:     Config{Serial: SerialConfig{Enabled: true, BaudRate: 115200}},
			wantErr: true,
		},
		{
			name: "模拟模式不需要端口",
			cfg:  Config{Serial: SerialConfig{Enabled: true, MockMode: true}},
		},
		{
			name:    "读取上限为负",
			cfg:     Config{Serial: SerialConfig{MaxReadBytes: -1}},
			wantErr: true,
		},
		{
			name:    "未知驱动",
			cfg:     Config{Serial: SerialConfig{Driver: "ftdi"}},
			wantErr: true,
		},
		{
			name:    "JWT缺少密钥",
			cfg:     Config{Security: SecurityConfig{JWT: JWTConfig{Enabled: true}}},
			wantErr: true,
		},
		{
			name:    "操作员缺少密码哈希",
			cfg:     Config{Security: SecurityConfig{Operators: []OperatorConfig{{Username: "admin"}}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
