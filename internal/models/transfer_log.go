package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// 传输方向
const (
	DirectionSend    = "SEND"
	DirectionReceive = "RECEIVE"
)

// TransferLogLevel 日志级别
type TransferLogLevel string

const (
	TransferLogLevelInfo  TransferLogLevel = "INFO"
	TransferLogLevelError TransferLogLevel = "ERROR"
)

// JSONValues 以 JSON 存储的数值段
type JSONValues [][]int64

// Value 实现 driver.Valuer 接口
func (j JSONValues) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口
func (j *JSONValues) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONValues source %T", value)
	}
	if len(data) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(data, j)
}

// TransferLog 串口收发记录
type TransferLog struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `gorm:"index;not null" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Direction string           `gorm:"type:varchar(10);index;not null" json:"direction"` // SEND/RECEIVE
	Port      string           `gorm:"type:varchar(100);index" json:"port"`
	Level     TransferLogLevel `gorm:"type:varchar(10);default:INFO" json:"level"`

	// 数据内容
	Tags       string     `gorm:"type:varchar(255);index" json:"tags"` // 如 uint16x100,uint32x100
	Segments   int        `gorm:"default:0" json:"segments"`
	BytesCount int        `gorm:"default:0" json:"bytes_count"`
	HexData    string     `gorm:"type:text" json:"hex_data,omitempty"`
	Truncated  bool       `gorm:"default:false" json:"truncated,omitempty"`
	Values     JSONValues `gorm:"column:decoded_values;type:text" json:"values,omitempty"`

	ErrorCode int    `gorm:"index" json:"error_code,omitempty"`
	ErrorMsg  string `gorm:"type:text" json:"error_msg,omitempty"`

	// 关联信息
	RequestID string `gorm:"type:varchar(100);index" json:"request_id,omitempty"`
	SessionID string `gorm:"type:varchar(100);index" json:"session_id,omitempty"`

	Duration  int64 `gorm:"default:0" json:"duration"` // 毫秒
	Timestamp int64 `gorm:"index" json:"timestamp"`    // Unix毫秒
}

// TableName 指定表名
func (TransferLog) TableName() string {
	return "transfer_logs"
}

// BeforeCreate 创建前的钩子
func (t *TransferLog) BeforeCreate(tx *gorm.DB) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Timestamp == 0 {
		t.Timestamp = t.CreatedAt.UnixMilli()
	}
	if t.Level == "" {
		t.Level = TransferLogLevelInfo
		if t.ErrorMsg != "" {
			t.Level = TransferLogLevelError
		}
	}
	return nil
}

// TransferLogQuery 查询参数
type TransferLogQuery struct {
	Direction string     `json:"direction,omitempty" form:"direction"`
	Port      string     `json:"port,omitempty" form:"port"`
	Tags      string     `json:"tags,omitempty" form:"tags"`
	RequestID string     `json:"request_id,omitempty" form:"request_id"`
	SessionID string     `json:"session_id,omitempty" form:"session_id"`
	StartTime *time.Time `json:"start_time,omitempty" form:"start_time" time_format:"2006-01-02T15:04:05Z07:00"`
	EndTime   *time.Time `json:"end_time,omitempty" form:"end_time" time_format:"2006-01-02T15:04:05Z07:00"`
	HasError  *bool      `json:"has_error,omitempty" form:"has_error"`
	Limit     int        `json:"limit,omitempty" form:"limit"`
	Offset    int        `json:"offset,omitempty" form:"offset"`
	OrderBy   string     `json:"order_by,omitempty" form:"order_by"`
}

// TransferLogStats 统计信息
type TransferLogStats struct {
	TotalCount    int64   `json:"total_count"`
	TotalSend     int64   `json:"total_send"`
	TotalReceive  int64   `json:"total_receive"`
	TotalErrors   int64   `json:"total_errors"`
	BytesSent     int64   `json:"bytes_sent"`
	BytesReceived int64   `json:"bytes_received"`
	AvgDuration   float64 `json:"avg_duration"`
	MaxDuration   int64   `json:"max_duration"`
	MinDuration   int64   `json:"min_duration"`
}
