package arcom

import (
	"context"
	"encoding/hex"
	"time"
)

type requestIDKey struct{}

// WithRequestID 在 context 中附带请求ID，出现在对应的收发记录里
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext 取出请求ID
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Direction 传输方向
type Direction string

const (
	DirectionSend    Direction = "SEND"
	DirectionReceive Direction = "RECEIVE"
)

// Transfer 一次 Write 或 Read 的记录
type Transfer struct {
	Direction Direction     `json:"direction"`
	Port      string        `json:"port"`
	Tags      string        `json:"tags"`
	Segments  int           `json:"segments"`
	Bytes     int           `json:"bytes"`
	Data      []byte        `json:"-"`
	Values    [][]int64     `json:"values,omitempty"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
	Time      time.Time     `json:"time"`
	RequestID string        `json:"request_id,omitempty"`
}

// Hex 数据的十六进制表示，limit>0 时截断
func (t *Transfer) Hex(limit int) string {
	data := t.Data
	if limit > 0 && len(data) > limit {
		data = data[:limit]
	}
	return hex.EncodeToString(data)
}

// Error 错误描述
func (t *Transfer) Error() string {
	if t.Err == nil {
		return ""
	}
	return t.Err.Error()
}

// Observer 收发观察者
type Observer interface {
	OnTransfer(t *Transfer)
}

// ObserverFunc 函数形式的观察者
type ObserverFunc func(t *Transfer)

// OnTransfer 实现 Observer
func (f ObserverFunc) OnTransfer(t *Transfer) { f(t) }

// MultiObserver 依次通知多个观察者
type MultiObserver []Observer

// OnTransfer 实现 Observer
func (m MultiObserver) OnTransfer(t *Transfer) {
	for _, o := range m {
		if o != nil {
			o.OnTransfer(t)
		}
	}
}
