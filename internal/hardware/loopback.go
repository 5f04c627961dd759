package hardware

import (
	"bytes"
	"os"
	"sync"
	"time"
)

// LoopbackPort 内存回环串口，写入的数据原样可读（用于模拟模式和测试）
type LoopbackPort struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	notify chan struct{}
	closed chan struct{}
	once   sync.Once
	poll   time.Duration
}

// NewLoopbackPort 创建回环串口，poll 为单次读等待时长
func NewLoopbackPort(poll time.Duration) *LoopbackPort {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &LoopbackPort{
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
		poll:   poll,
	}
}

// Read 读取已回环的数据，poll 时长内无数据返回 (0, nil)
func (p *LoopbackPort) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	timer := time.NewTimer(p.poll)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.buf.Len() > 0 {
			n, _ := p.buf.Read(b)
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()

		select {
		case <-p.closed:
			return 0, os.ErrClosed
		case <-p.notify:
		case <-timer.C:
			return 0, nil
		}
	}
}

// Write 写入数据
func (p *LoopbackPort) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, os.ErrClosed
	default:
	}

	p.mu.Lock()
	n, _ := p.buf.Write(b)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return n, nil
}

// Flush 丢弃未读数据
func (p *LoopbackPort) Flush() error {
	p.mu.Lock()
	p.buf.Reset()
	p.mu.Unlock()
	return nil
}

// Buffered 未读字节数
func (p *LoopbackPort) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

// Close 关闭串口
func (p *LoopbackPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
