package service

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/arcom/internal/arcom"
	"github.com/wfunc/arcom/internal/config"
	"github.com/wfunc/arcom/internal/database"
	apperrors "github.com/wfunc/arcom/internal/errors"
	"github.com/wfunc/arcom/internal/logger"
	"github.com/wfunc/arcom/internal/models"
	"github.com/wfunc/arcom/internal/repository"
	"go.uber.org/zap"
)

// SQLite 忙时的重试
const (
	busyRetries    = 3
	busyRetryDelay = 50 * time.Millisecond
)

// TransferLogService 收发记录服务
//
// 作为 arcom.Observer 挂到连接上，记录先进入缓冲通道，由后台协程批量写库。
type TransferLogService struct {
	repo      repository.TransferLogStore
	cfg       config.TransferLogConfig
	logger    *zap.Logger
	mu        sync.Mutex
	buffer    []*models.TransferLog
	bufferCh  chan *models.TransferLog
	flushCh   chan chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	sessionID string
	dropped   atomic.Uint64
}

var _ arcom.Observer = (*TransferLogService)(nil)

// NewTransferLogService 创建收发记录服务
func NewTransferLogService(repo repository.TransferLogStore, cfg config.TransferLogConfig) *TransferLogService {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	service := &TransferLogService{
		repo:      repo,
		cfg:       cfg,
		logger:    logger.WithModule("transfer_log"),
		buffer:    make([]*models.TransferLog, 0, cfg.BatchSize),
		bufferCh:  make(chan *models.TransferLog, cfg.BufferSize),
		flushCh:   make(chan chan struct{}),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		sessionID: uuid.New().String(),
	}

	// 启动后台写入协程
	go service.backgroundWriter()

	return service
}

// SessionID 本次进程的会话ID
func (s *TransferLogService) SessionID() string {
	return s.sessionID
}

// Dropped 因缓冲区满丢弃的记录数
func (s *TransferLogService) Dropped() uint64 {
	return s.dropped.Load()
}

// backgroundWriter 后台写入协程
func (s *TransferLogService) backgroundWriter() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	var cleanup <-chan time.Time
	if s.cfg.RetentionDays > 0 {
		t := time.NewTicker(24 * time.Hour)
		defer t.Stop()
		cleanup = t.C
	}

	for {
		select {
		case log := <-s.bufferCh:
			s.mu.Lock()
			s.buffer = append(s.buffer, log)
			// 缓冲区满了立即写入
			if len(s.buffer) >= s.cfg.BatchSize {
				s.flushBuffer()
			}
			s.mu.Unlock()

		case ack := <-s.flushCh:
			s.drain()
			close(ack)

		case <-ticker.C:
			s.mu.Lock()
			s.flushBuffer()
			s.mu.Unlock()

		case <-cleanup:
			if n, err := s.repo.CleanupLogs(s.cfg.RetentionDays); err != nil {
				s.logger.Error("清理收发记录失败", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("清理过期收发记录", zap.Int64("count", n))
			}

		case <-s.stopCh:
			// 退出前写入剩余的记录
			s.drain()
			return
		}
	}
}

// drain 取空通道并写库
func (s *TransferLogService) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case log := <-s.bufferCh:
			s.buffer = append(s.buffer, log)
		default:
			s.flushBuffer()
			return
		}
	}
}

// flushBuffer 写入缓冲区的记录到数据库
func (s *TransferLogService) flushBuffer() {
	if len(s.buffer) == 0 {
		return
	}

	start := time.Now()
	err := s.repo.CreateBatch(s.buffer)
	for i := 0; err != nil && database.IsBusy(err) && i < busyRetries; i++ {
		time.Sleep(busyRetryDelay)
		err = s.repo.CreateBatch(s.buffer)
	}
	logger.LogDatabaseOperation("create_batch", models.TransferLog{}.TableName(), time.Since(start), err)
	if err != nil {
		s.logger.Error("批量写入收发记录失败", zap.Error(err), zap.Int("count", len(s.buffer)))
	}

	// 清空缓冲区
	s.buffer = s.buffer[:0]
}

// OnTransfer 实现 arcom.Observer
func (s *TransferLogService) OnTransfer(t *arcom.Transfer) {
	log := s.newLog(t)

	// 异步写入
	select {
	case s.bufferCh <- log:
	default:
		s.dropped.Add(1)
		s.logger.Warn("收发记录缓冲区满，丢弃记录", zap.String("tags", log.Tags))
	}
}

func (s *TransferLogService) newLog(t *arcom.Transfer) *models.TransferLog {
	log := &models.TransferLog{
		Direction:  string(t.Direction),
		Port:       t.Port,
		Tags:       t.Tags,
		Segments:   t.Segments,
		BytesCount: t.Bytes,
		HexData:    t.Hex(s.cfg.MaxHexBytes),
		Truncated:  s.cfg.MaxHexBytes > 0 && len(t.Data) > s.cfg.MaxHexBytes,
		Values:     models.JSONValues(t.Values),
		ErrorMsg:   t.Error(),
		RequestID:  t.RequestID,
		SessionID:  s.sessionID,
		Duration:   t.Duration.Milliseconds(),
		CreatedAt:  t.Time,
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	log.Timestamp = log.CreatedAt.UnixMilli()

	// 截断时不保存数值
	if log.Truncated {
		log.Values = nil
	}
	if t.Err != nil {
		log.Level = models.TransferLogLevelError
		log.ErrorCode = int(apperrors.GetCode(t.Err))
	}
	return log
}

// Flush 等待已提交的记录写库
func (s *TransferLogService) Flush() {
	ack := make(chan struct{})
	select {
	case s.flushCh <- ack:
		<-ack
	case <-s.doneCh:
	}
}

// Query 查询记录
func (s *TransferLogService) Query(query *models.TransferLogQuery) ([]*models.TransferLog, int64, error) {
	return s.repo.Query(query)
}

// GetByID 按ID获取记录
func (s *TransferLogService) GetByID(id uint) (*models.TransferLog, error) {
	return s.repo.GetByID(id)
}

// GetByRequestID 获取同一请求的全部收发记录
func (s *TransferLogService) GetByRequestID(requestID string) ([]*models.TransferLog, error) {
	return s.repo.GetByRequestID(requestID)
}

// GetStats 获取统计信息
func (s *TransferLogService) GetStats(startTime, endTime *time.Time) (*models.TransferLogStats, error) {
	return s.repo.GetStats(startTime, endTime)
}

// GetLatestLogs 获取最新的记录
func (s *TransferLogService) GetLatestLogs(limit int, direction string) ([]*models.TransferLog, error) {
	return s.repo.GetLatest(limit, direction)
}

// GetErrorLogs 获取错误记录
func (s *TransferLogService) GetErrorLogs(limit int) ([]*models.TransferLog, error) {
	return s.repo.GetErrorLogs(limit)
}

// CleanupOldLogs 清理旧记录
func (s *TransferLogService) CleanupOldLogs(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = s.cfg.RetentionDays
	}
	return s.repo.CleanupLogs(retentionDays)
}

// ExportLogs 导出记录为JSON格式
func (s *TransferLogService) ExportLogs(query *models.TransferLogQuery) ([]byte, error) {
	logs, _, err := s.Query(query)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(logs, "", "  ")
}

// GenerateRequestID 生成请求ID
func (s *TransferLogService) GenerateRequestID() string {
	return uuid.New().String()
}

// Close 关闭服务，剩余记录写库后返回
func (s *TransferLogService) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}
