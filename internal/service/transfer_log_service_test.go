package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/arcom/internal/arcom"
	"github.com/wfunc/arcom/internal/config"
	apperrors "github.com/wfunc/arcom/internal/errors"
	"github.com/wfunc/arcom/internal/hardware"
	"github.com/wfunc/arcom/internal/models"
	"github.com/wfunc/arcom/internal/repository"
	"gorm.io/gorm"
)

// MockTransferLogStore 模拟收发记录存储
type MockTransferLogStore struct {
	mock.Mock
	repository.TransferLogStore
}

func (m *MockTransferLogStore) CreateBatch(logs []*models.TransferLog) error {
	args := m.Called(len(logs))
	return args.Error(0)
}

// TransferLogServiceTestSuite 收发记录服务测试套件
type TransferLogServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	service *TransferLogService
}

func (s *TransferLogServiceTestSuite) SetupTest() {
	s.db = repository.SetupTestDB()
	s.service = NewTransferLogService(repository.NewTransferLogRepository(s.db), config.TransferLogConfig{
		Enabled:       true,
		BufferSize:    100,
		BatchSize:     10,
		FlushInterval: time.Hour,
		MaxHexBytes:   4,
		RetentionDays: 30,
	})
}

func (s *TransferLogServiceTestSuite) TearDownTest() {
	s.service.Close()
	repository.CleanupTestDB(s.db)
}

func (s *TransferLogServiceTestSuite) TestOnTransfer() {
	s.service.OnTransfer(&arcom.Transfer{
		Direction: arcom.DirectionSend,
		Port:      "COM3",
		Tags:      "uint16x2",
		Segments:  1,
		Bytes:     4,
		Data:      []byte{0x05, 0x00, 0x05, 0x00},
		Values:    [][]int64{{5, 5}},
		Duration:  3 * time.Millisecond,
		Time:      time.Now(),
		RequestID: "req-1",
	})
	s.service.Flush()

	logs, err := s.service.GetByRequestID("req-1")
	s.Require().NoError(err)
	s.Require().Len(logs, 1)
	log := logs[0]
	s.Equal(models.DirectionSend, log.Direction)
	s.Equal("COM3", log.Port)
	s.Equal("uint16x2", log.Tags)
	s.Equal(4, log.BytesCount)
	s.Equal("05000500", log.HexData)
	s.False(log.Truncated)
	s.Equal(models.JSONValues{{5, 5}}, log.Values)
	s.Equal(int64(3), log.Duration)
	s.Equal(s.service.SessionID(), log.SessionID)
	s.Equal(models.TransferLogLevelInfo, log.Level)
}

func (s *TransferLogServiceTestSuite) TestTruncateHex() {
	s.service.OnTransfer(&arcom.Transfer{
		Direction: arcom.DirectionReceive,
		Port:      "COM3",
		Tags:      "uint32x2",
		Bytes:     8,
		Data:      []byte{0xf4, 0x01, 0, 0, 0xf4, 0x01, 0, 0},
		Values:    [][]int64{{500, 500}},
		RequestID: "req-big",
	})
	s.service.Flush()

	logs, err := s.service.GetByRequestID("req-big")
	s.Require().NoError(err)
	s.Require().Len(logs, 1)
	s.Equal("f4010000", logs[0].HexData)
	s.True(logs[0].Truncated)
	s.Nil(logs[0].Values)
	s.Equal(8, logs[0].BytesCount)
}

func (s *TransferLogServiceTestSuite) TestSentValuesSurviveBufferReuse() {
	conn := arcom.NewConn(hardware.NewLoopbackPort(10*time.Millisecond),
		arcom.WithName("COM3"), arcom.WithObserver(s.service))
	defer conn.Close()

	buf := []int64{1, 2, 3}
	ctx := arcom.WithRequestID(context.Background(), "req-reuse")
	s.Require().NoError(conn.Write(ctx, arcom.Uint8(buf...)))
	buf[0], buf[1], buf[2] = 9, 9, 9
	s.service.Flush()

	logs, err := s.service.GetByRequestID("req-reuse")
	s.Require().NoError(err)
	s.Require().Len(logs, 1)
	s.Equal(models.JSONValues{{1, 2, 3}}, logs[0].Values)
}

func (s *TransferLogServiceTestSuite) TestErrorTransfer() {
	s.service.OnTransfer(&arcom.Transfer{
		Direction: arcom.DirectionReceive,
		Port:      "COM3",
		Tags:      "uint8x4",
		Bytes:     1,
		Data:      []byte{1},
		Err:       apperrors.Wrap(arcom.ErrTimeout, apperrors.ErrSerialTimeout),
		RequestID: "req-err",
	})
	s.service.Flush()

	logs, err := s.service.GetErrorLogs(10)
	s.Require().NoError(err)
	s.Require().Len(logs, 1)
	s.Equal(int(apperrors.ErrSerialTimeout), logs[0].ErrorCode)
	s.Equal(models.TransferLogLevelError, logs[0].Level)
	s.NotEmpty(logs[0].ErrorMsg)

	stats, err := s.service.GetStats(nil, nil)
	s.Require().NoError(err)
	s.Equal(int64(1), stats.TotalErrors)
}

func (s *TransferLogServiceTestSuite) TestBatchFlush() {
	// 达到批量大小时无需等待定时器
	for i := 0; i < 10; i++ {
		s.service.OnTransfer(&arcom.Transfer{Direction: arcom.DirectionSend, Port: "COM3", Tags: "uint8x1", Bytes: 1, Data: []byte{byte(i)}})
	}
	s.Eventually(func() bool {
		logs, total, err := s.service.Query(&models.TransferLogQuery{Port: "COM3"})
		return err == nil && total == 10 && len(logs) == 10
	}, 2*time.Second, 10*time.Millisecond)

	latest, err := s.service.GetLatestLogs(3, models.DirectionSend)
	s.Require().NoError(err)
	s.Len(latest, 3)

	data, err := s.service.ExportLogs(&models.TransferLogQuery{Limit: 2})
	s.Require().NoError(err)
	s.Contains(string(data), "uint8x1")
}

func (s *TransferLogServiceTestSuite) TestCloseFlushesPending() {
	s.service.OnTransfer(&arcom.Transfer{Direction: arcom.DirectionSend, Port: "COM5", Tags: "int8x1", Bytes: 1, Data: []byte{0xff}})
	s.service.Close()
	// 重复关闭与关闭后 Flush 均立即返回
	s.service.Close()
	s.service.Flush()

	_, total, err := s.service.Query(&models.TransferLogQuery{Port: "COM5"})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
}

func (s *TransferLogServiceTestSuite) TestCleanupOldLogs() {
	old := &models.TransferLog{Direction: models.DirectionSend, Port: "COM3", CreatedAt: time.Now().AddDate(0, 0, -31)}
	s.Require().NoError(repository.NewTransferLogRepository(s.db).Create(old))

	deleted, err := s.service.CleanupOldLogs(0)
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)
}

func TestTransferLogServiceSuite(t *testing.T) {
	suite.Run(t, new(TransferLogServiceTestSuite))
}

func TestTransferLogServiceStoreError(t *testing.T) {
	store := new(MockTransferLogStore)
	store.On("CreateBatch", 1).Return(errors.New("disk full")).Once()

	svc := NewTransferLogService(store, config.TransferLogConfig{FlushInterval: time.Hour})
	svc.OnTransfer(&arcom.Transfer{Direction: arcom.DirectionSend, Port: "COM3"})
	svc.Close()

	store.AssertExpectations(t)
	assert.Zero(t, svc.Dropped())
}

func TestGenerateRequestID(t *testing.T) {
	store := new(MockTransferLogStore)
	svc := NewTransferLogService(store, config.TransferLogConfig{})
	defer svc.Close()

	a, b := svc.GenerateRequestID(), svc.GenerateRequestID()
	require.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
