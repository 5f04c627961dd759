package repository

import (
	"time"

	"github.com/wfunc/arcom/internal/models"
)

// TransferLogStore 收发记录存储接口
type TransferLogStore interface {
	Create(log *models.TransferLog) error
	CreateBatch(logs []*models.TransferLog) error
	GetByID(id uint) (*models.TransferLog, error)
	GetByRequestID(requestID string) ([]*models.TransferLog, error)
	Query(query *models.TransferLogQuery) ([]*models.TransferLog, int64, error)
	GetStats(startTime, endTime *time.Time) (*models.TransferLogStats, error)
	GetLatest(limit int, direction string) ([]*models.TransferLog, error)
	GetErrorLogs(limit int) ([]*models.TransferLog, error)
	CleanupLogs(retentionDays int) (int64, error)
}

var _ TransferLogStore = (*TransferLogRepository)(nil)

// Pagination 分页参数
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// NewPagination 创建分页参数
func NewPagination(page, pageSize int) *Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return &Pagination{
		Page:     page,
		PageSize: pageSize,
	}
}

// Offset 计算偏移量
func (p *Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Apply 写入查询参数的分页字段
func (p *Pagination) Apply(q *models.TransferLogQuery) {
	q.Limit = p.PageSize
	q.Offset = p.Offset()
}
