package repository

import (
	"fmt"
	"time"

	"github.com/wfunc/arcom/internal/models"
	"gorm.io/gorm"
)

// 允许的排序字段
var transferLogOrders = map[string]bool{
	"created_at DESC":  true,
	"created_at ASC":   true,
	"id DESC":          true,
	"id ASC":           true,
	"duration DESC":    true,
	"bytes_count DESC": true,
}

const errorCondition = "error_msg IS NOT NULL AND error_msg != ''"

// TransferLogRepository 收发记录仓库
type TransferLogRepository struct {
	db *gorm.DB
}

// NewTransferLogRepository 创建收发记录仓库
func NewTransferLogRepository(db *gorm.DB) *TransferLogRepository {
	return &TransferLogRepository{
		db: db,
	}
}

// Create 创建记录
func (r *TransferLogRepository) Create(log *models.TransferLog) error {
	return r.db.Create(log).Error
}

// CreateBatch 批量创建记录
func (r *TransferLogRepository) CreateBatch(logs []*models.TransferLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.CreateInBatches(logs, 100).Error
}

// GetByID 根据ID获取记录
func (r *TransferLogRepository) GetByID(id uint) (*models.TransferLog, error) {
	var log models.TransferLog
	if err := r.db.First(&log, id).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// GetByRequestID 根据请求ID获取记录（一次请求的写与读）
func (r *TransferLogRepository) GetByRequestID(requestID string) ([]*models.TransferLog, error) {
	var logs []*models.TransferLog
	err := r.db.Where("request_id = ?", requestID).
		Order("created_at ASC, id ASC").
		Find(&logs).Error
	return logs, err
}

// Query 查询记录
func (r *TransferLogRepository) Query(query *models.TransferLogQuery) ([]*models.TransferLog, int64, error) {
	db := r.db.Model(&models.TransferLog{})

	if query.Direction != "" {
		db = db.Where("direction = ?", query.Direction)
	}
	if query.Port != "" {
		db = db.Where("port = ?", query.Port)
	}
	if query.Tags != "" {
		db = db.Where("tags LIKE ?", "%"+query.Tags+"%")
	}
	if query.RequestID != "" {
		db = db.Where("request_id = ?", query.RequestID)
	}
	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", *query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", *query.EndTime)
	}
	if query.HasError != nil {
		if *query.HasError {
			db = db.Where(errorCondition)
		} else {
			db = db.Where("(error_msg IS NULL OR error_msg = '')")
		}
	}

	// 获取总数
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := query.OrderBy
	if !transferLogOrders[orderBy] {
		orderBy = "created_at DESC"
	}
	db = db.Order(orderBy)

	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	var logs []*models.TransferLog
	if err := db.Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// GetStats 获取统计信息
func (r *TransferLogRepository) GetStats(startTime, endTime *time.Time) (*models.TransferLogStats, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Model(&models.TransferLog{})
		if startTime != nil {
			db = db.Where("created_at >= ?", *startTime)
		}
		if endTime != nil {
			db = db.Where("created_at <= ?", *endTime)
		}
		return db
	}

	stats := &models.TransferLogStats{}
	if err := r.db.Scopes(scope).Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}
	if err := r.db.Scopes(scope).Where("direction = ?", models.DirectionSend).
		Count(&stats.TotalSend).Error; err != nil {
		return nil, err
	}
	stats.TotalReceive = stats.TotalCount - stats.TotalSend

	if err := r.db.Scopes(scope).Where(errorCondition).
		Count(&stats.TotalErrors).Error; err != nil {
		return nil, err
	}

	// 字节统计
	type byteStats struct {
		Direction string
		Total     int64
	}
	var bytes []byteStats
	if err := r.db.Scopes(scope).
		Select("direction, SUM(bytes_count) as total").
		Group("direction").
		Scan(&bytes).Error; err != nil {
		return nil, err
	}
	for _, b := range bytes {
		switch b.Direction {
		case models.DirectionSend:
			stats.BytesSent = b.Total
		case models.DirectionReceive:
			stats.BytesReceived = b.Total
		}
	}

	// 性能统计
	type durationStats struct {
		AvgDuration float64
		MaxDuration int64
		MinDuration int64
	}
	var ds durationStats
	if err := r.db.Scopes(scope).
		Select("AVG(duration) as avg_duration, MAX(duration) as max_duration, MIN(duration) as min_duration").
		Where("duration > 0").
		Scan(&ds).Error; err != nil {
		return nil, err
	}
	stats.AvgDuration = ds.AvgDuration
	stats.MaxDuration = ds.MaxDuration
	stats.MinDuration = ds.MinDuration

	return stats, nil
}

// GetLatest 获取最新的记录
func (r *TransferLogRepository) GetLatest(limit int, direction string) ([]*models.TransferLog, error) {
	var logs []*models.TransferLog
	db := r.db.Order("created_at DESC, id DESC").Limit(limit)
	if direction != "" {
		db = db.Where("direction = ?", direction)
	}
	err := db.Find(&logs).Error
	return logs, err
}

// GetErrorLogs 获取失败的记录
func (r *TransferLogRepository) GetErrorLogs(limit int) ([]*models.TransferLog, error) {
	var logs []*models.TransferLog
	err := r.db.Where(errorCondition).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// DeleteOldLogs 删除旧记录
func (r *TransferLogRepository) DeleteOldLogs(beforeTime time.Time) (int64, error) {
	result := r.db.Unscoped().Where("created_at < ?", beforeTime).Delete(&models.TransferLog{})
	return result.RowsAffected, result.Error
}

// CleanupLogs 清理记录（保留最近N天的数据）
func (r *TransferLogRepository) CleanupLogs(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be greater than 0")
	}
	return r.DeleteOldLogs(time.Now().AddDate(0, 0, -retentionDays))
}
