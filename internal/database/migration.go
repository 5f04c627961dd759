package database

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wfunc/arcom/internal/logger"
	"github.com/wfunc/arcom/internal/models"
	"go.uber.org/zap"
)

// largeTableRows 超过该行数的表只补索引，不做 AutoMigrate
const largeTableRows = 100000

// transferLogIndexes 收发记录表的组合索引
var transferLogIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_transfer_logs_port_created_at ON transfer_logs(port, created_at)",
	"CREATE INDEX IF NOT EXISTS idx_transfer_logs_direction_created_at ON transfer_logs(direction, created_at)",
	"CREATE INDEX IF NOT EXISTS idx_transfer_logs_level ON transfer_logs(level)",
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	// 获取迁移锁，避免多个进程同时迁移
	if dbPath := getDBPath(); dbPath != "" {
		CleanupStaleLocks(filepath.Dir(dbPath))
		lockFile, err := acquireMigrationLock(dbPath)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return fmt.Errorf("获取迁移锁失败: %w", err)
		}
		defer releaseMigrationLock(lockFile)
	}

	logger.Info("开始数据库迁移...")

	migrationModels := []interface{}{
		&models.TransferLog{},
	}
	for _, model := range migrationModels {
		if shouldSkipMigration(model) {
			continue
		}
		if err := DB.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
		logger.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	createIndexes()

	logger.Info("数据库迁移完成")
	return nil
}

// createIndexes 创建数据库索引
func createIndexes() {
	for _, idx := range transferLogIndexes {
		if err := DB.Exec(idx).Error; err != nil && !strings.Contains(err.Error(), "already exists") {
			logger.Warn("创建索引失败", zap.String("index", idx), zap.Error(err))
		}
	}
	logger.Debug("数据库索引创建完成")
}

// shouldSkipMigration 大表已存在时跳过 AutoMigrate，避免 SQLite 重建表
func shouldSkipMigration(model interface{}) bool {
	if DB.Dialector.Name() != "sqlite" || !DB.Migrator().HasTable(model) {
		return false
	}

	var count int64
	if err := DB.Model(model).Count(&count).Error; err != nil {
		return false
	}
	if count > largeTableRows {
		logger.Info("表中数据量较大，跳过AutoMigrate",
			zap.String("model", fmt.Sprintf("%T", model)),
			zap.Int64("count", count))
		return true
	}
	return false
}

// DropAllTables 删除所有表（仅用于测试环境）
func DropAllTables() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	tables, err := DB.Migrator().GetTables()
	if err != nil {
		return err
	}
	for _, table := range tables {
		if err := DB.Migrator().DropTable(table); err != nil {
			logger.Error("删除表失败", zap.String("table", table), zap.Error(err))
			return err
		}
	}

	logger.Info("所有表已删除", zap.Int("count", len(tables)))
	return nil
}
