package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wfunc/arcom/internal/logger"
	"go.uber.org/zap"
)

// DefaultDBPath 默认 SQLite 数据库文件
const DefaultDBPath = "./data/arcom.db"

// 迁移锁参数
var (
	lockAttempts   = 30
	lockRetryDelay = time.Second
	lockStaleAfter = 5 * time.Minute
)

// acquireMigrationLock 获取迁移锁
func acquireMigrationLock(dbPath string) (*os.File, error) {
	lockPath := dbPath + ".migration.lock"

	// 尝试创建锁文件（独占模式）
	for i := 0; i < lockAttempts; i++ {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err == nil {
			fmt.Fprintf(lockFile, "%d\n", os.Getpid())
			logger.Debug("获取迁移锁成功", zap.String("lock", lockPath))
			return lockFile, nil
		}

		// 检查锁文件是否太旧
		if info, err := os.Stat(lockPath); err == nil && time.Since(info.ModTime()) > lockStaleAfter {
			logger.Warn("迁移锁文件过期，尝试删除", zap.String("lock", lockPath))
			os.Remove(lockPath)
			continue
		}

		logger.Debug("等待迁移锁...", zap.Int("attempt", i+1))
		time.Sleep(lockRetryDelay)
	}

	return nil, fmt.Errorf("无法获取迁移锁，可能有其他进程正在执行迁移")
}

// releaseMigrationLock 释放迁移锁
func releaseMigrationLock(lockFile *os.File) {
	if lockFile == nil {
		return
	}

	lockPath := lockFile.Name()
	lockFile.Close()
	os.Remove(lockPath)
	logger.Debug("释放迁移锁", zap.String("lock", lockPath))
}

// getDBPath 当前 SQLite 数据库文件路径，其他数据库返回空
func getDBPath() string {
	if DB == nil {
		return DefaultDBPath
	}

	if DB.Dialector.Name() != "sqlite" {
		return ""
	}
	if sqlDB, err := DB.DB(); err == nil {
		var (
			seq        int
			name, file string
		)
		if err := sqlDB.QueryRow("PRAGMA database_list").Scan(&seq, &name, &file); err == nil {
			// 内存库没有文件，无需加锁
			return file
		}
	}
	return DefaultDBPath
}

// CleanupStaleLocks 清理过期的锁文件
func CleanupStaleLocks(dir string) {
	if dir == "" {
		dir = filepath.Dir(DefaultDBPath)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.lock"))
	for _, lockFile := range matches {
		if info, err := os.Stat(lockFile); err == nil && time.Since(info.ModTime()) > 2*lockStaleAfter {
			logger.Info("清理过期锁文件", zap.String("file", lockFile))
			os.Remove(lockFile)
		}
	}
}
