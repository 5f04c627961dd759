package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/arcom/internal/config"
	"github.com/wfunc/arcom/internal/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func initTestDB(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "data", "arcom.db")
	require.NoError(t, Init(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          dbPath,
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		LogLevel:     "silent",
	}))
	t.Cleanup(func() { Close() })
	return dbPath
}

func TestInitAndMigrate(t *testing.T) {
	dbPath := initTestDB(t)

	assert.FileExists(t, dbPath)
	assert.True(t, IsConnected())
	assert.Equal(t, dbPath, getDBPath())

	require.NoError(t, AutoMigrate())
	assert.True(t, GetDB().Migrator().HasTable(&models.TransferLog{}))
	assert.True(t, GetDB().Migrator().HasIndex(&models.TransferLog{}, "idx_transfer_logs_port_created_at"))
	assert.NoFileExists(t, dbPath+".migration.lock")

	// 重复迁移幂等
	require.NoError(t, AutoMigrate())

	require.NoError(t, GetDB().Create(&models.TransferLog{Direction: models.DirectionSend, Port: "COM3"}).Error)

	var count int64
	GetDB().Model(&models.TransferLog{}).Count(&count)
	assert.Equal(t, int64(1), count)

	require.NoError(t, DropAllTables())
	assert.False(t, GetDB().Migrator().HasTable(&models.TransferLog{}))
}

func TestInitUnsupportedDriver(t *testing.T) {
	err := Init(&config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestNotInitialized(t *testing.T) {
	require.NoError(t, Close())
	assert.False(t, IsConnected())
	assert.Error(t, AutoMigrate())
	assert.Equal(t, DefaultDBPath, getDBPath())
}

func TestMigrationLock(t *testing.T) {
	oldAttempts, oldDelay := lockAttempts, lockRetryDelay
	lockAttempts, lockRetryDelay = 2, 10*time.Millisecond
	defer func() { lockAttempts, lockRetryDelay = oldAttempts, oldDelay }()

	dbPath := filepath.Join(t.TempDir(), "arcom.db")
	lock, err := acquireMigrationLock(dbPath)
	require.NoError(t, err)

	_, err = acquireMigrationLock(dbPath)
	assert.Error(t, err, "锁被占用时应失败")

	releaseMigrationLock(lock)
	assert.NoFileExists(t, dbPath+".migration.lock")

	// 过期锁会被接管
	lockPath := dbPath + ".migration.lock"
	require.NoError(t, os.WriteFile(lockPath, []byte("1\n"), 0644))
	stale := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(lockPath, stale, stale))
	lock, err = acquireMigrationLock(dbPath)
	require.NoError(t, err)
	releaseMigrationLock(lock)
}

func TestCleanupStaleLocks(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "old.lock")
	fresh := filepath.Join(dir, "new.lock")
	require.NoError(t, os.WriteFile(stale, nil, 0644))
	require.NoError(t, os.WriteFile(fresh, nil, 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	CleanupStaleLocks(dir)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, ParseLogLevel("silent"))
	assert.Equal(t, gormlogger.Error, ParseLogLevel("ERROR"))
	assert.Equal(t, gormlogger.Info, ParseLogLevel("info"))
	assert.Equal(t, gormlogger.Warn, ParseLogLevel(""))
}

func TestGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewGormLogger(zap.New(core), gormlogger.Warn)
	fc := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), fc, nil)
	assert.Zero(t, logs.Len(), "warn 级别不记录普通SQL")

	l.Trace(context.Background(), time.Now(), fc, errors.New("boom"))
	l.Trace(context.Background(), time.Now(), fc, gorm.ErrRecordNotFound)
	l.Trace(context.Background(), time.Now().Add(-2*time.Second), fc, nil)
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "SQL执行错误", logs.All()[0].Message)
	assert.Equal(t, "SQL执行缓慢", logs.All()[1].Message)

	info := l.LogMode(gormlogger.Info)
	info.Trace(context.Background(), time.Now(), fc, nil)
	assert.Equal(t, 3, logs.Len())

	silent := l.LogMode(gormlogger.Silent)
	silent.Trace(context.Background(), time.Now(), fc, errors.New("boom"))
	assert.Equal(t, 3, logs.Len())
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, IsBusy(fmt.Errorf("写入失败: %w", sqlite3.Error{Code: sqlite3.ErrLocked})))
	assert.False(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, IsBusy(errors.New("other")))
	assert.False(t, IsBusy(nil))
}
