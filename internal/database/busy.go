package database

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// IsBusy 是否为 SQLite 忙或锁冲突，稍后可重试
func IsBusy(err error) bool {
	var e sqlite3.Error
	if errors.As(err, &e) {
		return e.Code == sqlite3.ErrBusy || e.Code == sqlite3.ErrLocked
	}
	return false
}
