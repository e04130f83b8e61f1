package internal

import (
	"database/sql/driver"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// IsDeadlock returns true if the given error indicates that we
// found a deadlock.
func IsDeadlock(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	// Error 1213: Deadlock found when trying to get lock; try restarting transaction
	return me.Number == 1213
}

// IsLockWaitTimeout returns true if the given error indicates that a
// lock could not be acquired in time.
func IsLockWaitTimeout(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	// Error 1205: Lock wait timeout exceeded; try restarting transaction
	return me.Number == 1205
}

// IsRetryable returns true for errors that usually go away when the
// statement is repeated: deadlocks, lock wait timeouts and broken
// connections.
func IsRetryable(err error) bool {
	return IsDeadlock(err) ||
		IsLockWaitTimeout(err) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn)
}
