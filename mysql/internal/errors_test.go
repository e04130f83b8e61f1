package internal

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		Err       error
		Retryable bool
	}{
		{nil, false},
		{errors.New("kaboom"), false},
		{&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, false},
		{&mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, true},
		{&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, true},
		{fmt.Errorf("query: %w", &mysql.MySQLError{Number: 1213}), true},
		{driver.ErrBadConn, true},
		{mysql.ErrInvalidConn, true},
	}
	for i, test := range tests {
		if want, have := test.Retryable, IsRetryable(test.Err); want != have {
			t.Fatalf("#%d: IsRetryable(%v): want %v, have %v", i, test.Err, want, have)
		}
	}
}
