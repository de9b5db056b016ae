package workflow

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/bsm/redislock"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrBatchBusy means another worker holds the batch; the caller should retry later.
	ErrBatchBusy = errors.New("batch is being grouped by another worker")
	// ErrConcurrentUpdate means a unit's remaining quantity moved under the run.
	ErrConcurrentUpdate = errors.New("inventory unit changed during grouping")
	// ErrMalformedNotification means the trigger payload carries no usable batch id.
	ErrMalformedNotification = errors.New("malformed grouping notification")
	ErrInvalidCeiling        = errors.New("group price ceiling must be positive")
	// ErrUnknownBatch means the trigger names a batch that is not stored.
	ErrUnknownBatch = errors.New("batch does not exist")
)

// StallError reports units that cannot be placed in any group because each one
// alone is priced above the ceiling.
type StallError struct {
	BatchId uuid.UUID
	UnitIds []int
	Ceiling decimal.Decimal
}

func (e *StallError) Error() string {
	ids := make([]string, 0, len(e.UnitIds))
	for _, id := range e.UnitIds {
		ids = append(ids, fmt.Sprint(id))
	}
	return fmt.Sprintf("allocation stalled for batch %s: unit(s) [%s] priced above ceiling %s",
		e.BatchId, strings.Join(ids, ","), e.Ceiling.String())
}

func IsStall(err error) bool {
	var stall *StallError
	return errors.As(err, &stall)
}

// mysql error numbers worth another attempt
var retryableMySQLErrors = map[uint16]bool{
	1040: true, // too many connections
	1205: true, // lock wait timeout
	1213: true, // deadlock
	2006: true, // server has gone away
	2013: true, // lost connection during query
}

// IsRetryable reports whether a failed run may succeed on redelivery.
// Stalls, malformed input and unknown batches never do; unknown errors are
// treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsStall(err) || errors.Is(err, ErrMalformedNotification) || errors.Is(err, ErrInvalidCeiling) ||
		errors.Is(err, ErrUnknownBatch) {
		return false
	}
	return true
}

// IsTransient is narrower than IsRetryable: it recognises infrastructure errors
// known to clear on their own. Used for log fields only.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBatchBusy) || errors.Is(err, ErrConcurrentUpdate) ||
		errors.Is(err, redislock.ErrNotObtained) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqlDriver.ErrInvalidConn) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return retryableMySQLErrors[mysqlErr.Number]
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
