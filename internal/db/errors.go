package db

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Standard error kinds for the db package. Callers classify failures
// with errors.Is against these sentinels; only ErrConnection is worth
// retrying.
var (
	// ErrConnection is returned when a healthy connection could not be
	// obtained or the server became unreachable.
	ErrConnection = errors.New("database connection error")

	// ErrPoolClosed is returned when acquiring from a pool that has
	// been shut down.
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrPoolExhausted is returned when every slot in the pool is
	// checked out.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrSchema is returned when the live database shape does not
	// match what a query needs.
	ErrSchema = errors.New("schema error")

	// ErrQuery is returned for query execution failures.
	ErrQuery = errors.New("query execution failed")
)

type connError struct {
	attempts int
	err      error
}

// ConnectionError wraps err as a connection-class failure observed
// after the given number of acquire attempts.
func ConnectionError(err error, attempts int) error {
	return &connError{attempts: attempts, err: err}
}

func (e *connError) Error() string {
	if e.attempts > 1 {
		return fmt.Sprintf("database connection error after %d attempts: %v", e.attempts, e.err)
	}
	return fmt.Sprintf("database connection error: %v", e.err)
}

func (e *connError) Unwrap() error { return e.err }

func (e *connError) Is(target error) bool { return target == ErrConnection }

type schemaError struct {
	table  string
	column string
	err    error
}

// SchemaError wraps err as a schema failure for table. column may be
// empty when the whole table is at fault.
func SchemaError(err error, table, column string) error {
	return &schemaError{table: table, column: column, err: err}
}

func (e *schemaError) Error() string {
	if e.column != "" {
		return fmt.Sprintf("schema error on %s.%s: %v", e.table, e.column, e.err)
	}
	return fmt.Sprintf("schema error on table %s: %v", e.table, e.err)
}

func (e *schemaError) Unwrap() error { return e.err }

func (e *schemaError) Is(target error) bool { return target == ErrSchema }

type queryError struct {
	template    string
	fingerprint string
	args        []any
	err         error
}

// QueryError wraps err with the statement template and its bound
// parameters. The template never embeds values and never credentials,
// so the error is safe to log as is.
func QueryError(err error, template string, args []any) error {
	return &queryError{
		template:    template,
		fingerprint: QueryFingerprint(template),
		args:        args,
		err:         err,
	}
}

func (e *queryError) Error() string {
	return fmt.Sprintf("query %s failed: %v (template: %s, args: %v)", e.fingerprint, e.err, e.template, e.args)
}

func (e *queryError) Unwrap() error { return e.err }

func (e *queryError) Is(target error) bool { return target == ErrQuery }

// QueryFingerprint returns a stable short identifier for a statement
// template, useful for correlating log lines and metrics.
func QueryFingerprint(template string) string {
	return strconv.FormatUint(xxhash.Sum64String(template), 16)
}

func IsConnectionError(err error) bool { return errors.Is(err, ErrConnection) }

func IsSchemaError(err error) bool { return errors.Is(err, ErrSchema) }

func IsQueryError(err error) bool { return errors.Is(err, ErrQuery) }
