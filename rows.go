package pgwire

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgtype"
)

// Row is an immutable decoded view over one DataRow (or COPY BINARY tuple).
// The column count always equals the field count of the originating
// statement or copy schema. A Row is only valid until the next call to Next
// on the stream that produced it.
type Row struct {
	connInfo *pgtype.ConnInfo
	fields   []FieldDescription
	values   [][]byte
}

func newRow(ci *pgtype.ConnInfo, fields []FieldDescription, values [][]byte) *Row {
	// The transport reuses its read buffer, so the raw values must be copied
	// into memory this row owns.
	owned := make([][]byte, len(values))
	for i, v := range values {
		if v != nil {
			owned[i] = append([]byte(nil), v...)
		}
	}
	return &Row{connInfo: ci, fields: fields, values: owned}
}

// FieldDescriptions returns the column descriptors of the row.
func (r *Row) FieldDescriptions() []FieldDescription {
	return r.fields
}

// Values returns the raw binary-format column values. A nil element is SQL
// NULL.
func (r *Row) Values() [][]byte {
	return r.values
}

// Scan decodes the column values into dest positionally. A nil dest element
// skips that column.
func (r *Row) Scan(dest ...interface{}) error {
	if len(dest) != len(r.fields) {
		return fmt.Errorf("Scan received wrong number of arguments, got %d but expected %d", len(dest), len(r.fields))
	}

	for i, d := range dest {
		if d == nil {
			continue
		}
		if err := r.connInfo.Scan(r.fields[i].DataTypeOID, BinaryFormatCode, r.values[i], d); err != nil {
			return scanArgError{col: i, err: err}
		}
	}

	return nil
}

type scanArgError struct {
	col int
	err error
}

func (e scanArgError) Error() string {
	return fmt.Sprintf("can't scan into dest[%d]: %v", e.col, e.err)
}

func (e scanArgError) Unwrap() error {
	return e.err
}

// RowStream is a lazy cursor over the rows of one query execution. It must
// be closed before the transport can serve another request; it closes itself
// when all rows have been read or a fatal error occurs.
type RowStream struct {
	executor  *Executor
	stmt      *Statement
	responses Responses
	ctx       context.Context

	row      *Row
	rowCount int
	err      error
	closed   bool

	startTime time.Time
	args      []interface{}
}

// Next advances to the next row. It returns false when no more rows are
// available: after the terminal message of the result, after a row limit was
// reached (QueryPortal), or after an error. The stream is closed
// automatically when Next returns false.
func (rs *RowStream) Next() bool {
	if rs.closed {
		return false
	}

	msg, err := rs.responses.Next(rs.ctx)
	if err != nil {
		rs.fatal(err)
		return false
	}

	switch msg := msg.(type) {
	case *pgproto3.DataRow:
		if len(msg.Values) != len(rs.stmt.Fields) {
			rs.fatal(ProtocolError(fmt.Sprintf("statement field count (%d) and data row field count (%d) do not match", len(rs.stmt.Fields), len(msg.Values))))
			return false
		}
		rs.row = newRow(rs.executor.connInfo, rs.stmt.Fields, msg.Values)
		rs.rowCount++
		return true
	case *pgproto3.CommandComplete, *pgproto3.EmptyQueryResponse, *pgproto3.PortalSuspended:
		// PortalSuspended means the row limit was reached with rows left on
		// the server. Only the caller knows whether a limit was requested, so
		// the stream does not distinguish it from completion.
		rs.Close()
		return false
	case *pgproto3.ErrorResponse:
		rs.fatal(errorResponseToPgError(msg))
		return false
	default:
		rs.fatal(unexpectedMessageError(msg, "query execution"))
		return false
	}
}

// Row returns the current row. It is valid until the next call to Next.
func (rs *RowStream) Row() *Row {
	return rs.row
}

// Err returns the error, if any, that terminated the stream.
func (rs *RowStream) Err() error {
	return rs.err
}

// fatal records err and closes the stream, draining any messages still owed
// to this request.
func (rs *RowStream) fatal(err error) {
	if rs.err == nil {
		rs.err = err
	}
	rs.Close()
}

// Close drains and releases the stream, making the transport ready for the
// next request. It is safe to call Close more than once.
func (rs *RowStream) Close() error {
	if rs.closed {
		return nil
	}
	rs.closed = true

	err := rs.responses.Close(rs.ctx)
	if err != nil && rs.err == nil {
		rs.err = err
	}

	e := rs.executor
	if rs.err == nil {
		if e.shouldLog(LogLevelInfo) {
			e.log(rs.ctx, LogLevelInfo, "Query", map[string]interface{}{
				"sql":      rs.stmt.SQL,
				"args":     logQueryArgs(rs.args),
				"time":     time.Since(rs.startTime),
				"rowCount": rs.rowCount,
			})
		}
	} else if e.shouldLog(LogLevelError) {
		e.log(rs.ctx, LogLevelError, "Query", map[string]interface{}{
			"sql":  rs.stmt.SQL,
			"args": logQueryArgs(rs.args),
			"err":  rs.err,
		})
	}

	return err
}
