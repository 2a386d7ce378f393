package pgwire

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgio"
	"github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgtype"
)

// copyHeader is the COPY BINARY signature: "PGCOPY\n\377\r\n\0".
var copyHeader = []byte("PGCOPY\n\377\r\n\000")

// copyBufferSize is the flush threshold of the copy writer. A chunk is
// yielded once the buffer grows past it, bounding steady-state memory while
// allowing a single oversized field to exceed it.
const copyBufferSize = 65536

// CopySource supplies the rows for a binary COPY. Implementations are driven
// row by row so arbitrarily large row sets never need to fit in memory.
type CopySource interface {
	// Next returns true if there is another row and makes the next row data
	// available to Values(). When there are no more rows available or an
	// error has occurred it returns false.
	Next() bool

	// Values returns the values for the current row.
	Values() ([]interface{}, error)

	// Err returns any error that has been encountered by the CopySource. If
	// this is not nil the copy is aborted.
	Err() error
}

// CopyRows returns a CopySource over the provided rows slice.
func CopyRows(rows [][]interface{}) CopySource {
	return &copyRows{rows: rows, idx: -1}
}

type copyRows struct {
	rows [][]interface{}
	idx  int
}

func (cr *copyRows) Next() bool {
	cr.idx++
	return cr.idx < len(cr.rows)
}

func (cr *copyRows) Values() ([]interface{}, error) {
	return cr.rows[cr.idx], nil
}

func (cr *copyRows) Err() error {
	return nil
}

// CopyWriter encodes rows from a CopySource into COPY BINARY framed chunks:
// the stream header once, then per row a 2-byte field count and
// length-prefixed field values, then the 2-byte terminator. Each yielded
// chunk is a suspension point where the consumer may apply back-pressure
// before more rows are encoded.
//
//	w := pgwire.NewCopyWriter(ci, schema, src)
//	for w.Next() {
//		send(w.Chunk())
//	}
//	if w.Err() != nil { ... }
type CopyWriter struct {
	connInfo *pgtype.ConnInfo
	schema   []uint32
	src      CopySource

	buf      []byte
	started  bool
	finished bool
	err      error
	rowCount int
}

// NewCopyWriter returns a CopyWriter encoding rows of the given column types.
func NewCopyWriter(ci *pgtype.ConnInfo, schema []uint32, src CopySource) *CopyWriter {
	return &CopyWriter{
		connInfo: ci,
		schema:   schema,
		src:      src,
		buf:      make([]byte, 0, copyBufferSize+1024),
	}
}

// Next encodes rows until a chunk is ready or the source is exhausted. It
// returns true if Chunk holds data to send and false once the stream is
// fully encoded or an error occurred.
func (w *CopyWriter) Next() bool {
	if w.err != nil || w.finished {
		return false
	}

	w.buf = w.buf[:0]

	if !w.started {
		w.buf = append(w.buf, copyHeader...)
		w.buf = pgio.AppendInt32(w.buf, 0) // flags
		w.buf = pgio.AppendInt32(w.buf, 0) // header extension length
		w.started = true
	}

	for len(w.buf) <= copyBufferSize {
		if !w.src.Next() {
			if err := w.src.Err(); err != nil {
				w.err = err
				return false
			}
			w.buf = pgio.AppendInt16(w.buf, -1) // terminate the copy stream
			w.finished = true
			break
		}

		values, err := w.src.Values()
		if err != nil {
			w.err = err
			return false
		}
		if len(values) != len(w.schema) {
			panic(fmt.Sprintf("copy row has %d values, schema has %d columns", len(values), len(w.schema)))
		}

		w.buf = pgio.AppendInt16(w.buf, int16(len(w.schema)))
		for i, val := range values {
			w.buf, err = appendLengthPrefixedValue(w.connInfo, w.buf, w.schema[i], val)
			if err != nil {
				w.err = &EncodeArgError{Index: i, Err: err}
				return false
			}
		}
		w.rowCount++
	}

	return true
}

// Chunk returns the current chunk. It is valid until the next call to Next.
func (w *CopyWriter) Chunk() []byte {
	return w.buf
}

// Err returns the error, if any, that aborted the copy encoding.
func (w *CopyWriter) Err() error {
	return w.err
}

// RowCount returns the number of rows encoded so far.
func (w *CopyWriter) RowCount() int {
	return w.rowCount
}

// CopyIn executes sql, which must be a COPY ... FROM STDIN BINARY command,
// streaming the source rows to the server. It returns the server's command
// tag, whose RowsAffected is the number of rows copied.
func (e *Executor) CopyIn(ctx context.Context, sql string, schema []uint32, src CopySource) (CommandTag, error) {
	startTime := time.Now()

	commandTag, err := e.copyIn(ctx, sql, schema, src)

	if err == nil {
		if e.shouldLog(LogLevelInfo) {
			e.log(ctx, LogLevelInfo, "CopyIn", map[string]interface{}{
				"sql":      sql,
				"time":     time.Since(startTime),
				"rowCount": commandTag.RowsAffected(),
			})
		}
	} else if e.shouldLog(LogLevelError) {
		e.log(ctx, LogLevelError, "CopyIn", map[string]interface{}{"sql": sql, "err": err})
	}

	return commandTag, err
}

func (e *Executor) copyIn(ctx context.Context, sql string, schema []uint32, src CopySource) (CommandTag, error) {
	buf := (&pgproto3.Query{String: sql}).Encode(e.wbuf[:0])
	e.wbuf = buf

	responses, err := e.transport.Submit(ctx, buf)
	if err != nil {
		return "", err
	}

	msg, err := responses.Next(ctx)
	if err != nil {
		responses.Close(ctx)
		return "", err
	}
	switch msg := msg.(type) {
	case *pgproto3.CopyInResponse:
	case *pgproto3.ErrorResponse:
		responses.Close(ctx)
		return "", errorResponseToPgError(msg)
	default:
		responses.Close(ctx)
		return "", unexpectedMessageError(msg, "copy in")
	}

	w := NewCopyWriter(e.connInfo, schema, src)
	for w.Next() {
		data := (&pgproto3.CopyData{Data: w.Chunk()}).Encode(nil)
		if err := e.transport.Send(ctx, data); err != nil {
			responses.Close(ctx)
			return "", err
		}
	}

	if werr := w.Err(); werr != nil {
		// Tell the server the copy failed so it aborts cleanly, then drain
		// its ErrorResponse.
		fail := (&pgproto3.CopyFail{Message: werr.Error()}).Encode(nil)
		if err := e.transport.Send(ctx, fail); err != nil {
			responses.Close(ctx)
			return "", werr
		}
		responses.Close(ctx)
		return "", werr
	}

	done := (&pgproto3.CopyDone{}).Encode(nil)
	if err := e.transport.Send(ctx, done); err != nil {
		responses.Close(ctx)
		return "", err
	}

	var commandTag CommandTag
	for {
		msg, err := responses.Next(ctx)
		if err != nil {
			responses.Close(ctx)
			return "", err
		}

		switch msg := msg.(type) {
		case *pgproto3.CommandComplete:
			commandTag = CommandTag(msg.CommandTag)
			return commandTag, responses.Close(ctx)
		case *pgproto3.ErrorResponse:
			responses.Close(ctx)
			return "", errorResponseToPgError(msg)
		default:
			responses.Close(ctx)
			return "", unexpectedMessageError(msg, "copy in")
		}
	}
}
