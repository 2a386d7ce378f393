package pgwire

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgtype"
)

// ChunkSource yields the raw byte chunks of a COPY BINARY stream, e.g. the
// CopyData payloads received from the server. Chunk boundaries carry no
// meaning; a tuple, a field, or even a length word may be split across
// chunks. NextChunk returns io.EOF when the producer has no more chunks.
type ChunkSource interface {
	NextChunk() ([]byte, error)
}

// CopyReader decodes a COPY BINARY stream into rows, reassembling tuples that
// span chunk boundaries. It validates the stream header before the first row
// and stops cleanly at the -1 terminator.
//
//	r := pgwire.NewCopyReader(ci, schema, src)
//	for r.Next() {
//		r.Row().Scan(...)
//	}
//	if r.Err() != nil { ... }
type CopyReader struct {
	connInfo *pgtype.ConnInfo
	schema   []uint32
	fields   []FieldDescription
	src      ChunkSource

	buf      []byte
	pos      int
	headerOK bool
	done     bool
	err      error

	row      *Row
	rowCount int
}

// NewCopyReader returns a CopyReader decoding rows of the given column types.
func NewCopyReader(ci *pgtype.ConnInfo, schema []uint32, src ChunkSource) *CopyReader {
	fields := make([]FieldDescription, len(schema))
	for i, oid := range schema {
		fields[i] = FieldDescription{DataTypeOID: oid}
	}

	return &CopyReader{
		connInfo: ci,
		schema:   schema,
		fields:   fields,
		src:      src,
	}
}

// Next advances to the next row, pulling chunks from the source as needed. It
// returns false after the stream terminator, or when an error occurs.
func (r *CopyReader) Next() bool {
	if r.err != nil || r.done {
		return false
	}

	for {
		if !r.headerOK {
			ok, err := r.parseHeader()
			if err != nil {
				return r.fail(err)
			}
			if !ok {
				if !r.fill() {
					return false
				}
				continue
			}
		}

		values, trailer, ok, err := r.parseTuple()
		if err != nil {
			return r.fail(err)
		}
		if !ok {
			if !r.fill() {
				return false
			}
			continue
		}
		if trailer {
			r.done = true
			return false
		}

		r.row = newRow(r.connInfo, r.fields, values)
		r.rowCount++
		return true
	}
}

// Row returns the current row. It is valid until the next call to Next.
func (r *CopyReader) Row() *Row {
	return r.row
}

// Err returns the error, if any, that terminated the stream.
func (r *CopyReader) Err() error {
	return r.err
}

// RowCount returns the number of rows decoded so far.
func (r *CopyReader) RowCount() int {
	return r.rowCount
}

// Close releases the reader. If the chunk source holds resources (such as the
// remaining server responses of a COPY TO) they are released as well.
func (r *CopyReader) Close() error {
	r.done = true
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (r *CopyReader) fail(err error) bool {
	if r.err == nil {
		r.err = err
	}
	r.Close()
	return false
}

// fill compacts the consumed prefix of the buffer and appends the next chunk.
// It returns false when no more chunks are available, recording the error.
func (r *CopyReader) fill() bool {
	if r.pos > 0 {
		n := copy(r.buf, r.buf[r.pos:])
		r.buf = r.buf[:n]
		r.pos = 0
	}

	chunk, err := r.src.NextChunk()
	if err != nil {
		if err == io.EOF {
			err = ProtocolError("copy binary stream ended before terminator")
		}
		return r.fail(err)
	}

	r.buf = append(r.buf, chunk...)
	return true
}

// parseHeader consumes the 19-byte header. It returns ok=false when the
// buffer does not yet hold the complete header. Any header extension marks
// the stream as coming from an incompatible producer, so a nonzero extension
// length is fatal rather than skipped.
func (r *CopyReader) parseHeader() (bool, error) {
	data := r.buf[r.pos:]
	if len(data) < 19 {
		return false, nil
	}

	if !bytes.Equal(data[:11], copyHeader) {
		return false, ProtocolError("invalid copy binary signature")
	}

	flags := int32(binary.BigEndian.Uint32(data[11:]))
	if flags != 0 {
		return false, ProtocolError(fmt.Sprintf("unexpected copy binary flags: %d", flags))
	}

	extLen := int32(binary.BigEndian.Uint32(data[15:]))
	if extLen != 0 {
		return false, ProtocolError(fmt.Sprintf("unexpected copy binary header extension length: %d", extLen))
	}

	r.pos += 19
	r.headerOK = true
	return true, nil
}

// parseTuple consumes one tuple or the trailer. It returns ok=false when the
// buffer does not yet hold the complete tuple; nothing is consumed in that
// case.
func (r *CopyReader) parseTuple() (values [][]byte, trailer bool, ok bool, err error) {
	data := r.buf[r.pos:]
	if len(data) < 2 {
		return nil, false, false, nil
	}

	fieldCount := int16(binary.BigEndian.Uint16(data))
	if fieldCount == -1 {
		r.pos += 2
		return nil, true, true, nil
	}
	if int(fieldCount) != len(r.schema) {
		return nil, false, false, ProtocolError(fmt.Sprintf("copy schema field count (%d) and tuple field count (%d) do not match", len(r.schema), fieldCount))
	}

	values = make([][]byte, fieldCount)
	off := 2
	for i := range values {
		if len(data[off:]) < 4 {
			return nil, false, false, nil
		}
		fieldLen := int32(binary.BigEndian.Uint32(data[off:]))
		off += 4

		if fieldLen == -1 {
			continue
		}
		if fieldLen < 0 {
			return nil, false, false, ProtocolError(fmt.Sprintf("invalid copy field length: %d", fieldLen))
		}
		if len(data[off:]) < int(fieldLen) {
			return nil, false, false, nil
		}
		values[i] = data[off : off+int(fieldLen)]
		off += int(fieldLen)
	}

	r.pos += off
	return values, false, true, nil
}

// copyOutSource adapts the responses of a COPY TO STDOUT command into a
// ChunkSource, surfacing each CopyData payload and finishing the request when
// the stream ends.
type copyOutSource struct {
	ctx       context.Context
	responses Responses
}

func (s *copyOutSource) NextChunk() ([]byte, error) {
	for {
		msg, err := s.responses.Next(s.ctx)
		if err != nil {
			if err != io.EOF {
				s.responses.Close(s.ctx)
			}
			return nil, err
		}

		switch msg := msg.(type) {
		case *pgproto3.CopyData:
			return msg.Data, nil
		case *pgproto3.CopyDone, *pgproto3.CommandComplete:
			// The terminator inside the data stream is authoritative; these
			// only delimit the protocol exchange.
		case *pgproto3.ReadyForQuery:
			return nil, io.EOF
		case *pgproto3.ErrorResponse:
			s.responses.Close(s.ctx)
			return nil, errorResponseToPgError(msg)
		default:
			s.responses.Close(s.ctx)
			return nil, unexpectedMessageError(msg, "copy out")
		}
	}
}

func (s *copyOutSource) Close() error {
	return s.responses.Close(s.ctx)
}

// CopyOut executes sql, which must be a COPY ... TO STDOUT BINARY command,
// and returns a CopyReader over the resulting rows. The reader must be driven
// to completion or closed before the transport can serve another request.
func (e *Executor) CopyOut(ctx context.Context, sql string, schema []uint32) (*CopyReader, error) {
	startTime := time.Now()

	buf := (&pgproto3.Query{String: sql}).Encode(e.wbuf[:0])
	e.wbuf = buf

	responses, err := e.transport.Submit(ctx, buf)
	if err != nil {
		if e.shouldLog(LogLevelError) {
			e.log(ctx, LogLevelError, "CopyOut", map[string]interface{}{"sql": sql, "err": err})
		}
		return nil, err
	}

	msg, err := responses.Next(ctx)
	if err != nil {
		responses.Close(ctx)
		return nil, err
	}
	switch msg := msg.(type) {
	case *pgproto3.CopyOutResponse:
	case *pgproto3.ErrorResponse:
		responses.Close(ctx)
		return nil, errorResponseToPgError(msg)
	default:
		responses.Close(ctx)
		return nil, unexpectedMessageError(msg, "copy out")
	}

	if e.shouldLog(LogLevelInfo) {
		e.log(ctx, LogLevelInfo, "CopyOut", map[string]interface{}{
			"sql":  sql,
			"time": time.Since(startTime),
		})
	}

	return NewCopyReader(e.connInfo, schema, &copyOutSource{ctx: ctx, responses: responses}), nil
}
