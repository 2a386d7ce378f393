package pgwire

import (
	"errors"
	"fmt"

	"github.com/jackc/pgproto3/v2"
)

// ErrDeadTransport occurs when a request is submitted to a transport that has
// been marked unusable by a previous I/O or framing failure.
var ErrDeadTransport = errors.New("transport is dead")

// ErrTransportBusy occurs when a Responses handle is read out of turn while
// an earlier pipelined request still has undelivered messages.
var ErrTransportBusy = errors.New("transport is busy serving an earlier request")

// ProtocolError occurs when unexpected data is received from the server. The
// client and server have lost synchronization, so the in-flight operation
// cannot be retried.
type ProtocolError string

func (e ProtocolError) Error() string {
	return string(e)
}

// PgError represents an error reported by the PostgreSQL server. See
// http://www.postgresql.org/docs/11/static/protocol-error-fields.html for
// detailed field description.
type PgError struct {
	Severity         string
	Code             string
	Message          string
	Detail           string
	Hint             string
	Position         int32
	InternalPosition int32
	InternalQuery    string
	Where            string
	SchemaName       string
	TableName        string
	ColumnName       string
	DataTypeName     string
	ConstraintName   string
	File             string
	Line             int32
	Routine          string
}

func (pe *PgError) Error() string {
	return pe.Severity + ": " + pe.Message + " (SQLSTATE " + pe.Code + ")"
}

// EncodeArgError occurs when an argument cannot be converted to the binary
// representation of its statement-declared type. Index is the position of
// the offending argument.
type EncodeArgError struct {
	Index int
	Err   error
}

func (e *EncodeArgError) Error() string {
	return fmt.Sprintf("failed to encode args[%d]: %v", e.Index, e.Err)
}

func (e *EncodeArgError) Unwrap() error {
	return e.Err
}

func errorResponseToPgError(msg *pgproto3.ErrorResponse) *PgError {
	return &PgError{
		Severity:         msg.Severity,
		Code:             msg.Code,
		Message:          msg.Message,
		Detail:           msg.Detail,
		Hint:             msg.Hint,
		Position:         msg.Position,
		InternalPosition: msg.InternalPosition,
		InternalQuery:    msg.InternalQuery,
		Where:            msg.Where,
		SchemaName:       msg.SchemaName,
		TableName:        msg.TableName,
		ColumnName:       msg.ColumnName,
		DataTypeName:     msg.DataTypeName,
		ConstraintName:   msg.ConstraintName,
		File:             msg.File,
		Line:             msg.Line,
		Routine:          msg.Routine,
	}
}

func unexpectedMessageError(msg pgproto3.BackendMessage, during string) ProtocolError {
	return ProtocolError(fmt.Sprintf("unexpected message %T during %s", msg, during))
}
