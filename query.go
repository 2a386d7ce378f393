package pgwire

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgtype"
)

// CommandTag is the status tag reported by the server after a command
// completes, e.g. "INSERT 0 5" or "CREATE TABLE".
type CommandTag string

// RowsAffected returns the number of rows affected. If the CommandTag was
// not for a row-affecting command (e.g. "CREATE TABLE") then it returns 0.
func (ct CommandTag) RowsAffected() int64 {
	s := string(ct)
	index := strings.LastIndex(s, " ")
	if index == -1 {
		return 0
	}
	n, _ := strconv.ParseInt(s[index+1:], 10, 64)
	return n
}

func (ct CommandTag) String() string {
	return string(ct)
}

// ExecutorConfig configures an Executor. A zero value is usable.
type ExecutorConfig struct {
	// ConnInfo is the type map used to convert between application values and
	// their binary wire representations. Defaults to pgtype.NewConnInfo().
	ConnInfo *pgtype.ConnInfo

	Logger   Logger
	LogLevel LogLevel
}

// Executor runs prepared statements against a Transport using the extended
// query protocol. All parameters and results use the binary format. It is
// not safe for concurrent use; drive one operation at a time.
type Executor struct {
	transport Transport
	connInfo  *pgtype.ConnInfo

	logger   Logger
	logLevel LogLevel

	wbuf []byte
	eqb  extendedQueryBuilder
}

// NewExecutor returns an Executor submitting requests to transport.
func NewExecutor(transport Transport, config ExecutorConfig) *Executor {
	ci := config.ConnInfo
	if ci == nil {
		ci = pgtype.NewConnInfo()
	}

	logLevel := config.LogLevel
	if config.Logger != nil && logLevel == 0 {
		logLevel = LogLevelDebug
	}

	return &Executor{
		transport: transport,
		connInfo:  ci,
		logger:    config.Logger,
		logLevel:  logLevel,
		wbuf:      make([]byte, 0, 1024),
	}
}

// ConnInfo returns the executor's type map. Extension codecs (e.g. uuid or
// decimal integrations) are registered on it before first use.
func (e *Executor) ConnInfo() *pgtype.ConnInfo {
	return e.connInfo
}

// Query executes stmt with args and returns a lazy stream over the result
// rows. The returned stream must be closed before the transport can serve
// another request.
func (e *Executor) Query(ctx context.Context, stmt *Statement, args ...interface{}) (*RowStream, error) {
	startTime := time.Now()

	buf, err := e.buildBindExecuteSync(stmt, "", args)
	if err != nil {
		return nil, err
	}

	responses, err := e.start(ctx, buf)
	if err != nil {
		return nil, err
	}

	return &RowStream{
		executor:  e,
		stmt:      stmt,
		responses: responses,
		ctx:       ctx,
		startTime: startTime,
		args:      args,
	}, nil
}

// QueryPortal fetches up to maxRows rows from an already bound portal.
// maxRows of 0 means no limit. When a limit was set, a cleanly terminated
// stream means either completion or suspension at the limit; fetch again to
// distinguish.
func (e *Executor) QueryPortal(ctx context.Context, portal *Portal, maxRows int32) (*RowStream, error) {
	startTime := time.Now()

	buf := (&pgproto3.Execute{Portal: portal.Name, MaxRows: uint32(maxRows)}).Encode(e.wbuf[:0])
	buf = (&pgproto3.Sync{}).Encode(buf)
	e.wbuf = buf

	responses, err := e.transport.Submit(ctx, buf)
	if err != nil {
		return nil, err
	}

	return &RowStream{
		executor:  e,
		stmt:      portal.Statement,
		responses: responses,
		ctx:       ctx,
		startTime: startTime,
	}, nil
}

// Exec executes stmt with args and returns the server's command tag. Result
// rows, if any, are discarded without being materialized; only the affected
// row count is of interest.
func (e *Executor) Exec(ctx context.Context, stmt *Statement, args ...interface{}) (CommandTag, error) {
	startTime := time.Now()

	commandTag, err := e.exec(ctx, stmt, args)

	if err == nil {
		if e.shouldLog(LogLevelInfo) {
			e.log(ctx, LogLevelInfo, "Exec", map[string]interface{}{
				"sql":        stmt.SQL,
				"args":       logQueryArgs(args),
				"time":       time.Since(startTime),
				"commandTag": commandTag,
			})
		}
	} else if e.shouldLog(LogLevelError) {
		e.log(ctx, LogLevelError, "Exec", map[string]interface{}{
			"sql":  stmt.SQL,
			"args": logQueryArgs(args),
			"err":  err,
		})
	}

	return commandTag, err
}

func (e *Executor) exec(ctx context.Context, stmt *Statement, args []interface{}) (CommandTag, error) {
	buf, err := e.buildBindExecuteSync(stmt, "", args)
	if err != nil {
		return "", err
	}

	responses, err := e.start(ctx, buf)
	if err != nil {
		return "", err
	}

	for {
		msg, err := responses.Next(ctx)
		if err != nil {
			responses.Close(ctx)
			return "", err
		}

		switch msg := msg.(type) {
		case *pgproto3.DataRow:
			// Row content is not needed, only the completion tag.
		case *pgproto3.CommandComplete:
			commandTag := CommandTag(msg.CommandTag)
			return commandTag, responses.Close(ctx)
		case *pgproto3.EmptyQueryResponse:
			return "", responses.Close(ctx)
		case *pgproto3.ErrorResponse:
			responses.Close(ctx)
			return "", errorResponseToPgError(msg)
		default:
			responses.Close(ctx)
			return "", unexpectedMessageError(msg, "exec")
		}
	}
}

// BindPortal binds stmt with args to a named server-side portal that can be
// read incrementally with QueryPortal.
func (e *Executor) BindPortal(ctx context.Context, stmt *Statement, name string, args ...interface{}) (*Portal, error) {
	if err := e.eqb.Build(e.connInfo, stmt, args); err != nil {
		return nil, err
	}

	buf := e.appendBind(e.wbuf[:0], stmt, name)
	buf = (&pgproto3.Sync{}).Encode(buf)
	e.wbuf = buf

	responses, err := e.start(ctx, buf)
	if err != nil {
		return nil, err
	}

	if err := responses.Close(ctx); err != nil {
		return nil, err
	}

	return &Portal{Name: name, Statement: stmt}, nil
}

// buildBindExecuteSync encodes a full Bind / Execute (unlimited) / Sync
// request into the executor's reusable write buffer.
func (e *Executor) buildBindExecuteSync(stmt *Statement, portalName string, args []interface{}) ([]byte, error) {
	if err := e.eqb.Build(e.connInfo, stmt, args); err != nil {
		return nil, err
	}

	buf := e.appendBind(e.wbuf[:0], stmt, portalName)
	buf = (&pgproto3.Execute{Portal: portalName}).Encode(buf)
	buf = (&pgproto3.Sync{}).Encode(buf)
	e.wbuf = buf
	return buf, nil
}

func (e *Executor) appendBind(buf []byte, stmt *Statement, portalName string) []byte {
	bind := pgproto3.Bind{
		DestinationPortal:    portalName,
		PreparedStatement:    stmt.Name,
		ParameterFormatCodes: e.eqb.paramFormats,
		Parameters:           e.eqb.paramValues,
		ResultFormatCodes:    e.eqb.resultFormats,
	}
	return bind.Encode(buf)
}

// start submits buf and validates the Bind handshake: the first response
// message must be BindComplete.
func (e *Executor) start(ctx context.Context, buf []byte) (Responses, error) {
	responses, err := e.transport.Submit(ctx, buf)
	if err != nil {
		return nil, err
	}

	msg, err := responses.Next(ctx)
	if err != nil {
		responses.Close(ctx)
		return nil, err
	}

	switch msg := msg.(type) {
	case *pgproto3.BindComplete:
		return responses, nil
	case *pgproto3.ErrorResponse:
		responses.Close(ctx)
		return nil, errorResponseToPgError(msg)
	default:
		responses.Close(ctx)
		return nil, unexpectedMessageError(msg, "bind")
	}
}

func (e *Executor) shouldLog(lvl LogLevel) bool {
	return e.logger != nil && e.logLevel >= lvl
}

func (e *Executor) log(ctx context.Context, lvl LogLevel, msg string, data map[string]interface{}) {
	e.logger.Log(ctx, lvl, msg, data)
}
