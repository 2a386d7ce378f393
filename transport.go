package pgwire

import (
	"context"
	"io"

	"github.com/jackc/chunkreader/v2"
	"github.com/jackc/pgproto3/v2"
)

const minReadBufferSize = 8192

// Responses is the correlation handle for one submitted request. It yields
// the backend messages belonging to that request in the exact order the
// server emitted them, one at a time, on demand.
type Responses interface {
	// Next returns the next backend message. After the final message of the
	// request (ReadyForQuery) has been delivered, Next returns io.EOF.
	Next(ctx context.Context) (pgproto3.BackendMessage, error)

	// Close discards any messages remaining for this request so the transport
	// can serve the next one. When earlier pipelined requests are still
	// unfinished the discard is deferred until they complete. It is safe to
	// call Close multiple times. If the remaining messages cannot be read,
	// the transport is marked dead.
	Close(ctx context.Context) error
}

// Transport submits framed frontend requests to a PostgreSQL server and
// correlates pipelined requests with their responses. It is not safe for
// concurrent use.
type Transport interface {
	// Submit writes one request (a sequence of frontend messages, normally
	// terminated by Sync) and returns the handle for its responses.
	Submit(ctx context.Context, req []byte) (Responses, error)

	// Send writes follow-on frames for an in-flight request, such as CopyData
	// during a COPY FROM STDIN.
	Send(ctx context.Context, buf []byte) error
}

// TransportConfig configures a PipelineTransport. A zero value is usable.
type TransportConfig struct {
	// MinReadBufferSize is the minimum size of the receive buffer. Defaults
	// to 8192.
	MinReadBufferSize int

	Logger   Logger
	LogLevel LogLevel
}

// PipelineTransport multiplexes pipelined requests over a single established
// duplex byte stream. Connection establishment, authentication, and TLS are
// the caller's responsibility; rw must already speak the PostgreSQL protocol
// past the startup phase.
//
// Requests are served strictly in submission order: each request's responses
// end at the ReadyForQuery issued for its Sync, after which the next
// request's handle may read.
type PipelineTransport struct {
	rw       io.ReadWriter
	frontend *pgproto3.Frontend

	parameterStatuses map[string]string
	pending           []*pipelineResponses
	dead              error

	logger   Logger
	logLevel LogLevel
}

// NewPipelineTransport wraps rw in a PipelineTransport.
func NewPipelineTransport(rw io.ReadWriter, config TransportConfig) *PipelineTransport {
	minBufLen := config.MinReadBufferSize
	if minBufLen == 0 {
		minBufLen = minReadBufferSize
	}

	cr, err := chunkreader.NewConfig(rw, chunkreader.Config{MinBufLen: minBufLen})
	if err != nil {
		// Only reachable with a negative MinBufLen.
		panic(err.Error())
	}

	logLevel := config.LogLevel
	if config.Logger != nil && logLevel == 0 {
		logLevel = LogLevelDebug
	}

	return &PipelineTransport{
		rw:                rw,
		frontend:          pgproto3.NewFrontend(cr, rw),
		parameterStatuses: make(map[string]string),
		logger:            config.Logger,
		logLevel:          logLevel,
	}
}

// Submit writes req and appends a responses handle to the pipeline.
func (t *PipelineTransport) Submit(ctx context.Context, req []byte) (Responses, error) {
	if err := t.sendErr(ctx); err != nil {
		return nil, err
	}

	if _, err := t.rw.Write(req); err != nil {
		t.die(err)
		return nil, err
	}

	r := &pipelineResponses{transport: t}
	t.pending = append(t.pending, r)
	return r, nil
}

// Send writes buf without expecting additional responses. It is used for
// frames that belong to an already submitted request.
func (t *PipelineTransport) Send(ctx context.Context, buf []byte) error {
	if err := t.sendErr(ctx); err != nil {
		return err
	}

	if _, err := t.rw.Write(buf); err != nil {
		t.die(err)
		return err
	}
	return nil
}

// ParameterStatus returns the most recent value of a run-time parameter
// reported by the server (e.g. server_version). Returns an empty string for
// unknown parameters.
func (t *PipelineTransport) ParameterStatus(key string) string {
	return t.parameterStatuses[key]
}

// Dead reports the error that killed the transport, or nil while it is
// usable.
func (t *PipelineTransport) Dead() error {
	return t.dead
}

func (t *PipelineTransport) sendErr(ctx context.Context) error {
	if t.dead != nil {
		return ErrDeadTransport
	}
	return ctx.Err()
}

// die marks the transport unusable. Once a read or write has failed the
// stream position is unknown, so no further framing can be trusted.
func (t *PipelineTransport) die(err error) {
	if t.dead != nil {
		return
	}
	t.dead = err
	if t.shouldLog(LogLevelError) {
		t.log(context.Background(), LogLevelError, "transport dead", map[string]interface{}{"err": err})
	}
}

// receive reads the next message for the head request, absorbing messages
// that are not specific to any request.
func (t *PipelineTransport) receive(ctx context.Context) (pgproto3.BackendMessage, error) {
	for {
		msg, err := t.frontend.Receive()
		if err != nil {
			t.die(err)
			return nil, err
		}

		switch msg := msg.(type) {
		case *pgproto3.ParameterStatus:
			t.parameterStatuses[msg.Name] = msg.Value
		case *pgproto3.NoticeResponse:
			if t.shouldLog(LogLevelWarn) {
				t.log(ctx, LogLevelWarn, "notice", map[string]interface{}{"severity": msg.Severity, "msg": msg.Message})
			}
		case *pgproto3.NotificationResponse:
			// Async notifications are delivered by a higher layer; this one
			// only keeps the stream framed.
			if t.shouldLog(LogLevelDebug) {
				t.log(ctx, LogLevelDebug, "notification skipped", map[string]interface{}{"channel": msg.Channel})
			}
		default:
			return msg, nil
		}
	}
}

func (t *PipelineTransport) shouldLog(lvl LogLevel) bool {
	return t.logger != nil && t.logLevel >= lvl
}

func (t *PipelineTransport) log(ctx context.Context, lvl LogLevel, msg string, data map[string]interface{}) {
	t.logger.Log(ctx, lvl, msg, data)
}

type pipelineResponses struct {
	transport *PipelineTransport
	finished  bool
	abandoned bool
}

func (r *pipelineResponses) Next(ctx context.Context) (pgproto3.BackendMessage, error) {
	if r.finished {
		return nil, io.EOF
	}

	t := r.transport
	if t.dead != nil {
		return nil, ErrDeadTransport
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Requests closed before reaching the head of the pipeline deferred
	// their drain; run it now that they are in the way.
	for len(t.pending) > 0 && t.pending[0] != r && t.pending[0].abandoned {
		if err := t.pending[0].drain(ctx); err != nil {
			return nil, err
		}
	}
	if len(t.pending) == 0 || t.pending[0] != r {
		return nil, ErrTransportBusy
	}

	msg, err := t.receive(ctx)
	if err != nil {
		return nil, err
	}

	if _, ok := msg.(*pgproto3.ReadyForQuery); ok {
		r.finished = true
		t.pending = t.pending[1:]
	}

	return msg, nil
}

func (r *pipelineResponses) Close(ctx context.Context) error {
	t := r.transport
	if !r.finished && t.dead == nil && (len(t.pending) == 0 || t.pending[0] != r) {
		// Earlier requests still own the stream; their messages must be
		// delivered before this request's can be read. Defer the drain until
		// this handle reaches the head of the pipeline.
		r.abandoned = true
		return nil
	}
	return r.drain(ctx)
}

func (r *pipelineResponses) drain(ctx context.Context) error {
	for !r.finished {
		if _, err := r.Next(ctx); err != nil {
			if err == io.EOF {
				break
			}
			// An abandoned request leaves undelivered messages on the wire.
			// If they cannot be drained the stream is no longer framed.
			r.transport.die(err)
			return err
		}
	}
	return nil
}
