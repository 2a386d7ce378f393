package pgwire_test

import (
	"context"
	"io"
	"testing"

	"github.com/jackc/pgmock"
	"github.com/jackc/pgproto3/v2"
	"github.com/pgwirekit/pgwire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simpleQuery(sql string) []byte {
	return (&pgproto3.Query{String: sql}).Encode(nil)
}

func TestPipelinedRequestsAreServedInOrder(t *testing.T) {
	script := &pgmock.Script{Steps: []pgmock.Step{
		pgmock.ExpectMessage(&pgproto3.Query{String: "select 1"}),
		pgmock.ExpectMessage(&pgproto3.Query{String: "select 2"}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 2")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
	}}

	conn, serverErrChan := runScript(t, script)
	transport := pgwire.NewPipelineTransport(conn, pgwire.TransportConfig{})
	ctx := context.Background()

	r1, err := transport.Submit(ctx, simpleQuery("select 1"))
	require.NoError(t, err)
	r2, err := transport.Submit(ctx, simpleQuery("select 2"))
	require.NoError(t, err)

	// The second handle may not read ahead of the first.
	_, err = r2.Next(ctx)
	require.Equal(t, pgwire.ErrTransportBusy, err)

	msg, err := r1.Next(ctx)
	require.NoError(t, err)
	cc, ok := msg.(*pgproto3.CommandComplete)
	require.True(t, ok)
	assert.Equal(t, "SELECT 1", string(cc.CommandTag))

	msg, err = r1.Next(ctx)
	require.NoError(t, err)
	_, ok = msg.(*pgproto3.ReadyForQuery)
	require.True(t, ok)

	_, err = r1.Next(ctx)
	require.Equal(t, io.EOF, err)

	msg, err = r2.Next(ctx)
	require.NoError(t, err)
	cc, ok = msg.(*pgproto3.CommandComplete)
	require.True(t, ok)
	assert.Equal(t, "SELECT 2", string(cc.CommandTag))

	require.NoError(t, r2.Close(ctx))

	require.NoError(t, <-serverErrChan)
}

func TestCloseDrainsRemainingMessages(t *testing.T) {
	script := &pgmock.Script{Steps: []pgmock.Step{
		pgmock.ExpectMessage(&pgproto3.Query{String: "select 1"}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("1")}}),
		pgmock.SendMessage(&pgproto3.DataRow{Values: [][]byte{[]byte("2")}}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 2")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
		pgmock.ExpectMessage(&pgproto3.Query{String: "select 2"}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 0")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
	}}

	conn, serverErrChan := runScript(t, script)
	transport := pgwire.NewPipelineTransport(conn, pgwire.TransportConfig{})
	ctx := context.Background()

	r1, err := transport.Submit(ctx, simpleQuery("select 1"))
	require.NoError(t, err)

	// Abandon the request after one row; Close must consume the rest so the
	// next request starts on a clean stream.
	_, err = r1.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, r1.Close(ctx))

	r2, err := transport.Submit(ctx, simpleQuery("select 2"))
	require.NoError(t, err)
	require.NoError(t, r2.Close(ctx))

	require.Nil(t, transport.Dead())
	require.NoError(t, <-serverErrChan)
}

func TestCloseBeforeEarlierRequestFinishes(t *testing.T) {
	script := &pgmock.Script{Steps: []pgmock.Step{
		pgmock.ExpectMessage(&pgproto3.Query{String: "select 1"}),
		pgmock.ExpectMessage(&pgproto3.Query{String: "select 2"}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 1")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 2")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
		pgmock.ExpectMessage(&pgproto3.Query{String: "select 3"}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SELECT 3")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
	}}

	conn, serverErrChan := runScript(t, script)
	transport := pgwire.NewPipelineTransport(conn, pgwire.TransportConfig{})
	ctx := context.Background()

	r1, err := transport.Submit(ctx, simpleQuery("select 1"))
	require.NoError(t, err)
	r2, err := transport.Submit(ctx, simpleQuery("select 2"))
	require.NoError(t, err)

	// Closing the later handle first must not disturb the transport; its
	// drain is deferred until the earlier request finishes.
	require.NoError(t, r2.Close(ctx))
	require.Nil(t, transport.Dead())

	msg, err := r1.Next(ctx)
	require.NoError(t, err)
	cc, ok := msg.(*pgproto3.CommandComplete)
	require.True(t, ok)
	assert.Equal(t, "SELECT 1", string(cc.CommandTag))
	require.NoError(t, r1.Close(ctx))

	// A fresh request drains the abandoned one before reading its own
	// responses.
	r3, err := transport.Submit(ctx, simpleQuery("select 3"))
	require.NoError(t, err)

	msg, err = r3.Next(ctx)
	require.NoError(t, err)
	cc, ok = msg.(*pgproto3.CommandComplete)
	require.True(t, ok)
	assert.Equal(t, "SELECT 3", string(cc.CommandTag))
	require.NoError(t, r3.Close(ctx))

	require.Nil(t, transport.Dead())
	require.NoError(t, <-serverErrChan)
}

func TestParameterStatusAbsorbed(t *testing.T) {
	script := &pgmock.Script{Steps: []pgmock.Step{
		pgmock.ExpectMessage(&pgproto3.Query{String: "set time zone 'UTC'"}),
		pgmock.SendMessage(&pgproto3.ParameterStatus{Name: "server_version", Value: "14.5 (Debian 14.5-1.pgdg110+1)"}),
		pgmock.SendMessage(&pgproto3.ParameterStatus{Name: "TimeZone", Value: "UTC"}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("SET")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
	}}

	conn, serverErrChan := runScript(t, script)
	transport := pgwire.NewPipelineTransport(conn, pgwire.TransportConfig{})
	ctx := context.Background()

	r, err := transport.Submit(ctx, simpleQuery("set time zone 'UTC'"))
	require.NoError(t, err)

	// ParameterStatus must not surface as a response message.
	msg, err := r.Next(ctx)
	require.NoError(t, err)
	_, ok := msg.(*pgproto3.CommandComplete)
	require.True(t, ok)
	require.NoError(t, r.Close(ctx))

	assert.Equal(t, "UTC", transport.ParameterStatus("TimeZone"))

	version, err := transport.ServerVersion()
	require.NoError(t, err)
	assert.Equal(t, "14.5.0", version.String())

	require.NoError(t, <-serverErrChan)
}

func TestNoticeAbsorbed(t *testing.T) {
	script := &pgmock.Script{Steps: []pgmock.Step{
		pgmock.ExpectMessage(&pgproto3.Query{String: "drop table if exists nope"}),
		pgmock.SendMessage(&pgproto3.NoticeResponse{Severity: "NOTICE", Message: `table "nope" does not exist, skipping`}),
		pgmock.SendMessage(&pgproto3.CommandComplete{CommandTag: []byte("DROP TABLE")}),
		pgmock.SendMessage(&pgproto3.ReadyForQuery{TxStatus: 'I'}),
	}}

	conn, serverErrChan := runScript(t, script)
	transport := pgwire.NewPipelineTransport(conn, pgwire.TransportConfig{})
	ctx := context.Background()

	r, err := transport.Submit(ctx, simpleQuery("drop table if exists nope"))
	require.NoError(t, err)

	msg, err := r.Next(ctx)
	require.NoError(t, err)
	_, ok := msg.(*pgproto3.CommandComplete)
	require.True(t, ok)
	require.NoError(t, r.Close(ctx))

	require.NoError(t, <-serverErrChan)
}

func TestTransportDiesOnReadFailure(t *testing.T) {
	// The script ends after reading the query, closing the connection without
	// answering.
	script := &pgmock.Script{Steps: []pgmock.Step{
		pgmock.ExpectMessage(&pgproto3.Query{String: "select 1"}),
	}}

	conn, serverErrChan := runScript(t, script)
	transport := pgwire.NewPipelineTransport(conn, pgwire.TransportConfig{})
	ctx := context.Background()

	r, err := transport.Submit(ctx, simpleQuery("select 1"))
	require.NoError(t, err)

	_, err = r.Next(ctx)
	require.Error(t, err)
	require.NotNil(t, transport.Dead())

	_, err = transport.Submit(ctx, simpleQuery("select 2"))
	require.Equal(t, pgwire.ErrDeadTransport, err)

	_, err = r.Next(ctx)
	require.Equal(t, pgwire.ErrDeadTransport, err)

	require.NoError(t, <-serverErrChan)
}

func TestSubmitHonorsContext(t *testing.T) {
	script := &pgmock.Script{Steps: []pgmock.Step{}}

	conn, _ := runScript(t, script)
	transport := pgwire.NewPipelineTransport(conn, pgwire.TransportConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := transport.Submit(ctx, simpleQuery("select 1"))
	require.Equal(t, context.Canceled, err)
	require.Nil(t, transport.Dead())
}
