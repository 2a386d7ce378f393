package pgwire

import (
	"testing"

	"github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtendedQueryBuilderBuild(t *testing.T) {
	ci := pgtype.NewConnInfo()
	stmt := &Statement{
		Name:      "q",
		ParamOIDs: []uint32{pgtype.Int4OID, pgtype.TextOID, pgtype.TextOID},
		Fields: []FieldDescription{
			{Name: "a", DataTypeOID: pgtype.Int4OID},
			{Name: "b", DataTypeOID: pgtype.TextOID},
		},
	}

	var eqb extendedQueryBuilder
	err := eqb.Build(ci, stmt, []interface{}{int32(42), "hello", nil})
	require.NoError(t, err)

	assert.Equal(t, []int16{BinaryFormatCode, BinaryFormatCode, BinaryFormatCode}, eqb.paramFormats)
	assert.Equal(t, []int16{BinaryFormatCode, BinaryFormatCode}, eqb.resultFormats)

	require.Len(t, eqb.paramValues, 3)
	assert.Equal(t, []byte{0, 0, 0, 42}, eqb.paramValues[0])
	assert.Equal(t, []byte("hello"), eqb.paramValues[1])
	assert.Nil(t, eqb.paramValues[2])
}

func TestExtendedQueryBuilderEncodeError(t *testing.T) {
	ci := pgtype.NewConnInfo()
	stmt := &Statement{Name: "q", ParamOIDs: []uint32{pgtype.Int4OID, pgtype.Int4OID}}

	var eqb extendedQueryBuilder
	err := eqb.Build(ci, stmt, []interface{}{int32(1), "twelve"})

	encodeErr, ok := err.(*EncodeArgError)
	require.True(t, ok)
	assert.Equal(t, 1, encodeErr.Index)
	assert.NotNil(t, encodeErr.Unwrap())
}

func TestExtendedQueryBuilderArgCountPanics(t *testing.T) {
	ci := pgtype.NewConnInfo()
	stmt := &Statement{Name: "q", ParamOIDs: []uint32{pgtype.Int4OID}}

	var eqb extendedQueryBuilder
	require.Panics(t, func() { eqb.Build(ci, stmt, nil) })
}

func TestExtendedQueryBuilderUnknownOID(t *testing.T) {
	ci := pgtype.NewConnInfo()
	stmt := &Statement{Name: "q", ParamOIDs: []uint32{4294967295}}

	var eqb extendedQueryBuilder
	err := eqb.Build(ci, stmt, []interface{}{42})
	require.Error(t, err)
}

func TestExtendedQueryBuilderReset(t *testing.T) {
	ci := pgtype.NewConnInfo()
	stmt := &Statement{Name: "q", ParamOIDs: []uint32{pgtype.TextOID}}

	var eqb extendedQueryBuilder
	require.NoError(t, eqb.Build(ci, stmt, []interface{}{"first"}))
	require.NoError(t, eqb.Build(ci, stmt, []interface{}{"second"}))

	require.Len(t, eqb.paramValues, 1)
	assert.Equal(t, []byte("second"), eqb.paramValues[0])
}

func TestBuildBindExecuteSync(t *testing.T) {
	stmt := &Statement{
		Name:      "selectUsers",
		ParamOIDs: []uint32{pgtype.Int4OID},
		Fields: []FieldDescription{
			{Name: "id", DataTypeOID: pgtype.Int4OID},
			{Name: "name", DataTypeOID: pgtype.TextOID},
		},
	}

	e := NewExecutor(nil, ExecutorConfig{})
	buf, err := e.buildBindExecuteSync(stmt, "", []interface{}{int32(7)})
	require.NoError(t, err)

	want := (&pgproto3.Bind{
		PreparedStatement:    "selectUsers",
		ParameterFormatCodes: []int16{BinaryFormatCode},
		Parameters:           [][]byte{{0, 0, 0, 7}},
		ResultFormatCodes:    []int16{BinaryFormatCode, BinaryFormatCode},
	}).Encode(nil)
	want = (&pgproto3.Execute{}).Encode(want)
	want = (&pgproto3.Sync{}).Encode(want)

	assert.Equal(t, want, buf)
}
