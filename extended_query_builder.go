package pgwire

import (
	"fmt"

	"github.com/jackc/pgtype"
)

// extendedQueryBuilder encodes the statement parameters and format codes of a
// Bind message. Its backing buffers are reused from call to call so that
// building a request does not allocate in steady state.
type extendedQueryBuilder struct {
	paramValues     [][]byte
	paramValueBytes []byte
	paramFormats    []int16
	resultFormats   []int16
}

// Build encodes args against the statement's declared parameter types. The
// argument count must match the statement's parameter count; a mismatch is a
// caller bug, not a runtime condition, and panics.
func (eqb *extendedQueryBuilder) Build(ci *pgtype.ConnInfo, stmt *Statement, args []interface{}) error {
	if len(args) != len(stmt.ParamOIDs) {
		panic(fmt.Sprintf("statement %q expects %d parameters, got %d", stmt.Name, len(stmt.ParamOIDs), len(args)))
	}

	eqb.reset()

	for i := range args {
		err := eqb.appendParam(ci, stmt.ParamOIDs[i], args[i])
		if err != nil {
			return &EncodeArgError{Index: i, Err: err}
		}
	}

	for range stmt.Fields {
		eqb.resultFormats = append(eqb.resultFormats, BinaryFormatCode)
	}

	return nil
}

func (eqb *extendedQueryBuilder) appendParam(ci *pgtype.ConnInfo, oid uint32, arg interface{}) error {
	v, err := eqb.encodeParamValue(ci, oid, arg)
	if err != nil {
		return err
	}

	eqb.paramFormats = append(eqb.paramFormats, BinaryFormatCode)
	eqb.paramValues = append(eqb.paramValues, v)

	return nil
}

func (eqb *extendedQueryBuilder) encodeParamValue(ci *pgtype.ConnInfo, oid uint32, arg interface{}) ([]byte, error) {
	if eqb.paramValueBytes == nil {
		eqb.paramValueBytes = make([]byte, 0, 128)
	}

	pos := len(eqb.paramValueBytes)

	buf, err := encodeBinaryValue(ci, eqb.paramValueBytes, oid, arg)
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, nil
	}
	eqb.paramValueBytes = buf
	return eqb.paramValueBytes[pos:], nil
}

// reset readies eqb to build another query. Buffers that have grown
// substantially beyond their steady-state size are released so one huge
// query does not pin memory permanently.
func (eqb *extendedQueryBuilder) reset() {
	eqb.paramValues = eqb.paramValues[0:0]
	eqb.paramValueBytes = eqb.paramValueBytes[0:0]
	eqb.paramFormats = eqb.paramFormats[0:0]
	eqb.resultFormats = eqb.resultFormats[0:0]

	if cap(eqb.paramValues) > 64 {
		eqb.paramValues = make([][]byte, 0, 64)
	}

	if cap(eqb.paramValueBytes) > 256 {
		eqb.paramValueBytes = make([]byte, 0, 256)
	}

	if cap(eqb.paramFormats) > 64 {
		eqb.paramFormats = make([]int16, 0, 64)
	}
	if cap(eqb.resultFormats) > 64 {
		eqb.resultFormats = make([]int16, 0, 64)
	}
}
