package pgwire

import (
	"fmt"

	"github.com/jackc/pgio"
	"github.com/jackc/pgtype"
)

// PostgreSQL format codes
const (
	TextFormatCode   = 0
	BinaryFormatCode = 1
)

// encodeBinaryValue appends the binary representation of arg as the
// PostgreSQL type identified by oid. A nil return with a nil error means SQL
// NULL.
func encodeBinaryValue(ci *pgtype.ConnInfo, buf []byte, oid uint32, arg interface{}) ([]byte, error) {
	if arg == nil {
		return nil, nil
	}

	if enc, ok := arg.(pgtype.BinaryEncoder); ok {
		return enc.EncodeBinary(ci, buf)
	}

	dt, ok := ci.DataTypeForOID(oid)
	if !ok {
		return nil, fmt.Errorf("unknown data type OID %d", oid)
	}

	if err := dt.Value.Set(arg); err != nil {
		return nil, err
	}

	enc, ok := dt.Value.(pgtype.BinaryEncoder)
	if !ok {
		return nil, fmt.Errorf("%s does not support the binary format", dt.Name)
	}

	return enc.EncodeBinary(ci, buf)
}

// appendLengthPrefixedValue appends a 4-byte length followed by the binary
// encoding of arg, or the -1 NULL sentinel with no content bytes. The length
// is written as a placeholder and patched once the encoded size is known.
func appendLengthPrefixedValue(ci *pgtype.ConnInfo, buf []byte, oid uint32, arg interface{}) ([]byte, error) {
	sp := len(buf)
	buf = pgio.AppendInt32(buf, -1)

	argBuf, err := encodeBinaryValue(ci, buf, oid, arg)
	if err != nil {
		return nil, err
	}

	if argBuf != nil {
		buf = argBuf
		pgio.SetInt32(buf[sp:], int32(len(buf[sp:])-4))
	}

	return buf, nil
}
