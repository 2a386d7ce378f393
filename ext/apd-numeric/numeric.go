// Package numeric integrates github.com/cockroachdb/apd with the pgwire type
// map. apd preserves arbitrary precision, so values survive a round trip
// through the binary numeric format unchanged.
package numeric

import (
	"fmt"
	"math/big"

	"github.com/cockroachdb/apd"
	"github.com/jackc/pgtype"
)

type Numeric struct {
	Decimal apd.Decimal
	Status  pgtype.Status
}

// Register makes Numeric the value used for the numeric type on ci.
func Register(ci *pgtype.ConnInfo) {
	ci.RegisterDataType(pgtype.DataType{
		Value: &Numeric{},
		Name:  "numeric",
		OID:   pgtype.NumericOID,
	})
}

func (dst *Numeric) Set(src interface{}) error {
	if src == nil {
		*dst = Numeric{Status: pgtype.Null}
		return nil
	}

	if value, ok := src.(interface{ Get() interface{} }); ok {
		value2 := value.Get()
		if value2 != value {
			return dst.Set(value2)
		}
	}

	switch value := src.(type) {
	case apd.Decimal:
		*dst = Numeric{Decimal: value, Status: pgtype.Present}
	case *apd.Decimal:
		*dst = Numeric{Status: pgtype.Present}
		dst.Decimal.Set(value)
	case string:
		var d apd.Decimal
		if _, _, err := d.SetString(value); err != nil {
			return err
		}
		*dst = Numeric{Decimal: d, Status: pgtype.Present}
	case int64:
		var d apd.Decimal
		d.SetInt64(value)
		*dst = Numeric{Decimal: d, Status: pgtype.Present}
	case int:
		var d apd.Decimal
		d.SetInt64(int64(value))
		*dst = Numeric{Decimal: d, Status: pgtype.Present}
	default:
		// If all else fails see if pgtype.Numeric can handle it. If so, translate through that.
		num := &pgtype.Numeric{}
		if err := num.Set(value); err != nil {
			return fmt.Errorf("cannot convert %v to Numeric", value)
		}

		buf, err := num.EncodeText(nil, nil)
		if err != nil {
			return fmt.Errorf("cannot convert %v to Numeric", value)
		}

		var d apd.Decimal
		if _, _, err := d.SetString(string(buf)); err != nil {
			return fmt.Errorf("cannot convert %v to Numeric", value)
		}
		*dst = Numeric{Decimal: d, Status: pgtype.Present}
	}

	return nil
}

func (dst Numeric) Get() interface{} {
	switch dst.Status {
	case pgtype.Present:
		return dst.Decimal
	case pgtype.Null:
		return nil
	default:
		return dst.Status
	}
}

func (src *Numeric) AssignTo(dst interface{}) error {
	switch src.Status {
	case pgtype.Present:
		switch v := dst.(type) {
		case *apd.Decimal:
			v.Set(&src.Decimal)
		case *string:
			*v = src.Decimal.String()
		case *float64:
			f, err := src.Decimal.Float64()
			if err != nil {
				return err
			}
			*v = f
		case *int64:
			i, err := src.Decimal.Int64()
			if err != nil {
				return err
			}
			*v = i
		default:
			if nextDst, retry := pgtype.GetAssignToDstType(dst); retry {
				return src.AssignTo(nextDst)
			}
			return fmt.Errorf("unable to assign to %T", dst)
		}
	case pgtype.Null:
		return pgtype.NullAssignTo(dst)
	}

	return nil
}

func (dst *Numeric) DecodeText(ci *pgtype.ConnInfo, src []byte) error {
	if src == nil {
		*dst = Numeric{Status: pgtype.Null}
		return nil
	}

	var d apd.Decimal
	if _, _, err := d.SetString(string(src)); err != nil {
		return err
	}

	*dst = Numeric{Decimal: d, Status: pgtype.Present}
	return nil
}

func (dst *Numeric) DecodeBinary(ci *pgtype.ConnInfo, src []byte) error {
	if src == nil {
		*dst = Numeric{Status: pgtype.Null}
		return nil
	}

	num := &pgtype.Numeric{}
	if err := num.DecodeBinary(ci, src); err != nil {
		return err
	}

	*dst = Numeric{Decimal: *apd.NewWithBigInt(num.Int, num.Exp), Status: pgtype.Present}
	return nil
}

func (src Numeric) EncodeText(ci *pgtype.ConnInfo, buf []byte) ([]byte, error) {
	switch src.Status {
	case pgtype.Null:
		return nil, nil
	case pgtype.Undefined:
		return nil, fmt.Errorf("cannot encode status undefined")
	}

	return append(buf, src.Decimal.String()...), nil
}

func (src Numeric) EncodeBinary(ci *pgtype.ConnInfo, buf []byte) ([]byte, error) {
	switch src.Status {
	case pgtype.Null:
		return nil, nil
	case pgtype.Undefined:
		return nil, fmt.Errorf("cannot encode status undefined")
	}

	coeff := new(big.Int).Set(&src.Decimal.Coeff)
	if src.Decimal.Negative {
		coeff.Neg(coeff)
	}

	num := &pgtype.Numeric{Int: coeff, Exp: src.Decimal.Exponent, Status: pgtype.Present}
	return num.EncodeBinary(ci, buf)
}
