package types

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Value is a typed datum. A nil Data is SQL NULL.
//
// Data holds int64 for integer types, float64 for float types, string for
// text types, bool, []byte, time.Time or uuid.UUID.
type Value struct {
	Data interface{} `json:"data"`
	Type ColumnType  `json:"type"`
}

// Null returns a NULL of the given type.
func Null(typ ColumnType) Value {
	return Value{Type: typ}
}

func NewInt(v int64) Value           { return Value{Data: v, Type: ColumnTypeBigInt} }
func NewFloat(v float64) Value       { return Value{Data: v, Type: ColumnTypeDouble} }
func NewText(v string) Value         { return Value{Data: v, Type: ColumnTypeText} }
func NewBool(v bool) Value           { return Value{Data: v, Type: ColumnTypeBoolean} }
func NewBytes(v []byte) Value        { return Value{Data: v, Type: ColumnTypeBytea} }
func NewTimestamp(v time.Time) Value { return Value{Data: v.UTC(), Type: ColumnTypeTimestamp} }
func NewUUID(v uuid.UUID) Value      { return Value{Data: v, Type: ColumnTypeUUID} }

// IsNull reports whether the value is SQL NULL.
func (v Value) IsNull() bool {
	return v.Data == nil
}

// Int64 returns the value as an integer.
func (v Value) Int64() (int64, bool) {
	switch d := v.Data.(type) {
	case int64:
		return d, true
	case float64:
		if d == math.Trunc(d) {
			return int64(d), true
		}
	}
	return 0, false
}

// Float64 returns the value as a float, converting integers.
func (v Value) Float64() (float64, bool) {
	switch d := v.Data.(type) {
	case float64:
		return d, true
	case int64:
		return float64(d), true
	}
	return 0, false
}

// Bool returns the value as a boolean.
func (v Value) Bool() (bool, bool) {
	b, ok := v.Data.(bool)
	return b, ok
}

// Bytes returns the value as raw bytes.
func (v Value) Bytes() ([]byte, bool) {
	b, ok := v.Data.([]byte)
	return b, ok
}

func (v Value) String() string {
	switch d := v.Data.(type) {
	case nil:
		return "NULL"
	case string:
		return d
	case int64:
		return strconv.FormatInt(d, 10)
	case float64:
		return strconv.FormatFloat(d, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(d)
	case []byte:
		return fmt.Sprintf("\\x%x", d)
	case time.Time:
		return d.Format(time.RFC3339Nano)
	case uuid.UUID:
		return d.String()
	default:
		return fmt.Sprintf("%v", d)
	}
}

// Equal reports whether two values are equal. NULL equals NULL here; SQL
// three-valued logic is the evaluator's business.
func (v Value) Equal(o Value) bool {
	if v.IsNull() || o.IsNull() {
		return v.IsNull() && o.IsNull()
	}
	c, err := Compare(v, o)
	return err == nil && c == 0
}

// Compare orders two non-null values of compatible types.
func Compare(a, b Value) (int, error) {
	if a.IsNull() || b.IsNull() {
		return 0, fmt.Errorf("cannot compare NULL values")
	}

	switch ad := a.Data.(type) {
	case int64:
		if bd, ok := b.Data.(int64); ok {
			return cmpOrdered(ad, bd), nil
		}
		if bf, ok := b.Float64(); ok {
			return cmpOrdered(float64(ad), bf), nil
		}
	case float64:
		if bf, ok := b.Float64(); ok {
			return cmpOrdered(ad, bf), nil
		}
	case string:
		if bd, ok := b.Data.(string); ok {
			return strings.Compare(ad, bd), nil
		}
	case bool:
		if bd, ok := b.Data.(bool); ok {
			switch {
			case ad == bd:
				return 0, nil
			case !ad:
				return -1, nil
			default:
				return 1, nil
			}
		}
	case []byte:
		if bd, ok := b.Data.([]byte); ok {
			return bytes.Compare(ad, bd), nil
		}
	case time.Time:
		if bd, ok := b.Data.(time.Time); ok {
			return ad.Compare(bd), nil
		}
	case uuid.UUID:
		if bd, ok := b.Data.(uuid.UUID); ok {
			return bytes.Compare(ad[:], bd[:]), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %s with %s", a.Type, b.Type)
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// FromGo builds a Value from a native Go value, normalising integer and
// float widths.
func FromGo(x interface{}) (Value, error) {
	switch d := x.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return d, nil
	case int:
		return NewInt(int64(d)), nil
	case int8:
		return NewInt(int64(d)), nil
	case int16:
		return NewInt(int64(d)), nil
	case int32:
		return NewInt(int64(d)), nil
	case int64:
		return NewInt(d), nil
	case uint8:
		return NewInt(int64(d)), nil
	case uint16:
		return NewInt(int64(d)), nil
	case uint32:
		return NewInt(int64(d)), nil
	case float32:
		return NewFloat(float64(d)), nil
	case float64:
		return NewFloat(d), nil
	case string:
		return NewText(d), nil
	case bool:
		return NewBool(d), nil
	case []byte:
		return NewBytes(d), nil
	case time.Time:
		return NewTimestamp(d), nil
	case uuid.UUID:
		return NewUUID(d), nil
	default:
		return Value{}, fmt.Errorf("unsupported Go type %T", x)
	}
}

// Coerce converts v to the column type typ. NULL coerces to a typed NULL.
func Coerce(v Value, typ ColumnType) (Value, error) {
	if v.IsNull() {
		return Null(typ), nil
	}

	switch {
	case typ.IsInteger():
		if i, ok := v.Int64(); ok {
			return Value{Data: i, Type: typ}, nil
		}
		if s, ok := v.Data.(string); ok {
			i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("invalid input for %s: %q", typ, s)
			}
			return Value{Data: i, Type: typ}, nil
		}
	case typ.IsFloat():
		if f, ok := v.Float64(); ok {
			return Value{Data: f, Type: typ}, nil
		}
		if s, ok := v.Data.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return Value{}, fmt.Errorf("invalid input for %s: %q", typ, s)
			}
			return Value{Data: f, Type: typ}, nil
		}
	case typ.IsString():
		switch v.Data.(type) {
		case string:
			return Value{Data: v.Data, Type: typ}, nil
		case int64, float64, bool:
			return Value{Data: v.String(), Type: typ}, nil
		}
	case typ == ColumnTypeBoolean:
		switch d := v.Data.(type) {
		case bool:
			return NewBool(d), nil
		case string:
			b, err := strconv.ParseBool(d)
			if err != nil {
				return Value{}, fmt.Errorf("invalid input for boolean: %q", d)
			}
			return NewBool(b), nil
		}
	case typ == ColumnTypeBytea:
		switch d := v.Data.(type) {
		case []byte:
			return NewBytes(d), nil
		case string:
			return NewBytes([]byte(d)), nil
		}
	case typ == ColumnTypeTimestamp:
		switch d := v.Data.(type) {
		case time.Time:
			return NewTimestamp(d), nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, d)
			if err != nil {
				return Value{}, fmt.Errorf("invalid input for timestamp: %q", d)
			}
			return NewTimestamp(ts), nil
		case int64:
			return NewTimestamp(time.Unix(0, d)), nil
		}
	case typ == ColumnTypeUUID:
		switch d := v.Data.(type) {
		case uuid.UUID:
			return NewUUID(d), nil
		case string:
			u, err := uuid.Parse(d)
			if err != nil {
				return Value{}, fmt.Errorf("invalid input for uuid: %q", d)
			}
			return NewUUID(u), nil
		case []byte:
			u, err := uuid.FromBytes(d)
			if err != nil {
				return Value{}, fmt.Errorf("invalid input for uuid: %w", err)
			}
			return NewUUID(u), nil
		}
	}
	return Value{}, fmt.Errorf("cannot convert %s value %s to %s", v.Type, v.String(), typ)
}
