package codec

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/types"
)

// Value flags. Their byte order defines the order of differently typed
// key components; NULL sorts first.
const (
	nullFlag  byte = 0x00
	falseFlag byte = 0x01
	trueFlag  byte = 0x02
	intFlag   byte = 0x03
	floatFlag byte = 0x04
	bytesFlag byte = 0x05
	timeFlag  byte = 0x06
	uuidFlag  byte = 0x07
)

func appendMemComparableInt64(buf []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(v)^0x8000000000000000)
}

func readMemComparableInt64(data []byte) (int64, bool) {
	if len(data) < 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(data[:8]) ^ 0x8000000000000000), true
}

func appendMemComparableFloat64(buf []byte, f float64) []byte {
	u := math.Float64bits(f)
	if f >= 0 {
		u |= 0x8000000000000000
	} else {
		u = ^u
	}
	return binary.BigEndian.AppendUint64(buf, u)
}

func readMemComparableFloat64(data []byte) (float64, bool) {
	if len(data) < 8 {
		return 0, false
	}
	u := binary.BigEndian.Uint64(data[:8])
	if u&0x8000000000000000 != 0 {
		u &^= 0x8000000000000000
	} else {
		u = ^u
	}
	return math.Float64frombits(u), true
}

// appendMemComparableBytes escapes 0x00 as 0x00 0xFF and terminates with
// 0x00 0x00 so that byte order matches value order.
func appendMemComparableBytes(buf []byte, b []byte) []byte {
	for _, ch := range b {
		buf = append(buf, ch)
		if ch == 0x00 {
			buf = append(buf, 0xFF)
		}
	}
	return append(buf, 0x00, 0x00)
}

func readMemComparableBytes(data []byte) ([]byte, int, bool) {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != 0x00 {
			out = append(out, data[i])
			continue
		}
		if i+1 >= len(data) {
			return nil, 0, false
		}
		switch data[i+1] {
		case 0xFF:
			out = append(out, 0x00)
			i++
		case 0x00:
			return out, i + 2, true
		default:
			return nil, 0, false
		}
	}
	return nil, 0, false
}

// AppendKeyValue appends the memcomparable encoding of v to buf.
func AppendKeyValue(buf []byte, v types.Value) ([]byte, error) {
	switch d := v.Data.(type) {
	case nil:
		return append(buf, nullFlag), nil
	case bool:
		if d {
			return append(buf, trueFlag), nil
		}
		return append(buf, falseFlag), nil
	case int64:
		return appendMemComparableInt64(append(buf, intFlag), d), nil
	case float64:
		return appendMemComparableFloat64(append(buf, floatFlag), d), nil
	case string:
		return appendMemComparableBytes(append(buf, bytesFlag), []byte(d)), nil
	case []byte:
		return appendMemComparableBytes(append(buf, bytesFlag), d), nil
	case time.Time:
		return appendMemComparableInt64(append(buf, timeFlag), d.UnixNano()), nil
	case uuid.UUID:
		return append(append(buf, uuidFlag), d[:]...), nil
	default:
		return nil, errors.NewCodecErrorf("AppendKeyValue", "unsupported value type %T", v.Data)
	}
}

// ReadKeyValue decodes one component from data, restoring the column type
// typ. It returns the number of bytes consumed.
func ReadKeyValue(data []byte, typ types.ColumnType) (types.Value, int, error) {
	if len(data) == 0 {
		return types.Value{}, 0, errors.NewCodecErrorf("ReadKeyValue", "unexpected end of key")
	}

	switch data[0] {
	case nullFlag:
		return types.Null(typ), 1, nil
	case falseFlag, trueFlag:
		return types.Value{Data: data[0] == trueFlag, Type: typ}, 1, nil
	case intFlag:
		i, ok := readMemComparableInt64(data[1:])
		if !ok {
			break
		}
		return types.Value{Data: i, Type: typ}, 9, nil
	case floatFlag:
		f, ok := readMemComparableFloat64(data[1:])
		if !ok {
			break
		}
		return types.Value{Data: f, Type: typ}, 9, nil
	case bytesFlag:
		b, n, ok := readMemComparableBytes(data[1:])
		if !ok {
			break
		}
		if typ == types.ColumnTypeBytea {
			return types.Value{Data: b, Type: typ}, n + 1, nil
		}
		return types.Value{Data: string(b), Type: typ}, n + 1, nil
	case timeFlag:
		nanos, ok := readMemComparableInt64(data[1:])
		if !ok {
			break
		}
		return types.Value{Data: time.Unix(0, nanos).UTC(), Type: typ}, 9, nil
	case uuidFlag:
		if len(data) < 17 {
			break
		}
		var u uuid.UUID
		copy(u[:], data[1:17])
		return types.Value{Data: u, Type: typ}, 17, nil
	default:
		return types.Value{}, 0, errors.NewCodecErrorf("ReadKeyValue", "unknown value flag 0x%02x", data[0])
	}
	return types.Value{}, 0, errors.NewCodecErrorf("ReadKeyValue", "truncated %s component", typ)
}

// EncodeValue encodes a single value in memcomparable form.
func EncodeValue(v types.Value) ([]byte, error) {
	return AppendKeyValue(make([]byte, 0, 16), v)
}

// DecodeValue decodes a value produced by EncodeValue.
func DecodeValue(data []byte, typ types.ColumnType) (types.Value, error) {
	v, n, err := ReadKeyValue(data, typ)
	if err != nil {
		return types.Value{}, err
	}
	if n != len(data) {
		return types.Value{}, errors.NewCodecErrorf("DecodeValue", "%d trailing bytes", len(data)-n)
	}
	return v, nil
}
