package codec

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/guileen/pglitegate/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEncode(t *testing.T, v types.Value) []byte {
	t.Helper()
	b, err := EncodeValue(v)
	require.NoError(t, err)
	return b
}

func TestEncodeValue_PreservesOrder(t *testing.T) {
	t.Run("integers", func(t *testing.T) {
		ints := []int64{math.MinInt64, -1000, -1, 0, 1, 42, math.MaxInt64}
		for i := 1; i < len(ints); i++ {
			a := mustEncode(t, types.NewInt(ints[i-1]))
			b := mustEncode(t, types.NewInt(ints[i]))
			assert.Negative(t, bytes.Compare(a, b), "%d < %d", ints[i-1], ints[i])
		}
	})

	t.Run("floats", func(t *testing.T) {
		floats := []float64{math.Inf(-1), -2.5, -0.1, 0, 0.1, 3.75, math.Inf(1)}
		for i := 1; i < len(floats); i++ {
			a := mustEncode(t, types.NewFloat(floats[i-1]))
			b := mustEncode(t, types.NewFloat(floats[i]))
			assert.Negative(t, bytes.Compare(a, b), "%v < %v", floats[i-1], floats[i])
		}
	})

	t.Run("strings with embedded zero bytes", func(t *testing.T) {
		strs := []string{"", "a", "a\x00", "a\x00b", "ab", "b"}
		for i := 1; i < len(strs); i++ {
			a := mustEncode(t, types.NewText(strs[i-1]))
			b := mustEncode(t, types.NewText(strs[i]))
			assert.Negative(t, bytes.Compare(a, b), "%q < %q", strs[i-1], strs[i])
		}
	})

	t.Run("null sorts first", func(t *testing.T) {
		null := mustEncode(t, types.Null(types.ColumnTypeBigInt))
		assert.Negative(t, bytes.Compare(null, mustEncode(t, types.NewInt(math.MinInt64))))
	})
}

func TestDecodeValue_RestoresTypedValues(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	values := []types.Value{
		types.NewInt(-7),
		types.NewFloat(-1.5),
		types.NewText("he\x00llo"),
		types.NewBytes([]byte{0x00, 0xFF, 0x01}),
		types.NewBool(true),
		types.NewTimestamp(ts),
		types.NewUUID(id),
		types.Null(types.ColumnTypeText),
	}
	for _, v := range values {
		got, err := DecodeValue(mustEncode(t, v), v.Type)
		require.NoError(t, err)
		assert.True(t, v.Equal(got), "want %v got %v", v, got)
	}
}

func TestDecodeValue_Errors(t *testing.T) {
	_, err := DecodeValue(nil, types.ColumnTypeBigInt)
	assert.Error(t, err)

	_, err = DecodeValue([]byte{intFlag, 0x01}, types.ColumnTypeBigInt)
	assert.Error(t, err)

	_, err = DecodeValue([]byte{0x7E}, types.ColumnTypeBigInt)
	assert.Error(t, err)

	trailing := append(mustEncode(t, types.NewInt(1)), 0x01)
	_, err = DecodeValue(trailing, types.ColumnTypeBigInt)
	assert.Error(t, err)
}

func TestDocKey(t *testing.T) {
	t.Run("range only keys follow value order", func(t *testing.T) {
		k5, err := EncodeDocKey(nil, []types.Value{types.NewInt(5)})
		require.NoError(t, err)
		k9, err := EncodeDocKey(nil, []types.Value{types.NewInt(9)})
		require.NoError(t, err)
		assert.Negative(t, bytes.Compare(k5, k9))
	})

	t.Run("hash keys round trip", func(t *testing.T) {
		hash := []types.Value{types.NewInt(10)}
		rng := []types.Value{types.NewText("x"), types.NewInt(3)}

		ybctid, err := EncodeDocKey(hash, rng)
		require.NoError(t, err)

		prefix, err := EncodeHashPrefix(hash)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(ybctid, prefix))

		gotHash, gotRange, err := DecodeDocKey(ybctid,
			[]types.ColumnType{types.ColumnTypeBigInt},
			[]types.ColumnType{types.ColumnTypeText, types.ColumnTypeBigInt})
		require.NoError(t, err)
		require.Len(t, gotHash, 1)
		require.Len(t, gotRange, 2)
		assert.True(t, hash[0].Equal(gotHash[0]))
		assert.True(t, rng[0].Equal(gotRange[0]))
		assert.True(t, rng[1].Equal(gotRange[1]))
	})

	t.Run("trailing bytes are rejected", func(t *testing.T) {
		ybctid, err := EncodeDocKey(nil, []types.Value{types.NewInt(1), types.NewInt(2)})
		require.NoError(t, err)
		_, _, err = DecodeDocKey(ybctid, nil, []types.ColumnType{types.ColumnTypeBigInt})
		assert.Error(t, err)
	})
}

func TestRowKey(t *testing.T) {
	ybctid := []byte{0x03, 0x01}
	key := RowKey(16384, ybctid)

	assert.True(t, bytes.HasPrefix(key, TablePrefix(16384)))
	assert.Negative(t, bytes.Compare(key, TableUpperBound(16384)))

	table, got, err := SplitRowKey(key)
	require.NoError(t, err)
	assert.Equal(t, uint32(16384), table)
	assert.Equal(t, ybctid, got)

	_, _, err = SplitRowKey(MetaKey("table", "t"))
	assert.Error(t, err)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x03}, PrefixUpperBound([]byte{0x01, 0x02}))
	assert.Equal(t, []byte{0x02}, PrefixUpperBound([]byte{0x01, 0xFF}))
	assert.Nil(t, PrefixUpperBound([]byte{0xFF, 0xFF}))
}

func TestRowEncoding(t *testing.T) {
	values := map[int]types.Value{
		1: types.NewInt(1),
		2: types.NewText("alice"),
		3: types.Null(types.ColumnTypeDouble),
	}
	data, err := EncodeRow(values, 2)
	require.NoError(t, err)

	colTypes := map[int]types.ColumnType{
		1: types.ColumnTypeBigInt,
		2: types.ColumnTypeText,
		3: types.ColumnTypeDouble,
		4: types.ColumnTypeBoolean,
	}
	got, err := DecodeRow(data, colTypes)
	require.NoError(t, err)

	assert.True(t, got[1].Equal(values[1]))
	assert.True(t, got[2].Equal(values[2]))
	assert.True(t, got[3].IsNull())
	assert.True(t, got[4].IsNull(), "columns added after the row was written decode as NULL")

	_, err = DecodeRow([]byte("{"), colTypes)
	assert.Error(t, err)
}
