package codec

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/types"
)

// KeyType prefixes every key in the KV store.
type KeyType byte

const (
	KeyTypeMeta  KeyType = 'm'
	KeyTypeTable KeyType = 't'
)

// TablePrefix returns the key prefix shared by all rows of a table.
func TablePrefix(tableOID uint32) []byte {
	buf := make([]byte, 0, 5)
	buf = append(buf, byte(KeyTypeTable))
	return binary.BigEndian.AppendUint32(buf, tableOID)
}

// TableUpperBound returns the exclusive upper bound of a table's keys.
func TableUpperBound(tableOID uint32) []byte {
	buf := make([]byte, 0, 5)
	buf = append(buf, byte(KeyTypeTable))
	return binary.BigEndian.AppendUint32(buf, tableOID+1)
}

// RowKey returns the KV key of the row identified by ybctid.
func RowKey(tableOID uint32, ybctid []byte) []byte {
	key := make([]byte, 0, 5+len(ybctid))
	key = append(key, TablePrefix(tableOID)...)
	return append(key, ybctid...)
}

// SplitRowKey strips the table prefix and returns the ybctid.
func SplitRowKey(key []byte) (uint32, []byte, error) {
	if len(key) < 5 || key[0] != byte(KeyTypeTable) {
		return 0, nil, errors.NewCodecErrorf("SplitRowKey", "not a row key")
	}
	return binary.BigEndian.Uint32(key[1:5]), key[5:], nil
}

// MetaKey encodes a catalog metadata key.
func MetaKey(kind, name string) []byte {
	key := make([]byte, 0, 2+len(kind)+len(name))
	key = append(key, byte(KeyTypeMeta))
	key = append(key, kind...)
	key = append(key, '/')
	return append(key, name...)
}

// MetaPrefix returns the prefix of all metadata keys of one kind.
func MetaPrefix(kind string) []byte {
	return MetaKey(kind, "")
}

// HashCode computes the 16-bit partition hash of the encoded hash components.
func HashCode(encodedHash []byte) uint16 {
	return uint16(xxhash.Sum64(encodedHash))
}

// EncodeDocKey builds the row identifier (ybctid) from the hash and range key
// components. Hash-partitioned keys start with the 16-bit hash code so that
// rows spread across the key space.
func EncodeDocKey(hash, rng []types.Value) ([]byte, error) {
	var hashPart []byte
	var err error
	for _, v := range hash {
		if hashPart, err = AppendKeyValue(hashPart, v); err != nil {
			return nil, err
		}
	}

	key := make([]byte, 0, 2+len(hashPart)+16*len(rng))
	if len(hash) > 0 {
		key = binary.BigEndian.AppendUint16(key, HashCode(hashPart))
		key = append(key, hashPart...)
	}
	for _, v := range rng {
		if key, err = AppendKeyValue(key, v); err != nil {
			return nil, err
		}
	}
	return key, nil
}

// EncodeHashPrefix returns the ybctid prefix shared by all rows whose hash
// components equal hash.
func EncodeHashPrefix(hash []types.Value) ([]byte, error) {
	return EncodeDocKey(hash, nil)
}

// DecodeDocKey splits a ybctid back into typed hash and range components.
func DecodeDocKey(ybctid []byte, hashTypes, rangeTypes []types.ColumnType) ([]types.Value, []types.Value, error) {
	pos := 0
	if len(hashTypes) > 0 {
		if len(ybctid) < 2 {
			return nil, nil, errors.NewCodecErrorf("DecodeDocKey", "ybctid too short")
		}
		pos = 2
	}

	read := func(typs []types.ColumnType) ([]types.Value, error) {
		out := make([]types.Value, 0, len(typs))
		for _, typ := range typs {
			v, n, err := ReadKeyValue(ybctid[pos:], typ)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			pos += n
		}
		return out, nil
	}

	hash, err := read(hashTypes)
	if err != nil {
		return nil, nil, err
	}
	rng, err := read(rangeTypes)
	if err != nil {
		return nil, nil, err
	}
	if pos != len(ybctid) {
		return nil, nil, errors.NewCodecErrorf("DecodeDocKey", "%d trailing bytes in ybctid", len(ybctid)-pos)
	}
	return hash, rng, nil
}

// PrefixUpperBound returns the smallest key greater than every key that has
// prefix, or nil when no such key exists.
func PrefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
