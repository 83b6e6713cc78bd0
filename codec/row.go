package codec

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/types"
)

// EncodedRow is the stored form of a row: each non-null column value keyed
// by column ID in memcomparable encoding.
type EncodedRow struct {
	SchemaVersion uint32         `json:"sv"`
	Columns       map[int][]byte `json:"cols"`
	UpdatedAt     int64          `json:"ts"`
}

// EncodeRow serialises the column values of a row. NULL columns are omitted.
func EncodeRow(values map[int]types.Value, schemaVersion uint32) ([]byte, error) {
	row := EncodedRow{
		SchemaVersion: schemaVersion,
		Columns:       make(map[int][]byte, len(values)),
		UpdatedAt:     time.Now().UnixNano(),
	}
	for id, v := range values {
		if v.IsNull() {
			continue
		}
		data, err := EncodeValue(v)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrCodeCodec, "EncodeRow", "failed to encode column %d", id)
		}
		row.Columns[id] = data
	}

	data, err := json.Marshal(&row)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCodec, "EncodeRow")
	}
	return data, nil
}

// DecodeRow restores the column values of a row using the column types keyed
// by column ID. Columns absent from the stored row decode as NULL.
func DecodeRow(data []byte, colTypes map[int]types.ColumnType) (map[int]types.Value, error) {
	var row EncodedRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCodec, "DecodeRow")
	}

	values := make(map[int]types.Value, len(colTypes))
	for id, typ := range colTypes {
		raw, ok := row.Columns[id]
		if !ok {
			values[id] = types.Null(typ)
			continue
		}
		v, err := DecodeValue(raw, typ)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrCodeCodec, "DecodeRow", "failed to decode column %d", id)
		}
		values[id] = v
	}
	return values, nil
}
