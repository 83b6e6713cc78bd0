package docdb

import (
	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/codec"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/types"
)

// docRow is a decoded stored row.
type docRow struct {
	ybctid []byte
	values map[int]types.Value
}

func decodeDocRow(t *catalog.Table, ybctid, data []byte) (*docRow, error) {
	values, err := codec.DecodeRow(data, t.ColumnTypes())
	if err != nil {
		return nil, err
	}
	return &docRow{ybctid: append([]byte(nil), ybctid...), values: values}, nil
}

func (r *docRow) value(t *catalog.Table, columnID int) (types.Value, error) {
	if columnID == catalog.TupleIDAttrNum {
		return types.NewBytes(r.ybctid), nil
	}
	v, ok := r.values[columnID]
	if !ok {
		return types.Value{}, errors.NewInvalidColumnf("docRow.value", "column id %d does not exist in %s", columnID, t.Name)
	}
	return v, nil
}

// rowEnv resolves column names for foreign expressions, restricted to the
// columns the request declared.
type rowEnv struct {
	table   *catalog.Table
	row     *docRow
	allowed map[int]bool
}

func newAllowedColumns(colRefs []ColRef, legacy *ColumnRefs) map[int]bool {
	allowed := make(map[int]bool, len(colRefs))
	for _, ref := range colRefs {
		allowed[ref.ColumnID] = true
	}
	if legacy != nil {
		for _, id := range legacy.IDs {
			allowed[id] = true
		}
	}
	return allowed
}

func (e *rowEnv) resolve(name string) (types.Value, error) {
	col, ok := e.table.ColumnByName(name)
	if !ok || !e.allowed[col.ID] {
		return types.Value{}, errors.NewMissingColumnReferencef("resolve", "column %q is not among the referenced columns", name)
	}
	return e.row.value(e.table, col.ID)
}
