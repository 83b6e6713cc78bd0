package pggate

import (
	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/docdb"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/expr"
	"github.com/guileen/pglitegate/types"
)

// SysColumns are the system attributes of a fetched row.
type SysColumns struct {
	Ybctid     []byte
	YbBaseCtid []byte
	RowOrder   int64
}

// Tuple is a row in the caller's attribute layout: slot i holds attribute
// i+1 of the target table. Targets that are not column references land in
// Exprs in target order, except for aggregate-only target lists whose single
// synthetic row fills slot i with target i.
type Tuple struct {
	Values []types.Value
	Nulls  []bool
	Exprs  []types.Value
	Sys    SysColumns
}

func NewTuple(natts int) *Tuple {
	t := &Tuple{Values: make([]types.Value, natts), Nulls: make([]bool, natts)}
	t.Clear()
	return t
}

// Clear nulls every slot and the system columns.
func (t *Tuple) Clear() {
	for i := range t.Values {
		t.Values[i] = types.Value{}
	}
	for i := range t.Nulls {
		t.Nulls[i] = true
	}
	t.Exprs = t.Exprs[:0]
	t.Sys = SysColumns{}
}

// FetchResult is a fetched row. When HasData is false every slot is null.
type FetchResult struct {
	Tuple
	HasData bool
}

// TupleBuffer is a caller-owned FetchResult reused across fetches. Its
// length is the number of attributes fetched.
type TupleBuffer = FetchResult

func NewTupleBuffer(natts int) *TupleBuffer {
	return &TupleBuffer{Tuple: *NewTuple(natts)}
}

// targetSlot returns the tuple slot target i is written to, -1 for system
// columns or -2 for expressions collected in Exprs.
func targetSlot(i int, target expr.Expr, synthetic bool) int {
	if synthetic {
		return i
	}
	if ref, ok := target.(*expr.ColumnRef); ok {
		if ref.IsSystem() {
			return -1
		}
		return ref.AttrNum - 1
	}
	return -2
}

// fill writes row into t. synthetic lays the row out in target order. The
// tuple is left untouched on error.
func (t *Tuple) fill(targets []expr.Expr, row *docdb.Row, order int64, synthetic bool) error {
	const op = "Tuple.fill"

	if len(row.Values) != len(targets) {
		return errors.NewInvalidStatef(op, "row has %d values for %d targets", len(row.Values), len(targets))
	}
	if len(t.Nulls) != len(t.Values) {
		return errors.NewInvalidStatef(op, "tuple has %d values and %d null flags", len(t.Values), len(t.Nulls))
	}
	for i, target := range targets {
		if slot := targetSlot(i, target, synthetic); slot >= len(t.Values) {
			return errors.NewInvalidColumnf(op, "target %d needs slot %d, tuple has %d attributes", i, slot, len(t.Values))
		}
	}

	t.Clear()
	t.Sys.Ybctid = row.Ybctid
	t.Sys.RowOrder = order
	for i, target := range targets {
		v := row.Values[i]
		switch slot := targetSlot(i, target, synthetic); slot {
		case -2:
			t.Exprs = append(t.Exprs, v)
		case -1:
			b, _ := v.Bytes()
			switch target.(*expr.ColumnRef).AttrNum {
			case catalog.TupleIDAttrNum:
				t.Sys.Ybctid = b
			case catalog.IdxBaseTupleIDAttrNum:
				t.Sys.YbBaseCtid = b
			}
		default:
			t.Values[slot] = v
			t.Nulls[slot] = v.IsNull()
		}
	}
	return nil
}
