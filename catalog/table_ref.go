package catalog

import (
	"sync/atomic"
)

type tableEntry struct {
	table *Table
	refs  atomic.Int32
}

// TableRef is a shared read-only handle on a table descriptor. Every
// TableRef obtained from the catalog must be released exactly once.
type TableRef struct {
	*Table
	entry    *tableEntry
	released atomic.Bool
}

func newTableRef(e *tableEntry) *TableRef {
	e.refs.Add(1)
	return &TableRef{Table: e.table, entry: e}
}

// Clone returns another handle on the same descriptor.
func (r *TableRef) Clone() *TableRef {
	return newTableRef(r.entry)
}

// Release drops the handle. Extra calls are no-ops.
func (r *TableRef) Release() {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return
	}
	r.entry.refs.Add(-1)
}

// Refs returns the number of live handles on the descriptor.
func (r *TableRef) Refs() int {
	return int(r.entry.refs.Load())
}
