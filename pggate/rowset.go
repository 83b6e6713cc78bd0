package pggate

import "github.com/guileen/pglitegate/docdb"

// rowSet is one batch of rows returned by a remote operation.
type rowSet struct {
	rows []docdb.Row
	pos  int
}

func newRowSet(rows []docdb.Row) *rowSet {
	return &rowSet{rows: rows}
}

func (r *rowSet) hasRows() bool {
	return r.pos < len(r.rows)
}

func (r *rowSet) nextRow() *docdb.Row {
	row := &r.rows[r.pos]
	r.pos++
	return row
}

// rowSetQueue holds the batches of one execution in arrival order.
type rowSetQueue struct {
	sets []*rowSet
}

func (q *rowSetQueue) push(rows []docdb.Row) {
	if len(rows) == 0 {
		return
	}
	q.sets = append(q.sets, newRowSet(rows))
}

// next returns the next unconsumed row, or nil when every buffered batch is
// drained.
func (q *rowSetQueue) next() *docdb.Row {
	for len(q.sets) > 0 {
		head := q.sets[0]
		if head.hasRows() {
			return head.nextRow()
		}
		q.sets[0] = nil
		q.sets = q.sets[1:]
	}
	return nil
}

func (q *rowSetQueue) reset() {
	q.sets = nil
}
