package pggate

import (
	"context"

	"github.com/guileen/pglitegate/engine/errors"
)

// IndexState is the state of a select's nested secondary index lookup.
type IndexState int

const (
	// IndexInactive: no nested lookup, the base table is scanned directly.
	IndexInactive IndexState = iota
	// IndexPending: the lookup is prepared but has not run.
	IndexPending
	// IndexResolved: the lookup ran and its ybctids drive the outer read.
	IndexResolved
)

func (s IndexState) String() string {
	switch s {
	case IndexPending:
		return "pending"
	case IndexResolved:
		return "resolved"
	default:
		return "inactive"
	}
}

// indexSubquery is the inner select on a secondary index that produces the
// ybctids of the base rows an outer select reads.
type indexSubquery struct {
	state IndexState
	stmt  *Select
}

// hasConditions reports whether the lookup narrows the scan at all.
func (q *indexSubquery) hasConditions() bool {
	return q.stmt.bindings.count(RoleBind) > 0 || len(q.stmt.quals) > 0
}

// resolve runs the inner select to completion and splits the ybctids it
// returns into batches of at most batchSize. Nothing is kept on error.
func (q *indexSubquery) resolve(ctx context.Context, batchSize int) ([][][]byte, error) {
	const op = "processSecondaryIndexRequest"

	var ybctids [][]byte
	t := NewTuple(0)
	for {
		ok, err := q.stmt.GetNextRow(ctx, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if t.Sys.YbBaseCtid == nil {
			return nil, errors.NewInvalidStatef(op, "index row without %s", "ybidxbasectid")
		}
		ybctids = append(ybctids, t.Sys.YbBaseCtid)
	}
	q.state = IndexResolved
	return splitBatches(ybctids, batchSize), nil
}

// remoteOps returns the operations the inner select issued.
func (q *indexSubquery) remoteOps() int {
	if q.stmt == nil || q.stmt.op == nil {
		return 0
	}
	return q.stmt.op.ops
}

// drop releases the inner select; the outer select then scans its table.
func (q *indexSubquery) drop() {
	if q.stmt != nil {
		q.stmt.Close()
		q.stmt = nil
	}
	q.state = IndexInactive
}

func splitBatches(ids [][]byte, size int) [][][]byte {
	if size <= 0 {
		size = max(len(ids), 1)
	}
	out := make([][][]byte, 0, (len(ids)+size-1)/size)
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n:n])
		ids = ids[n:]
	}
	return out
}
