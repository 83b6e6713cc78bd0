package pggate

import (
	"context"

	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/docdb"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/logger"
)

// dmlWrite is the part shared by Insert, Update and Delete. The write runs
// during Exec; RETURNING rows are then read with GetNextRow or Fetch.
type dmlWrite struct {
	*Dml
	req          *docdb.WriteRequest
	rowsAffected int64
}

func newDmlWrite(s *Session, kind stmtKind, stmtType docdb.StmtType, tableID catalog.ObjectID, desc *catalog.TableRef) *dmlWrite {
	req := &docdb.WriteRequest{StmtType: stmtType, TableID: desc.ID}
	return &dmlWrite{
		Dml: newDml(s, kind, tableID, desc, newWritePayload(req)),
		req: req,
	}
}

// Exec lowers the statement and sends the write to storage.
func (w *dmlWrite) Exec(ctx context.Context, params *ExecParameters) error {
	const op = "Exec"
	if err := w.exec(ctx, params); err != nil {
		return err
	}
	if w.kind != stmtInsert && w.bindings.count(RoleBind) == 0 && !w.bindTable {
		// A colocated table shares its tablet, so an unkeyed write scans
		// only this table's rows there, filtered by the quals.
		if !w.targetDesc.Colocated {
			w.err = errors.NewInvalidStatef(op, "%s needs a key, a ybctid or the whole table bound", w.kind)
			return w.err
		}
		if err := w.payload.bindTable(); err != nil {
			w.err = err
			return err
		}
	}

	w.op = newWriteOp(w.session)
	resp, err := w.op.write(w.logContext(ctx), w.req)
	w.syncRemoteOps()
	w.done = true
	if err != nil {
		w.err = err
		errors.LogWarning(w.logContext(ctx), err)
		return err
	}

	w.rowsAffected = resp.RowsAffected
	if params != nil {
		params.RowsAffected = resp.RowsAffected
	}
	w.rowsets.push(resp.Rows)
	logger.DebugContext(w.logContext(ctx), "write applied",
		logger.Component("pggate"),
		logger.String("kind", w.kind.String()),
		logger.Table(w.targetDesc.Name),
		logger.Int64("rows_affected", resp.RowsAffected))
	return nil
}

// RowsAffected returns the number of rows the last Exec changed.
func (w *dmlWrite) RowsAffected() int64 {
	return w.rowsAffected
}

// Request returns the write payload. It is complete after Exec.
func (w *dmlWrite) Request() *docdb.WriteRequest {
	return w.req
}
