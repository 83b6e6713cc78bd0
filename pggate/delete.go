package pggate

import (
	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/docdb"
)

// Delete removes the rows selected by the bound key, ybctid or the whole
// table. BindTable on a colocated table truncates it.
type Delete struct {
	*dmlWrite
}

func newDelete(s *Session, tableID catalog.ObjectID, desc *catalog.TableRef) *Delete {
	return &Delete{dmlWrite: newDmlWrite(s, stmtDelete, docdb.StmtDelete, tableID, desc)}
}
