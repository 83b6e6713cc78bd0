package pggate

import (
	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/docdb"
)

// Update changes the rows selected by the bound key, ybctid or the whole
// table, optionally filtered by quals.
type Update struct {
	*dmlWrite
}

func newUpdate(s *Session, tableID catalog.ObjectID, desc *catalog.TableRef) *Update {
	return &Update{dmlWrite: newDmlWrite(s, stmtUpdate, docdb.StmtUpdate, tableID, desc)}
}
