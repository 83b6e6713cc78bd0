package pggate

import (
	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/docdb"
)

// Insert writes one row. Key columns are supplied with BindColumn, other
// columns with BindColumn or AssignColumn.
type Insert struct {
	*dmlWrite
}

func newInsert(s *Session, tableID catalog.ObjectID, desc *catalog.TableRef) *Insert {
	return &Insert{dmlWrite: newDmlWrite(s, stmtInsert, docdb.StmtInsert, tableID, desc)}
}
