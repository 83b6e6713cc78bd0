package pggate

import (
	"github.com/guileen/pglitegate/docdb"
	"github.com/guileen/pglitegate/engine/errors"
)

// payloadBuilder allocates slots in the request a statement sends to
// storage. readPayload backs Select, writePayload backs Insert, Update and
// Delete.
type payloadBuilder interface {
	allocTarget() *docdb.Expression
	allocQual() *docdb.Expression
	allocPartitionBind(columnID int) *docdb.Expression
	allocRangeBind(columnID int) *docdb.Expression
	allocYbctidBind() *docdb.Expression
	allocColumnValue(columnID int) (*docdb.Expression, error)
	setColRefs(refs []docdb.ColRef, legacy *docdb.ColumnRefs)
	setCatalogVersion(version uint64)
	bindTable() error
}

type readPayload struct {
	req *docdb.ReadRequest
}

func newReadPayload(req *docdb.ReadRequest) *readPayload {
	return &readPayload{req: req}
}

func (p *readPayload) allocTarget() *docdb.Expression {
	e := &docdb.Expression{}
	p.req.Targets = append(p.req.Targets, e)
	return e
}

func (p *readPayload) allocQual() *docdb.Expression {
	e := &docdb.Expression{}
	p.req.WhereClauses = append(p.req.WhereClauses, e)
	return e
}

func (p *readPayload) allocPartitionBind(columnID int) *docdb.Expression {
	e := &docdb.Expression{}
	p.req.PartitionColumnValues = append(p.req.PartitionColumnValues, &docdb.ColumnValue{ColumnID: columnID, Expr: e})
	return e
}

func (p *readPayload) allocRangeBind(columnID int) *docdb.Expression {
	e := &docdb.Expression{}
	p.req.RangeColumnValues = append(p.req.RangeColumnValues, &docdb.ColumnValue{ColumnID: columnID, Expr: e})
	return e
}

func (p *readPayload) allocYbctidBind() *docdb.Expression {
	if p.req.YbctidColumnValue == nil {
		p.req.YbctidColumnValue = &docdb.Expression{}
	}
	return p.req.YbctidColumnValue
}

func (p *readPayload) allocColumnValue(columnID int) (*docdb.Expression, error) {
	return nil, errors.NewInvalidStatef("readPayload.allocColumnValue", "reads have no column values (column id %d)", columnID)
}

func (p *readPayload) setColRefs(refs []docdb.ColRef, legacy *docdb.ColumnRefs) {
	p.req.ColRefs = refs
	p.req.ColumnRefs = legacy
}

func (p *readPayload) setCatalogVersion(version uint64) {
	p.req.CatalogVersion = version
}

// A whole-table read is a full scan.
func (p *readPayload) bindTable() error {
	return nil
}

type writePayload struct {
	req *docdb.WriteRequest
}

func newWritePayload(req *docdb.WriteRequest) *writePayload {
	return &writePayload{req: req}
}

func (p *writePayload) allocTarget() *docdb.Expression {
	e := &docdb.Expression{}
	p.req.Targets = append(p.req.Targets, e)
	return e
}

func (p *writePayload) allocQual() *docdb.Expression {
	e := &docdb.Expression{}
	p.req.WhereClauses = append(p.req.WhereClauses, e)
	return e
}

func (p *writePayload) allocPartitionBind(columnID int) *docdb.Expression {
	e := &docdb.Expression{}
	p.req.PartitionColumnValues = append(p.req.PartitionColumnValues, &docdb.ColumnValue{ColumnID: columnID, Expr: e})
	return e
}

func (p *writePayload) allocRangeBind(columnID int) *docdb.Expression {
	e := &docdb.Expression{}
	p.req.RangeColumnValues = append(p.req.RangeColumnValues, &docdb.ColumnValue{ColumnID: columnID, Expr: e})
	return e
}

func (p *writePayload) allocYbctidBind() *docdb.Expression {
	if p.req.YbctidColumnValue == nil {
		p.req.YbctidColumnValue = &docdb.Expression{}
	}
	return p.req.YbctidColumnValue
}

func (p *writePayload) allocColumnValue(columnID int) (*docdb.Expression, error) {
	e := &docdb.Expression{}
	p.req.ColumnValues = append(p.req.ColumnValues, &docdb.ColumnValue{ColumnID: columnID, Expr: e})
	return e, nil
}

func (p *writePayload) setColRefs(refs []docdb.ColRef, legacy *docdb.ColumnRefs) {
	p.req.ColRefs = refs
	p.req.ColumnRefs = legacy
}

func (p *writePayload) setCatalogVersion(version uint64) {
	p.req.CatalogVersion = version
}

func (p *writePayload) bindTable() error {
	if p.req.StmtType == docdb.StmtInsert {
		return errors.NewInvalidStatef("writePayload.bindTable", "insert cannot target the whole table")
	}
	p.req.WholeTable = true
	return nil
}
