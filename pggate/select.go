package pggate

import (
	"context"

	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/docdb"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/expr"
	"github.com/guileen/pglitegate/logger"
)

// Select reads rows of a table, or of an index for index-only scans. When
// prepared with a secondary index and no index-only scan it first looks up
// the matching ybctids in the index and reads the base rows by ybctid.
type Select struct {
	*Dml
	req    *docdb.ReadRequest
	params PrepareParams
	index  indexSubquery
}

func newSelect(s *Session, tableID catalog.ObjectID, desc *catalog.TableRef, params PrepareParams) *Select {
	req := &docdb.ReadRequest{TableID: desc.ID}
	sel := &Select{
		Dml:    newDml(s, stmtSelect, tableID, desc, newReadPayload(req)),
		req:    req,
		params: params,
	}
	sel.openOp = sel.openReadOp
	return sel
}

// IndexState returns the state of the nested index lookup.
func (s *Select) IndexState() IndexState {
	return s.index.state
}

// Request returns the read payload. It is complete after Exec.
func (s *Select) Request() *docdb.ReadRequest {
	return s.req
}

func (s *Select) nested() bool {
	return s.index.state == IndexPending && s.index.stmt != nil
}

// BindColumn binds a key column. With a pending nested lookup the bind
// refers to the index and is forwarded to the lookup.
func (s *Select) BindColumn(attr int, e expr.Expr) error {
	const op = "BindColumn"
	if !s.nested() {
		return s.Dml.BindColumn(attr, e)
	}
	if err := s.checkMutable(op); err != nil {
		return err
	}
	if s.bindTable {
		return errors.NewInvalidStatef(op, "statement is bound to the whole table")
	}
	return s.index.stmt.BindColumn(attr, e)
}

func (s *Select) BindTable() error {
	if s.nested() && s.index.stmt.bindings.count(RoleBind) > 0 {
		return errors.NewInvalidStatef("BindTable", "statement already has bound columns")
	}
	return s.Dml.BindTable()
}

// SetCatalogCacheVersion pins the catalog version of the select and of its
// nested lookup.
func (s *Select) SetCatalogCacheVersion(version uint64) error {
	if err := s.Dml.SetCatalogCacheVersion(version); err != nil {
		return err
	}
	if s.index.stmt != nil {
		return s.index.stmt.SetCatalogCacheVersion(version)
	}
	return nil
}

// AppendIndexQual adds a qual evaluated against the index rows of the
// nested lookup.
func (s *Select) AppendIndexQual(e expr.Expr) error {
	const op = "AppendIndexQual"
	if err := s.checkMutable(op); err != nil {
		return err
	}
	if !s.nested() {
		return errors.NewInvalidStatef(op, "select has no nested index lookup")
	}
	return s.index.stmt.AppendQual(e)
}

// AppendIndexColumnRef registers an index column read by index quals.
func (s *Select) AppendIndexColumnRef(e expr.Expr) error {
	const op = "AppendIndexColumnRef"
	if err := s.checkMutable(op); err != nil {
		return err
	}
	if !s.nested() {
		return errors.NewInvalidStatef(op, "select has no nested index lookup")
	}
	return s.index.stmt.AppendColumnRef(e)
}

// GetColumnInfo describes column attr of the bind object: the index while a
// nested lookup is pending, the scanned relation otherwise.
func (s *Select) GetColumnInfo(attr int) (catalog.ColumnInfo, error) {
	if s.nested() {
		return s.index.stmt.GetColumnInfo(attr)
	}
	return s.Dml.GetColumnInfo(attr)
}

// Exec prepares the select for fetching. Rows are requested on the first
// fetch.
func (s *Select) Exec(ctx context.Context, params *ExecParameters) error {
	const op = "Exec"
	if s.index.stmt != nil {
		s.index.state = IndexPending
	}
	if err := s.exec(ctx, params); err != nil {
		return err
	}
	s.req.IsAggregate = s.hasAggTargets

	if s.index.state != IndexPending {
		return nil
	}
	if !s.index.hasConditions() {
		logger.DebugContext(s.logContext(ctx), "secondary index lookup has no conditions, scanning base table",
			logger.Component("pggate"),
			logger.Table(s.targetDesc.Name))
		s.index.drop()
		return nil
	}
	if err := s.index.stmt.Exec(ctx, nil); err != nil {
		s.err = errors.NestedQueryFailed(err, op)
		return s.err
	}
	return nil
}

func (s *Select) openReadOp(ctx context.Context) (*docOp, error) {
	var batches [][][]byte
	if s.index.state == IndexPending {
		// Aggregates fold every matching row into one result row, so the
		// ybctids go out in a single batch.
		batchSize := s.session.cfg.YbctidBatchSize
		if s.req.IsAggregate {
			batchSize = 0
		}
		b, err := s.index.resolve(ctx, batchSize)
		s.nestedOps = s.index.remoteOps()
		if err != nil {
			s.session.metrics.nestedLookup("error")
			return nil, errors.NestedQueryFailed(err, "FetchDataFromServer")
		}
		result := "resolved"
		if len(b) == 0 {
			result = "empty"
		}
		s.session.metrics.nestedLookup(result)
		logger.DebugContext(s.logContext(ctx), "secondary index lookup resolved",
			logger.Component("pggate"),
			logger.Table(s.targetDesc.Name),
			logger.Int("batches", len(b)))
		batches = b
		if s.req.IsAggregate && len(b) == 0 {
			batches = [][][]byte{{}}
		}
	}
	return newReadOp(s.session, s.req, s.execParams.pageSize(s.session.cfg.PrefetchLimit), batches), nil
}

// Close releases the nested lookup and the statement.
func (s *Select) Close() error {
	s.index.drop()
	return s.Dml.Close()
}
