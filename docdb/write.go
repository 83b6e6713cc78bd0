package docdb

import (
	"bytes"
	"context"

	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/codec"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/storage"
	"github.com/guileen/pglitegate/types"
)

// Write executes an insert, update or delete request.
func (s *Server) Write(ctx context.Context, req *WriteRequest) (*WriteResponse, error) {
	if err := s.checkCatalogVersion("docdb.Write", req.CatalogVersion); err != nil {
		return nil, err
	}
	ref, err := s.catalog.Table(req.TableID)
	if err != nil {
		return nil, err
	}
	defer ref.Release()
	t := ref.Table

	allowed := newAllowedColumns(req.ColRefs, req.ColumnRefs)
	assigns := make([]*Expression, 0, len(req.ColumnValues))
	for _, cv := range req.ColumnValues {
		assigns = append(assigns, cv.Expr)
	}
	if err := s.checkColumnRefs(t, allowed, req.Targets, req.WhereClauses, assigns); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	switch req.StmtType {
	case StmtInsert:
		return s.insert(ctx, t, req, allowed)
	case StmtUpdate, StmtDelete:
		return s.modify(ctx, t, req, allowed)
	default:
		return nil, errors.NewUnsupportedExpressionf("docdb.Write", "unknown statement type %d", req.StmtType)
	}
}

func (s *Server) insert(ctx context.Context, t *catalog.Table, req *WriteRequest, allowed map[int]bool) (*WriteResponse, error) {
	const op = "docdb.Insert"

	if len(req.WhereClauses) > 0 {
		return nil, errors.NewUnsupportedExpressionf(op, "insert does not take where clauses")
	}

	values, err := keyBinds(t, req.PartitionColumnValues, req.RangeColumnValues, op)
	if err != nil {
		return nil, err
	}
	for _, c := range t.KeyColumns() {
		v, ok := values[c.ID]
		if !ok {
			return nil, errors.NewValidationErrorf(op, "key column %q of %s is not bound", c.Name, t.Name)
		}
		if v.IsNull() {
			return nil, errors.NewValidationErrorf(op, "null value in key column %q of %s", c.Name, t.Name)
		}
	}

	row := &docRow{values: values}
	for _, cv := range req.ColumnValues {
		col, ok := t.ColumnByID(cv.ColumnID)
		if !ok || col.IsSystem() && !t.IsIndex() {
			return nil, errors.NewInvalidColumnf(op, "column id %d does not exist in %s", cv.ColumnID, t.Name)
		}
		if col.IsKey() && !col.IsSystem() {
			return nil, errors.NewInvalidColumnf(op, "key column %q must be bound, not assigned", col.Name)
		}
		v, err := boundValue(cv.Expr, col.Type, op)
		if err != nil {
			return nil, err
		}
		values[col.ID] = v
	}
	if err := checkNotNull(t, values, op); err != nil {
		return nil, err
	}

	hash, rng, _ := keyComponents(t, values)
	ybctid, err := codec.EncodeDocKey(hash, rng)
	if err != nil {
		return nil, err
	}
	row.ybctid = ybctid

	existing, err := s.getRow(ctx, t, ybctid)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.NewConflictf(op, "duplicate key value violates primary key of %s", t.Name)
	}

	batch := s.kv.NewBatch()
	defer batch.Close()
	if err := s.putRow(ctx, batch, t, row); err != nil {
		return nil, err
	}
	if err := s.kv.CommitBatch(ctx, batch); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, op)
	}

	resp := &WriteResponse{RowsAffected: 1}
	if len(req.Targets) > 0 {
		out, err := s.project(t, row, req.Targets, allowed)
		if err != nil {
			return nil, err
		}
		resp.Rows = append(resp.Rows, out)
	}
	return resp, nil
}

func checkNotNull(t *catalog.Table, values map[int]types.Value, op string) error {
	for _, c := range t.Columns {
		v, ok := values[c.ID]
		if !ok {
			v = types.Null(c.Type)
			values[c.ID] = v
		}
		if v.IsNull() && !c.Nullable {
			return errors.NewValidationErrorf(op, "null value in column %q of %s violates not-null constraint", c.Name, t.Name)
		}
	}
	return nil
}

// targetRows finds the rows a write applies to.
func (s *Server) targetRows(ctx context.Context, t *catalog.Table, req *WriteRequest) ([]*docRow, error) {
	const op = "docdb.targetRows"

	if req.YbctidColumnValue != nil {
		v, err := boundValue(req.YbctidColumnValue, types.ColumnTypeBytea, op)
		if err != nil {
			return nil, err
		}
		b, _ := v.Bytes()
		row, err := s.getRow(ctx, t, b)
		if err != nil || row == nil {
			return nil, err
		}
		return []*docRow{row}, nil
	}

	binds, err := keyBinds(t, req.PartitionColumnValues, req.RangeColumnValues, op)
	if err != nil {
		return nil, err
	}
	if len(binds) > 0 {
		hash, rng, full := keyComponents(t, binds)
		if !full {
			return nil, errors.NewValidationErrorf(op, "%s on %s needs the full primary key", req.StmtType, t.Name)
		}
		ybctid, err := codec.EncodeDocKey(hash, rng)
		if err != nil {
			return nil, err
		}
		row, err := s.getRow(ctx, t, ybctid)
		if err != nil || row == nil {
			return nil, err
		}
		return []*docRow{row}, nil
	}

	if !req.WholeTable {
		return nil, errors.NewValidationErrorf(op, "%s on %s needs a key, a ybctid or the whole table", req.StmtType, t.Name)
	}

	iter, err := s.kv.NewIterator(&storage.IteratorOptions{
		LowerBound: codec.TablePrefix(t.ID.ObjectOID),
		UpperBound: codec.TableUpperBound(t.ID.ObjectOID),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, op)
	}
	defer iter.Close()

	var rows []*docRow
	for ok := iter.First(); ok; ok = iter.Next() {
		_, ybctid, err := codec.SplitRowKey(iter.Key())
		if err != nil {
			return nil, err
		}
		row, err := decodeDocRow(t, ybctid, iter.Value())
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, op)
	}
	return rows, nil
}

func (s *Server) modify(ctx context.Context, t *catalog.Table, req *WriteRequest, allowed map[int]bool) (*WriteResponse, error) {
	op := "docdb." + req.StmtType.String()

	rows, err := s.targetRows(ctx, t, req)
	if err != nil {
		return nil, err
	}

	batch := s.kv.NewBatch()
	defer batch.Close()

	resp := &WriteResponse{}
	for _, row := range rows {
		ok, err := s.matches(t, row, req.WhereClauses, nil, allowed)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		if err := s.deleteRow(batch, t, row); err != nil {
			return nil, err
		}
		out := row
		if req.StmtType == StmtUpdate {
			if out, err = s.applyAssignments(t, row, req.ColumnValues, allowed, op); err != nil {
				return nil, err
			}
			if err := s.putRow(ctx, batch, t, out); err != nil {
				return nil, err
			}
		}

		resp.RowsAffected++
		if len(req.Targets) > 0 {
			r, err := s.project(t, out, req.Targets, allowed)
			if err != nil {
				return nil, err
			}
			resp.Rows = append(resp.Rows, r)
		}
	}

	if batch.Count() > 0 {
		if err := s.kv.CommitBatch(ctx, batch); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorage, op)
		}
	}
	return resp, nil
}

func (s *Server) applyAssignments(t *catalog.Table, row *docRow, assigns []*ColumnValue, allowed map[int]bool, op string) (*docRow, error) {
	values := make(map[int]types.Value, len(row.values))
	for id, v := range row.values {
		values[id] = v
	}
	for _, cv := range assigns {
		col, ok := t.ColumnByID(cv.ColumnID)
		if !ok || col.IsSystem() {
			return nil, errors.NewInvalidColumnf(op, "column id %d does not exist in %s", cv.ColumnID, t.Name)
		}
		if col.IsKey() {
			return nil, errors.NewInvalidColumnf(op, "cannot assign key column %q", col.Name)
		}
		if cv.Expr == nil {
			return nil, errors.NewInvalidStatef(op, "assignment to %q has no value", col.Name)
		}

		var v types.Value
		var err error
		if cv.Expr.Value != nil {
			v = *cv.Expr.Value
		} else if v, err = s.evalExpression(t, row, cv.Expr, allowed); err != nil {
			return nil, err
		}
		if values[col.ID], err = types.Coerce(v, col.Type); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, op)
		}
	}
	if err := checkNotNull(t, values, op); err != nil {
		return nil, err
	}
	return &docRow{ybctid: row.ybctid, values: values}, nil
}

func (s *Server) putRow(ctx context.Context, batch storage.Batch, t *catalog.Table, row *docRow) error {
	data, err := codec.EncodeRow(row.values, t.SchemaVersion)
	if err != nil {
		return err
	}
	if err := batch.Set(codec.RowKey(t.ID.ObjectOID, row.ybctid), data); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "putRow")
	}

	for _, idx := range s.catalog.Indexes(t.ID) {
		entry, err := indexEntry(t, idx, row)
		if err != nil {
			return err
		}
		if idx.Unique {
			if err := s.checkUnique(ctx, t, idx, row, entry); err != nil {
				return err
			}
		}
		data, err := codec.EncodeRow(entry.values, idx.SchemaVersion)
		if err != nil {
			return err
		}
		if err := batch.Set(codec.RowKey(idx.ID.ObjectOID, entry.ybctid), data); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorage, "putRow")
		}
	}
	return nil
}

func (s *Server) deleteRow(batch storage.Batch, t *catalog.Table, row *docRow) error {
	if err := batch.Delete(codec.RowKey(t.ID.ObjectOID, row.ybctid)); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "deleteRow")
	}
	for _, idx := range s.catalog.Indexes(t.ID) {
		entry, err := indexEntry(t, idx, row)
		if err != nil {
			return err
		}
		if err := batch.Delete(codec.RowKey(idx.ID.ObjectOID, entry.ybctid)); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorage, "deleteRow")
		}
	}
	return nil
}

// indexEntry builds the index row pointing at a base row. Its key is the
// indexed values followed by the base ybctid.
func indexEntry(base, idx *catalog.Table, row *docRow) (*docRow, error) {
	entry := &docRow{values: make(map[int]types.Value, len(idx.Columns))}
	var key []types.Value
	for _, ic := range idx.Columns {
		if ic.AttrNum == catalog.IdxBaseTupleIDAttrNum {
			continue
		}
		bc, ok := base.ColumnByName(ic.Name)
		if !ok {
			return nil, errors.NewInvalidColumnf("indexEntry", "index %s references missing column %q", idx.Name, ic.Name)
		}
		v := row.values[bc.ID]
		if v.IsNull() {
			v = types.Null(ic.Type)
		}
		entry.values[ic.ID] = v
		key = append(key, v)
	}

	baseCtid := types.NewBytes(row.ybctid)
	if col, ok := idx.ColumnByAttr(catalog.IdxBaseTupleIDAttrNum); ok {
		entry.values[col.ID] = baseCtid
	}
	ybctid, err := codec.EncodeDocKey(nil, append(key, baseCtid))
	if err != nil {
		return nil, err
	}
	entry.ybctid = ybctid
	return entry, nil
}

func (s *Server) checkUnique(ctx context.Context, base, idx *catalog.Table, row, entry *docRow) error {
	var key []types.Value
	for _, ic := range idx.Columns {
		if ic.AttrNum == catalog.IdxBaseTupleIDAttrNum {
			continue
		}
		v := entry.values[ic.ID]
		if v.IsNull() {
			return nil
		}
		key = append(key, v)
	}
	prefix, err := codec.EncodeDocKey(nil, key)
	if err != nil {
		return err
	}

	lower := codec.RowKey(idx.ID.ObjectOID, prefix)
	iter, err := s.kv.NewIterator(&storage.IteratorOptions{LowerBound: lower, UpperBound: codec.PrefixUpperBound(lower)})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "checkUnique")
	}
	defer iter.Close()

	own := codec.RowKey(idx.ID.ObjectOID, entry.ybctid)
	for ok := iter.First(); ok; ok = iter.Next() {
		if !bytes.Equal(iter.Key(), own) {
			return errors.NewConflictf("checkUnique", "duplicate key value violates unique index %s of %s", idx.Name, base.Name)
		}
	}
	return iter.Error()
}
