package docdb

import (
	"bytes"
	"context"

	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/codec"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/expr"
	"github.com/guileen/pglitegate/storage"
	"github.com/guileen/pglitegate/types"
)

// rowSource yields candidate rows in storage order.
type rowSource interface {
	next(ctx context.Context) (*docRow, error)
	// more reports where to resume after the last returned row, or nil when
	// the source is exhausted.
	more() *PagingState
	close()
}

// Read executes a read request and returns at most Limit rows.
func (s *Server) Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error) {
	const op = "docdb.Read"

	if err := s.checkCatalogVersion(op, req.CatalogVersion); err != nil {
		return nil, err
	}
	ref, err := s.catalog.Table(req.TableID)
	if err != nil {
		return nil, err
	}
	defer ref.Release()
	t := ref.Table

	allowed := newAllowedColumns(req.ColRefs, req.ColumnRefs)
	if err := s.checkColumnRefs(t, allowed, req.Targets, req.WhereClauses); err != nil {
		return nil, err
	}

	binds, err := keyBinds(t, req.PartitionColumnValues, req.RangeColumnValues, op)
	if err != nil {
		return nil, err
	}

	src, err := s.openSource(ctx, t, req, binds)
	if err != nil {
		return nil, err
	}
	defer src.close()

	if req.IsAggregate {
		return s.readAggregate(ctx, t, req, src, binds, allowed)
	}

	resp := &ReadResponse{}
	for {
		if req.Limit > 0 && int64(len(resp.Rows)) >= req.Limit {
			resp.PagingState = src.more()
			break
		}
		row, err := src.next(ctx)
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		resp.RowsScanned++

		ok, err := s.matches(t, row, req.WhereClauses, binds, allowed)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out, err := s.project(t, row, req.Targets, allowed)
		if err != nil {
			return nil, err
		}
		resp.Rows = append(resp.Rows, out)
	}
	return resp, nil
}

// checkColumnRefs verifies that every column a foreign expression reads was
// declared in the request.
func (s *Server) checkColumnRefs(t *catalog.Table, allowed map[int]bool, lists ...[]*Expression) error {
	for _, list := range lists {
		for _, e := range list {
			if e == nil || e.Foreign == "" {
				continue
			}
			node, err := s.parseForeign(e.Foreign)
			if err != nil {
				return err
			}
			var missing string
			expr.WalkColumnRefs(node, func(name string) {
				if missing != "" {
					return
				}
				if col, ok := t.ColumnByName(name); !ok || !allowed[col.ID] {
					missing = name
				}
			})
			if missing != "" {
				return errors.NewMissingColumnReferencef("checkColumnRefs", "column %q used by %q is not among the referenced columns", missing, e.Foreign)
			}
		}
	}
	return nil
}

func (s *Server) openSource(ctx context.Context, t *catalog.Table, req *ReadRequest, binds map[int]types.Value) (rowSource, error) {
	switch {
	case req.BatchArguments != nil:
		offset := 0
		if req.PagingState != nil {
			offset = req.PagingState.BatchOffset
		}
		return &batchSource{s: s, t: t, ybctids: req.BatchArguments, pos: offset}, nil

	case req.YbctidColumnValue != nil:
		v, err := boundValue(req.YbctidColumnValue, types.ColumnTypeBytea, "openSource")
		if err != nil {
			return nil, err
		}
		b, _ := v.Bytes()
		return &batchSource{s: s, t: t, ybctids: [][]byte{b}}, nil
	}

	hash, rng, full := keyComponents(t, binds)
	if full {
		ybctid, err := codec.EncodeDocKey(hash, rng)
		if err != nil {
			return nil, err
		}
		return &batchSource{s: s, t: t, ybctids: [][]byte{ybctid}}, nil
	}

	lower := codec.TablePrefix(t.ID.ObjectOID)
	upper := codec.TableUpperBound(t.ID.ObjectOID)
	if hash != nil || len(rng) > 0 {
		prefix, err := codec.EncodeDocKey(hash, rng)
		if err != nil {
			return nil, err
		}
		lower = codec.RowKey(t.ID.ObjectOID, prefix)
		upper = codec.PrefixUpperBound(lower)
	}

	iter, err := s.kv.NewIterator(&storage.IteratorOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "openSource")
	}
	src := &scanSource{t: t, iter: iter}
	if req.PagingState != nil && len(req.PagingState.NextKey) > 0 {
		if bytes.Compare(req.PagingState.NextKey, lower) < 0 {
			iter.Close()
			return nil, errors.NewValidationErrorf("openSource", "paging state is outside the scanned range")
		}
		src.resumeAt = req.PagingState.NextKey
	}
	return src, nil
}

// batchSource reads rows by ybctid in the given order. Missing rows are
// skipped.
type batchSource struct {
	s       *Server
	t       *catalog.Table
	ybctids [][]byte
	pos     int
}

func (b *batchSource) next(ctx context.Context) (*docRow, error) {
	for b.pos < len(b.ybctids) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ybctid := b.ybctids[b.pos]
		b.pos++
		row, err := b.s.getRow(ctx, b.t, ybctid)
		if err != nil {
			return nil, err
		}
		if row != nil {
			return row, nil
		}
	}
	return nil, nil
}

func (b *batchSource) more() *PagingState {
	if b.pos >= len(b.ybctids) {
		return nil
	}
	return &PagingState{BatchOffset: b.pos}
}

func (b *batchSource) close() {}

type scanSource struct {
	t        *catalog.Table
	iter     storage.Iterator
	resumeAt []byte
	started  bool
}

func (sc *scanSource) next(ctx context.Context) (*docRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ok bool
	switch {
	case sc.started:
		ok = sc.iter.Next()
	case sc.resumeAt != nil:
		ok = sc.iter.SeekGE(sc.resumeAt)
	default:
		ok = sc.iter.First()
	}
	sc.started = true

	if !ok {
		if err := sc.iter.Error(); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorage, "scan")
		}
		return nil, nil
	}
	_, ybctid, err := codec.SplitRowKey(sc.iter.Key())
	if err != nil {
		return nil, err
	}
	return decodeDocRow(sc.t, ybctid, sc.iter.Value())
}

func (sc *scanSource) more() *PagingState {
	if !sc.iter.Next() {
		return nil
	}
	return &PagingState{NextKey: append([]byte(nil), sc.iter.Key()...)}
}

func (sc *scanSource) close() {
	sc.iter.Close()
}

type aggState struct {
	call   *AggregateCall
	count  int64
	sumI   int64
	sumF   float64
	isF    bool
	minMax types.Value
}

func (a *aggState) add(v types.Value) error {
	if a.call.Arg == nil {
		a.count++
		return nil
	}
	if v.IsNull() {
		return nil
	}
	a.count++

	switch a.call.Func {
	case string(expr.AggSum), string(expr.AggAvg):
		if i, ok := v.Data.(int64); ok && !a.isF {
			a.sumI += i
			return nil
		}
		f, ok := v.Float64()
		if !ok {
			return errors.NewUnsupportedExpressionf("aggregate", "%s of %s", a.call.Func, v.Type)
		}
		if !a.isF {
			a.isF = true
			a.sumF = float64(a.sumI)
		}
		a.sumF += f
	case string(expr.AggMin), string(expr.AggMax):
		if a.minMax.IsNull() {
			a.minMax = v
			return nil
		}
		c, err := types.Compare(v, a.minMax)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeUnsupportedExpression, "aggregate")
		}
		if (a.call.Func == string(expr.AggMin) && c < 0) || (a.call.Func == string(expr.AggMax) && c > 0) {
			a.minMax = v
		}
	}
	return nil
}

func (a *aggState) result() types.Value {
	switch a.call.Func {
	case string(expr.AggCount):
		return types.NewInt(a.count)
	case string(expr.AggSum):
		if a.count == 0 {
			return types.Null(types.ColumnTypeBigInt)
		}
		if a.isF {
			return types.NewFloat(a.sumF)
		}
		return types.NewInt(a.sumI)
	case string(expr.AggAvg):
		if a.count == 0 {
			return types.Null(types.ColumnTypeDouble)
		}
		if a.isF {
			return types.NewFloat(a.sumF / float64(a.count))
		}
		return types.NewFloat(float64(a.sumI) / float64(a.count))
	default:
		return a.minMax
	}
}

func (s *Server) readAggregate(ctx context.Context, t *catalog.Table, req *ReadRequest, src rowSource, binds map[int]types.Value, allowed map[int]bool) (*ReadResponse, error) {
	states := make([]*aggState, len(req.Targets))
	for i, target := range req.Targets {
		if target == nil || target.Aggregate == nil {
			return nil, errors.NewUnsupportedExpressionf("readAggregate", "target %d is not an aggregate", i)
		}
		if _, ok := expr.ParseAggFunc(target.Aggregate.Func); !ok {
			return nil, errors.NewUnsupportedExpressionf("readAggregate", "unknown aggregate %q", target.Aggregate.Func)
		}
		states[i] = &aggState{call: target.Aggregate}
	}

	resp := &ReadResponse{}
	for {
		row, err := src.next(ctx)
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		resp.RowsScanned++

		ok, err := s.matches(t, row, req.WhereClauses, binds, allowed)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for _, st := range states {
			var v types.Value
			if st.call.Arg != nil {
				if v, err = s.evalExpression(t, row, st.call.Arg, allowed); err != nil {
					return nil, err
				}
			}
			if err := st.add(v); err != nil {
				return nil, err
			}
		}
	}

	out := Row{Values: make([]types.Value, len(states))}
	for i, st := range states {
		out.Values[i] = st.result()
	}
	resp.Rows = []Row{out}
	return resp, nil
}
