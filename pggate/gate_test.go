package pggate

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/docdb"
	"github.com/guileen/pglitegate/engine/config"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/expr"
	"github.com/guileen/pglitegate/types"
)

var seedRows = []struct {
	k int64
	v string
}{
	{1, "apple"},
	{2, "banana"},
	{3, "apple"},
	{4, "cherry"},
	{5, "apple"},
}

// newServerSession returns a session on a docdb server holding seedRows,
// with n = k*10.
func newServerSession(t *testing.T, opts ...func(*config.GateConfig)) (*fixture, *Session) {
	t.Helper()
	f := newFixture(t)
	s := f.session(t, docdb.NewServer(f.kv, f.cat), opts...)
	for _, r := range seedRows {
		insertItem(t, s, r.k, r.v, r.k*10)
	}
	return f, s
}

func insertItem(t *testing.T, s *Session, k int64, v string, n int64) {
	t.Helper()
	ins, err := s.NewInsert(mustTable(t, s, "items").ID)
	require.NoError(t, err)
	defer ins.Close()
	require.NoError(t, ins.BindColumn(1, intConst(k)))
	require.NoError(t, ins.BindColumn(2, textConst(v)))
	require.NoError(t, ins.AssignColumn(3, intConst(n)))
	require.NoError(t, ins.Exec(context.Background(), nil))
	require.Equal(t, int64(1), ins.RowsAffected())
}

func mustTable(t *testing.T, s *Session, name string) *catalog.Table {
	t.Helper()
	tbl, err := s.Catalog().TableByName(name)
	require.NoError(t, err)
	return tbl
}

func selectItems(t *testing.T, s *Session, f *fixture, params PrepareParams, build func(*Select)) *Select {
	t.Helper()
	sel, err := s.NewSelect(f.items.ID, params)
	require.NoError(t, err)
	require.NoError(t, sel.AppendTarget(colK()))
	if build != nil {
		build(sel)
	}
	require.NoError(t, sel.Exec(context.Background(), nil))
	return sel
}

func TestGate_ScanAndPointRead(t *testing.T) {
	f, s := newServerSession(t)
	ctx := context.Background()

	sel := selectItems(t, s, f, PrepareParams{}, func(sel *Select) {
		require.NoError(t, sel.AppendTarget(colV()))
		require.NoError(t, sel.AppendTarget(colN()))
	})
	keys, orders := drain(t, sel, 3)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, keys)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, orders)

	point := selectItems(t, s, f, PrepareParams{}, func(sel *Select) {
		require.NoError(t, sel.AppendTarget(colV()))
		require.NoError(t, sel.AppendTarget(colN()))
		require.NoError(t, sel.BindColumn(1, intConst(4)))
	})
	res, err := point.Fetch(ctx, 3)
	require.NoError(t, err)
	require.True(t, res.HasData)
	assert.Equal(t, "cherry", res.Values[1].Data)
	assert.Equal(t, int64(40), res.Values[2].Data)
	assert.Equal(t, ybctidOf(t, 4), res.Sys.Ybctid)

	res, err = point.Fetch(ctx, 3)
	require.NoError(t, err)
	assert.False(t, res.HasData)
}

func TestGate_NestedIndexLookup(t *testing.T) {
	f, s := newServerSession(t)

	sel := selectItems(t, s, f, PrepareParams{IndexOID: f.index.ID.ObjectOID}, func(sel *Select) {
		require.NoError(t, sel.BindColumn(1, textConst("apple")))
	})
	keys, _ := drain(t, sel, 3)
	assert.Equal(t, []int64{1, 3, 5}, keys)
	assert.Equal(t, IndexResolved, sel.IndexState())

	t.Run("small batches keep order", func(t *testing.T) {
		small := f.session(t, docdb.NewServer(f.kv, f.cat), func(c *config.GateConfig) {
			c.YbctidBatchSize = 1
			c.PrefetchLimit = 1
		})
		params := &ExecParameters{}
		sel, err := small.NewSelect(f.items.ID, PrepareParams{IndexOID: f.index.ID.ObjectOID})
		require.NoError(t, err)
		require.NoError(t, sel.AppendTarget(colK()))
		require.NoError(t, sel.BindColumn(1, textConst("apple")))
		require.NoError(t, sel.Exec(context.Background(), params))
		keys, orders := drain(t, sel, 3)
		assert.Equal(t, []int64{1, 3, 5}, keys)
		assert.Equal(t, []int64{0, 1, 2}, orders)
		assert.Greater(t, params.RemoteOps, 3)
	})

	t.Run("outer quals filter base rows", func(t *testing.T) {
		sel := selectItems(t, s, f, PrepareParams{IndexOID: f.index.ID.ObjectOID}, func(sel *Select) {
			require.NoError(t, sel.BindColumn(1, textConst("apple")))
			require.NoError(t, sel.AppendQual(expr.NewForeign("n > 10", types.ColumnTypeBoolean)))
			require.NoError(t, sel.AppendColumnRef(colN()))
		})
		keys, _ := drain(t, sel, 3)
		assert.Equal(t, []int64{3, 5}, keys)
	})

	t.Run("no match", func(t *testing.T) {
		sel := selectItems(t, s, f, PrepareParams{IndexOID: f.index.ID.ObjectOID}, func(sel *Select) {
			require.NoError(t, sel.BindColumn(1, textConst("durian")))
		})
		keys, _ := drain(t, sel, 3)
		assert.Empty(t, keys)
	})
}

func TestGate_QualsAndParams(t *testing.T) {
	f, s := newServerSession(t)
	ctx := context.Background()

	sel := selectItems(t, s, f, PrepareParams{}, func(sel *Select) {
		require.NoError(t, sel.AppendQual(expr.NewForeign("n >= 30 AND v <> 'cherry'", types.ColumnTypeBoolean)))
		require.NoError(t, sel.AppendColumnRef(colN()))
		require.NoError(t, sel.AppendColumnRef(colV()))
	})
	keys, _ := drain(t, sel, 3)
	assert.Equal(t, []int64{3, 5}, keys)

	key := expr.NewParam(1, types.ColumnTypeBigInt)
	prepared, err := s.NewSelect(f.items.ID, PrepareParams{})
	require.NoError(t, err)
	require.NoError(t, prepared.AppendTarget(colV()))
	require.NoError(t, prepared.BindColumn(1, key))

	for k, want := range map[int64]string{2: "banana", 4: "cherry"} {
		require.NoError(t, key.Set(types.NewInt(k)))
		require.NoError(t, prepared.Exec(ctx, nil))
		res, err := prepared.Fetch(ctx, 3)
		require.NoError(t, err)
		require.True(t, res.HasData)
		assert.Equal(t, want, res.Values[1].Data)
		assert.Equal(t, int64(0), res.Sys.RowOrder)
	}
}

func TestGate_Paging(t *testing.T) {
	for _, prefetch := range []bool{false, true} {
		t.Run(map[bool]string{false: "sync", true: "prefetch"}[prefetch], func(t *testing.T) {
			f, s := newServerSession(t, func(c *config.GateConfig) {
				c.PrefetchLimit = 2
				c.PrefetchEnabled = prefetch
			})
			params := &ExecParameters{}
			sel, err := s.NewSelect(f.items.ID, PrepareParams{})
			require.NoError(t, err)
			require.NoError(t, sel.AppendTarget(colK()))
			require.NoError(t, sel.Exec(context.Background(), params))

			keys, orders := drain(t, sel, 3)
			assert.Equal(t, []int64{1, 2, 3, 4, 5}, keys)
			assert.Equal(t, []int64{0, 1, 2, 3, 4}, orders)
			assert.Equal(t, 3, params.RemoteOps)
			assert.Equal(t, int64(5), params.RowsFetched)
		})
	}
}

func TestGate_CloseCancelsPrefetch(t *testing.T) {
	f, s := newServerSession(t, func(c *config.GateConfig) {
		c.PrefetchLimit = 1
		c.PrefetchEnabled = true
	})
	sel, err := s.NewSelect(f.items.ID, PrepareParams{})
	require.NoError(t, err)
	require.NoError(t, sel.AppendTarget(colK()))
	require.NoError(t, sel.Exec(context.Background(), nil))

	ok, err := sel.GetNextRow(context.Background(), NewTuple(3))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, sel.Close())
	assert.Nil(t, sel.op)
	assert.Equal(t, 0, s.OpenStatements())
}

func TestGate_Aggregates(t *testing.T) {
	f, s := newServerSession(t)
	ctx := context.Background()

	sel, err := s.NewSelect(f.items.ID, PrepareParams{})
	require.NoError(t, err)
	require.NoError(t, sel.AppendTarget(expr.NewAggregate(expr.AggCount, nil)))
	require.NoError(t, sel.AppendTarget(expr.NewAggregate(expr.AggSum, colN())))
	require.NoError(t, sel.AppendTarget(expr.NewAggregate(expr.AggMax, colV())))
	require.NoError(t, sel.AppendQual(expr.NewForeign("k > 1", types.ColumnTypeBoolean)))
	require.NoError(t, sel.AppendColumnRef(colK()))
	require.NoError(t, sel.Exec(ctx, &ExecParameters{LimitCount: 1}))
	assert.True(t, sel.HasAggregateTargets())

	res, err := sel.Fetch(ctx, 3)
	require.NoError(t, err)
	require.True(t, res.HasData)
	assert.Equal(t, types.NewInt(4), res.Values[0])
	assert.Equal(t, types.NewInt(140), res.Values[1])
	assert.Equal(t, types.NewText("cherry"), res.Values[2])

	res, err = sel.Fetch(ctx, 3)
	require.NoError(t, err)
	assert.False(t, res.HasData)
}

func TestGate_AggregateThroughIndex(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, docdb.NewServer(f.kv, f.cat), func(c *config.GateConfig) {
		c.YbctidBatchSize = 1
		c.PrefetchLimit = 1
	})
	for _, r := range seedRows {
		insertItem(t, s, r.k, r.v, r.k*10)
	}
	ctx := context.Background()

	for v, want := range map[string][]types.Value{
		"apple":  {types.NewInt(3), types.NewInt(90)},
		"durian": {types.NewInt(0), types.Null(types.ColumnTypeBigInt)},
	} {
		t.Run(v, func(t *testing.T) {
			params := &ExecParameters{}
			sel, err := s.NewSelect(f.items.ID, PrepareParams{IndexOID: f.index.ID.ObjectOID})
			require.NoError(t, err)
			require.NoError(t, sel.AppendTarget(expr.NewAggregate(expr.AggCount, nil)))
			require.NoError(t, sel.AppendTarget(expr.NewAggregate(expr.AggSum, colN())))
			require.NoError(t, sel.BindColumn(1, textConst(v)))
			require.NoError(t, sel.Exec(ctx, params))

			res, err := sel.Fetch(ctx, 3)
			require.NoError(t, err)
			require.True(t, res.HasData)
			assert.Equal(t, want, res.Values[:2])
			assert.Equal(t, IndexResolved, sel.IndexState())

			res, err = sel.Fetch(ctx, 3)
			require.NoError(t, err)
			assert.False(t, res.HasData, "one synthetic row")
			assert.Equal(t, int64(1), sel.CurrentRowOrder())
		})
	}
}

func TestGate_ColumnAndExpressionTargets(t *testing.T) {
	f, s := newServerSession(t)
	ctx := context.Background()

	sel := selectItems(t, s, f, PrepareParams{}, func(sel *Select) {
		require.NoError(t, sel.AppendTarget(colV()))
		require.NoError(t, sel.AppendTarget(expr.NewForeign("n + 1", types.ColumnTypeInteger)))
		require.NoError(t, sel.AppendColumnRef(colN()))
		require.NoError(t, sel.BindColumn(1, intConst(4)))
	})
	res, err := sel.Fetch(ctx, 3)
	require.NoError(t, err)
	require.True(t, res.HasData)
	assert.Equal(t, types.NewInt(4), res.Values[0])
	assert.Equal(t, types.NewText("cherry"), res.Values[1])
	assert.True(t, res.Nulls[2])
	require.Len(t, res.Exprs, 1)
	v, ok := res.Exprs[0].Int64()
	require.True(t, ok)
	assert.Equal(t, int64(41), v)

	res, err = sel.Fetch(ctx, 3)
	require.NoError(t, err)
	assert.False(t, res.HasData)
	assert.Empty(t, res.Exprs)
}

func TestGate_UpdateMaintainsIndex(t *testing.T) {
	f, s := newServerSession(t)
	ctx := context.Background()

	upd, err := s.NewUpdate(f.items.ID)
	require.NoError(t, err)
	require.NoError(t, upd.BindColumn(1, intConst(2)))
	require.NoError(t, upd.AssignColumn(2, textConst("blueberry")))
	require.NoError(t, upd.AssignColumn(3, expr.NewForeign("n + 1", types.ColumnTypeInteger)))
	require.NoError(t, upd.AppendColumnRef(colN()))
	require.NoError(t, upd.AppendTarget(colV()))
	require.NoError(t, upd.AppendTarget(colN()))
	params := &ExecParameters{}
	require.NoError(t, upd.Exec(ctx, params))
	assert.Equal(t, int64(1), params.RowsAffected)

	res, err := upd.Fetch(ctx, 3)
	require.NoError(t, err)
	require.True(t, res.HasData)
	assert.Equal(t, "blueberry", res.Values[1].Data)
	assert.Equal(t, int64(21), res.Values[2].Data)

	for v, want := range map[string][]int64{"blueberry": {2}, "banana": nil} {
		sel := selectItems(t, s, f, PrepareParams{IndexOID: f.index.ID.ObjectOID}, func(sel *Select) {
			require.NoError(t, sel.BindColumn(1, textConst(v)))
		})
		keys, _ := drain(t, sel, 3)
		assert.Equal(t, want, keys, "index lookup for %q", v)
	}
}

func TestGate_DeleteByYbctidAndWholeTable(t *testing.T) {
	f, s := newServerSession(t)
	ctx := context.Background()

	sel := selectItems(t, s, f, PrepareParams{}, func(sel *Select) {
		require.NoError(t, sel.AppendTarget(expr.NewColumnRef(catalog.TupleIDAttrNum, catalog.TupleIDColumnName, types.ColumnTypeBytea)))
		require.NoError(t, sel.BindColumn(1, intConst(4)))
	})
	res, err := sel.Fetch(ctx, 3)
	require.NoError(t, err)
	require.True(t, res.HasData)
	require.Equal(t, ybctidOf(t, 4), res.Sys.Ybctid)

	del, err := s.NewDelete(f.items.ID)
	require.NoError(t, err)
	require.NoError(t, del.BindColumn(catalog.TupleIDAttrNum, expr.NewConstant(types.NewBytes(res.Sys.Ybctid))))
	require.NoError(t, del.Exec(ctx, nil))
	assert.Equal(t, int64(1), del.RowsAffected())
	assert.NotNil(t, del.Request().YbctidColumnValue)

	all := selectItems(t, s, f, PrepareParams{}, nil)
	keys, _ := drain(t, all, 3)
	assert.Equal(t, []int64{1, 2, 3, 5}, keys)

	truncate, err := s.NewDelete(f.items.ID)
	require.NoError(t, err)
	require.NoError(t, truncate.BindTable())
	require.NoError(t, truncate.AppendQual(expr.NewForeign("v = 'apple'", types.ColumnTypeBoolean)))
	require.NoError(t, truncate.AppendColumnRef(colV()))
	require.NoError(t, truncate.Exec(ctx, nil))
	assert.Equal(t, int64(3), truncate.RowsAffected())
	assert.True(t, truncate.Request().WholeTable)

	rest := selectItems(t, s, f, PrepareParams{}, nil)
	keys, _ = drain(t, rest, 3)
	assert.Equal(t, []int64{2}, keys)
}

func TestGate_ColocatedWritesWithoutKey(t *testing.T) {
	f, s := newServerSession(t)
	ctx := context.Background()
	colC := expr.NewColumnRef(3, "c", types.ColumnTypeText)

	for i, c := range []string{"x", "y", "x"} {
		ins, err := s.NewInsert(f.pairs.ID)
		require.NoError(t, err)
		require.NoError(t, ins.BindColumn(1, intConst(int64(i%2))))
		require.NoError(t, ins.BindColumn(2, intConst(int64(i))))
		require.NoError(t, ins.AssignColumn(3, textConst(c)))
		require.NoError(t, ins.Exec(ctx, nil))
	}

	upd, err := s.NewUpdate(f.pairs.ID)
	require.NoError(t, err)
	require.NoError(t, upd.AssignColumn(3, textConst("z")))
	require.NoError(t, upd.AppendQual(expr.NewForeign("c = 'y'", types.ColumnTypeBoolean)))
	require.NoError(t, upd.AppendColumnRef(colC))
	params := &ExecParameters{}
	require.NoError(t, upd.Exec(ctx, params))
	assert.Equal(t, int64(1), params.RowsAffected)

	del, err := s.NewDelete(f.pairs.ID)
	require.NoError(t, err)
	require.NoError(t, del.AppendQual(expr.NewForeign("c = 'x'", types.ColumnTypeBoolean)))
	require.NoError(t, del.AppendColumnRef(colC))
	params = &ExecParameters{}
	require.NoError(t, del.Exec(ctx, params))
	assert.Equal(t, int64(2), params.RowsAffected)
	assert.True(t, del.Request().WholeTable)

	sel, err := s.NewSelect(f.pairs.ID, PrepareParams{QueryingColocatedTable: true})
	require.NoError(t, err)
	require.NoError(t, sel.AppendTarget(colC))
	require.NoError(t, sel.Exec(ctx, nil))
	res, err := sel.Fetch(ctx, 3)
	require.NoError(t, err)
	require.True(t, res.HasData)
	assert.Equal(t, types.NewText("z"), res.Values[2])
	res, err = sel.Fetch(ctx, 3)
	require.NoError(t, err)
	assert.False(t, res.HasData)

	items, err := s.NewDelete(f.items.ID)
	require.NoError(t, err)
	require.NoError(t, items.AppendQual(expr.NewForeign("n > 0", types.ColumnTypeBoolean)))
	require.NoError(t, items.AppendColumnRef(colN()))
	assert.True(t, errors.IsInvalidState(items.Exec(ctx, nil)), "items is not colocated")
}

func TestGate_InsertConflict(t *testing.T) {
	f, s := newServerSession(t)

	ins, err := s.NewInsert(f.items.ID)
	require.NoError(t, err)
	require.NoError(t, ins.BindColumn(1, intConst(1)))
	err = ins.Exec(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsRemoteOperationFailed(err))
	assert.True(t, errors.IsConflict(err), "got %v", err)
}

func TestGate_StaleCatalogVersion(t *testing.T) {
	f, s := newServerSession(t)
	ctx := context.Background()

	sel, err := s.NewSelect(f.items.ID, PrepareParams{})
	require.NoError(t, err)
	require.NoError(t, sel.AppendTarget(colK()))
	nested, err := s.NewSelect(f.items.ID, PrepareParams{IndexOID: f.index.ID.ObjectOID})
	require.NoError(t, err)
	require.NoError(t, nested.AppendTarget(colK()))
	require.NoError(t, nested.BindColumn(1, textConst("apple")))
	ins, err := s.NewInsert(f.items.ID)
	require.NoError(t, err)
	require.NoError(t, ins.BindColumn(1, intConst(6)))
	prepared := f.cat.Version()
	assert.Equal(t, prepared, sel.CatalogCacheVersion())

	_, err = f.cat.CreateTable(ctx, "later", []catalog.ColumnDef{
		{Name: "id", Type: types.ColumnTypeBigInt, Role: catalog.RoleRange},
	}, false)
	require.NoError(t, err)
	require.Greater(t, f.cat.Version(), prepared)

	require.NoError(t, sel.Exec(ctx, nil))
	_, err = sel.Fetch(ctx, 3)
	assert.True(t, errors.IsRemoteOperationFailed(err))
	assert.True(t, errors.IsCatalogVersionMismatch(err), "got %v", err)

	require.NoError(t, nested.Exec(ctx, nil))
	_, err = nested.Fetch(ctx, 3)
	assert.True(t, errors.IsNestedQueryFailed(err))
	assert.True(t, errors.IsCatalogVersionMismatch(err), "got %v", err)

	err = ins.Exec(ctx, nil)
	assert.True(t, errors.IsCatalogVersionMismatch(err), "got %v", err)

	t.Run("repinned statement runs", func(t *testing.T) {
		sel, err := s.NewSelect(f.items.ID, PrepareParams{IndexOID: f.index.ID.ObjectOID})
		require.NoError(t, err)
		require.NoError(t, sel.AppendTarget(colK()))
		require.NoError(t, sel.BindColumn(1, textConst("apple")))
		require.NoError(t, sel.SetCatalogCacheVersion(prepared))
		require.NoError(t, sel.SetCatalogCacheVersion(f.cat.Version()))
		require.NoError(t, sel.Exec(ctx, nil))
		keys, _ := drain(t, sel, 3)
		assert.Equal(t, []int64{1, 3, 5}, keys)
		assert.True(t, errors.IsInvalidState(sel.SetCatalogCacheVersion(prepared)))
	})
}

func TestSession_CloseReleasesStatements(t *testing.T) {
	f := newFixture(t)
	s := NewSession(f.cat, &mockClient{}, config.DefaultGateConfig(), nil)

	_, err := s.NewSelect(f.items.ID, PrepareParams{IndexOID: f.index.ID.ObjectOID})
	require.NoError(t, err)
	_, err = s.NewInsert(f.items.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, s.OpenStatements())
	assert.True(t, errors.IsConflict(f.cat.DropTable(context.Background(), f.items.ID)))

	require.NoError(t, s.Close())
	assert.Equal(t, 0, s.OpenStatements())
	require.NoError(t, s.Close())

	_, err = s.NewSelect(f.items.ID, PrepareParams{})
	assert.True(t, errors.IsInvalidState(err))
	require.NoError(t, f.cat.DropTable(context.Background(), f.items.ID))
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	s := NewSession(f.cat, docdb.NewServer(f.kv, f.cat), config.DefaultGateConfig(), NewMetrics(reg))
	defer s.Close()
	for _, r := range seedRows[:3] {
		insertItem(t, s, r.k, r.v, r.k*10)
	}

	sel := selectItems(t, s, f, PrepareParams{IndexOID: f.index.ID.ObjectOID}, func(sel *Select) {
		require.NoError(t, sel.BindColumn(1, textConst("apple")))
	})
	keys, _ := drain(t, sel, 3)
	require.Equal(t, []int64{1, 3}, keys)

	families, err := reg.Gather()
	require.NoError(t, err)
	got := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, l := range m.GetLabel() {
				name += "/" + l.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				got[name] = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				got[name] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	assert.Equal(t, 3.0, got["pglitegate_statements_executed_total/insert"])
	assert.Equal(t, 2.0, got["pglitegate_statements_executed_total/select"], "outer and nested select")
	assert.Equal(t, 4.0, got["pglitegate_rows_fetched_total"], "nested and outer rows")
	assert.Equal(t, 1.0, got["pglitegate_nested_index_lookups_total/resolved"])
	assert.Equal(t, 3.0, got["pglitegate_remote_operations_total/write/ok"])
	assert.Equal(t, 2.0, got["pglitegate_remote_operations_total/read/ok"])
	assert.Equal(t, 2.0, got["pglitegate_remote_operation_duration_seconds/read"])
}
