package api

import (
	"context"
	"sort"
	"strings"

	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/engine/config"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/expr"
	"github.com/guileen/pglitegate/pggate"
	"github.com/guileen/pglitegate/pool"
	"github.com/guileen/pglitegate/types"
)

// Gate runs table-level requests as pggate statements, one session per call.
type Gate struct {
	catalog *catalog.Catalog
	client  pggate.Client
	cfg     config.GateConfig
	metrics *pggate.Metrics
	tuples  *pool.Pool[*pggate.Tuple]
}

func NewGate(cat *catalog.Catalog, client pggate.Client, cfg config.GateConfig, metrics *pggate.Metrics) *Gate {
	return &Gate{
		catalog: cat,
		client:  client,
		cfg:     cfg,
		metrics: metrics,
		tuples: pool.New("tuples",
			func() *pggate.Tuple { return pggate.NewTuple(0) },
			func(t *pggate.Tuple) { t.Clear() }),
	}
}

func (g *Gate) Catalog() *catalog.Catalog {
	return g.catalog
}

// TupleStats reports reuse of the row buffers results are read into.
func (g *Gate) TupleStats() pool.PoolMetrics {
	return g.tuples.Metrics()
}

// tuple returns a pooled tuple with natts cleared slots.
func (g *Gate) tuple(natts int) *pggate.Tuple {
	t := g.tuples.Get()
	if cap(t.Values) < natts || cap(t.Nulls) < natts {
		t.Values = make([]types.Value, natts)
		t.Nulls = make([]bool, natts)
	}
	t.Values = t.Values[:natts]
	t.Nulls = t.Nulls[:natts]
	t.Clear()
	return t
}

// QueryRequest describes a select. Eq binds key columns of the table, or of
// Index when set; Where is a SQL boolean expression evaluated by storage.
// Columns may name aggregates such as count(*) or sum(n).
type QueryRequest struct {
	Table   string            `json:"table"`
	Columns []string          `json:"columns,omitempty"`
	Where   string            `json:"where,omitempty"`
	Index   string            `json:"index,omitempty"`
	Eq      map[string]string `json:"eq,omitempty"`
	Limit   int               `json:"limit,omitempty"`
}

// Result holds the rows produced by a statement.
type Result struct {
	Columns      []string
	Rows         [][]types.Value
	RowsAffected int64
	RemoteOps    int
}

// Maps returns the rows keyed by column name with native Go values.
func (r *Result) Maps() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(r.Rows))
	for _, row := range r.Rows {
		m := make(map[string]interface{}, len(r.Columns))
		for i, name := range r.Columns {
			m[name] = row[i].Data
		}
		out = append(out, m)
	}
	return out
}

type rowSource interface {
	GetNextRow(ctx context.Context, t *pggate.Tuple) (bool, error)
}

// Query runs a select and returns at most req.Limit rows.
func (g *Gate) Query(ctx context.Context, req QueryRequest) (*Result, error) {
	const op = "Gate.Query"

	t, err := g.catalog.TableByName(req.Table)
	if err != nil {
		return nil, err
	}
	if t.IsIndex() {
		return nil, errors.NewValidationErrorf(op, "%s is an index", t.Name)
	}

	var params pggate.PrepareParams
	bindDesc := t
	if req.Index != "" {
		idx, err := g.catalog.TableByName(req.Index)
		if err != nil {
			return nil, err
		}
		if !idx.IsIndex() || *idx.IndexedTable != t.ID {
			return nil, errors.NewValidationErrorf(op, "%s is not an index of %s", idx.Name, t.Name)
		}
		params.IndexOID = idx.ID.ObjectOID
		bindDesc = idx
	}

	s := pggate.NewSession(g.catalog, g.client, g.cfg, g.metrics)
	defer s.Close()
	ctx = s.Context(ctx)

	sel, err := s.NewSelect(t.ID, params)
	if err != nil {
		return nil, err
	}
	targets, names, err := buildTargets(t, req.Columns)
	if err != nil {
		return nil, err
	}
	for _, target := range targets {
		if err := sel.AppendTarget(target); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedKeys(req.Eq) {
		col, ok := bindDesc.ColumnByName(name)
		if !ok {
			return nil, errors.NewInvalidColumnf(op, "column %q does not exist in %s", name, bindDesc.Name)
		}
		if err := sel.BindColumn(col.AttrNum, expr.NewConstant(types.NewText(req.Eq[name]))); err != nil {
			return nil, err
		}
	}
	if req.Where != "" {
		if err := appendWhere(sel, t, req.Where); err != nil {
			return nil, err
		}
	}

	exec := &pggate.ExecParameters{LimitCount: int64(req.Limit)}
	if err := sel.Exec(ctx, exec); err != nil {
		return nil, err
	}
	rows, err := g.collect(ctx, sel, targets, len(t.Columns), req.Limit)
	if err != nil {
		return nil, err
	}
	return &Result{Columns: names, Rows: rows, RemoteOps: exec.RemoteOps}, nil
}

// Get reads the row whose primary key is key, a comma separated list of
// key column values. It returns a not_found error when there is none.
func (g *Gate) Get(ctx context.Context, table, key string) (*Result, error) {
	t, err := g.catalog.TableByName(table)
	if err != nil {
		return nil, err
	}
	eq, err := keyBinds(t, key)
	if err != nil {
		return nil, err
	}
	res, err := g.Query(ctx, QueryRequest{Table: table, Eq: eq, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, errors.NewNotFoundf("Gate.Get", "no row with key %s in %s", key, table)
	}
	return res, nil
}

// Insert writes one row and returns it as stored.
func (g *Gate) Insert(ctx context.Context, table string, data map[string]interface{}) (*Result, error) {
	const op = "Gate.Insert"

	t, err := g.catalog.TableByName(table)
	if err != nil {
		return nil, err
	}
	s := pggate.NewSession(g.catalog, g.client, g.cfg, g.metrics)
	defer s.Close()
	ctx = s.Context(ctx)

	ins, err := s.NewInsert(t.ID)
	if err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(data) {
		col, ok := t.ColumnByName(name)
		if !ok || col.IsSystem() {
			return nil, errors.NewInvalidColumnf(op, "column %q does not exist in %s", name, t.Name)
		}
		v, err := types.FromGo(data[name])
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, op)
		}
		if col.IsKey() {
			err = ins.BindColumn(col.AttrNum, expr.NewConstant(v))
		} else {
			err = ins.AssignColumn(col.AttrNum, expr.NewConstant(v))
		}
		if err != nil {
			return nil, err
		}
	}
	return g.runWrite(ctx, t, ins.Dml, ins.Exec, ins.RowsAffected)
}

// UpdateRequest sets Data values and Exprs, SQL expressions over the
// current row, on the row with the given key.
type UpdateRequest struct {
	Data  map[string]interface{} `json:"data,omitempty"`
	Exprs map[string]string      `json:"exprs,omitempty"`
}

// Update changes the row with the given key and returns it as stored.
func (g *Gate) Update(ctx context.Context, table, key string, req UpdateRequest) (*Result, error) {
	const op = "Gate.Update"

	t, err := g.catalog.TableByName(table)
	if err != nil {
		return nil, err
	}
	eq, err := keyBinds(t, key)
	if err != nil {
		return nil, err
	}
	s := pggate.NewSession(g.catalog, g.client, g.cfg, g.metrics)
	defer s.Close()
	ctx = s.Context(ctx)

	upd, err := s.NewUpdate(t.ID)
	if err != nil {
		return nil, err
	}
	if err := bindKey(upd.Dml, t, eq); err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(req.Data) {
		col, ok := t.ColumnByName(name)
		if !ok {
			return nil, errors.NewInvalidColumnf(op, "column %q does not exist in %s", name, t.Name)
		}
		v, err := types.FromGo(req.Data[name])
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, op)
		}
		if err := upd.AssignColumn(col.AttrNum, expr.NewConstant(v)); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedKeys(req.Exprs) {
		col, ok := t.ColumnByName(name)
		if !ok {
			return nil, errors.NewInvalidColumnf(op, "column %q does not exist in %s", name, t.Name)
		}
		f := expr.NewForeign(req.Exprs[name], col.Type)
		if err := upd.AssignColumn(col.AttrNum, f); err != nil {
			return nil, err
		}
		if err := appendForeignRefs(upd.Dml, t, f); err != nil {
			return nil, err
		}
	}

	res, err := g.runWrite(ctx, t, upd.Dml, upd.Exec, upd.RowsAffected)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, errors.NewNotFoundf(op, "no row with key %s in %s", key, table)
	}
	return res, nil
}

// Delete removes the row with the given key.
func (g *Gate) Delete(ctx context.Context, table, key string) (int64, error) {
	t, err := g.catalog.TableByName(table)
	if err != nil {
		return 0, err
	}
	eq, err := keyBinds(t, key)
	if err != nil {
		return 0, err
	}
	s := pggate.NewSession(g.catalog, g.client, g.cfg, g.metrics)
	defer s.Close()
	ctx = s.Context(ctx)

	del, err := s.NewDelete(t.ID)
	if err != nil {
		return 0, err
	}
	if err := bindKey(del.Dml, t, eq); err != nil {
		return 0, err
	}
	if err := del.Exec(ctx, nil); err != nil {
		return 0, err
	}
	if del.RowsAffected() == 0 {
		return 0, errors.NewNotFoundf("Gate.Delete", "no row with key %s in %s", key, table)
	}
	return del.RowsAffected(), nil
}

// runWrite asks for every column back, executes the write and collects the
// returned rows.
func (g *Gate) runWrite(ctx context.Context, t *catalog.Table, stmt *pggate.Dml, exec func(context.Context, *pggate.ExecParameters) error, affected func() int64) (*Result, error) {
	targets, names, err := buildTargets(t, nil)
	if err != nil {
		return nil, err
	}
	for _, target := range targets {
		if err := stmt.AppendTarget(target); err != nil {
			return nil, err
		}
	}
	params := &pggate.ExecParameters{}
	if err := exec(ctx, params); err != nil {
		return nil, err
	}
	rows, err := g.collect(ctx, stmt, targets, len(t.Columns), 0)
	if err != nil {
		return nil, err
	}
	return &Result{Columns: names, Rows: rows, RowsAffected: affected(), RemoteOps: params.RemoteOps}, nil
}

// buildTargets resolves column names and aggregate calls. No names selects
// every user column.
func buildTargets(t *catalog.Table, columns []string) ([]expr.Expr, []string, error) {
	const op = "buildTargets"

	if len(columns) == 0 {
		for _, c := range t.Columns {
			if !c.IsSystem() {
				columns = append(columns, c.Name)
			}
		}
	}

	targets := make([]expr.Expr, 0, len(columns))
	for _, name := range columns {
		name = strings.TrimSpace(name)
		if fn, arg, ok := parseAggregate(name); ok {
			agg, valid := expr.ParseAggFunc(fn)
			if !valid {
				return nil, nil, errors.NewUnsupportedExpressionf(op, "unknown aggregate %s", fn)
			}
			var ref *expr.ColumnRef
			if arg != "*" {
				col, ok := t.ColumnByName(arg)
				if !ok {
					return nil, nil, errors.NewInvalidColumnf(op, "column %q does not exist in %s", arg, t.Name)
				}
				ref = expr.NewColumnRef(col.AttrNum, col.Name, col.Type)
			} else if agg != expr.AggCount {
				return nil, nil, errors.NewUnsupportedExpressionf(op, "%s(*) is not supported", fn)
			}
			targets = append(targets, expr.NewAggregate(agg, ref))
			continue
		}
		col, ok := t.ColumnByName(name)
		if !ok {
			return nil, nil, errors.NewInvalidColumnf(op, "column %q does not exist in %s", name, t.Name)
		}
		targets = append(targets, expr.NewColumnRef(col.AttrNum, col.Name, col.Type))
	}
	return targets, columns, nil
}

func parseAggregate(s string) (fn, arg string, ok bool) {
	fn, rest, found := strings.Cut(s, "(")
	if !found || !strings.HasSuffix(rest, ")") {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(fn)), strings.TrimSpace(strings.TrimSuffix(rest, ")")), true
}

func appendWhere(sel *pggate.Select, t *catalog.Table, where string) error {
	f := expr.NewForeign(where, types.ColumnTypeBoolean)
	if _, err := f.Parse(); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "appendWhere")
	}
	if err := sel.AppendQual(f); err != nil {
		return err
	}
	return appendForeignRefs(sel.Dml, t, f)
}

// appendForeignRefs registers the columns f reads. Unknown names are left
// for Exec to report.
func appendForeignRefs(stmt *pggate.Dml, t *catalog.Table, f *expr.Foreign) error {
	names, err := f.ReferencedColumns()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "appendForeignRefs")
	}
	for _, name := range names {
		col, ok := t.ColumnByName(name)
		if !ok {
			continue
		}
		if err := stmt.AppendColumnRef(expr.NewColumnRef(col.AttrNum, col.Name, col.Type)); err != nil {
			return err
		}
	}
	return nil
}

// keyBinds splits a comma separated primary key into per-column values.
func keyBinds(t *catalog.Table, key string) (map[string]string, error) {
	cols := t.KeyColumns()
	parts := strings.Split(key, ",")
	if len(cols) == 0 || len(parts) != len(cols) {
		return nil, errors.NewValidationErrorf("keyBinds", "%s needs %d key values, got %q", t.Name, len(cols), key)
	}
	eq := make(map[string]string, len(cols))
	for i, c := range cols {
		eq[c.Name] = parts[i]
	}
	return eq, nil
}

func bindKey(stmt *pggate.Dml, t *catalog.Table, eq map[string]string) error {
	for _, name := range sortedKeys(eq) {
		col, _ := t.ColumnByName(name)
		if err := stmt.BindColumn(col.AttrNum, expr.NewConstant(types.NewText(eq[name]))); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gate) collect(ctx context.Context, stmt rowSource, targets []expr.Expr, natts, limit int) ([][]types.Value, error) {
	if len(targets) > natts {
		natts = len(targets)
	}
	tuple := g.tuple(natts)
	defer g.tuples.Put(tuple)
	var rows [][]types.Value
	for limit <= 0 || len(rows) < limit {
		ok, err := stmt.GetNextRow(ctx, tuple)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		row := make([]types.Value, len(targets))
		for i, target := range targets {
			row[i] = slotValue(tuple, i, target)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func slotValue(tuple *pggate.Tuple, i int, target expr.Expr) types.Value {
	if ref, ok := target.(*expr.ColumnRef); ok {
		if ref.AttrNum == catalog.TupleIDAttrNum {
			return types.NewBytes(tuple.Sys.Ybctid)
		}
		i = ref.AttrNum - 1
	}
	return tuple.Values[i]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
