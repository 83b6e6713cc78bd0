package pggate

import (
	"context"

	"github.com/google/uuid"

	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/docdb"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/expr"
	"github.com/guileen/pglitegate/logger"
)

type stmtKind int

const (
	stmtSelect stmtKind = iota
	stmtInsert
	stmtUpdate
	stmtDelete
)

func (k stmtKind) String() string {
	switch k {
	case stmtSelect:
		return "select"
	case stmtInsert:
		return "insert"
	case stmtUpdate:
		return "update"
	case stmtDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// PrepareParams are fixed when a select is prepared.
type PrepareParams struct {
	// IndexOID names the secondary index used by the scan, 0 for none.
	IndexOID uint32
	// IndexOnlyScan reads the index table directly.
	IndexOnlyScan bool
	// UseSecondaryIndex forces a nested lookup through the index.
	UseSecondaryIndex bool
	// QueryingColocatedTable marks a scan of a table sharing its tablet; the
	// table must be colocated. Selects never need key binds, and updates and
	// deletes on colocated tables run without them too.
	QueryingColocatedTable bool
}

// Dml is the state shared by every statement: the table it works on, its
// target, qual, bind and assign lists, the payload they are lowered into and
// the buffered results of the current execution.
//
// A Dml is not safe for concurrent use.
type Dml struct {
	session *Session
	id      uuid.UUID
	kind    stmtKind

	tableID catalog.ObjectID
	indexID catalog.ObjectID
	// targetDesc is the relation rows are read from or written to.
	targetDesc *catalog.TableRef

	targets    []expr.Expr
	quals      []expr.Expr
	colRefs    *colRefSet
	bindings   bindingSet
	ybctidBind bool
	bindTable  bool

	payload payloadBuilder
	// catalogVersion pins the definitions the statement was prepared against.
	catalogVersion uint64

	// openOp builds the dispatcher on the first fetch. Writes leave it nil
	// because they run their operation in Exec.
	openOp func(ctx context.Context) (*docOp, error)
	op     *docOp
	// nestedOps counts operations issued by a nested index lookup.
	nestedOps int

	executing       bool
	aggCached       bool
	hasAggTargets   bool
	execParams      *ExecParameters
	rowsets         rowSetQueue
	currentRowOrder int64
	done            bool
	err             error
	closed          bool
}

func newDml(s *Session, kind stmtKind, tableID catalog.ObjectID, desc *catalog.TableRef, payload payloadBuilder) *Dml {
	return &Dml{
		session:    s,
		id:         uuid.New(),
		kind:       kind,
		tableID:    tableID,
		targetDesc: desc,
		colRefs:    newColRefSet(),
		payload:    payload,

		catalogVersion: s.Catalog().Version(),
	}
}

func (d *Dml) ID() uuid.UUID {
	return d.id
}

func (d *Dml) TableID() catalog.ObjectID {
	return d.tableID
}

func (d *Dml) logContext(ctx context.Context) context.Context {
	ctx = logger.WithContextValue(ctx, logger.SessionIDKey, d.session.id.String())
	return logger.WithContextValue(ctx, logger.StatementIDKey, d.id.String())
}

// SetCatalogCacheVersion sets the catalog version sent with every request.
// Storage rejects the statement once the catalog has moved past it. New
// statements start at the catalog's current version.
func (d *Dml) SetCatalogCacheVersion(version uint64) error {
	if err := d.checkMutable("SetCatalogCacheVersion"); err != nil {
		return err
	}
	d.catalogVersion = version
	return nil
}

// CatalogCacheVersion returns the pinned catalog version.
func (d *Dml) CatalogCacheVersion() uint64 {
	return d.catalogVersion
}

func (d *Dml) checkMutable(op string) error {
	if d.closed {
		return errors.NewInvalidStatef(op, "statement is closed")
	}
	if d.executing {
		return errors.NewInvalidStatef(op, "statement execution has started")
	}
	return nil
}

func (d *Dml) column(op string, attr int) (*catalog.Column, error) {
	col, ok := d.targetDesc.ColumnByAttr(attr)
	if !ok {
		return nil, errors.NewInvalidColumnf(op, "attribute %d does not exist in %s", attr, d.targetDesc.Name)
	}
	return col, nil
}

// AppendTarget adds an output expression. Column references, aggregates and
// foreign expressions are accepted.
func (d *Dml) AppendTarget(e expr.Expr) error {
	const op = "AppendTarget"
	if err := d.checkMutable(op); err != nil {
		return err
	}

	var lowered *docdb.Expression
	switch t := e.(type) {
	case *expr.ColumnRef:
		col, err := d.column(op, t.AttrNum)
		if err != nil {
			return err
		}
		lowered = docdb.NewColumnExpression(col.ID)
		d.colRefs.add(t)
	case *expr.Aggregate:
		if d.kind != stmtSelect {
			return errors.NewUnsupportedExpressionf(op, "%s cannot return aggregates", d.kind)
		}
		call := &docdb.AggregateCall{Func: string(t.Func)}
		if t.Arg != nil {
			col, err := d.column(op, t.Arg.AttrNum)
			if err != nil {
				return err
			}
			call.Arg = docdb.NewColumnExpression(col.ID)
			d.colRefs.add(t.Arg)
		}
		lowered = &docdb.Expression{Aggregate: call}
	case *expr.Foreign:
		lowered = &docdb.Expression{Foreign: t.Source}
	default:
		return errors.NewUnsupportedExpressionf(op, "%s expression cannot be a target", e.Kind())
	}

	*d.payload.allocTarget() = *lowered
	d.targets = append(d.targets, e)
	return nil
}

// AppendQual adds a filter evaluated by storage. Only foreign expressions
// can be pushed down.
func (d *Dml) AppendQual(e expr.Expr) error {
	const op = "AppendQual"
	if err := d.checkMutable(op); err != nil {
		return err
	}
	if d.kind == stmtInsert {
		return errors.NewUnsupportedExpressionf(op, "insert does not take quals")
	}
	f, ok := e.(*expr.Foreign)
	if !ok {
		return errors.NewUnsupportedExpressionf(op, "%s expression cannot be pushed down as a qual", e.Kind())
	}
	if _, err := f.Parse(); err != nil {
		return err
	}
	d.payload.allocQual().Foreign = f.Source
	d.quals = append(d.quals, e)
	return nil
}

// AppendColumnRef registers a column read by the statement's foreign
// expressions.
func (d *Dml) AppendColumnRef(e expr.Expr) error {
	const op = "AppendColumnRef"
	if err := d.checkMutable(op); err != nil {
		return err
	}
	ref, ok := e.(*expr.ColumnRef)
	if !ok {
		return errors.NewUnsupportedExpressionf(op, "%s expression is not a column reference", e.Kind())
	}
	if _, err := d.column(op, ref.AttrNum); err != nil {
		return err
	}
	d.colRefs.add(ref)
	return nil
}

// BindColumn supplies the value of key column attr. A later bind of the
// same column replaces the expression.
func (d *Dml) BindColumn(attr int, e expr.Expr) error {
	const op = "BindColumn"
	if err := d.checkMutable(op); err != nil {
		return err
	}
	if d.bindTable {
		return errors.NewInvalidStatef(op, "statement is bound to the whole table")
	}
	col, err := d.column(op, attr)
	if err != nil {
		return err
	}
	if k := e.Kind(); k != expr.KindConstant && k != expr.KindParam {
		return errors.NewUnsupportedExpressionf(op, "%s expression cannot be bound", k)
	}

	alloc := func() (*docdb.Expression, error) {
		switch {
		case attr == catalog.TupleIDAttrNum && d.kind != stmtInsert:
			return d.payload.allocYbctidBind(), nil
		case attr == catalog.TupleIDAttrNum:
			return nil, errors.NewInvalidColumnf(op, "insert cannot bind %s", catalog.TupleIDColumnName)
		case col.Role == catalog.RoleHash:
			return d.payload.allocPartitionBind(col.ID), nil
		case col.Role == catalog.RoleRange:
			return d.payload.allocRangeBind(col.ID), nil
		case d.kind == stmtInsert:
			return d.payload.allocColumnValue(col.ID)
		default:
			return nil, errors.NewInvalidColumnf(op, "column %q of %s is not a key column", col.Name, d.targetDesc.Name)
		}
	}
	if err := d.bindings.put(attr, RoleBind, e, col.Type, alloc); err != nil {
		return err
	}
	if attr == catalog.TupleIDAttrNum {
		d.ybctidBind = true
	}
	return nil
}

// AssignColumn supplies the new value of non-key column attr.
func (d *Dml) AssignColumn(attr int, e expr.Expr) error {
	const op = "AssignColumn"
	if err := d.checkMutable(op); err != nil {
		return err
	}
	if d.kind == stmtSelect || d.kind == stmtDelete {
		return errors.NewInvalidStatef(op, "%s does not assign columns", d.kind)
	}
	col, err := d.column(op, attr)
	if err != nil {
		return err
	}
	if col.IsKey() || col.IsSystem() {
		return errors.NewInvalidColumnf(op, "key column %q of %s cannot be assigned", col.Name, d.targetDesc.Name)
	}
	switch e.Kind() {
	case expr.KindConstant, expr.KindParam:
	case expr.KindForeign:
		if d.kind == stmtInsert {
			return errors.NewUnsupportedExpressionf(op, "insert values cannot read other columns")
		}
	default:
		return errors.NewUnsupportedExpressionf(op, "%s expression cannot be assigned", e.Kind())
	}
	return d.bindings.put(attr, RoleAssign, e, col.Type, func() (*docdb.Expression, error) {
		return d.payload.allocColumnValue(col.ID)
	})
}

// BindTable makes the statement operate on every row of the table.
func (d *Dml) BindTable() error {
	const op = "BindTable"
	if err := d.checkMutable(op); err != nil {
		return err
	}
	if d.bindings.count(RoleBind) > 0 {
		return errors.NewInvalidStatef(op, "statement already has bound columns")
	}
	if err := d.payload.bindTable(); err != nil {
		return err
	}
	d.bindTable = true
	return nil
}

// GetColumnInfo returns the key role of column attr of the bind object.
func (d *Dml) GetColumnInfo(attr int) (catalog.ColumnInfo, error) {
	return d.targetDesc.ColumnInfo(attr)
}

func (d *Dml) computeAggregateTargets() bool {
	if len(d.targets) == 0 {
		return false
	}
	for _, t := range d.targets {
		if t.Kind() != expr.KindAggregate {
			return false
		}
	}
	return true
}

// HasAggregateTargets reports whether every target is an aggregate. The
// answer is fixed once execution starts.
func (d *Dml) HasAggregateTargets() bool {
	if d.aggCached {
		return d.hasAggTargets
	}
	return d.computeAggregateTargets()
}

// resetExecution drops the results of a previous execution.
func (d *Dml) resetExecution() {
	if d.op != nil {
		d.op.close()
		d.op = nil
	}
	d.rowsets.reset()
	d.nestedOps = 0
	d.currentRowOrder = 0
	d.done = false
	d.err = nil
}

// exec freezes the statement and lowers its bindings and column references
// into the payload. No remote operation is issued.
func (d *Dml) exec(ctx context.Context, params *ExecParameters) error {
	const op = "Exec"
	if d.closed {
		return errors.NewInvalidStatef(op, "statement is closed")
	}
	d.resetExecution()
	d.executing = true
	d.execParams = params
	d.hasAggTargets = d.computeAggregateTargets()
	d.aggCached = true

	if err := d.prepareExecution(); err != nil {
		d.err = err
		return err
	}

	d.session.metrics.statementExecuted(d.kind.String())
	logCtx := d.logContext(ctx)
	args := []any{
		logger.Component("pggate"),
		logger.String("kind", d.kind.String()),
		logger.Table(d.targetDesc.Name),
		logger.Int("targets", len(d.targets)),
		logger.Int("quals", len(d.quals)),
		logger.Int("binds", d.bindings.count(RoleBind)),
		logger.Int("assigns", d.bindings.count(RoleAssign)),
	}
	if params != nil && params.RowMark != RowMarkNone {
		args = append(args, logger.String("row_mark", params.RowMark.String()))
	}
	logger.DebugContext(logCtx, "statement executing", args...)
	return nil
}

func (d *Dml) prepareExecution() error {
	const op = "Exec"
	if len(d.targets) > 0 && !d.hasAggTargets {
		for _, t := range d.targets {
			if t.Kind() == expr.KindAggregate {
				return errors.NewUnsupportedExpressionf(op, "aggregate and plain targets cannot be mixed")
			}
		}
	}
	if err := d.bindings.updateBindPayloads(); err != nil {
		return err
	}
	if err := d.bindings.updateAssignPayloads(); err != nil {
		return err
	}
	refs, legacy, err := d.colRefs.emit(d.targetDesc.Table, d.session.cfg.LegacyColumnRefs)
	if err != nil {
		return err
	}
	d.payload.setColRefs(refs, legacy)
	d.payload.setCatalogVersion(d.catalogVersion)
	return d.colRefs.validate(d.targetDesc.Table, d.targets, d.quals, d.bindings.exprs(RoleAssign))
}

// FetchDataFromServer issues or continues the remote operation and buffers
// the rows it returns. It reports whether storage has more data.
func (d *Dml) FetchDataFromServer(ctx context.Context) (bool, error) {
	const op = "FetchDataFromServer"
	if d.closed {
		return false, errors.NewInvalidStatef(op, "statement is closed")
	}
	if !d.executing {
		return false, errors.NewInvalidStatef(op, "statement has not been executed")
	}
	if d.err != nil {
		return false, d.err
	}
	if len(d.targets) == 0 || d.done {
		return false, nil
	}
	if d.op == nil {
		if d.openOp == nil {
			return false, nil
		}
		o, err := d.openOp(ctx)
		if err != nil {
			d.syncRemoteOps()
			d.err = err
			return false, err
		}
		d.op = o
	}

	rows, more, err := d.op.fetch(d.logContext(ctx))
	d.syncRemoteOps()
	if err != nil {
		d.err = err
		errors.LogWarning(d.logContext(ctx), err)
		return false, err
	}
	d.rowsets.push(rows)
	return more, nil
}

func (d *Dml) syncRemoteOps() {
	if d.execParams == nil {
		return
	}
	n := d.nestedOps
	if d.op != nil {
		n += d.op.ops
	}
	d.execParams.RemoteOps = n
}

// GetNextRow writes the next result row into t. It returns false at the end
// of the results; t is not modified then or on error.
func (d *Dml) GetNextRow(ctx context.Context, t *Tuple) (bool, error) {
	const op = "GetNextRow"
	if d.closed {
		return false, errors.NewInvalidStatef(op, "statement is closed")
	}
	if !d.executing {
		return false, errors.NewInvalidStatef(op, "statement has not been executed")
	}
	if d.err != nil {
		return false, d.err
	}

	for {
		if row := d.rowsets.next(); row != nil {
			if err := t.fill(d.targets, row, d.currentRowOrder, d.hasAggTargets); err != nil {
				return false, err
			}
			d.currentRowOrder++
			if d.execParams != nil {
				d.execParams.RowsFetched++
			}
			d.session.metrics.rowDelivered()
			return true, nil
		}
		if d.done {
			return false, nil
		}
		more, err := d.FetchDataFromServer(ctx)
		if err != nil {
			return false, err
		}
		if !more {
			d.done = true
		}
	}
}

// Fetch returns the next row laid out in natts slots. When there is no more
// data HasData is false and every slot is null.
func (d *Dml) Fetch(ctx context.Context, natts int) (*FetchResult, error) {
	res := &FetchResult{Tuple: *NewTuple(natts)}
	if err := d.FetchInto(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// FetchInto is Fetch writing into a caller-owned buffer.
func (d *Dml) FetchInto(ctx context.Context, buf *TupleBuffer) error {
	ok, err := d.GetNextRow(ctx, &buf.Tuple)
	buf.HasData = ok && err == nil
	if !buf.HasData {
		buf.Clear()
	}
	return err
}

// CurrentRowOrder returns the number of rows delivered by this execution.
func (d *Dml) CurrentRowOrder() int64 {
	return d.currentRowOrder
}

// Close cancels in-flight work, drops buffered rows and releases the table
// descriptor. It is safe to call more than once.
func (d *Dml) Close() error {
	if d.closed {
		return nil
	}
	d.resetExecution()
	d.closed = true
	d.targetDesc.Release()
	d.session.forget(d.id)
	return nil
}
