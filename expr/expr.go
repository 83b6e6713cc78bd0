// Package expr defines the expression objects the front-end hands to
// statements: constants, placeholders, column references, aggregates and
// serialized foreign expressions.
package expr

import (
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/types"
)

type Kind int

const (
	KindConstant Kind = iota
	KindParam
	KindColumnRef
	KindAggregate
	KindForeign
)

func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "constant"
	case KindParam:
		return "param"
	case KindColumnRef:
		return "column_ref"
	case KindAggregate:
		return "aggregate"
	case KindForeign:
		return "foreign"
	default:
		return "unknown"
	}
}

// Expr is a logical expression. Eval yields a value for expressions that can
// be computed on the caller side (constants and bound parameters).
type Expr interface {
	Kind() Kind
	Type() types.ColumnType
	Eval() (types.Value, error)
	ColumnRefs() []*ColumnRef
}

// Constant is a literal value. Its value may be replaced between executions.
type Constant struct {
	value types.Value
}

func NewConstant(v types.Value) *Constant {
	return &Constant{value: v}
}

func (c *Constant) Kind() Kind                 { return KindConstant }
func (c *Constant) Type() types.ColumnType     { return c.value.Type }
func (c *Constant) Eval() (types.Value, error) { return c.value, nil }
func (c *Constant) ColumnRefs() []*ColumnRef   { return nil }

func (c *Constant) SetValue(v types.Value) {
	c.value = v
}

// Param is a placeholder ($n) whose value is supplied after the statement is
// prepared.
type Param struct {
	Number int
	typ    types.ColumnType
	value  *types.Value
}

func NewParam(number int, typ types.ColumnType) *Param {
	return &Param{Number: number, typ: typ}
}

func (p *Param) Kind() Kind               { return KindParam }
func (p *Param) Type() types.ColumnType   { return p.typ }
func (p *Param) ColumnRefs() []*ColumnRef { return nil }

// Set binds a value, coerced to the parameter type.
func (p *Param) Set(v types.Value) error {
	cv, err := types.Coerce(v, p.typ)
	if err != nil {
		return errors.Wrapf(err, errors.ErrCodeValidation, "Param.Set", "parameter $%d", p.Number)
	}
	p.value = &cv
	return nil
}

func (p *Param) Reset() {
	p.value = nil
}

func (p *Param) IsSet() bool {
	return p.value != nil
}

func (p *Param) Eval() (types.Value, error) {
	if p.value == nil {
		return types.Value{}, errors.NewInvalidStatef("Param.Eval", "parameter $%d has no value", p.Number)
	}
	return *p.value, nil
}

// ColumnRef references a column of the statement's table. It is evaluated by
// storage, never on the caller side.
type ColumnRef struct {
	AttrNum int
	Name    string
	typ     types.ColumnType
	TypMod  int32
}

func NewColumnRef(attr int, name string, typ types.ColumnType) *ColumnRef {
	return &ColumnRef{AttrNum: attr, Name: name, typ: typ, TypMod: -1}
}

func (c *ColumnRef) Kind() Kind               { return KindColumnRef }
func (c *ColumnRef) Type() types.ColumnType   { return c.typ }
func (c *ColumnRef) TypeOID() uint32          { return c.typ.OID() }
func (c *ColumnRef) ColumnRefs() []*ColumnRef { return []*ColumnRef{c} }

func (c *ColumnRef) Eval() (types.Value, error) {
	return types.Value{}, errors.NewUnsupportedExpressionf("ColumnRef.Eval", "column %q is evaluated by storage", c.Name)
}

// IsSystem reports whether the reference targets a system attribute.
func (c *ColumnRef) IsSystem() bool {
	return c.AttrNum < 0
}

type AggFunc string

const (
	AggCount AggFunc = "count"
	AggSum   AggFunc = "sum"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
	AggAvg   AggFunc = "avg"
)

func ParseAggFunc(s string) (AggFunc, bool) {
	switch f := AggFunc(s); f {
	case AggCount, AggSum, AggMin, AggMax, AggAvg:
		return f, true
	}
	return "", false
}

// Aggregate is computed by storage over the rows matching the statement.
// A nil Arg means count(*).
type Aggregate struct {
	Func AggFunc
	Arg  *ColumnRef
}

func NewAggregate(fn AggFunc, arg *ColumnRef) *Aggregate {
	return &Aggregate{Func: fn, Arg: arg}
}

func (a *Aggregate) Kind() Kind { return KindAggregate }

func (a *Aggregate) Type() types.ColumnType {
	switch {
	case a.Func == AggCount:
		return types.ColumnTypeBigInt
	case a.Func == AggAvg:
		return types.ColumnTypeDouble
	case a.Arg == nil:
		return types.ColumnTypeBigInt
	case a.Func == AggSum && a.Arg.Type().IsInteger():
		return types.ColumnTypeBigInt
	case a.Func == AggSum:
		return types.ColumnTypeDouble
	default:
		return a.Arg.Type()
	}
}

func (a *Aggregate) Eval() (types.Value, error) {
	return types.Value{}, errors.NewUnsupportedExpressionf("Aggregate.Eval", "%s is evaluated by storage", a.Func)
}

func (a *Aggregate) ColumnRefs() []*ColumnRef {
	if a.Arg == nil {
		return nil
	}
	return []*ColumnRef{a.Arg}
}
