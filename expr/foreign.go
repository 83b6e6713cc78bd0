package expr

import (
	"sync"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/types"
)

// Foreign is an expression serialized by the front-end as SQL text. Storage
// parses and evaluates it; the column references it needs must be
// registered on the statement separately.
type Foreign struct {
	Source     string
	resultType types.ColumnType

	once sync.Once
	node *pg_query.Node
	err  error
}

func NewForeign(source string, resultType types.ColumnType) *Foreign {
	return &Foreign{Source: source, resultType: resultType}
}

func (f *Foreign) Kind() Kind               { return KindForeign }
func (f *Foreign) Type() types.ColumnType   { return f.resultType }
func (f *Foreign) ColumnRefs() []*ColumnRef { return nil }

func (f *Foreign) Eval() (types.Value, error) {
	return types.Value{}, errors.NewUnsupportedExpressionf("Foreign.Eval", "foreign expression is evaluated by storage")
}

// Parse returns the parsed expression tree. The result is cached.
func (f *Foreign) Parse() (*pg_query.Node, error) {
	f.once.Do(func() {
		f.node, f.err = ParseExpression(f.Source)
	})
	return f.node, f.err
}

// ReferencedColumns returns the distinct column names the expression reads,
// in order of first appearance.
func (f *Foreign) ReferencedColumns() ([]string, error) {
	node, err := f.Parse()
	if err != nil {
		return nil, err
	}
	var names []string
	seen := make(map[string]bool)
	WalkColumnRefs(node, func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	})
	return names, nil
}

// ParseExpression parses a standalone scalar SQL expression.
func ParseExpression(src string) (*pg_query.Node, error) {
	result, err := pg_query.Parse("SELECT (" + src + ")")
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeUnsupportedExpression, "ParseExpression", "cannot parse %q", src)
	}
	if len(result.Stmts) != 1 {
		return nil, errors.NewUnsupportedExpressionf("ParseExpression", "expected a single expression in %q", src)
	}
	sel := result.Stmts[0].GetStmt().GetSelectStmt()
	if sel == nil || len(sel.GetTargetList()) != 1 || sel.GetFromClause() != nil || sel.GetWhereClause() != nil {
		return nil, errors.NewUnsupportedExpressionf("ParseExpression", "expected a single expression in %q", src)
	}
	return sel.GetTargetList()[0].GetResTarget().GetVal(), nil
}

// ColumnName returns the unqualified column name of a ColumnRef node.
func ColumnName(ref *pg_query.ColumnRef) string {
	fields := ref.GetFields()
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1].GetString_().GetSval()
}

// WalkColumnRefs calls fn for every column reference in node.
func WalkColumnRefs(node *pg_query.Node, fn func(name string)) {
	if node == nil {
		return
	}
	switch {
	case node.GetColumnRef() != nil:
		if name := ColumnName(node.GetColumnRef()); name != "" {
			fn(name)
		}
	case node.GetAExpr() != nil:
		WalkColumnRefs(node.GetAExpr().GetLexpr(), fn)
		WalkColumnRefs(node.GetAExpr().GetRexpr(), fn)
	case node.GetBoolExpr() != nil:
		for _, arg := range node.GetBoolExpr().GetArgs() {
			WalkColumnRefs(arg, fn)
		}
	case node.GetNullTest() != nil:
		WalkColumnRefs(node.GetNullTest().GetArg(), fn)
	case node.GetBooleanTest() != nil:
		WalkColumnRefs(node.GetBooleanTest().GetArg(), fn)
	case node.GetTypeCast() != nil:
		WalkColumnRefs(node.GetTypeCast().GetArg(), fn)
	case node.GetList() != nil:
		for _, item := range node.GetList().GetItems() {
			WalkColumnRefs(item, fn)
		}
	case node.GetFuncCall() != nil:
		for _, arg := range node.GetFuncCall().GetArgs() {
			WalkColumnRefs(arg, fn)
		}
	case node.GetCoalesceExpr() != nil:
		for _, arg := range node.GetCoalesceExpr().GetArgs() {
			WalkColumnRefs(arg, fn)
		}
	}
}
