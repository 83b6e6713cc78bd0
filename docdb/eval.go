package docdb

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/expr"
	"github.com/guileen/pglitegate/types"
)

// columnResolver resolves a column name to its value in the current row.
type columnResolver interface {
	resolve(name string) (types.Value, error)
}

var pgTypes = pgtype.NewMap()

// evaluator evaluates parsed foreign expressions with SQL NULL semantics.
type evaluator struct {
	env columnResolver
}

func (e *evaluator) eval(node *pg_query.Node) (types.Value, error) {
	switch {
	case node == nil:
		return types.Value{}, errors.NewUnsupportedExpressionf("eval", "empty expression")
	case node.GetColumnRef() != nil:
		return e.env.resolve(expr.ColumnName(node.GetColumnRef()))
	case node.GetAConst() != nil:
		return constValue(node.GetAConst())
	case node.GetTypeCast() != nil:
		return e.evalCast(node.GetTypeCast())
	case node.GetAExpr() != nil:
		return e.evalAExpr(node.GetAExpr())
	case node.GetBoolExpr() != nil:
		return e.evalBoolExpr(node.GetBoolExpr())
	case node.GetNullTest() != nil:
		v, err := e.eval(node.GetNullTest().GetArg())
		if err != nil {
			return types.Value{}, err
		}
		isNull := v.IsNull()
		if node.GetNullTest().GetNulltesttype() == pg_query.NullTestType_IS_NOT_NULL {
			return types.NewBool(!isNull), nil
		}
		return types.NewBool(isNull), nil
	case node.GetCoalesceExpr() != nil:
		for _, arg := range node.GetCoalesceExpr().GetArgs() {
			v, err := e.eval(arg)
			if err != nil {
				return types.Value{}, err
			}
			if !v.IsNull() {
				return v, nil
			}
		}
		return types.Null(types.ColumnTypeText), nil
	case node.GetFuncCall() != nil:
		return e.evalFunc(node.GetFuncCall())
	default:
		return types.Value{}, errors.NewUnsupportedExpressionf("eval", "unsupported expression node %T", node.GetNode())
	}
}

// evalBool evaluates a predicate. NULL counts as false.
func (e *evaluator) evalBool(node *pg_query.Node) (bool, error) {
	v, err := e.eval(node)
	if err != nil || v.IsNull() {
		return false, err
	}
	b, ok := v.Bool()
	if !ok {
		return false, errors.NewUnsupportedExpressionf("evalBool", "predicate yields %s, not boolean", v.Type)
	}
	return b, nil
}

func constValue(c *pg_query.A_Const) (types.Value, error) {
	switch {
	case c.GetIsnull():
		return types.Null(types.ColumnTypeText), nil
	case c.GetIval() != nil:
		return types.NewInt(int64(c.GetIval().GetIval())), nil
	case c.GetFval() != nil:
		s := c.GetFval().GetFval()
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return types.NewInt(i), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return types.Value{}, errors.NewUnsupportedExpressionf("constValue", "bad numeric literal %q", s)
		}
		return types.NewFloat(f), nil
	case c.GetSval() != nil:
		return types.NewText(c.GetSval().GetSval()), nil
	case c.GetBoolval() != nil:
		return types.NewBool(c.GetBoolval().GetBoolval()), nil
	default:
		// An A_Const with no value set is integer zero.
		return types.NewInt(0), nil
	}
}

func (e *evaluator) evalCast(tc *pg_query.TypeCast) (types.Value, error) {
	v, err := e.eval(tc.GetArg())
	if err != nil {
		return types.Value{}, err
	}
	names := tc.GetTypeName().GetNames()
	if len(names) == 0 {
		return v, nil
	}
	name := names[len(names)-1].GetString_().GetSval()
	pt, ok := pgTypes.TypeForName(name)
	if !ok {
		return types.Value{}, errors.NewUnsupportedExpressionf("evalCast", "unknown type %q", name)
	}
	typ, ok := types.ColumnTypeFromOID(pt.OID)
	if !ok {
		return types.Value{}, errors.NewUnsupportedExpressionf("evalCast", "unsupported type %q", name)
	}
	out, err := types.Coerce(v, typ)
	if err != nil {
		return types.Value{}, errors.Wrap(err, errors.ErrCodeValidation, "evalCast")
	}
	return out, nil
}

func (e *evaluator) evalBoolExpr(be *pg_query.BoolExpr) (types.Value, error) {
	args := be.GetArgs()
	switch be.GetBoolop() {
	case pg_query.BoolExprType_NOT_EXPR:
		if len(args) != 1 {
			return types.Value{}, errors.NewUnsupportedExpressionf("evalBoolExpr", "NOT takes one argument")
		}
		v, err := e.eval(args[0])
		if err != nil || v.IsNull() {
			return types.Null(types.ColumnTypeBoolean), err
		}
		b, ok := v.Bool()
		if !ok {
			return types.Value{}, errors.NewUnsupportedExpressionf("evalBoolExpr", "NOT of %s", v.Type)
		}
		return types.NewBool(!b), nil

	case pg_query.BoolExprType_AND_EXPR, pg_query.BoolExprType_OR_EXPR:
		isAnd := be.GetBoolop() == pg_query.BoolExprType_AND_EXPR
		sawNull := false
		for _, arg := range args {
			v, err := e.eval(arg)
			if err != nil {
				return types.Value{}, err
			}
			if v.IsNull() {
				sawNull = true
				continue
			}
			b, ok := v.Bool()
			if !ok {
				return types.Value{}, errors.NewUnsupportedExpressionf("evalBoolExpr", "boolean operator on %s", v.Type)
			}
			if b != isAnd {
				return types.NewBool(b), nil
			}
		}
		if sawNull {
			return types.Null(types.ColumnTypeBoolean), nil
		}
		return types.NewBool(isAnd), nil
	}
	return types.Value{}, errors.NewUnsupportedExpressionf("evalBoolExpr", "unsupported boolean operator %v", be.GetBoolop())
}

func opName(ae *pg_query.A_Expr) string {
	names := ae.GetName()
	if len(names) == 0 {
		return ""
	}
	return names[len(names)-1].GetString_().GetSval()
}

func (e *evaluator) evalAExpr(ae *pg_query.A_Expr) (types.Value, error) {
	op := opName(ae)

	switch ae.GetKind() {
	case pg_query.A_Expr_Kind_AEXPR_OP, pg_query.A_Expr_Kind_AEXPR_LIKE, pg_query.A_Expr_Kind_AEXPR_ILIKE:
		if ae.GetLexpr() == nil {
			return e.evalUnary(op, ae.GetRexpr())
		}
		l, err := e.eval(ae.GetLexpr())
		if err != nil {
			return types.Value{}, err
		}
		r, err := e.eval(ae.GetRexpr())
		if err != nil {
			return types.Value{}, err
		}
		return binaryOp(op, l, r)

	case pg_query.A_Expr_Kind_AEXPR_IN:
		l, err := e.eval(ae.GetLexpr())
		if err != nil {
			return types.Value{}, err
		}
		found, sawNull := false, l.IsNull()
		for _, item := range ae.GetRexpr().GetList().GetItems() {
			v, err := e.eval(item)
			if err != nil {
				return types.Value{}, err
			}
			eq, err := binaryOp("=", l, v)
			if err != nil {
				return types.Value{}, err
			}
			if eq.IsNull() {
				sawNull = true
			} else if b, _ := eq.Bool(); b {
				found = true
				break
			}
		}
		negate := op == "<>"
		switch {
		case found:
			return types.NewBool(!negate), nil
		case sawNull:
			return types.Null(types.ColumnTypeBoolean), nil
		default:
			return types.NewBool(negate), nil
		}

	case pg_query.A_Expr_Kind_AEXPR_BETWEEN, pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN:
		items := ae.GetRexpr().GetList().GetItems()
		if len(items) != 2 {
			return types.Value{}, errors.NewUnsupportedExpressionf("evalAExpr", "BETWEEN needs two bounds")
		}
		l, err := e.eval(ae.GetLexpr())
		if err != nil {
			return types.Value{}, err
		}
		lo, err := e.eval(items[0])
		if err != nil {
			return types.Value{}, err
		}
		hi, err := e.eval(items[1])
		if err != nil {
			return types.Value{}, err
		}
		ge, err := binaryOp(">=", l, lo)
		if err != nil {
			return types.Value{}, err
		}
		le, err := binaryOp("<=", l, hi)
		if err != nil {
			return types.Value{}, err
		}
		if ge.IsNull() || le.IsNull() {
			return types.Null(types.ColumnTypeBoolean), nil
		}
		gb, _ := ge.Bool()
		lb, _ := le.Bool()
		in := gb && lb
		if ae.GetKind() == pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN {
			in = !in
		}
		return types.NewBool(in), nil

	case pg_query.A_Expr_Kind_AEXPR_DISTINCT, pg_query.A_Expr_Kind_AEXPR_NOT_DISTINCT:
		l, err := e.eval(ae.GetLexpr())
		if err != nil {
			return types.Value{}, err
		}
		r, err := e.eval(ae.GetRexpr())
		if err != nil {
			return types.Value{}, err
		}
		same := l.Equal(r)
		if ae.GetKind() == pg_query.A_Expr_Kind_AEXPR_DISTINCT {
			return types.NewBool(!same), nil
		}
		return types.NewBool(same), nil
	}
	return types.Value{}, errors.NewUnsupportedExpressionf("evalAExpr", "unsupported operator kind %v", ae.GetKind())
}

func (e *evaluator) evalUnary(op string, arg *pg_query.Node) (types.Value, error) {
	v, err := e.eval(arg)
	if err != nil || v.IsNull() {
		return v, err
	}
	switch op {
	case "-":
		if i, ok := v.Data.(int64); ok {
			return types.Value{Data: -i, Type: v.Type}, nil
		}
		if f, ok := v.Data.(float64); ok {
			return types.Value{Data: -f, Type: v.Type}, nil
		}
	case "+":
		if v.Type.IsNumeric() {
			return v, nil
		}
	}
	return types.Value{}, errors.NewUnsupportedExpressionf("evalUnary", "operator %s%s", op, v.Type)
}

func binaryOp(op string, l, r types.Value) (types.Value, error) {
	if l.IsNull() || r.IsNull() {
		if op == "||" {
			return types.Null(types.ColumnTypeText), nil
		}
		return types.Null(types.ColumnTypeBoolean), nil
	}

	switch op {
	case "=", "<>", "!=", "<", "<=", ">", ">=":
		c, err := compareLoose(l, r)
		if err != nil {
			return types.Value{}, err
		}
		var b bool
		switch op {
		case "=":
			b = c == 0
		case "<>", "!=":
			b = c != 0
		case "<":
			b = c < 0
		case "<=":
			b = c <= 0
		case ">":
			b = c > 0
		case ">=":
			b = c >= 0
		}
		return types.NewBool(b), nil

	case "+", "-", "*", "/", "%":
		return arith(op, l, r)

	case "||":
		return types.NewText(l.String() + r.String()), nil

	case "~~", "!~~", "~~*", "!~~*":
		s, ok := l.Data.(string)
		pattern, pok := r.Data.(string)
		if !ok || !pok {
			return types.Value{}, errors.NewUnsupportedExpressionf("binaryOp", "LIKE on %s", l.Type)
		}
		matched, err := likeMatch(s, pattern, strings.HasSuffix(op, "*"))
		if err != nil {
			return types.Value{}, err
		}
		if strings.HasPrefix(op, "!") {
			matched = !matched
		}
		return types.NewBool(matched), nil
	}
	return types.Value{}, errors.NewUnsupportedExpressionf("binaryOp", "operator %q", op)
}

// compareLoose compares values, letting text literals compare against typed
// columns by coercing the literal.
func compareLoose(l, r types.Value) (int, error) {
	c, err := types.Compare(l, r)
	if err == nil {
		return c, nil
	}
	if _, ok := r.Data.(string); ok {
		if cr, cerr := types.Coerce(r, l.Type); cerr == nil {
			return types.Compare(l, cr)
		}
	}
	if _, ok := l.Data.(string); ok {
		if cl, cerr := types.Coerce(l, r.Type); cerr == nil {
			return types.Compare(cl, r)
		}
	}
	return 0, errors.NewUnsupportedExpressionf("compare", "cannot compare %s with %s", l.Type, r.Type)
}

func arith(op string, l, r types.Value) (types.Value, error) {
	li, lInt := l.Data.(int64)
	ri, rInt := r.Data.(int64)
	if lInt && rInt {
		switch op {
		case "+":
			return types.NewInt(li + ri), nil
		case "-":
			return types.NewInt(li - ri), nil
		case "*":
			return types.NewInt(li * ri), nil
		case "/", "%":
			if ri == 0 {
				return types.Value{}, errors.NewValidationErrorf("arith", "division by zero")
			}
			if op == "/" {
				return types.NewInt(li / ri), nil
			}
			return types.NewInt(li % ri), nil
		}
	}

	lf, lok := l.Float64()
	rf, rok := r.Float64()
	if !lok || !rok {
		return types.Value{}, errors.NewUnsupportedExpressionf("arith", "operator %s on %s and %s", op, l.Type, r.Type)
	}
	switch op {
	case "+":
		return types.NewFloat(lf + rf), nil
	case "-":
		return types.NewFloat(lf - rf), nil
	case "*":
		return types.NewFloat(lf * rf), nil
	case "/":
		if rf == 0 {
			return types.Value{}, errors.NewValidationErrorf("arith", "division by zero")
		}
		return types.NewFloat(lf / rf), nil
	default:
		if rf == 0 {
			return types.Value{}, errors.NewValidationErrorf("arith", "division by zero")
		}
		return types.NewFloat(math.Mod(lf, rf)), nil
	}
}

func likeMatch(s, pattern string, caseInsensitive bool) (bool, error) {
	var sb strings.Builder
	if caseInsensitive {
		sb.WriteString("(?i)")
	}
	sb.WriteString("^")
	escaped := false
	for _, ch := range pattern {
		switch {
		case escaped:
			sb.WriteString(regexp.QuoteMeta(string(ch)))
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '%':
			sb.WriteString("(?s:.*)")
		case ch == '_':
			sb.WriteString("(?s:.)")
		default:
			sb.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false, errors.NewUnsupportedExpressionf("likeMatch", "bad pattern %q", pattern)
	}
	return re.MatchString(s), nil
}

func (e *evaluator) evalFunc(fc *pg_query.FuncCall) (types.Value, error) {
	names := fc.GetFuncname()
	if len(names) == 0 {
		return types.Value{}, errors.NewUnsupportedExpressionf("evalFunc", "anonymous function")
	}
	name := names[len(names)-1].GetString_().GetSval()

	args := make([]types.Value, 0, len(fc.GetArgs()))
	for _, a := range fc.GetArgs() {
		v, err := e.eval(a)
		if err != nil {
			return types.Value{}, err
		}
		args = append(args, v)
	}
	if len(args) != 1 {
		return types.Value{}, errors.NewUnsupportedExpressionf("evalFunc", "%s takes one argument", name)
	}
	arg := args[0]
	if arg.IsNull() {
		return arg, nil
	}

	switch name {
	case "lower", "upper":
		s, ok := arg.Data.(string)
		if !ok {
			break
		}
		if name == "lower" {
			return types.NewText(strings.ToLower(s)), nil
		}
		return types.NewText(strings.ToUpper(s)), nil
	case "length":
		if s, ok := arg.Data.(string); ok {
			return types.NewInt(int64(len([]rune(s)))), nil
		}
	case "abs":
		if i, ok := arg.Data.(int64); ok {
			if i < 0 {
				i = -i
			}
			return types.Value{Data: i, Type: arg.Type}, nil
		}
		if f, ok := arg.Data.(float64); ok {
			return types.Value{Data: math.Abs(f), Type: arg.Type}, nil
		}
	}
	return types.Value{}, errors.NewUnsupportedExpressionf("evalFunc", "function %s(%s)", name, arg.Type)
}
