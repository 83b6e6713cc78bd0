package pggate

import (
	"github.com/guileen/pglitegate/docdb"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/expr"
	"github.com/guileen/pglitegate/types"
)

// BindingRole tells whether a column value selects rows or is written.
type BindingRole int

const (
	RoleBind BindingRole = iota
	RoleAssign
)

func (r BindingRole) String() string {
	if r == RoleAssign {
		return "assign"
	}
	return "bind"
}

// binding ties a column position to the expression supplying its value and
// the payload slot the value is lowered into.
type binding struct {
	attr int
	role BindingRole
	expr expr.Expr
	typ  types.ColumnType
	slot *docdb.Expression
}

// bindingSet holds at most one binding per column position, in the order the
// positions were first bound.
type bindingSet struct {
	entries []*binding
}

func (s *bindingSet) get(attr int) *binding {
	for _, b := range s.entries {
		if b.attr == attr {
			return b
		}
	}
	return nil
}

// put records e for attr. A rebind of the same role keeps the slot and
// replaces the expression; binding a position already held by the other
// role is an error.
func (s *bindingSet) put(attr int, role BindingRole, e expr.Expr, typ types.ColumnType, alloc func() (*docdb.Expression, error)) error {
	if b := s.get(attr); b != nil {
		if b.role != role {
			return errors.NewInvalidStatef("bindingSet.put", "column %d is already used as %s", attr, b.role)
		}
		b.expr = e
		return nil
	}
	slot, err := alloc()
	if err != nil {
		return err
	}
	s.entries = append(s.entries, &binding{attr: attr, role: role, expr: e, typ: typ, slot: slot})
	return nil
}

func (s *bindingSet) count(role BindingRole) int {
	n := 0
	for _, b := range s.entries {
		if b.role == role {
			n++
		}
	}
	return n
}

// exprs returns the expressions bound with role, in binding order.
func (s *bindingSet) exprs(role BindingRole) []expr.Expr {
	var out []expr.Expr
	for _, b := range s.entries {
		if b.role == role {
			out = append(out, b.expr)
		}
	}
	return out
}

// updateBindPayloads evaluates every bind expression and writes the result
// into its slot.
func (s *bindingSet) updateBindPayloads() error {
	return s.lower(RoleBind)
}

// updateAssignPayloads evaluates every assign expression and writes the
// result into its slot.
func (s *bindingSet) updateAssignPayloads() error {
	return s.lower(RoleAssign)
}

func (s *bindingSet) lower(role BindingRole) error {
	for _, b := range s.entries {
		if b.role != role {
			continue
		}
		if f, ok := b.expr.(*expr.Foreign); ok {
			*b.slot = docdb.Expression{Foreign: f.Source}
			continue
		}
		v, err := b.expr.Eval()
		if err != nil {
			return err
		}
		cv, err := types.Coerce(v, b.typ)
		if err != nil {
			return errors.Wrapf(err, errors.ErrCodeValidation, "bindingSet.lower", "column %d", b.attr)
		}
		*b.slot = docdb.Expression{}
		b.slot.SetValue(cv)
	}
	return nil
}
