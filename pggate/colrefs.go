package pggate

import (
	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/docdb"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/expr"
)

// colRefSet is the set of columns storage may read while evaluating the
// statement's foreign expressions, deduplicated by attribute number.
type colRefSet struct {
	refs []*expr.ColumnRef
	seen map[int]bool
}

func newColRefSet() *colRefSet {
	return &colRefSet{seen: make(map[int]bool)}
}

func (s *colRefSet) add(refs ...*expr.ColumnRef) {
	for _, ref := range refs {
		if ref == nil || s.seen[ref.AttrNum] {
			continue
		}
		s.seen[ref.AttrNum] = true
		s.refs = append(s.refs, ref)
	}
}

func (s *colRefSet) has(attr int) bool {
	return s.seen[attr]
}

func (s *colRefSet) len() int {
	return len(s.refs)
}

// emit resolves the registered references against t. The legacy list is
// only produced when legacy is set and carries the same columns.
func (s *colRefSet) emit(t *catalog.Table, legacy bool) ([]docdb.ColRef, *docdb.ColumnRefs, error) {
	refs := make([]docdb.ColRef, 0, len(s.refs))
	var old *docdb.ColumnRefs
	if legacy {
		old = &docdb.ColumnRefs{IDs: make([]int, 0, len(s.refs))}
	}
	for _, ref := range s.refs {
		col, ok := t.ColumnByAttr(ref.AttrNum)
		if !ok {
			return nil, nil, errors.NewInvalidColumnf("colRefSet.emit", "attribute %d does not exist in %s", ref.AttrNum, t.Name)
		}
		refs = append(refs, docdb.ColRef{
			ColumnID: col.ID,
			AttrNum:  ref.AttrNum,
			TypeOID:  ref.TypeOID(),
			TypMod:   ref.TypMod,
		})
		if old != nil {
			old.IDs = append(old.IDs, col.ID)
		}
	}
	return refs, old, nil
}

// validate checks that every column a foreign expression in lists reads is
// registered.
func (s *colRefSet) validate(t *catalog.Table, lists ...[]expr.Expr) error {
	for _, list := range lists {
		for _, e := range list {
			f, ok := e.(*expr.Foreign)
			if !ok {
				continue
			}
			names, err := f.ReferencedColumns()
			if err != nil {
				return err
			}
			for _, name := range names {
				col, ok := t.ColumnByName(name)
				if !ok || !s.has(col.AttrNum) {
					return errors.NewMissingColumnReferencef("colRefSet.validate", "column %q used by %q was not registered", name, f.Source)
				}
			}
		}
	}
	return nil
}
