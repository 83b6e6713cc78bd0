// Package docdb executes read and write requests against table rows stored
// in the KV store. It plays the storage side of the statement engine.
package docdb

import (
	"context"
	"sync"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/codec"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/expr"
	"github.com/guileen/pglitegate/storage"
	"github.com/guileen/pglitegate/types"
)

// Server is safe for concurrent use. Writes are serialised so that
// uniqueness checks and index maintenance see a stable table.
type Server struct {
	kv      storage.KV
	catalog *catalog.Catalog
	writeMu sync.Mutex

	parsed sync.Map // foreign source -> *pg_query.Node
}

func NewServer(kv storage.KV, cat *catalog.Catalog) *Server {
	return &Server{kv: kv, catalog: cat}
}

func (s *Server) Catalog() *catalog.Catalog {
	return s.catalog
}

func (s *Server) parseForeign(src string) (*pg_query.Node, error) {
	if n, ok := s.parsed.Load(src); ok {
		return n.(*pg_query.Node), nil
	}
	node, err := expr.ParseExpression(src)
	if err != nil {
		return nil, err
	}
	s.parsed.Store(src, node)
	return node, nil
}

// boundValue returns the value written into a bind slot, coerced to typ.
func boundValue(e *Expression, typ types.ColumnType, op string) (types.Value, error) {
	if e == nil || e.Value == nil {
		return types.Value{}, errors.NewInvalidStatef(op, "bind value was not supplied")
	}
	v, err := types.Coerce(*e.Value, typ)
	if err != nil {
		return types.Value{}, errors.Wrap(err, errors.ErrCodeValidation, op)
	}
	return v, nil
}

// keyBinds collects the bound key values of a request by column ID.
func keyBinds(t *catalog.Table, partition, rng []*ColumnValue, op string) (map[int]types.Value, error) {
	binds := make(map[int]types.Value, len(partition)+len(rng))
	for _, cv := range append(append([]*ColumnValue(nil), partition...), rng...) {
		col, ok := t.ColumnByID(cv.ColumnID)
		if !ok {
			return nil, errors.NewInvalidColumnf(op, "column id %d does not exist in %s", cv.ColumnID, t.Name)
		}
		v, err := boundValue(cv.Expr, col.Type, op)
		if err != nil {
			return nil, err
		}
		binds[col.ID] = v
	}
	return binds, nil
}

// keyComponents returns the hash and range components of the key covered by
// binds: hash is complete or nil, rng is the longest bound prefix.
func keyComponents(t *catalog.Table, binds map[int]types.Value) (hash, rng []types.Value, full bool) {
	hashCols := t.HashColumns()
	for _, c := range hashCols {
		v, ok := binds[c.ID]
		if !ok {
			hash = nil
			break
		}
		hash = append(hash, v)
	}
	if len(hashCols) > 0 && hash == nil {
		return nil, nil, false
	}
	rangeCols := t.RangeColumns()
	for _, c := range rangeCols {
		v, ok := binds[c.ID]
		if !ok {
			break
		}
		rng = append(rng, v)
	}
	return hash, rng, len(rng) == len(rangeCols)
}

func (s *Server) getRow(ctx context.Context, t *catalog.Table, ybctid []byte) (*docRow, error) {
	data, err := s.kv.Get(ctx, codec.RowKey(t.ID.ObjectOID, ybctid))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "getRow")
	}
	return decodeDocRow(t, ybctid, data)
}

// project evaluates the targets of a request against a row.
func (s *Server) project(t *catalog.Table, row *docRow, targets []*Expression, allowed map[int]bool) (Row, error) {
	out := Row{Values: make([]types.Value, len(targets)), Ybctid: row.ybctid}
	for i, target := range targets {
		v, err := s.evalExpression(t, row, target, allowed)
		if err != nil {
			return Row{}, err
		}
		out.Values[i] = v
	}
	return out, nil
}

func (s *Server) evalExpression(t *catalog.Table, row *docRow, e *Expression, allowed map[int]bool) (types.Value, error) {
	switch {
	case e == nil:
		return types.Value{}, errors.NewInvalidStatef("evalExpression", "empty expression slot")
	case e.ColumnID != nil:
		return row.value(t, *e.ColumnID)
	case e.Value != nil:
		return *e.Value, nil
	case e.Foreign != "":
		node, err := s.parseForeign(e.Foreign)
		if err != nil {
			return types.Value{}, err
		}
		ev := &evaluator{env: &rowEnv{table: t, row: row, allowed: allowed}}
		return ev.eval(node)
	case e.Aggregate != nil:
		return types.Value{}, errors.NewUnsupportedExpressionf("evalExpression", "aggregate outside an aggregate read")
	default:
		return types.Value{}, errors.NewInvalidStatef("evalExpression", "empty expression slot")
	}
}

// matches applies the where clauses and equality filters to a row.
func (s *Server) matches(t *catalog.Table, row *docRow, where []*Expression, filters map[int]types.Value, allowed map[int]bool) (bool, error) {
	for id, want := range filters {
		got, err := row.value(t, id)
		if err != nil {
			return false, err
		}
		if got.IsNull() || !got.Equal(want) {
			return false, nil
		}
	}
	for _, w := range where {
		if w.Foreign == "" {
			return false, errors.NewUnsupportedExpressionf("matches", "where clause must be a foreign expression")
		}
		node, err := s.parseForeign(w.Foreign)
		if err != nil {
			return false, err
		}
		ev := &evaluator{env: &rowEnv{table: t, row: row, allowed: allowed}}
		ok, err := ev.evalBool(node)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// checkCatalogVersion rejects a request prepared against older definitions.
func (s *Server) checkCatalogVersion(op string, version uint64) error {
	if version == 0 {
		return nil
	}
	if cur := s.catalog.Version(); version != cur {
		return errors.NewCatalogVersionMismatchf(op, "request prepared at catalog version %d, catalog is at %d", version, cur)
	}
	return nil
}
