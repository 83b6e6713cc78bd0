package pggate

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/engine/config"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/expr"
	"github.com/guileen/pglitegate/logger"
	"github.com/guileen/pglitegate/types"
)

// Session creates statements against one catalog and storage client and
// closes whatever statements are still open when it is closed.
type Session struct {
	id      uuid.UUID
	catalog *catalog.Catalog
	client  Client
	cfg     config.GateConfig
	metrics *Metrics

	mu         sync.Mutex
	statements map[uuid.UUID]io.Closer
	closed     bool
}

// NewSession creates a session. metrics may be nil.
func NewSession(cat *catalog.Catalog, client Client, cfg config.GateConfig, metrics *Metrics) *Session {
	s := &Session{
		id:         uuid.New(),
		catalog:    cat,
		client:     client,
		cfg:        cfg,
		metrics:    metrics,
		statements: make(map[uuid.UUID]io.Closer),
	}
	logger.Debug("session opened", logger.Component("pggate"), logger.String("session_id", s.id.String()))
	return s
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) Catalog() *catalog.Catalog {
	return s.catalog
}

func (s *Session) Config() config.GateConfig {
	return s.cfg
}

// Context returns ctx carrying the session ID for logging.
func (s *Session) Context(ctx context.Context) context.Context {
	return logger.WithContextValue(ctx, logger.SessionIDKey, s.id.String())
}

func (s *Session) register(id uuid.UUID, stmt io.Closer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewInvalidStatef("Session", "session is closed")
	}
	s.statements[id] = stmt
	return nil
}

func (s *Session) forget(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.statements, id)
}

// OpenStatements returns the number of statements not yet closed.
func (s *Session) OpenStatements() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.statements)
}

func (s *Session) table(op string, id catalog.ObjectID) (*catalog.TableRef, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.NewInvalidStatef(op, "session is closed")
	}
	return s.catalog.Table(id)
}

// writeTarget resolves the table written by a statement. Indexes are
// maintained by storage and cannot be written directly.
func (s *Session) writeTarget(op string, id catalog.ObjectID) (*catalog.TableRef, error) {
	desc, err := s.table(op, id)
	if err != nil {
		return nil, err
	}
	if desc.IsIndex() {
		desc.Release()
		return nil, errors.NewInvalidStatef(op, "%s is an index", desc.Name)
	}
	return desc, nil
}

// NewSelect prepares a select on tableID.
func (s *Session) NewSelect(tableID catalog.ObjectID, params PrepareParams) (*Select, error) {
	const op = "NewSelect"
	if params.UseSecondaryIndex && params.IndexOID == 0 {
		return nil, errors.NewInvalidStatef(op, "secondary index requested without an index")
	}
	desc, err := s.table(op, tableID)
	if err != nil {
		return nil, err
	}
	if params.QueryingColocatedTable && !desc.Colocated {
		desc.Release()
		return nil, errors.NewInvalidStatef(op, "%s is not colocated", desc.Name)
	}

	if params.IndexOID == 0 {
		sel := newSelect(s, tableID, desc, params)
		if err := s.registerOrClose(sel); err != nil {
			return nil, err
		}
		return sel, nil
	}

	indexID := catalog.ObjectID{DatabaseOID: tableID.DatabaseOID, ObjectOID: params.IndexOID}
	idx, err := s.catalog.Table(indexID)
	if err != nil {
		desc.Release()
		return nil, err
	}
	if !idx.IsIndex() || *idx.IndexedTable != desc.ID {
		desc.Release()
		idx.Release()
		return nil, errors.NewInvalidStatef(op, "%s is not an index of %s", idx.Name, desc.Name)
	}

	var sel *Select
	if params.IndexOnlyScan && !params.UseSecondaryIndex {
		desc.Release()
		sel = newSelect(s, tableID, idx, params)
	} else {
		sel = newSelect(s, tableID, desc, params)
		inner := newSelect(s, indexID, idx, PrepareParams{})
		sel.index = indexSubquery{state: IndexPending, stmt: inner}
		baseCtid := expr.NewColumnRef(catalog.IdxBaseTupleIDAttrNum, catalog.IdxBaseTupleIDColumnName, types.ColumnTypeBytea)
		if err := inner.AppendTarget(baseCtid); err != nil {
			sel.Close()
			return nil, err
		}
	}
	sel.indexID = indexID
	if err := s.registerOrClose(sel); err != nil {
		return nil, err
	}
	return sel, nil
}

func (s *Session) registerOrClose(stmt interface {
	io.Closer
	ID() uuid.UUID
}) error {
	if err := s.register(stmt.ID(), stmt); err != nil {
		stmt.Close()
		return err
	}
	return nil
}

// NewInsert prepares an insert into tableID.
func (s *Session) NewInsert(tableID catalog.ObjectID) (*Insert, error) {
	desc, err := s.writeTarget("NewInsert", tableID)
	if err != nil {
		return nil, err
	}
	stmt := newInsert(s, tableID, desc)
	if err := s.registerOrClose(stmt); err != nil {
		return nil, err
	}
	return stmt, nil
}

// NewUpdate prepares an update of tableID.
func (s *Session) NewUpdate(tableID catalog.ObjectID) (*Update, error) {
	desc, err := s.writeTarget("NewUpdate", tableID)
	if err != nil {
		return nil, err
	}
	stmt := newUpdate(s, tableID, desc)
	if err := s.registerOrClose(stmt); err != nil {
		return nil, err
	}
	return stmt, nil
}

// NewDelete prepares a delete from tableID.
func (s *Session) NewDelete(tableID catalog.ObjectID) (*Delete, error) {
	desc, err := s.writeTarget("NewDelete", tableID)
	if err != nil {
		return nil, err
	}
	stmt := newDelete(s, tableID, desc)
	if err := s.registerOrClose(stmt); err != nil {
		return nil, err
	}
	return stmt, nil
}

// GetColumnInfo returns the key role and type of column attr of tableID.
func (s *Session) GetColumnInfo(tableID catalog.ObjectID, attr int) (catalog.ColumnInfo, error) {
	return s.catalog.GetColumnInfo(tableID, attr)
}

// Close closes every open statement. The session cannot be used afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	open := make([]io.Closer, 0, len(s.statements))
	for _, stmt := range s.statements {
		open = append(open, stmt)
	}
	s.mu.Unlock()

	for _, stmt := range open {
		stmt.Close()
	}
	logger.Debug("session closed", logger.Component("pggate"), logger.String("session_id", s.id.String()), logger.Int("statements_closed", len(open)))
	return nil
}
