// Package catalog holds table and index descriptors and persists them in
// the KV store.
package catalog

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/guileen/pglitegate/catalog/internal"
	"github.com/guileen/pglitegate/catalog/persistence"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/logger"
	"github.com/guileen/pglitegate/storage"
	"github.com/guileen/pglitegate/types"
)

const (
	tableKind   = "table"
	counterKind = "counter"
	nextOIDName = "next_oid"
	versionName = "catalog_version"
)

// Catalog is safe for concurrent use.
type Catalog struct {
	mu          sync.Mutex
	databaseOID uint32
	nextOID     uint32
	version     atomic.Uint64
	cache       *internal.SchemaCache[*tableEntry]
	persister   *persistence.Persister
}

// New creates a catalog for one database backed by kv.
func New(kv storage.KV, databaseOID uint32) *Catalog {
	return &Catalog{
		databaseOID: databaseOID,
		nextOID:     FirstNormalObjectOID,
		cache:       internal.NewSchemaCache[*tableEntry](),
		persister:   persistence.NewPersister(kv),
	}
}

func (c *Catalog) DatabaseOID() uint32 {
	return c.databaseOID
}

// Version is bumped by every definition change. Requests prepared at an
// older version are rejected by storage.
func (c *Catalog) Version() uint64 {
	return c.version.Load()
}

func (c *Catalog) bumpVersion(ctx context.Context) error {
	v := c.version.Load() + 1
	if err := c.persister.Save(ctx, counterKind, versionName, v); err != nil {
		return err
	}
	c.version.Store(v)
	return nil
}

// Load restores all persisted definitions.
func (c *Catalog) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next uint32
	err := c.persister.Load(ctx, counterKind, nextOIDName, &next)
	switch {
	case err == nil:
		if next > c.nextOID {
			c.nextOID = next
		}
	case !errors.IsNotFound(err):
		return err
	}

	var version uint64
	switch err := c.persister.Load(ctx, counterKind, versionName, &version); {
	case err == nil:
		c.version.Store(version)
	case !errors.IsNotFound(err):
		return err
	}

	count := 0
	err = c.persister.Scan(ctx, tableKind, func(name string, data []byte) error {
		var t Table
		if err := json.Unmarshal(data, &t); err != nil {
			return errors.Wrapf(err, errors.ErrCodeCodec, "catalog.Load", "corrupt definition of %q", name)
		}
		if t.ID.DatabaseOID != c.databaseOID {
			return nil
		}
		c.cache.Set(t.Name, t.ID.ObjectOID, &tableEntry{table: &t})
		if t.ID.ObjectOID >= c.nextOID {
			c.nextOID = t.ID.ObjectOID + 1
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("catalog loaded",
		logger.Int("tables", count),
		logger.Int64("next_oid", int64(c.nextOID)),
		logger.Int64("version", int64(c.Version())))
	return nil
}

func (c *Catalog) allocOID(ctx context.Context) (uint32, error) {
	oid := c.nextOID
	if err := c.persister.Save(ctx, counterKind, nextOIDName, oid+1); err != nil {
		return 0, err
	}
	c.nextOID++
	return oid, nil
}

func (c *Catalog) register(ctx context.Context, t *Table) error {
	if err := c.persister.Save(ctx, tableKind, t.Name, t); err != nil {
		return err
	}
	c.cache.Set(t.Name, t.ID.ObjectOID, &tableEntry{table: t})
	return nil
}

// CreateTable creates a table. Key columns follow the declaration order:
// all hash columns first, then range columns.
func (c *Catalog) CreateTable(ctx context.Context, name string, defs []ColumnDef, colocated bool) (*Table, error) {
	const op = "CreateTable"

	if name == "" {
		return nil, errors.NewValidationErrorf(op, "table name is required")
	}
	if len(defs) == 0 {
		return nil, errors.NewValidationErrorf(op, "table %q has no columns", name)
	}

	seen := make(map[string]bool, len(defs))
	hasKey, rangeSeen := false, false
	for _, d := range defs {
		switch {
		case d.Name == "" || d.Name == TupleIDColumnName || d.Name == IdxBaseTupleIDColumnName:
			return nil, errors.NewValidationErrorf(op, "invalid column name %q", d.Name)
		case seen[d.Name]:
			return nil, errors.NewValidationErrorf(op, "duplicate column %q", d.Name)
		case !types.IsValidColumnType(d.Type):
			return nil, errors.NewValidationErrorf(op, "column %q has unknown type %q", d.Name, d.Type)
		case d.Role == RoleHash && rangeSeen:
			return nil, errors.NewValidationErrorf(op, "hash column %q follows a range column", d.Name)
		}
		seen[d.Name] = true
		if d.Role != RoleNone {
			hasKey = true
		}
		if d.Role == RoleRange {
			rangeSeen = true
		}
	}
	if !hasKey {
		return nil, errors.NewValidationErrorf(op, "table %q needs at least one key column", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cache.Exists(name) {
		return nil, errors.NewConflictf(op, "relation %q already exists", name)
	}
	oid, err := c.allocOID(ctx)
	if err != nil {
		return nil, err
	}

	t := &Table{
		ID:            ObjectID{DatabaseOID: c.databaseOID, ObjectOID: oid},
		Name:          name,
		Colocated:     colocated,
		SchemaVersion: 1,
	}
	for i, d := range defs {
		t.Columns = append(t.Columns, &Column{
			AttrNum:  i + 1,
			ID:       i + 1,
			Name:     d.Name,
			Type:     d.Type,
			Role:     d.Role,
			Nullable: d.Nullable && d.Role == RoleNone,
		})
	}

	if err := c.register(ctx, t); err != nil {
		return nil, err
	}
	if err := c.bumpVersion(ctx); err != nil {
		return nil, err
	}
	logger.Info("table created", logger.Table(name), logger.Int64("oid", int64(oid)))
	return t, nil
}

// CreateIndex creates a secondary index on base. The index table keys on the
// indexed columns followed by ybidxbasectid, which points at the base row.
func (c *Catalog) CreateIndex(ctx context.Context, base ObjectID, name string, columns []string, unique bool) (*Table, error) {
	const op = "CreateIndex"

	if len(columns) == 0 {
		return nil, errors.NewValidationErrorf(op, "index %q has no columns", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache.GetByOID(base.ObjectOID)
	if !ok {
		return nil, errors.NewNotFoundf(op, "table %s does not exist", base)
	}
	if entry.table.IsIndex() {
		return nil, errors.NewValidationErrorf(op, "cannot index index %q", entry.table.Name)
	}
	if c.cache.Exists(name) {
		return nil, errors.NewConflictf(op, "relation %q already exists", name)
	}

	idx := &Table{
		Name:          name,
		Unique:        unique,
		Colocated:     entry.table.Colocated,
		SchemaVersion: 1,
	}
	baseID := entry.table.ID
	idx.IndexedTable = &baseID

	for i, colName := range columns {
		bc, ok := entry.table.ColumnByName(colName)
		if !ok || bc.IsSystem() {
			return nil, errors.NewInvalidColumnf(op, "column %q does not exist in %s", colName, entry.table.Name)
		}
		idx.Columns = append(idx.Columns, &Column{
			AttrNum:  i + 1,
			ID:       i + 1,
			Name:     bc.Name,
			Type:     bc.Type,
			Role:     RoleRange,
			Nullable: true,
		})
	}
	idx.Columns = append(idx.Columns, &Column{
		AttrNum: IdxBaseTupleIDAttrNum,
		ID:      len(columns) + 1,
		Name:    IdxBaseTupleIDColumnName,
		Type:    types.ColumnTypeBytea,
		Role:    RoleRange,
	})

	oid, err := c.allocOID(ctx)
	if err != nil {
		return nil, err
	}
	idx.ID = ObjectID{DatabaseOID: c.databaseOID, ObjectOID: oid}

	if err := c.register(ctx, idx); err != nil {
		return nil, err
	}
	if err := c.bumpVersion(ctx); err != nil {
		return nil, err
	}
	logger.Info("index created", logger.Table(entry.table.Name), logger.String("index", name), logger.Bool("unique", unique))
	return idx, nil
}

// DropTable removes a table or index definition together with the indexes
// of a table. Row data is left to the caller. Tables with live handles
// cannot be dropped.
func (c *Catalog) DropTable(ctx context.Context, id ObjectID) error {
	const op = "DropTable"

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache.GetByOID(id.ObjectOID)
	if !ok {
		return errors.NewNotFoundf(op, "relation %s does not exist", id)
	}
	if n := entry.refs.Load(); n > 0 {
		return errors.NewConflictf(op, "relation %q is in use by %d statements", entry.table.Name, n)
	}

	victims := []*tableEntry{entry}
	if !entry.table.IsIndex() {
		c.cache.Range(func(_ uint32, e *tableEntry) bool {
			if e.table.IsIndex() && *e.table.IndexedTable == id {
				victims = append(victims, e)
			}
			return true
		})
	}

	for _, v := range victims {
		if err := c.persister.Delete(ctx, tableKind, v.table.Name); err != nil {
			return err
		}
		c.cache.Delete(v.table.Name, v.table.ID.ObjectOID)
	}
	if err := c.bumpVersion(ctx); err != nil {
		return err
	}
	logger.Info("relation dropped", logger.Table(entry.table.Name), logger.Int("relations", len(victims)))
	return nil
}

// Table returns a handle on the descriptor of id.
func (c *Catalog) Table(id ObjectID) (*TableRef, error) {
	entry, ok := c.cache.GetByOID(id.ObjectOID)
	if !ok || entry.table.ID.DatabaseOID != id.DatabaseOID {
		return nil, errors.NewNotFoundf("Table", "relation %s does not exist", id)
	}
	return newTableRef(entry), nil
}

// TableByName returns the descriptor of the named table or index.
func (c *Catalog) TableByName(name string) (*Table, error) {
	entry, ok := c.cache.Get(name)
	if !ok {
		return nil, errors.NewNotFoundf("TableByName", "relation %q does not exist", name)
	}
	return entry.table, nil
}

// Tables returns all base tables ordered by OID.
func (c *Catalog) Tables() []*Table {
	var out []*Table
	c.cache.Range(func(_ uint32, e *tableEntry) bool {
		if !e.table.IsIndex() {
			out = append(out, e.table)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID.ObjectOID < out[j].ID.ObjectOID })
	return out
}

// Indexes returns the secondary indexes of a table ordered by OID.
func (c *Catalog) Indexes(id ObjectID) []*Table {
	var out []*Table
	c.cache.Range(func(_ uint32, e *tableEntry) bool {
		if e.table.IsIndex() && *e.table.IndexedTable == id {
			out = append(out, e.table)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID.ObjectOID < out[j].ID.ObjectOID })
	return out
}

// GetColumnInfo returns the key role and type of column attr of id.
func (c *Catalog) GetColumnInfo(id ObjectID, attr int) (ColumnInfo, error) {
	ref, err := c.Table(id)
	if err != nil {
		return ColumnInfo{}, err
	}
	defer ref.Release()
	return ref.ColumnInfo(attr)
}
