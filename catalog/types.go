package catalog

import (
	"fmt"

	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/types"
)

// System attribute numbers.
const (
	TupleIDAttrNum        = -8
	IdxBaseTupleIDAttrNum = -9
)

const (
	TupleIDColumnName        = "ybctid"
	IdxBaseTupleIDColumnName = "ybidxbasectid"
)

// FirstNormalObjectOID is the first OID handed out to user objects.
const FirstNormalObjectOID uint32 = 16384

// ObjectID identifies a table or index.
type ObjectID struct {
	DatabaseOID uint32 `json:"database_oid"`
	ObjectOID   uint32 `json:"object_oid"`
}

func (o ObjectID) IsValid() bool {
	return o.ObjectOID != 0
}

func (o ObjectID) String() string {
	return fmt.Sprintf("%d.%d", o.DatabaseOID, o.ObjectOID)
}

// ColumnRole tells whether a column is part of the primary key and how.
type ColumnRole int

const (
	RoleNone ColumnRole = iota
	RoleHash
	RoleRange
)

func (r ColumnRole) String() string {
	switch r {
	case RoleHash:
		return "hash"
	case RoleRange:
		return "range"
	default:
		return "none"
	}
}

// ParseColumnRole parses the textual role used by definitions and the REST API.
func ParseColumnRole(s string) (ColumnRole, error) {
	switch s {
	case "", "none":
		return RoleNone, nil
	case "hash":
		return RoleHash, nil
	case "range":
		return RoleRange, nil
	default:
		return RoleNone, errors.NewValidationErrorf("ParseColumnRole", "unknown column role %q", s)
	}
}

// Column describes one attribute of a table. ID is the stable identifier
// used in stored rows and payloads; AttrNum is the logical position.
type Column struct {
	AttrNum  int              `json:"attr_num"`
	ID       int              `json:"id"`
	Name     string           `json:"name"`
	Type     types.ColumnType `json:"type"`
	Role     ColumnRole       `json:"role"`
	Nullable bool             `json:"nullable"`
}

func (c *Column) IsKey() bool {
	return c.Role != RoleNone
}

func (c *Column) IsSystem() bool {
	return c.AttrNum < 0
}

// ColumnDef is the input to CreateTable.
type ColumnDef struct {
	Name     string           `json:"name"`
	Type     types.ColumnType `json:"type"`
	Role     ColumnRole       `json:"role"`
	Nullable bool             `json:"nullable"`
}

// ColumnInfo is the key role and type of a column.
type ColumnInfo struct {
	Role     ColumnRole `json:"role"`
	TypeOID  uint32     `json:"type_oid"`
	TypeName string     `json:"type_name"`
}

func (i ColumnInfo) IsHash() bool {
	return i.Role == RoleHash
}

func (i ColumnInfo) IsPrimary() bool {
	return i.Role != RoleNone
}

// Table is an immutable table or index descriptor. Index tables carry
// IndexedTable and store the base row identifier in ybidxbasectid.
type Table struct {
	ID            ObjectID  `json:"id"`
	Name          string    `json:"name"`
	Columns       []*Column `json:"columns"`
	IndexedTable  *ObjectID `json:"indexed_table,omitempty"`
	Unique        bool      `json:"unique,omitempty"`
	Colocated     bool      `json:"colocated,omitempty"`
	SchemaVersion uint32    `json:"schema_version"`
}

var tupleIDColumn = &Column{
	AttrNum: TupleIDAttrNum,
	ID:      TupleIDAttrNum,
	Name:    TupleIDColumnName,
	Type:    types.ColumnTypeBytea,
}

func (t *Table) IsIndex() bool {
	return t.IndexedTable != nil
}

// ColumnByAttr looks up a column by attribute number, including ybctid.
func (t *Table) ColumnByAttr(attr int) (*Column, bool) {
	if attr == TupleIDAttrNum {
		return tupleIDColumn, true
	}
	for _, c := range t.Columns {
		if c.AttrNum == attr {
			return c, true
		}
	}
	return nil, false
}

func (t *Table) ColumnByName(name string) (*Column, bool) {
	if name == TupleIDColumnName {
		return tupleIDColumn, true
	}
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

func (t *Table) ColumnByID(id int) (*Column, bool) {
	if id == TupleIDAttrNum {
		return tupleIDColumn, true
	}
	for _, c := range t.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

func (t *Table) columnsWithRole(role ColumnRole) []*Column {
	var out []*Column
	for _, c := range t.Columns {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}

// HashColumns returns the hash key columns in key order.
func (t *Table) HashColumns() []*Column {
	return t.columnsWithRole(RoleHash)
}

// RangeColumns returns the range key columns in key order.
func (t *Table) RangeColumns() []*Column {
	return t.columnsWithRole(RoleRange)
}

// KeyColumns returns hash columns followed by range columns.
func (t *Table) KeyColumns() []*Column {
	return append(t.HashColumns(), t.RangeColumns()...)
}

// ColumnTypes maps column IDs to their types for row decoding.
func (t *Table) ColumnTypes() map[int]types.ColumnType {
	out := make(map[int]types.ColumnType, len(t.Columns))
	for _, c := range t.Columns {
		out[c.ID] = c.Type
	}
	return out
}

// ColumnInfo returns the key role and type of attribute attr.
func (t *Table) ColumnInfo(attr int) (ColumnInfo, error) {
	c, ok := t.ColumnByAttr(attr)
	if !ok {
		return ColumnInfo{}, errors.NewInvalidColumnf("ColumnInfo", "attribute %d does not exist in %s", attr, t.Name)
	}
	return ColumnInfo{Role: c.Role, TypeOID: c.Type.OID(), TypeName: c.Type.PgName()}, nil
}
