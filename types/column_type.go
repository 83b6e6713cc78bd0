package types

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// ColumnType represents the data type of a table column
type ColumnType string

const (
	ColumnTypeSmallInt  ColumnType = "smallint"
	ColumnTypeInteger   ColumnType = "integer"
	ColumnTypeBigInt    ColumnType = "bigint"
	ColumnTypeReal      ColumnType = "real"
	ColumnTypeDouble    ColumnType = "double"
	ColumnTypeText      ColumnType = "text"
	ColumnTypeVarchar   ColumnType = "varchar"
	ColumnTypeBoolean   ColumnType = "boolean"
	ColumnTypeBytea     ColumnType = "bytea"
	ColumnTypeTimestamp ColumnType = "timestamp"
	ColumnTypeUUID      ColumnType = "uuid"
	ColumnTypeJSONB     ColumnType = "jsonb"
)

var columnTypeOIDs = map[ColumnType]uint32{
	ColumnTypeSmallInt:  pgtype.Int2OID,
	ColumnTypeInteger:   pgtype.Int4OID,
	ColumnTypeBigInt:    pgtype.Int8OID,
	ColumnTypeReal:      pgtype.Float4OID,
	ColumnTypeDouble:    pgtype.Float8OID,
	ColumnTypeText:      pgtype.TextOID,
	ColumnTypeVarchar:   pgtype.VarcharOID,
	ColumnTypeBoolean:   pgtype.BoolOID,
	ColumnTypeBytea:     pgtype.ByteaOID,
	ColumnTypeTimestamp: pgtype.TimestampOID,
	ColumnTypeUUID:      pgtype.UUIDOID,
	ColumnTypeJSONB:     pgtype.JSONBOID,
}

var oidColumnTypes = func() map[uint32]ColumnType {
	m := make(map[uint32]ColumnType, len(columnTypeOIDs))
	for typ, oid := range columnTypeOIDs {
		m[oid] = typ
	}
	return m
}()

var typeMap = pgtype.NewMap()

// IsValidColumnType checks if a column type is valid
func IsValidColumnType(typ ColumnType) bool {
	_, ok := columnTypeOIDs[typ]
	return ok
}

// OID returns the Postgres type OID of the column type, 0 when unknown.
func (t ColumnType) OID() uint32 {
	return columnTypeOIDs[t]
}

// PgName returns the Postgres catalog name of the column type.
func (t ColumnType) PgName() string {
	if pt, ok := typeMap.TypeForOID(t.OID()); ok {
		return pt.Name
	}
	return string(t)
}

// ColumnTypeFromOID maps a Postgres type OID back to a column type.
func ColumnTypeFromOID(oid uint32) (ColumnType, bool) {
	typ, ok := oidColumnTypes[oid]
	return typ, ok
}

// IsInteger reports whether values of the type are stored as int64.
func (t ColumnType) IsInteger() bool {
	switch t {
	case ColumnTypeSmallInt, ColumnTypeInteger, ColumnTypeBigInt:
		return true
	}
	return false
}

// IsFloat reports whether values of the type are stored as float64.
func (t ColumnType) IsFloat() bool {
	return t == ColumnTypeReal || t == ColumnTypeDouble
}

// IsNumeric reports whether the type is an integer or a float type.
func (t ColumnType) IsNumeric() bool {
	return t.IsInteger() || t.IsFloat()
}

// IsString reports whether values of the type are stored as string.
func (t ColumnType) IsString() bool {
	return t == ColumnTypeText || t == ColumnTypeVarchar || t == ColumnTypeJSONB
}
