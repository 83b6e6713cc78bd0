package docdb

import (
	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/types"
)

// Expression is one payload slot. Exactly one of the fields is set; a bind
// slot starts empty and receives its Value when the statement lowers its
// bindings.
type Expression struct {
	Value     *types.Value   `json:"value,omitempty"`
	ColumnID  *int           `json:"column_id,omitempty"`
	Aggregate *AggregateCall `json:"aggregate,omitempty"`
	Foreign   string         `json:"foreign,omitempty"`
}

// AggregateCall is an aggregate computed over the matching rows. A nil Arg
// is count(*).
type AggregateCall struct {
	Func string      `json:"func"`
	Arg  *Expression `json:"arg,omitempty"`
}

func NewColumnExpression(columnID int) *Expression {
	id := columnID
	return &Expression{ColumnID: &id}
}

func NewValueExpression(v types.Value) *Expression {
	return &Expression{Value: &v}
}

// SetValue stores a bound value in the slot.
func (e *Expression) SetValue(v types.Value) {
	e.Value = &v
}

func (e *Expression) IsEmpty() bool {
	return e.Value == nil && e.ColumnID == nil && e.Aggregate == nil && e.Foreign == ""
}

// ColumnValue associates a payload slot with a column.
type ColumnValue struct {
	ColumnID int         `json:"column_id"`
	Expr     *Expression `json:"expr"`
}

// ColRef is a typed column reference needed to evaluate foreign expressions.
type ColRef struct {
	ColumnID int    `json:"column_id"`
	AttrNum  int    `json:"attr_num"`
	TypeOID  uint32 `json:"type_oid"`
	TypMod   int32  `json:"typmod"`
}

// ColumnRefs is the legacy flat list of referenced column IDs.
type ColumnRefs struct {
	IDs []int `json:"ids"`
}

// PagingState tells storage where to resume a read.
type PagingState struct {
	NextKey     []byte `json:"next_key,omitempty"`
	BatchOffset int    `json:"batch_offset,omitempty"`
}

type ReadRequest struct {
	TableID               catalog.ObjectID `json:"table_id"`
	Targets               []*Expression    `json:"targets"`
	WhereClauses          []*Expression    `json:"where_clauses,omitempty"`
	PartitionColumnValues []*ColumnValue   `json:"partition_column_values,omitempty"`
	RangeColumnValues     []*ColumnValue   `json:"range_column_values,omitempty"`
	YbctidColumnValue     *Expression      `json:"ybctid_column_value,omitempty"`
	BatchArguments        [][]byte         `json:"batch_arguments,omitempty"`
	ColRefs               []ColRef         `json:"col_refs,omitempty"`
	ColumnRefs            *ColumnRefs      `json:"column_refs,omitempty"`
	IsAggregate           bool             `json:"is_aggregate,omitempty"`
	CatalogVersion        uint64           `json:"catalog_version,omitempty"`
	Limit                 int64            `json:"limit,omitempty"`
	PagingState           *PagingState     `json:"paging_state,omitempty"`
}

// Row is one result row: one value per target plus the row identifier.
type Row struct {
	Values []types.Value `json:"values"`
	Ybctid []byte        `json:"ybctid"`
}

type ReadResponse struct {
	Rows []Row `json:"rows"`
	// PagingState is nil when the read is complete.
	PagingState *PagingState `json:"paging_state,omitempty"`
	RowsScanned int64        `json:"rows_scanned"`
}

type StmtType int

const (
	StmtInsert StmtType = iota
	StmtUpdate
	StmtDelete
)

func (s StmtType) String() string {
	switch s {
	case StmtInsert:
		return "insert"
	case StmtUpdate:
		return "update"
	case StmtDelete:
		return "delete"
	default:
		return "unknown"
	}
}

type WriteRequest struct {
	StmtType              StmtType         `json:"stmt_type"`
	TableID               catalog.ObjectID `json:"table_id"`
	PartitionColumnValues []*ColumnValue   `json:"partition_column_values,omitempty"`
	RangeColumnValues     []*ColumnValue   `json:"range_column_values,omitempty"`
	YbctidColumnValue     *Expression      `json:"ybctid_column_value,omitempty"`
	ColumnValues          []*ColumnValue   `json:"column_values,omitempty"`
	// WholeTable applies an update or delete to every row.
	WholeTable   bool          `json:"whole_table,omitempty"`
	Targets      []*Expression `json:"targets,omitempty"`
	WhereClauses []*Expression `json:"where_clauses,omitempty"`
	ColRefs      []ColRef      `json:"col_refs,omitempty"`
	ColumnRefs   *ColumnRefs   `json:"column_refs,omitempty"`
	// CatalogVersion is the catalog version the request was prepared at;
	// zero skips the check.
	CatalogVersion uint64 `json:"catalog_version,omitempty"`
}

type WriteResponse struct {
	RowsAffected int64 `json:"rows_affected"`
	// Rows holds the RETURNING targets of the affected rows.
	Rows []Row `json:"rows,omitempty"`
}
