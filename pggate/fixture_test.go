package pggate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/codec"
	"github.com/guileen/pglitegate/docdb"
	"github.com/guileen/pglitegate/engine/config"
	"github.com/guileen/pglitegate/expr"
	"github.com/guileen/pglitegate/storage"
	"github.com/guileen/pglitegate/types"
)

// mockClient is a Client double recording every request.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) Read(ctx context.Context, req *docdb.ReadRequest) (*docdb.ReadResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*docdb.ReadResponse)
	return resp, args.Error(1)
}

func (m *mockClient) Write(ctx context.Context, req *docdb.WriteRequest) (*docdb.WriteResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*docdb.WriteResponse)
	return resp, args.Error(1)
}

func (m *mockClient) readRequests() []*docdb.ReadRequest {
	var out []*docdb.ReadRequest
	for _, c := range m.Calls {
		if c.Method == "Read" {
			out = append(out, c.Arguments.Get(1).(*docdb.ReadRequest))
		}
	}
	return out
}

func readOf(id catalog.ObjectID) interface{} {
	return mock.MatchedBy(func(req *docdb.ReadRequest) bool { return req.TableID == id })
}

// fixture holds items(k bigint range, v text, n integer) with a secondary
// index items_v_idx on v, and pairs(a bigint hash, b bigint range, c text)
// in a colocated tablet.
type fixture struct {
	kv    storage.KV
	cat   *catalog.Catalog
	items *catalog.Table
	index *catalog.Table
	pairs *catalog.Table
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	kv, err := storage.NewMossKV(storage.DefaultMossConfig())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	cat := catalog.New(kv, catalog.FirstNormalObjectOID)
	items, err := cat.CreateTable(ctx, "items", []catalog.ColumnDef{
		{Name: "k", Type: types.ColumnTypeBigInt, Role: catalog.RoleRange},
		{Name: "v", Type: types.ColumnTypeText, Nullable: true},
		{Name: "n", Type: types.ColumnTypeInteger, Nullable: true},
	}, false)
	require.NoError(t, err)
	index, err := cat.CreateIndex(ctx, items.ID, "items_v_idx", []string{"v"}, false)
	require.NoError(t, err)
	pairs, err := cat.CreateTable(ctx, "pairs", []catalog.ColumnDef{
		{Name: "a", Type: types.ColumnTypeBigInt, Role: catalog.RoleHash},
		{Name: "b", Type: types.ColumnTypeBigInt, Role: catalog.RoleRange},
		{Name: "c", Type: types.ColumnTypeText, Nullable: true},
	}, true)
	require.NoError(t, err)

	return &fixture{kv: kv, cat: cat, items: items, index: index, pairs: pairs}
}

func (f *fixture) session(t *testing.T, client Client, opts ...func(*config.GateConfig)) *Session {
	t.Helper()
	cfg := config.DefaultGateConfig()
	cfg.StorageBackend = config.BackendMemory
	for _, opt := range opts {
		opt(&cfg)
	}
	s := NewSession(f.cat, client, cfg, nil)
	t.Cleanup(func() { s.Close() })
	return s
}

func colK() *expr.ColumnRef { return expr.NewColumnRef(1, "k", types.ColumnTypeBigInt) }
func colV() *expr.ColumnRef { return expr.NewColumnRef(2, "v", types.ColumnTypeText) }
func colN() *expr.ColumnRef { return expr.NewColumnRef(3, "n", types.ColumnTypeInteger) }

func intConst(v int64) *expr.Constant   { return expr.NewConstant(types.NewInt(v)) }
func textConst(v string) *expr.Constant { return expr.NewConstant(types.NewText(v)) }

func ybctidOf(t *testing.T, k int64) []byte {
	t.Helper()
	b, err := codec.EncodeDocKey(nil, []types.Value{types.NewInt(k)})
	require.NoError(t, err)
	return b
}

// keyRows builds a response with one k value per row.
func keyRows(t *testing.T, keys ...int64) []docdb.Row {
	rows := make([]docdb.Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, docdb.Row{Values: []types.Value{types.NewInt(k)}, Ybctid: ybctidOf(t, k)})
	}
	return rows
}

// drain fetches every remaining row and returns the k values in slot 0.
func drain(t *testing.T, stmt interface {
	GetNextRow(context.Context, *Tuple) (bool, error)
}, natts int) ([]int64, []int64) {
	t.Helper()
	var keys, orders []int64
	tuple := NewTuple(natts)
	for {
		ok, err := stmt.GetNextRow(context.Background(), tuple)
		require.NoError(t, err)
		if !ok {
			return keys, orders
		}
		k, _ := tuple.Values[0].Int64()
		keys = append(keys, k)
		orders = append(orders, tuple.Sys.RowOrder)
	}
}
