package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/docdb"
	"github.com/guileen/pglitegate/engine/config"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/pggate"
	"github.com/guileen/pglitegate/storage"
	"github.com/guileen/pglitegate/types"
)

type testServer struct {
	router chi.Router
	gate   *Gate
}

func setupTestRESTHandler(t *testing.T) *testServer {
	t.Helper()
	kv, err := storage.NewMossKV(storage.DefaultMossConfig())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	cat := catalog.New(kv, catalog.FirstNormalObjectOID)
	reg := prometheus.NewRegistry()
	cfg := config.DefaultGateConfig()
	cfg.PrefetchLimit = 2
	gate := NewGate(cat, docdb.NewServer(kv, cat), cfg, pggate.NewMetrics(reg))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	NewRESTHandler(gate, reg).RegisterRoutes(r)
	return &testServer{router: r, gate: gate}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// seed creates users(id bigint range, name text, age integer) with an index
// on name and four rows.
func (s *testServer) seed(t *testing.T) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/tables", CreateTableRequest{
		Name: "users",
		Columns: []ColumnRequest{
			{Name: "id", Type: types.ColumnTypeBigInt, Role: "range"},
			{Name: "name", Type: types.ColumnTypeText, Nullable: true},
			{Name: "age", Type: types.ColumnTypeInteger, Nullable: true},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/api/tables/users/indexes", CreateIndexRequest{Name: "users_name_idx", Columns: []string{"name"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	for _, u := range []map[string]interface{}{
		{"id": 1, "name": "ann", "age": 31},
		{"id": 2, "name": "bob", "age": 25},
		{"id": 3, "name": "ann", "age": 47},
		{"id": 4, "name": "cid", "age": nil},
	} {
		rec := s.do(t, http.MethodPost, "/api/tables/users/rows", InsertRequest{Data: u})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
}

func ids(rows []map[string]interface{}) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["id"].(float64))
	}
	return out
}

func TestRESTHandler_Tables(t *testing.T) {
	s := setupTestRESTHandler(t)
	s.seed(t)

	rec := s.do(t, http.MethodGet, "/api/tables", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tables := decode[[]TableInfo](t, rec)
	require.Len(t, tables, 1)
	assert.Equal(t, "users", tables[0].Name)
	assert.Equal(t, []string{"users_name_idx"}, tables[0].Indexes)

	rec = s.do(t, http.MethodGet, "/api/tables/users/columns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cols := decode[[]ColumnInfo](t, rec)
	require.Len(t, cols, 3)
	assert.Equal(t, ColumnInfo{Attr: 1, Name: "id", Type: types.ColumnTypeBigInt, TypeOID: 20, TypeName: "int8", Role: "range"}, cols[0])
	assert.Equal(t, "none", cols[2].Role)
	assert.Equal(t, uint32(23), cols[2].TypeOID)

	rec = s.do(t, http.MethodGet, "/api/tables/nope/columns", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errors.ErrCodeNotFound, decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/tables", CreateTableRequest{
		Name:    "bad",
		Columns: []ColumnRequest{{Name: "x", Type: types.ColumnTypeBigInt, Role: "diagonal"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRESTHandler_QueryRows(t *testing.T) {
	s := setupTestRESTHandler(t)
	s.seed(t)

	tests := []struct {
		name  string
		query url.Values
		want  []float64
	}{
		{"full scan", nil, []float64{1, 2, 3, 4}},
		{"limit", url.Values{"limit": {"3"}}, []float64{1, 2, 3}},
		{"where", url.Values{"where": {"age > 30"}}, []float64{1, 3}},
		{"key bind", url.Values{"eq.id": {"2"}}, []float64{2}},
		{"nested index", url.Values{"index": {"users_name_idx"}, "eq.name": {"ann"}}, []float64{1, 3}},
		{"nested index with where", url.Values{"index": {"users_name_idx"}, "eq.name": {"ann"}, "where": {"age < 40"}}, []float64{1}},
		{"is null", url.Values{"where": {"age IS NULL"}, "columns": {"id,name"}}, []float64{4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/api/tables/users/rows"
			if tt.query != nil {
				path += "?" + tt.query.Encode()
			}
			rec := s.do(t, http.MethodGet, path, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			resp := decode[QueryResponse](t, rec)
			assert.Equal(t, tt.want, ids(resp.Data))
			assert.Equal(t, len(tt.want), resp.Count)
		})
	}

	t.Run("aggregates", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/tables/users/rows?columns="+url.QueryEscape("count(*),sum(age),max(name)"), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[QueryResponse](t, rec)
		require.Len(t, resp.Data, 1)
		assert.Equal(t, float64(4), resp.Data[0]["count(*)"])
		assert.Equal(t, float64(103), resp.Data[0]["sum(age)"])
		assert.Equal(t, "cid", resp.Data[0]["max(name)"])
	})

	t.Run("errors", func(t *testing.T) {
		for path, code := range map[string]int{
			"/api/tables/users/rows?columns=nope":                              http.StatusBadRequest,
			"/api/tables/users/rows?eq.name=ann":                               http.StatusBadRequest,
			"/api/tables/users/rows?where=" + url.QueryEscape("zz > 1"):        http.StatusBadRequest,
			"/api/tables/users/rows?columns=" + url.QueryEscape("id,count(*)"): http.StatusBadRequest,
			"/api/tables/users/rows?index=users":                               http.StatusBadRequest,
			"/api/tables/ghosts/rows":                                          http.StatusNotFound,
		} {
			rec := s.do(t, http.MethodGet, path, nil)
			assert.Equal(t, code, rec.Code, "%s: %s", path, rec.Body.String())
		}
	})
}

func TestRESTHandler_RowLifecycle(t *testing.T) {
	s := setupTestRESTHandler(t)
	s.seed(t)

	rec := s.do(t, http.MethodGet, "/api/tables/users/rows/3", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	row := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "ann", row["name"])
	assert.Equal(t, float64(47), row["age"])

	rec = s.do(t, http.MethodPatch, "/api/tables/users/rows/3", UpdateRequest{
		Data:  map[string]interface{}{"name": "dee"},
		Exprs: map[string]string{"age": "age + 1"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	upd := decode[WriteResponse](t, rec)
	assert.Equal(t, int64(1), upd.RowsAffected)
	require.Len(t, upd.Data, 1)
	assert.Equal(t, "dee", upd.Data[0]["name"])
	assert.Equal(t, float64(48), upd.Data[0]["age"])

	rec = s.do(t, http.MethodGet, "/api/tables/users/rows?index=users_name_idx&eq.name=ann", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []float64{1}, ids(decode[QueryResponse](t, rec).Data))

	rec = s.do(t, http.MethodPost, "/api/tables/users/rows", InsertRequest{Data: map[string]interface{}{"id": 1, "name": "dup"}})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/tables/users/rows", InsertRequest{Data: map[string]interface{}{"id": 9, "nope": 1}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/tables/users/rows/2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), decode[WriteResponse](t, rec).RowsAffected)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/tables/users/rows/2"},
		{http.MethodDelete, "/api/tables/users/rows/2"},
		{http.MethodPatch, "/api/tables/users/rows/2"},
	} {
		var body interface{}
		if tc.method == http.MethodPatch {
			body = UpdateRequest{Data: map[string]interface{}{"age": 1}}
		}
		rec := s.do(t, tc.method, tc.path, body)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
	}

	rec = s.do(t, http.MethodGet, "/api/tables/users/rows/1,2", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRESTHandler_Metrics(t *testing.T) {
	s := setupTestRESTHandler(t)
	s.seed(t)

	rec := s.do(t, http.MethodGet, "/api/tables/users/rows", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `pglitegate_statements_executed_total{kind="insert"} 4`), body)
	assert.True(t, strings.Contains(body, "pglitegate_rows_fetched_total"), body)
}

func TestGate_QueryDirect(t *testing.T) {
	s := setupTestRESTHandler(t)
	s.seed(t)

	res, err := s.gate.Query(context.Background(), QueryRequest{Table: "users", Columns: []string{"ybctid", "id"}, Eq: map[string]string{"id": "4"}})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"ybctid", "id"}, res.Columns)
	ybctid, ok := res.Rows[0][0].Bytes()
	require.True(t, ok)
	assert.NotEmpty(t, ybctid)
	assert.Equal(t, types.NewInt(4), res.Rows[0][1])

	res, err = s.gate.Query(context.Background(), QueryRequest{Table: "users", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 1)
	assert.Equal(t, 1, res.RemoteOps)

	_, err = s.gate.Query(context.Background(), QueryRequest{Table: "users_name_idx"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	stats := s.gate.TupleStats()
	assert.Equal(t, stats.Gets, stats.Puts)
	assert.GreaterOrEqual(t, stats.Gets, int64(6), "four inserts and two queries")
}
