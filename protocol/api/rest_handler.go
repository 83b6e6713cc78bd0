package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guileen/pglitegate/catalog"
	"github.com/guileen/pglitegate/engine/errors"
	"github.com/guileen/pglitegate/logger"
	"github.com/guileen/pglitegate/types"
)

type RESTHandler struct {
	gate     *Gate
	gatherer prometheus.Gatherer
}

// NewRESTHandler serves gate over HTTP. A nil gatherer disables /metrics.
func NewRESTHandler(gate *Gate, gatherer prometheus.Gatherer) *RESTHandler {
	return &RESTHandler{gate: gate, gatherer: gatherer}
}

func (h *RESTHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/tables", func(r chi.Router) {
		r.Use(requestContext)
		r.Get("/", h.ListTables)
		r.Post("/", h.CreateTable)
		r.Route("/{table}", func(r chi.Router) {
			r.Get("/columns", h.ListColumns)
			r.Post("/indexes", h.CreateIndex)
			r.Get("/rows", h.QueryRows)
			r.Post("/rows", h.InsertRow)
			r.Get("/rows/{key}", h.GetRow)
			r.Patch("/rows/{key}", h.UpdateRow)
			r.Delete("/rows/{key}", h.DeleteRow)
		})
	})
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
}

// requestContext tags the request context with the chi request id.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(logger.WithContextValue(r.Context(), logger.RequestIDKey, id))
		}
		next.ServeHTTP(w, r)
	})
}

type TableInfo struct {
	Name      string       `json:"name"`
	OID       uint32       `json:"oid"`
	Colocated bool         `json:"colocated,omitempty"`
	Unique    bool         `json:"unique,omitempty"`
	Columns   []ColumnInfo `json:"columns,omitempty"`
	Indexes   []string     `json:"indexes,omitempty"`
}

type ColumnInfo struct {
	Attr     int              `json:"attr"`
	Name     string           `json:"name"`
	Type     types.ColumnType `json:"type"`
	TypeOID  uint32           `json:"type_oid"`
	TypeName string           `json:"type_name"`
	Role     string           `json:"role"`
	Nullable bool             `json:"nullable"`
}

type CreateTableRequest struct {
	Name      string          `json:"name"`
	Colocated bool            `json:"colocated,omitempty"`
	Columns   []ColumnRequest `json:"columns"`
}

type ColumnRequest struct {
	Name     string           `json:"name"`
	Type     types.ColumnType `json:"type"`
	Role     string           `json:"role,omitempty"`
	Nullable bool             `json:"nullable,omitempty"`
}

type CreateIndexRequest struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

type QueryResponse struct {
	Data      []map[string]interface{} `json:"data"`
	Count     int                      `json:"count"`
	RemoteOps int                      `json:"remote_ops"`
}

type InsertRequest struct {
	Data map[string]interface{} `json:"data"`
}

type WriteResponse struct {
	RowsAffected int64                    `json:"rows_affected"`
	Data         []map[string]interface{} `json:"data,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (h *RESTHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	cat := h.gate.Catalog()
	tables := cat.Tables()
	out := make([]TableInfo, 0, len(tables))
	for _, t := range tables {
		info := h.tableInfo(t)
		for _, idx := range cat.Indexes(t.ID) {
			info.Indexes = append(info.Indexes, idx.Name)
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *RESTHandler) CreateTable(w http.ResponseWriter, r *http.Request) {
	const op = "CreateTable"

	var req CreateTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.Wrap(err, errors.ErrCodeValidation, op))
		return
	}
	defs := make([]catalog.ColumnDef, 0, len(req.Columns))
	for _, c := range req.Columns {
		role, err := catalog.ParseColumnRole(c.Role)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defs = append(defs, catalog.ColumnDef{Name: c.Name, Type: c.Type, Role: role, Nullable: c.Nullable})
	}
	t, err := h.gate.Catalog().CreateTable(r.Context(), req.Name, defs, req.Colocated)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.InfoContext(r.Context(), "table created", logger.Component("api"), logger.Table(t.Name), logger.String("id", t.ID.String()))
	writeJSON(w, http.StatusCreated, h.tableInfo(t))
}

func (h *RESTHandler) CreateIndex(w http.ResponseWriter, r *http.Request) {
	const op = "CreateIndex"

	base, err := h.gate.Catalog().TableByName(chi.URLParam(r, "table"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req CreateIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.Wrap(err, errors.ErrCodeValidation, op))
		return
	}
	idx, err := h.gate.Catalog().CreateIndex(r.Context(), base.ID, req.Name, req.Columns, req.Unique)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.InfoContext(r.Context(), "index created", logger.Component("api"), logger.Table(base.Name), logger.String("index", idx.Name))
	writeJSON(w, http.StatusCreated, h.tableInfo(idx))
}

func (h *RESTHandler) ListColumns(w http.ResponseWriter, r *http.Request) {
	t, err := h.gate.Catalog().TableByName(chi.URLParam(r, "table"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.tableInfo(t).Columns)
}

func (h *RESTHandler) tableInfo(t *catalog.Table) TableInfo {
	info := TableInfo{Name: t.Name, OID: t.ID.ObjectOID, Colocated: t.Colocated, Unique: t.Unique}
	for _, c := range t.Columns {
		ci, err := h.gate.Catalog().GetColumnInfo(t.ID, c.AttrNum)
		if err != nil {
			continue
		}
		info.Columns = append(info.Columns, ColumnInfo{
			Attr:     c.AttrNum,
			Name:     c.Name,
			Type:     c.Type,
			TypeOID:  ci.TypeOID,
			TypeName: ci.TypeName,
			Role:     ci.Role.String(),
			Nullable: c.Nullable,
		})
	}
	return info
}

// QueryRows selects rows. Query parameters: columns (comma separated),
// where, index, limit and eq.<column>=<value> binds.
func (h *RESTHandler) QueryRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := QueryRequest{
		Table: chi.URLParam(r, "table"),
		Where: q.Get("where"),
		Index: q.Get("index"),
		Limit: getIntQueryParam(r, "limit", 0),
	}
	if cols := q.Get("columns"); cols != "" {
		req.Columns = strings.Split(cols, ",")
	}
	for name, values := range q {
		if col, ok := strings.CutPrefix(name, "eq."); ok && len(values) > 0 {
			if req.Eq == nil {
				req.Eq = make(map[string]string)
			}
			req.Eq[col] = values[0]
		}
	}

	res, err := h.gate.Query(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Data: res.Maps(), Count: len(res.Rows), RemoteOps: res.RemoteOps})
}

func (h *RESTHandler) GetRow(w http.ResponseWriter, r *http.Request) {
	res, err := h.gate.Get(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Maps()[0])
}

func (h *RESTHandler) InsertRow(w http.ResponseWriter, r *http.Request) {
	var req InsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.Wrap(err, errors.ErrCodeValidation, "InsertRow"))
		return
	}
	res, err := h.gate.Insert(r.Context(), chi.URLParam(r, "table"), req.Data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, WriteResponse{RowsAffected: res.RowsAffected, Data: res.Maps()})
}

func (h *RESTHandler) UpdateRow(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.Wrap(err, errors.ErrCodeValidation, "UpdateRow"))
		return
	}
	res, err := h.gate.Update(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "key"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WriteResponse{RowsAffected: res.RowsAffected, Data: res.Maps()})
}

func (h *RESTHandler) DeleteRow(w http.ResponseWriter, r *http.Request) {
	n, err := h.gate.Delete(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WriteResponse{RowsAffected: n})
}

// Helper functions
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		errors.LogError(r.Context(), err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: errors.CodeOf(err)})
}

func statusOf(err error) int {
	switch {
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsConflict(err), errors.IsCatalogVersionMismatch(err):
		return http.StatusConflict
	case errors.IsInvalidState(err), errors.IsInvalidColumn(err), errors.IsUnsupportedExpression(err),
		errors.IsMissingColumnReference(err), errors.HasCode(err, errors.ErrCodeValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func getIntQueryParam(r *http.Request, key string, defaultValue int) int {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
