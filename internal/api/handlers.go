package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tordrt/tablegw/internal/gateway"
)

const maxBodyBytes = 1 << 20

// NoMatchesMessage is returned in place of results when a search finds nothing
const NoMatchesMessage = "no matching rows found"

var errEmptyBody = errors.New("request body must not be empty")

type deleteRowRequest struct {
	RowID *int64 `json:"row_id"`
}

type updateRowRequest struct {
	RowID         *int64         `json:"row_id"`
	UpdatedValues map[string]any `json:"updated_values"`
}

type columnRequest struct {
	ColumnName string `json:"column_name"`
}

type renameColumnRequest struct {
	OldColumnName string `json:"old_column_name"`
	NewColumnName string `json:"new_column_name"`
}

type statusResponse struct {
	Status string `json:"status"`
	RowID  *int64 `json:"rowid,omitempty"`
}

var success = statusResponse{Status: "success"}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "tablegw"})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			s.logger.Error("health check failed", "error", err)
			writeDetail(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listTablesHandler(w http.ResponseWriter, r *http.Request) {
	tables, err := s.gw.ListTables(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"tables": tables})
}

func (s *Server) getTableHandler(w http.ResponseWriter, r *http.Request) {
	data, err := s.gw.GetTableData(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) addRowHandler(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if err := decodeBody(w, r, &values); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	rowID, err := s.gw.InsertRow(r.Context(), mux.Vars(r)["name"], values)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", RowID: &rowID})
}

func (s *Server) updateRowHandler(w http.ResponseWriter, r *http.Request) {
	var req updateRowRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RowID == nil {
		writeDetail(w, http.StatusBadRequest, "row_id is required")
		return
	}

	if err := s.gw.UpdateRow(r.Context(), mux.Vars(r)["name"], *req.RowID, req.UpdatedValues); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) deleteRowHandler(w http.ResponseWriter, r *http.Request) {
	var req deleteRowRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RowID == nil {
		writeDetail(w, http.StatusBadRequest, "row_id is required")
		return
	}

	if err := s.gw.DeleteRow(r.Context(), mux.Vars(r)["name"], *req.RowID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) addColumnHandler(w http.ResponseWriter, r *http.Request) {
	s.columnHandler(w, r, s.gw.AddColumn)
}

func (s *Server) deleteColumnHandler(w http.ResponseWriter, r *http.Request) {
	s.columnHandler(w, r, s.gw.DeleteColumn)
}

func (s *Server) columnHandler(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, table, column string) error) {
	var req columnRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ColumnName == "" {
		writeDetail(w, http.StatusBadRequest, "column_name is required")
		return
	}

	if err := op(r.Context(), mux.Vars(r)["name"], req.ColumnName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) renameColumnHandler(w http.ResponseWriter, r *http.Request) {
	var req renameColumnRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OldColumnName == "" || req.NewColumnName == "" {
		writeDetail(w, http.StatusBadRequest, "old_column_name and new_column_name are required")
		return
	}

	if err := s.gw.RenameColumn(r.Context(), mux.Vars(r)["name"], req.OldColumnName, req.NewColumnName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	table, query := q.Get("table"), q.Get("query")
	if table == "" {
		writeDetail(w, http.StatusBadRequest, "table parameter is required")
		return
	}

	rows, err := s.gw.Search(r.Context(), table, query)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(rows) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"results": NoMatchesMessage})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]gateway.Row{"results": rows})
}

// decodeBody reads a JSON request body into v, keeping numbers exact
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusCode maps a gateway error kind to an HTTP status
func statusCode(err error) int {
	switch gateway.KindOf(err) {
	case gateway.InvalidInput, gateway.ConstraintViolation:
		return http.StatusBadRequest
	case gateway.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeDetail(w, statusCode(err), err.Error())
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

// writeJSON serializes object to w using code as the HTTP status code
func writeJSON(w http.ResponseWriter, code int, object any) {
	data, err := json.Marshal(object)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
