package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kcoder666/sheetflow/internal/core"
)

// maxBodySize bounds JSON request bodies. Requests carry paths, never file
// contents.
const maxBodySize = 1 << 20

// decodeJSON reads a JSON request body into v. Problems are reported as
// invalid input.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.InvalidInputf("decode request body: %v", err)
	}
	return nil
}

// jobIDParam parses the {jobID} route parameter.
func jobIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "jobID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, core.InvalidInputf("invalid job id %q", raw)
	}
	return id, nil
}

// intQuery parses an optional non-negative integer query parameter.
func intQuery(r *http.Request, name string, defaultVal int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.InvalidInputf("%s must be an integer, got %q", name, raw)
	}
	if n < 0 {
		return 0, core.InvalidInputf("%s must not be negative, got %d", name, n)
	}
	return n, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}
