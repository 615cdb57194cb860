package web

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kcoder666/sheetflow/internal/viewer"
)

// viewerRegistry tracks viewer contexts by id. Each context owns one
// viewer with at most one open session.
type viewerRegistry struct {
	mu      sync.RWMutex
	viewers map[string]*viewer.Viewer
	factory func() *viewer.Viewer
}

func newViewerRegistry(factory func() *viewer.Viewer) *viewerRegistry {
	return &viewerRegistry{
		viewers: make(map[string]*viewer.Viewer),
		factory: factory,
	}
}

func (vr *viewerRegistry) create() string {
	id := uuid.NewString()
	vr.mu.Lock()
	vr.viewers[id] = vr.factory()
	vr.mu.Unlock()
	return id
}

func (vr *viewerRegistry) get(id string) (*viewer.Viewer, error) {
	vr.mu.RLock()
	v, ok := vr.viewers[id]
	vr.mu.RUnlock()
	if !ok {
		return nil, errViewerNotFound
	}
	return v, nil
}

// remove closes and forgets a viewer.
func (vr *viewerRegistry) remove(id string) error {
	vr.mu.Lock()
	v, ok := vr.viewers[id]
	delete(vr.viewers, id)
	vr.mu.Unlock()
	if !ok {
		return errViewerNotFound
	}
	return v.Close()
}

func (vr *viewerRegistry) closeAll() {
	vr.mu.Lock()
	all := vr.viewers
	vr.viewers = make(map[string]*viewer.Viewer)
	vr.mu.Unlock()

	for id, v := range all {
		if err := v.Close(); err != nil {
			slog.Warn("closing viewer", "viewer_id", id, "error", err)
		}
	}
}

func (vr *viewerRegistry) count() int {
	vr.mu.RLock()
	defer vr.mu.RUnlock()
	return len(vr.viewers)
}

type openFileRequest struct {
	Path string `json:"path"`
}

type selectSheetRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateViewer(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, http.StatusCreated, map[string]string{"viewerId": s.viewers.create()})
}

// viewerFor resolves the {viewerID} route parameter, replying on failure.
func (s *Server) viewerFor(w http.ResponseWriter, r *http.Request) (*viewer.Viewer, bool) {
	v, err := s.viewers.get(chi.URLParam(r, "viewerID"))
	if err != nil {
		s.respondError(w, r, err)
		return nil, false
	}
	return v, true
}

func (s *Server) handleOpenFile(w http.ResponseWriter, r *http.Request) {
	v, ok := s.viewerFor(w, r)
	if !ok {
		return
	}
	var req openFileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	info, err := v.Open(r.Context(), req.Path)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, info)
}

func (s *Server) handleSelectSheet(w http.ResponseWriter, r *http.Request) {
	v, ok := s.viewerFor(w, r)
	if !ok {
		return
	}
	var req selectSheetRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	info, err := v.SelectSheet(r.Context(), req.Name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, info)
}

// handleReadPage serves ?start=&size=. Both default to 0; a size of 0 uses
// the viewer's default page size.
func (s *Server) handleReadPage(w http.ResponseWriter, r *http.Request) {
	v, ok := s.viewerFor(w, r)
	if !ok {
		return
	}
	start, err := intQuery(r, "start", 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	size, err := intQuery(r, "size", 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	page, err := v.ReadPage(r.Context(), start, size)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, page)
}

func (s *Server) handleCloseViewer(w http.ResponseWriter, r *http.Request) {
	if err := s.viewers.remove(chi.URLParam(r, "viewerID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
