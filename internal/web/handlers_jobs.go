package web

import (
	"net/http"

	"github.com/kcoder666/sheetflow/internal/core"
)

type listWorksheetsRequest struct {
	Path string `json:"path"`
}

type convertRequest struct {
	Path        string   `json:"path"`
	Worksheets  []string `json:"worksheets"`
	OutputDir   string   `json:"outputDir"`
	MaxRows     int      `json:"maxRows,omitempty"`
	MaxFileSize int64    `json:"maxFileSize,omitempty"`
}

type submitResponse struct {
	JobID int64 `json:"jobId"`
}

// handleListWorksheets starts an analysis job.
func (s *Server) handleListWorksheets(w http.ResponseWriter, r *http.Request) {
	var req listWorksheetsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	id, err := s.jobs.SubmitAnalyze(r.Context(), req.Path)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, submitResponse{JobID: id})
}

// handleConvert starts a conversion job.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	id, err := s.jobs.SubmitConvert(r.Context(), req.Path, core.ConvertOptions{
		Worksheets:  req.Worksheets,
		OutputDir:   req.OutputDir,
		MaxRows:     req.MaxRows,
		MaxFileSize: req.MaxFileSize,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, submitResponse{JobID: id})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.jobs.List())
}

// handleJob returns the current snapshot of a job.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	snap, err := s.jobs.Get(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, snap)
}

// handleJobResult blocks until the job is terminal, then returns its
// snapshot. A client that disconnects first gets nothing.
func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	snap, err := s.jobs.Wait(r.Context(), id)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, snap)
}

// cancelResponse answers both cancel endpoints. Cancelling a finished job
// still succeeds.
type cancelResponse struct {
	Success   bool   `json:"success"`
	Status    string `json:"status,omitempty"`
	Cancelled *int   `json:"cancelled,omitempty"`
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.jobs.Cancel(id); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, cancelResponse{Success: true, Status: "cancelled"})
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	n := s.jobs.CancelAll()
	writeJSON(w, cancelResponse{Success: true, Cancelled: &n})
}
