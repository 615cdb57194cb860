package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/a-h/templ"

	"github.com/kcoder666/sheetflow/internal/core"
	"github.com/kcoder666/sheetflow/internal/jobs"
)

// statusView is everything the status page shows.
type statusView struct {
	Jobs    []jobs.Snapshot
	Limiter *core.LimiterStatus
	Viewers int
	Now     time.Time
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view := statusView{Jobs: s.jobs.List(), Viewers: s.viewers.count(), Now: time.Now()}
	if s.limiter != nil {
		st := s.limiter.Status()
		view.Limiter = &st
	}
	s.render(w, r, statusPage(view))
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, component templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := component.Render(r.Context(), w); err != nil {
		s.respondError(w, r, fmt.Errorf("render page: %w", err))
	}
}

// statusPage renders the live job table.
func statusPage(v statusView) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &pageWriter{w: w}
		p.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		p.raw(`<meta http-equiv="refresh" content="5"><title>sheetflow status</title>`)
		p.raw(`<style>body{font-family:sans-serif;margin:2rem}table{border-collapse:collapse}` +
			`td,th{border:1px solid #ccc;padding:.3rem .6rem;text-align:left}` +
			`.failed{color:#b00}.completed{color:#070}.cancelled{color:#777}</style></head><body>`)
		p.raw(`<h1>sheetflow</h1>`)

		p.raw(`<p>`)
		if v.Limiter != nil {
			p.text(fmt.Sprintf("Engine processes: %d active, %d of %d slots free. ",
				v.Limiter.Active, v.Limiter.Available, v.Limiter.Max))
		}
		p.text(fmt.Sprintf("Open viewers: %d. Updated %s.", v.Viewers, v.Now.Format(time.TimeOnly)))
		p.raw(`</p>`)

		if len(v.Jobs) == 0 {
			p.raw(`<p>No jobs.</p></body></html>`)
			return p.err
		}

		p.raw(`<table><thead><tr><th>ID</th><th>Kind</th><th>Input</th><th>State</th>` +
			`<th>Progress</th><th>Stage</th><th>Error</th></tr></thead><tbody>`)
		for _, j := range v.Jobs {
			p.raw(`<tr class="` + templ.EscapeString(string(j.State)) + `">`)
			p.cell(fmt.Sprint(j.ID))
			p.cell(string(j.Kind))
			p.cell(j.Input)
			p.cell(string(j.State))
			p.cell(fmt.Sprintf("%d%%", j.Percent))
			p.cell(j.Stage)
			p.cell(j.Error)
			p.raw(`</tr>`)
		}
		p.raw(`</tbody></table></body></html>`)
		return p.err
	})
}

// pageWriter keeps the first write error so rendering reads top to bottom.
type pageWriter struct {
	w   io.Writer
	err error
}

func (p *pageWriter) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *pageWriter) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *pageWriter) cell(s string) {
	p.raw(`<td>`)
	p.text(s)
	p.raw(`</td>`)
}
