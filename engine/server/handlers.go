package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/engine/profiler"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/cache"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/layout"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/compiler"
	"github.com/gin-gonic/gin"
)

type documentSummary struct {
	Path     string    `json:"path"`
	ModTime  time.Time `json:"mod_time"`
	Key      string    `json:"key,omitempty"`
	HasEntry bool      `json:"has_entry"`
	Error    string    `json:"error,omitempty"`
}

type documentDetail struct {
	documentSummary
	Stages []stageView            `json:"stages,omitempty"`
	Layout *layout.PipelineLayout `json:"layout,omitempty"`
	Errors []errorView            `json:"errors,omitempty"`
}

type stageView struct {
	Kind       shader.StageKind   `json:"kind"`
	EntryPoint string             `json:"entry_point"`
	Size       int                `json:"size"`
	SourceHash shader.ContentHash `json:"source_hash"`
	Warnings   []errorView        `json:"warnings,omitempty"`
}

// errorView is a compiler diagnostic or build error flattened for JSON.
type errorView struct {
	Stage   string `json:"stage,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

type statsView struct {
	profiler.Snapshot
	AverageBuild time.Duration `json:"average_build"`
	Entries      int           `json:"entries"`
	Documents    int           `json:"documents"`
	Compiler     string        `json:"compiler"`
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"compiler": s.engine.Cache().Version(),
		"time":     time.Now().Unix(),
	})
}

func (s *server) handleDocuments(c *gin.Context) {
	ch := s.engine.Cache()
	docs := make([]documentSummary, 0)
	for _, p := range ch.Paths() {
		if st, ok := ch.Status(p); ok {
			docs = append(docs, summarize(st))
		}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (s *server) handleDocument(c *gin.Context) {
	ch := s.engine.Cache()
	// the wildcard keeps its leading slash; relative paths are tracked without one
	raw := c.Param("path")
	st, ok := ch.Status(raw)
	if !ok {
		st, ok = ch.Status(strings.TrimPrefix(raw, "/"))
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not tracked", "path": raw})
		return
	}

	detail := documentDetail{documentSummary: summarize(st), Errors: errorViews(st.Err)}
	if e, ok := ch.Current(st.Path); ok {
		defer e.Release()
		detail.Layout = e.Layout()
		for _, stage := range e.Stages() {
			v := stageView{
				Kind:       stage.Kind,
				EntryPoint: stage.EntryPoint,
				Size:       len(stage.Bytecode),
				SourceHash: stage.SourceHash,
			}
			for _, w := range stage.Warnings {
				v.Warnings = append(v.Warnings, diagnosticView(w))
			}
			detail.Stages = append(detail.Stages, v)
		}
	}
	c.JSON(http.StatusOK, detail)
}

func (s *server) handleReload(c *gin.Context) {
	n := s.engine.Loader().Poll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"reloaded": n, "watched": s.engine.Loader().Watched()})
}

func (s *server) handleStats(c *gin.Context) {
	ch := s.engine.Cache()
	snap := s.engine.Profiler().Snapshot()
	c.JSON(http.StatusOK, statsView{
		Snapshot:     snap,
		AverageBuild: snap.AverageBuild(),
		Entries:      ch.Len(),
		Documents:    len(ch.Paths()),
		Compiler:     ch.Version(),
	})
}

func summarize(st cache.Status) documentSummary {
	d := documentSummary{Path: st.Path, ModTime: st.ModTime, HasEntry: st.HasEntry}
	if st.HasEntry {
		d.Key = st.Key.String()
	}
	if st.Err != nil {
		d.Error = st.Err.Error()
	}
	return d
}

func diagnosticView(d compiler.Diagnostic) errorView {
	return errorView{Stage: d.Stage.String(), Line: d.DocumentLine, Column: d.Column, Message: d.Message}
}

// errorViews splits a build error into one view per failed stage.
func errorViews(err error) []errorView {
	if err == nil {
		return nil
	}
	errs := []error{err}
	var be *cache.BuildError
	if errors.As(err, &be) {
		errs = be.Errors()
	}

	views := make([]errorView, 0, len(errs))
	for _, e := range errs {
		var (
			ce *compiler.CompileError
			pe *shader.ParseError
		)
		switch {
		case errors.As(e, &ce):
			views = append(views, diagnosticView(ce.Diagnostic()))
		case errors.As(e, &pe):
			views = append(views, errorView{Line: pe.Line, Message: pe.Error()})
		default:
			views = append(views, errorView{Message: e.Error()})
		}
	}
	return views
}
