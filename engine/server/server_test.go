package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/engine"
	"github.com/Carmen-Shannon/oxy-shader/engine/server"
	"github.com/gin-gonic/gin"
)

const tintedDocument = `#[UNIFORMS]
struct Material {
    tint: vec4<f32>,
};
@group(0) @binding(0) var<uniform> material: Material;
#[VERTEX]
@vertex
fn vs_main(@location(0) position: vec3<f32>) -> @builtin(position) vec4<f32> {
    return vec4<f32>(position, 1.0);
}
#[FRAGMENT]
@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return material.tint;
}
`

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

func writeDocument(t *testing.T, path, src string, modTime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatal(err)
	}
}

func newServer(t *testing.T, watch ...string) (server.Server, engine.Engine) {
	t.Helper()
	e, err := engine.NewEngine(engine.WithWatch(watch...))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return server.NewServer(e), e
}

func do(t *testing.T, s server.Server, method, target string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, target, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestHealth(t *testing.T) {
	s, e := newServer(t)
	var body struct {
		Status   string `json:"status"`
		Compiler string `json:"compiler"`
	}
	if code := do(t, s, http.MethodGet, "/healthz", &body); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if body.Status != "ok" || body.Compiler != e.Cache().Version() {
		t.Fatalf("body = %+v", body)
	}
}

func TestReloadAndDocuments(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "tint.wgsl")
	broken := filepath.Join(dir, "broken.wgsl")
	writeDocument(t, good, tintedDocument, epoch)
	writeDocument(t, broken, strings.Replace(tintedDocument, "material.tint;", "material.nope;", 1), epoch)
	s, _ := newServer(t, good, broken)

	var reload struct {
		Reloaded int      `json:"reloaded"`
		Watched  []string `json:"watched"`
	}
	if code := do(t, s, http.MethodPost, "/reload", &reload); code != http.StatusOK {
		t.Fatalf("reload status %d", code)
	}
	if reload.Reloaded != 1 || len(reload.Watched) != 2 {
		t.Fatalf("reload = %+v, want one reloaded of two watched", reload)
	}

	var list struct {
		Documents []struct {
			Path     string `json:"path"`
			HasEntry bool   `json:"has_entry"`
			Error    string `json:"error"`
		} `json:"documents"`
	}
	do(t, s, http.MethodGet, "/documents", &list)
	if len(list.Documents) != 2 {
		t.Fatalf("documents = %+v", list.Documents)
	}
	for _, d := range list.Documents {
		switch d.Path {
		case good:
			if !d.HasEntry || d.Error != "" {
				t.Fatalf("good document = %+v", d)
			}
		case broken:
			if d.HasEntry || d.Error == "" {
				t.Fatalf("broken document = %+v", d)
			}
		default:
			t.Fatalf("unexpected document %q", d.Path)
		}
	}
}

func TestDocumentDetail(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "tint.wgsl")
	broken := filepath.Join(dir, "broken.wgsl")
	writeDocument(t, good, tintedDocument, epoch)
	writeDocument(t, broken, strings.Replace(tintedDocument, "material.tint;", "material.nope;", 1), epoch)
	s, e := newServer(t, good, broken)
	e.Loader().Poll(context.Background())

	var detail struct {
		Key    string `json:"key"`
		Stages []struct {
			Kind string `json:"kind"`
			Size int    `json:"size"`
		} `json:"stages"`
		Layout struct {
			Sets []struct {
				Index    uint32 `json:"index"`
				Bindings []struct {
					Name       string `json:"name"`
					Kind       string `json:"kind"`
					Visibility string `json:"visibility"`
				} `json:"bindings"`
			} `json:"sets"`
		} `json:"layout"`
	}
	if code := do(t, s, http.MethodGet, "/documents"+good, &detail); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if detail.Key == "" || len(detail.Stages) != 2 {
		t.Fatalf("detail = %+v", detail)
	}
	if detail.Stages[0].Kind != "vertex" || detail.Stages[0].Size == 0 {
		t.Fatalf("first stage = %+v", detail.Stages[0])
	}
	if len(detail.Layout.Sets) != 1 || len(detail.Layout.Sets[0].Bindings) != 1 {
		t.Fatalf("layout = %+v", detail.Layout)
	}
	if b := detail.Layout.Sets[0].Bindings[0]; b.Name != "material" || b.Visibility != "fragment" {
		t.Fatalf("binding = %+v", b)
	}

	var failed struct {
		HasEntry bool `json:"has_entry"`
		Errors   []struct {
			Stage   string `json:"stage"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	do(t, s, http.MethodGet, "/documents"+broken, &failed)
	if failed.HasEntry || len(failed.Errors) != 1 || failed.Errors[0].Stage != "fragment" {
		t.Fatalf("failed detail = %+v", failed)
	}

	if code := do(t, s, http.MethodGet, "/documents/nowhere.wgsl", nil); code != http.StatusNotFound {
		t.Fatalf("untracked document status %d, want 404", code)
	}
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "tint.wgsl")
	writeDocument(t, good, tintedDocument, epoch)
	s, e := newServer(t, good)
	e.Loader().Poll(context.Background())

	var stats struct {
		Builds    uint64 `json:"builds"`
		Entries   int    `json:"entries"`
		Documents int    `json:"documents"`
		Compiler  string `json:"compiler"`
	}
	do(t, s, http.MethodGet, "/stats", &stats)
	if stats.Builds != 1 || stats.Entries != 1 || stats.Documents != 1 || stats.Compiler == "" {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	e, err := engine.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	s := server.NewServer(e, server.WithAddr("127.0.0.1:0"))
	if s.Addr() != "127.0.0.1:0" {
		t.Fatalf("Addr = %q", s.Addr())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ListenAndServe = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
