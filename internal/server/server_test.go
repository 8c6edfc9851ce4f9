package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"collabboard/internal/node"
)

func TestHealthz(t *testing.T) {
	r := New(node.New(nil, nil), t.TempDir())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("expected ok body, got %q", rec.Body.String())
	}
}

func TestStaticFilesServed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>board</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(node.New(nil, nil), dir)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "<html>board</html>" {
		t.Errorf("unexpected body: %q", rec.Body.String())
	}
}

func TestWSRequiresUpgrade(t *testing.T) {
	r := New(node.New(nil, nil), t.TempDir())
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a plain GET, got %d", rec.Code)
	}
}
