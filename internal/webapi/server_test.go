package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/shc-project/shc/internal/config"
	"github.com/shc-project/shc/internal/variable"
)

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	return string(hash)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleGetObjectUnknownName(t *testing.T) {
	s := NewServer("", 0, map[string]any{}, config.AuthConfig{}, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/object/{name}", s.handleGetObject)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/object/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandlePostObjectWritesValue(t *testing.T) {
	v := variable.New[bool]("switch")
	s := NewServer("", 0, map[string]any{"switch": v}, config.AuthConfig{}, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/object/{name}", s.handlePostObject)

	body, _ := json.Marshal(map[string]any{"value": true})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/object/switch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204, body=%s", rec.Code, rec.Body.String())
	}

	got, err := v.Read(req.Context())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != true {
		t.Fatalf("value = %v, want true", got)
	}
}

func TestHandlePostObjectRejectsWrongType(t *testing.T) {
	v := variable.New[bool]("switch")
	s := NewServer("", 0, map[string]any{"switch": v}, config.AuthConfig{}, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/object/{name}", s.handlePostObject)

	body, _ := json.Marshal(map[string]any{"value": "not-a-bool"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/object/switch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestHandleGetObjectReturnsWrittenValue(t *testing.T) {
	v := variable.New[bool]("switch")
	s := NewServer("", 0, map[string]any{"switch": v}, config.AuthConfig{}, testLogger())

	postMux := http.NewServeMux()
	postMux.HandleFunc("POST /api/v1/object/{name}", s.handlePostObject)
	body, _ := json.Marshal(map[string]any{"value": true})
	postMux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/object/switch", bytes.NewReader(body)))

	getMux := http.NewServeMux()
	getMux.HandleFunc("GET /api/v1/object/{name}", s.handleGetObject)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/object/switch?timeout_ms=50", nil)
	rec := httptest.NewRecorder()
	getMux.ServeHTTP(rec, req)

	var resp struct {
		Value   bool   `json:"value"`
		Version uint64 `json:"version"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Value {
		t.Fatalf("value = %v, want true", resp.Value)
	}
	if resp.Version == 0 {
		t.Fatalf("expected a non-zero version after a write")
	}
}

func TestHandleGetObjectUninitialisedReturns409(t *testing.T) {
	v := variable.New[bool]("switch")
	s := NewServer("", 0, map[string]any{"switch": v}, config.AuthConfig{}, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/object/{name}", s.handleGetObject)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/object/switch", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetObjectTimeoutReturns304(t *testing.T) {
	v := variable.New[bool]("switch")
	s := NewServer("", 0, map[string]any{"switch": v}, config.AuthConfig{}, testLogger())

	postMux := http.NewServeMux()
	postMux.HandleFunc("POST /api/v1/object/{name}", s.handlePostObject)
	body, _ := json.Marshal(map[string]any{"value": true})
	postMux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/object/switch", bytes.NewReader(body)))

	we := s.watches["switch"]
	_, version := we.current()

	getMux := http.NewServeMux()
	getMux.HandleFunc("GET /api/v1/object/{name}", s.handleGetObject)
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/object/switch?since=%d&timeout_ms=20", version), nil)
	rec := httptest.NewRecorder()
	getMux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304, body=%s", rec.Code, rec.Body.String())
	}
	if etag := rec.Header().Get("ETag"); etag != fmt.Sprintf("%d", version) {
		t.Fatalf("ETag = %q, want %d (unchanged)", etag, version)
	}
}

func TestRequireAuthRejectsWithoutCredentials(t *testing.T) {
	s := NewServer("", 0, map[string]any{}, config.AuthConfig{Username: "admin", PasswordHash: mustHash(t, "secret")}, testLogger())
	handler := s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthAcceptsValidCredentials(t *testing.T) {
	s := NewServer("", 0, map[string]any{}, config.AuthConfig{Username: "admin", PasswordHash: mustHash(t, "secret")}, testLogger())
	handler := s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleStatusListsObjects(t *testing.T) {
	s := NewServer("", 0, map[string]any{
		"a": variable.New[bool]("a"),
		"b": variable.New[bool]("b"),
	}, config.AuthConfig{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	var resp struct {
		Objects []string `json:"objects"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Objects) != 2 {
		t.Fatalf("objects = %v, want 2 entries", resp.Objects)
	}
}

func TestWatchEntryWaitForUnblocksOnNewValue(t *testing.T) {
	we := newWatchEntry()
	_, v0 := we.current()

	done := make(chan struct{})
	go func() {
		defer close(done)
		we.set("hello")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	value, version, err := we.waitFor(ctx, v0)
	if err != nil {
		t.Fatalf("waitFor: %v", err)
	}
	if value != "hello" {
		t.Fatalf("value = %v, want hello", value)
	}
	if version <= v0 {
		t.Fatalf("version did not advance: %d <= %d", version, v0)
	}
	<-done
}
