// Package webapi implements the HTTP and websocket surface of the control
// bus: long-poll and push access to every named connectable in the
// connection graph (spec component F).
package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"

	"github.com/shc-project/shc/internal/base"
	"github.com/shc-project/shc/internal/buildinfo"
	"github.com/shc-project/shc/internal/config"
)

// writeJSON encodes v as JSON, logging failures at debug level — a failed
// write here almost always means the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Server is the web API/UI HTTP server. It exposes every object in a
// connection graph under /api/v1/object/{name}, a websocket bridge at
// /api/v1/ws, a status probe, and a QR-code convenience endpoint for
// pairing a phone to the server's own URL.
type Server struct {
	address string
	port    int
	objects map[string]any
	watches map[string]*watchEntry
	auth    config.AuthConfig
	logger  *slog.Logger
	server  *http.Server
	started time.Time

	upgrader websocket.Upgrader

	extraMounts []mount
}

// mount is an additional route registered by another package sharing this
// Server's listener and HTTP basic-auth gate — internal/webui mounts its
// dashboard pages this way rather than running a second listener.
type mount struct {
	pattern string
	handler http.Handler
}

// Mount registers an additional handler on this Server's mux under pattern,
// behind the same HTTP basic-auth gate as the object API. Must be called
// before Start.
func (s *Server) Mount(pattern string, handler http.Handler) {
	s.extraMounts = append(s.extraMounts, mount{pattern: pattern, handler: handler})
}

// NewServer constructs a Server over a resolved connection graph's objects.
// Every Subscribable object is wired to an internal watcher at construction
// time so long-poll and websocket clients observe every published value,
// not just the value at request time.
func NewServer(address string, port int, objects map[string]any, auth config.AuthConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		address: address,
		port:    port,
		objects: objects,
		watches: make(map[string]*watchEntry, len(objects)),
		auth:    auth,
		logger:  logger,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for name, obj := range objects {
		we := newWatchEntry()
		s.watches[name] = we
		if readable, ok := obj.(base.Readable); ok {
			if v, err := readable.Read(context.Background()); err == nil {
				we.set(v)
			}
		}
		if sub, ok := obj.(base.Subscribable); ok {
			sub.Subscribe(we, nil)
		}
	}
	return s
}

// Start begins serving HTTP requests and blocks until the server stops or
// ctx is cancelled. The caller is expected to call Shutdown from a signal
// handler running concurrently.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/object/{name}", s.requireAuth(s.handleGetObject))
	mux.HandleFunc("POST /api/v1/object/{name}", s.requireAuth(s.handlePostObject))
	mux.HandleFunc("GET /api/v1/ws", s.requireAuth(s.handleWebsocket))
	mux.HandleFunc("GET /api/v1/qrcode", s.handleQRCode)
	for _, m := range s.extraMounts {
		mux.Handle(m.pattern, s.requireAuth(m.handler.ServeHTTP))
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting web API server", "address", addr, "port", s.port, "objects", len(s.objects))

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// requireAuth enforces HTTP basic auth when the server was configured with
// an Auth block. Disabled configurations (the common trusted-LAN
// deployment) pass every request through unchanged.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Configured() {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.auth.Username || !s.auth.Verify(pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="shcd"`)
			errorResponse(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}

// handleStatus is the supplemented InterfaceStatus probe endpoint: a
// lightweight health summary naming every known object and the server's own
// uptime, independent of whether any interface is actually healthy (that
// detail lives with the process supervisor, not the web API).
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, map[string]any{
		"status":  "ok",
		"version": buildinfo.Version,
		"uptime":  time.Since(s.started).Truncate(time.Second).String(),
		"objects": names,
	}, s.logger)
}

// handleGetObject is a long-poll read: given ?since=<version>, it blocks
// until the object's version exceeds since or a timeout elapses, then
// returns the current value and version as an ETag-style field. A client
// that always passes back the version it last received observes every
// published value in order without missing updates between polls.
//
// An object that has never been written (version 0) reports 409, matching
// spec §6/§7's Uninitialised surfaced to the caller; this check happens
// before any waiting, not after a timed-out long-poll. A long-poll that
// times out without seeing a new value reports 304 with the unchanged
// ETag, rather than re-sending the same value as a 200 — the spec's
// "304 on timeout" contract (§6, scenario S5).
func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	we, ok := s.watches[name]
	if !ok {
		errorResponse(w, http.StatusNotFound, fmt.Sprintf("no such object: %s", name))
		return
	}

	if _, version := we.current(); version == 0 {
		w.Header().Set("ETag", "0")
		errorResponse(w, http.StatusConflict, fmt.Sprintf("object %q is uninitialised", name))
		return
	}

	since := uint64(0)
	if q := r.URL.Query().Get("since"); q != "" {
		parsed, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			errorResponse(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = parsed
	}

	timeout := 30 * time.Second
	if q := r.URL.Query().Get("timeout_ms"); q != "" {
		if ms, err := strconv.Atoi(q); err == nil && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	value, version, err := we.waitFor(ctx, since)
	if err != nil {
		// Timed out with no new value to report.
		_, unchangedVersion := we.current()
		w.Header().Set("ETag", strconv.FormatUint(unchangedVersion, 10))
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", strconv.FormatUint(version, 10))
	writeJSON(w, map[string]any{"name": name, "value": value, "version": version}, s.logger)
}

// handlePostObject decodes a JSON body {"value": ...} and writes it to the
// named object with a fresh origin, as if it were an externally triggered
// write. A value that does not convert to the object's declared type is
// reported as 422 Unprocessable Entity, matching the write path's own
// ErrConversion.
func (s *Server) handlePostObject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	obj, ok := s.objects[name]
	if !ok {
		errorResponse(w, http.StatusNotFound, fmt.Sprintf("no such object: %s", name))
		return
	}
	writable, ok := obj.(base.Writable)
	if !ok {
		errorResponse(w, http.StatusMethodNotAllowed, fmt.Sprintf("object %q does not accept writes", name))
		return
	}

	var body struct {
		Value any `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errorResponse(w, http.StatusBadRequest, "request body must be {\"value\": ...}")
		return
	}

	if err := writable.Write(r.Context(), body.Value, base.NewOrigin()); err != nil {
		errorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleQRCode renders a QR code encoding this server's own base URL, so an
// operator can point a phone at the web UI without typing an address.
func (s *Server) handleQRCode(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if host == "" {
		host = fmt.Sprintf("%s:%d", s.address, s.port)
	}
	png, err := qrcode.Encode(fmt.Sprintf("http://%s/", host), qrcode.Medium, 256)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
