package webui

import (
	"html/template"
	"log/slog"
	"net/http"
)

// Server renders Registry's pages as an http.Handler, mounted on the same
// listener as internal/webapi (see Server.Mount there) so the dashboard
// shares its HTTP basic-auth gate rather than opening a second port.
type Server struct {
	registry  *Registry
	indexName string
	logger    *slog.Logger
}

// NewServer constructs a UI Server over registry. indexName is the page
// name served at "/".
func NewServer(registry *Registry, indexName string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{registry: registry, indexName: indexName, logger: logger}
}

var documentTemplate = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
{{.Body}}
</body>
</html>
`))

// ServeHTTP implements http.Handler. "/" redirects to the index page;
// "/{name}/" renders that page's body inside a minimal document.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path
	if name == "" || name == "/" {
		http.Redirect(w, r, "/"+s.indexName+"/", http.StatusFound)
		return
	}
	name = trimSlashes(name)

	page, ok := s.registry.Page(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	body, err := page.Render(s.registry.trackerSnapshot())
	if err != nil {
		s.logger.Error("failed to render page", "page", name, "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	title := page.Title
	if title == "" {
		title = page.Name
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := documentTemplate.Execute(w, struct {
		Title string
		Body  template.HTML
	}{Title: title, Body: body}); err != nil {
		s.logger.Debug("failed to write UI page response", "page", name, "error", err)
	}
}

func trimSlashes(p string) string {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	for len(p) > 0 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}
