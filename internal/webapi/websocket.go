package webapi

import (
	"context"
	"net/http"

	"github.com/shc-project/shc/internal/base"
)

// wsMessage is the wire frame exchanged over /api/v1/ws in both directions:
// server -> client frames report whichever object last changed; client ->
// server frames request a write to a named object.
type wsMessage struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Error string `json:"error,omitempty"`
}

// handleWebsocket upgrades the connection and bridges every object's
// watchEntry updates to the client as they happen, while applying any
// {"name","value"} frames the client sends back as writes into the graph.
// One reader goroutine and one writer goroutine per connection; the
// connection is torn down when either side closes or errors.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan wsMessage, 64)
	for name, we := range s.watches {
		go s.forwardWatchEntry(ctx, name, we, out)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			obj, ok := s.objects[msg.Name]
			if !ok {
				continue
			}
			writable, ok := obj.(base.Writable)
			if !ok {
				continue
			}
			if err := writable.Write(ctx, msg.Value, base.NewOrigin()); err != nil {
				select {
				case out <- wsMessage{Name: msg.Name, Error: err.Error()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case msg := <-out:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// forwardWatchEntry blocks on the entry's own waitFor, so each update is
// forwarded as soon as it is published rather than on a fixed poll
// interval, and exits once ctx is cancelled (connection closed).
func (s *Server) forwardWatchEntry(ctx context.Context, name string, we *watchEntry, out chan<- wsMessage) {
	_, version := we.current()
	for {
		value, next, err := we.waitFor(ctx, version)
		if err != nil {
			return
		}
		version = next
		select {
		case out <- wsMessage{Name: name, Value: value}:
		case <-ctx.Done():
			return
		}
	}
}
