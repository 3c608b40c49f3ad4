package webui

import (
	"fmt"
	"sync"
)

// Registry holds the pages a Server can render, keyed by name, and one
// valueTracker per distinct object referenced by any widget on any page.
type Registry struct {
	mu       sync.RWMutex
	pages    map[string]*Page
	order    []string
	trackers map[string]*valueTracker
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		pages:    make(map[string]*Page),
		trackers: make(map[string]*valueTracker),
	}
}

// AddPage registers page, wiring a valueTracker for each object its widgets
// reference that isn't already tracked. objects is the connection graph's
// built object map (name -> connectable).
func (r *Registry) AddPage(page *Page, objects map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pages[page.Name]; exists {
		return fmt.Errorf("webui: page %q already registered", page.Name)
	}

	for _, item := range page.Items {
		for _, w := range item.Widgets {
			if _, tracked := r.trackers[w.Object]; tracked {
				continue
			}
			obj, ok := objects[w.Object]
			if !ok {
				return fmt.Errorf("webui: page %q widget %q references unknown object %q", page.Name, w.ID, w.Object)
			}
			r.trackers[w.Object] = newValueTracker(obj)
		}
	}

	r.pages[page.Name] = page
	r.order = append(r.order, page.Name)
	return nil
}

// Page returns the named page and whether it exists.
func (r *Registry) Page(name string) (*Page, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pages[name]
	return p, ok
}

// Names returns every registered page name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

func (r *Registry) trackerSnapshot() map[string]*valueTracker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[string]*valueTracker, len(r.trackers))
	for k, v := range r.trackers {
		snap[k] = v
	}
	return snap
}
