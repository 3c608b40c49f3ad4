package webui

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/yuin/goldmark"
)

var zeroTime time.Time

// Item is one entry on a Page: an optional Markdown description block
// (rendered through goldmark) followed by the widgets it groups — the
// analogue of the original's WebItem, generalized beyond a single widget
// per item.
type Item struct {
	Description string
	Widgets     []Widget
}

// Page is a named, ordered list of items, the unit the web UI is browsed
// by (one page per URL path segment) — the analogue of the original's
// WebPage.
type Page struct {
	Name  string
	Title string
	Items []Item
}

// Render produces the page body (without the surrounding <html> document)
// by rendering each item's description and widgets in order. trackers maps
// an object name to the valueTracker Registry keeps for it.
func (p *Page) Render(trackers map[string]*valueTracker) (template.HTML, error) {
	var buf bytes.Buffer
	for itemIdx, item := range p.Items {
		if item.Description != "" {
			if err := goldmark.Convert([]byte(item.Description), &buf); err != nil {
				return "", fmt.Errorf("page %s: render item %d description: %w", p.Name, itemIdx, err)
			}
			buf.WriteByte('\n')
		}
		for _, w := range item.Widgets {
			tracker := trackers[w.Object]
			var (
				value     any
				changedAt = zeroTime
				err       error
			)
			if tracker == nil {
				err = fmt.Errorf("object %q not found", w.Object)
			} else {
				value, changedAt, err = tracker.snapshot()
			}
			html, rerr := w.Render(value, changedAt, err)
			if rerr != nil {
				return "", rerr
			}
			buf.WriteString(string(html))
			buf.WriteByte('\n')
		}
	}
	return template.HTML(buf.String()), nil
}
