// Package webui renders browsable dashboard pages over the objects wired
// into the connection graph: a thin widget layer on top of internal/webapi's
// object endpoints, supplementing spec §4.F with the page/item/widget model
// the original carries (shc/web.py's WebPage/WebItem/WebWidget).
package webui

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Kind selects a widget's rendering and the input control (if any) it
// offers for writing back to its object.
type Kind string

const (
	KindSwitch  Kind = "switch"
	KindDisplay Kind = "display"
	KindNumber  Kind = "number"
)

// Widget binds one graph object to a rendered control. Object names the
// entry in the object map passed to Registry/Server. A Widget of KindSwitch
// or KindNumber renders a plain input control and KindDisplay a read-only
// value; the rendered markup carries no form or script, so changing an
// input does not write to the object.
type Widget struct {
	ID     string
	Label  string
	Kind   Kind
	Object string
}

var widgetTemplate = template.Must(template.New("widget").Parse(`<div class="shc-widget" data-widget="{{.Kind}}" data-object="{{.Object}}" data-id="{{.ID}}">
  <label>{{.Label}}</label>
  {{.Control}}
  <span class="shc-widget-meta">{{.Meta}}</span>
</div>`))

// widgetView is the template-facing projection of a Widget plus its current
// rendered state.
type widgetView struct {
	ID, Label, Kind, Object string
	Control                 template.HTML
	Meta                    template.HTML
}

// Render produces the widget's HTML fragment given its object's current
// value, the time it last changed (zero if unknown), and any read error.
func (w Widget) Render(value any, changedAt time.Time, readErr error) (template.HTML, error) {
	view := widgetView{
		ID:     w.ID,
		Label:  template.HTMLEscapeString(w.Label),
		Kind:   string(w.Kind),
		Object: w.Object,
	}

	switch {
	case readErr != nil:
		view.Control = template.HTML(fmt.Sprintf(`<span class="shc-error">%s</span>`, template.HTMLEscapeString(readErr.Error())))
	case w.Kind == KindSwitch:
		checked := ""
		if b, ok := value.(bool); ok && b {
			checked = " checked"
		}
		view.Control = template.HTML(fmt.Sprintf(`<input type="checkbox"%s />`, checked))
	case w.Kind == KindNumber:
		view.Control = template.HTML(fmt.Sprintf(`<input type="number" value="%s" />`, template.HTMLEscapeString(fmt.Sprint(value))))
	default:
		view.Control = template.HTML(fmt.Sprintf(`<span class="shc-value">%s</span>`, template.HTMLEscapeString(fmt.Sprint(value))))
	}

	if !changedAt.IsZero() {
		view.Meta = template.HTML(template.HTMLEscapeString(humanize.Time(changedAt)))
	}

	var buf strings.Builder
	if err := widgetTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render widget %s: %w", w.ID, err)
	}
	return template.HTML(buf.String()), nil
}
