package webui

import (
	"context"
	"strings"
	"testing"

	"github.com/shc-project/shc/internal/base"
	"github.com/shc-project/shc/internal/config"
	"github.com/shc-project/shc/internal/variable"
)

func TestBuildRejectsUnknownObject(t *testing.T) {
	cfg := config.UIConfig{Pages: []config.PageDecl{{
		Name: "home",
		Items: []config.ItemDecl{{
			Widgets: []config.WidgetDecl{{ID: "w1", Kind: "switch", Object: "missing"}},
		}},
	}}}
	if _, err := Build(cfg, map[string]any{}); err == nil {
		t.Fatal("expected an error for a widget referencing an unknown object")
	}
}

func TestBuildRejectsUnknownKind(t *testing.T) {
	v := variable.New[bool]("light")
	cfg := config.UIConfig{Pages: []config.PageDecl{{
		Name: "home",
		Items: []config.ItemDecl{{
			Widgets: []config.WidgetDecl{{ID: "w1", Kind: "dial", Object: "light"}},
		}},
	}}}
	if _, err := Build(cfg, map[string]any{"light": v}); err == nil {
		t.Fatal("expected an error for an unrecognised widget kind")
	}
}

func TestPageRenderIncludesWidgetAndDescription(t *testing.T) {
	v := variable.New[bool]("light")
	if err := v.Write(context.Background(), true, base.NewOrigin()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	cfg := config.UIConfig{
		IndexPage: "home",
		Pages: []config.PageDecl{{
			Name:  "home",
			Title: "Home",
			Items: []config.ItemDecl{{
				Description: "**Living room**",
				Widgets:     []config.WidgetDecl{{ID: "light1", Label: "Light", Kind: "switch", Object: "light"}},
			}},
		}},
	}

	registry, err := Build(cfg, map[string]any{"light": v})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	page, ok := registry.Page("home")
	if !ok {
		t.Fatal("expected page 'home' to be registered")
	}

	body, err := page.Render(registry.trackerSnapshot())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	html := string(body)
	if !strings.Contains(html, "data-widget=\"switch\"") {
		t.Errorf("rendered page missing switch widget: %s", html)
	}
	if !strings.Contains(html, "checked") {
		t.Errorf("rendered page should show the switch checked for a true value: %s", html)
	}
	if !strings.Contains(html, "<strong>Living room</strong>") {
		t.Errorf("rendered page missing goldmark-rendered description: %s", html)
	}
}

func TestValueTrackerObservesWrites(t *testing.T) {
	v := variable.New[bool]("light")
	tracker := newValueTracker(v)

	if err := v.Write(context.Background(), true, base.NewOrigin()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	value, changedAt, err := tracker.snapshot()
	if err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	if value != true {
		t.Errorf("tracker value = %v, want true", value)
	}
	if changedAt.IsZero() {
		t.Error("expected changedAt to be set after a write")
	}
}
