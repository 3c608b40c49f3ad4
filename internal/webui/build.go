package webui

import (
	"fmt"

	"github.com/shc-project/shc/internal/config"
)

// Build constructs a Registry from a UIConfig's declared pages, wiring each
// widget's valueTracker against the connection graph's built objects.
func Build(cfg config.UIConfig, objects map[string]any) (*Registry, error) {
	registry := NewRegistry()
	for _, pageDecl := range cfg.Pages {
		page := &Page{Name: pageDecl.Name, Title: pageDecl.Title}
		for _, itemDecl := range pageDecl.Items {
			item := Item{Description: itemDecl.Description}
			for _, widgetDecl := range itemDecl.Widgets {
				kind, err := parseKind(widgetDecl.Kind)
				if err != nil {
					return nil, fmt.Errorf("page %s: widget %s: %w", pageDecl.Name, widgetDecl.ID, err)
				}
				item.Widgets = append(item.Widgets, Widget{
					ID:     widgetDecl.ID,
					Label:  widgetDecl.Label,
					Kind:   kind,
					Object: widgetDecl.Object,
				})
			}
			page.Items = append(page.Items, item)
		}
		if err := registry.AddPage(page, objects); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func parseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSwitch, KindDisplay, KindNumber:
		return Kind(s), nil
	case "":
		return KindDisplay, nil
	default:
		return "", fmt.Errorf("unknown widget kind %q", s)
	}
}
