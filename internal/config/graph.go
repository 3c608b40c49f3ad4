package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shc-project/shc/internal/base"
	"github.com/shc-project/shc/internal/conversion"
	"github.com/shc-project/shc/internal/datalog"
	"github.com/shc-project/shc/internal/timer"
	"github.com/shc-project/shc/internal/variable"
)

// GraphConfig is the declarative wiring section named by SPEC_FULL.md §5: a
// list of object declarations and a list of connect pairs resolved by name
// once every object exists. internal/base never imports this package —
// Graph only ever hands the resolved pair to conversion.Registry.ConnectTyped,
// which wires the subscriptions and provider links itself.
type GraphConfig struct {
	Objects []ObjectDecl     `yaml:"objects"`
	Connect []ConnectionPair `yaml:"connect"`
}

// ObjectDecl declares one named connectable. Type selects which package
// constructs it; ValueType selects the Go type parameter for "variable" and
// "datalog" objects, one of "bool", "int", "float" or "string" — the set of
// primitive value types a YAML-declared object can hold without a custom
// Go type registered at compile time.
type ObjectDecl struct {
	Name      string     `yaml:"name"`
	Type      string     `yaml:"type"` // "variable", "datalog", "timer"
	ValueType string     `yaml:"value_type,omitempty"`
	Timer     *TimerDecl `yaml:"timer,omitempty"`
}

// TimerDecl configures a "timer"-typed object.
type TimerDecl struct {
	IntervalMS int64 `yaml:"interval_ms"`
	Align      bool  `yaml:"align"`
}

// ConnectionPair is one `connect: [a, b]` entry, joined through
// conversion.Registry.ConnectTyped once both names resolve.
type ConnectionPair struct {
	From string
	To   string
}

// UnmarshalYAML accepts the two-element sequence form `[a, b]`.
func (p *ConnectionPair) UnmarshalYAML(value *yaml.Node) error {
	var pair [2]string
	if err := value.Decode(&pair); err != nil {
		return fmt.Errorf("connect entry must be a two-element list of object names: %w", err)
	}
	p.From, p.To = pair[0], pair[1]
	return nil
}

// Validate checks the graph's internal consistency: every object name is
// unique, every declared type/value_type combination is recognised, and
// every connect pair references a declared object. It does not check
// capability compatibility between connected objects — that is discovered
// at Build time by conversion.Registry.ConnectTyped, which reports a precise
// ErrNoCapabilityMatch.
func (g GraphConfig) Validate() error {
	seen := make(map[string]bool, len(g.Objects))
	for _, obj := range g.Objects {
		if obj.Name == "" {
			return fmt.Errorf("%w: object with an empty name", base.ErrConfiguration)
		}
		if seen[obj.Name] {
			return fmt.Errorf("%w: duplicate object name %q", base.ErrConfiguration, obj.Name)
		}
		seen[obj.Name] = true

		switch obj.Type {
		case "variable", "datalog":
			switch obj.ValueType {
			case "bool", "int", "float", "string":
			default:
				return fmt.Errorf("%w: object %q: unsupported value_type %q", base.ErrConfiguration, obj.Name, obj.ValueType)
			}
		case "timer":
			if obj.Timer == nil || obj.Timer.IntervalMS <= 0 {
				return fmt.Errorf("%w: object %q: timer objects need timer.interval_ms > 0", base.ErrConfiguration, obj.Name)
			}
		default:
			return fmt.Errorf("%w: object %q: unsupported type %q", base.ErrConfiguration, obj.Name, obj.Type)
		}
	}

	for _, c := range g.Connect {
		if !seen[c.From] {
			return fmt.Errorf("%w: connect references undeclared object %q", base.ErrConfiguration, c.From)
		}
		if !seen[c.To] {
			return fmt.Errorf("%w: connect references undeclared object %q", base.ErrConfiguration, c.To)
		}
	}
	return nil
}

// Startable is implemented by every object that owns a background run loop
// (a timer) and must be started after wiring and stopped at shutdown.
type Startable interface {
	Start()
	Stop()
}

// Built is the result of resolving a Graph: every declared object keyed by
// name, and the subset that needs Start/Stop called around its lifetime.
type Built struct {
	Objects    map[string]any
	Startables []Startable
}

// Build constructs every declared object, wires every connect pair through
// a conversion.Registry (so mismatched-type edges resolve a converter
// automatically instead of requiring one to be spelled out per pair), and
// returns the result. store backs every "datalog" object; the caller owns
// its lifetime (shcd keeps one store open for the process).
func (g GraphConfig) Build(store datalog.Store, logger *slog.Logger) (*Built, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	built := &Built{Objects: make(map[string]any, len(g.Objects))}

	for _, obj := range g.Objects {
		constructed, startable, err := buildObject(obj, store, logger)
		if err != nil {
			return nil, fmt.Errorf("object %q: %w", obj.Name, err)
		}
		built.Objects[obj.Name] = constructed
		if startable != nil {
			built.Startables = append(built.Startables, startable)
		}
	}

	registry := conversion.NewRegistry()
	for _, c := range g.Connect {
		if err := registry.ConnectTyped(built.Objects[c.From], built.Objects[c.To]); err != nil {
			return nil, fmt.Errorf("connect %q <-> %q: %w", c.From, c.To, err)
		}
	}

	return built, nil
}

func buildObject(obj ObjectDecl, store datalog.Store, logger *slog.Logger) (any, Startable, error) {
	switch obj.Type {
	case "variable":
		switch obj.ValueType {
		case "bool":
			return variable.New[bool](obj.Name), nil, nil
		case "int":
			return variable.New[int64](obj.Name), nil, nil
		case "float":
			return variable.New[float64](obj.Name), nil, nil
		case "string":
			return variable.New[string](obj.Name), nil, nil
		}
	case "datalog":
		switch obj.ValueType {
		case "bool":
			return datalog.NewWritable[bool](obj.Name, store, nil, logger), nil, nil
		case "int":
			return datalog.NewWritable[int64](obj.Name, store, nil, logger), nil, nil
		case "float":
			return datalog.NewWritable[float64](obj.Name, store, nil, logger), nil, nil
		case "string":
			return datalog.NewWritable[string](obj.Name, store, nil, logger), nil, nil
		}
	case "timer":
		schedule := timer.Every{
			Delta: time.Duration(obj.Timer.IntervalMS) * time.Millisecond,
			Align: obj.Timer.Align,
		}
		t := timer.New(obj.Name, schedule, logger)
		return t, t, nil
	}
	return nil, nil, fmt.Errorf("unreachable: type %q value_type %q should have been rejected by Validate", obj.Type, obj.ValueType)
}
