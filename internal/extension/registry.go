package extension

import (
	"fmt"
	"sort"

	"github.com/TobiSchelling/feedsweep/internal/app"
	"github.com/TobiSchelling/feedsweep/internal/config"
)

// Factory builds an extension from its configuration section.
type Factory func(env *app.Env, sec config.Section) (Extension, error)

// Registry maps a configured extension type to its constructor.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in extensions.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(EmptySummaryType, newEmptySummary)
	r.Register(SaveAsRSSType, newSaveAsRSS)
	return r
}

// Register adds or replaces the factory for typ.
func (r *Registry) Register(typ string, f Factory) {
	r.factories[typ] = f
}

// Types lists the registered type names.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Build instantiates each configured extension and registers it on a new
// pipeline, in configuration order. A section's type defaults to its name.
func (r *Registry) Build(env *app.Env, secs []config.Section) (*Pipeline, error) {
	p := NewPipeline(env)
	for _, sec := range secs {
		name := sec.String("name", "")
		typ := sec.String("type", name)
		if typ == "" {
			return nil, &config.ValidationError{Section: "extensions", Key: "name", Msg: "extension entries need a name or type"}
		}
		f, ok := r.factories[typ]
		if !ok {
			return nil, &config.ValidationError{Section: sec.Name, Key: "type", Msg: fmt.Sprintf("unknown extension type %q", typ)}
		}
		ext, err := f(env, sec)
		if err != nil {
			return nil, fmt.Errorf("creating extension %s: %w", typ, err)
		}
		if err := p.Register(ext); err != nil {
			return nil, err
		}
	}
	return p, nil
}
