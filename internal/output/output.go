// Package output fans surviving items out to the configured destinations
// and flushes each destination once at the end of a run.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/TobiSchelling/feedsweep/internal/app"
	"github.com/TobiSchelling/feedsweep/internal/config"
	"github.com/TobiSchelling/feedsweep/internal/feed"
	"github.com/TobiSchelling/feedsweep/internal/fileutil"
)

// Destination accumulates items during a run and renders them on Flush.
// Calls are never concurrent.
type Destination interface {
	Accumulate(ch *feed.Channel, items []*feed.Item, d *feed.Descriptor) error
	Flush() error
	ContentType() string
}

// Error is a failure of one destination.
type Error struct {
	Destination string
	Op          string
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("output %s: %s: %v", e.Destination, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Factory builds a destination from its configuration section.
type Factory func(env *app.Env, sec config.Section) (Destination, error)

// Registry maps a configured output type to its constructor.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in destinations.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("text", newTextFromConfig)
	r.Register("html", newHTMLFromConfig)
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

// Build creates a destination for every section and adds it to c. Each
// section's type defaults to its name.
func (r *Registry) Build(env *app.Env, secs []config.Section, c *Coordinator) error {
	for _, sec := range secs {
		typ := sec.String("type", sec.Name)
		f, ok := r.factories[typ]
		if !ok {
			return &config.ValidationError{Section: sec.Name, Key: "type", Msg: fmt.Sprintf("unknown output type %q", typ)}
		}
		d, err := f(env, sec)
		if err != nil {
			return fmt.Errorf("creating output %s: %w", sec.Name, err)
		}
		c.Add(sec.Name, d)
	}
	return nil
}

// sink is where a destination writes its rendered output: a file
// replaced atomically, or stdout.
type sink struct {
	path string
	w    io.Writer
}

func sinkFor(sec config.Section) sink {
	if p := sec.String("path", ""); p != "" && p != "-" {
		return sink{path: config.ExpandHome(p)}
	}
	return sink{w: os.Stdout}
}

func (s sink) write(data []byte) error {
	if s.path != "" {
		return fileutil.WriteFile(s.path, data, 0)
	}
	_, err := s.w.Write(data)
	return err
}
