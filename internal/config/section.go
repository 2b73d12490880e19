package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Param is one configuration key with its values. Scalars have exactly
// one value; lists have one value per element.
type Param struct {
	Key    string
	Values []string
}

// Section is an ordered list of params plus a lookup index. Copies of a
// section built by NewSection share the record of which keys were read.
type Section struct {
	Name   string
	Params []Param
	index  map[string]int
	used   map[string]bool
}

// NewSection builds a section from params in the given order. A repeated
// key replaces the earlier value in place.
func NewSection(name string, params ...Param) Section {
	s := Section{Name: name, used: make(map[string]bool)}
	for _, p := range params {
		s.Set(p.Key, p.Values...)
	}
	return s
}

// Set replaces or appends key.
func (s *Section) Set(key string, values ...string) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if i, ok := s.index[key]; ok {
		s.Params[i].Values = values
		return
	}
	s.index[key] = len(s.Params)
	s.Params = append(s.Params, Param{Key: key, Values: values})
}

// Has reports whether key is present.
func (s *Section) Has(key string) bool {
	_, ok := s.index[key]
	return ok
}

// Values returns every value of key and records that key was read.
func (s *Section) Values(key string) []string {
	i, ok := s.index[key]
	if !ok {
		return nil
	}
	if s.used == nil {
		s.used = make(map[string]bool)
	}
	s.used[key] = true
	return s.Params[i].Values
}

// Unused lists the keys nobody has read, in section order.
func (s *Section) Unused() []string {
	var out []string
	for _, p := range s.Params {
		if !s.used[p.Key] {
			out = append(out, p.Key)
		}
	}
	return out
}

// Get returns the first value of key.
func (s *Section) Get(key string) (string, bool) {
	v := s.Values(key)
	if len(v) == 0 {
		return "", s.Has(key)
	}
	return v[0], true
}

// String returns key's value or def.
func (s *Section) String(key, def string) string {
	if v, ok := s.Get(key); ok && v != "" {
		return v
	}
	return def
}

// Bool parses key as a boolean, returning def when absent.
func (s *Section) Bool(key string, def bool) (bool, error) {
	v, ok := s.Get(key)
	if !ok || v == "" {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}
	return def, s.invalid(key, "want a boolean, got %q", v)
}

// Int parses key as an integer, returning def when absent.
func (s *Section) Int(key string, def int) (int, error) {
	v, ok := s.Get(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, s.invalid(key, "want an integer, got %q", v)
	}
	return n, nil
}

// Duration parses key as a Go duration, or as whole seconds.
func (s *Section) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := s.Get(key)
	if !ok || v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, s.invalid(key, "want a duration, got %q", v)
	}
	return d, nil
}

func (s *Section) invalid(key, format string, args ...any) error {
	return &ValidationError{Section: s.Name, Key: key, Msg: fmt.Sprintf(format, args...)}
}

// Document is a parsed configuration file before interpretation.
type Document struct {
	Main       Section
	Feeds      []Section
	Outputs    []Section
	Extensions []Section
}

// Format selects the file syntax.
type Format int

const (
	FormatYAML Format = iota
	FormatTOML
)

// FormatFor picks a format from a file name's extension.
func FormatFor(path string) Format {
	if strings.HasSuffix(strings.ToLower(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// ParseDocument parses data. YAML keeps document key order; TOML keys
// are sorted lexically.
func ParseDocument(data []byte, format Format) (*Document, error) {
	if format == FormatTOML {
		return parseTOML(data)
	}
	return parseYAML(data)
}

func parseYAML(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	doc := &Document{Main: NewSection("main")}
	if len(root.Content) == 0 {
		return doc, nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, &ValidationError{Msg: "top level must be a mapping"}
	}

	for i := 0; i+1 < len(top.Content); i += 2 {
		key, val := top.Content[i].Value, top.Content[i+1]
		switch key {
		case "main":
			sec, err := yamlSection("main", val)
			if err != nil {
				return nil, err
			}
			doc.Main = sec
		case "feeds", "outputs", "extensions":
			secs, err := yamlSections(key, val)
			if err != nil {
				return nil, err
			}
			switch key {
			case "feeds":
				doc.Feeds = secs
			case "outputs":
				doc.Outputs = secs
			default:
				doc.Extensions = secs
			}
		default:
			return nil, &ValidationError{Key: key, Msg: "unknown top-level key"}
		}
	}
	return doc, nil
}

func yamlSections(group string, n *yaml.Node) ([]Section, error) {
	if n.Tag == "!!null" {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, &ValidationError{Section: group, Msg: "must be a list"}
	}
	out := make([]Section, 0, len(n.Content))
	for i, item := range n.Content {
		sec, err := yamlSection(fmt.Sprintf("%s[%d]", group, i), item)
		if err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, nil
}

func yamlSection(name string, n *yaml.Node) (Section, error) {
	sec := NewSection(name)
	if n.Tag == "!!null" {
		return sec, nil
	}
	if n.Kind != yaml.MappingNode {
		return sec, &ValidationError{Section: name, Msg: "must be a mapping"}
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			if val.Tag == "!!null" {
				sec.Set(key)
			} else {
				sec.Set(key, val.Value)
			}
		case yaml.SequenceNode:
			values := make([]string, 0, len(val.Content))
			for _, el := range val.Content {
				if el.Kind != yaml.ScalarNode {
					return sec, &ValidationError{Section: name, Key: key, Msg: "list elements must be scalars"}
				}
				values = append(values, el.Value)
			}
			sec.Set(key, values...)
		default:
			return sec, &ValidationError{Section: name, Key: key, Msg: "nested mappings are not supported"}
		}
	}
	return sec, nil
}

type tomlFile struct {
	Main       map[string]any   `toml:"main"`
	Feeds      []map[string]any `toml:"feeds"`
	Outputs    []map[string]any `toml:"outputs"`
	Extensions []map[string]any `toml:"extensions"`
}

func parseTOML(data []byte) (*Document, error) {
	var raw tomlFile
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, &ValidationError{Key: undecoded[0].String(), Msg: "unknown top-level key"}
	}

	doc := &Document{}
	if doc.Main, err = tomlSection("main", raw.Main); err != nil {
		return nil, err
	}
	groups := []struct {
		name string
		in   []map[string]any
		out  *[]Section
	}{
		{"feeds", raw.Feeds, &doc.Feeds},
		{"outputs", raw.Outputs, &doc.Outputs},
		{"extensions", raw.Extensions, &doc.Extensions},
	}
	for _, g := range groups {
		for i, m := range g.in {
			sec, err := tomlSection(fmt.Sprintf("%s[%d]", g.name, i), m)
			if err != nil {
				return nil, err
			}
			*g.out = append(*g.out, sec)
		}
	}
	return doc, nil
}

func tomlSection(name string, m map[string]any) (Section, error) {
	sec := NewSection(name)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := m[k].(type) {
		case []any:
			values := make([]string, 0, len(v))
			for _, el := range v {
				s, ok := tomlScalar(el)
				if !ok {
					return sec, &ValidationError{Section: name, Key: k, Msg: "list elements must be scalars"}
				}
				values = append(values, s)
			}
			sec.Set(k, values...)
		default:
			s, ok := tomlScalar(v)
			if !ok {
				return sec, &ValidationError{Section: name, Key: k, Msg: "nested tables are not supported"}
			}
			sec.Set(k, s)
		}
	}
	return sec, nil
}

func tomlScalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	case time.Time:
		return x.Format(time.RFC3339), true
	}
	return "", false
}
