package unitfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/unitctl/core/facts"
	"github.com/dmitrymomot/unitctl/core/reconcile"
	"github.com/dmitrymomot/unitctl/core/unitconf"
	"github.com/dmitrymomot/unitctl/pkg/params"
)

// hostsKey is the match key listing domains in a unit file.
const hostsKey = "hosts"

// RawUnit is one [[unit]] entry as written in the file.
type RawUnit struct {
	ID        string         `toml:"id" yaml:"id"`
	UUID      string         `toml:"uuid" yaml:"uuid"`
	Listeners []string       `toml:"listeners" yaml:"listeners"`
	Match     map[string]any `toml:"match" yaml:"match"`
	Action    map[string]any `toml:"action" yaml:"action"`
}

// File is a parsed unit file.
type File struct {
	Entries []RawUnit `toml:"unit" yaml:"unit"`
}

// Load parses path, picking the decoder by extension.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read unit file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", ".tml":
		return ParseTOML(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
}

// ParseTOML parses a TOML unit file.
func ParseTOML(data []byte) (*File, error) {
	var f File
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return &f, nil
}

// ParseYAML parses a YAML unit file.
func ParseYAML(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return &f, nil
}

// Units converts the file into validated units, in file order.
func (f *File) Units() ([]facts.Unit, error) {
	out := make([]facts.Unit, 0, len(f.Entries))
	for i, raw := range f.Entries {
		u, err := raw.unit()
		if err != nil {
			return nil, fmt.Errorf("unit %d: %w", i, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func (r RawUnit) unit() (facts.Unit, error) {
	cond, err := params.New(r.Match)
	if err != nil {
		return facts.Unit{}, err
	}
	hosts, err := hostList(cond[hostsKey])
	if err != nil {
		return facts.Unit{}, err
	}
	cond = cond.Without(hostsKey)

	var action *facts.Action
	if len(r.Action) > 0 {
		p, err := params.New(r.Action)
		if err != nil {
			return facts.Unit{}, err
		}
		if action, err = facts.NewAction(p); err != nil {
			return facts.Unit{}, err
		}
	}

	id := r.ID
	if id == "" {
		id = r.UUID
	}
	u := facts.Unit{
		ID:        id,
		Match:     facts.Match{Hosts: hosts, Params: cond},
		Action:    action,
		Listeners: r.Listeners,
	}
	if u.IsZero() {
		return u, nil
	}
	return u, u.Validate()
}

func hostList(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, h := range t {
			s, ok := h.(string)
			if !ok {
				return nil, ErrInvalidHosts
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, ErrInvalidHosts
}

// Config is the routing chunk the file contributes to the runtime document,
// without TLS. It is what Engine.Apply merges and Engine.Retract removes.
func (f *File) Config() (unitconf.Config, error) {
	units, err := f.Units()
	if err != nil {
		return unitconf.Config{}, err
	}
	snapshot := make([]facts.Fact, 0, len(units))
	for _, u := range units {
		if u.IsZero() {
			continue
		}
		snapshot = append(snapshot, facts.Fact{Match: u.Match, Action: u.Action, Listeners: u.Listeners})
	}
	return reconcile.Translate(snapshot, nil, nil, time.Time{}), nil
}
