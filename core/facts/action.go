package facts

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrymomot/unitctl/pkg/params"
)

// MaxFallbackDepth bounds the length of an action's fallback chain.
const MaxFallbackDepth = 8

const fallbackKey = "fallback"

// Action is the effect applied when a match is selected: proxy, share,
// chroot, rewrite, pass, return and so on. Fallback chains a second action
// that runs when the first one cannot serve the request.
//
// Actions are immutable once built; identity is the canonical encoding.
type Action struct {
	Params   params.Params
	Fallback *Action
}

// NewAction builds an action from a flat parameter map. A nested "fallback"
// object becomes the Fallback chain.
func NewAction(p params.Params) (*Action, error) {
	return newAction(p, 0)
}

func newAction(p params.Params, depth int) (*Action, error) {
	if depth > MaxFallbackDepth {
		return nil, ErrFallbackTooDeep
	}
	a := &Action{Params: p.Without(fallbackKey)}
	raw, ok := p[fallbackKey]
	if !ok || raw == nil {
		return a, nil
	}
	fb, ok := p.Map(fallbackKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrInvalidFallback, raw)
	}
	next, err := newAction(fb, depth+1)
	if err != nil {
		return nil, err
	}
	a.Fallback = next
	return a, nil
}

// IsZero reports whether the action carries no parameters at all.
func (a *Action) IsZero() bool {
	return a == nil || (len(a.Params) == 0 && a.Fallback == nil)
}

// Flatten returns the wire form: the action params with the fallback chain
// nested under "fallback".
func (a *Action) Flatten() params.Params {
	if a == nil {
		return nil
	}
	out := a.Params.Clone()
	if out == nil {
		out = params.Params{}
	}
	if a.Fallback != nil {
		out[fallbackKey] = a.Fallback.Flatten()
	}
	return out
}

// Key is the canonical identity of the action.
func (a *Action) Key() string {
	if a == nil {
		return ""
	}
	return a.Flatten().Canonical()
}

// Equal compares two actions structurally. Two nil actions are equal.
func (a *Action) Equal(o *Action) bool {
	if a == nil || o == nil {
		return a == nil && o == nil
	}
	return a.Key() == o.Key()
}

// Depth returns the number of actions in the chain.
func (a *Action) Depth() int {
	n := 0
	for cur := a; cur != nil; cur = cur.Fallback {
		n++
	}
	return n
}

// MarshalJSON encodes the action in its flat wire form.
func (a *Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Flatten())
}

// UnmarshalJSON decodes a flat wire-form action and validates the chain.
func (a *Action) UnmarshalJSON(data []byte) error {
	var p params.Params
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	parsed, err := NewAction(p)
	if err != nil {
		return err
	}
	*a = *parsed
	return nil
}
