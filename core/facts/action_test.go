package facts_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/unitctl/core/facts"
	"github.com/dmitrymomot/unitctl/pkg/params"
)

func TestNewActionFallbackChain(t *testing.T) {
	t.Parallel()

	a, err := facts.NewAction(params.MustNew(map[string]any{
		"share": []any{"/srv/www$uri"},
		"fallback": map[string]any{
			"proxy": "http://127.0.0.1:8080",
		},
	}))
	require.NoError(t, err)

	require.NotNil(t, a.Fallback)
	assert.Equal(t, 2, a.Depth())
	assert.Equal(t, "http://127.0.0.1:8080", a.Fallback.Params["proxy"])
	assert.NotContains(t, a.Params, "fallback")
	assert.Equal(t, `{"fallback":{"proxy":"http://127.0.0.1:8080"},"share":["/srv/www$uri"]}`, a.Key())
}

func TestNewActionRejectsDeepChain(t *testing.T) {
	t.Parallel()

	p := params.Params{"return": 404}
	for range facts.MaxFallbackDepth + 1 {
		p = params.Params{"proxy": "http://backend", "fallback": p}
	}

	_, err := facts.NewAction(p)
	assert.ErrorIs(t, err, facts.ErrFallbackTooDeep)
}

func TestNewActionRejectsScalarFallback(t *testing.T) {
	t.Parallel()

	_, err := facts.NewAction(params.Params{"share": "/srv", "fallback": "nope"})
	assert.ErrorIs(t, err, facts.ErrInvalidFallback)
}

func TestActionJSONWireForm(t *testing.T) {
	t.Parallel()

	var a facts.Action
	require.NoError(t, json.Unmarshal([]byte(`{"share":["/www"],"fallback":{"return":404}}`), &a))
	require.NotNil(t, a.Fallback)

	out, err := json.Marshal(&a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"share":["/www"],"fallback":{"return":404}}`, string(out))
}

func TestActionEqual(t *testing.T) {
	t.Parallel()

	a := &facts.Action{Params: params.Params{"proxy": "http://a"}}
	b := &facts.Action{Params: params.Params{"proxy": "http://a"}}
	c := &facts.Action{Params: params.Params{"proxy": "http://b"}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
	assert.True(t, (*facts.Action)(nil).Equal(nil))
	assert.True(t, (*facts.Action)(nil).IsZero())
}
