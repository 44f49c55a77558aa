package params_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/unitctl/pkg/params"
)

func TestCanonicalSortsKeys(t *testing.T) {
	t.Parallel()

	a := params.MustNew(map[string]any{"uri": "/api", "host": "example.com"})
	b := params.MustNew(map[string]any{"host": "example.com", "uri": "/api"})

	assert.Equal(t, `{"host":"example.com","uri":"/api"}`, a.Canonical())
	assert.True(t, a.Equal(b))
	assert.Equal(t, 0, a.Compare(b))
}

func TestCanonicalEmpty(t *testing.T) {
	t.Parallel()

	var p params.Params
	assert.Equal(t, "{}", p.Canonical())
	assert.True(t, p.Equal(params.Params{}))
}

func TestNormalizeDecoderTypes(t *testing.T) {
	t.Parallel()

	fromTOML := params.MustNew(map[string]any{
		"return": int64(301),
		"share":  []any{"/srv/www"},
		"nested": map[string]any{"depth": int64(2)},
	})
	fromJSON := params.Params{}
	require.NoError(t, json.Unmarshal([]byte(`{"return":301,"share":["/srv/www"],"nested":{"depth":2}}`), &fromJSON))

	assert.True(t, fromTOML.Equal(fromJSON), "%s != %s", fromTOML.Canonical(), fromJSON.Canonical())
}

func TestNormalizeYAMLAnyKeys(t *testing.T) {
	t.Parallel()

	v, err := params.Normalize(map[any]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, params.Params{"a": float64(1)}, v)

	_, err = params.Normalize(map[any]any{1: "x"})
	assert.ErrorIs(t, err, params.ErrUnsupportedValue)
}

func TestNormalizeTime(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	v, err := params.Normalize(ts)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T03:04:05Z", v)
}

func TestNormalizeUnsupported(t *testing.T) {
	t.Parallel()

	_, err := params.New(map[string]any{"ch": make(chan int)})
	assert.ErrorIs(t, err, params.ErrUnsupportedValue)
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := params.MustNew(map[string]any{"nested": map[string]any{"k": "v"}, "list": []any{"a"}})
	cp := orig.Clone()

	nested, ok := cp.Map("nested")
	require.True(t, ok)
	nested["k"] = "changed"
	cp["list"].([]any)[0] = "b"

	assert.Equal(t, `{"list":["a"],"nested":{"k":"v"}}`, orig.Canonical())
}

func TestWithAndWithout(t *testing.T) {
	t.Parallel()

	p := params.MustNew(map[string]any{"uri": "/"})
	q, err := p.With("host", "example.com")
	require.NoError(t, err)
	assert.Equal(t, q, p.WithString("host", "example.com"))
	assert.Equal(t, `{"host":"example.com","uri":"/"}`, q.Canonical())
	assert.Equal(t, `{"uri":"/"}`, p.Canonical())

	r := q.Without("uri")
	assert.Equal(t, `{"host":"example.com"}`, r.Canonical())
	assert.Equal(t, []string{"host", "uri"}, q.Keys())
}

func TestMarshalNilAsObject(t *testing.T) {
	t.Parallel()

	var p params.Params
	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))
}

func TestWithRejectsUnsupportedValue(t *testing.T) {
	t.Parallel()

	p := params.MustNew(map[string]any{"uri": "/"})
	q, err := p.With("ch", make(chan int))
	assert.ErrorIs(t, err, params.ErrUnsupportedValue)
	assert.Nil(t, q)
	assert.Equal(t, `{"uri":"/"}`, p.Canonical())
}

func TestLargeIntegersRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "small int64", value: int64(301), want: `{"n":301}`},
		{name: "exact float boundary", value: int64(1 << 53), want: `{"n":9007199254740992}`},
		{name: "int64 past 2^53", value: int64(1<<53 + 1), want: `{"n":9007199254740993}`},
		{name: "max int64", value: int64(9223372036854775807), want: `{"n":9223372036854775807}`},
		{name: "min int64", value: int64(-9223372036854775808), want: `{"n":-9223372036854775808}`},
		{name: "max uint64", value: uint64(18446744073709551615), want: `{"n":18446744073709551615}`},
		{name: "fraction", value: 1.5, want: `{"n":1.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := params.New(map[string]any{"n": tt.value})
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Canonical())

			var back params.Params
			require.NoError(t, json.Unmarshal([]byte(p.Canonical()), &back))
			assert.True(t, p.Equal(back), "%s != %s", p.Canonical(), back.Canonical())
		})
	}
}
