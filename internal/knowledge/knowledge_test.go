package knowledge

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/tree"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want []string
	}{
		{"simple", "a.b.c", []string{"a", "b", "c"}},
		{"single", "alpha", []string{"alpha"}},
		{"empty", "", nil},
		{"double quoted dot", `people."J. Doe".trust`, []string{"people", "J. Doe", "trust"}},
		{"single quoted", "notes.'v1.2'.text", []string{"notes", "v1.2", "text"}},
		{"trailing dot", "a.b.", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePath(tt.path)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParsePath(%q) mismatch (-want +got):\n%s", tt.path, diff)
			}
		})
	}
}

func TestSetGet(t *testing.T) {
	s := New()
	require.True(t, s.Set("profile.name", "Ada"))
	require.True(t, s.Set("profile.age", 36.0))
	assert.Equal(t, "Ada", s.Get("profile.name"))
	assert.Equal(t, 36.0, s.Get("profile.age"))
	assert.Nil(t, s.Get("profile.missing"))
	assert.Nil(t, s.Get("nope.deep.path"))

	// Intermediate objects are created on demand.
	require.True(t, s.Set("a.b.c.d", true))
	assert.Equal(t, true, s.Get("a.b.c.d"))

	// Cannot traverse through a scalar.
	assert.False(t, s.Set("profile.name.sub", 1))
	assert.False(t, s.Set("", 1))
}

func TestSetWeighted(t *testing.T) {
	s := New()
	require.True(t, s.SetWeighted("beliefs.sky", "blue", 0.8))
	got, ok := s.Get("beliefs.sky").(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "blue", got["v"])
	assert.Equal(t, 0.8, got["w"])

	// Out-of-range weights clamp.
	require.True(t, s.SetWeighted("beliefs.up", 1, 1.7))
	assert.Equal(t, 1.0, s.Get("beliefs.up").(map[string]any)["w"])
	require.True(t, s.SetWeighted("beliefs.down", 1, -0.3))
	assert.Equal(t, 0.0, s.Get("beliefs.down").(map[string]any)["w"])
}

func TestDelete(t *testing.T) {
	s := New()
	require.True(t, s.Set("a.b", 1))
	require.True(t, s.Set("a.c", 2))
	assert.True(t, s.Delete("a.b"))
	assert.Nil(t, s.Get("a.b"))
	assert.Equal(t, 2, s.Get("a.c"))
	assert.False(t, s.Delete("a.b"))
	assert.False(t, s.Delete("missing.path"))
	assert.False(t, s.Delete(""))
}

func TestDeleteArrayElement(t *testing.T) {
	s := New()
	require.True(t, s.Set("list", []any{"x", "y", "z"}))
	require.True(t, s.Delete("list.1"))
	if diff := cmp.Diff([]any{"x", "z"}, s.Get("list")); diff != "" {
		t.Errorf("after delete (-want +got):\n%s", diff)
	}
	assert.False(t, s.Delete("list.9"))
}

func TestAppend(t *testing.T) {
	s := New()

	// Missing path becomes a one-element array.
	require.True(t, s.Append("log", "first"))
	assert.Equal(t, []any{"first"}, s.Get("log"))

	// Existing array grows.
	require.True(t, s.Append("log", "second"))
	assert.Equal(t, []any{"first", "second"}, s.Get("log"))

	// Scalar promotes to a two-element array.
	require.True(t, s.Set("note", "old"))
	require.True(t, s.Append("note", "new"))
	assert.Equal(t, []any{"old", "new"}, s.Get("note"))
}

func TestJSONRoundTrip(t *testing.T) {
	s := New()
	require.True(t, s.Set("profile.name", "Ada"))
	require.True(t, s.Append("tags", "x"))
	out, err := s.ToJSON()
	require.NoError(t, err)

	back := FromJSON(out)
	assert.Equal(t, "Ada", back.Get("profile.name"))
	assert.Equal(t, []any{"x"}, back.Get("tags"))
}

func TestFromJSONCorrupt(t *testing.T) {
	assert.Empty(t, FromJSON("").Raw())
	assert.Empty(t, FromJSON("{not json").Raw())
	assert.Empty(t, FromJSON("null").Raw())
}

func TestTreeCyclic(t *testing.T) {
	s := New()
	inner := map[string]any{"name": "loop"}
	inner["self"] = inner
	s.Raw()["cyc"] = inner

	n := s.Tree()
	cyc := n.Get("cyc")
	require.NotNil(t, cyc)
	self := cyc.Get("self")
	require.NotNil(t, self)
	assert.Equal(t, tree.KindString, self.Kind)
	assert.Equal(t, tree.ErrorMarker, self.Str)
}
