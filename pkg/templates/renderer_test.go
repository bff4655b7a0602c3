package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRendererLoadsAll(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	for _, name := range All {
		out, err := r.Render(name, &TemplateData{Extra: map[string]any{}})
		require.NoError(t, err, name)
		assert.Contains(t, out, "```json", name)
	}
}

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer()
	require.NoError(t, err)
	return r
}

func TestRenderCoordinator(t *testing.T) {
	r := newRenderer(t)
	out, err := r.Render(CoordinatorTemplate, &TemplateData{
		Roles:       []string{"planner", "reviewer"},
		Instruction: "be brief",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Available roles: planner, reviewer.")
	assert.Contains(t, out, "Additional direction: be brief")
}

func TestRenderImplementerEdit(t *testing.T) {
	r := newRenderer(t)
	out, err := r.Render(ImplementerEditTemplate, &TemplateData{
		Reason: "tests failed",
		Extra: map[string]any{
			"File":        "a.ts",
			"Description": "rename foo",
			"Hints":       []string{"keep exports", "exit 1: cannot find name"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "File: `a.ts`")
	assert.Contains(t, out, "- hint: exit 1: cannot find name")
	assert.Contains(t, out, "rejected: tests failed")
	assert.NotContains(t, out, "planner answered")
}

func TestRenderNilData(t *testing.T) {
	r := newRenderer(t)
	out, err := r.Render(PlannerTemplate, nil)
	require.NoError(t, err)
	assert.Contains(t, out, `{"actions": []}`)
}

func TestRenderUnknownTemplate(t *testing.T) {
	r := newRenderer(t)
	_, err := r.Render("missing.tpl.md", nil)
	assert.Error(t, err)
}
