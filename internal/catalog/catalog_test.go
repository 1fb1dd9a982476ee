// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"errors"
	"testing"

	"github.com/d-gangz/glowing-braintrust/internal/invoke"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
model: gpt-4o-mini
prompts:
  - project: workflow-glowing
    slug: storyoutline-geminiFlash001
    system: You outline short stories.
    user: "Outline a {{.genre}} story set {{.context}}."
  - project: workflow-glowing
    slug: story-4omini
    model: gpt-4.1
    user: "Write the story: {{.outline}}"
`

func TestParseAndRender(t *testing.T) {
	c, err := Parse([]byte(testCatalog))
	require.NoError(t, err)

	r, err := c.Render("workflow-glowing", "storyoutline-geminiFlash001", invoke.Input{"genre": "romance", "context": "in Paris"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", r.Model)
	assert.Equal(t, "You outline short stories.", r.SystemText)
	assert.Equal(t, "Outline a romance story set in Paris.", r.UserText)

	r, err = c.Render("workflow-glowing", "story-4omini", nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", r.Model)
	assert.Empty(t, r.SystemText)
	assert.Equal(t, "Write the story: ", r.UserText)
}

func TestRenderUnknownPrompt(t *testing.T) {
	c, err := Parse([]byte(testCatalog))
	require.NoError(t, err)

	_, err = c.Render("workflow-glowing", "nope", nil)
	assert.True(t, errors.Is(err, ErrUnknownPrompt))
	assert.False(t, c.Has("workflow-glowing", "nope"))
	assert.True(t, c.Has("workflow-glowing", "story-4omini"))
}

func TestParseRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "missing slug", raw: "prompts:\n  - project: p\n"},
		{name: "duplicate", raw: "prompts:\n  - {project: p, slug: s}\n  - {project: p, slug: s}\n"},
		{name: "bad template", raw: "prompts:\n  - {project: p, slug: s, user: \"{{.x\"}\n"},
		{name: "bad yaml", raw: "prompts: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			require.Error(t, err)
		})
	}
}
