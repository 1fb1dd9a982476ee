// SPDX-License-Identifier: Apache-2.0

package eval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/d-gangz/glowing-braintrust/internal/invoke"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineLoadReturnsCopy(t *testing.T) {
	d := Inline{{ID: "a", Input: invoke.Input{"genre": "romance"}}}

	cases, err := d.Load(context.Background())
	require.NoError(t, err)
	cases[0].ID = "changed"

	assert.Equal(t, "a", d[0].ID)
}

func TestLazyFetchesOnce(t *testing.T) {
	calls := 0
	d := NewLazy(func(context.Context) ([]Case, error) {
		calls++
		return []Case{{ID: "one"}}, nil
	})

	for range 3 {
		cases, err := d.Load(context.Background())
		require.NoError(t, err)
		require.Len(t, cases, 1)
	}
	assert.Equal(t, 1, calls)
}

func TestLazyRetriesAfterFailure(t *testing.T) {
	calls := 0
	d := NewLazy(func(context.Context) ([]Case, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("timeout")
		}
		return []Case{{ID: "one"}}, nil
	})

	_, err := d.Load(context.Background())
	require.Error(t, err)

	cases, err := d.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, cases, 1)
	assert.Equal(t, 2, calls)
}

func TestFileDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stories.yaml")
	raw := `- id: first
  input:
    genre: romance
    context: a small town
  expected: a love story
- input:
    genre: thriller
  metadata:
    source: manual
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cases, err := File(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, cases, 2)

	assert.Equal(t, "first", cases[0].ID)
	assert.Equal(t, invoke.Input{"genre": "romance", "context": "a small town"}, cases[0].Input)
	assert.Equal(t, "a love story", cases[0].Expected)
	assert.Equal(t, "manual", cases[1].Metadata["source"])
}

func TestFileDatasetMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "nope.yaml")).Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
