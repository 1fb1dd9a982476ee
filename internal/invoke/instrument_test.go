// SPDX-License-Identifier: Apache-2.0

package invoke_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/d-gangz/glowing-braintrust/internal/invoke"
	"github.com/d-gangz/glowing-braintrust/internal/invoke/invoketest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInstrumentPassesResultsThrough(t *testing.T) {
	fake := invoketest.NewInvoker().Returns("story-4omini", invoke.Text("the end"))
	inv := invoke.Instrument(fake, invoke.InstrumentOptions{Logger: discardLogger()})

	res, err := inv.Invoke(context.Background(), invoke.Request{
		Project: "workflow-glowing",
		Slug:    "story-4omini",
		Input:   invoke.Input{"outline": "o"},
	})
	require.NoError(t, err)
	assert.Equal(t, invoke.Text("the end"), res)
}

func TestInstrumentPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	fake := invoketest.NewInvoker().Fails("story-4omini", boom)
	inv := invoke.Instrument(fake, invoke.InstrumentOptions{Logger: discardLogger()})

	_, err := inv.Invoke(context.Background(), invoke.Request{Slug: "story-4omini"})
	require.ErrorIs(t, err, boom)
}

func TestInstrumentWrapsStreamAndForwardsClose(t *testing.T) {
	src := invoketest.TextStream("Hello", "", " world")
	fake := invoketest.NewInvoker().Returns("gen", &invoke.Stream{Chunks: src})
	inv := invoke.Instrument(fake, invoke.InstrumentOptions{Logger: discardLogger()})

	res, err := inv.Invoke(context.Background(), invoke.Request{Slug: "gen", Shape: invoke.ShapeStream})
	require.NoError(t, err)

	s, ok := res.(*invoke.Stream)
	require.True(t, ok)

	var got []string
	for s.Chunks.Next() {
		got = append(got, s.Chunks.Chunk().Data)
	}
	require.NoError(t, s.Chunks.Err())
	require.NoError(t, s.Chunks.Close())

	assert.Equal(t, []string{"Hello", "", " world"}, got)
	assert.True(t, src.Closed())
}
