// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/d-gangz/glowing-braintrust/internal/invoke"
	"github.com/d-gangz/glowing-braintrust/internal/invoke/invoketest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentsSkipEmptyChunksAndAccumulate(t *testing.T) {
	src := invoketest.TextStream("Good ", "", "evening", "", ", Ms. Chan.")
	agg := New(src)

	var got []string
	for frag, err := range agg.Fragments() {
		require.NoError(t, err)
		got = append(got, frag)
	}

	assert.Equal(t, []string{"Good ", "evening", ", Ms. Chan."}, got)
	text, ok := agg.Text()
	assert.True(t, ok)
	assert.Equal(t, "Good evening, Ms. Chan.", text)
	assert.True(t, src.Closed())
}

func TestTextUnavailableBeforeExhaustion(t *testing.T) {
	agg := New(invoketest.TextStream("a", "b"))

	_, ok := agg.Text()
	assert.False(t, ok)
}

func TestEarlyStopClosesSourceWithoutError(t *testing.T) {
	src := invoketest.TextStream("one", "two", "three", "four")
	agg := New(src)

	for frag, err := range agg.Fragments() {
		require.NoError(t, err)
		if frag == "two" {
			break
		}
	}

	assert.True(t, src.Closed())
	assert.Equal(t, 2, src.Consumed())
	assert.Equal(t, "onetwo", agg.Partial())
	_, ok := agg.Text()
	assert.False(t, ok)
}

func TestStreamErrorIsYieldedOnce(t *testing.T) {
	boom := errors.New("connection reset")
	src := invoketest.TextStream("partial")
	src.Error = boom
	agg := New(src)

	var errs []error
	var frags []string
	for frag, err := range agg.Fragments() {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		frags = append(frags, frag)
	}

	assert.Equal(t, []string{"partial"}, frags)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
	_, ok := agg.Text()
	assert.False(t, ok)
	assert.True(t, src.Closed())
}

func TestSecondPassReportsConsumed(t *testing.T) {
	agg := New(invoketest.TextStream("x"))
	_, err := agg.Drain(context.Background())
	require.NoError(t, err)

	for _, err := range agg.Fragments() {
		require.ErrorIs(t, err, ErrConsumed)
	}
}

func TestDrain(t *testing.T) {
	agg := New(invoketest.TextStream("It is ", "our pleasure."))

	text, err := agg.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "It is our pleasure.", text)
}

func TestDrainStopsOnCanceledContext(t *testing.T) {
	src := invoketest.TextStream("a", "b", "c")
	agg := New(src)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := agg.Drain(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, src.Closed())
}

func TestFromResult(t *testing.T) {
	text, err := FromResult(invoke.Text("plain")).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "plain", text)

	text, err = FromResult(invoke.Record{"language": "English"}).Drain(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"language":"English"}`, text)

	src := invoketest.TextStream("s1", "s2")
	text, err = FromResult(&invoke.Stream{Chunks: src}).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s1s2", text)
}

func TestCloseWithoutConsuming(t *testing.T) {
	src := invoketest.TextStream("unused")
	agg := New(src)

	require.NoError(t, agg.Close())
	require.NoError(t, agg.Close())
	assert.True(t, src.Closed())
	assert.Equal(t, 0, src.Consumed())
}
