package mocks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behole/institutionalized/llm"
)

func TestMockBackend_ScriptThenFallback(t *testing.T) {
	m := NewMockBackend("mock").
		WithText(`{"a":1}`).
		WithReplies(Reply{Err: RetryableError("mock")})
	spec := llm.NewAgentSpec("x", "mock", "m", "p")

	r, err := m.Call(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, r.Text)
	assert.Equal(t, "m", r.ModelEcho)

	_, err = m.Call(context.Background(), spec)
	var be *llm.BackendError
	require.True(t, errors.As(err, &be))
	assert.True(t, be.Retryable)

	r, err = m.Call(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "{}", r.Text)
	assert.Equal(t, 3, m.CallCount())
}

func TestMockBackend_DelayHonoursContext(t *testing.T) {
	m := NewMockBackend("mock").WithReplies(Reply{Text: "late", Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Call(ctx, llm.NewAgentSpec("x", "mock", "m", "p"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockBackend_Pricing(t *testing.T) {
	m := NewMockBackend("mock").WithPricing(3, 15)
	assert.InDelta(t, 3.0, m.EstimateCost(1_000_000, 0, "any"), 1e-9)
	assert.InDelta(t, 15.0, m.EstimateCost(0, 1_000_000, "any"), 1e-9)
}

func TestMockBackend_LastCall(t *testing.T) {
	m := NewMockBackend("mock")
	_, err := m.LastCall()
	require.Error(t, err)

	_, _ = m.Call(context.Background(), llm.NewAgentSpec("judge", "mock", "m", "p"))
	spec, err := m.LastCall()
	require.NoError(t, err)
	assert.Equal(t, "judge", spec.Label)

	m.Reset()
	assert.Zero(t, m.CallCount())
}
