package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errDown = errors.New("broker down")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	b := New("results", Config{MaxFailures: 3, Cooldown: time.Minute})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	// a failed trial reopens for a full cooldown
	now = now.Add(time.Minute)
	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(ctx, ok), ErrOpen)

	now = now.Add(time.Minute)
	assert.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresCancellationAndResets(t *testing.T) {
	b := New("results", Config{MaxFailures: 1})
	ctx := context.Background()

	assert.ErrorIs(t, b.Execute(ctx, func(context.Context) error { return context.Canceled }), context.Canceled)
	assert.Equal(t, StateClosed, b.State())

	b.Execute(ctx, fail)
	assert.Equal(t, StateOpen, b.State())
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Execute(ctx, ok))
}

func TestBreakerSuccessClearsFailures(t *testing.T) {
	b := New("results", Config{MaxFailures: 2})
	ctx := context.Background()

	b.Execute(ctx, fail)
	assert.NoError(t, b.Execute(ctx, ok))
	b.Execute(ctx, fail)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "CLOSED", b.State().String())
}
