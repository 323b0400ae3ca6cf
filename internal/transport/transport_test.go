package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error) {
	args := m.Called(ctx, systemPrompt, userPrompt, opts)
	return args.String(0), args.Error(1)
}

func TestRateLimitedDelegates(t *testing.T) {
	next := &mockTransport{}
	next.On("Complete", mock.Anything, "sys", "user", Options{JSONMode: true}).Return(`{"ok":true}`, nil).Once()

	rl := NewRateLimited(next, 600, 1, time.Second)
	out, err := rl.Complete(context.Background(), "sys", "user", Options{JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	next.AssertExpectations(t)
}

func TestRateLimitedHonorsCancelledContext(t *testing.T) {
	next := &mockTransport{}
	rl := NewRateLimited(next, 1, 1, 0)
	// Drain the single token.
	require.True(t, rl.Limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := rl.Complete(ctx, "s", "u", Options{})
	assert.Error(t, err)
	next.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRateLimitedAppliesTimeout(t *testing.T) {
	slow := Func(func(ctx context.Context, _, _ string, _ Options) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	rl := NewRateLimited(slow, 0, 0, 10*time.Millisecond)
	assert.Nil(t, rl.Limiter)
	_, err := rl.Complete(context.Background(), "s", "u", Options{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScriptedReplaysInOrder(t *testing.T) {
	boom := errors.New("boom")
	s := NewScripted(append(Texts("one"), Reply{Err: boom})...)
	ctx := context.Background()

	out, err := s.Complete(ctx, "a", "b", Options{})
	require.NoError(t, err)
	assert.Equal(t, "one", out)

	_, err = s.Complete(ctx, "a", "c", Options{})
	assert.ErrorIs(t, err, boom)

	_, err = s.Complete(ctx, "a", "d", Options{})
	assert.Error(t, err)
	assert.Len(t, s.Calls(), 3)
	assert.Equal(t, "c", s.Calls()[1].User)
}
