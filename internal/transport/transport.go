// Package transport is the narrow contract to a text-completion model: one
// system prompt and one user prompt in, raw text out.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Options tune one completion call. Zero values mean provider defaults.
type Options struct {
	Model       string
	Temperature *float64
	// JSONMode asks the provider to emit a single JSON document.
	JSONMode  bool
	MaxTokens int
}

// Transport completes prompts.
type Transport interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error)
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error)

func (f Func) Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error) {
	return f(ctx, systemPrompt, userPrompt, opts)
}

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// RateLimited wraps a Transport so calls wait on a token bucket and run under
// an optional per-call timeout.
type RateLimited struct {
	Next    Transport
	Limiter *rate.Limiter
	Timeout time.Duration
}

// NewRateLimited allows perMinute calls per minute with the given burst. A
// non-positive perMinute disables limiting.
func NewRateLimited(next Transport, perMinute, burst int, timeout time.Duration) *RateLimited {
	var l *rate.Limiter
	if perMinute > 0 {
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
	}
	return &RateLimited{Next: next, Limiter: l, Timeout: timeout}
}

func (r *RateLimited) Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error) {
	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	return r.Next.Complete(ctx, systemPrompt, userPrompt, opts)
}

// Call records one Complete invocation.
type Call struct {
	System string
	User   string
	Opts   Options
}

// Scripted replays canned replies in order and records every call. Once the
// script runs out it returns an error. Safe for concurrent use.
type Scripted struct {
	mu      sync.Mutex
	replies []Reply
	calls   []Call
}

// Reply is one scripted answer.
type Reply struct {
	Text string
	Err  error
}

func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// Texts scripts successful replies.
func Texts(texts ...string) []Reply {
	out := make([]Reply, len(texts))
	for i, t := range texts {
		out[i] = Reply{Text: t}
	}
	return out
}

func (s *Scripted) Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{System: systemPrompt, User: userPrompt, Opts: opts})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.replies) == 0 {
		return "", errors.New("scripted transport exhausted")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.Text, r.Err
}

func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}
