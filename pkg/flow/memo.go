package flow

import (
	"context"
	"sync"
)

type requestMemoKey struct{}

type memoizedResponse struct {
	body any
	err  error
}

// RequestMemo records httpRequest results across the attempts of one
// session update. A retried attempt that reaches the same request again
// (same node, method, url and body, in the same order) replays the recorded
// response instead of calling the remote service a second time.
type RequestMemo struct {
	mu        sync.Mutex
	responses map[string][]memoizedResponse
	seen      map[string]int
}

func NewRequestMemo() *RequestMemo {
	return &RequestMemo{
		responses: make(map[string][]memoizedResponse),
		seen:      make(map[string]int),
	}
}

// ContextWithRequestMemo makes the interpreter record and replay requests
// through memo.
func ContextWithRequestMemo(ctx context.Context, memo *RequestMemo) context.Context {
	return context.WithValue(ctx, requestMemoKey{}, memo)
}

func requestMemoFrom(ctx context.Context) *RequestMemo {
	memo, _ := ctx.Value(requestMemoKey{}).(*RequestMemo)

	return memo
}

// Rewind starts a new attempt: recorded responses are replayed from the
// first one again.
func (m *RequestMemo) Rewind() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.seen)
}

func (m *RequestMemo) do(key string, call func() (any, error)) (any, error) {
	m.mu.Lock()

	index := m.seen[key]
	m.seen[key] = index + 1

	if index < len(m.responses[key]) {
		recorded := m.responses[key][index]
		m.mu.Unlock()

		return recorded.body, recorded.err
	}

	m.mu.Unlock()

	body, err := call()

	m.mu.Lock()
	m.responses[key] = append(m.responses[key], memoizedResponse{body: body, err: err})
	m.mu.Unlock()

	return body, err
}
