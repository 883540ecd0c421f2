package hook

import (
	"context"
	"sync"
)

// ResponseFunc runs once the result of a request is final.
type ResponseFunc func(ctx context.Context, reply *Reply)

// Responses is the response stage of a single request. Callbacks are
// run in registration order, and Finalize only ever runs them once.
type Responses struct {
	mu    sync.Mutex
	funcs []ResponseFunc
	done  bool
}

// OnResponse chains fn onto the response stage. Callbacks registered
// after Finalize are never run.
func (r *Responses) OnResponse(fn ResponseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.funcs = append(r.funcs, fn)
}

// Finalize runs every registered callback against reply.
func (r *Responses) Finalize(ctx context.Context, reply *Reply) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	funcs := r.funcs
	r.funcs = nil
	r.mu.Unlock()

	for _, fn := range funcs {
		fn(ctx, reply)
	}
}

// Len returns the number of callbacks waiting to run.
func (r *Responses) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.funcs)
}
