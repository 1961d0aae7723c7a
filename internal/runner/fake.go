package runner

import (
	"context"
	"sync"
)

// Recorder is an in-memory Runner that records every command. Fail, when set,
// decides the outcome of each call.
type Recorder struct {
	mu       sync.Mutex
	Commands []Command
	Fail     func(cmd Command) error
}

// Run implements Runner.
func (r *Recorder) Run(_ context.Context, cmd Command) error {
	r.mu.Lock()
	r.Commands = append(r.Commands, cmd)
	fail := r.Fail
	r.mu.Unlock()

	if fail != nil {
		return fail(cmd)
	}
	return nil
}

// Calls returns a snapshot of the recorded commands.
func (r *Recorder) Calls() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.Commands))
	copy(out, r.Commands)
	return out
}
