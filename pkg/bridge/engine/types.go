package engine

import (
	"context"
	"time"
)

// State is the executor's view of one invocation lifecycle.
type State int

const (
	StateIdle State = iota
	StateSpawning
	StateRunning
	StateCompleted
	StateTimedOut
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Plan fully specifies one engine invocation: the executable, a fixed-shape
// argument vector, the working directory, and the wall-clock budget. Nothing
// in it is ever interpreted by a shell.
type Plan struct {
	Interpreter string
	EntryScript string
	Operation   string
	PayloadRef  string
	SessionDir  string
	Timeout     time.Duration
}

// Argv returns the argument vector handed to the interpreter.
func (p Plan) Argv() []string {
	return []string{"--vanilla", p.EntryScript, p.Operation, p.PayloadRef, p.SessionDir}
}

// Output is the terminal record of one spawned process.
type Output struct {
	State    State
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes invocation plans. The production implementation is
// Executor; tests substitute spies to assert that rejected requests never
// reach a process spawn.
type Runner interface {
	Run(ctx context.Context, plan Plan) (Output, error)
}
