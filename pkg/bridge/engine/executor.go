package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/metabridge-dev/metabridge/go/pkg/bridge/errors"
)

// Executor spawns exactly one engine process per invocation. It never pools
// or reuses processes, and it never routes the command line through a shell.
type Executor struct {
	logger *zap.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger}
}

// Run executes plan and blocks until the process reaches a terminal state.
// On timeout the whole process group is killed, not just the immediate
// child, and the call returns a timeout error with the captured streams in
// the Output. A process that exits just before the deadline fires is
// reported as completed, never double-reported.
func (e *Executor) Run(ctx context.Context, plan Plan) (Output, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, plan.Timeout)
	defer cancel()

	cmd := exec.Command(plan.Interpreter, plan.Argv()...)
	cmd.Dir = plan.SessionDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)

	e.logger.Debug("spawning engine",
		zap.String("operation", plan.Operation),
		zap.String("interpreter", plan.Interpreter),
		zap.Duration("timeout", plan.Timeout))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Output{State: StateCrashed, Duration: time.Since(start)},
			apperrors.New(apperrors.ErrCodeEngineUnavailable,
				"failed to launch engine process", err)
	}

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- cmd.Wait()
	}()

	select {
	case waitErr := <-waitDone:
		return e.completed(plan, waitErr, &stdout, &stderr, start)
	case <-cmdCtx.Done():
		// The deadline and a natural exit can race; prefer the exit.
		select {
		case waitErr := <-waitDone:
			return e.completed(plan, waitErr, &stdout, &stderr, start)
		default:
		}

		killProcessTree(cmd)
		<-waitDone

		out := Output{
			State:    StateTimedOut,
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}
		e.logger.Warn("engine invocation timed out",
			zap.String("operation", plan.Operation),
			zap.Duration("timeout", plan.Timeout))
		return out, apperrors.New(apperrors.ErrCodeTimeout,
			fmt.Sprintf("operation %s exceeded the %s budget",
				plan.Operation, plan.Timeout), nil)
	}
}

func (e *Executor) completed(plan Plan, waitErr error, stdout, stderr *bytes.Buffer, start time.Time) (Output, error) {
	out := Output{
		State:    StateCompleted,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
		} else {
			out.State = StateCrashed
			return out, apperrors.New(apperrors.ErrCodeEngineUnavailable,
				"engine process failed", waitErr)
		}
	}

	e.logger.Debug("engine invocation finished",
		zap.String("operation", plan.Operation),
		zap.Int("exit_code", out.ExitCode),
		zap.Duration("duration", out.Duration))
	return out, nil
}

// ParseResult interprets a completed process's stdout as the engine's JSON
// result. Anything that does not decode to a JSON object is a malformed
// output failure carrying the raw text for diagnostics.
func ParseResult(stdout string) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil, apperrors.New(apperrors.ErrCodeMalformedEngineOutput,
			"engine produced no output", nil)
	}
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &result); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeMalformedEngineOutput,
			"engine output is not valid JSON", err)
	}
	return result, nil
}
