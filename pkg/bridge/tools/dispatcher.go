package tools

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/metabridge-dev/metabridge/go/pkg/bridge/config"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/engine"
	apperrors "github.com/metabridge-dev/metabridge/go/pkg/bridge/errors"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/payload"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/session"
)

// EngineStatus is the dispatcher's view of the engine captured at startup.
type EngineStatus struct {
	Version  string
	Degraded bool
}

// Dispatcher validates invocation requests against the operation allow-list,
// resolves session sandboxes, and hands fully resolved plans to the runner.
// It is the single place where every failure is converted into a terminal
// Result; nothing it returns can take down the listener loop.
type Dispatcher struct {
	cfg        *config.Config
	registry   *session.Registry
	marshaller *payload.Marshaller
	runner     engine.Runner
	logger     *zap.Logger
	version    string

	mu     sync.RWMutex
	status EngineStatus
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	cfg *config.Config,
	registry *session.Registry,
	marshaller *payload.Marshaller,
	runner engine.Runner,
	version string,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:        cfg,
		registry:   registry,
		marshaller: marshaller,
		runner:     runner,
		logger:     logger,
		version:    version,
	}
}

// SetEngineStatus records the startup probe outcome reported by health_check.
func (d *Dispatcher) SetEngineStatus(status EngineStatus) {
	d.mu.Lock()
	d.status = status
	d.mu.Unlock()
}

// EngineStatus returns the recorded probe outcome.
func (d *Dispatcher) EngineStatus() EngineStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Invoke executes one operation within a session and always returns a
// terminal Result. sessionID may be empty for operations that create or do
// not need a session.
func (d *Dispatcher) Invoke(ctx context.Context, sessionID string, operation string, args map[string]interface{}) Result {
	op, ok := Lookup(operation)
	if !ok {
		return Failure(apperrors.New(apperrors.ErrCodeInvalidOperation,
			fmt.Sprintf("operation %q is not allowed", operation), nil), nil)
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	switch op {
	case OpHealthCheck:
		return d.healthCheck()
	case OpInitializeSession:
		return d.initializeSession(ctx, sessionID, args)
	case OpGetStatus:
		return d.getStatus(sessionID)
	default:
		return d.runInSession(ctx, sessionID, op, args)
	}
}

// healthCheck never resolves a session and never spawns the engine, so it
// stays available even when the engine's dependencies are broken.
func (d *Dispatcher) healthCheck() Result {
	status := d.EngineStatus()
	value := map[string]interface{}{
		"bridge_version": d.version,
		"engine": map[string]interface{}{
			"interpreter":  d.cfg.Engine.Interpreter,
			"entry_script": d.cfg.Engine.EntryScript,
			"version":      status.Version,
		},
		"sandbox_root": d.registry.Root(),
		"degraded":     status.Degraded,
	}
	return Success(value)
}

func (d *Dispatcher) initializeSession(ctx context.Context, sessionID string, args map[string]interface{}) Result {
	if sessionID == "" {
		sessionID, _ = args["session_id"].(string)
	}
	opts := session.CreateOptions{
		Name:          stringArg(args, "name"),
		StudyType:     stringArg(args, "study_type"),
		EffectMeasure: stringArg(args, "effect_measure"),
		AnalysisModel: stringArg(args, "analysis_model"),
	}

	sess, err := d.registry.Create(sessionID, opts)
	if err != nil {
		return Failure(err, nil)
	}

	res := d.execute(ctx, sess, OpInitializeSession, args)
	if !res.OK() {
		return res
	}
	return d.decorate(res, sess, OpInitializeSession)
}

// getStatus is answered from the sandbox itself; no engine process is
// involved.
func (d *Dispatcher) getStatus(sessionID string) Result {
	sess, err := d.registry.Resolve(sessionID)
	if err != nil {
		return Failure(err, nil)
	}
	value := map[string]interface{}{
		"session_id":     sess.ID,
		"session_path":   sess.Path,
		"name":           sess.Metadata.Name,
		"study_type":     sess.Metadata.StudyType,
		"effect_measure": sess.Metadata.EffectMeasure,
		"analysis_model": sess.Metadata.AnalysisModel,
		"created":        sess.Metadata.Created,
		"has_data":       sess.HasData(),
		"has_results":    sess.HasResults(),
		"result_files":   sess.ResultFiles(),
	}
	return Success(value)
}

func (d *Dispatcher) runInSession(ctx context.Context, sessionID string, op Operation, args map[string]interface{}) Result {
	sess, err := d.registry.Resolve(sessionID)
	if err != nil {
		return Failure(err, nil)
	}
	res := d.execute(ctx, sess, op, args)
	if !res.OK() {
		return res
	}
	return d.decorate(res, sess, op)
}

// execute stages the arguments and runs one engine process for op inside
// sess. Every failure mode collapses into a Result here.
func (d *Dispatcher) execute(ctx context.Context, sess *session.Session, op Operation, args map[string]interface{}) Result {
	pl, err := d.marshaller.Stage(sess, args)
	if err != nil {
		return Failure(err, nil)
	}
	defer func() {
		if err := d.marshaller.Cleanup(pl); err != nil {
			d.logger.Warn("scratch cleanup failed",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
	}()

	plan := engine.Plan{
		Interpreter: d.cfg.Engine.Interpreter,
		EntryScript: d.cfg.Engine.EntryScript,
		Operation:   string(op),
		PayloadRef:  pl.Ref(),
		SessionDir:  sess.Path,
		Timeout:     d.cfg.Timeout(),
	}

	out, err := d.runner.Run(ctx, plan)
	if err != nil {
		return Failure(err, d.diagnostics(out))
	}

	if out.ExitCode != 0 {
		return Failure(apperrors.New(apperrors.ErrCodeEngineReportedError,
			fmt.Sprintf("engine exited with status %d", out.ExitCode), nil),
			d.diagnostics(out))
	}

	result, err := engine.ParseResult(out.Stdout)
	if err != nil {
		details := d.diagnostics(out)
		if details == nil {
			details = map[string]interface{}{}
		}
		details["raw_output"] = out.Stdout
		return Failure(err, details)
	}

	// The engine's own declared failure passes through verbatim.
	if status, _ := result["status"].(string); status == "error" {
		message, _ := result["message"].(string)
		if message == "" {
			message = "engine reported an error"
		}
		return Failure(apperrors.New(apperrors.ErrCodeEngineReportedError,
			message, nil), result)
	}

	res := Success(result)
	if d.cfg.Debug && out.Stderr != "" {
		res.Value["engine_stderr"] = out.Stderr
	}
	return res
}

// decorate stamps session identity onto a successful result, without
// overriding anything the engine already set, and updates the index.
func (d *Dispatcher) decorate(res Result, sess *session.Session, op Operation) Result {
	if _, ok := res.Value["session_id"]; !ok {
		res.Value["session_id"] = sess.ID
	}
	if _, ok := res.Value["session_path"]; !ok {
		res.Value["session_path"] = sess.Path
	}
	d.registry.RecordInvocation(sess.ID, string(op))
	return res
}

// diagnostics attaches captured streams to failures when debug is on.
func (d *Dispatcher) diagnostics(out engine.Output) map[string]interface{} {
	if !d.cfg.Debug {
		return nil
	}
	details := map[string]interface{}{}
	if out.Stderr != "" {
		details["engine_stderr"] = out.Stderr
	}
	if out.Stdout != "" {
		details["engine_stdout"] = out.Stdout
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}
