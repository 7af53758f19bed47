package tools

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metabridge-dev/metabridge/go/pkg/bridge/config"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/engine"
	apperrors "github.com/metabridge-dev/metabridge/go/pkg/bridge/errors"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/payload"
	"github.com/metabridge-dev/metabridge/go/pkg/bridge/session"
)

// spyRunner records every plan it receives instead of spawning anything.
type spyRunner struct {
	mu    sync.Mutex
	calls []engine.Plan
	out   engine.Output
	err   error
}

func (s *spyRunner) Run(ctx context.Context, plan engine.Plan) (engine.Output, error) {
	s.mu.Lock()
	s.calls = append(s.calls, plan)
	s.mu.Unlock()
	return s.out, s.err
}

func (s *spyRunner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *spyRunner) lastPlan(t *testing.T) engine.Plan {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.calls)
	return s.calls[len(s.calls)-1]
}

func okOutput(body string) engine.Output {
	return engine.Output{State: engine.StateCompleted, Stdout: body}
}

func newTestDispatcher(t *testing.T, runner engine.Runner, debug bool) (*Dispatcher, *session.Registry) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Sandbox.Root = t.TempDir()
	cfg.Engine.TimeoutSeconds = 30
	cfg.Debug = debug
	return buildDispatcher(t, cfg, runner)
}

func buildDispatcher(t *testing.T, cfg *config.Config, runner engine.Runner) (*Dispatcher, *session.Registry) {
	t.Helper()
	reg, err := session.NewRegistry(cfg.Sandbox.Root, nil, nil)
	require.NoError(t, err)
	m := payload.NewMarshaller(cfg.Sandbox.InlineThresholdBytes, cfg.Sandbox.MaxPayloadBytes, nil)
	return NewDispatcher(cfg, reg, m, runner, "1.2.3", nil), reg
}

func TestInvoke_InvalidOperation(t *testing.T) {
	spy := &spyRunner{out: okOutput(`{"status":"success"}`)}
	d, _ := newTestDispatcher(t, spy, false)

	for _, name := range []string{"drop_tables", "run_analysis; rm -rf /", "", "RUN_ANALYSIS"} {
		res := d.Invoke(context.Background(), "any", name, nil)

		assert.False(t, res.OK())
		assert.Equal(t, apperrors.ErrCodeInvalidOperation, res.Code)
	}
	assert.Zero(t, spy.callCount(), "rejected operations must not spawn")
}

func TestInvoke_UnknownSession(t *testing.T) {
	spy := &spyRunner{out: okOutput(`{"status":"success"}`)}
	d, _ := newTestDispatcher(t, spy, false)

	res := d.Invoke(context.Background(), "nope", string(OpRunAnalysis), nil)

	assert.False(t, res.OK())
	assert.Equal(t, apperrors.ErrCodeUnknownSession, res.Code)
	assert.Zero(t, spy.callCount())
}

func TestInvoke_HealthCheck(t *testing.T) {
	spy := &spyRunner{}
	d, _ := newTestDispatcher(t, spy, false)
	d.SetEngineStatus(EngineStatus{Version: "R 4.3.1", Degraded: true})

	res := d.Invoke(context.Background(), "", string(OpHealthCheck), nil)

	require.True(t, res.OK())
	assert.Equal(t, "success", res.Value["status"])
	assert.Equal(t, "1.2.3", res.Value["bridge_version"])
	assert.Equal(t, true, res.Value["degraded"])
	assert.Zero(t, spy.callCount(), "health_check must not spawn the engine")
}

func TestInvoke_InitializeSession(t *testing.T) {
	spy := &spyRunner{out: okOutput(`{"status":"success","message":"session ready"}`)}
	d, reg := newTestDispatcher(t, spy, false)

	res := d.Invoke(context.Background(), "", string(OpInitializeSession),
		map[string]interface{}{"name": "demo", "effect_measure": "OR"})

	require.True(t, res.OK())
	id, _ := res.Value["session_id"].(string)
	require.NotEmpty(t, id)

	sess, err := reg.Resolve(id)
	require.NoError(t, err)
	assert.Equal(t, "demo", sess.Metadata.Name)
	assert.Equal(t, sess.Path, res.Value["session_path"])

	for _, dir := range []string{session.InputDir, session.ProcessingDir, session.ResultsDir, session.ScratchDir} {
		_, err := os.Stat(sess.Dir(dir))
		assert.NoError(t, err)
	}

	plan := spy.lastPlan(t)
	assert.Equal(t, string(OpInitializeSession), plan.Operation)
	assert.Equal(t, sess.Path, plan.SessionDir)
}

func TestInvoke_InitializeSession_Idempotent(t *testing.T) {
	spy := &spyRunner{out: okOutput(`{"status":"success"}`)}
	d, reg := newTestDispatcher(t, spy, false)

	args := map[string]interface{}{"session_id": "fixed", "name": "first"}
	first := d.Invoke(context.Background(), "", string(OpInitializeSession), args)
	second := d.Invoke(context.Background(), "", string(OpInitializeSession), args)

	require.True(t, first.OK())
	require.True(t, second.OK())
	assert.Equal(t, first.Value["session_id"], second.Value["session_id"])

	entries, err := os.ReadDir(reg.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestInvoke_PayloadTooLarge_PreSpawn(t *testing.T) {
	spy := &spyRunner{out: okOutput(`{"status":"success"}`)}
	cfg := config.DefaultConfig()
	cfg.Sandbox.Root = t.TempDir()
	cfg.Sandbox.InlineThresholdBytes = 64
	cfg.Sandbox.MaxPayloadBytes = 256
	d, reg := buildDispatcher(t, cfg, spy)

	_, err := reg.Create("big", session.CreateOptions{})
	require.NoError(t, err)

	res := d.Invoke(context.Background(), "big", string(OpUploadData),
		map[string]interface{}{"data": strings.Repeat("x", 1024)})

	assert.False(t, res.OK())
	assert.Equal(t, apperrors.ErrCodePayloadTooLarge, res.Code)
	assert.Zero(t, spy.callCount(), "oversized payloads must be rejected pre-spawn")

	sess, err := reg.Resolve("big")
	require.NoError(t, err)
	entries, err := os.ReadDir(sess.ScratchPath())
	require.NoError(t, err)
	assert.Empty(t, entries, "no scratch file may be written for rejected payloads")
}

func TestInvoke_Success_RoundTrip(t *testing.T) {
	raw := `{"status":"success","estimate":0.42,"ci":[0.31,0.57]}`
	spy := &spyRunner{out: okOutput(raw)}
	d, reg := newTestDispatcher(t, spy, false)

	_, err := reg.Create("s1", session.CreateOptions{})
	require.NoError(t, err)

	res := d.Invoke(context.Background(), "s1", string(OpRunAnalysis),
		map[string]interface{}{"method": "random"})
	require.True(t, res.OK())

	// The structured payload equals the re-parsed raw stdout, plus the
	// session identity stamped by the bridge.
	var expected map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &expected))
	for k, v := range expected {
		assert.Equal(t, v, res.Value[k])
	}
	assert.Equal(t, "s1", res.Value["session_id"])
}

func TestInvoke_PlanShape(t *testing.T) {
	spy := &spyRunner{out: okOutput(`{"status":"success"}`)}
	d, reg := newTestDispatcher(t, spy, false)

	_, err := reg.Create("s1", session.CreateOptions{})
	require.NoError(t, err)

	res := d.Invoke(context.Background(), "s1", string(OpRenderPlot),
		map[string]interface{}{"plot_type": "forest"})
	require.True(t, res.OK())

	plan := spy.lastPlan(t)
	assert.Equal(t, d.cfg.Engine.Interpreter, plan.Interpreter)
	assert.Equal(t, d.cfg.Engine.EntryScript, plan.EntryScript)
	assert.Equal(t, string(OpRenderPlot), plan.Operation)
	assert.Equal(t, 30*time.Second, plan.Timeout)
	assert.JSONEq(t, `{"plot_type":"forest"}`, plan.PayloadRef)
}

func TestInvoke_EngineReportedError_Passthrough(t *testing.T) {
	spy := &spyRunner{out: okOutput(`{"status":"error","message":"no data uploaded","hint":"call upload_data first"}`)}
	d, reg := newTestDispatcher(t, spy, false)

	_, err := reg.Create("s1", session.CreateOptions{})
	require.NoError(t, err)

	res := d.Invoke(context.Background(), "s1", string(OpRunAnalysis), nil)

	assert.False(t, res.OK())
	assert.Equal(t, apperrors.ErrCodeEngineReportedError, res.Code)
	assert.Equal(t, "no data uploaded", res.Message)
	assert.Equal(t, "call upload_data first", res.Details["hint"])
}

func TestInvoke_NonZeroExit(t *testing.T) {
	spy := &spyRunner{out: engine.Output{
		State:    engine.StateCompleted,
		ExitCode: 1,
		Stderr:   "Error in library(meta): there is no package",
	}}
	d, reg := newTestDispatcher(t, spy, true)

	_, err := reg.Create("s1", session.CreateOptions{})
	require.NoError(t, err)

	res := d.Invoke(context.Background(), "s1", string(OpRunAnalysis), nil)

	assert.False(t, res.OK())
	assert.Equal(t, apperrors.ErrCodeEngineReportedError, res.Code)
	assert.Contains(t, res.Details["engine_stderr"], "no package")
}

func TestInvoke_NonZeroExit_NoDiagnosticsWithoutDebug(t *testing.T) {
	spy := &spyRunner{out: engine.Output{
		State:    engine.StateCompleted,
		ExitCode: 1,
		Stderr:   "secret stack trace",
	}}
	d, reg := newTestDispatcher(t, spy, false)

	_, err := reg.Create("s1", session.CreateOptions{})
	require.NoError(t, err)

	res := d.Invoke(context.Background(), "s1", string(OpRunAnalysis), nil)

	assert.False(t, res.OK())
	assert.Nil(t, res.Details)
}

func TestInvoke_MalformedOutput(t *testing.T) {
	spy := &spyRunner{out: okOutput("not json at all")}
	d, reg := newTestDispatcher(t, spy, false)

	_, err := reg.Create("s1", session.CreateOptions{})
	require.NoError(t, err)

	res := d.Invoke(context.Background(), "s1", string(OpRunAnalysis), nil)

	assert.False(t, res.OK())
	assert.Equal(t, apperrors.ErrCodeMalformedEngineOutput, res.Code)
	assert.Equal(t, "not json at all", res.Details["raw_output"])
}

func TestInvoke_TimeoutPassthrough(t *testing.T) {
	spy := &spyRunner{
		out: engine.Output{State: engine.StateTimedOut, ExitCode: -1},
		err: apperrors.New(apperrors.ErrCodeTimeout, "operation run_analysis exceeded the 30s budget", nil),
	}
	d, reg := newTestDispatcher(t, spy, false)

	_, err := reg.Create("s1", session.CreateOptions{})
	require.NoError(t, err)

	res := d.Invoke(context.Background(), "s1", string(OpRunAnalysis), nil)

	assert.False(t, res.OK())
	assert.Equal(t, apperrors.ErrCodeTimeout, res.Code)
	assert.Contains(t, res.Message, "budget")
}

func TestInvoke_ScratchCleanup(t *testing.T) {
	spy := &spyRunner{out: okOutput(`{"status":"success"}`)}
	cfg := config.DefaultConfig()
	cfg.Sandbox.Root = t.TempDir()
	cfg.Sandbox.InlineThresholdBytes = 1
	d, reg := buildDispatcher(t, cfg, spy)

	sess, err := reg.Create("s1", session.CreateOptions{})
	require.NoError(t, err)

	res := d.Invoke(context.Background(), "s1", string(OpUploadData),
		map[string]interface{}{"data": "a,b\n1,2\n"})
	require.True(t, res.OK())

	plan := spy.lastPlan(t)
	assert.True(t, strings.HasPrefix(plan.PayloadRef, "@"), "payload should have been staged")

	entries, err := os.ReadDir(sess.ScratchPath())
	require.NoError(t, err)
	assert.Empty(t, entries, "staged payloads are removed after the invocation")
}

func TestInvoke_DebugAttachesStderrToSuccess(t *testing.T) {
	spy := &spyRunner{out: engine.Output{
		State:  engine.StateCompleted,
		Stdout: `{"status":"success"}`,
		Stderr: "Loading required package: meta",
	}}
	d, reg := newTestDispatcher(t, spy, true)

	_, err := reg.Create("s1", session.CreateOptions{})
	require.NoError(t, err)

	res := d.Invoke(context.Background(), "s1", string(OpRunAnalysis), nil)
	require.True(t, res.OK())
	assert.Contains(t, res.Value["engine_stderr"], "Loading required package")
}

func TestInvoke_GetStatus(t *testing.T) {
	spy := &spyRunner{}
	d, reg := newTestDispatcher(t, spy, false)

	sess, err := reg.Create("s1", session.CreateOptions{Name: "demo", StudyType: "clinical_trial"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(
		sess.Dir(session.InputDir)+"/studies.csv", []byte("a,b\n"), 0644))

	res := d.Invoke(context.Background(), "s1", string(OpGetStatus), nil)

	require.True(t, res.OK())
	assert.Equal(t, "demo", res.Value["name"])
	assert.Equal(t, true, res.Value["has_data"])
	assert.Equal(t, false, res.Value["has_results"])
	assert.Zero(t, spy.callCount(), "get_status is answered from the sandbox")
}

func TestLookup(t *testing.T) {
	for _, op := range All() {
		resolved, ok := Lookup(string(op))
		assert.True(t, ok)
		assert.Equal(t, op, resolved)
		assert.NotEmpty(t, Describe(op))
	}

	_, ok := Lookup("format_disk")
	assert.False(t, ok)
}

func TestResult_ToMap(t *testing.T) {
	ok := Success(map[string]interface{}{"estimate": 0.42})
	m := ok.ToMap()
	assert.Equal(t, "success", m["status"])
	assert.Equal(t, 0.42, m["estimate"])

	fail := Failure(apperrors.New(apperrors.ErrCodeTimeout, "too slow", nil),
		map[string]interface{}{"engine_stderr": "zzz"})
	m = fail.ToMap()
	assert.Equal(t, "error", m["status"])
	assert.Equal(t, apperrors.ErrCodeTimeout, m["code"])
	assert.Equal(t, "too slow", m["message"])

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(fail.JSON()), &decoded))
	assert.Equal(t, "error", decoded["status"])
}
