package process_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/devfleet/devfleet/internal/netports"
	"github.com/devfleet/devfleet/internal/process"
	"github.com/devfleet/devfleet/internal/registry"
	"github.com/devfleet/devfleet/internal/store"
	"github.com/devfleet/devfleet/internal/supervisor"
	"github.com/devfleet/devfleet/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeProbe(int) bool { return false }

type fixture struct {
	reg  *registry.Registry
	sup  *supervisor.Fake
	ctrl *process.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := registry.New(store.NewFileStore(t.TempDir()),
		registry.WithPortOptions(netports.WithProbe(freeProbe)))
	require.NoError(t, err)
	sup := supervisor.NewFake()
	ctrl := process.New(reg, sup, process.WithRetryBackoff(time.Millisecond))
	reg.SetStopper(ctrl)
	return &fixture{reg: reg, sup: sup, ctrl: ctrl}
}

func (f *fixture) register(t *testing.T, name string) *domain.Project {
	t.Helper()
	p, err := f.reg.Register(context.Background(), registry.RegisterInput{
		Name:            name,
		Path:            t.TempDir(),
		FrontendCommand: "npm run dev",
		BackendCommand:  "uvicorn main:app",
		EnvVars:         map[string]string{"DEBUG": "true"},
	})
	require.NoError(t, err)
	return p
}

func TestStartProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.register(t, "blog")

	res, err := f.ctrl.StartProject(ctx, "blog", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.Frontend)
	require.NotNil(t, res.Backend)
	assert.Equal(t, domain.StateOnline, res.Frontend.State)
	assert.Equal(t, "http://localhost:"+strconv.Itoa(p.Frontend.Port), res.Frontend.URL)

	// The supervisor got the merged environment and the allocated port.
	spec, ok := f.sup.StartedWith("blog-fe")
	require.True(t, ok)
	assert.Equal(t, "npm run dev", spec.Command)
	assert.Equal(t, p.Path, spec.Cwd)
	assert.Equal(t, "true", spec.Env["DEBUG"])
	assert.Equal(t, strconv.Itoa(p.Frontend.Port), spec.Env["PORT"])
}

func TestStartProject_AlreadyRunningIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "blog")

	_, err := f.ctrl.StartProject(ctx, "blog", nil)
	require.NoError(t, err)
	before := len(f.sup.Calls())

	res, err := f.ctrl.StartProject(ctx, "blog", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "already running")

	// Only status checks happened, no second start.
	for _, call := range f.sup.Calls()[before:] {
		assert.False(t, strings.HasPrefix(call, "start "), "unexpected %q", call)
	}
}

func TestStartProject_ResumesStoppedUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "blog")

	_, err := f.ctrl.StartProject(ctx, "blog", []string{"frontend"})
	require.NoError(t, err)
	_, err = f.ctrl.StopProject(ctx, "blog", []string{"frontend"})
	require.NoError(t, err)

	res, err := f.ctrl.StartProject(ctx, "blog", []string{"frontend"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, f.sup.Calls(), "restart blog-fe")
}

func TestStartProject_ServiceFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "blog")

	res, err := f.ctrl.StartProject(ctx, "blog", []string{"backend"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.Frontend)
	require.NotNil(t, res.Backend)
	assert.Equal(t, domain.StateOnline, res.Backend.State)

	_, ok := f.sup.StartedWith("blog-fe")
	assert.False(t, ok)
}

func TestStartProject_UnknownServiceOrProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "blog")

	_, err := f.ctrl.StartProject(ctx, "nope", nil)
	assert.ErrorIs(t, err, domain.ErrProjectNotFound)

	_, err = f.ctrl.StartProject(ctx, "blog", []string{"database"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown service")
}

func TestStartProject_PartialFailureAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "blog")
	f.sup.FailNext("start", "blog-be",
		domain.Errf(domain.CodeSupervisorError, "spawn failed"))

	res, err := f.ctrl.StartProject(ctx, "blog", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "frontend started")
	assert.Contains(t, res.Message, "spawn failed")

	// The frontend still came up despite the backend failure.
	status, err := f.sup.Status(ctx, "blog-fe")
	require.NoError(t, err)
	assert.Equal(t, domain.StateOnline, status.State)
}

func TestStartProject_SkipsDisabledService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "blog")
	_, err := f.reg.UpdateProject(ctx, "blog", map[string]any{
		"frontend": map[string]any{"enabled": false},
	})
	require.NoError(t, err)

	res, err := f.ctrl.StartProject(ctx, "blog", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "frontend disabled, skipped")
	_, started := f.sup.StartedWith("blog-fe")
	assert.False(t, started)
}

func TestStopProject_NotRunningIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "blog")

	res, err := f.ctrl.StopProject(ctx, "blog", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "not running")
}

func TestRestartProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "blog")

	_, err := f.ctrl.StartProject(ctx, "blog", nil)
	require.NoError(t, err)

	res, err := f.ctrl.RestartProject(ctx, "blog", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "restarted")

	status, err := f.ctrl.Status(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, domain.OverallRunning, status.Overall)
}

func TestRestartProject_StopFailureFailsTheRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "blog")

	_, err := f.ctrl.StartProject(ctx, "blog", nil)
	require.NoError(t, err)
	f.sup.FailNext("stop", "blog-fe",
		domain.Errf(domain.CodeSupervisorError, "stop exploded"))

	res, err := f.ctrl.RestartProject(ctx, "blog", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "stop failed")
	assert.Contains(t, res.Message, "stop exploded")
}

func TestDeleteProject_RemovesSupervisorUnits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "blog")

	_, err := f.ctrl.StartProject(ctx, "blog", []string{"frontend"})
	require.NoError(t, err)

	// One unit online, one never started: both end up unknown to the
	// supervisor, without erroring on the absent one.
	require.NoError(t, f.ctrl.DeleteProject(ctx, "blog"))

	for _, unit := range []string{"blog-fe", "blog-be"} {
		status, err := f.sup.Status(ctx, unit)
		require.NoError(t, err)
		assert.Equal(t, domain.StateNotStarted, status.State, unit)
	}
	assert.NotContains(t, f.sup.Calls(), "delete blog-be")
}

func TestStatus_Rollup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "blog")

	status, err := f.ctrl.Status(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, domain.OverallStopped, status.Overall)
	assert.Equal(t, domain.StateNotStarted, status.Frontend.State)

	_, err = f.ctrl.StartProject(ctx, "blog", []string{"frontend"})
	require.NoError(t, err)
	status, err = f.ctrl.Status(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, domain.OverallPartial, status.Overall)

	f.sup.SetState("blog-be", domain.StateErrored)
	status, err = f.ctrl.Status(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, domain.OverallError, status.Overall)
}

func TestLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "blog")
	f.sup.SetLogs("blog-fe", "compiled", "listening on :3001")

	logs, err := f.ctrl.Logs(ctx, "blog", []string{"frontend"}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"compiled", "listening on :3001"}, logs["frontend"])
}

func TestFollowLogs_StreamsNewLines(t *testing.T) {
	f := newFixture(t)
	f.register(t, "blog")

	logDir := t.TempDir()
	f.sup.SetLogDir(logDir)
	logPath := filepath.Join(logDir, "blog-fe-out.log")
	require.NoError(t, os.WriteFile(logPath, []byte("boot\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := f.ctrl.FollowLogs(ctx, "blog", "frontend", 5*time.Millisecond)
	require.NoError(t, err)

	require.Equal(t, "boot", <-ch)
	appendLine(t, logPath, "ready\n")
	require.Equal(t, "ready", <-ch)

	cancel()
	for range ch { // drain until closed
	}
}

// The whole existing file is replayed before new lines, even when it is
// longer than any tail default, and appends keep streaming afterwards.
func TestFollowLogs_LongHistoryThenAppend(t *testing.T) {
	f := newFixture(t)
	f.register(t, "demo")

	logDir := t.TempDir()
	f.sup.SetLogDir(logDir)
	logPath := filepath.Join(logDir, "demo-be-out.log")
	var history strings.Builder
	for i := 1; i <= 60; i++ {
		history.WriteString("line-" + strconv.Itoa(i) + "\n")
	}
	require.NoError(t, os.WriteFile(logPath, []byte(history.String()), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := f.ctrl.FollowLogs(ctx, "demo", "backend", 5*time.Millisecond)
	require.NoError(t, err)

	require.Equal(t, "line-1", <-ch)
	for i := 2; i <= 60; i++ {
		require.Equal(t, "line-"+strconv.Itoa(i), <-ch)
	}

	appendLine(t, logPath, "line-61\n")
	select {
	case line := <-ch:
		assert.Equal(t, "line-61", line)
	case <-time.After(2 * time.Second):
		t.Fatal("appended line never reached the follow stream")
	}

	cancel()
	for range ch {
	}
}

func TestFollowLogs_RestartsAfterTruncation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "blog")

	logDir := t.TempDir()
	f.sup.SetLogDir(logDir)
	logPath := filepath.Join(logDir, "blog-fe-out.log")
	require.NoError(t, os.WriteFile(logPath, []byte("old-1\nold-2\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := f.ctrl.FollowLogs(ctx, "blog", "frontend", 5*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "old-1", <-ch)
	require.Equal(t, "old-2", <-ch)

	// Rotation: the file shrinks and the tail starts over.
	require.NoError(t, os.WriteFile(logPath, []byte("new-1\n"), 0o644))
	require.Equal(t, "new-1", <-ch)

	cancel()
	for range ch {
	}
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = file.WriteString(line)
	require.NoError(t, err)
	require.NoError(t, file.Close())
}

func TestStartAllStopAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		f.register(t, "proj-"+strconv.Itoa(i))
	}
	f.sup.FailNext("start", "proj-3-fe",
		domain.Errf(domain.CodeSupervisorError, "spawn failed"))

	results := f.ctrl.StartAll(ctx, nil)
	require.Len(t, results, 6)
	failures := 0
	for _, res := range results {
		require.NotNil(t, res)
		if !res.Success {
			failures++
			assert.Equal(t, "proj-3", res.Project)
		}
	}
	assert.Equal(t, 1, failures, "only the scripted failure should fail")

	results = f.ctrl.StopAll(ctx, nil)
	require.Len(t, results, 6)
	for _, res := range results {
		assert.True(t, res.Success, res.Message)
	}
}

func TestRemoveStopsViaController(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "blog")
	_, err := f.ctrl.StartProject(ctx, "blog", nil)
	require.NoError(t, err)

	res, err := f.reg.Remove(ctx, "blog", true)
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Empty(t, res.StopFailure)
	assert.Contains(t, f.sup.Calls(), "stop blog-fe")
	assert.Contains(t, f.sup.Calls(), "stop blog-be")

	// No orphan entries stay behind in the supervisor's process list.
	units, err := f.sup.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestWriteEcosystemConfig(t *testing.T) {
	f := newFixture(t)
	p := f.register(t, "blog")

	path := filepath.Join(t.TempDir(), "ecosystem.config.js")
	require.NoError(t, f.ctrl.WriteEcosystemConfig(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)
	assert.True(t, strings.HasPrefix(content, "// Auto-generated by devfleet"))
	assert.Contains(t, content, "module.exports")
	assert.Contains(t, content, `"name": "blog-fe"`)
	assert.Contains(t, content, `"name": "blog-be"`)
	assert.Contains(t, content, `"npm run dev"`)
	assert.Contains(t, content, `"PORT": "`+strconv.Itoa(p.Backend.Port)+`"`)
}
