package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jguan/pipeline-console/pkg/config"
	"github.com/jguan/pipeline-console/pkg/infra/manager"
)

// fakeManager is an in-memory pipeline manager. Accepted actions settle
// immediately unless hold is set.
type fakeManager struct {
	mu        sync.Mutex
	pipelines map[string]*manager.Pipeline
	programs  map[string]*manager.ProgramDescr
	revisions map[string]*manager.PipelineRevision
	stats     map[string]*manager.PipelineStats
	actionErr error
	hold      bool
	actions   []string
	deleted   []string
	updates   []manager.UpdatePipelineRequest
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		pipelines: make(map[string]*manager.Pipeline),
		programs:  make(map[string]*manager.ProgramDescr),
		revisions: make(map[string]*manager.PipelineRevision),
		stats:     make(map[string]*manager.PipelineStats),
	}
}

func (f *fakeManager) add(id, name string, current, desired manager.PipelineStatus, programReady bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	progID := "prog-" + id
	status := `"Pending"`
	if programReady {
		status = `"Success"`
	}
	f.programs[progID] = &manager.ProgramDescr{ProgramID: progID, Name: name + "-program", Status: manager.ProgramStatus(status)}
	f.pipelines[id] = &manager.Pipeline{
		Descriptor: manager.PipelineDescr{PipelineID: id, Name: name, Description: name + " description", ProgramID: &progID, Version: 1},
		State:      manager.PipelineRuntimeState{CurrentStatus: current, DesiredStatus: desired},
	}
}

func (f *fakeManager) state(id string) manager.PipelineRuntimeState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pipelines[id].State
}

func (f *fakeManager) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}

func notFound(kind, id string) error {
	return &manager.APIError{StatusCode: 404, Body: manager.ErrorResponse{Message: fmt.Sprintf("Unknown %s id '%s'", kind, id)}}
}

func (f *fakeManager) ListPipelines(ctx context.Context) ([]manager.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]manager.Pipeline, 0, len(f.pipelines))
	for _, p := range f.pipelines {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeManager) GetPipeline(ctx context.Context, id string) (*manager.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pipelines[id]
	if !ok {
		return nil, notFound("pipeline", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeManager) GetPipelineConfig(ctx context.Context, id string) (string, error) {
	return "workers: 8\n", nil
}

func (f *fakeManager) PipelineDeployed(ctx context.Context, id string) (*manager.PipelineRevision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revisions[id], nil
}

func (f *fakeManager) PipelineValidate(ctx context.Context, id string) (string, error) {
	return "Pipeline successfully validated", nil
}

func (f *fakeManager) PipelineStats(ctx context.Context, id string) (*manager.PipelineStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stats[id]
	if !ok {
		return nil, notFound("pipeline", id)
	}
	return s, nil
}

func (f *fakeManager) PipelineAction(ctx context.Context, id string, action manager.PipelineAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, string(action))
	if f.actionErr != nil {
		return f.actionErr
	}
	p, ok := f.pipelines[id]
	if !ok {
		return notFound("pipeline", id)
	}
	target := map[manager.PipelineAction]manager.PipelineStatus{
		manager.ActionStart:    manager.PipelineStatusRunning,
		manager.ActionPause:    manager.PipelineStatusPaused,
		manager.ActionShutdown: manager.PipelineStatusShutdown,
	}[action]
	p.State.DesiredStatus = target
	if !f.hold {
		p.State.CurrentStatus = target
	}
	return nil
}

func (f *fakeManager) DeletePipeline(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pipelines[id]; !ok {
		return notFound("pipeline", id)
	}
	delete(f.pipelines, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeManager) UpdatePipeline(ctx context.Context, id string, req manager.UpdatePipelineRequest) (*manager.UpdatePipelineResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pipelines[id]
	if !ok {
		return nil, notFound("pipeline", id)
	}
	f.updates = append(f.updates, req)
	p.Descriptor.Name = req.Name
	p.Descriptor.Description = req.Description
	p.Descriptor.Version++
	return &manager.UpdatePipelineResponse{Version: p.Descriptor.Version}, nil
}

func (f *fakeManager) GetProgram(ctx context.Context, id string, withCode bool) (*manager.ProgramDescr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.programs[id]
	if !ok {
		return nil, notFound("program", id)
	}
	return p, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.General.DataDir = t.TempDir()
	cfg.History.Enabled = false
	cfg.Poll.ListIntervalD = 10 * time.Millisecond
	cfg.Logging.Level = "error"
	return cfg
}

// newTestRoot returns a root command wired to api that writes to the
// returned buffers.
func newTestRoot(t *testing.T, cfg *config.Config, api *fakeManager) (*RootCommand, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	root := NewRootCommand()
	root.cfg = cfg
	root.appOpts = []AppOption{WithAPI(api)}

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	root.SetOutputWriter(out)
	root.opts.ErrWriter = errOut
	return root, out, errOut
}

func execute(root *RootCommand, args ...string) error {
	root.Command().SetArgs(args)
	err := root.Command().Execute()
	if cerr := root.closeApp(); err == nil {
		err = cerr
	}
	return err
}

func decodeJSON[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	return v
}

// failingList is a manager whose list endpoint is down.
type failingList struct {
	*fakeManager
}

func (failingList) ListPipelines(ctx context.Context) ([]manager.Pipeline, error) {
	return nil, errors.New("manager unavailable")
}
