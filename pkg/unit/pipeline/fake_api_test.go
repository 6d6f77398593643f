package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/jguan/pipeline-console/pkg/infra/manager"
	"github.com/jguan/pipeline-console/pkg/unit"
)

var errFakeNotConfigured = errors.New("fake api: not configured")

type actionCall struct {
	ID     string
	Action manager.PipelineAction
}

// fakeAPI records calls and answers from the configured funcs.
type fakeAPI struct {
	mu sync.Mutex

	pipelines []manager.Pipeline
	listErr   error
	listCalls int
	listHook  func(ctx context.Context)

	actionFn    func(ctx context.Context, id string, action manager.PipelineAction) error
	actionCalls []actionCall

	deleteFn    func(ctx context.Context, id string) error
	deleteCalls []string

	getFn       func(ctx context.Context, id string) (*manager.Pipeline, error)
	configFn    func(ctx context.Context, id string) (string, error)
	deployedFn  func(ctx context.Context, id string) (*manager.PipelineRevision, error)
	validateFn  func(ctx context.Context, id string) (string, error)
	statsFn     func(ctx context.Context, id string) (*manager.PipelineStats, error)
	updateFn    func(ctx context.Context, id string, req manager.UpdatePipelineRequest) (*manager.UpdatePipelineResponse, error)
	programFn   func(ctx context.Context, id string, withCode bool) (*manager.ProgramDescr, error)
	getCalls    int
	configCalls int
}

var _ API = (*fakeAPI)(nil)

func (f *fakeAPI) setPipelines(ps ...manager.Pipeline) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pipelines = ps
}

func (f *fakeAPI) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *fakeAPI) actions() []actionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]actionCall, len(f.actionCalls))
	copy(out, f.actionCalls)
	return out
}

func (f *fakeAPI) ListPipelines(ctx context.Context) ([]manager.Pipeline, error) {
	if f.listHook != nil {
		f.listHook(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]manager.Pipeline, len(f.pipelines))
	copy(out, f.pipelines)
	return out, nil
}

func (f *fakeAPI) GetPipeline(ctx context.Context, id string) (*manager.Pipeline, error) {
	f.mu.Lock()
	f.getCalls++
	fn := f.getFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pipelines {
		if p.Descriptor.PipelineID == id {
			p := p
			return &p, nil
		}
	}
	return nil, &manager.APIError{StatusCode: 404, Body: manager.ErrorResponse{Message: "Unknown pipeline id '" + id + "'"}}
}

func (f *fakeAPI) GetPipelineConfig(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	f.configCalls++
	f.mu.Unlock()
	if f.configFn != nil {
		return f.configFn(ctx, id)
	}
	return "workers: 4\n", nil
}

func (f *fakeAPI) PipelineDeployed(ctx context.Context, id string) (*manager.PipelineRevision, error) {
	if f.deployedFn != nil {
		return f.deployedFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeAPI) PipelineValidate(ctx context.Context, id string) (string, error) {
	if f.validateFn != nil {
		return f.validateFn(ctx, id)
	}
	return "Pipeline successfully validated", nil
}

func (f *fakeAPI) PipelineStats(ctx context.Context, id string) (*manager.PipelineStats, error) {
	if f.statsFn != nil {
		return f.statsFn(ctx, id)
	}
	return nil, errFakeNotConfigured
}

func (f *fakeAPI) PipelineAction(ctx context.Context, id string, action manager.PipelineAction) error {
	f.mu.Lock()
	f.actionCalls = append(f.actionCalls, actionCall{ID: id, Action: action})
	fn := f.actionFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, id, action)
	}
	return nil
}

func (f *fakeAPI) DeletePipeline(ctx context.Context, id string) error {
	f.mu.Lock()
	f.deleteCalls = append(f.deleteCalls, id)
	fn := f.deleteFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, id)
	}
	return nil
}

func (f *fakeAPI) UpdatePipeline(ctx context.Context, id string, req manager.UpdatePipelineRequest) (*manager.UpdatePipelineResponse, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, id, req)
	}
	return &manager.UpdatePipelineResponse{Version: 2}, nil
}

func (f *fakeAPI) GetProgram(ctx context.Context, id string, withCode bool) (*manager.ProgramDescr, error) {
	if f.programFn != nil {
		return f.programFn(ctx, id, withCode)
	}
	return nil, errFakeNotConfigured
}

func record(id string, current, desired manager.PipelineStatus) manager.Pipeline {
	return manager.Pipeline{
		Descriptor: manager.PipelineDescr{PipelineID: id, Name: "pipeline-" + id},
		State: manager.PipelineRuntimeState{
			CurrentStatus: current,
			DesiredStatus: desired,
		},
	}
}

// recordingPublisher collects published events synchronously.
type recordingPublisher struct {
	mu     sync.Mutex
	events []unit.Event
}

func (p *recordingPublisher) Publish(e unit.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type())
	}
	return out
}
