package pipeline

import (
	"context"

	"github.com/jguan/pipeline-console/pkg/infra/manager"
)

// API is the part of the pipeline manager the console depends on.
type API interface {
	ListPipelines(ctx context.Context) ([]manager.Pipeline, error)
	GetPipeline(ctx context.Context, id string) (*manager.Pipeline, error)
	GetPipelineConfig(ctx context.Context, id string) (string, error)
	PipelineDeployed(ctx context.Context, id string) (*manager.PipelineRevision, error)
	PipelineValidate(ctx context.Context, id string) (string, error)
	PipelineStats(ctx context.Context, id string) (*manager.PipelineStats, error)
	PipelineAction(ctx context.Context, id string, action manager.PipelineAction) error
	DeletePipeline(ctx context.Context, id string) error
	UpdatePipeline(ctx context.Context, id string, req manager.UpdatePipelineRequest) (*manager.UpdatePipelineResponse, error)
	GetProgram(ctx context.Context, id string, withCode bool) (*manager.ProgramDescr, error)
}

var _ API = (*manager.Client)(nil)
