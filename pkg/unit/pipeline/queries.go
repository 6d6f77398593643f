package pipeline

import (
	"context"
	"fmt"

	"github.com/jguan/pipeline-console/pkg/infra/cache"
	"github.com/jguan/pipeline-console/pkg/infra/manager"
	"github.com/jguan/pipeline-console/pkg/unit"
)

// Queries are the cached reads of the console. Failures are wrapped with
// ErrCodePipelineRemoteRead and never fall back to stale data.
type Queries struct {
	api   API
	cache *cache.QueryCache
}

func NewQueries(api API, c *cache.QueryCache) *Queries {
	return &Queries{api: api, cache: c}
}

func (q *Queries) Cache() *cache.QueryCache {
	return q.cache
}

func fetch[T any](ctx context.Context, c *cache.QueryCache, k cache.Key, fn func(context.Context) (T, error)) (T, error) {
	v, err := c.Fetch(ctx, k, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, unit.WrapDomainError(err, domain, unit.ErrCodePipelineRemoteRead, fmt.Sprintf("read %s", k))
	}
	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, unit.NewDomainError(domain, unit.ErrCodePipelineInvariant, fmt.Sprintf("cached %s has type %T", k, v))
	}
	return out, nil
}

// List returns the pipeline list, from cache while it is fresh.
func (q *Queries) List(ctx context.Context) ([]manager.Pipeline, error) {
	return fetch(ctx, q.cache, ListKey(), q.api.ListPipelines)
}

// Status returns one pipeline record.
func (q *Queries) Status(ctx context.Context, id string) (*manager.Pipeline, error) {
	return fetch(ctx, q.cache, key(QueryPipelineStatus, id), func(ctx context.Context) (*manager.Pipeline, error) {
		return q.api.GetPipeline(ctx, id)
	})
}

func (q *Queries) Config(ctx context.Context, id string) (string, error) {
	return fetch(ctx, q.cache, key(QueryPipelineConfig, id), func(ctx context.Context) (string, error) {
		return q.api.GetPipelineConfig(ctx, id)
	})
}

// LastRevision returns the last deployed revision, nil if never deployed.
func (q *Queries) LastRevision(ctx context.Context, id string) (*manager.PipelineRevision, error) {
	return fetch(ctx, q.cache, key(QueryPipelineLastRevision, id), func(ctx context.Context) (*manager.PipelineRevision, error) {
		return q.api.PipelineDeployed(ctx, id)
	})
}

func (q *Queries) Validation(ctx context.Context, id string) (string, error) {
	return fetch(ctx, q.cache, key(QueryPipelineValidate, id), func(ctx context.Context) (string, error) {
		return q.api.PipelineValidate(ctx, id)
	})
}

// Stats always reads from the manager; the result is cached for Peek only.
func (q *Queries) Stats(ctx context.Context, id string) (*manager.PipelineStats, error) {
	q.cache.Invalidate(key(QueryPipelineStats, id))
	return fetch(ctx, q.cache, key(QueryPipelineStats, id), func(ctx context.Context) (*manager.PipelineStats, error) {
		return q.api.PipelineStats(ctx, id)
	})
}

func (q *Queries) Program(ctx context.Context, id string) (*manager.ProgramDescr, error) {
	return fetch(ctx, q.cache, key(QueryProgram, id), func(ctx context.Context) (*manager.ProgramDescr, error) {
		return q.api.GetProgram(ctx, id, true)
	})
}

// ProgramReady reports whether the program attached to p compiled. A
// pipeline without a program is never ready. A reference to a program the
// manager no longer knows yields ErrProgramNotFound.
func (q *Queries) ProgramReady(ctx context.Context, p manager.Pipeline) (bool, error) {
	if p.Descriptor.ProgramID == nil || *p.Descriptor.ProgramID == "" {
		return false, nil
	}
	id := *p.Descriptor.ProgramID
	prog, err := q.Program(ctx, id)
	if err != nil {
		if unit.IsNotFound(err) {
			return false, unit.WrapDomainError(err, domain, unit.ErrCodeProgramNotFound, "program "+id+" not found").
				WithDetails("pipeline_id", p.Descriptor.PipelineID)
		}
		return false, err
	}
	return prog.Status.Ready(), nil
}
