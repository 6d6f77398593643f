package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/jguan/pipeline-console/pkg/infra/cache"
	"github.com/jguan/pipeline-console/pkg/infra/logger"
	"github.com/jguan/pipeline-console/pkg/infra/manager"
	"github.com/jguan/pipeline-console/pkg/infra/notify"
	"github.com/jguan/pipeline-console/pkg/unit"
)

// DescriptorEdit is a change to a pipeline's name or description. Nil
// fields keep the current value.
type DescriptorEdit struct {
	Name        *string
	Description *string
}

// DescriptorEditor renames and re-describes pipelines.
type DescriptorEditor struct {
	api      API
	queries  *Queries
	notifier notify.Sink
	events   unit.EventPublisher
}

func NewDescriptorEditor(api API, queries *Queries, notifier notify.Sink, events unit.EventPublisher) *DescriptorEditor {
	if notifier == nil {
		notifier = notify.Discard
	}
	return &DescriptorEditor{api: api, queries: queries, notifier: notifier, events: events}
}

// Update applies edit to pipeline id, keeping its program and connectors.
// On failure the list and status reads are invalidated and the error is
// pushed to the notifier.
func (e *DescriptorEditor) Update(ctx context.Context, id string, edit DescriptorEdit) (int64, error) {
	if edit.Name == nil && edit.Description == nil {
		return 0, unit.NewError(unit.ErrCodeInvalidInput, "nothing to update")
	}
	if edit.Name != nil && strings.TrimSpace(*edit.Name) == "" {
		return 0, unit.NewError(unit.ErrCodeInvalidInput, "pipeline name cannot be empty")
	}

	current, err := e.queries.Status(ctx, id)
	if err != nil {
		return 0, err
	}

	req := manager.UpdatePipelineRequest{
		Name:        current.Descriptor.Name,
		Description: current.Descriptor.Description,
		ProgramID:   current.Descriptor.ProgramID,
	}
	if edit.Name != nil {
		req.Name = *edit.Name
	}
	if edit.Description != nil {
		req.Description = *edit.Description
	}

	resp, err := e.api.UpdatePipeline(ctx, id, req)
	c := e.queries.Cache()
	if err != nil {
		c.Invalidate(ListKey())
		c.Invalidate(cache.Key{Name: QueryPipelineStatus, ID: id})
		message := ErrorMessage(err)
		e.notifier.Push(notify.New(notify.SeverityError, message))
		logger.WithContext(logger.SetPipeline(ctx, id)).Warn("pipeline update failed", "error", message)
		return 0, unit.WrapDomainError(err, domain, unit.ErrCodePipelineUpdateFailed, fmt.Sprintf("update pipeline %s", id))
	}

	c.Invalidate(ListKey())
	c.Invalidate(cache.Key{Name: QueryPipelineStatus, ID: id})
	if e.events != nil {
		_ = e.events.Publish(NewDescriptorUpdatedEvent(id, req.Name, resp.Version))
	}
	return resp.Version, nil
}
