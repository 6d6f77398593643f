package pipeline

import (
	"errors"

	"github.com/jguan/pipeline-console/pkg/infra/manager"
	"github.com/jguan/pipeline-console/pkg/unit"
)

const domain = "pipeline"

// Pipeline domain errors
var (
	ErrPipelineNotFound   = unit.NewDomainError(domain, unit.ErrCodePipelineNotFound, "pipeline not found")
	ErrActionFailed       = unit.NewDomainError(domain, unit.ErrCodePipelineActionFailed, "pipeline action failed")
	ErrRemoteRead         = unit.NewDomainError(domain, unit.ErrCodePipelineRemoteRead, "pipeline read failed")
	ErrInvariantViolation = unit.NewDomainError(domain, unit.ErrCodePipelineInvariant, "pipeline data violates an invariant")
	ErrNotApplicable      = unit.NewDomainError(domain, unit.ErrCodePipelineNotApplicable, "action not applicable in current status")
	ErrUpdateFailed       = unit.NewDomainError(domain, unit.ErrCodePipelineUpdateFailed, "pipeline update failed")
	ErrProgramNotFound    = unit.NewDomainError(domain, unit.ErrCodeProgramNotFound, "program not found")
	ErrConnectorNotFound  = unit.NewDomainError(domain, unit.ErrCodeConnectorNotFound, "connector not found")
)

// ErrorMessage returns the text shown to users for err: the manager's own
// message when there is one.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *manager.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	return err.Error()
}
