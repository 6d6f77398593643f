// Package pipeline tracks the client-observed status of pipelines, runs
// lifecycle actions against the pipeline manager and reconciles optimistic
// local state with polled server state.
package pipeline

import (
	"fmt"

	"github.com/jguan/pipeline-console/pkg/infra/manager"
)

// ServerStatus is the status reported by the pipeline manager.
type ServerStatus = manager.PipelineStatus

// ClientStatus is what the console currently shows for a pipeline. It adds
// optimistic states (Starting, Pausing) that exist only between a user
// action and server confirmation.
type ClientStatus int

const (
	StatusUnknown ClientStatus = iota
	StatusInactive
	StatusProvisioning
	StatusInitializing
	StatusStarting
	StatusRunning
	StatusPausing
	StatusPaused
	StatusShuttingDown
	StatusFailed
	StatusCreateFailure
	StatusStartupFailure

	numClientStatuses
)

var clientStatusNames = [numClientStatuses]string{
	StatusUnknown:        "UNKNOWN",
	StatusInactive:       "INACTIVE",
	StatusProvisioning:   "PROVISIONING",
	StatusInitializing:   "INITIALIZING",
	StatusStarting:       "STARTING",
	StatusRunning:        "RUNNING",
	StatusPausing:        "PAUSING",
	StatusPaused:         "PAUSED",
	StatusShuttingDown:   "SHUTTING_DOWN",
	StatusFailed:         "FAILED",
	StatusCreateFailure:  "CREATE_FAILURE",
	StatusStartupFailure: "STARTUP_FAILURE",
}

// ClientStatuses returns every client status in declaration order.
func ClientStatuses() []ClientStatus {
	out := make([]ClientStatus, 0, numClientStatuses)
	for s := ClientStatus(0); s < numClientStatuses; s++ {
		out = append(out, s)
	}
	return out
}

func (s ClientStatus) String() string {
	if s < 0 || s >= numClientStatuses {
		return fmt.Sprintf("ClientStatus(%d)", int(s))
	}
	return clientStatusNames[s]
}

func (s ClientStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func ParseClientStatus(name string) (ClientStatus, error) {
	for i, n := range clientStatusNames {
		if n == name {
			return ClientStatus(i), nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown client status %q", name)
}

// Pending reports whether s is a state the pipeline is expected to leave on
// its own.
func (s ClientStatus) Pending() bool {
	switch s {
	case StatusProvisioning, StatusInitializing, StatusStarting, StatusPausing, StatusShuttingDown:
		return true
	default:
		return false
	}
}

// ServerStatuses returns every server status in declaration order.
func ServerStatuses() []ServerStatus {
	return manager.PipelineStatuses()
}

// The projection table below must cover every server status. These two
// constants overflow, and the build fails, when the count changes.
const (
	_ = uint(manager.NumPipelineStatuses - 7)
	_ = uint(7 - manager.NumPipelineStatuses)
)

var projection = [manager.NumPipelineStatuses]ClientStatus{
	manager.PipelineStatusShutdown:     StatusInactive,
	manager.PipelineStatusProvisioning: StatusProvisioning,
	manager.PipelineStatusInitializing: StatusInitializing,
	manager.PipelineStatusPaused:       StatusPaused,
	manager.PipelineStatusRunning:      StatusRunning,
	manager.PipelineStatusShuttingDown: StatusShuttingDown,
	manager.PipelineStatusFailed:       StatusFailed,
}

// Project maps a server status to the client status shown once the server
// has settled on it.
func Project(s ServerStatus) ClientStatus {
	if s < 0 || s >= manager.NumPipelineStatuses {
		return StatusUnknown
	}
	return projection[s]
}
