package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/pipeline-console/pkg/infra/manager"
)

func TestProject(t *testing.T) {
	tests := []struct {
		server ServerStatus
		want   ClientStatus
	}{
		{manager.PipelineStatusShutdown, StatusInactive},
		{manager.PipelineStatusProvisioning, StatusProvisioning},
		{manager.PipelineStatusInitializing, StatusInitializing},
		{manager.PipelineStatusPaused, StatusPaused},
		{manager.PipelineStatusRunning, StatusRunning},
		{manager.PipelineStatusShuttingDown, StatusShuttingDown},
		{manager.PipelineStatusFailed, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.server.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Project(tt.server))
		})
	}
}

func TestProject_CoversEveryServerStatus(t *testing.T) {
	seen := make(map[ClientStatus]ServerStatus)
	for _, s := range ServerStatuses() {
		got := Project(s)
		assert.NotEqual(t, StatusUnknown, got, "server status %s has no projection", s)
		prev, dup := seen[got]
		assert.False(t, dup, "%s and %s both project to %s", prev, s, got)
		seen[got] = s
	}
	assert.Len(t, seen, int(manager.NumPipelineStatuses))
}

func TestProject_OutOfRange(t *testing.T) {
	assert.Equal(t, StatusUnknown, Project(manager.NumPipelineStatuses))
	assert.Equal(t, StatusUnknown, Project(-1))
}

func TestProject_NeverOptimistic(t *testing.T) {
	for _, s := range ServerStatuses() {
		got := Project(s)
		assert.NotEqual(t, StatusStarting, got)
		assert.NotEqual(t, StatusPausing, got)
	}
}

func TestClientStatus_Names(t *testing.T) {
	for _, s := range ClientStatuses() {
		name := s.String()
		require.NotEmpty(t, name)

		parsed, err := ParseClientStatus(name)
		require.NoError(t, err)
		assert.Equal(t, s, parsed)

		text, err := s.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, name, string(text))
	}

	assert.Equal(t, "SHUTTING_DOWN", StatusShuttingDown.String())
	assert.Equal(t, "ClientStatus(99)", ClientStatus(99).String())

	_, err := ParseClientStatus("Running")
	assert.Error(t, err)
}

func TestClientStatus_Pending(t *testing.T) {
	pending := map[ClientStatus]bool{
		StatusProvisioning: true,
		StatusInitializing: true,
		StatusStarting:     true,
		StatusPausing:      true,
		StatusShuttingDown: true,
	}
	for _, s := range ClientStatuses() {
		assert.Equal(t, pending[s], s.Pending(), s.String())
	}
}
