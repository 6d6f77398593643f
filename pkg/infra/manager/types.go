package manager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// PipelineStatus is the server-reported runtime status of a pipeline.
type PipelineStatus int

const (
	PipelineStatusShutdown PipelineStatus = iota
	PipelineStatusProvisioning
	PipelineStatusInitializing
	PipelineStatusPaused
	PipelineStatusRunning
	PipelineStatusShuttingDown
	PipelineStatusFailed

	// NumPipelineStatuses must stay last.
	NumPipelineStatuses
)

var pipelineStatusNames = [NumPipelineStatuses]string{
	PipelineStatusShutdown:     "Shutdown",
	PipelineStatusProvisioning: "Provisioning",
	PipelineStatusInitializing: "Initializing",
	PipelineStatusPaused:       "Paused",
	PipelineStatusRunning:      "Running",
	PipelineStatusShuttingDown: "ShuttingDown",
	PipelineStatusFailed:       "Failed",
}

// PipelineStatuses returns every server status in declaration order.
func PipelineStatuses() []PipelineStatus {
	out := make([]PipelineStatus, 0, NumPipelineStatuses)
	for s := PipelineStatus(0); s < NumPipelineStatuses; s++ {
		out = append(out, s)
	}
	return out
}

func (s PipelineStatus) String() string {
	if s < 0 || s >= NumPipelineStatuses {
		return fmt.Sprintf("PipelineStatus(%d)", int(s))
	}
	return pipelineStatusNames[s]
}

// ParsePipelineStatus parses the wire name of a status.
func ParsePipelineStatus(name string) (PipelineStatus, error) {
	for i, n := range pipelineStatusNames {
		if n == name {
			return PipelineStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown pipeline status %q", name)
}

func (s PipelineStatus) MarshalText() ([]byte, error) {
	if s < 0 || s >= NumPipelineStatuses {
		return nil, fmt.Errorf("invalid pipeline status %d", int(s))
	}
	return []byte(pipelineStatusNames[s]), nil
}

func (s *PipelineStatus) UnmarshalText(b []byte) error {
	v, err := ParsePipelineStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// PipelineAction is a lifecycle command accepted by the action endpoint.
type PipelineAction string

const (
	ActionStart    PipelineAction = "start"
	ActionPause    PipelineAction = "pause"
	ActionShutdown PipelineAction = "shutdown"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message   string         `json:"message"`
	ErrorCode string         `json:"error_code"`
	Details   map[string]any `json:"details,omitempty"`
}

type AttachedConnector struct {
	Name         string `json:"name"`
	IsInput      bool   `json:"is_input"`
	ConnectorID  string `json:"connector_id"`
	RelationName string `json:"relation_name"`
}

type PipelineDescr struct {
	PipelineID         string              `json:"pipeline_id"`
	ProgramID          *string             `json:"program_id,omitempty"`
	Version            int64               `json:"version"`
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	Config             map[string]any      `json:"config,omitempty"`
	AttachedConnectors []AttachedConnector `json:"attached_connectors"`
}

type PipelineRuntimeState struct {
	Location      string         `json:"location"`
	DesiredStatus PipelineStatus `json:"desired_status"`
	CurrentStatus PipelineStatus `json:"current_status"`
	StatusSince   *time.Time     `json:"status_since,omitempty"`
	Error         *ErrorResponse `json:"error,omitempty"`
	Created       *time.Time     `json:"created,omitempty"`
}

// Pipeline is one record of the pipeline list.
type Pipeline struct {
	Descriptor PipelineDescr        `json:"descriptor"`
	State      PipelineRuntimeState `json:"state"`
}

type Field struct {
	Name     string          `json:"name"`
	Nullable bool            `json:"nullable"`
	Type     json.RawMessage `json:"columntype,omitempty"`
}

// Relation is a SQL table or view.
type Relation struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

type ProgramSchema struct {
	Inputs  []Relation `json:"inputs"`
	Outputs []Relation `json:"outputs"`
}

// ProgramStatus is kept raw: the manager encodes compile errors as objects
// and the other states as plain strings.
type ProgramStatus json.RawMessage

// Ready reports whether the program compiled successfully.
func (s ProgramStatus) Ready() bool {
	var name string
	if err := json.Unmarshal(s, &name); err != nil {
		return false
	}
	return name == "Success"
}

func (s ProgramStatus) String() string {
	var name string
	if err := json.Unmarshal(s, &name); err == nil && name != "" {
		return name
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(s, &obj); err == nil {
		for k := range obj {
			return k
		}
	}
	return string(bytes.TrimSpace(s))
}

func (s ProgramStatus) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return s, nil
}

func (s *ProgramStatus) UnmarshalJSON(b []byte) error {
	*s = append((*s)[:0], b...)
	return nil
}

type ProgramDescr struct {
	ProgramID   string         `json:"program_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Version     int64          `json:"version"`
	Status      ProgramStatus  `json:"status"`
	Schema      *ProgramSchema `json:"schema,omitempty"`
	Code        *string        `json:"code,omitempty"`
}

type ConnectorDescr struct {
	ConnectorID string         `json:"connector_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config,omitempty"`
}

// PipelineRevision is the last deployed snapshot of a pipeline.
type PipelineRevision struct {
	Revision   string           `json:"revision"`
	Pipeline   PipelineDescr    `json:"pipeline"`
	Connectors []ConnectorDescr `json:"connectors"`
	Program    ProgramDescr     `json:"program"`
}

type UpdatePipelineRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	ProgramID   *string              `json:"program_id,omitempty"`
	Connectors  *[]AttachedConnector `json:"connectors,omitempty"`
}

type UpdatePipelineResponse struct {
	Version int64 `json:"version"`
}

type GlobalMetrics struct {
	RSSBytes              uint64 `json:"rss_bytes"`
	BufferedInputRecords  uint64 `json:"buffered_input_records"`
	TotalInputRecords     uint64 `json:"total_input_records"`
	TotalProcessedRecords uint64 `json:"total_processed_records"`
	PipelineComplete      bool   `json:"pipeline_complete"`
}

type InputEndpointMetrics struct {
	TotalBytes     uint64 `json:"total_bytes"`
	TotalRecords   uint64 `json:"total_records"`
	BufferedRecs   uint64 `json:"buffered_records"`
	NumParseErrors uint64 `json:"num_parse_errors"`
	EndOfInput     bool   `json:"end_of_input"`
}

type OutputEndpointMetrics struct {
	TransmittedRecords uint64 `json:"transmitted_records"`
	TransmittedBytes   uint64 `json:"transmitted_bytes"`
	BufferedRecords    uint64 `json:"buffered_records"`
	NumEncodeErrors    uint64 `json:"num_encode_errors"`
}

type EndpointConfig struct {
	Stream string `json:"stream"`
}

type InputEndpointStatus struct {
	EndpointName string               `json:"endpoint_name"`
	Config       EndpointConfig       `json:"config"`
	Metrics      InputEndpointMetrics `json:"metrics"`
	FatalError   *string              `json:"fatal_error,omitempty"`
}

type OutputEndpointStatus struct {
	EndpointName string                `json:"endpoint_name"`
	Config       EndpointConfig        `json:"config"`
	Metrics      OutputEndpointMetrics `json:"metrics"`
	FatalError   *string               `json:"fatal_error,omitempty"`
}

// PipelineStats is the body of the stats endpoint of a running pipeline.
type PipelineStats struct {
	GlobalMetrics GlobalMetrics          `json:"global_metrics"`
	Inputs        []InputEndpointStatus  `json:"inputs"`
	Outputs       []OutputEndpointStatus `json:"outputs"`
}
