package pipeline

import (
	"fmt"

	"github.com/jguan/pipeline-console/pkg/infra/manager"
	"github.com/jguan/pipeline-console/pkg/unit"
)

type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Connection is an attached connector together with its descriptor.
type Connection struct {
	Attached  manager.AttachedConnector
	Connector manager.ConnectorDescr
}

// ConnectorData is one relation of the program and the connectors bound
// to it.
type ConnectorData struct {
	Relation    manager.Relation
	Connections []Connection
}

// ConnectorNames returns the names of the bound connectors.
func (d ConnectorData) ConnectorNames() []string {
	out := make([]string, 0, len(d.Connections))
	for _, c := range d.Connections {
		out = append(out, c.Connector.Name)
	}
	return out
}

// JoinConnectors joins the relations of rev's program with the connectors
// attached to them. A revision without a schema or with an attachment to
// an unknown connector is malformed and yields ErrInvariantViolation; the
// latter also matches ErrConnectorNotFound.
func JoinConnectors(rev *manager.PipelineRevision, dir Direction) ([]ConnectorData, error) {
	if rev == nil {
		return nil, nil
	}
	schema := rev.Program.Schema
	if schema == nil {
		return nil, unit.NewDomainError(domain, unit.ErrCodePipelineInvariant, "pipeline revision has no schema")
	}

	relations := schema.Inputs
	if dir == DirectionOutput {
		relations = schema.Outputs
	}

	connectors := make(map[string]manager.ConnectorDescr, len(rev.Connectors))
	for _, c := range rev.Connectors {
		connectors[c.ConnectorID] = c
	}

	out := make([]ConnectorData, 0, len(relations))
	for _, rel := range relations {
		data := ConnectorData{Relation: rel}
		for _, ac := range rev.Pipeline.AttachedConnectors {
			if ac.RelationName != rel.Name {
				continue
			}
			c, ok := connectors[ac.ConnectorID]
			if !ok {
				return nil, unit.WrapDomainError(ErrConnectorNotFound, domain, unit.ErrCodePipelineInvariant,
					fmt.Sprintf("attached connector %q has no connector", ac.Name)).
					WithDetails("connector_id", ac.ConnectorID)
			}
			data.Connections = append(data.Connections, Connection{Attached: ac, Connector: c})
		}
		out = append(out, data)
	}
	return out, nil
}
