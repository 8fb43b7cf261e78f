package content

import (
	"encoding/json"

	"github.com/lumenworks/backoffice/internal/hierarchy"
)

// DraftFields projects a persisted record into the field map an edit session
// is seeded from. Missing payload fields are backfilled from the kind's
// template so every form field carries an explicit value; the structural
// parent_id and position columns rejoin the map under their template names.
func DraftFields(record Record) (map[string]any, error) {
	kind, err := NewKind(record.Kind)
	if err != nil {
		return nil, err
	}

	fields := TemplateFor(kind)
	if record.PayloadJSON != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(record.PayloadJSON), &payload); err != nil {
			return nil, err
		}
		for field, value := range payload {
			if _, known := fields[field]; !known {
				continue
			}
			fields[field] = value
		}
	}
	if _, known := fields["parent_id"]; known {
		fields["parent_id"] = record.ParentID
	}
	if _, known := fields["position"]; known {
		fields["position"] = record.Position
	}
	return fields, nil
}

// FlatNodes converts records into the flat node form the tree builder
// consumes. Payload decoding failures leave that node's payload empty rather
// than dropping the node; structure is carried by the columns, not the
// payload.
func FlatNodes(records []Record) []hierarchy.FlatNode {
	nodes := make([]hierarchy.FlatNode, 0, len(records))
	for _, record := range records {
		payload := map[string]any{}
		if record.PayloadJSON != "" {
			_ = json.Unmarshal([]byte(record.PayloadJSON), &payload)
		}
		nodes = append(nodes, hierarchy.FlatNode{
			ID:       record.RecordID,
			ParentID: record.ParentID,
			Order:    record.Position,
			Payload:  payload,
		})
	}
	return nodes
}
