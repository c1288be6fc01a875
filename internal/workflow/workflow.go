// Package workflow defines the node graph submitted to ComfyUI and the
// override machinery that mutates it safely.
package workflow

import "encoding/json"

// Node is a single node in a ComfyUI workflow in API format.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs,omitempty"`

	// Extra carries fields outside class_type/inputs (e.g. _meta) so a
	// round-tripped workflow is submitted unchanged.
	Extra map[string]any `json:"-"`
}

// Workflow maps node IDs to nodes. A workflow is owned by the call processing
// one job and is never shared across concurrent jobs.
type Workflow map[string]Node

// MarshalJSON emits class_type, inputs and any extra fields as one object.
func (n Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Extra)+2)
	for k, v := range n.Extra {
		out[k] = v
	}
	out["class_type"] = n.ClassType
	if n.Inputs != nil {
		out["inputs"] = n.Inputs
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known fields from extras.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if ct, ok := raw["class_type"].(string); ok {
		n.ClassType = ct
	}
	if in, ok := raw["inputs"].(map[string]any); ok {
		n.Inputs = in
	}
	delete(raw, "class_type")
	delete(raw, "inputs")
	if len(raw) > 0 {
		n.Extra = raw
	}
	return nil
}

// Clone returns a structural deep copy of the workflow. Inputs values are a
// tagged tree of maps, slices and scalars as produced by JSON decoding.
func (w Workflow) Clone() Workflow {
	out := make(Workflow, len(w))
	for id, node := range w {
		out[id] = Node{
			ClassType: node.ClassType,
			Inputs:    cloneMap(node.Inputs),
			Extra:     cloneMap(node.Extra),
		}
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		// Scalars (string, float64, bool, nil) are immutable.
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}
