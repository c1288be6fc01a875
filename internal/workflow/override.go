package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Override is one field mutation applied to a workflow before submission.
// Field is a dot-separated path inside the node record, e.g. "inputs.seed".
type Override struct {
	NodeID string `json:"node_id"`
	Field  string `json:"field"`
	Value  any    `json:"value"`
}

// ErrEmptyField is returned when an override has a zero-segment field path.
var ErrEmptyField = errors.New("override field path is empty")

// Validate rejects malformed overrides at parse time. Apply assumes its
// input has passed Validate.
func (o Override) Validate() error {
	if o.NodeID == "" {
		return errors.New("override node_id is empty")
	}
	if o.Field == "" {
		return ErrEmptyField
	}
	for _, seg := range strings.Split(o.Field, ".") {
		if seg == "" {
			return fmt.Errorf("override field %q has an empty path segment", o.Field)
		}
	}
	return nil
}

// ValidateOverrides validates a whole override list.
func ValidateOverrides(overrides []Override) error {
	for i, o := range overrides {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("override %d: %w", i, err)
		}
	}
	return nil
}

// Apply returns a new workflow with the overrides applied in order; later
// overrides on the same path win. The input workflow is never mutated.
// Overrides naming an unknown node are skipped; one warning per skip is
// returned alongside the result.
func Apply(wf Workflow, overrides []Override, logger *slog.Logger) (Workflow, []string) {
	out := wf.Clone()
	var warnings []string

	for _, o := range overrides {
		node, ok := out[o.NodeID]
		if !ok {
			msg := fmt.Sprintf("node %s not found in workflow", o.NodeID)
			warnings = append(warnings, msg)
			logger.Warn("override skipped", "node_id", o.NodeID, "field", o.Field)
			continue
		}

		setField(&node, o.Field, o.Value)
		out[o.NodeID] = node
		logger.Info("applied override", "node_id", o.NodeID, "field", o.Field, "value", o.Value)
	}

	return out, warnings
}

// setField walks the dot path, creating missing intermediate maps, and sets
// the final segment unconditionally. No type checking: an override may
// replace a scalar with a map or vice versa.
func setField(node *Node, field string, value any) {
	segments := strings.Split(field, ".")

	switch segments[0] {
	case "inputs":
		if len(segments) == 1 {
			if m, ok := value.(map[string]any); ok {
				node.Inputs = m
			}
			return
		}
		if node.Inputs == nil {
			node.Inputs = make(map[string]any)
		}
		setPath(node.Inputs, segments[1:], value)
	case "class_type":
		if len(segments) == 1 {
			if s, ok := value.(string); ok {
				node.ClassType = s
			}
			return
		}
		fallthrough
	default:
		if node.Extra == nil {
			node.Extra = make(map[string]any)
		}
		setPath(node.Extra, segments, value)
	}
}

func setPath(m map[string]any, segments []string, value any) {
	current := m
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[seg] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}
