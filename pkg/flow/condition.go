package flow

import (
	"context"
	"strings"

	"github.com/dukex/chatflow/pkg/interpolate"
	"github.com/dukex/chatflow/pkg/models"
)

// ElseHandle is taken by condition nodes when no condition matches.
const ElseHandle = "else"

// Condition is one ordered test of a condition node.
type Condition struct {
	ID       string
	Variable string
	Operator string
	Value    any
}

func (i *Interpreter) execCondition(ctx context.Context, r *run, node *models.Node) string {
	handle := ElseHandle

	for _, cond := range parseConditions(node.Data["conditions"]) {
		if cond.Matches(r.session.Vars) {
			handle = cond.ID

			break
		}
	}

	edge, ok := r.graph.EdgeByHandle(node.ID, handle)
	if !ok {
		i.logger.DebugContext(ctx, "condition branch has no edge",
			"session_id", r.session.ID, "node_id", node.ID, "handle", handle)

		return ""
	}

	return edge.Target
}

// Matches compares the variable against the value: strings case-insensitively
// for ==, != and contains; numerically for > and <.
func (c Condition) Matches(vars map[string]any) bool {
	actual, _ := interpolate.Lookup(vars, c.Variable)

	expected := c.Value
	if text, ok := expected.(string); ok {
		expected = interpolate.Interpolate(text, vars)
	}

	left := strings.TrimSpace(stringify(actual))
	right := strings.TrimSpace(stringify(expected))

	switch c.Operator {
	case "==", "=", "equals":
		return strings.EqualFold(left, right)
	case "!=", "notEquals":
		return !strings.EqualFold(left, right)
	case "contains":
		return strings.Contains(strings.ToLower(left), strings.ToLower(right))
	case ">", "<":
		l, lok := toFloat(actual)
		rv, rok := toFloat(expected)

		if !lok || !rok {
			return false
		}

		if c.Operator == ">" {
			return l > rv
		}

		return l < rv
	default:
		return false
	}
}

func parseConditions(raw any) []Condition {
	items, _ := raw.([]any)
	conditions := make([]Condition, 0, len(items))

	for _, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}

		cond := Condition{Value: fields["value"]}
		cond.ID, _ = fields["id"].(string)
		cond.Variable, _ = fields["variable"].(string)
		cond.Operator, _ = fields["operator"].(string)

		if cond.ID == "" {
			continue
		}

		conditions = append(conditions, cond)
	}

	return conditions
}
