package flow

import (
	"context"
	"strconv"
	"strings"

	"github.com/dukex/chatflow/pkg/models"
)

// ApplyUserInput resumes a session blocked on an input, rating or template
// node. Input received while the session is not blocked is ignored and
// yields an empty Outcome.
func (i *Interpreter) ApplyUserInput(ctx context.Context, session *models.ChatSession, graph *models.FlowGraph, input Input) Outcome {
	outcome := Outcome{}

	if !session.IsBlocked() || session.IsClosed() || !session.IsBotDriven() {
		return outcome
	}

	if session.Vars == nil {
		session.Vars = make(map[string]any)
	}

	r := &run{graph: graph, session: session, outcome: &outcome}

	node, ok := graph.NodeByID(session.CurrentNodeID)
	if !ok {
		i.logger.WarnContext(ctx, "blocking node no longer exists", "session_id", session.ID, "node_id", session.CurrentNodeID)
		session.Unblock()

		return outcome
	}

	var next string

	switch node.Type {
	case models.NodeTypeInput:
		next = i.resumeInput(r, node, input)
	case models.NodeTypeRating:
		var accepted bool
		if next, accepted = i.resumeRating(r, node, input); !accepted {
			return outcome
		}
	case models.NodeTypeTemplate:
		var matched bool
		if next, matched = i.resumeTemplate(ctx, r, node, input); !matched {
			return outcome
		}
	default:
		session.Unblock()

		return outcome
	}

	session.Unblock()
	i.loop(ctx, r, next)

	return outcome
}

func (i *Interpreter) resumeInput(r *run, node *models.Node, input Input) string {
	value := input.Text
	if value == "" {
		value = input.ButtonID
	}

	name := variableName(node)
	if name == "" {
		name = LastInputVar
	}

	r.session.Vars[name] = value

	return follow(r, node)
}

// resumeRating accepts an integer 1..5. Anything else re-prompts and keeps
// the session blocked on the same node.
func (i *Interpreter) resumeRating(r *run, node *models.Node, input Input) (string, bool) {
	reply := strings.TrimSpace(input.Text)
	if reply == "" {
		reply = strings.TrimSpace(input.ButtonID)
	}

	score, err := strconv.Atoi(reply)
	if err != nil || score < 1 || score > 5 {
		errorText := node.String("errorText")
		if errorText == "" {
			errorText = DefaultRatingErrorText
		}

		i.say(r, errorText, nil)

		return "", false
	}

	r.session.Vars[RatingVar] = score
	if name := variableName(node); name != "" {
		r.session.Vars[name] = score
	}

	return follow(r, node), true
}

// resumeTemplate matches the reply to a button: by button id against the
// edge handles, then by label, then falls back to a single outgoing edge.
// An unmatched reply re-sends the template.
func (i *Interpreter) resumeTemplate(ctx context.Context, r *run, node *models.Node, input Input) (string, bool) {
	if input.ButtonID != "" {
		if edge, ok := r.graph.EdgeByHandle(node.ID, input.ButtonID); ok {
			r.session.Vars["last_choice"] = input.ButtonID

			return edge.Target, true
		}
	}

	template, err := ResolveTemplate(ctx, i.templates, r.session.TenantID, node.String("templateId"))
	if err == nil {
		reply := strings.TrimSpace(input.Text)

		for _, button := range template.Buttons {
			if !strings.EqualFold(reply, button.Label) && !strings.EqualFold(reply, button.ID) {
				continue
			}

			if edge, ok := r.graph.EdgeByHandle(node.ID, button.ID); ok {
				r.session.Vars["last_choice"] = button.ID

				return edge.Target, true
			}
		}
	}

	if edges := r.graph.OutgoingEdges(node.ID); len(edges) == 1 {
		return edges[0].Target, true
	}

	if err == nil {
		i.say(r, template.Text, template.Buttons)
	}

	return "", false
}
