package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/interpolate"
	"github.com/dukex/chatflow/pkg/models"
)

const (
	// StartPlaceholderText is the editor's default start label; it is never sent.
	StartPlaceholderText = "Início"

	// DefaultRatingErrorText re-prompts a rating node without data.errorText.
	DefaultRatingErrorText = "Por favor, responda com um número de 1 a 5."

	// DefaultQueue is used by queue nodes without data.queue.
	DefaultQueue = "default"

	// LastInputVar receives input replies when the node names no variable.
	LastInputVar = "last_input"

	// RatingVar receives validated rating replies.
	RatingVar = "nota"
)

// ratingVars are checked, in order, by end nodes for a collected rating.
var ratingVars = []string{"nota", "rating", "avaliacao"}

func (i *Interpreter) execMessage(_ context.Context, r *run, node *models.Node) string {
	if text := node.String("text"); strings.TrimSpace(text) != StartPlaceholderText {
		i.say(r, text, nil)
	}

	return follow(r, node)
}

func (i *Interpreter) execInput(_ context.Context, r *run, node *models.Node) string {
	i.say(r, node.String("text"), nil)
	r.session.Block(node.ID)

	return ""
}

func (i *Interpreter) execRating(_ context.Context, r *run, node *models.Node) string {
	i.say(r, node.String("text"), nil)
	r.session.Block(node.ID)

	return ""
}

func (i *Interpreter) execTemplate(ctx context.Context, r *run, node *models.Node) string {
	templateID := node.String("templateId")

	template, err := ResolveTemplate(ctx, i.templates, r.session.TenantID, templateID)
	if err != nil {
		i.logger.WarnContext(ctx, "template not resolved",
			"session_id", r.session.ID, "template_id", templateID, "error", err)
		i.emit(r, fmt.Sprintf("Template não encontrado: %s", templateID), nil)

		return follow(r, node)
	}

	i.say(r, template.Text, template.Buttons)

	if template.HasButtons() {
		r.session.Block(node.ID)

		return ""
	}

	return follow(r, node)
}

func (i *Interpreter) execSetValue(_ context.Context, r *run, node *models.Node) string {
	name := variableName(node)
	if name != "" {
		value := node.Data["value"]
		if text, ok := value.(string); ok {
			value = interpolate.Interpolate(text, r.session.Vars)
		}

		r.session.Vars[name] = value
	}

	return follow(r, node)
}

func (i *Interpreter) execDelay(ctx context.Context, r *run, node *models.Node) string {
	target := follow(r, node)
	if target == "" {
		return ""
	}

	seconds, _ := toFloat(node.Data["delay"])
	if seconds < 0 {
		seconds = 0
	}

	r.outcome.Continuations = append(r.outcome.Continuations, Continuation{
		SessionID: r.session.ID,
		NodeID:    target,
		After:     time.Duration(seconds * float64(time.Second)),
	})

	i.logger.DebugContext(ctx, "delay scheduled", "session_id", r.session.ID, "node_id", target, "seconds", seconds)

	return ""
}

func (i *Interpreter) execGoto(ctx context.Context, r *run, node *models.Node) string {
	name := node.String("anchorName")

	anchor, ok := r.graph.AnchorByName(name)
	if !ok {
		i.logger.WarnContext(ctx, "goto target not found", "session_id", r.session.ID, "anchor", name)
		i.emit(r, fmt.Sprintf("Âncora não encontrada: %s", name), nil)

		return ""
	}

	return anchor.ID
}

func (i *Interpreter) execPassThrough(_ context.Context, r *run, node *models.Node) string {
	return follow(r, node)
}

func (i *Interpreter) execQueue(ctx context.Context, r *run, node *models.Node) string {
	queue := strings.TrimSpace(interpolate.Interpolate(node.String("queue"), r.session.Vars))
	if queue == "" {
		queue = DefaultQueue
	}

	continueFlow, _ := node.Data["continueFlow"].(bool)

	i.say(r, node.String("message"), nil)

	err := r.session.EnqueueForAgent(queue, follow(r, node), continueFlow, i.now())
	if err != nil {
		i.logger.ErrorContext(ctx, "failed to enqueue session", "session_id", r.session.ID, "error", err)

		return ""
	}

	if preferred := node.String("agentId"); preferred != "" {
		r.session.PreferredAgentID = preferred
	}

	return ""
}

func (i *Interpreter) execEnd(_ context.Context, r *run, node *models.Node) string {
	i.say(r, node.String("text"), nil)

	if r.session.AgentID != "" {
		for _, name := range ratingVars {
			if score, ok := ratingScore(r.session.Vars[name]); ok {
				r.outcome.Rating = &AgentRating{AgentID: r.session.AgentID, Score: score}

				break
			}
		}
	}

	r.session.Close(i.now())

	return ""
}

func (i *Interpreter) execSchedule(ctx context.Context, r *run, node *models.Node) string {
	scheduleID := node.String("scheduleId")
	open := false

	schedule, err := i.lookupSchedule(ctx, scheduleID)
	if err != nil {
		i.logger.WarnContext(ctx, "schedule not resolved, treating as closed",
			"session_id", r.session.ID, "schedule_id", scheduleID, "error", err)
	} else {
		open = schedule.IsOpen(i.now())
	}

	branch := "outside"
	if open {
		branch = "inside"
	}

	return scheduleBranch(r.graph, node.ID, branch)
}

func (i *Interpreter) lookupSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	if i.schedules == nil {
		return nil, errors.New("no schedule store configured")
	}

	return i.schedules.Get(ctx, id)
}

// scheduleBranch picks the subtree for branch ("inside" or "outside"): a
// child node named child_<id>_<branch>*, then an edge with that handle, then
// an outgoing edge into a case node labelled with the branch.
func scheduleBranch(graph *models.FlowGraph, nodeID, branch string) string {
	if child, ok := graph.NodeByIDPrefix("child_" + nodeID + "_" + branch); ok {
		return child.ID
	}

	if edge, ok := graph.EdgeByHandle(nodeID, branch); ok {
		return edge.Target
	}

	for _, edge := range graph.OutgoingEdges(nodeID) {
		target, ok := graph.NodeByID(edge.Target)
		if ok && target.Type == models.NodeTypeCase && strings.EqualFold(target.String("label"), branch) {
			return target.ID
		}
	}

	return ""
}

// variableName returns the variable a node writes to.
func variableName(node *models.Node) string {
	if name := node.String("variable"); name != "" {
		return name
	}

	return node.String("varName")
}
