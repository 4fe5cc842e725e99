// Package flow interprets published flow graphs against chat sessions.
//
// Execution is a trampoline: every node handler returns the id of the next
// node (or "" to halt) and the loop advances until a node blocks for input,
// the session leaves the bot state, or the step budget runs out. Side effects
// that must not repeat (channel sends, delayed continuations, agent rating
// updates) are collected in an Outcome for the caller to apply after the
// session has been committed.
package flow

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/chatflow/pkg/interpolate"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/otelhelper"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultStepBudget bounds the nodes executed by a single invocation.
	DefaultStepBudget = 200

	// DefaultHTTPTimeout bounds httpRequest nodes without data.timeout.
	DefaultHTTPTimeout = 10 * time.Second

	// StepBudgetExceededText is emitted when a flow loops without blocking.
	StepBudgetExceededText = "Desculpe, ocorreu um erro ao processar sua mensagem. Tente novamente mais tarde."
)

// TemplateStore resolves templates; an empty tenant id is the global store.
type TemplateStore interface {
	Get(ctx context.Context, tenantID, id string) (*models.Template, error)
}

// ScheduleStore resolves business-hours schedules.
type ScheduleStore interface {
	Get(ctx context.Context, id string) (*models.Schedule, error)
}

// Config wires the interpreter collaborators. Zero values get defaults.
type Config struct {
	Templates   TemplateStore
	Schedules   ScheduleStore
	HTTPClient  *http.Client
	HTTPTimeout time.Duration
	StepBudget  int
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Now         func() time.Time
	NewID       func() string
}

// Interpreter executes flow graphs. It is safe for concurrent use; all
// per-run state lives in the session and the returned Outcome.
type Interpreter struct {
	templates   TemplateStore
	schedules   ScheduleStore
	httpClient  *http.Client
	httpTimeout time.Duration
	stepBudget  int
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
	newID       func() string
	handlers    map[models.NodeType]handler
}

// Input is a customer reply used to resume a blocked session.
type Input struct {
	Text     string
	ButtonID string
}

// Continuation is a delayed resumption of a session at NodeID.
type Continuation struct {
	SessionID string        `json:"session_id"`
	NodeID    string        `json:"node_id"`
	After     time.Duration `json:"after"`
}

// AgentRating is a collected 1-5 score to fold into an agent's average.
type AgentRating struct {
	AgentID string
	Score   int
}

// Outcome reports what a run produced besides the session mutations.
type Outcome struct {
	Messages      []models.Message
	Continuations []Continuation
	Rating        *AgentRating
	Steps         int
	BudgetHit     bool
}

// handler executes one node and returns the next node id, or "" to halt.
type handler func(ctx context.Context, r *run, node *models.Node) string

// run is the state of a single invocation.
type run struct {
	graph   *models.FlowGraph
	session *models.ChatSession
	outcome *Outcome
}

// NewInterpreter creates an interpreter with the given collaborators.
func NewInterpreter(cfg Config) *Interpreter {
	interp := &Interpreter{
		templates:   cfg.Templates,
		schedules:   cfg.Schedules,
		httpClient:  cfg.HTTPClient,
		httpTimeout: cfg.HTTPTimeout,
		stepBudget:  cfg.StepBudget,
		logger:      cfg.Logger,
		tracer:      cfg.Tracer,
		now:         cfg.Now,
		newID:       cfg.NewID,
	}

	if interp.httpClient == nil {
		interp.httpClient = &http.Client{}
	}

	if interp.httpTimeout <= 0 {
		interp.httpTimeout = DefaultHTTPTimeout
	}

	if interp.stepBudget <= 0 {
		interp.stepBudget = DefaultStepBudget
	}

	if interp.logger == nil {
		interp.logger = slog.Default()
	}

	if interp.tracer == nil {
		interp.tracer = otelhelper.Default()
	}

	if interp.now == nil {
		interp.now = func() time.Time { return time.Now().UTC() }
	}

	if interp.newID == nil {
		interp.newID = uuid.NewString
	}

	interp.handlers = map[models.NodeType]handler{
		models.NodeTypeStart:       interp.execMessage,
		models.NodeTypeMessage:     interp.execMessage,
		models.NodeTypeInput:       interp.execInput,
		models.NodeTypeRating:      interp.execRating,
		models.NodeTypeTemplate:    interp.execTemplate,
		models.NodeTypeCondition:   interp.execCondition,
		models.NodeTypeScript:      interp.execScript,
		models.NodeTypeHTTPRequest: interp.execHTTPRequest,
		models.NodeTypeSchedule:    interp.execSchedule,
		models.NodeTypeSetValue:    interp.execSetValue,
		models.NodeTypeDelay:       interp.execDelay,
		models.NodeTypeGoto:        interp.execGoto,
		models.NodeTypeAnchor:      interp.execPassThrough,
		models.NodeTypeCase:        interp.execPassThrough,
		models.NodeTypeQueue:       interp.execQueue,
		models.NodeTypeEnd:         interp.execEnd,
	}

	return interp
}

// Start runs the graph from its start node.
func (i *Interpreter) Start(ctx context.Context, graph *models.FlowGraph, session *models.ChatSession) Outcome {
	start, ok := graph.StartNode()
	if !ok {
		i.logger.WarnContext(ctx, "flow has no start node", "session_id", session.ID, "flow_id", session.FlowID)

		return Outcome{}
	}

	return i.Execute(ctx, start.ID, graph, session)
}

// Execute runs the graph from nodeID until it blocks, halts or leaves the
// bot-driven state.
func (i *Interpreter) Execute(ctx context.Context, nodeID string, graph *models.FlowGraph, session *models.ChatSession) Outcome {
	if session.Vars == nil {
		session.Vars = make(map[string]any)
	}

	outcome := Outcome{}
	i.loop(ctx, &run{graph: graph, session: session, outcome: &outcome}, nodeID)

	return outcome
}

func (i *Interpreter) loop(ctx context.Context, r *run, nodeID string) {
	for next := nodeID; next != ""; {
		if r.session.IsClosed() || !r.session.IsBotDriven() || r.session.IsBlocked() {
			return
		}

		if r.outcome.Steps >= i.stepBudget {
			i.logger.ErrorContext(ctx, "step budget exceeded",
				"session_id", r.session.ID, "node_id", next, "budget", i.stepBudget)
			r.outcome.BudgetHit = true
			i.emit(r, StepBudgetExceededText, nil)

			return
		}

		node, ok := r.graph.NodeByID(next)
		if !ok {
			i.logger.WarnContext(ctx, "edge points to a missing node", "session_id", r.session.ID, "node_id", next)

			return
		}

		r.outcome.Steps++
		next = i.step(ctx, r, node)
	}
}

func (i *Interpreter) step(ctx context.Context, r *run, node *models.Node) string {
	ctx, span := otelhelper.StartSpan(ctx, i.tracer, "flow.node",
		attribute.String(otelhelper.SessionIDKey, r.session.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	exec, ok := i.handlers[node.Type]
	if !ok {
		i.logger.WarnContext(ctx, "unknown node type", "session_id", r.session.ID, "node_id", node.ID, "type", node.Type)

		return ""
	}

	return exec(ctx, r, node)
}

// emit appends a bot message to the session and the outcome.
func (i *Interpreter) emit(r *run, text string, buttons []models.Button) {
	msg := models.Message{
		ID:        i.newID(),
		Sender:    models.SenderBot,
		Text:      text,
		Buttons:   buttons,
		Timestamp: i.now(),
	}

	r.session.AppendMessage(msg)
	r.outcome.Messages = append(r.outcome.Messages, msg)
}

// say interpolates text against the session vars and emits it when non-empty.
func (i *Interpreter) say(r *run, text string, buttons []models.Button) {
	if text == "" && len(buttons) == 0 {
		return
	}

	i.emit(r, interpolate.Interpolate(text, r.session.Vars), buttons)
}

// follow returns the target of the node's single exit.
func follow(r *run, node *models.Node) string {
	target, _ := r.graph.SoleTarget(node.ID)

	return target
}
