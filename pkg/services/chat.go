package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/channels"
	"github.com/dukex/chatflow/pkg/credentials"
	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/flow"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/otelhelper"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/quota"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// errNoChange aborts a session update without writing.
var errNoChange = errors.New("no change")

// OutboundSender delivers messages to customers. channels.Registry
// implements it.
type OutboundSender interface {
	Send(ctx context.Context, recipient channels.Recipient, text string, buttons []models.Button) error
}

// ContinuationScheduler runs delayed continuations later.
type ContinuationScheduler interface {
	Schedule(continuations ...flow.Continuation)
}

// ChatConfig wires the chat service. Events, Quota, Logger, Tracer, Now and
// NewID are optional.
type ChatConfig struct {
	Persistence    persistence.Persistence
	Interpreter    *flow.Interpreter
	Sender         OutboundSender
	Delays         ContinuationScheduler
	ChannelConfigs credentials.Cache
	Quota          quota.Checker
	Events         eventbus.EventPublisher
	Logger         *slog.Logger
	Tracer         trace.Tracer
	Now            func() time.Time
	NewID          func() string
}

// Chat drives chat sessions: inbound customer events, the human queue and
// delayed continuations. Every operation commits the session with a
// compare-and-swap write first and only then sends messages, schedules
// delays and publishes events.
type Chat struct {
	persistence    persistence.Persistence
	interpreter    *flow.Interpreter
	sender         OutboundSender
	delays         ContinuationScheduler
	channelConfigs credentials.Cache
	quota          quota.Checker
	events         eventbus.EventPublisher
	logger         *slog.Logger
	tracer         trace.Tracer
	validate       *validator.Validate
	now            func() time.Time
	newID          func() string
}

func NewChat(cfg ChatConfig) *Chat {
	c := &Chat{
		persistence:    cfg.Persistence,
		interpreter:    cfg.Interpreter,
		sender:         cfg.Sender,
		delays:         cfg.Delays,
		channelConfigs: cfg.ChannelConfigs,
		quota:          cfg.Quota,
		events:         cfg.Events,
		logger:         cfg.Logger,
		tracer:         cfg.Tracer,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		now:            cfg.Now,
		newID:          cfg.NewID,
	}

	if c.quota == nil {
		c.quota = quota.Unlimited{}
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	c.logger = c.logger.With("module", "chat_service")

	if c.tracer == nil {
		c.tracer = otelhelper.Default()
	}

	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}

	if c.newID == nil {
		c.newID = uuid.NewString
	}

	return c
}

// sessionChange collects what a committed update must announce.
type sessionChange struct {
	before   models.SessionStatus
	messages []models.Message
	outcome  flow.Outcome
	resumed  string
}

func (ch *sessionChange) run(outcome flow.Outcome) {
	ch.outcome = outcome
	ch.messages = append(ch.messages, outcome.Messages...)
}

// update applies mutate under optimistic concurrency and dispatches the
// side effects of the winning attempt. mutate receives a context carrying a
// request memo, so a retried attempt replays the httpRequest responses of
// the earlier one instead of calling the remote service again.
func (c *Chat) update(
	ctx context.Context,
	sessionID string,
	mutate func(ctx context.Context, s *models.ChatSession, change *sessionChange) error,
) (*models.ChatSession, error) {
	var change sessionChange

	memo := flow.NewRequestMemo()
	attemptCtx := flow.ContextWithRequestMemo(ctx, memo)

	updated, err := persistence.UpdateSession(ctx, c.persistence.SessionRepository(), sessionID,
		func(s *models.ChatSession) error {
			memo.Rewind()
			change = sessionChange{before: s.Status}

			return mutate(attemptCtx, s, &change)
		})
	if err != nil {
		return nil, err
	}

	c.afterCommit(ctx, updated, change)

	return updated, nil
}

// HandleInbound processes one normalised channel event.
func (c *Chat) HandleInbound(ctx context.Context, event models.InboundEvent) (*models.ChatSession, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "chat.inbound",
		attribute.String(otelhelper.TenantIDKey, event.TenantID),
		attribute.String(otelhelper.ChannelKey, string(event.Channel)),
		attribute.String(otelhelper.MessageIDKey, event.MessageID),
	)
	defer span.End()

	if err := c.validate.Struct(event); err != nil {
		return nil, NewValidationError("HandleInbound", "INVALID_EVENT", err.Error(), ErrInvalidRequest)
	}

	if !event.Channel.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidChannel, event.Channel)
	}

	control := IsControlToken(event)

	session, err := c.resolveSession(ctx, event, control)
	if err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			c.logger.DebugContext(ctx, "duplicate message dropped", "session_id", session.ID, "message_id", event.MessageID)

			return session, err
		}

		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.SessionIDKey, session.ID))

	graph, err := c.publishedGraph(ctx, session.FlowID)
	if err != nil {
		c.logger.WarnContext(ctx, "flow unavailable, storing message only",
			"session_id", session.ID, "flow_id", session.FlowID, "error", err)
	}

	updated, err := c.update(ctx, session.ID, func(ctx context.Context, s *models.ChatSession, change *sessionChange) error {
		if s.IsClosed() {
			return ErrSessionClosed
		}

		if !s.MarkProcessed(event.MessageID) {
			return ErrDuplicateMessage
		}

		input := flow.Input{Text: event.Text, ButtonID: event.ButtonID}
		if input.ButtonID == "" {
			input.ButtonID = numberedChoice(s, event.Text)
		}

		if !control {
			msg := c.message(models.SenderUser, displayText(s, event), nil)
			s.AppendMessage(msg)
			change.messages = append(change.messages, msg)
		}

		if graph == nil {
			return nil
		}

		switch {
		case s.Status == models.SessionStatusActive:
			if err := s.StartBot(); err != nil {
				return err
			}

			change.run(c.interpreter.Start(ctx, graph, s))
		case s.ResumePending:
			c.resume(ctx, s, graph, change)
		case s.IsBotDriven() && s.IsBlocked():
			change.run(c.interpreter.ApplyUserInput(ctx, s, graph, input))
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			c.logger.DebugContext(ctx, "duplicate message dropped", "session_id", session.ID, "message_id", event.MessageID)

			return session, err
		}

		otelhelper.SetError(span, err)

		return nil, err
	}

	return updated, nil
}

// resume runs the flow from the stored resume point.
func (c *Chat) resume(ctx context.Context, s *models.ChatSession, graph *models.FlowGraph, change *sessionChange) {
	nodeID, ok := s.ConsumeResume()
	if !ok {
		s.ResumePending = false

		return
	}

	change.resumed = nodeID
	change.run(c.interpreter.Execute(ctx, nodeID, graph, s))
}

// StartSimulation opens a web chat session for a visitor and runs the flow
// until it first blocks. A previous open session of the visitor is closed.
func (c *Chat) StartSimulation(ctx context.Context, tenantID, flowID, visitorID string) (*models.ChatSession, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(flowID) == "" {
		return nil, NewValidationError("StartSimulation", "INVALID_REQUEST", "tenant id and flow id are required", ErrInvalidRequest)
	}

	if visitorID == "" {
		visitorID = c.newID()
	}

	previous, err := c.persistence.SessionRepository().FindOpenByIdentity(ctx, tenantID, models.ChannelWebchat, visitorID)
	if err != nil && !persistence.IsSessionNotFound(err) {
		return nil, err
	}

	session, err := c.openSession(ctx, tenantID, flowID, models.ChannelWebchat, visitorID, visitorID, previous)
	if err != nil {
		return nil, err
	}

	graph, err := c.publishedGraph(ctx, flowID)
	if err != nil {
		return nil, err
	}

	return c.update(ctx, session.ID, func(ctx context.Context, s *models.ChatSession, change *sessionChange) error {
		if err := s.StartBot(); err != nil {
			return err
		}

		change.run(c.interpreter.Start(ctx, graph, s))

		return nil
	})
}

// Transfer hands the session to a human queue. A session blocked on a node
// resumes from that node if the agent later closes with continue-flow.
func (c *Chat) Transfer(ctx context.Context, sessionID, queue string) (*models.ChatSession, error) {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return nil, ErrQueueRequired
	}

	return c.update(ctx, sessionID, func(ctx context.Context, s *models.ChatSession, change *sessionChange) error {
		if s.IsClosed() {
			return ErrSessionClosed
		}

		resumeAt := s.CurrentNodeID
		s.AgentID, s.AgentName = "", ""

		if err := s.EnqueueForAgent(queue, resumeAt, false, c.now()); err != nil {
			return err
		}

		msg := c.message(models.SenderSystem, "Conversa transferida para a fila "+queue, nil)
		s.AppendMessage(msg)
		change.messages = append(change.messages, msg)

		return nil
	})
}

// Pickup assigns a waiting session to an agent.
func (c *Chat) Pickup(ctx context.Context, sessionID, agentID, agentName string) (*models.ChatSession, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, NewValidationError("Pickup", "INVALID_AGENT", "agent id is required", ErrInvalidRequest)
	}

	return c.update(ctx, sessionID, func(ctx context.Context, s *models.ChatSession, change *sessionChange) error {
		if s.IsClosed() {
			return ErrSessionClosed
		}

		if err := s.Pickup(agentID, agentName); err != nil {
			return err
		}

		name := agentName
		if name == "" {
			name = agentID
		}

		msg := c.message(models.SenderSystem, "Atendimento iniciado por "+name, nil)
		s.AppendMessage(msg)
		change.messages = append(change.messages, msg)

		return nil
	})
}

// Close ends a human-owned or bot session. continueFlow overrides the
// default stored by the queue node; when the flow continues and a resume
// point exists the interpreter runs from it instead of closing.
func (c *Chat) Close(ctx context.Context, sessionID string, continueFlow *bool) (*models.ChatSession, error) {
	session, err := c.persistence.SessionRepository().GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.IsClosed() {
		return nil, ErrSessionClosed
	}

	graph, err := c.publishedGraph(ctx, session.FlowID)
	if err != nil {
		c.logger.WarnContext(ctx, "flow unavailable, resume stays pending",
			"session_id", session.ID, "flow_id", session.FlowID, "error", err)
	}

	return c.update(ctx, sessionID, func(ctx context.Context, s *models.ChatSession, change *sessionChange) error {
		if s.IsClosed() {
			return ErrSessionClosed
		}

		proceed := s.ContinueFlowAfterQueue
		if continueFlow != nil {
			proceed = *continueFlow
		}

		if proceed && s.ContinueFlow() {
			if graph != nil {
				c.resume(ctx, s, graph, change)
			}

			return nil
		}

		s.Close(c.now())

		return nil
	})
}

// SendAgentMessage appends an agent reply and delivers it to the customer.
func (c *Chat) SendAgentMessage(ctx context.Context, sessionID, text string) (*models.ChatSession, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	return c.update(ctx, sessionID, func(ctx context.Context, s *models.ChatSession, change *sessionChange) error {
		if s.IsClosed() {
			return ErrSessionClosed
		}

		if s.Status != models.SessionStatusOpen {
			return fmt.Errorf("%w: agent messages require an open session, got %s", models.ErrInvalidTransition, s.Status)
		}

		msg := c.message(models.SenderAgent, text, nil)
		s.AppendMessage(msg)
		change.messages = append(change.messages, msg)

		return nil
	})
}

func (c *Chat) Get(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	return c.persistence.SessionRepository().GetByID(ctx, sessionID)
}

func (c *Chat) List(ctx context.Context, opts persistence.ListSessionsOptions) ([]*models.ChatSession, error) {
	if opts.Status != "" && !isKnownStatus(opts.Status) {
		return nil, NewValidationError("List", "INVALID_STATUS", "unknown status "+string(opts.Status), ErrInvalidRequest)
	}

	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 50
	}

	return c.persistence.SessionRepository().List(ctx, opts)
}

// RunContinuation resumes a delayed branch. It is dropped when the session
// closed, left the bot or blocked on another node in the meantime.
func (c *Chat) RunContinuation(ctx context.Context, continuation flow.Continuation) error {
	session, err := c.persistence.SessionRepository().GetByID(ctx, continuation.SessionID)
	if err != nil {
		return err
	}

	graph, err := c.publishedGraph(ctx, session.FlowID)
	if err != nil {
		return err
	}

	_, err = c.update(ctx, continuation.SessionID, func(ctx context.Context, s *models.ChatSession, change *sessionChange) error {
		if s.IsClosed() || !s.IsBotDriven() || s.IsBlocked() {
			return errNoChange
		}

		change.run(c.interpreter.Execute(ctx, continuation.NodeID, graph, s))

		return nil
	})
	if errors.Is(err, errNoChange) {
		c.logger.InfoContext(ctx, "delayed continuation dropped",
			"session_id", continuation.SessionID, "node_id", continuation.NodeID)

		return nil
	}

	return err
}

func (c *Chat) publishedGraph(ctx context.Context, flowID string) (*models.FlowGraph, error) {
	f, err := c.persistence.FlowRepository().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if !f.IsPublished() {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotPublished, flowID)
	}

	return f.Published, nil
}

func (c *Chat) message(sender models.Sender, text string, buttons []models.Button) models.Message {
	return models.Message{
		ID:        c.newID(),
		Sender:    sender,
		Text:      text,
		Buttons:   buttons,
		Timestamp: c.now(),
	}
}

// afterCommit performs the side effects of a committed update. Failures are
// logged; the session state is already durable.
func (c *Chat) afterCommit(ctx context.Context, session *models.ChatSession, change sessionChange) {
	recipient := channels.RecipientFor(session)

	for _, msg := range change.messages {
		if msg.Sender == models.SenderBot || msg.Sender == models.SenderAgent {
			c.send(ctx, recipient, msg)
		}

		c.publish(ctx, session, events.MessageAppended{
			BaseEvent: events.NewBaseEvent(events.MessageAppendedEvent, session),
			Message:   msg,
		})
	}

	if c.delays != nil && len(change.outcome.Continuations) > 0 {
		c.delays.Schedule(change.outcome.Continuations...)
	}

	if rating := change.outcome.Rating; rating != nil {
		c.applyRating(ctx, session, *rating)
	}

	if change.resumed != "" {
		c.publish(ctx, session, events.FlowResumed{
			BaseEvent: events.NewBaseEvent(events.FlowResumedEvent, session),
			NodeID:    change.resumed,
		})
	}

	if change.before == session.Status {
		return
	}

	switch session.Status {
	case models.SessionStatusWaiting:
		c.publish(ctx, session, events.SessionQueued{
			BaseEvent:        events.NewBaseEvent(events.SessionQueuedEvent, session),
			Queue:            session.Queue,
			PreferredAgentID: session.PreferredAgentID,
		})
	case models.SessionStatusOpen:
		c.publish(ctx, session, events.SessionPickedUp{
			BaseEvent: events.NewBaseEvent(events.SessionPickedUpEvent, session),
			AgentID:   session.AgentID,
			AgentName: session.AgentName,
		})
	case models.SessionStatusClosed:
		c.publish(ctx, session, events.SessionClosed{
			BaseEvent: events.NewBaseEvent(events.SessionClosedEvent, session),
			AgentID:   session.AgentID,
		})
	}
}

func (c *Chat) send(ctx context.Context, recipient channels.Recipient, msg models.Message) {
	if c.sender == nil {
		return
	}

	if err := c.sender.Send(ctx, recipient, msg.Text, msg.Buttons); err != nil {
		c.logger.ErrorContext(ctx, "failed to deliver message",
			"session_id", recipient.SessionID, "channel", recipient.Channel, "message_id", msg.ID, "error", err)
	}
}

func (c *Chat) publish(ctx context.Context, session *models.ChatSession, event eventbus.Event) {
	if c.events == nil {
		return
	}

	if err := c.events.Publish(ctx, session.ID, event); err != nil {
		c.logger.WarnContext(ctx, "failed to publish session event",
			"session_id", session.ID, "event_type", event.GetType(), "error", err)
	}
}

// applyRating folds an end-of-flow rating into the agent's average.
func (c *Chat) applyRating(ctx context.Context, session *models.ChatSession, rating flow.AgentRating) {
	agents := c.persistence.AgentRepository()

	agent, err := agents.Get(ctx, rating.AgentID)
	if err != nil {
		if !persistence.IsNotFound(err) {
			c.logger.ErrorContext(ctx, "failed to load agent for rating", "agent_id", rating.AgentID, "error", err)

			return
		}

		agent = &models.Agent{ID: rating.AgentID, TenantID: session.TenantID, Name: session.AgentName}
	}

	agent.AddRating(rating.Score)

	if err := agents.Save(ctx, agent); err != nil {
		c.logger.ErrorContext(ctx, "failed to save agent rating", "agent_id", rating.AgentID, "error", err)
	}
}

func isKnownStatus(status models.SessionStatus) bool {
	switch status {
	case models.SessionStatusActive, models.SessionStatusBot, models.SessionStatusOpen,
		models.SessionStatusWaiting, models.SessionStatusClosed:
		return true
	default:
		return false
	}
}
