package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/chatflow/pkg/channels/telegram"
	"github.com/dukex/chatflow/pkg/channels/whatsapp"
	"github.com/dukex/chatflow/pkg/credentials"
	"github.com/dukex/chatflow/pkg/log"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/presence"
	"github.com/dukex/chatflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	flows          *services.Flow
	chat           *services.Chat
	admin          *services.Admin
	presence       *presence.Registry
	channelConfigs credentials.Cache
	validator      *validator.Validate
	logger         *slog.Logger
}

func NewAPIHandlers(
	flows *services.Flow,
	chat *services.Chat,
	admin *services.Admin,
	presence *presence.Registry,
	channelConfigs credentials.Cache,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		flows:          flows,
		chat:           chat,
		admin:          admin,
		presence:       presence,
		channelConfigs: channelConfigs,
		validator:      validator,
		logger:         logger.With("module", "web"),
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.flows.HealthCheck(c.Context())

	status := "unhealthy"
	message := "chatflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "chatflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) ListFlows(c fiber.Ctx) error {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		return badRequest(c, "tenant_id is required")
	}

	flows, err := h.flows.List(c.Context(), tenantID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"flows":       flows,
		"total_count": len(flows),
	})
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.flows.Create(c.Context(), req.TenantID, req.Name, req.Draft)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.flows.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) UpdateFlow(c fiber.Ctx) error {
	var req UpdateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	name := ""
	if req.Name != nil {
		name = *req.Name
	}

	updated, err := h.flows.UpdateDraft(c.Context(), c.Params("id"), name, *req.Draft)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteFlow(c fiber.Ctx) error {
	if err := h.flows.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) PublishFlow(c fiber.Ctx) error {
	published, err := h.flows.Publish(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(published)
}

func (h *APIHandlers) ListSessions(c fiber.Ctx) error {
	opts := persistence.ListSessionsOptions{
		TenantID: c.Query("tenant_id"),
		Status:   models.SessionStatus(c.Query("status")),
		Queue:    c.Query("queue"),
	}

	if opts.TenantID == "" {
		return badRequest(c, "tenant_id is required")
	}

	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		opts.Limit = n
	}

	sessions, err := h.chat.List(c.Context(), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, Summarize(session))
	}

	return c.JSON(fiber.Map{
		"sessions":    summaries,
		"total_count": len(summaries),
	})
}

func (h *APIHandlers) GetSession(c fiber.Ctx) error {
	session, err := h.chat.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(session)
}

func (h *APIHandlers) TransferSession(c fiber.Ctx) error {
	var req TransferRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	session, err := h.chat.Transfer(c.Context(), c.Params("id"), req.Queue)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(session)
}

// PickupSession assigns the session and refreshes the agent's presence.
func (h *APIHandlers) PickupSession(c fiber.Ctx) error {
	var req PickupRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	session, err := h.chat.Pickup(c.Context(), c.Params("id"), req.AgentID, req.AgentName)
	if err != nil {
		return handleServiceError(c, err)
	}

	h.presence.Heartbeat(session.TenantID, req.AgentID, req.AgentName)

	return c.JSON(session)
}

func (h *APIHandlers) CloseSession(c fiber.Ctx) error {
	var req CloseSessionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	session, err := h.chat.Close(c.Context(), c.Params("id"), req.ContinueFlow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(session)
}

func (h *APIHandlers) SendAgentMessage(c fiber.Ctx) error {
	var req AgentMessageRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	session, err := h.chat.SendAgentMessage(c.Context(), c.Params("id"), req.Text)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(session)
}

func (h *APIHandlers) StartSimulation(c fiber.Ctx) error {
	var req StartSimulationRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	session, err := h.chat.StartSimulation(c.Context(), req.TenantID, req.FlowID, req.VisitorID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(session)
}

// WebchatMessage receives a message from the web chat widget. The widget
// reads the bot replies from the returned session.
func (h *APIHandlers) WebchatMessage(c fiber.Ctx) error {
	var req WebchatMessageRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	session, err := h.chat.HandleInbound(c.Context(), models.InboundEvent{
		TenantID:      c.Params("tenantId"),
		Channel:       models.ChannelWebchat,
		ChannelUserID: req.VisitorID,
		ChannelChatID: req.VisitorID,
		MessageID:     req.MessageID,
		Text:          req.Text,
		ButtonID:      req.ButtonID,
	})
	if err != nil && !errors.Is(err, services.ErrDuplicateMessage) {
		return handleServiceError(c, err)
	}

	return c.JSON(session)
}

func (h *APIHandlers) TelegramWebhook(c fiber.Ctx) error {
	tenantID := c.Params("tenantId")
	ctx := h.webhookContext(c, tenantID, models.ChannelTelegram)

	config, err := h.channelConfigs.Get(ctx, tenantID, models.ChannelTelegram)
	if err != nil {
		return handleServiceError(c, err)
	}

	if !telegram.ValidSecret(c.Get(telegram.SecretHeader), config.WebhookSecret) {
		return unauthorized(c, "invalid webhook secret")
	}

	event, ok, err := telegram.ParseUpdate(tenantID, c.Body())
	if err != nil {
		return badRequest(c, err.Error())
	}

	if !ok {
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	if err := h.dispatch(ctx, event); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *APIHandlers) WhatsAppVerify(c fiber.Ctx) error {
	tenantID := c.Params("tenantId")

	config, err := h.channelConfigs.Get(c.Context(), tenantID, models.ChannelWhatsApp)
	if err != nil {
		return handleServiceError(c, err)
	}

	challenge, ok := whatsapp.VerifySubscription(
		c.Query("hub.mode"), c.Query("hub.verify_token"), c.Query("hub.challenge"), config.VerifyToken)
	if !ok {
		return c.SendStatus(fiber.StatusForbidden)
	}

	return c.SendString(challenge)
}

func (h *APIHandlers) WhatsAppWebhook(c fiber.Ctx) error {
	tenantID := c.Params("tenantId")
	ctx := h.webhookContext(c, tenantID, models.ChannelWhatsApp)

	inbound, err := whatsapp.ParseWebhook(tenantID, c.Body())
	if err != nil {
		return badRequest(c, err.Error())
	}

	for _, event := range inbound {
		if err := h.dispatch(ctx, event); err != nil {
			return handleServiceError(c, err)
		}
	}

	return c.JSON(fiber.Map{"status": "ok", "processed": len(inbound)})
}

// dispatch hands a webhook event to the chat service. Client errors are
// logged and acknowledged so the provider does not redeliver; only
// internal failures are returned.
func (h *APIHandlers) dispatch(ctx context.Context, event models.InboundEvent) error {
	logger := log.FromContext(ctx, h.logger)

	_, err := h.chat.HandleInbound(ctx, event)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, services.ErrDuplicateMessage):
		logger.DebugContext(ctx, "duplicate webhook delivery", "message_id", event.MessageID)

		return nil
	case services.IsValidationError(err), services.IsConflictError(err), services.IsQuotaError(err):
		logger.WarnContext(ctx, "inbound message rejected", "message_id", event.MessageID, "error", err)

		return nil
	default:
		logger.ErrorContext(ctx, "failed to handle inbound message", "message_id", event.MessageID, "error", err)

		return err
	}
}

func (h *APIHandlers) webhookContext(c fiber.Ctx, tenantID string, channel models.ChannelType) context.Context {
	return log.ContextWithLogger(c.Context(), h.logger.With("tenant_id", tenantID, "channel", channel))
}

func (h *APIHandlers) SaveTemplate(c fiber.Ctx) error {
	var template models.Template
	if err := c.Bind().JSON(&template); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.admin.SaveTemplate(c.Context(), &template); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(template)
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	template, err := h.admin.GetTemplate(c.Context(), c.Query("tenant_id"), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) SaveSchedule(c fiber.Ctx) error {
	var schedule models.Schedule
	if err := c.Bind().JSON(&schedule); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.admin.SaveSchedule(c.Context(), &schedule); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(schedule)
}

func (h *APIHandlers) GetSchedule(c fiber.Ctx) error {
	schedule, err := h.admin.GetSchedule(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) SaveChannelConfig(c fiber.Ctx) error {
	var config models.ChannelConfig
	if err := c.Bind().JSON(&config); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	config.TenantID = c.Params("tenantId")
	config.Channel = models.ChannelType(c.Params("channel"))

	if err := h.admin.SaveChannelConfig(c.Context(), &config); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(config)
}

func (h *APIHandlers) GetChannelConfig(c fiber.Ctx) error {
	config, err := h.admin.GetChannelConfig(c.Context(), c.Params("tenantId"), models.ChannelType(c.Params("channel")))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(config)
}

func (h *APIHandlers) SaveAgent(c fiber.Ctx) error {
	var agent models.Agent
	if err := c.Bind().JSON(&agent); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.admin.SaveAgent(c.Context(), &agent); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(agent)
}

func (h *APIHandlers) GetAgent(c fiber.Ctx) error {
	agent, err := h.admin.GetAgent(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"agent":  agent,
		"online": h.presence.IsOnline(agent.ID),
	})
}

func (h *APIHandlers) Heartbeat(c fiber.Ctx) error {
	var req HeartbeatRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(h.presence.Heartbeat(req.TenantID, req.AgentID, req.Name))
}

func (h *APIHandlers) Offline(c fiber.Ctx) error {
	h.presence.Offline(c.Params("id"))

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) OnlineAgents(c fiber.Ctx) error {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		return badRequest(c, "tenant_id is required")
	}

	return c.JSON(fiber.Map{"agents": h.presence.Online(tenantID)})
}

// bind decodes the JSON body into req and validates it.
func (h *APIHandlers) bind(c fiber.Ctx, req any) error {
	if err := c.Bind().JSON(req); err != nil {
		return errors.New("invalid JSON format")
	}

	return h.validator.Struct(req)
}
