package web

import "github.com/gofiber/fiber/v3"

// Register mounts every API route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	f := router.Group("/flows")
	f.Get("/", h.ListFlows)
	f.Post("/", h.CreateFlow)
	f.Get("/:id", h.GetFlow)
	f.Put("/:id", h.UpdateFlow)
	f.Delete("/:id", h.DeleteFlow)
	f.Post("/:id/publish", h.PublishFlow)

	s := router.Group("/sessions")
	s.Get("/", h.ListSessions)
	s.Get("/:id", h.GetSession)
	s.Post("/:id/transfer", h.TransferSession)
	s.Post("/:id/pickup", h.PickupSession)
	s.Post("/:id/close", h.CloseSession)
	s.Post("/:id/messages", h.SendAgentMessage)

	router.Post("/simulations", h.StartSimulation)
	router.Post("/webchat/:tenantId/messages", h.WebchatMessage)

	w := router.Group("/webhooks")
	w.Post("/telegram/:tenantId", h.TelegramWebhook)
	w.Get("/whatsapp/:tenantId", h.WhatsAppVerify)
	w.Post("/whatsapp/:tenantId", h.WhatsAppWebhook)

	router.Post("/templates", h.SaveTemplate)
	router.Get("/templates/:id", h.GetTemplate)
	router.Post("/schedules", h.SaveSchedule)
	router.Get("/schedules/:id", h.GetSchedule)
	router.Put("/tenants/:tenantId/channels/:channel", h.SaveChannelConfig)
	router.Get("/tenants/:tenantId/channels/:channel", h.GetChannelConfig)

	a := router.Group("/agents")
	a.Post("/", h.SaveAgent)
	a.Get("/online", h.OnlineAgents)
	a.Post("/heartbeat", h.Heartbeat)
	a.Get("/:id", h.GetAgent)
	a.Delete("/:id/presence", h.Offline)
}
