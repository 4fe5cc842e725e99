package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dukex/chatflow/pkg/channels"
	"github.com/dukex/chatflow/pkg/channels/telegram"
	"github.com/dukex/chatflow/pkg/credentials"
	"github.com/dukex/chatflow/pkg/flow"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence/file"
	"github.com/dukex/chatflow/pkg/presence"
	"github.com/dukex/chatflow/pkg/quota"
	"github.com/dukex/chatflow/pkg/services"
	"github.com/dukex/chatflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenantID = "tenant-1"

type nopSender struct {
	mu    sync.Mutex
	texts []string
}

func (s *nopSender) Send(_ context.Context, _ channels.Recipient, text string, _ []models.Button) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.texts = append(s.texts, text)

	return nil
}

type testAPI struct {
	app         *fiber.App
	persistence *file.Persistence
	sender      *nopSender
}

func setupTestApp(t *testing.T, dailyQuota int64) *testAPI {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	cache := credentials.NewMemoryCache(p.ChannelConfigRepository(), time.Minute)
	sender := &nopSender{}

	chat := services.NewChat(services.ChatConfig{
		Persistence: p,
		Interpreter: flow.NewInterpreter(flow.Config{
			Templates: p.TemplateRepository(),
			Schedules: p.ScheduleRepository(),
		}),
		Sender:         sender,
		ChannelConfigs: cache,
		Quota:          quota.NewMemoryChecker(dailyQuota),
	})

	handlers := web.NewAPIHandlers(
		services.NewFlow(p),
		chat,
		services.NewAdmin(p, cache),
		presence.NewRegistry(time.Minute),
		cache,
		validator.New(validator.WithRequiredStructEnabled()),
		slog.Default(),
	)

	app := fiber.New()
	handlers.Register(app)

	return &testAPI{app: app, persistence: p, sender: sender}
}

// do sends a JSON request and decodes the response body into out when set.
func (api *testAPI) do(t *testing.T, method, path string, body any, out any, headers ...string) int {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := api.app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out), string(data))
	}

	return resp.StatusCode
}

func greetingDraft() models.FlowGraph {
	return models.FlowGraph{
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeTypeStart, Data: map[string]any{"text": "Início"}},
			{ID: "ask", Type: models.NodeTypeInput, Data: map[string]any{"text": "Qual seu nome?", "variable": "nome"}},
			{ID: "bye", Type: models.NodeTypeEnd, Data: map[string]any{"text": "Até logo, {nome}"}},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "start", Target: "ask"},
			{ID: "e2", Source: "ask", Target: "bye"},
		},
	}
}

func queueDraft() models.FlowGraph {
	return models.FlowGraph{
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "queue", Type: models.NodeTypeQueue, Data: map[string]any{"queue": "suporte", "message": "Aguarde"}},
		},
		Edges: []models.Edge{{ID: "e1", Source: "start", Target: "queue"}},
	}
}

// publishFlow creates and publishes a flow and routes every channel of the
// tenant to it.
func (api *testAPI) publishFlow(t *testing.T, draft models.FlowGraph) string {
	t.Helper()

	var created models.Flow
	status := api.do(t, http.MethodPost, "/flows", web.CreateFlowRequest{TenantID: tenantID, Name: "Atendimento", Draft: draft}, &created)
	require.Equal(t, http.StatusCreated, status)

	status = api.do(t, http.MethodPost, "/flows/"+created.ID+"/publish", nil, nil)
	require.Equal(t, http.StatusOK, status)

	for _, channel := range []models.ChannelType{models.ChannelWebchat, models.ChannelTelegram, models.ChannelWhatsApp} {
		config := models.ChannelConfig{FlowID: created.ID, WebhookSecret: "s3cret", VerifyToken: "verify-me"}
		status = api.do(t, http.MethodPut, "/tenants/"+tenantID+"/channels/"+string(channel), config, nil)
		require.Equal(t, http.StatusOK, status)
	}

	return created.ID
}

func TestAPIHandlers_CreateFlow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name:           "successful creation",
			requestBody:    web.CreateFlowRequest{TenantID: tenantID, Name: "Boas-vindas", Draft: greetingDraft()},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "validation error - missing name",
			requestBody:    web.CreateFlowRequest{TenantID: tenantID},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "validation error - name too short",
			requestBody:    web.CreateFlowRequest{TenantID: tenantID, Name: "Oi"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "validation error - missing tenant",
			requestBody:    web.CreateFlowRequest{Name: "Boas-vindas"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := setupTestApp(t, 0)

			status := api.do(t, http.MethodPost, "/flows", tt.requestBody, nil)
			assert.Equal(t, tt.expectedStatus, status)
		})
	}
}

func TestAPIHandlers_FlowLifecycle(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t, 0)

	var created models.Flow
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/flows",
		web.CreateFlowRequest{TenantID: tenantID, Name: "Boas-vindas", Draft: greetingDraft()}, &created))

	var published models.Flow
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/flows/"+created.ID+"/publish", nil, &published))
	require.NotNil(t, published.Published)

	name := "Boas-vindas v2"
	draft := queueDraft()

	var updated models.Flow
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPut, "/flows/"+created.ID, web.UpdateFlowRequest{Name: &name, Draft: &draft}, &updated))
	assert.Equal(t, name, updated.Name)
	assert.Len(t, updated.Draft.Nodes, 2)
	assert.Len(t, updated.Published.Nodes, 3)

	var list struct {
		Flows      []models.Flow `json:"flows"`
		TotalCount int           `json:"total_count"`
	}
	require.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/flows?tenant_id="+tenantID, nil, &list))
	assert.Equal(t, 1, list.TotalCount)

	assert.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, "/flows/"+created.ID, nil, nil))

	var problem map[string]any
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/flows/"+created.ID, nil, &problem))
	assert.Equal(t, "flow_not_found", problem["type"])
}

func TestAPIHandlers_PublishInvalidDraft(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t, 0)

	draft := greetingDraft()
	draft.Edges = append(draft.Edges, models.Edge{ID: "e3", Source: "bye", Target: "ghost"})

	var created models.Flow
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/flows",
		web.CreateFlowRequest{TenantID: tenantID, Name: "Quebrado", Draft: draft}, &created))

	var problem map[string]any
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, "/flows/"+created.ID+"/publish", nil, &problem))
	assert.Contains(t, problem["detail"], "missing node")
}

func TestAPIHandlers_SimulationAndWebchat(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t, 0)
	flowID := api.publishFlow(t, greetingDraft())

	var session models.ChatSession
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/simulations",
		web.StartSimulationRequest{TenantID: tenantID, FlowID: flowID, VisitorID: "visitor-1"}, &session))
	assert.Equal(t, "ask", session.CurrentNodeID)

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/webchat/"+tenantID+"/messages",
		web.WebchatMessageRequest{VisitorID: "visitor-1", MessageID: "w1", Text: "Ana"}, &session))
	assert.Equal(t, models.SessionStatusClosed, session.Status)
	assert.Equal(t, "Até logo, Ana", session.Messages[len(session.Messages)-1].Text)

	// Redelivery of the same widget message is acknowledged.
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/webchat/"+tenantID+"/messages",
		web.WebchatMessageRequest{VisitorID: "visitor-1", MessageID: "w1", Text: "Ana"}, nil))

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, "/webchat/"+tenantID+"/messages",
		web.WebchatMessageRequest{VisitorID: "visitor-1"}, nil))
}

func TestAPIHandlers_QueueWorkflow(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t, 0)
	api.publishFlow(t, queueDraft())

	var session models.ChatSession
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/webchat/"+tenantID+"/messages",
		web.WebchatMessageRequest{VisitorID: "visitor-1", MessageID: "w1", Text: "socorro"}, &session))
	require.Equal(t, models.SessionStatusWaiting, session.Status)

	var list struct {
		Sessions []web.SessionSummary `json:"sessions"`
	}
	require.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/sessions?tenant_id="+tenantID+"&status=waiting&queue=suporte", nil, &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, session.ID, list.Sessions[0].ID)
	require.NotNil(t, list.Sessions[0].LastMessage)
	assert.Equal(t, "Aguarde", list.Sessions[0].LastMessage.Text)

	base := "/sessions/" + session.ID

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, base+"/pickup", web.PickupRequest{AgentID: "agent-1", AgentName: "Maria"}, &session))
	assert.Equal(t, models.SessionStatusOpen, session.Status)

	var online struct {
		Agents []presence.Agent `json:"agents"`
	}
	require.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/agents/online?tenant_id="+tenantID, nil, &online))
	require.Len(t, online.Agents, 1)
	assert.Equal(t, "agent-1", online.Agents[0].ID)

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, base+"/messages", web.AgentMessageRequest{Text: "Olá!"}, nil))
	assert.Contains(t, api.sender.texts, "Olá!")

	continueFlow := false
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, base+"/close", web.CloseSessionRequest{ContinueFlow: &continueFlow}, &session))
	assert.Equal(t, models.SessionStatusClosed, session.Status)

	var problem map[string]any
	assert.Equal(t, http.StatusConflict, api.do(t, http.MethodPost, base+"/close", nil, &problem))
	assert.Equal(t, "conflict", problem["type"])

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, base+"/transfer", web.TransferRequest{}, nil))
}

func TestAPIHandlers_SessionNotFound(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t, 0)

	var problem map[string]any
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/sessions/unknown", nil, &problem))
	assert.Equal(t, "session_not_found", problem["type"])

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/sessions", nil, nil))
}

func TestAPIHandlers_TelegramWebhook(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t, 0)
	api.publishFlow(t, greetingDraft())

	update := `{"update_id": 10, "message": {"message_id": 1, "date": 0,
		"from": {"id": 42, "first_name": "Ana"}, "chat": {"id": 42, "type": "private"}, "text": "oi"}}`

	path := "/webhooks/telegram/" + tenantID

	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodPost, path, update, nil, telegram.SecretHeader, "wrong"))

	var ack map[string]any
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, path, update, &ack, telegram.SecretHeader, "s3cret"))
	assert.Equal(t, "ok", ack["status"])
	assert.Equal(t, []string{"Qual seu nome?"}, api.sender.texts)

	// Telegram redelivers on failure; the duplicate is acknowledged.
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, path, update, nil, telegram.SecretHeader, "s3cret"))
	assert.Len(t, api.sender.texts, 1)

	assert.Equal(t, http.StatusOK, api.do(t, http.MethodPost, path, `{"update_id": 11}`, &ack, telegram.SecretHeader, "s3cret"))
	assert.Equal(t, "ignored", ack["status"])

	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPost, "/webhooks/telegram/other-tenant", update, nil))
}

func TestAPIHandlers_WhatsAppWebhook(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t, 1)
	api.publishFlow(t, greetingDraft())

	path := "/webhooks/whatsapp/" + tenantID

	req := httptest.NewRequest(http.MethodGet, path+"?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1234", nil)
	resp, err := api.app.Test(req)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1234", string(body))

	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, path+"?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", nil, nil))

	notification := func(from, id string) string {
		return `{"entry": [{"changes": [{"value": {"messages": [
			{"from": "` + from + `", "id": "` + id + `", "type": "text", "text": {"body": "oi"}}]}}]}]}`
	}

	var ack map[string]any
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, path, notification("5511999", "wamid.1"), &ack))
	assert.InDelta(t, 1, ack["processed"], 0)

	// The daily quota of one chat is spent: a second customer is acknowledged
	// but no session is opened.
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, path, notification("5511888", "wamid.2"), nil))

	var list struct {
		Sessions []web.SessionSummary `json:"sessions"`
	}
	require.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/sessions?tenant_id="+tenantID, nil, &list))
	assert.Len(t, list.Sessions, 1)

	var problem map[string]any
	assert.Equal(t, http.StatusTooManyRequests, api.do(t, http.MethodPost, "/webchat/"+tenantID+"/messages",
		web.WebchatMessageRequest{VisitorID: "visitor-9", Text: "oi"}, &problem))
	assert.Equal(t, "quota_exceeded", problem["type"])
}

func TestAPIHandlers_AdminAndPresence(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t, 0)

	var template models.Template
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/templates",
		models.Template{ID: "menu", TenantID: tenantID, Text: "Escolha", Buttons: []models.Button{{ID: "a", Label: "A"}}}, &template))

	require.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/templates/menu?tenant_id="+tenantID, nil, &template))
	assert.Equal(t, "Escolha", template.Text)

	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/templates/menu", nil, nil))

	schedule := models.Schedule{ID: "comercial", Name: "Comercial", Rules: map[string]models.DayRule{
		"segunda": {Active: true, Start: "08:00", End: "18:00"},
	}}
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/schedules", schedule, nil))
	require.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/schedules/comercial", nil, &schedule))

	schedule.Rules["terca"] = models.DayRule{Active: true, Start: "8h", End: "18:00"}
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, "/schedules", schedule, nil))

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPut, "/tenants/"+tenantID+"/channels/sms",
		models.ChannelConfig{FlowID: "flow-1"}, nil))

	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/agents", models.Agent{ID: "agent-1", TenantID: tenantID, Name: "Maria"}, nil))
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/agents/heartbeat", web.HeartbeatRequest{TenantID: tenantID, AgentID: "agent-1", Name: "Maria"}, nil))

	var agent struct {
		Agent  models.Agent `json:"agent"`
		Online bool         `json:"online"`
	}
	require.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/agents/agent-1", nil, &agent))
	assert.Equal(t, "Maria", agent.Agent.Name)
	assert.True(t, agent.Online)

	require.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, "/agents/agent-1/presence", nil, nil))
	require.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/agents/agent-1", nil, &agent))
	assert.False(t, agent.Online)

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, "/agents/heartbeat", web.HeartbeatRequest{AgentID: "agent-1"}, nil))
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t, 0)

	var health map[string]any
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/health", nil, &health))
	assert.Equal(t, "healthy", health["status"])
}
