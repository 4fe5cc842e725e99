package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SessionCreatedEvent, SessionCreated{}.GetType())
	assert.Equal(t, MessageAppendedEvent, MessageAppended{}.GetType())
	assert.Equal(t, SessionQueuedEvent, SessionQueued{}.GetType())
	assert.Equal(t, SessionPickedUpEvent, SessionPickedUp{}.GetType())
	assert.Equal(t, SessionClosedEvent, SessionClosed{}.GetType())
	assert.Equal(t, FlowResumedEvent, FlowResumed{}.GetType())
}

func TestMessageAppended_JSONSerialization(t *testing.T) {
	t.Parallel()

	session := models.NewChatSession("s-1", "tenant-1", "flow-1", models.ChannelTelegram, "42", "42", time.Now().UTC())

	original := MessageAppended{
		BaseEvent: NewBaseEvent(MessageAppendedEvent, session),
		Message: models.Message{
			ID:      "m-1",
			Sender:  models.SenderBot,
			Text:    "Escolha",
			Buttons: []models.Button{{ID: "a", Label: "A"}},
		},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded MessageAppended
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "s-1", decoded.SessionID)
	assert.Equal(t, "tenant-1", decoded.TenantID)
	assert.Equal(t, models.ChannelTelegram, decoded.Channel)
	assert.Equal(t, MessageAppendedEvent, decoded.Type)
	assert.Equal(t, original.Message.Buttons, decoded.Message.Buttons)
	assert.NotEmpty(t, decoded.ID)
}
