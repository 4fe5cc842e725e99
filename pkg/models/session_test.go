package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession() *ChatSession {
	return NewChatSession("s-1", "tenant-1", "flow-1", ChannelTelegram, "42", "42", time.Now().UTC())
}

func TestChatSession_QueueLifecycle(t *testing.T) {
	t.Parallel()

	session := newTestSession()
	require.NoError(t, session.StartBot())
	session.Block("input-1")

	now := time.Now().UTC()
	require.NoError(t, session.EnqueueForAgent("SUPPORT", "after-queue", true, now))

	assert.Equal(t, SessionStatusWaiting, session.Status)
	assert.Equal(t, "SUPPORT", session.Queue)
	assert.Empty(t, session.CurrentNodeID)
	assert.Equal(t, "after-queue", session.ResumeNodeID)
	require.NotNil(t, session.WaitingSince)

	require.NoError(t, session.Pickup("agent-7", "Ana"))
	assert.Equal(t, SessionStatusOpen, session.Status)
	assert.Nil(t, session.WaitingSince)
	assert.Equal(t, "agent-7", session.AgentID)

	assert.True(t, session.ContinueFlow())
	assert.Equal(t, SessionStatusBot, session.Status)
	assert.True(t, session.ResumePending)

	nodeID, ok := session.ConsumeResume()
	assert.True(t, ok)
	assert.Equal(t, "after-queue", nodeID)
	assert.False(t, session.ResumePending)
	assert.Empty(t, session.ResumeNodeID)

	_, ok = session.ConsumeResume()
	assert.False(t, ok, "resume must not be consumed twice")
}

func TestChatSession_ContinueFlowWithoutResumePoint(t *testing.T) {
	t.Parallel()

	session := newTestSession()
	require.NoError(t, session.EnqueueForAgent("SUPPORT", "", true, time.Now()))

	assert.True(t, session.ContinueFlowAfterQueue)
	assert.False(t, session.ContinueFlow())
	assert.Equal(t, SessionStatusWaiting, session.Status)
}

func TestChatSession_ContinueFlowKeepsResumePointWhenNotDefault(t *testing.T) {
	t.Parallel()

	session := newTestSession()
	require.NoError(t, session.EnqueueForAgent("SUPPORT", "survey", false, time.Now()))

	assert.Equal(t, "survey", session.ResumeNodeID)
	assert.False(t, session.ContinueFlowAfterQueue)

	assert.True(t, session.ContinueFlow())
	assert.True(t, session.ContinueFlowAfterQueue)

	nodeID, ok := session.ConsumeResume()
	assert.True(t, ok)
	assert.Equal(t, "survey", nodeID)
	assert.False(t, session.ContinueFlowAfterQueue)
}

func TestChatSession_InvalidTransitions(t *testing.T) {
	t.Parallel()

	session := newTestSession()
	assert.ErrorIs(t, session.Pickup("a", "b"), ErrInvalidTransition)
	assert.ErrorIs(t, session.EnqueueForAgent("", "", false, time.Now()), ErrInvalidTransition)

	session.Close(time.Now())
	assert.ErrorIs(t, session.StartBot(), ErrInvalidTransition)
	assert.ErrorIs(t, session.EnqueueForAgent("SUPPORT", "", false, time.Now()), ErrInvalidTransition)
}

func TestChatSession_CloseClearsBlockingNode(t *testing.T) {
	t.Parallel()

	session := newTestSession()
	session.Block("rating-1")
	session.Close(time.Now())

	assert.True(t, session.IsClosed())
	assert.Empty(t, session.CurrentNodeID)
	assert.NotNil(t, session.ClosedAt)
}

func TestChatSession_MarkProcessed(t *testing.T) {
	t.Parallel()

	session := newTestSession()
	assert.True(t, session.MarkProcessed("m-1"))
	assert.False(t, session.MarkProcessed("m-1"))
	assert.True(t, session.MarkProcessed(""), "empty ids are never deduplicated")

	for i := range MaxProcessedMessageIDs {
		session.MarkProcessed(fmt.Sprintf("bulk-%d", i))
	}

	assert.Len(t, session.ProcessedMessageIDs, MaxProcessedMessageIDs)
	assert.True(t, session.MarkProcessed("m-1"), "evicted ids are accepted again")
}
