package service

import (
	"context"
	"fmt"
	"testing"

	chatRequest "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/request"
	chatRespond "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/respond"
	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := customer("u1", "growth")
	agent := agentPrincipal("a1")
	env.setAvailable(t, agent, 3)
	agentConn := env.connect(AgentKey(agent.UserID))
	userConn := env.connect(UserKey(user.UserID))

	started, err := env.sessions.StartSession(ctx, user, chatRequest.StartSessionRequest{InitialMessage: "Hello"})
	require.NoError(t, err)
	sid := started.SessionId

	ev, ok := nextEvent(t, agentConn)
	require.True(t, ok)
	assert.Equal(t, chatRespond.EventNewSession, ev.Type)

	_, err = env.sessions.AssignSession(ctx, sid, agent)
	require.NoError(t, err)
	ev, ok = nextEvent(t, userConn)
	require.True(t, ok)
	assert.Equal(t, chatRespond.EventAgentJoined, ev.Type)

	sent, err := env.realtime.SendUserMessage(ctx, sid, user, "  My export failed  ")
	require.NoError(t, err)
	assert.Equal(t, "My export failed", sent.Content)
	assert.Equal(t, chatRespond.DeliveryDelivered, sent.Delivery)
	assert.Equal(t, chatEntity.MessageStatusDelivered, sent.Status)

	ev, ok = nextEvent(t, agentConn)
	require.True(t, ok)
	assert.Equal(t, chatRespond.EventNewMessage, ev.Type)
	assert.Equal(t, sid, ev.SessionId)
	assert.Equal(t, "My export failed", ev.Data.(map[string]interface{})["content"])

	reply, err := env.realtime.SendAgentMessage(ctx, sid, agent, "Looking into it")
	require.NoError(t, err)
	assert.Equal(t, chatEntity.SenderTypeAgent, reply.SenderType)
	assert.Equal(t, chatRespond.DeliveryDelivered, reply.Delivery)
	ev, ok = nextEvent(t, userConn)
	require.True(t, ok)
	assert.Equal(t, "Looking into it", ev.Data.(map[string]interface{})["content"])

	history, err := env.messages.GetMessageList(ctx, sid, user, chatRequest.GetMessageListRequest{})
	require.NoError(t, err)
	require.Len(t, history.Items, 3)
	assert.Equal(t, []string{"Hello", "My export failed", "Looking into it"},
		[]string{history.Items[0].Content, history.Items[1].Content, history.Items[2].Content})
	assert.Equal(t, chatEntity.MessageStatusRead, history.Items[2].Status)
	assert.Equal(t, chatEntity.MessageStatusDelivered, history.Items[1].Status)

	require.NoError(t, env.sessions.CloseSession(ctx, sid, user))
	ev, ok = nextEvent(t, agentConn)
	require.True(t, ok)
	assert.Equal(t, chatRespond.EventSessionClosed, ev.Type)

	_, err = env.realtime.SendUserMessage(ctx, sid, user, "one more thing")
	requireCode(t, err, xerr.InvalidState)
	_, err = env.realtime.SendAgentMessage(ctx, sid, agent, "bye")
	requireCode(t, err, xerr.InvalidState)
	assert.EqualValues(t, 3, env.messageCount(t, sid))
}

func TestConversation_LaunchTierTurnedAway(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := customer("u1", "launch")

	_, err := env.sessions.StartSession(ctx, user, chatRequest.StartSessionRequest{InitialMessage: "Hi"})
	requireCode(t, err, xerr.AccessDenied)
	assert.EqualValues(t, 0, env.sessionCount(t))

	var n int64
	require.NoError(t, env.db.Model(&chatEntity.Message{}).Count(&n).Error)
	assert.EqualValues(t, 0, n)
}

func TestSendUserMessage_WaitingSessionDelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := customer("u1", "growth")
	res, err := env.sessions.StartSession(ctx, user, chatRequest.StartSessionRequest{})
	require.NoError(t, err)

	queued, err := env.realtime.SendUserMessage(ctx, res.SessionId, user, "anyone there?")
	require.NoError(t, err)
	assert.Equal(t, chatRespond.DeliveryQueued, queued.Delivery)
	assert.Equal(t, chatEntity.MessageStatusQueued, queued.Status)

	agent := agentPrincipal("a1")
	env.setAvailable(t, agent, 3)
	agentConn := env.connect(AgentKey(agent.UserID))

	broadcast, err := env.realtime.SendUserMessage(ctx, res.SessionId, user, "hello?")
	require.NoError(t, err)
	assert.Equal(t, chatRespond.DeliveryBroadcast, broadcast.Delivery)
	ev, ok := nextEvent(t, agentConn)
	require.True(t, ok)
	assert.Equal(t, chatRespond.EventNewMessage, ev.Type)
}

func TestSendUserMessage_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := customer("u1", "growth")
	res, err := env.sessions.StartSession(ctx, user, chatRequest.StartSessionRequest{})
	require.NoError(t, err)

	_, err = env.realtime.SendUserMessage(ctx, res.SessionId, user, "   ")
	requireCode(t, err, xerr.ValidationError)

	_, err = env.realtime.SendUserMessage(ctx, res.SessionId, customer("u2", "growth"), "hijack")
	requireCode(t, err, xerr.Forbidden)

	_, err = env.realtime.SendUserMessage(ctx, "missing", user, "hi")
	requireCode(t, err, xerr.NotFound)

	_, err = env.realtime.SendAgentMessage(ctx, res.SessionId, user, "pretend agent")
	requireCode(t, err, xerr.Forbidden)

	assert.EqualValues(t, 0, env.messageCount(t, res.SessionId))
}

func TestSendAgentMessage_ClaimsWaitingSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := customer("u1", "growth")
	res, err := env.sessions.StartSession(ctx, user, chatRequest.StartSessionRequest{})
	require.NoError(t, err)
	userConn := env.connect(UserKey(user.UserID))

	a1, a2 := agentPrincipal("a1"), agentPrincipal("a2")
	reply, err := env.realtime.SendAgentMessage(ctx, res.SessionId, a1, "Hi, I'm here")
	require.NoError(t, err)
	assert.Equal(t, chatRespond.DeliveryDelivered, reply.Delivery)

	ev, ok := nextEvent(t, userConn)
	require.True(t, ok)
	assert.Equal(t, chatRespond.EventAgentJoined, ev.Type)
	ev, ok = nextEvent(t, userConn)
	require.True(t, ok)
	assert.Equal(t, chatRespond.EventNewMessage, ev.Type)

	sess, err := env.sessions.GetSession(ctx, res.SessionId, a1)
	require.NoError(t, err)
	assert.Equal(t, chatEntity.SessionStatusActive, sess.Status)
	assert.Equal(t, "a1", sess.AgentId)

	_, err = env.realtime.SendAgentMessage(ctx, res.SessionId, a2, "me too")
	requireCode(t, err, xerr.Forbidden)
	assert.EqualValues(t, 1, env.messageCount(t, res.SessionId))
}

func TestSendMessage_ResolvesSenderType(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := customer("u1", "growth")
	res, err := env.sessions.StartSession(ctx, user, chatRequest.StartSessionRequest{})
	require.NoError(t, err)

	fromUser, err := env.realtime.SendMessage(ctx, res.SessionId, user, "question")
	require.NoError(t, err)
	assert.Equal(t, chatEntity.SenderTypeUser, fromUser.SenderType)

	fromAgent, err := env.realtime.SendMessage(ctx, res.SessionId, agentPrincipal("a1"), "answer")
	require.NoError(t, err)
	assert.Equal(t, chatEntity.SenderTypeAgent, fromAgent.SenderType)

	_, err = env.realtime.SendMessage(ctx, res.SessionId, customer("u2", "growth"), "spam")
	requireCode(t, err, xerr.Forbidden)
}

func TestSendTyping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := customer("u1", "growth")
	agent := agentPrincipal("a1")
	res, err := env.sessions.StartSession(ctx, user, chatRequest.StartSessionRequest{})
	require.NoError(t, err)

	// 等待接入时没有对端，静默成功
	require.NoError(t, env.realtime.SendTyping(ctx, res.SessionId, user, chatEntity.SenderTypeUser, true))

	_, err = env.sessions.AssignSession(ctx, res.SessionId, agent)
	require.NoError(t, err)
	userConn := env.connect(UserKey(user.UserID))
	agentConn := env.connect(AgentKey(agent.UserID))

	require.NoError(t, env.realtime.SendTyping(ctx, res.SessionId, user, chatEntity.SenderTypeUser, true))
	ev, ok := nextEvent(t, agentConn)
	require.True(t, ok)
	assert.Equal(t, chatRespond.EventTyping, ev.Type)
	assert.Equal(t, true, ev.Data.(map[string]interface{})["is_typing"])

	require.NoError(t, env.realtime.SendTyping(ctx, res.SessionId, agent, chatEntity.SenderTypeAgent, false))
	ev, ok = nextEvent(t, userConn)
	require.True(t, ok)
	assert.Equal(t, false, ev.Data.(map[string]interface{})["is_typing"])

	err = env.realtime.SendTyping(ctx, res.SessionId, agentPrincipal("a2"), chatEntity.SenderTypeAgent, true)
	requireCode(t, err, xerr.Forbidden)

	require.NoError(t, env.sessions.CloseSession(ctx, res.SessionId, user))
	err = env.realtime.SendTyping(ctx, res.SessionId, user, chatEntity.SenderTypeUser, true)
	requireCode(t, err, xerr.InvalidState)
	assert.EqualValues(t, 0, env.messageCount(t, res.SessionId))
}

func TestMessages_PreserveSendOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := customer("u1", "growth")
	agent := agentPrincipal("a1")
	res, err := env.sessions.StartSession(ctx, user, chatRequest.StartSessionRequest{})
	require.NoError(t, err)
	_, err = env.sessions.AssignSession(ctx, res.SessionId, agent)
	require.NoError(t, err)

	var want []string
	for i := 0; i < 20; i++ {
		content := fmt.Sprintf("m%02d", i)
		want = append(want, content)
		if i%2 == 0 {
			_, err = env.realtime.SendUserMessage(ctx, res.SessionId, user, content)
		} else {
			_, err = env.realtime.SendAgentMessage(ctx, res.SessionId, agent, content)
		}
		require.NoError(t, err)
	}

	history, err := env.messages.GetMessageList(ctx, res.SessionId, agent, chatRequest.GetMessageListRequest{})
	require.NoError(t, err)
	require.Len(t, history.Items, 20)
	got := make([]string, 0, 20)
	for _, m := range history.Items {
		got = append(got, m.Content)
	}
	assert.Equal(t, want, got)

	page, err := env.messages.GetMessageList(ctx, res.SessionId, user, chatRequest.GetMessageListRequest{Page: 2, PageSize: 5})
	require.NoError(t, err)
	assert.EqualValues(t, 20, page.Total)
	require.Len(t, page.Items, 5)
	assert.Equal(t, "m05", page.Items[0].Content)
}

func TestGetMessageList_ReadMarking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := customer("u1", "growth")
	a1, a2 := agentPrincipal("a1"), agentPrincipal("a2")
	res, err := env.sessions.StartSession(ctx, user, chatRequest.StartSessionRequest{InitialMessage: "one"})
	require.NoError(t, err)
	_, err = env.sessions.AssignSession(ctx, res.SessionId, a1)
	require.NoError(t, err)
	_, err = env.realtime.SendUserMessage(ctx, res.SessionId, user, "two")
	require.NoError(t, err)

	unreadFor := func(caller chatEntity.Principal) int64 {
		list, err := env.sessions.ListSessions(ctx, caller, chatRequest.ListSessionsRequest{})
		require.NoError(t, err)
		require.Len(t, list.Items, 1)
		return list.Items[0].UnreadCount
	}
	assert.EqualValues(t, 2, unreadFor(a1))

	// 非接待客服查看不算已读
	_, err = env.messages.GetMessageList(ctx, res.SessionId, a2, chatRequest.GetMessageListRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, unreadFor(a1))

	_, err = env.messages.GetMessageList(ctx, res.SessionId, a1, chatRequest.GetMessageListRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, unreadFor(a1))

	_, err = env.realtime.SendAgentMessage(ctx, res.SessionId, a1, "three")
	require.NoError(t, err)
	assert.EqualValues(t, 1, unreadFor(user))

	_, err = env.messages.GetMessageList(ctx, res.SessionId, customer("u2", "growth"), chatRequest.GetMessageListRequest{})
	requireCode(t, err, xerr.Forbidden)
	_, err = env.messages.GetMessageList(ctx, "missing", user, chatRequest.GetMessageListRequest{})
	requireCode(t, err, xerr.NotFound)
}
