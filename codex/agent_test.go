package codex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/agentbridge/agentstream"
)

type chatResult struct {
	turn *Turn
	err  error
}

func chatAsync(a *Agent, text string) <-chan chatResult {
	ch := make(chan chatResult, 1)
	go func() {
		turn, err := a.Chat(context.Background(), text)
		ch <- chatResult{turn, err}
	}()
	return ch
}

func waitChat(t *testing.T, ch <-chan chatResult) *Turn {
	t.Helper()
	select {
	case res := <-ch:
		require.NoError(t, res.err)
		return res.turn
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Chat")
		return nil
	}
}

func waitChatErr(t *testing.T, ch <-chan chatResult) error {
	t.Helper()
	select {
	case res := <-ch:
		require.Error(t, res.err)
		return res.err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Chat")
		return nil
	}
}

// scriptTurnStart services the thread/start and turn/start calls of a first
// Chat and returns the turn/start params the agent sent.
func scriptTurnStart(t *testing.T, rt *fakeRuntime, threadID, turnID string) TurnStartParams {
	t.Helper()
	msg := rt.expectRequest(MethodThreadStart)
	rt.respond(*msg.ID, fmt.Sprintf(`{"thread":{"id":%q}}`, threadID))

	msg = rt.expectRequest(MethodTurnStart)
	var params TurnStartParams
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	rt.respond(*msg.ID, fmt.Sprintf(`{"turn":{"id":%q,"status":"inProgress"}}`, turnID))
	return params
}

func notifyTurnCompleted(rt *fakeRuntime, threadID, turnID string) {
	rt.notify(NotifyTurnCompleted,
		fmt.Sprintf(`{"threadId":%q,"turn":{"id":%q,"status":"completed"}}`, threadID, turnID))
}

func drainEvents(t *testing.T, turn *Turn) []agentstream.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var events []agentstream.Event
	for {
		ev, err := turn.Next(ctx)
		if errors.Is(err, ErrTurnComplete) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func waitPhase(t *testing.T, a *Agent, want ThreadPhase) {
	t.Helper()
	require.Eventually(t, func() bool { return a.Phase() == want },
		2*time.Second, 5*time.Millisecond)
}

func TestAgentChatFullTurn(t *testing.T) {
	a, rt := newTestAgent(t, WithModel("gpt-5-codex"), WithWorkingDir("/work"))

	ch := chatAsync(a, "hello")
	params := scriptTurnStart(t, rt, "t-1", "turn-1")
	assert.Equal(t, "t-1", params.ThreadID)
	require.Len(t, params.Input, 1)
	assert.Equal(t, "hello", params.Input[0].Text)
	assert.Equal(t, "gpt-5-codex", params.Model)
	assert.Equal(t, "/work", params.CWD)

	turn := waitChat(t, ch)
	assert.Equal(t, "t-1", turn.ThreadID())
	assert.Equal(t, "turn-1", turn.ID())
	assert.Equal(t, PhaseTurnActive, a.Phase())

	rt.notify(NotifyTurnStarted, `{"threadId":"t-1","turn":{"id":"turn-1"}}`)
	rt.notify(NotifyAgentMessageDelta, `{"threadId":"t-1","turnId":"turn-1","itemId":"m1","delta":"Hi"}`)
	rt.notify(NotifyAgentMessageDelta, `{"threadId":"t-1","turnId":"turn-1","itemId":"m1","delta":" there"}`)
	rt.notify(NotifyItemCompleted, `{"threadId":"t-1","turnId":"turn-1","item":{"type":"agentMessage","id":"m1","text":"Hi there"}}`)
	rt.notify(NotifyTurnCompleted, `{"threadId":"t-1","turn":{"id":"turn-1","status":"completed","usage":{"inputTokens":10,"outputTokens":5,"totalTokens":15}}}`)

	events := drainEvents(t, turn)
	require.Len(t, events, 5)
	assert.Equal(t, "turn_started", events[0].(agentstream.StatusEvent).Status)
	assert.Equal(t, "Hi", events[1].(agentstream.TextDeltaEvent).Delta)
	assert.Equal(t, " there", events[2].(agentstream.TextDeltaEvent).Delta)
	assert.Equal(t, "Hi there", events[3].(agentstream.TextCompleteEvent).Text)
	complete := events[4].(agentstream.CompleteEvent)
	assert.Equal(t, "turn-1", complete.TurnID)
	assert.Equal(t, int64(15), complete.Usage.TotalTokens)

	assert.True(t, turn.Done())
	usage, ok := turn.Usage()
	require.True(t, ok)
	assert.Equal(t, int64(15), usage.TotalTokens)
	waitPhase(t, a, PhaseThreadActive)
}

func TestAgentSecondChatReusesThread(t *testing.T) {
	a, rt := newTestAgent(t)

	ch := chatAsync(a, "first")
	scriptTurnStart(t, rt, "t-1", "turn-1")
	turn := waitChat(t, ch)
	notifyTurnCompleted(rt, "t-1", "turn-1")
	drainEvents(t, turn)
	waitPhase(t, a, PhaseThreadActive)

	// No second thread/start: the next frame must be turn/start.
	ch = chatAsync(a, "second")
	msg := rt.expectRequest(MethodTurnStart)
	var params TurnStartParams
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, "t-1", params.ThreadID)
	assert.Equal(t, "second", params.Input[0].Text)
	rt.respond(*msg.ID, `{"turn":{"id":"turn-2","status":"inProgress"}}`)
	turn = waitChat(t, ch)

	notifyTurnCompleted(rt, "t-1", "turn-2")
	drainEvents(t, turn)
	waitPhase(t, a, PhaseThreadActive)
}

func TestAgentChatWhileTurnActive(t *testing.T) {
	a, rt := newTestAgent(t)

	ch := chatAsync(a, "first")
	scriptTurnStart(t, rt, "t-1", "turn-1")
	waitChat(t, ch)

	_, err := a.Chat(context.Background(), "second")
	require.ErrorIs(t, err, ErrTurnActive)

	err = a.Reconnect(context.Background())
	require.ErrorIs(t, err, ErrTurnActive)
}

func TestAgentPreExecuteRoundTrip(t *testing.T) {
	a, rt := newTestAgent(t)

	ch := chatAsync(a, "build it")
	scriptTurnStart(t, rt, "t-1", "turn-1")
	turn := waitChat(t, ch)

	rt.request(50, MethodToolPreExecute,
		`{"threadId":"t-1","turnId":"turn-1","itemId":"c1","tool":"Bash","input":{"command":"make build"}}`)
	result := rt.expectResponse(50)
	assert.JSONEq(t, `{"allow":{}}`, string(result))

	notifyTurnCompleted(rt, "t-1", "turn-1")
	drainEvents(t, turn)
}

func TestAgentBlockedToolCarriesReason(t *testing.T) {
	a, rt := newTestAgent(t, WithPermissionMode(ModeReadOnly))

	ch := chatAsync(a, "change something")
	scriptTurnStart(t, rt, "t-1", "turn-1")
	turn := waitChat(t, ch)

	rt.notify(NotifyItemStarted,
		`{"threadId":"t-1","turnId":"turn-1","item":{"type":"commandExecution","id":"c1","command":"touch x"}}`)

	rt.request(60, MethodToolPreExecute,
		`{"threadId":"t-1","turnId":"turn-1","itemId":"c1","tool":"Bash","input":{"command":"touch x"}}`)
	result := rt.expectResponse(60)
	assert.JSONEq(t, `{"block":{"reason":"blocked by read-only mode"}}`, string(result))

	rt.notify(NotifyItemCompleted,
		`{"threadId":"t-1","turnId":"turn-1","item":{"type":"commandExecution","id":"c1","command":"touch x","status":"declined"}}`)
	notifyTurnCompleted(rt, "t-1", "turn-1")

	events := drainEvents(t, turn)
	var result2 *agentstream.ToolResultEvent
	for _, ev := range events {
		if tr, ok := ev.(agentstream.ToolResultEvent); ok {
			result2 = &tr
		}
	}
	require.NotNil(t, result2)
	assert.True(t, result2.IsError)
	assert.Equal(t, "blocked by read-only mode", result2.BlockReason)
}

func TestAgentCommandApprovalRoundTrip(t *testing.T) {
	a, rt := newTestAgent(t)

	ch := chatAsync(a, "run it")
	scriptTurnStart(t, rt, "t-1", "turn-1")
	turn := waitChat(t, ch)

	rt.request(51, MethodCommandApproval,
		`{"threadId":"t-1","turnId":"turn-1","itemId":"c1","command":["make","test"],"cwd":"/work"}`)
	result := rt.expectResponse(51)
	assert.JSONEq(t, `{"decision":"accept"}`, string(result))

	notifyTurnCompleted(rt, "t-1", "turn-1")
	drainEvents(t, turn)
}

func TestAgentAbortCompletesLocally(t *testing.T) {
	a, rt := newTestAgent(t)

	ch := chatAsync(a, "long task")
	scriptTurnStart(t, rt, "t-1", "turn-1")
	turn := waitChat(t, ch)

	abortDone := make(chan error, 1)
	go func() { abortDone <- a.Abort(context.Background()) }()

	msg := rt.expectRequest(MethodTurnInterrupt)
	var params TurnInterruptParams
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, "t-1", params.ThreadID)
	rt.respond(*msg.ID, `{}`)

	require.NoError(t, waitErr(t, abortDone))

	events := drainEvents(t, turn)
	require.NotEmpty(t, events)
	assert.IsType(t, agentstream.CompleteEvent{}, events[len(events)-1])
	assert.True(t, turn.Done())
	waitPhase(t, a, PhaseThreadActive)
}

func TestAgentPlanSubmissionEndsTurn(t *testing.T) {
	var plan string
	a, rt := newTestAgent(t, WithPlanHandler(func(p string) { plan = p }))

	ch := chatAsync(a, "plan the work")
	scriptTurnStart(t, rt, "t-1", "turn-1")
	turn := waitChat(t, ch)

	rt.request(70, MethodToolPreExecute,
		`{"threadId":"t-1","turnId":"turn-1","itemId":"p1","tool":"PresentPlan","input":{"plan":"1. survey\n2. refactor"}}`)
	result := rt.expectResponse(70)
	assert.JSONEq(t, `{"allow":{}}`, string(result))

	events := drainEvents(t, turn)
	require.NotEmpty(t, events)
	var sawInfo bool
	for _, ev := range events {
		if info, ok := ev.(agentstream.InfoEvent); ok {
			sawInfo = true
			assert.Equal(t, "plan submitted for review", info.Message)
		}
	}
	assert.True(t, sawInfo)
	assert.IsType(t, agentstream.CompleteEvent{}, events[len(events)-1])
	assert.Equal(t, "1. survey\n2. refactor", plan)

	// Plan submission keeps the transport up so the conversation can go on.
	waitPhase(t, a, PhaseThreadActive)
	assert.Equal(t, StateConnected, a.client.State())
}

func TestAgentResumeFallbackSplicesRecovery(t *testing.T) {
	a, rt := newTestAgent(t)

	// First session: one full exchange gets recorded.
	ch := chatAsync(a, "what is 6 times 7")
	scriptTurnStart(t, rt, "t-1", "turn-1")
	turn := waitChat(t, ch)
	rt.notify(NotifyItemCompleted,
		`{"threadId":"t-1","turnId":"turn-1","item":{"type":"agentMessage","id":"m1","text":"The answer is 42."}}`)
	notifyTurnCompleted(rt, "t-1", "turn-1")
	drainEvents(t, turn)
	waitPhase(t, a, PhaseThreadActive)

	// The runtime dies out from under the agent.
	a.handleProcessExit(errors.New("runtime crashed"))
	waitPhase(t, a, PhaseNoThread)
	assert.Equal(t, "t-1", a.ThreadID())

	// Next Chat tries to resume, fails, and falls back to a fresh thread
	// with the recovery summary spliced into the message.
	ch = chatAsync(a, "continue where we left off")

	msg := rt.expectRequest(MethodThreadResume)
	var resume ThreadResumeParams
	require.NoError(t, json.Unmarshal(msg.Params, &resume))
	assert.Equal(t, "t-1", resume.ThreadID)
	rt.respondError(*msg.ID, CodeInternalError, "thread not found")

	msg = rt.expectRequest(MethodThreadStart)
	rt.respond(*msg.ID, `{"thread":{"id":"t-2"}}`)

	msg = rt.expectRequest(MethodTurnStart)
	var params TurnStartParams
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, "t-2", params.ThreadID)
	text := params.Input[0].Text
	assert.Contains(t, text, "Context from the previous session")
	assert.Contains(t, text, "User: what is 6 times 7")
	assert.Contains(t, text, "Assistant: The answer is 42.")
	assert.True(t, strings.HasSuffix(text, "continue where we left off"))
	rt.respond(*msg.ID, `{"turn":{"id":"turn-2","status":"inProgress"}}`)

	turn = waitChat(t, ch)
	assert.Equal(t, "t-2", a.ThreadID())
	notifyTurnCompleted(rt, "t-2", "turn-2")
	drainEvents(t, turn)
	waitPhase(t, a, PhaseThreadActive)

	// The recovery preamble is consumed; the next message goes out bare.
	ch = chatAsync(a, "plain follow-up")
	msg = rt.expectRequest(MethodTurnStart)
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, "plain follow-up", params.Input[0].Text)
	rt.respond(*msg.ID, `{"turn":{"id":"turn-3","status":"inProgress"}}`)
	turn = waitChat(t, ch)
	notifyTurnCompleted(rt, "t-2", "turn-3")
	drainEvents(t, turn)
}

func TestAgentResumeKnownThread(t *testing.T) {
	a, rt := newTestAgent(t, WithResumeThread("thread-abc123"))

	ch := chatAsync(a, "pick up where we left off")

	msg := rt.expectRequest(MethodThreadResume)
	var resume ThreadResumeParams
	require.NoError(t, json.Unmarshal(msg.Params, &resume))
	assert.Equal(t, "thread-abc123", resume.ThreadID)
	rt.respond(*msg.ID, `{"thread":{"id":"thread-abc123"}}`)

	msg = rt.expectRequest(MethodTurnStart)
	var params TurnStartParams
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, "thread-abc123", params.ThreadID)
	// A clean resume carries the message as-is, no recovery preamble.
	require.Len(t, params.Input, 1)
	assert.Equal(t, "pick up where we left off", params.Input[0].Text)
	rt.respond(*msg.ID, `{"turn":{"id":"turn-1","status":"inProgress"}}`)

	turn := waitChat(t, ch)
	assert.Equal(t, "thread-abc123", a.ThreadID())
	notifyTurnCompleted(rt, "thread-abc123", "turn-1")
	drainEvents(t, turn)
	waitPhase(t, a, PhaseThreadActive)
}

func TestAgentsResumeIndependently(t *testing.T) {
	a1, rt1 := newTestAgent(t, WithResumeThread("session-1-thread"))
	a2, rt2 := newTestAgent(t, WithResumeThread("session-2-thread"))

	resumeAndChat := func(a *Agent, rt *fakeRuntime, threadID string) {
		t.Helper()
		ch := chatAsync(a, "hello")

		msg := rt.expectRequest(MethodThreadResume)
		var resume ThreadResumeParams
		require.NoError(t, json.Unmarshal(msg.Params, &resume))
		assert.Equal(t, threadID, resume.ThreadID)
		rt.respond(*msg.ID, fmt.Sprintf(`{"thread":{"id":%q}}`, threadID))

		msg = rt.expectRequest(MethodTurnStart)
		var params TurnStartParams
		require.NoError(t, json.Unmarshal(msg.Params, &params))
		assert.Equal(t, threadID, params.ThreadID)
		rt.respond(*msg.ID, `{"turn":{"id":"turn-1","status":"inProgress"}}`)

		turn := waitChat(t, ch)
		notifyTurnCompleted(rt, threadID, "turn-1")
		drainEvents(t, turn)
	}

	resumeAndChat(a1, rt1, "session-1-thread")
	resumeAndChat(a2, rt2, "session-2-thread")

	assert.Equal(t, "session-1-thread", a1.ThreadID())
	assert.Equal(t, "session-2-thread", a2.ThreadID())
}

func TestAgentProcessExitDuringTurn(t *testing.T) {
	a, rt := newTestAgent(t)

	ch := chatAsync(a, "work on it")
	scriptTurnStart(t, rt, "t-1", "turn-1")
	turn := waitChat(t, ch)

	a.handleProcessExit(errors.New("signal: killed"))

	events := drainEvents(t, turn)
	require.NotEmpty(t, events)
	errEv, ok := events[0].(agentstream.ErrorEvent)
	require.True(t, ok, "got %T", events[0])
	assert.Equal(t, "process", errEv.Context)
	assert.IsType(t, agentstream.CompleteEvent{}, events[len(events)-1])

	waitPhase(t, a, PhaseNoThread)
	assert.Equal(t, "t-1", a.ThreadID())
}

func TestAgentAuthRetryOnUnauthorized(t *testing.T) {
	store := &MemoryCredentialStore{}
	require.NoError(t, store.Save(context.Background(), Credentials{
		AccessToken:  "stale",
		RefreshToken: "r1",
	}))
	a, rt := newTestAgent(t,
		WithCredentialStore(store),
		WithTokenRefresher(TokenRefresherFunc(func(ctx context.Context, cur Credentials) (Credentials, error) {
			return Credentials{AccessToken: "fresh", RefreshToken: cur.RefreshToken}, nil
		})),
	)

	type accountResult struct {
		info *AccountInfo
		err  error
	}
	resCh := make(chan accountResult, 1)
	go func() {
		info, err := a.Account(context.Background(), false)
		resCh <- accountResult{info, err}
	}()

	msg := rt.expectRequest(MethodAccountRead)
	rt.respondError(*msg.ID, CodeUnauthorized, "token expired")

	msg = rt.expectRequest(MethodSetTokens)
	var tokens SetTokensParams
	require.NoError(t, json.Unmarshal(msg.Params, &tokens))
	assert.Equal(t, "fresh", tokens.AccessToken)
	rt.respond(*msg.ID, `{}`)

	msg = rt.expectRequest(MethodAccountRead)
	rt.respond(*msg.ID, `{"account":{"email":"dev@example.com","planType":"pro"}}`)

	select {
	case res := <-resCh:
		require.NoError(t, res.err)
		require.NotNil(t, res.info)
		assert.Equal(t, "dev@example.com", res.info.Email)
		assert.Equal(t, "pro", res.info.PlanType)
	case <-time.After(5 * time.Second):
		t.Fatal("Account did not return")
	}

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
}

func TestAgentReauthRequiredSurfaces(t *testing.T) {
	store := &MemoryCredentialStore{}
	require.NoError(t, store.Save(context.Background(), Credentials{
		AccessToken:  "stale",
		RefreshToken: "dead",
	}))
	var authRequired bool
	a, rt := newTestAgent(t,
		WithCredentialStore(store),
		WithTokenRefresher(TokenRefresherFunc(func(ctx context.Context, cur Credentials) (Credentials, error) {
			return Credentials{}, ErrInvalidRefreshToken
		})),
		WithAuthRequiredHandler(func() { authRequired = true }),
	)

	ch := chatAsync(a, "do something")

	msg := rt.expectRequest(MethodThreadStart)
	rt.respond(*msg.ID, `{"thread":{"id":"t-1"}}`)

	msg = rt.expectRequest(MethodTurnStart)
	rt.respondError(*msg.ID, CodeUnauthorized, "token expired")

	err := waitChatErr(t, ch)
	require.ErrorIs(t, err, ErrReauthRequired)
	assert.True(t, authRequired)

	// The dead tokens are gone; a later sign-in starts clean.
	saved, lerr := store.Load(context.Background())
	require.NoError(t, lerr)
	assert.False(t, saved.Valid())
	waitPhase(t, a, PhaseThreadActive)
}

func TestAgentAdoptsAnnouncedThread(t *testing.T) {
	a, rt := newTestAgent(t)

	rt.notify(NotifyThreadStarted, `{"threadId":"t-9"}`)
	require.Eventually(t, func() bool { return a.ThreadID() == "t-9" },
		2*time.Second, 5*time.Millisecond)
}

func TestAgentClearHistory(t *testing.T) {
	a, rt := newTestAgent(t)

	ch := chatAsync(a, "first")
	scriptTurnStart(t, rt, "t-1", "turn-1")
	turn := waitChat(t, ch)
	notifyTurnCompleted(rt, "t-1", "turn-1")
	drainEvents(t, turn)
	waitPhase(t, a, PhaseThreadActive)

	require.NoError(t, a.ClearHistory())
	assert.Empty(t, a.ThreadID())
	assert.Equal(t, PhaseNoThread, a.Phase())

	// The next Chat starts a brand new thread with no recovery preamble.
	ch = chatAsync(a, "fresh start")
	params := scriptTurnStart(t, rt, "t-2", "turn-2")
	assert.Equal(t, "fresh start", params.Input[0].Text)
	turn = waitChat(t, ch)
	notifyTurnCompleted(rt, "t-2", "turn-2")
	drainEvents(t, turn)
}

func TestRecordExchangeTruncatesOnRuneBoundary(t *testing.T) {
	a := NewAgent()

	// A 3-byte rune straddles the 500-byte cap, so a byte-offset slice
	// would cut mid-rune and leave invalid UTF-8 in the summary.
	long := strings.Repeat("€", recoveryTextLimit)
	a.recordExchange("user", long)

	a.mu.Lock()
	got := a.history[len(a.history)-1].text
	a.mu.Unlock()

	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), recoveryTextLimit+len("..."))
}

func TestAgentSetModelAppliesNextTurn(t *testing.T) {
	a, rt := newTestAgent(t, WithModel("o3"), WithReasoningEffort("low"))
	assert.Equal(t, "o3", a.Model())
	assert.Equal(t, "low", a.ReasoningEffort())

	ch := chatAsync(a, "first")
	params := scriptTurnStart(t, rt, "t-1", "turn-1")
	assert.Equal(t, "o3", params.Model)
	assert.Equal(t, "low", params.Effort)
	turn := waitChat(t, ch)
	notifyTurnCompleted(rt, "t-1", "turn-1")
	drainEvents(t, turn)
	waitPhase(t, a, PhaseThreadActive)

	a.SetModel("gpt-5-codex")
	a.SetReasoningEffort("high")

	ch = chatAsync(a, "second")
	msg := rt.expectRequest(MethodTurnStart)
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, "gpt-5-codex", params.Model)
	assert.Equal(t, "high", params.Effort)
	rt.respond(*msg.ID, `{"turn":{"id":"turn-2","status":"inProgress"}}`)
	turn = waitChat(t, ch)
	notifyTurnCompleted(rt, "t-1", "turn-2")
	drainEvents(t, turn)
}

func TestAgentUsageTracking(t *testing.T) {
	a, rt := newTestAgent(t)

	ch := chatAsync(a, "count tokens")
	scriptTurnStart(t, rt, "t-1", "turn-1")
	turn := waitChat(t, ch)

	rt.notify(NotifyTokenUsage,
		`{"threadId":"t-1","tokenUsage":{"total":{"inputTokens":900,"cachedInputTokens":600,"outputTokens":100,"totalTokens":1000}}}`)
	notifyTurnCompleted(rt, "t-1", "turn-1")
	drainEvents(t, turn)

	require.Eventually(t, func() bool { return a.Usage().TotalTokens == 1000 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(900), a.Usage().InputTokens)
	assert.Equal(t, int64(600), a.Usage().CachedInputTokens)
}
