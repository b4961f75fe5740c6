package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-chat/internal/data/repos"
	"github.com/yungbote/neurobridge-chat/internal/data/repos/testutil"
	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
	httpH "github.com/yungbote/neurobridge-chat/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-chat/internal/http/middleware"
	"github.com/yungbote/neurobridge-chat/internal/observability"
	"github.com/yungbote/neurobridge-chat/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/embedding"
	"github.com/yungbote/neurobridge-chat/internal/platform/llm"
	"github.com/yungbote/neurobridge-chat/internal/realtime/sse"
	"github.com/yungbote/neurobridge-chat/internal/realtime/stream"
	"github.com/yungbote/neurobridge-chat/internal/services"
)

type cannedGenerator struct {
	deltas []string
}

func (g cannedGenerator) Stream(ctx context.Context, req llm.Request, onDelta func(string)) (llm.Result, error) {
	for _, d := range g.deltas {
		onDelta(d)
	}
	return llm.Result{Text: strings.Join(g.deltas, ""), PromptTokens: 3, CompletionTokens: len(g.deltas)}, nil
}

type testEnv struct {
	db     *gorm.DB
	auth   services.AuthService
	router *gin.Engine
}

func newTestEnv(t *testing.T, withBroker bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := testutil.Logger(t)
	db := testutil.DB(t)
	set := repos.NewSet(db, log)

	var broker stream.Broker
	if withBroker {
		mb := stream.NewMemoryBroker(time.Minute)
		t.Cleanup(func() { _ = mb.Close() })
		broker = mb
	}
	mux := stream.NewMultiplexer(log, broker, time.Minute)
	bg := services.NewBackground(log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mux.Wait(ctx)
		_ = bg.Wait(ctx)
	})

	cache, err := services.NewActivePromptCache(log, set.Prompts, time.Minute)
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	memory := services.NewMemoryService(log, set.Memory, embedding.NewHashEmbedder(0), bg)
	admission := services.NewAdmissionService(log, set.Usage, services.DefaultQuotas(), false)
	chatSvc := services.NewChatService(log, services.ChatDeps{
		Repos:     set,
		Admission: admission,
		Assembler: services.NewPromptAssembler(log, cache, memory),
		Memory:    memory,
		Finalizer: services.NewCompletionFinalizer(log, set.Messages, set.Usage),
		Generator: cannedGenerator{deltas: []string{"Hel", "lo"}},
		Mux:       mux,
		Model:     "gpt-4.1-mini",
	})
	auth := services.NewAuthService(log, "router-test-secret")

	router := NewRouter(RouterConfig{
		Log:                 log,
		ServiceName:         "router-test",
		Metrics:             observability.NewMetrics(),
		AuthMiddleware:      httpMW.NewAuthMiddleware(log, auth),
		ChatHandler:         httpH.NewChatHandler(log, chatSvc, sse.NewWriter(log, time.Minute)),
		ConversationHandler: httpH.NewConversationHandler(services.NewConversationService(log, set)),
		UsageHandler:        httpH.NewUsageHandler(admission),
		PromptAdminHandler:  httpH.NewPromptAdminHandler(services.NewPromptService(log, set.Prompts, cache)),
		HealthHandler:       httpH.NewHealthHandler(nil),
	})
	return &testEnv{db: db, auth: auth, router: router}
}

func (e *testEnv) token(t *testing.T, user uuid.UUID, class ctxutil.UserClass, admin bool) string {
	t.Helper()
	tok, err := e.auth.IssueToken(user, class, admin, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func chatBody(convID uuid.UUID, text string) map[string]any {
	return map[string]any{
		"id": convID,
		"message": map[string]any{
			"id":    uuid.New(),
			"role":  "user",
			"parts": []map[string]string{{"type": "text", "text": text}},
		},
		"selected_chat_model":      "chat-model",
		"selected_visibility_type": "private",
	}
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var out errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthcheck(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, http.MethodGet, "/healthcheck", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestChatRequiresAuth(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/api/chat", "", chatBody(uuid.New(), "hi"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", decodeError(t, rec).Error.Code)

	rec = env.do(t, http.MethodPost, "/api/chat", "not-a-token", chatBody(uuid.New(), "hi"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatStreamsAndReplays(t *testing.T) {
	env := newTestEnv(t, true)
	tok := env.token(t, uuid.New(), ctxutil.UserClassRegular, false)
	convID := uuid.New()

	rec := env.do(t, http.MethodPost, "/api/chat", tok, chatBody(convID, "hello there"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Header().Get("X-Stream-Id"))
	body := rec.Body.String()
	require.Contains(t, body, "event: start\n")
	require.Contains(t, body, "event: delta\ndata: {\"text\":\"Hel\"}\n\n")
	require.Contains(t, body, "event: delta\ndata: {\"text\":\"lo\"}\n\n")
	require.Contains(t, body, "event: finish\n")
	require.Less(t, strings.Index(body, "event: start"), strings.Index(body, "event: finish"))

	// The finished stream stays replayable for the broker window.
	rec = env.do(t, http.MethodGet, "/api/chat/"+convID.String()+"/stream", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, stripIDs(body), stripIDs(rec.Body.String()))
}

// stripIDs drops id lines so a replay can be compared with the original.
func stripIDs(s string) string {
	var out []string
	for _, line := range strings.SplitAfter(s, "\n") {
		if !strings.HasPrefix(line, "id: ") {
			out = append(out, line)
		}
	}
	return strings.Join(out, "")
}

func TestResumeWithoutBrokerSynthesizesMessage(t *testing.T) {
	env := newTestEnv(t, false)
	user := uuid.New()
	tok := env.token(t, user, ctxutil.UserClassRegular, false)
	convID := uuid.New()

	rec := env.do(t, http.MethodPost, "/api/chat", tok, chatBody(convID, "hello"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "event: finish\n")

	rec = env.do(t, http.MethodGet, "/api/chat/"+convID.String()+"/stream", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "event: message\n")
	require.Contains(t, rec.Body.String(), `"role":"assistant"`)

	// A conversation whose last turn is the user's yields nothing.
	quiet := testutil.SeedConversation(t, context.Background(), env.db, user, chat.VisibilityPrivate)
	testutil.SeedMessage(t, context.Background(), env.db, quiet.ID, chat.RoleUser, "anyone?", time.Now())
	rec = env.do(t, http.MethodGet, "/api/chat/"+quiet.ID.String()+"/stream", tok, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/chat/"+uuid.NewString()+"/stream", tok, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/chat/not-a-uuid/stream", tok, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatOverQuota(t *testing.T) {
	env := newTestEnv(t, true)
	user := uuid.New()
	testutil.SeedUsage(t, context.Background(), env.db, user, 10_000, 10_000, time.Now().Add(-time.Hour))
	tok := env.token(t, user, ctxutil.UserClassRegular, false)

	rec := env.do(t, http.MethodPost, "/api/chat", tok, chatBody(uuid.New(), "hi"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	eb := decodeError(t, rec)
	require.Equal(t, "rate_limit:chat", eb.Error.Code)
	require.Contains(t, eb.Error.Message, "20000")

	rec = env.do(t, http.MethodGet, "/api/usage", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var usage map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	require.Equal(t, map[string]int64{"quota": 20_000, "used": 20_000, "remaining": 0, "window_hours": 24}, usage)
}

func TestChatRejectsMalformedTurns(t *testing.T) {
	env := newTestEnv(t, true)
	tok := env.token(t, uuid.New(), ctxutil.UserClassGuest, false)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat", tok, chatBody(uuid.New(), "   "))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "bad_request", decodeError(t, rec).Error.Code)
}

func TestAdminPromptRoutes(t *testing.T) {
	env := newTestEnv(t, true)
	userTok := env.token(t, uuid.New(), ctxutil.UserClassPremium, false)
	adminTok := env.token(t, uuid.New(), ctxutil.UserClassPremium, true)

	rec := env.do(t, http.MethodGet, "/api/admin/prompts", userTok, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/prompts/active", adminTok, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/prompts", adminTok, map[string]any{"text": "Be brief.", "is_active": true})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Prompt struct {
			ID       uuid.UUID `json:"id"`
			IsActive bool      `json:"is_active"`
			Version  int       `json:"version"`
		} `json:"prompt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.True(t, created.Prompt.IsActive)

	rec = env.do(t, http.MethodPost, "/api/admin/prompts", adminTok, map[string]any{"text": "Be brief.", "is_active": "yes"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/admin/prompts/"+created.Prompt.ID.String(), adminTok, map[string]any{"text": "Be very brief."})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"version":2`)

	rec = env.do(t, http.MethodGet, "/api/admin/prompts/active", adminTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Be very brief.")

	rec = env.do(t, http.MethodGet, "/api/admin/prompts/"+created.Prompt.ID.String(), adminTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Be very brief.")
	rec = env.do(t, http.MethodGet, "/api/admin/prompts/not-a-uuid", adminTok, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/admin/prompts/"+uuid.NewString(), adminTok, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationAndVoteRoutes(t *testing.T) {
	env := newTestEnv(t, true)
	owner := uuid.New()
	tok := env.token(t, owner, ctxutil.UserClassRegular, false)
	otherTok := env.token(t, uuid.New(), ctxutil.UserClassRegular, false)

	conv := testutil.SeedConversation(t, context.Background(), env.db, owner, chat.VisibilityPrivate)
	now := time.Now()
	first := testutil.SeedMessage(t, context.Background(), env.db, conv.ID, chat.RoleUser, "q1", now.Add(-3*time.Second))
	reply := testutil.SeedMessage(t, context.Background(), env.db, conv.ID, chat.RoleAssistant, "a1", now.Add(-2*time.Second))
	second := testutil.SeedMessage(t, context.Background(), env.db, conv.ID, chat.RoleUser, "q2", now.Add(-time.Second))

	rec := env.do(t, http.MethodGet, "/api/conversations", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), conv.ID.String())

	rec = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID.String(), otherTok, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/vote", tok, map[string]any{
		"conversation_id": conv.ID, "message_id": reply.ID, "type": "sideways",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/vote", tok, map[string]any{
		"conversation_id": conv.ID, "message_id": reply.ID, "type": "up",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/vote?conversation_id="+conv.ID.String(), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var votes struct {
		Votes []chat.Vote `json:"votes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &votes))
	require.Len(t, votes.Votes, 1)
	require.True(t, votes.Votes[0].IsUpvoted)

	rec = env.do(t, http.MethodDelete, "/api/conversations/"+conv.ID.String()+"/messages/"+second.ID.String()+"/trailing", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"deleted":1}`, rec.Body.String())

	rec = env.do(t, http.MethodPatch, "/api/conversations/"+conv.ID.String()+"/visibility", tok, map[string]any{"visibility": "public"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID.String(), otherTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		Messages []chat.Message `json:"messages"`
		IsOwner  bool           `json:"is_owner"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.False(t, view.IsOwner)
	require.Len(t, view.Messages, 2)
	require.Equal(t, first.ID, view.Messages[0].ID)

	rec = env.do(t, http.MethodDelete, "/api/conversations/"+conv.ID.String(), otherTok, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/conversations/"+conv.ID.String(), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID.String(), tok, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
