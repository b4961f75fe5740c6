package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neurobridge-chat/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/services"
)

func authRouter(t *testing.T) (*gin.Engine, services.AuthService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	auth := services.NewAuthService(logger.Nop(), "mw-secret")
	am := NewAuthMiddleware(logger.Nop(), auth)

	r := gin.New()
	api := r.Group("/api", am.RequireAuth())
	api.GET("/me", func(c *gin.Context) {
		rd := ctxutil.GetRequestData(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user_id": rd.UserID, "class": rd.UserClass})
	})
	api.GET("/admin/ping", am.RequireAdmin(), func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return r, auth
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth(t *testing.T) {
	r, auth := authRouter(t)
	user := uuid.New()
	tok, err := auth.IssueToken(user, ctxutil.UserClassPremium, false, time.Hour)
	require.NoError(t, err)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error":{"message":"missing or invalid token","code":"unauthorized"}}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = serve(r, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), user.String())
	require.Contains(t, rec.Body.String(), `"class":"premium"`)

	// EventSource cannot set headers, so the token may ride in the query.
	rec = serve(r, httptest.NewRequest(http.MethodGet, "/api/me?token="+tok, nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	r, auth := authRouter(t)
	userTok, err := auth.IssueToken(uuid.New(), ctxutil.UserClassRegular, false, time.Hour)
	require.NoError(t, err)
	adminTok, err := auth.IssueToken(uuid.New(), ctxutil.UserClassRegular, true, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer "+userTok)
	require.Equal(t, http.StatusForbidden, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/ping", nil)
	req.Header.Set("Authorization", "bearer "+adminTok)
	rec := serve(r, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pong", rec.Body.String())
}

func TestQueryTokenOnlyForGet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := services.NewAuthService(logger.Nop(), "mw-secret")
	am := NewAuthMiddleware(logger.Nop(), auth)
	r := gin.New()
	r.POST("/api/chat", am.RequireAuth(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	tok, err := auth.IssueToken(uuid.New(), ctxutil.UserClassGuest, false, time.Hour)
	require.NoError(t, err)

	rec := serve(r, httptest.NewRequest(http.MethodPost, "/api/chat?token="+tok, nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, `Bearer realm="chat"`, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	require.Equal(t, http.StatusNoContent, serve(r, req).Code)
}
