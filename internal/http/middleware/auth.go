package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-chat/internal/http/response"
	"github.com/yungbote/neurobridge-chat/internal/platform/apierr"
	"github.com/yungbote/neurobridge-chat/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/services"
)

const (
	bearerPrefix = "bearer "
	// EventSource cannot send headers, so stream reconnects may carry the
	// session token in the query string.
	tokenQueryParam = "token"
)

var (
	errNoSession  = apierr.Unauthorized("missing or invalid token")
	errAdminsOnly = apierr.Forbidden("admin only")
	errNoSubject  = apierr.Forbidden("forbidden")
)

// AuthMiddleware resolves the session token into the request's user id,
// user class and admin flag.
type AuthMiddleware struct {
	log  *logger.Logger
	auth services.AuthService
}

func NewAuthMiddleware(log *logger.Logger, auth services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "Auth"), auth: auth}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, from := sessionToken(c)
		if raw == "" {
			deny(c, errNoSession)
			return
		}
		ctx, err := am.auth.SetContextFromToken(c.Request.Context(), raw)
		if err != nil {
			am.log.Debug("session rejected", "source", from, "route", c.FullPath(), "error", err)
			deny(c, errNoSession)
			return
		}
		if rd := ctxutil.GetRequestData(ctx); rd == nil || rd.UserID == uuid.Nil {
			deny(c, errNoSubject)
			return
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAdmin must run after RequireAuth.
func (am *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch rd := ctxutil.GetRequestData(c.Request.Context()); {
		case rd == nil:
			deny(c, errNoSession)
		case !rd.IsAdmin:
			deny(c, errAdminsOnly)
		default:
			c.Next()
		}
	}
}

func deny(c *gin.Context, err *apierr.Error) {
	if err.Status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Bearer realm="chat"`)
	}
	response.RespondAPIError(c, err)
	c.Abort()
}

// sessionToken prefers the Authorization header and falls back to the query
// parameter on GET requests. The second result names the source for logs.
func sessionToken(c *gin.Context) (string, string) {
	if h := strings.TrimSpace(c.GetHeader("Authorization")); len(h) > len(bearerPrefix) &&
		strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):]), "header"
	}
	if c.Request.Method == http.MethodGet {
		if q := strings.TrimSpace(c.Query(tokenQueryParam)); q != "" {
			return q, "query"
		}
	}
	return "", ""
}
