package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/platinummonkey/caregate/pkg/apperrors"
	"github.com/platinummonkey/caregate/pkg/auth"
	"github.com/platinummonkey/caregate/pkg/contextkeys"
	"github.com/platinummonkey/caregate/pkg/httputil"
	"github.com/platinummonkey/caregate/pkg/observability"
)

// Client-facing messages for a missing or malformed Authorization header
const (
	MsgMissingHeader = "missing authorization header"
	MsgInvalidHeader = "invalid authorization header format"
)

// Authenticator verifies a raw bearer token of the given kind
type Authenticator interface {
	Authenticate(ctx context.Context, raw string, kind auth.TokenKind) (*auth.AuthContext, error)
}

// AuthMiddleware provides bearer token authentication
type AuthMiddleware struct {
	authenticator Authenticator
	metrics       *observability.Metrics
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authenticator Authenticator, metrics *observability.Metrics) *AuthMiddleware {
	return &AuthMiddleware{authenticator: authenticator, metrics: metrics}
}

// Handler requires a valid, unrevoked access token
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return m.require(auth.KindAccess, next)
}

// RefreshHandler requires a valid, unrevoked refresh token
func (m *AuthMiddleware) RefreshHandler(next http.Handler) http.Handler {
	return m.require(auth.KindRefresh, next)
}

func (m *AuthMiddleware) require(kind auth.TokenKind, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := observability.FromContext(r.Context())

		raw, present, err := httputil.BearerToken(r)
		switch {
		case !present:
			m.metrics.AuthRejection("missing_header")
			logger.Info("request rejected: " + MsgMissingHeader)
			httputil.WriteUnauthorized(w, MsgMissingHeader)
			return
		case err != nil || raw == "":
			m.metrics.AuthRejection("invalid_header")
			logger.Info("request rejected: " + MsgInvalidHeader)
			httputil.WriteUnauthorized(w, MsgInvalidHeader)
			return
		}

		ac, err := m.authenticator.Authenticate(r.Context(), raw, kind)
		if err != nil {
			_, message := apperrors.PublicMessage(err)
			logger.WithError(err).Info("request rejected: " + message)
			w.Header().Set("WWW-Authenticate", "Bearer")
			httputil.WriteError(w, err)
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), ac)
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(ac.UserID(), 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	ctx := r.Context().Value(contextkeys.AuthKey)
	if ctx == nil {
		return nil
	}
	authCtx, ok := ctx.(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}
