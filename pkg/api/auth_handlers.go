package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/caregate/pkg/auth"
	"github.com/platinummonkey/caregate/pkg/httputil"
	"github.com/platinummonkey/caregate/pkg/middleware"
)

// AuthHandlers handles session HTTP requests
type AuthHandlers struct {
	sessions SessionService
	resolver PermissionResolver
	audit    *auth.AuditLogger
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(sessions SessionService, resolver PermissionResolver, audit *auth.AuditLogger) *AuthHandlers {
	return &AuthHandlers{sessions: sessions, resolver: resolver, audit: audit}
}

// RegisterRoutes registers session routes. Login is rate limited per client
// IP; refresh takes a refresh token and the rest take an access token.
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, authm *middleware.AuthMiddleware, limiter *middleware.RateLimiter) {
	router.Handle("/auth/login", limiter.Handler(http.HandlerFunc(h.login))).Methods("POST")
	router.Handle("/auth/refresh-token", authm.RefreshHandler(http.HandlerFunc(h.refresh))).Methods("POST")
	router.Handle("/auth/logout", authm.Handler(http.HandlerFunc(h.logout))).Methods("POST")
	router.Handle("/auth/me", authm.Handler(http.HandlerFunc(h.me))).Methods("GET")
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	pair, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		audit(h.audit, r, auth.ActionLoginFailure, auth.ResourceSession, "", auth.StatusFailure, err)
		writeError(w, r, err)
		return
	}

	audit(h.audit, r, auth.ActionLogin, auth.ResourceSession, "", auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, pair)
}

// refresh handles POST /auth/refresh-token
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	ac := middleware.GetAuthContext(r)

	pair, err := h.sessions.Rotate(r.Context(), ac)
	if err != nil {
		audit(h.audit, r, auth.ActionRefresh, auth.ResourceSession, ac.TokenID, auth.StatusFailure, err)
		writeError(w, r, err)
		return
	}

	audit(h.audit, r, auth.ActionRefresh, auth.ResourceSession, ac.TokenID, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, pair)
}

// logout handles POST /auth/logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	ac := middleware.GetAuthContext(r)

	if err := h.sessions.Logout(r.Context(), ac); err != nil {
		audit(h.audit, r, auth.ActionLogout, auth.ResourceSession, ac.TokenID, auth.StatusFailure, err)
		writeError(w, r, err)
		return
	}

	audit(h.audit, r, auth.ActionLogout, auth.ResourceSession, ac.TokenID, auth.StatusSuccess, nil)
	httputil.WriteSuccess(w, StatusResponse{Status: statusOK})
}

// me handles GET /auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	ac := middleware.GetAuthContext(r)

	set, err := h.resolver.Resolve(r.Context(), ac.UserID(), nil)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, MeResponse{User: ac.Claims, Permissions: set.Sorted()})
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
