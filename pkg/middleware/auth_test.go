package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/platinummonkey/caregate/pkg/auth"
	"github.com/platinummonkey/caregate/pkg/cache"
	"github.com/platinummonkey/caregate/pkg/contextkeys"
	"github.com/platinummonkey/caregate/pkg/httputil"
)

func newTestVerifier(t *testing.T) (*auth.TokenCodec, *auth.RevocationRegistry, *auth.TokenVerifier) {
	t.Helper()
	codec, err := auth.NewTokenCodec(auth.CodecConfig{Secret: []byte("middleware-secret")})
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	store := cache.NewMemoryStore(cache.DefaultConfig())
	t.Cleanup(func() { store.Close() })
	registry := auth.NewRevocationRegistry(store, time.Hour, nil, nil)
	return codec, registry, auth.NewTokenVerifier(codec, registry, nil)
}

func doctorClaims() *auth.UserClaims {
	return &auth.UserClaims{UserID: 7, Username: "dr_seven"}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode error body %q: %v", w.Body.String(), err)
	}
	return body.Error
}

func TestAuthMiddleware_Handler(t *testing.T) {
	codec, registry, verifier := newTestVerifier(t)
	mw := NewAuthMiddleware(verifier, nil)

	access, accessClaims, err := codec.Issue(doctorClaims(), auth.KindAccess)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	refresh, _, err := codec.Issue(doctorClaims(), auth.KindRefresh)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	revoked, revokedClaims, err := codec.Issue(doctorClaims(), auth.KindAccess)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if err := registry.Revoke(context.Background(), revokedClaims.ID, time.Minute); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	badSubject, _, err := codec.Issue(&auth.UserClaims{UserID: -1}, auth.KindAccess)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	tests := []struct {
		name        string
		header      string
		wantStatus  int
		wantMessage string
	}{
		{"missing header", "", http.StatusUnauthorized, MsgMissingHeader},
		{"not bearer", "Basic abc", http.StatusUnauthorized, MsgInvalidHeader},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, MsgInvalidHeader},
		{"garbage token", "Bearer not-a-token", http.StatusUnauthorized, auth.MsgInvalidToken},
		{"refresh token", "Bearer " + refresh, http.StatusUnauthorized, auth.MsgNeedAccessToken},
		{"revoked token", "Bearer " + revoked, http.StatusUnauthorized, auth.MsgTokenRevoked},
		{"bad subject", "Bearer " + badSubject, http.StatusUnauthorized, auth.MsgInvalidUserID},
		{"valid token", "Bearer " + access, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *auth.AuthContext
			handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = GetAuthContext(r)
				if contextkeys.GetUserID(r.Context()) != "7" {
					t.Errorf("Expected user id 7 in context, got %q", contextkeys.GetUserID(r.Context()))
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("GET", "/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				if got == nil || got.TokenID != accessClaims.ID {
					t.Errorf("Expected auth context for token %s, got %+v", accessClaims.ID, got)
				}
				return
			}
			if got != nil {
				t.Error("Handler ran for a rejected request")
			}
			if msg := decodeError(t, w); msg != tt.wantMessage {
				t.Errorf("Expected message %q, got %q", tt.wantMessage, msg)
			}
			if w.Header().Get("WWW-Authenticate") != "Bearer" {
				t.Errorf("Expected WWW-Authenticate header, got %q", w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestAuthMiddleware_RefreshHandler(t *testing.T) {
	codec, _, verifier := newTestVerifier(t)
	mw := NewAuthMiddleware(verifier, nil)

	access, _, _ := codec.Issue(doctorClaims(), auth.KindAccess)
	refresh, _, _ := codec.Issue(doctorClaims(), auth.KindRefresh)

	handler := mw.RefreshHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ac := GetAuthContext(r); ac == nil || ac.Kind != auth.KindRefresh {
			t.Errorf("Expected refresh auth context, got %+v", ac)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/auth/refresh-token", nil)
	req.Header.Set("Authorization", "Bearer "+refresh)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for refresh token, got %d", w.Code)
	}

	req = httptest.NewRequest("POST", "/auth/refresh-token", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 for access token, got %d", w.Code)
	}
	if msg := decodeError(t, w); msg != auth.MsgNeedRefreshToken {
		t.Errorf("Expected %q, got %q", auth.MsgNeedRefreshToken, msg)
	}
}

func TestGetAuthContext_Missing(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if GetAuthContext(req) != nil {
		t.Error("Expected nil auth context")
	}
	req = req.WithContext(contextkeys.WithAuth(req.Context(), "not-an-auth-context"))
	if GetAuthContext(req) != nil {
		t.Error("Expected nil auth context for wrong type")
	}
}
