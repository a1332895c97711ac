package auth

import (
	"context"

	"github.com/platinummonkey/caregate/pkg/apperrors"
	"github.com/platinummonkey/caregate/pkg/observability"
)

// Client-facing authentication failure messages
const (
	MsgInvalidToken      = "Invalid or expired token"
	MsgNeedAccessToken   = "Please provide an access token"
	MsgNeedRefreshToken  = "Please provide a refresh token"
	MsgTokenRevoked      = "Token has been revoked"
	MsgRevocationUnknown = "Unable to verify token status"
	MsgInvalidUserID     = "Invalid user identifier in token"
)

// Rejection reasons used as metric labels
const (
	ReasonInvalid          = "invalid"
	ReasonExpired          = "expired"
	ReasonWrongType        = "wrong_type"
	ReasonRevoked          = "revoked"
	ReasonRevocationLookup = "revocation_lookup"
	ReasonInvalidUser      = "invalid_user"
)

// RevocationChecker answers whether a token id has been revoked
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// VerifierOption configures a TokenVerifier
type VerifierOption func(*TokenVerifier)

// WithFailOpen accepts tokens whose revocation status cannot be read.
// The default rejects them.
func WithFailOpen() VerifierOption {
	return func(v *TokenVerifier) { v.failOpen = true }
}

// WithVerifierMetrics records rejections on m
func WithVerifierMetrics(m *observability.Metrics) VerifierOption {
	return func(v *TokenVerifier) { v.metrics = m }
}

// TokenVerifier runs the full verification sequence for a presented token
type TokenVerifier struct {
	codec   *TokenCodec
	revoked RevocationChecker
	logger  *observability.Logger
	metrics *observability.Metrics

	failOpen bool
}

// NewTokenVerifier creates a verifier. revoked may be nil to skip revocation.
func NewTokenVerifier(codec *TokenCodec, revoked RevocationChecker, logger *observability.Logger, opts ...VerifierOption) *TokenVerifier {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	v := &TokenVerifier{codec: codec, revoked: revoked, logger: logger}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Authenticate decodes raw and checks its type, revocation and subject.
// Every failure is an authentication error carrying a client-facing message.
func (v *TokenVerifier) Authenticate(ctx context.Context, raw string, kind TokenKind) (*AuthContext, error) {
	claims, err := v.codec.Decode(raw)
	if err != nil {
		reason := ReasonInvalid
		if IsExpired(err) {
			reason = ReasonExpired
		}
		return nil, v.reject(reason, MsgInvalidToken, apperrors.ErrInvalidToken, err)
	}

	if claims.Kind() != kind {
		msg := MsgNeedAccessToken
		if kind == KindRefresh {
			msg = MsgNeedRefreshToken
		}
		return nil, v.reject(ReasonWrongType, msg, apperrors.ErrWrongTokenType, nil)
	}

	if v.revoked != nil {
		revoked, err := v.revoked.IsRevoked(ctx, claims.ID)
		switch {
		case err != nil && v.failOpen:
			observability.FromContext(ctx).WithError(err).WithField("jti", claims.ID).
				Warn("revocation status unavailable, accepting token")
		case err != nil:
			observability.FromContext(ctx).WithError(err).WithField("jti", claims.ID).
				Error("revocation status unavailable, rejecting token")
			return nil, v.reject(ReasonRevocationLookup, MsgRevocationUnknown, nil, err)
		case revoked:
			return nil, v.reject(ReasonRevoked, MsgTokenRevoked, apperrors.ErrTokenRevoked, nil)
		}
	}

	if claims.User.UserID <= 0 {
		return nil, v.reject(ReasonInvalidUser, MsgInvalidUserID, apperrors.ErrInvalidToken, nil)
	}

	ac := &AuthContext{
		Claims:  claims.User.Clone(),
		TokenID: claims.ID,
		Kind:    claims.Kind(),
	}
	if claims.IssuedAt != nil {
		ac.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		ac.ExpiresAt = claims.ExpiresAt.Time
	}
	return ac, nil
}

func (v *TokenVerifier) reject(reason, message string, kind, cause error) error {
	v.metrics.AuthRejection(reason)
	e := apperrors.Authentication(message, kind)
	e.Err = cause
	return e
}
