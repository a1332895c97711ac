package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/caregate/pkg/apperrors"
	"github.com/platinummonkey/caregate/pkg/observability"
	"github.com/platinummonkey/caregate/pkg/rbac"
)

// Login outcomes used as metric labels
const (
	LoginSuccess = "success"
	LoginFailure = "failure"
	LoginError   = "error"
)

// UserSource looks up accounts for login and refresh
type UserSource interface {
	GetUser(ctx context.Context, userID int64) (*rbac.User, error)
	GetUserByEmail(ctx context.Context, email string) (*rbac.User, error)
}

// ServiceConfig holds the collaborators of a Service
type ServiceConfig struct {
	Users         UserSource
	Claims        *ClaimsBuilder
	Codec         *TokenCodec
	Verifier      *TokenVerifier
	Revoker       Revoker
	RefreshPolicy RefreshPolicy
	Logger        *observability.Logger
	Metrics       *observability.Metrics
}

// Service implements login, refresh and logout
type Service struct {
	users    UserSource
	claims   *ClaimsBuilder
	codec    *TokenCodec
	verifier *TokenVerifier
	revoker  Revoker
	policy   RefreshPolicy
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewService creates an auth service
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Users == nil || cfg.Claims == nil || cfg.Codec == nil || cfg.Verifier == nil || cfg.Revoker == nil {
		return nil, fmt.Errorf("auth service requires users, claims, codec, verifier and revoker")
	}
	if cfg.RefreshPolicy == "" {
		cfg.RefreshPolicy = RefreshReuse
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &Service{
		users:    cfg.Users,
		claims:   cfg.Claims,
		codec:    cfg.Codec,
		verifier: cfg.Verifier,
		revoker:  cfg.Revoker,
		policy:   cfg.RefreshPolicy,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      time.Now,
	}, nil
}

// Verifier returns the token verifier used by the service
func (s *Service) Verifier() *TokenVerifier { return s.verifier }

// Login checks credentials and issues a token pair. Unknown emails, inactive
// accounts and wrong passwords all yield the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperrors.Validation("email and password are required", "email", nil)
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			burnPasswordCheck(password)
			return nil, s.loginFailed(ctx, email, "unknown email")
		}
		s.metrics.LoginAttempt(LoginError)
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	ok, err := VerifyPassword(user.PasswordHash, password)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Error("stored password hash is unusable")
	}
	if !ok {
		return nil, s.loginFailed(ctx, email, "wrong password")
	}
	if !user.IsActive {
		return nil, s.loginFailed(ctx, email, "inactive account")
	}

	claims := s.buildClaims(ctx, user, "login")
	pair, err := s.codec.IssuePair(claims)
	if err != nil {
		s.metrics.LoginAttempt(LoginError)
		return nil, err
	}

	s.metrics.LoginAttempt(LoginSuccess)
	observability.FromContext(ctx).WithField("user_id", user.ID).Info("user logged in")
	return pair, nil
}

func (s *Service) loginFailed(ctx context.Context, email, reason string) error {
	s.metrics.LoginAttempt(LoginFailure)
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"email":  email,
		"reason": reason,
	}).Info("login rejected")
	return apperrors.Authentication("Invalid email or password", apperrors.ErrInvalidCredentials)
}

// Refresh verifies a refresh token and rotates it into a new pair
func (s *Service) Refresh(ctx context.Context, raw string) (*TokenPair, error) {
	ac, err := s.verifier.Authenticate(ctx, raw, KindRefresh)
	if err != nil {
		return nil, err
	}
	return s.Rotate(ctx, ac)
}

// Rotate issues a new pair for an already verified refresh token and
// revokes the old one. Revocation is best-effort.
func (s *Service) Rotate(ctx context.Context, ac *AuthContext) (*TokenPair, error) {
	if ac == nil || ac.Kind != KindRefresh {
		return nil, apperrors.Authentication(MsgNeedRefreshToken, apperrors.ErrWrongTokenType)
	}

	user, err := s.users.GetUser(ctx, ac.UserID())
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return nil, &apperrors.Error{
			Code:    apperrors.CodeAuthentication,
			Message: "User not found",
			Kind:    apperrors.ErrAuthentication,
			Err:     err,
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load user: %w", err)
	case !user.IsActive:
		return nil, apperrors.Authentication("User account is inactive", nil)
	}

	if err := s.revoker.Revoke(ctx, ac.TokenID, s.remaining(ac)); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("jti", ac.TokenID).
			Warn("failed to revoke rotated refresh token")
	}

	claims := ac.Claims.Clone()
	if s.policy == RefreshRecompute {
		claims = s.buildClaims(ctx, user, "refresh")
	}
	return s.codec.IssuePair(claims)
}

// Logout revokes the presented token for the rest of its lifetime
func (s *Service) Logout(ctx context.Context, ac *AuthContext) error {
	if ac == nil {
		return apperrors.Authentication("authentication required", nil)
	}
	if err := s.revoker.Revoke(ctx, ac.TokenID, s.remaining(ac)); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	observability.FromContext(ctx).WithField("user_id", ac.UserID()).Info("user logged out")
	return nil
}

// buildClaims snapshots user for a new token. A partial snapshot still
// issues, but the failed sources are logged against the operation.
func (s *Service) buildClaims(ctx context.Context, user *rbac.User, op string) *UserClaims {
	claims, result := s.claims.Build(ctx, user)
	if !result.Complete() {
		sources := make([]string, 0, 3)
		for source := range result.Failed() {
			sources = append(sources, source)
		}
		sort.Strings(sources)
		observability.FromContext(ctx).WithFields(map[string]interface{}{
			"user_id":        user.ID,
			"operation":      op,
			"failed_sources": strings.Join(sources, ","),
		}).Warn("issued token with partial claims snapshot")
	}
	return claims
}

// remaining is the token's unexpired lifetime, or zero when unknown
func (s *Service) remaining(ac *AuthContext) time.Duration {
	if ac.ExpiresAt.IsZero() {
		return 0
	}
	d := ac.ExpiresAt.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}
