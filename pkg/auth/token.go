package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/platinummonkey/caregate/pkg/apperrors"
)

const (
	// DefaultAccessTTL is the lifetime of an access token
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL is the lifetime of a refresh token. It must stay
	// longer than DefaultAccessTTL.
	DefaultRefreshTTL = time.Hour
)

// CodecConfig configures token signing
type CodecConfig struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenCodec signs and verifies HS256 tokens
type TokenCodec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenCodec creates a codec. The secret must not be empty.
func NewTokenCodec(cfg CodecConfig) (*TokenCodec, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("token secret is required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &TokenCodec{
		secret:     cfg.Secret,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

// MaxTTL returns the longest lifetime of any token the codec issues
func (c *TokenCodec) MaxTTL() time.Duration {
	if c.refreshTTL > c.accessTTL {
		return c.refreshTTL
	}
	return c.accessTTL
}

// AccessTTL returns the configured access token lifetime
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// IssuePair signs a new access and refresh token for claims
func (c *TokenCodec) IssuePair(claims *UserClaims) (*TokenPair, error) {
	access, _, err := c.Issue(claims, KindAccess)
	if err != nil {
		return nil, err
	}
	refresh, _, err := c.Issue(claims, KindRefresh)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(c.accessTTL / time.Second),
		TokenType:    TokenType,
	}, nil
}

// Issue signs one token of the given kind with a fresh jti
func (c *TokenCodec) Issue(claims *UserClaims, kind TokenKind) (string, *TokenClaims, error) {
	if claims == nil {
		return "", nil, fmt.Errorf("claims are required")
	}

	ttl := c.accessTTL
	if kind == KindRefresh {
		ttl = c.refreshTTL
	}
	now := c.now()

	payload := &TokenClaims{
		User:    *claims,
		Refresh: kind == KindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, payload, nil
}

// Decode verifies the signature, expiry and structure of raw. Every failure
// wraps apperrors.ErrInvalidToken.
func (c *TokenCodec) Decode(raw string) (*TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, apperrors.ErrInvalidToken
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing token id", apperrors.ErrInvalidToken)
	}
	return claims, nil
}

// IsExpired reports whether err is a decode failure caused by expiry
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
