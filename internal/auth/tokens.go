package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"guardian.org/internal/obs"
)

const (
	defaultIssuer        = "guardian"
	defaultAccessTTL     = 15 * time.Minute
	defaultRefreshTTL    = 7 * 24 * time.Hour
	defaultRevocationTTL = 7 * 24 * time.Hour
)

// TokenType distinguishes access from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the signed payload carried by both token kinds.
type Claims struct {
	Username     string    `json:"username"`
	IsSuperAdmin bool      `json:"isSuperAdmin"`
	Type         TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// TokenManager mints, verifies, rotates and revokes HS256 session tokens.
type TokenManager struct {
	secret        []byte
	revocations   RevocationStore
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	revocationTTL time.Duration
	now           func() time.Time
	parser        *jwt.Parser
}

// TokenOption configures TokenManager behavior.
type TokenOption func(*TokenManager) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(m *TokenManager) error {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			return fmt.Errorf("%w: issuer is empty", ErrInvalidInput)
		}
		m.issuer = issuer
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(m *TokenManager) error {
		if ttl > 0 {
			m.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(m *TokenManager) error {
		if ttl > 0 {
			m.refreshTTL = ttl
		}
		return nil
	}
}

// WithRevocationTTL configures how long a revocation record stays effective.
func WithRevocationTTL(ttl time.Duration) TokenOption {
	return func(m *TokenManager) error {
		if ttl > 0 {
			m.revocationTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(m *TokenManager) error {
		if fn != nil {
			m.now = fn
		}
		return nil
	}
}

// NewTokenManager constructs a TokenManager signing with secret and
// recording revocations in revocations.
func NewTokenManager(secret string, revocations RevocationStore, opts ...TokenOption) (*TokenManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: token secret is empty", ErrInvalidInput)
	}
	if revocations == nil {
		return nil, fmt.Errorf("%w: revocation store is required", ErrInvalidInput)
	}
	m := &TokenManager{
		secret:        []byte(secret),
		revocations:   revocations,
		issuer:        defaultIssuer,
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		revocationTTL: defaultRevocationTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	return m, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *TokenManager) AccessTTL() time.Duration { return m.accessTTL }

// IssuePair mints an independent access and refresh token for the subject.
func (m *TokenManager) IssuePair(subjectID, username string, isSuperAdmin bool) (TokenPair, error) {
	access, err := m.mint(TokenTypeAccess, subjectID, username, isSuperAdmin)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.mint(TokenTypeRefresh, subjectID, username, isSuperAdmin)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(m.accessTTL / time.Second),
	}, nil
}

// Verify checks signature, algorithm, issuer and lifetime and returns the
// claims. Expired tokens yield ErrTokenExpired, every other failure
// ErrInvalidToken.
func (m *TokenManager) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	claims := &Claims{}
	_, err := m.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" || claims.Subject == "" || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing required claims", ErrInvalidToken)
	}
	if claims.Type != TokenTypeAccess && claims.Type != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: unknown token type", ErrInvalidToken)
	}
	return claims, nil
}

// VerifyAccess verifies an access token and returns the caller identity.
// Access tokens are not looked up in the revocation store; their short
// lifetime bounds exposure after logout.
func (m *TokenManager) VerifyAccess(token string) (Identity, error) {
	claims, err := m.Verify(token)
	if err != nil {
		return Identity{}, err
	}
	if claims.Type != TokenTypeAccess {
		return Identity{}, fmt.Errorf("%w: not an access token", ErrInvalidToken)
	}
	return Identity{
		AdminID:      claims.Subject,
		Username:     claims.Username,
		IsSuperAdmin: claims.IsSuperAdmin,
		TokenID:      claims.ID,
	}, nil
}

// RotateAccess exchanges a valid, unrevoked refresh token for a new access
// token. The refresh token itself is left unchanged.
func (m *TokenManager) RotateAccess(ctx context.Context, refreshToken string) (AccessToken, error) {
	claims, err := m.verifyRefresh(refreshToken)
	if err != nil {
		return AccessToken{}, err
	}
	revoked, err := m.IsRevoked(ctx, claims.ID)
	if err != nil {
		return AccessToken{}, err
	}
	if revoked {
		return AccessToken{}, ErrTokenRevoked
	}
	access, err := m.mint(TokenTypeAccess, claims.Subject, claims.Username, claims.IsSuperAdmin)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{AccessToken: access, ExpiresIn: int64(m.accessTTL / time.Second)}, nil
}

// Revoke blacklists the refresh token's identifier for the revocation
// horizon, independent of the token's remaining lifetime.
func (m *TokenManager) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := m.verifyRefresh(refreshToken)
	if err != nil {
		return err
	}
	expiresAt := m.now().Add(m.revocationTTL)
	if err := m.revocations.Revoke(ctx, claims.ID, expiresAt); err != nil {
		return fmt.Errorf("%w: revoke token: %v", ErrInternal, err)
	}
	return nil
}

// IsRevoked reports whether a live revocation record exists for tokenID.
func (m *TokenManager) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, fmt.Errorf("%w: empty token id", ErrInvalidToken)
	}
	revoked, err := m.revocations.IsRevoked(ctx, tokenID, m.now())
	if err != nil {
		return false, fmt.Errorf("%w: revocation lookup: %v", ErrInternal, err)
	}
	return revoked, nil
}

func (m *TokenManager) verifyRefresh(token string) (*Claims, error) {
	claims, err := m.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", ErrInvalidToken)
	}
	return claims, nil
}

func (m *TokenManager) mint(typ TokenType, subjectID, username string, isSuperAdmin bool) (string, error) {
	if strings.TrimSpace(subjectID) == "" {
		return "", fmt.Errorf("%w: subject is empty", ErrInvalidInput)
	}
	ttl := m.accessTTL
	if typ == TokenTypeRefresh {
		ttl = m.refreshTTL
	}
	now := m.now()
	claims := Claims{
		Username:     username,
		IsSuperAdmin: isSuperAdmin,
		Type:         typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("%w: sign token: %v", ErrInternal, err)
	}
	obs.RecordTokenIssued(string(typ))
	return signed, nil
}
