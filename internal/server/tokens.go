package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Ledger1-ai/crm-official-sub000/internal/config"
	"github.com/Ledger1-ai/crm-official-sub000/internal/server/middleware"
)

// Claims identifies the team a request acts for. Authentication itself is
// done upstream; only the signature, the time window and team_id are checked.
type Claims struct {
	TeamID uuid.UUID `json:"team_id"`
	jwt.RegisteredClaims
}

// GetTeamID implements middleware.TeamIDGetter.
func (c *Claims) GetTeamID() uuid.UUID {
	return c.TeamID
}

// TeamTokens issues and verifies HS256 team tokens.
type TeamTokens struct {
	config *config.TokenConfig
	parser *jwt.Parser
}

// NewTeamTokens builds the verifier for cfg. Issuer and audience are enforced
// when cfg sets them.
func NewTeamTokens(cfg *config.TokenConfig) *TeamTokens {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &TeamTokens{config: cfg, parser: jwt.NewParser(opts...)}
}

// Issue mints a token for teamID. subject names the caller and is
// informational only.
func (t *TeamTokens) Issue(teamID uuid.UUID, subject string) (string, error) {
	if teamID == uuid.Nil {
		return "", fmt.Errorf("team ID is required")
	}
	now := time.Now()
	claims := &Claims{
		TeamID: teamID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.config.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(t.config.TTL())),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if t.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{t.config.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.config.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks tokenString and returns its claims.
func (t *TeamTokens) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token string is empty")
	}

	claims := &Claims{}
	_, err := t.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(t.config.Secret), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("invalid token signature: %w", err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("token expired: %w", err)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("malformed token: %w", err)
		case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, fmt.Errorf("token not issued for this service: %w", err)
		}
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.TeamID == uuid.Nil {
		return nil, fmt.Errorf("token has no team_id claim")
	}
	return claims, nil
}

// Validator adapts t to middleware.TokenValidator.
func (t *TeamTokens) Validator() middleware.TokenValidator {
	return tokenValidator{t}
}

type tokenValidator struct {
	tokens *TeamTokens
}

func (v tokenValidator) ValidateToken(tokenString string) (middleware.TeamIDGetter, error) {
	claims, err := v.tokens.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
