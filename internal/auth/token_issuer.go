package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultSessionTTL = 12 * time.Hour
	moderatorSubject  = "moderator"
	moderatorRole     = "moderator"
)

var (
	// ErrInvalidModeratorKey indicates the presented moderator key does not match.
	ErrInvalidModeratorKey = errors.New("auth: invalid moderator key")
	// ErrInvalidSession indicates a session token that failed validation.
	ErrInvalidSession = errors.New("auth: invalid moderator session")

	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingModeratorKey  = errors.New("moderator key must be provided")
)

// SessionIssuerConfig configures moderator session tokens.
type SessionIssuerConfig struct {
	ModeratorKey  string
	SigningSecret []byte
	Issuer        string
	Audience      string
	SessionTTL    time.Duration
	Clock         func() time.Time
}

// SessionIssuer exchanges the shared moderator key for short lived HS256 session tokens
// and validates them on moderation requests.
type SessionIssuer struct {
	moderatorKey  []byte
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time
}

// ModeratorClaims are the JWT claims carried by a moderator session.
type ModeratorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewSessionIssuer validates the configuration and applies defaults.
func NewSessionIssuer(cfg SessionIssuerConfig) (*SessionIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	if strings.TrimSpace(cfg.ModeratorKey) == "" {
		return nil, errMissingModeratorKey
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{
		moderatorKey:  []byte(cfg.ModeratorKey),
		signingSecret: cfg.SigningSecret,
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Exchange checks the presented key and returns a signed session token with its lifetime
// in seconds.
func (i *SessionIssuer) Exchange(presentedKey string) (string, int64, error) {
	if subtle.ConstantTimeCompare([]byte(presentedKey), i.moderatorKey) != 1 {
		return "", 0, ErrInvalidModeratorKey
	}

	sessionID, err := uuid.NewRandom()
	if err != nil {
		return "", 0, err
	}
	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)
	claims := ModeratorClaims{
		Role: moderatorRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID.String(),
			Subject:   moderatorSubject,
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Validate verifies a session token and returns its claims.
func (i *SessionIssuer) Validate(tokenString string) (*ModeratorClaims, error) {
	claims := &ModeratorClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.Role != moderatorRole || claims.Subject != moderatorSubject {
		return nil, fmt.Errorf("%w: unexpected role %q", ErrInvalidSession, claims.Role)
	}
	return claims, nil
}
