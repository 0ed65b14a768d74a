package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/example/ai-radar/internal/mirror"
)

// ConsentAudience is the audience every consent token must carry.
const ConsentAudience = "airadar-mirror"

// ConsentVerifier checks HS256 consent tokens. Each token must carry a
// subject, an expiry and a unique id, which the mirror session uses to
// accept it at most once.
type ConsentVerifier struct {
	secret []byte
}

// NewConsentVerifier creates a verifier for tokens signed with secret.
func NewConsentVerifier(secret string) (*ConsentVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("consent secret is required")
	}
	return &ConsentVerifier{secret: []byte(secret)}, nil
}

// VerifyConsent implements mirror.ConsentVerifier.
func (v *ConsentVerifier) VerifyConsent(token string) (mirror.Consent, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, hmacKey(string(v.secret)),
		jwt.WithAudience(ConsentAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return mirror.Consent{}, err
	}
	if !parsed.Valid {
		return mirror.Consent{}, errors.New("consent token invalid")
	}
	if claims.Subject == "" {
		return mirror.Consent{}, errors.New("consent token missing subject")
	}
	if claims.ID == "" {
		return mirror.Consent{}, errors.New("consent token missing id")
	}
	return mirror.Consent{
		Subject:   claims.Subject,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// MintConsent issues a single-use consent token for subject.
func MintConsent(secret, subject string, ttl time.Duration) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errors.New("consent secret is required")
	}
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Audience:  jwt.ClaimStrings{ConsentAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
