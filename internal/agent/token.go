package agent

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"kairos/internal/apperr"
	"kairos/internal/domain"
)

// TokenAudience marks confirmation tokens so no other JWT the service signs
// can stand in for one.
const TokenAudience = "kairos-apply"

// ConfirmationClaims bind a token to one draft and the hash of its plan.
type ConfirmationClaims struct {
	DraftID  string `json:"draft_id"`
	PlanHash string `json:"plan_hash"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and checks confirmation tokens with HS256.
type TokenIssuer struct {
	secret []byte
	Now    func() time.Time
}

func NewTokenIssuer(secret []byte) (TokenIssuer, error) {
	if len(secret) < 16 {
		return TokenIssuer{}, errors.New("token secret must be at least 16 bytes")
	}
	return TokenIssuer{secret: secret}, nil
}

func (i TokenIssuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Issue mints a token for d that expires with it.
func (i TokenIssuer) Issue(d domain.Draft) (string, error) {
	claims := ConfirmationClaims{
		DraftID:  d.ID,
		PlanHash: d.PlanHash,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   d.UserID,
			Audience:  jwt.ClaimStrings{TokenAudience},
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(i.now()),
			ExpiresAt: jwt.NewNumericDate(d.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify checks token against d and the freshly recomputed hash of its stored
// plan. An expired token is EXPIRED; every other failure is TOKEN_MISMATCH.
func (i TokenIssuer) Verify(token string, d domain.Draft, recomputedHash string) error {
	if token == "" {
		return apperr.New(apperr.TokenMismatch, "confirmation token required")
	}
	var claims ConfirmationClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(TokenAudience),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return apperr.Wrap(apperr.Expired, err, "confirmation token expired")
	}
	if err != nil {
		return apperr.Wrap(apperr.TokenMismatch, err, "confirmation token invalid")
	}
	if claims.DraftID != d.ID || claims.Subject != d.UserID {
		return apperr.New(apperr.TokenMismatch, "confirmation token is for another draft")
	}
	if !equal(claims.PlanHash, d.PlanHash) || !equal(recomputedHash, d.PlanHash) {
		return apperr.New(apperr.TokenMismatch, "plan changed since confirmation")
	}
	return nil
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
