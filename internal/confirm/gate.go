// Package confirm issues and verifies the short-lived, single-use tokens
// that gate the booking step. A token binds a session id and a content hash
// of the exact booking intent it authorizes; any drift between the two is
// rejected so nothing is booked at a price the user did not see.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"

	"github.com/vacaplan-dev/vacaplan/internal/trip"
	"github.com/vacaplan-dev/vacaplan/pkg/observability"
)

// DefaultTTL is the fixed confirmation window.
const DefaultTTL = 10 * time.Minute

// Outcome is the result of verifying a confirmation token.
type Outcome string

const (
	OutcomeValid       Outcome = "valid"
	OutcomeExpired     Outcome = "expired"
	OutcomeAlreadyUsed Outcome = "already_used"
	OutcomeMismatch    Outcome = "mismatch"
	OutcomeInvalid     Outcome = "invalid"
)

// ErrNoSecret is returned when a gate is constructed without a signing secret.
var ErrNoSecret = errors.New("confirmation secret is required")

// Gate signs and verifies confirmation tokens. Stateless apart from the
// used-token store.
type Gate struct {
	secret []byte
	ttl    time.Duration
	used   UsedTokenStore
	now    func() time.Time
}

// NewGate creates a gate signing with the server-held secret.
func NewGate(secret []byte, ttl time.Duration, used UsedTokenStore) (*Gate, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if used == nil {
		used = NewMemoryTokenStore()
	}
	return &Gate{secret: secret, ttl: ttl, used: used, now: time.Now}, nil
}

// TTL returns the confirmation window.
func (g *Gate) TTL() time.Duration { return g.ttl }

// Issue signs a token authorizing exactly this intent for this session.
func (g *Gate) Issue(sessionID string, intent *trip.BookingIntent) (string, error) {
	now := g.now()
	claims := jwt.MapClaims{
		"jti": uuid.New().String(),
		"sid": sessionID,
		"ih":  intent.Hash(),
		"iat": now.Unix(),
		"exp": now.Add(g.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign confirmation token: %w", err)
	}
	return signed, nil
}

// Verify checks a presented token against the session and the intent hash
// currently pending confirmation. A Valid outcome consumes the token: the
// same token id never verifies twice, even inside the TTL.
func (g *Gate) Verify(ctx context.Context, tokenString, sessionID, presentedHash string) (Outcome, error) {
	outcome, err := g.verify(ctx, tokenString, sessionID, presentedHash)
	observability.RecordConfirmation(string(outcome))
	return outcome, err
}

func (g *Gate) verify(ctx context.Context, tokenString, sessionID, presentedHash string) (Outcome, error) {
	// Expiry is checked explicitly below with the gate's clock, so the
	// parser only verifies the signature here.
	parser := jwt.Parser{SkipClaimsValidation: true}
	token, err := parser.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return OutcomeInvalid, fmt.Errorf("confirmation token signature rejected")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return OutcomeInvalid, fmt.Errorf("confirmation token claims malformed")
	}
	jti, _ := claims["jti"].(string)
	sid, _ := claims["sid"].(string)
	boundHash, _ := claims["ih"].(string)
	exp, _ := claims["exp"].(float64)
	if jti == "" || sid == "" || boundHash == "" || exp == 0 {
		return OutcomeInvalid, fmt.Errorf("confirmation token claims incomplete")
	}

	if sid != sessionID {
		return OutcomeMismatch, fmt.Errorf("token bound to a different session")
	}
	if g.now().After(time.Unix(int64(exp), 0)) {
		return OutcomeExpired, fmt.Errorf("confirmation window elapsed")
	}
	if boundHash != presentedHash {
		return OutcomeMismatch, fmt.Errorf("booking intent changed since the token was issued")
	}

	// Atomic check-and-set: exactly one concurrent verification wins.
	first, err := g.used.Consume(ctx, jti, g.ttl)
	if err != nil {
		return OutcomeInvalid, fmt.Errorf("used-token store: %w", err)
	}
	if !first {
		return OutcomeAlreadyUsed, fmt.Errorf("confirmation token already used")
	}
	return OutcomeValid, nil
}
