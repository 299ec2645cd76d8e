package telephony

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// StreamClaims binds a media stream back to the call it was issued for.
// The token is minted when the voice webhook is answered, travels to the
// provider inside TwiML custom parameters, and comes back verbatim in the
// stream's start event. A stream whose token does not verify, or names a
// different call, is closed without ever reaching the AI session.
type StreamClaims struct {
	jwt.RegisteredClaims

	CallSID      string `json:"call_sid"`
	RestaurantID string `json:"restaurant_id"`
}

// TokenIssuer mints and verifies stream tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("telephony: stream token secret is required")
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}, nil
}

func (i *TokenIssuer) Issue(now time.Time, callSID, restaurantID string) (string, error) {
	if callSID == "" || restaurantID == "" {
		return "", errors.New("telephony: call sid and restaurant id are required")
	}

	claims := StreamClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
		CallSID:      callSID,
		RestaurantID: restaurantID,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(i.secret)
}

// Verify parses the token and checks it names the expected call.
func (i *TokenIssuer) Verify(tokenString, expectCallSID string, now time.Time) (StreamClaims, error) {
	var claims StreamClaims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30*time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return StreamClaims{}, err
	}

	if claims.CallSID == "" {
		return StreamClaims{}, errors.New("call_sid missing")
	}
	if claims.RestaurantID == "" {
		return StreamClaims{}, errors.New("restaurant_id missing")
	}
	if expectCallSID != "" && claims.CallSID != expectCallSID {
		return StreamClaims{}, errors.New("call_sid mismatch")
	}

	return claims, nil
}
