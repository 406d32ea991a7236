// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or claim checks.
var ErrInvalidToken = errors.New("invalid session token")

// SessionIssuer signs and verifies player session tokens with an ed25519 key pair.
// A token binds a player to one room; its subject is the player ID.
type SessionIssuer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	// ttl of 0 means tokens carry no exp claim
	ttl time.Duration
	now func() time.Time
}

// NewSessionIssuer generates a fresh key pair. Tokens do not survive a process restart.
func NewSessionIssuer(ttl time.Duration) (*SessionIssuer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key pair: %w", err)
	}
	return &SessionIssuer{privateKey: priv, publicKey: pub, ttl: ttl, now: time.Now}, nil
}

// IssueSessionToken signs a token for playerID in roomID.
func (s *SessionIssuer) IssueSessionToken(roomID, playerID uuid.UUID) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  playerID.String(),
		"room": roomID.String(),
		"iat":  now.Unix(),
		// jti keeps two tokens issued in the same second distinct
		"jti": uuid.NewString(),
	}
	if s.ttl > 0 {
		claims["exp"] = now.Add(s.ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.privateKey)
}

// ParseSessionToken verifies a token and returns its room and player.
func (s *SessionIssuer) ParseSessionToken(token string) (roomID, playerID uuid.UUID, err error) {
	t, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.publicKey, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return uuid.Nil, uuid.Nil, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	room, _ := claims["room"].(string)
	if playerID, err = uuid.Parse(sub); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: bad sub", ErrInvalidToken)
	}
	if roomID, err = uuid.Parse(room); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: bad room", ErrInvalidToken)
	}
	return roomID, playerID, nil
}
