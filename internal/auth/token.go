package auth

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ezelpc/AURONTEK-sub000/internal/types"
	"github.com/golang-jwt/jwt"
)

var ErrNoCredential = errors.New("no credential available")

// TokenSource supplies the current bearer credential. It may start
// returning ErrNoCredential at any point (logout), which the connection
// manager treats as a terminal disconnect trigger.
type TokenSource interface {
	Token() (string, error)
}

type TokenSourceFunc func() (string, error)

func (f TokenSourceFunc) Token() (string, error) {
	return f()
}

// StaticTokenSource holds a token that can be swapped or revoked at runtime.
type StaticTokenSource struct {
	mu    sync.RWMutex
	token string
}

func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

func (s *StaticTokenSource) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return "", ErrNoCredential
	}

	return s.token, nil
}

func (s *StaticTokenSource) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *StaticTokenSource) Revoke() {
	s.SetToken("")
}

const (
	userIdClaim      = "user-id"
	displayNameClaim = "display_name"
	roleClaim        = "role"
)

// IdentityFromToken extracts the identity claims carried in the bearer
// token. The signature is not verified here: the token is minted and
// checked by the auth service, this side only needs the claims to label
// outbound traffic and filter its own typing echoes.
func IdentityFromToken(tokenString string) (types.Identity, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return types.Identity{}, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.Identity{}, fmt.Errorf("invalid token claims")
	}

	id, err := stringClaim(claims, userIdClaim)
	if err != nil {
		// fall back to the registered subject claim
		id, err = stringClaim(claims, "sub")
		if err != nil {
			return types.Identity{}, fmt.Errorf("invalid user id claim")
		}
	}

	identity := types.Identity{Id: id}
	if name, err := stringClaim(claims, displayNameClaim); err == nil {
		identity.DisplayName = name
	}
	if role, err := stringClaim(claims, roleClaim); err == nil {
		identity.Role = role
	}

	return identity, nil
}

func stringClaim(claims jwt.MapClaims, name string) (string, error) {
	switch v := claims[name].(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("empty claim %q", name)
		}
		return v, nil
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	default:
		return "", fmt.Errorf("missing claim %q", name)
	}
}
