// Package auth turns bearer tokens into verified identities. Tokens are
// HS256 JWTs carrying the user's id, email and username; verification also
// confirms the user still exists.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"privora/internal/common"
	"privora/internal/models"
)

// UserSource resolves a user id to a stored user. Implementations return
// common.ErrNotFound for unknown ids.
type UserSource interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type Verifier struct {
	secret []byte
	users  UserSource
}

func NewVerifier(secret string, users UserSource) *Verifier {
	return &Verifier{secret: []byte(secret), users: users}
}

// IssueToken mints a signed token for the user, valid for the given duration.
func (v *Verifier) IssueToken(user *models.User, validity time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("%w: signing secret not configured", common.ErrInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
	})

	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses the token and returns the identity it asserts. The identity
// is cross-checked against the user store so a token for a deleted account
// is rejected.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*models.Identity, error) {
	if tokenString == "" {
		return nil, common.ErrAuthFailed
	}
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: signing secret not configured", common.ErrInternal)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}
	if !token.Valid || claims.UserID == "" {
		return nil, common.ErrInvalidToken
	}

	user, err := v.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrAuthFailed
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}

	return &models.Identity{ID: user.ID, Email: user.Email, Username: user.Username}, nil
}
