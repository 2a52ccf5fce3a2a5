package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"room-chat/internal/apperr"
	"room-chat/internal/auth"
	"room-chat/internal/models"
	"room-chat/internal/repositories"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 4
)

// PasswordHasher hashes and verifies account and room secrets.
type PasswordHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) bool
}

// TokenIssuer signs bearer tokens.
type TokenIssuer interface {
	Issue(id auth.Identity) (string, error)
}

// AuthService registers users and logs them in.
type AuthService struct {
	users  repositories.UserRepository
	hasher PasswordHasher
	tokens TokenIssuer
}

// NewAuthService constructs an AuthService.
func NewAuthService(users repositories.UserRepository, hasher PasswordHasher, tokens TokenIssuer) *AuthService {
	return &AuthService{users: users, hasher: hasher, tokens: tokens}
}

// Register creates an account.
func (s *AuthService) Register(ctx context.Context, username, password string) (models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return models.User{}, apperr.Validation("username and password required")
	}
	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		return models.User{}, apperr.Validation("username must be 3-32 characters long")
	}
	if utf8.RuneCountInString(password) < minPasswordLen {
		return models.User{}, apperr.Validation("password must be at least 4 characters long")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.User{}, apperr.Internal(err)
	}

	user, err := s.users.CreateUser(ctx, username, hash)
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicateUsername) {
			return models.User{}, apperr.Conflict("username already exists")
		}
		return models.User{}, apperr.Internal(err)
	}
	return user, nil
}

// Login verifies credentials and returns a signed token.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", apperr.Validation("username and password required")
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return "", apperr.Auth("invalid credentials")
		}
		return "", apperr.Internal(err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return "", apperr.Auth("invalid credentials")
	}

	token, err := s.tokens.Issue(auth.Identity{UserID: user.ID, Username: user.Username})
	if err != nil {
		return "", apperr.Internal(err)
	}
	return token, nil
}
