// Package auth registers users and turns valid credentials into sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"moneymap/internal/core"
	"moneymap/internal/log"
	"moneymap/internal/session"
	"moneymap/internal/storage"
)

var (
	ErrMissingFields      = errors.New("please fill in all fields")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPasswordTooLong    = errors.New("password too long (max 72 bytes)")
)

// UserStore is the persistence the gate needs.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash, email string) (core.User, error)
	GetUserByUsername(ctx context.Context, username string) (core.User, error)
}

// Service is the credential gate in front of the expense operations.
type Service struct {
	users    UserStore
	sessions *session.Store
	cost     int
	logger   *log.Logger

	// dummyHash is compared against when the username is unknown so both
	// failure paths cost one bcrypt comparison.
	dummyHash []byte
}

// Option configures a Service.
type Option func(*Service)

// WithCost sets the bcrypt cost; tests use bcrypt.MinCost.
func WithCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithLogger sets the logger used for auth events.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l.WithComponent(log.ComponentAuth) }
}

func NewService(users UserStore, sessions *session.Store, opts ...Option) (*Service, error) {
	s := &Service{
		users:    users,
		sessions: sessions,
		cost:     bcrypt.DefaultCost,
		logger:   log.New(log.DefaultConfig()).WithComponent(log.ComponentAuth),
	}
	for _, opt := range opts {
		opt(s)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("moneymap-dummy-password"), s.cost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// Register creates a user. Username and email are trimmed; the password is
// hashed as given.
func (s *Service) Register(ctx context.Context, username, password, email string) (core.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || strings.TrimSpace(password) == "" {
		return core.User{}, ErrMissingFields
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return core.User{}, ErrPasswordTooLong
	}
	if err != nil {
		return core.User{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.CreateUser(ctx, username, string(hash), email)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateUsername) {
			s.logger.WarnContext(ctx, "Registration rejected", log.FieldUsername, username, log.FieldOperation, log.OpRegister)
		}
		return core.User{}, fmt.Errorf("register %q: %w", username, err)
	}

	s.logger.InfoContext(ctx, "User registered", log.FieldUserID, u.ID, log.FieldUsername, u.Username)
	return u, nil
}

// Login verifies the credentials and opens a session with an empty
// working set. Unknown users and wrong passwords return the same error.
func (s *Service) Login(ctx context.Context, username, password string) (*session.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrMissingFields
	}

	u, err := s.users.GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		s.logger.WarnContext(ctx, "Login failed", log.FieldUsername, username, log.FieldOperation, log.OpLogin)
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.logger.WarnContext(ctx, "Login failed", log.FieldUsername, username, log.FieldOperation, log.OpLogin)
		return nil, ErrInvalidCredentials
	}

	sess, err := s.sessions.Create(u.ID, u.Username)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "User logged in", log.FieldUserID, u.ID, log.FieldUsername, u.Username)
	return sess, nil
}

// Logout ends the session behind token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) {
	if sess, ok := s.sessions.Get(token); ok {
		s.logger.InfoContext(ctx, "User logged out", log.FieldUserID, sess.UserID, log.FieldUsername, sess.Username)
	}
	s.sessions.Destroy(token)
}

// Session resolves a session token.
func (s *Service) Session(token string) (*session.Session, bool) {
	return s.sessions.Get(token)
}
