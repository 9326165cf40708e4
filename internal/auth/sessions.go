package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Cyb3rDudu/docstack/internal/errs"
	"github.com/Cyb3rDudu/docstack/internal/models"
	"github.com/Cyb3rDudu/docstack/internal/storage"
)

const tokenBytes = 32

// Service manages accounts and bearer-token sessions. Tokens are handed
// out once at login; only their SHA-256 hash is persisted, so a leaked
// database cannot be replayed.
type Service struct {
	store      storage.Storage
	expiry     time.Duration
	bcryptCost int
	logger     *zap.Logger

	now func() time.Time
}

// NewService wires an auth service. expiry bounds session lifetime from
// last activity, not from login.
func NewService(store storage.Storage, expiry time.Duration, bcryptCost int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		expiry:     expiry,
		bcryptCost: bcryptCost,
		logger:     logger,
		now:        time.Now,
	}
}

// generateToken returns a 256-bit random bearer token.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// hashToken is the one-way mapping from bearer token to stored value.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Register creates a user account. A taken email address is a conflict.
func (s *Service) Register(ctx context.Context, email, fullName, password string) (*models.User, error) {
	if email == "" || password == "" {
		return nil, errs.New(errs.KindUnauthorized, "email and password are required")
	}
	hash, err := HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to hash password")
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, errs.New(errs.KindConflict, "email %s already registered", email)
		}
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to create user")
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// Login verifies credentials and opens a session, returning the bearer
// token. Wrong email and wrong password are indistinguishable to the
// caller.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.Session, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil, errs.New(errs.KindUnauthorized, "invalid credentials")
		}
		return "", nil, errs.Wrap(errs.KindPersistence, err, "failed to load user")
	}
	if !user.IsActive || !CheckPassword(password, user.PasswordHash) {
		return "", nil, errs.New(errs.KindUnauthorized, "invalid credentials")
	}

	token, err := generateToken()
	if err != nil {
		return "", nil, errs.Wrap(errs.KindPersistence, err, "failed to generate token")
	}
	now := s.now().UTC()
	session := &models.Session{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		TokenHash:    hashToken(token),
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.expiry),
		LastActivity: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return "", nil, errs.Wrap(errs.KindPersistence, err, "failed to create session")
	}
	s.logger.Info("session opened", zap.String("user_id", user.ID))
	return token, session, nil
}

// Verify resolves a bearer token to its user. A valid hit slides the
// session's activity window forward; an expired session is removed.
func (s *Service) Verify(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, errs.New(errs.KindUnauthorized, "missing bearer token")
	}
	hash := hashToken(token)
	session, err := s.store.GetSessionByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errs.New(errs.KindUnauthorized, "invalid session")
		}
		return nil, errs.Wrap(errs.KindPersistence, err, "failed to load session")
	}
	now := s.now().UTC()
	if session.Expired(now) {
		if err := s.store.DeleteSessionByTokenHash(ctx, hash); err != nil {
			s.logger.Warn("failed to remove expired session", zap.Error(err))
		}
		return nil, errs.New(errs.KindUnauthorized, "session expired")
	}
	if err := s.store.TouchSession(ctx, session.ID, now); err != nil {
		s.logger.Warn("failed to touch session", zap.Error(err))
	}
	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, errs.New(errs.KindUnauthorized, "invalid session")
	}
	if !user.IsActive {
		return nil, errs.New(errs.KindUnauthorized, "account disabled")
	}
	return user, nil
}

// Logout closes the session behind a bearer token. Unknown tokens are
// a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteSessionByTokenHash(ctx, hashToken(token)); err != nil &&
		!errors.Is(err, storage.ErrNotFound) {
		return errs.Wrap(errs.KindPersistence, err, "failed to delete session")
	}
	return nil
}

// CleanupExpired removes sessions past their expiry and returns the count.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.now().UTC())
	if err != nil {
		return 0, errs.Wrap(errs.KindPersistence, err, "failed to clean up sessions")
	}
	if n > 0 {
		s.logger.Info("expired sessions removed", zap.Int64("count", n))
	}
	return n, nil
}
