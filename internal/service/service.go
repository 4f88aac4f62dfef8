package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"session_auth/internal/auth"
	"session_auth/internal/metrics"
	"session_auth/internal/models"
	"session_auth/internal/storage"
	"session_auth/internal/validation"
)

type Service interface {
	Register(ctx context.Context, username, email, password string) error
	Login(ctx context.Context, email, password string) (models.TokenPair, error)
	Rotate(ctx context.Context, refreshToken string, userID uuid.UUID) (models.TokenPair, error)
	UpdatePassword(ctx context.Context, userID uuid.UUID, newPassword string) error
	ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error
	Logout(ctx context.Context, userID uuid.UUID) (int64, error)
}

type Options struct {
	Users   storage.UserStorage
	Tokens  storage.TokenStorage
	Issuer  *auth.Issuer
	Hasher  auth.PasswordHasher
	Log     *slog.Logger
	Metrics *metrics.Metrics

	// RevokeOnReplay revokes every outstanding refresh token of the user
	// when an already consumed token is presented again.
	RevokeOnReplay bool

	Now func() time.Time
}

// SessionService implements registration, login and refresh token rotation.
type SessionService struct {
	users          storage.UserStorage
	tokens         storage.TokenStorage
	issuer         *auth.Issuer
	hasher         auth.PasswordHasher
	log            *slog.Logger
	metrics        *metrics.Metrics
	revokeOnReplay bool
	now            func() time.Time

	decoyOnce sync.Once
	decoy     string
}

// decoyPassword is hashed once and compared against when the login email is
// unknown, so both branches pay for one hash comparison.
const decoyPassword = "decoy-password-0"

func NewSessionService(opts Options) (*SessionService, error) {
	const op = "service.NewSessionService"

	if opts.Users == nil || opts.Tokens == nil {
		return nil, fmt.Errorf("%s: user and token storage are required", op)
	}
	if opts.Issuer == nil {
		return nil, fmt.Errorf("%s: token issuer is required", op)
	}
	if opts.Hasher == nil {
		opts.Hasher = auth.BcryptHasher{}
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &SessionService{
		users:          opts.Users,
		tokens:         opts.Tokens,
		issuer:         opts.Issuer,
		hasher:         opts.Hasher,
		log:            opts.Log,
		metrics:        opts.Metrics,
		revokeOnReplay: opts.RevokeOnReplay,
		now:            opts.Now,
	}, nil
}

func (s *SessionService) Register(ctx context.Context, username, email, password string) error {
	const op = "service.Register"

	log := s.log.With(slog.String("op", op), slog.String("username", username))

	if err := s.ensureFree(ctx, username, email); err != nil {
		return err
	}

	switch {
	case !validation.ValidateEmail(email):
		return newValidationError(validation.MsgInvalidEmail)
	case !validation.ValidatePassword(password):
		return newValidationError(validation.MsgInvalidPassword)
	case !validation.ValidateUsername(username):
		return newValidationError(validation.MsgInvalidUsername)
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = s.users.CreateUser(ctx, models.User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUsernameExists):
			return ErrUsernameTaken
		case errors.Is(err, storage.ErrEmailExists):
			return ErrEmailTaken
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.String("user_id", id.String()))

	return nil
}

// ensureFree checks username first, then email.
func (s *SessionService) ensureFree(ctx context.Context, username, email string) error {
	const op = "service.ensureFree"

	_, err := s.users.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		return ErrUsernameTaken
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return ErrEmailTaken
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *SessionService) Login(ctx context.Context, email, password string) (models.TokenPair, error) {
	const op = "service.Login"

	log := s.log.With(slog.String("op", op))

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.hasher.Compare(s.decoyHash(), password)
			return models.TokenPair{}, ErrInvalidCredentials
		}
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if ok := s.hasher.Compare(user.PasswordHash, password); !ok {
		log.Debug("wrong password", slog.String("user_id", user.ID.String()))
		return models.TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.issuePair(ctx, user.ID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in", slog.String("user_id", user.ID.String()))

	return pair, nil
}

func (s *SessionService) decoyHash() string {
	s.decoyOnce.Do(func() {
		hash, err := s.hasher.Hash(decoyPassword)
		if err != nil {
			s.log.Error("failed to hash decoy password", slog.Any("error", err))
			return
		}
		s.decoy = hash
	})

	return s.decoy
}

func (s *SessionService) Rotate(ctx context.Context, refreshToken string, userID uuid.UUID) (models.TokenPair, error) {
	const op = "service.Rotate"

	log := s.log.With(slog.String("op", op), slog.String("user_id", userID.String()))

	tokenHash := auth.HashToken(refreshToken)
	now := s.now()

	row, err := s.tokens.FindActive(ctx, tokenHash, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.Rotation(metrics.OutcomeNotFound)
			return models.TokenPair{}, ErrTokenNotFound
		}
		s.metrics.Rotation(metrics.OutcomeError)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if row.Used {
		s.replayDetected(ctx, log, userID, now)
		return models.TokenPair{}, ErrInvalidToken
	}
	if row.Expired(now) {
		s.metrics.Rotation(metrics.OutcomeNotFound)
		return models.TokenPair{}, ErrTokenNotFound
	}

	if err := s.tokens.MarkUsed(ctx, tokenHash, userID, now); err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenUsed):
			s.replayDetected(ctx, log, userID, now)
			return models.TokenPair{}, ErrInvalidToken
		case errors.Is(err, storage.ErrNotFound):
			s.metrics.Rotation(metrics.OutcomeNotFound)
			return models.TokenPair{}, ErrTokenNotFound
		}
		s.metrics.Rotation(metrics.OutcomeError)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.issuePair(ctx, userID)
	if err != nil {
		s.metrics.Rotation(metrics.OutcomeError)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	s.purgeExpired(ctx, log, userID, now)

	s.metrics.Rotation(metrics.OutcomeRotated)
	log.Info("refresh token rotated")

	return pair, nil
}

func (s *SessionService) replayDetected(ctx context.Context, log *slog.Logger, userID uuid.UUID, now time.Time) {
	s.metrics.Rotation(metrics.OutcomeReplay)
	log.Warn("refresh token replay detected")

	if !s.revokeOnReplay {
		return
	}

	n, err := s.tokens.RevokeAllForUser(ctx, userID, now)
	if err != nil {
		log.Error("failed to revoke tokens after replay", slog.Any("error", err))
		return
	}
	log.Warn("revoked refresh tokens after replay", slog.Int64("revoked", n))
}

// purgeExpired never fails the caller; errors are only logged.
func (s *SessionService) purgeExpired(ctx context.Context, log *slog.Logger, userID uuid.UUID, now time.Time) {
	purged, err := s.tokens.PurgeExpired(ctx, userID, now)
	if err != nil {
		log.Error("failed to purge expired refresh tokens", slog.Any("error", err))
		return
	}

	for _, t := range purged {
		log.Info("purged expired refresh token",
			slog.String("token_hash", t.TokenHash),
			slog.Time("expires_at", t.ExpiresAt),
			slog.Bool("used", t.Used),
		)
	}
	s.metrics.TokensPurged(len(purged))
}

func (s *SessionService) issuePair(ctx context.Context, userID uuid.UUID) (models.TokenPair, error) {
	const op = "service.issuePair"

	accessToken, accessExp, err := s.issuer.IssueAccessToken(userID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	refreshToken, refreshExp, err := s.issuer.IssueRefreshToken(userID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	err = s.tokens.Store(ctx, models.RefreshToken{
		TokenHash: auth.HashToken(refreshToken),
		UserID:    userID,
		ExpiresAt: refreshExp,
		CreatedAt: s.now(),
	})
	if err != nil {
		// A digest collision means the generator is broken, not that a retry could help.
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *SessionService) UpdatePassword(ctx context.Context, userID uuid.UUID, newPassword string) error {
	const op = "service.UpdatePassword"

	if !validation.ValidatePassword(newPassword) {
		return newValidationError(validation.MsgInvalidPassword)
	}

	if _, err := s.loadUser(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.setPassword(ctx, userID, newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("password updated", slog.String("op", op), slog.String("user_id", userID.String()))

	return nil
}

func (s *SessionService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	const op = "service.ChangePassword"

	if !validation.ValidatePassword(newPassword) {
		return newValidationError(validation.MsgInvalidPassword)
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if ok := s.hasher.Compare(user.PasswordHash, currentPassword); !ok {
		return ErrInvalidCredentials
	}

	if err := s.setPassword(ctx, userID, newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("password changed", slog.String("op", op), slog.String("user_id", userID.String()))

	return nil
}

func (s *SessionService) loadUser(ctx context.Context, userID uuid.UUID) (models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}

	return user, nil
}

func (s *SessionService) setPassword(ctx context.Context, userID uuid.UUID, password string) error {
	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	if err := s.users.SetPasswordHash(ctx, userID, passwordHash); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	return nil
}

// Logout revokes every outstanding refresh token of the user.
func (s *SessionService) Logout(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "service.Logout"

	n, err := s.tokens.RevokeAllForUser(ctx, userID, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("user logged out",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
		slog.Int64("revoked", n),
	)

	return n, nil
}
