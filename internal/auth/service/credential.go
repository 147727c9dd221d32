package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
	"github.com/aussiebroadwan/tabauth/pkg/cryptox"
	"github.com/aussiebroadwan/tabauth/pkg/idx"
	"github.com/aussiebroadwan/tabauth/pkg/slogx"
)

// CredentialService owns passwords, email verification and password resets.
type CredentialService struct {
	Store  store.Store
	Mailer Mailer
	Cache  VersionCache
	Now    func() time.Time

	// AdminEmails are granted the admin role when they register.
	AdminEmails []string
}

func (s *CredentialService) roleFor(email string) string {
	for _, a := range s.AdminEmails {
		if domain.NormalizeEmail(a) == email {
			return domain.RoleAdmin
		}
	}
	return domain.RoleUser
}

var (
	dummyOnce sync.Once
	dummyHash string
)

// equaliseTiming spends one password verification so unknown emails cost
// the same as wrong passwords.
func equaliseTiming(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = cryptox.HashPassword("tabauth-timing-equaliser")
	})
	if dummyHash != "" {
		_ = cryptox.VerifyPassword(password, dummyHash)
	}
}

// ValidatePassword enforces the length policy.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength || n > MaxPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}

// Register creates a user with an empty two-factor record and emails a
// verification token.
func (s *CredentialService) Register(ctx context.Context, email, password, locale string) (domain.User, error) {
	ctx, span := tracer.Start(ctx, "CredentialService.Register")
	defer span.End()

	email = domain.NormalizeEmail(email)
	if !validEmail(email) {
		return domain.User{}, ErrInvalidRequest
	}
	if err := ValidatePassword(password); err != nil {
		return domain.User{}, err
	}
	if locale == "" {
		locale = "en"
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := nowOr(s.Now)
	user := domain.User{
		ID:           idx.NewAt(now).String(),
		Email:        email,
		PasswordHash: hash,
		Role:         s.roleFor(email),
		Locale:       locale,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	token, vt, err := newVerificationToken(user.ID, domain.PurposeEmailVerify, now, domain.EmailVerifyTTL)
	if err != nil {
		return domain.User{}, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return ErrEmailTaken
			}
			return fmt.Errorf("create user: %w", err)
		}
		if err := tx.TwoFactor().EnsureTwoFactor(ctx, user.ID); err != nil {
			return fmt.Errorf("create two-factor state: %w", err)
		}
		if err := tx.VerificationTokens().PutVerificationToken(ctx, vt); err != nil {
			return fmt.Errorf("store verification token: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}

	slogx.FromContext(ctx).Info("user registered", slog.String("user_id", user.ID), slog.String("role", user.Role))
	s.send(ctx, "email verification", s.mailer().SendEmailVerification(ctx, user, token, vt.ExpiresAt))
	return user, nil
}

// Authenticate checks email and password. Unknown emails and wrong passwords
// are indistinguishable.
func (s *CredentialService) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	user, err := s.Store.Users().GetUserByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			equaliseTiming(password)
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if err := cryptox.VerifyPassword(password, user.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, fmt.Errorf("verify password: %w", err)
	}
	return user, nil
}

// CheckPassword verifies password for an already identified user.
func (s *CredentialService) CheckPassword(ctx context.Context, userID, password string) (domain.User, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if err := cryptox.VerifyPassword(password, user.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, fmt.Errorf("verify password: %w", err)
	}
	return user, nil
}

// GetUser loads a user by id. A missing user is ErrInvalidCredentials.
func (s *CredentialService) GetUser(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// ChangePassword replaces the password, bumps tokenVersion and ends every
// session.
func (s *CredentialService) ChangePassword(ctx context.Context, userID, current, next string) error {
	ctx, span := tracer.Start(ctx, "CredentialService.ChangePassword")
	defer span.End()

	if _, err := s.CheckPassword(ctx, userID, current); err != nil {
		return err
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	return s.setPassword(ctx, userID, next, nil)
}

// setPassword stores a new hash, bumps tokenVersion and deletes all sessions.
// consume, when set, runs first in the same transaction.
func (s *CredentialService) setPassword(ctx context.Context, userID, password string, consume func(tx store.Tx) (string, error)) error {
	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := nowOr(s.Now)

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if consume != nil {
			if userID, err = consume(tx); err != nil {
				return err
			}
		}
		if _, err := tx.Users().UpdatePasswordHash(ctx, userID, hash, now); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if _, err := tx.Sessions().DeleteUserSessions(ctx, userID, ""); err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	invalidateVersion(ctx, s.Cache, userID)
	slogx.FromContext(ctx).Info("password changed", slog.String("user_id", userID))
	return nil
}

// RequestPasswordReset emails a reset token valid for one hour. It succeeds
// whether or not the email is registered.
func (s *CredentialService) RequestPasswordReset(ctx context.Context, email string) error {
	return s.issueReset(ctx, email, domain.PasswordResetTTL)
}

// ResendPasswordReset replaces any outstanding reset token with one valid
// for 24 hours.
func (s *CredentialService) ResendPasswordReset(ctx context.Context, email string) error {
	return s.issueReset(ctx, email, domain.PasswordResetResendTTL)
}

func (s *CredentialService) issueReset(ctx context.Context, email string, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "CredentialService.issueReset")
	defer span.End()

	user, err := s.Store.Users().GetUserByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slogx.FromContext(ctx).Info("password reset for unknown email")
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}

	token, vt, err := newVerificationToken(user.ID, domain.PurposePasswordReset, nowOr(s.Now), ttl)
	if err != nil {
		return err
	}
	if err := s.Store.VerificationTokens().PutVerificationToken(ctx, vt); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	s.send(ctx, "password reset", s.mailer().SendPasswordReset(ctx, user, token, vt.ExpiresAt))
	return nil
}

// ResetPassword redeems a reset token. Unknown, reused and expired tokens
// are all ErrInvalidToken.
func (s *CredentialService) ResetPassword(ctx context.Context, token, newPassword string) error {
	ctx, span := tracer.Start(ctx, "CredentialService.ResetPassword")
	defer span.End()

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	now := nowOr(s.Now)
	return s.setPassword(ctx, "", newPassword, func(tx store.Tx) (string, error) {
		return consumeToken(ctx, tx, token, domain.PurposePasswordReset, now)
	})
}

// VerifyEmail redeems an email verification token.
func (s *CredentialService) VerifyEmail(ctx context.Context, token string) error {
	now := nowOr(s.Now)
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		userID, err := consumeToken(ctx, tx, token, domain.PurposeEmailVerify, now)
		if err != nil {
			return err
		}
		if err := tx.Users().MarkEmailVerified(ctx, userID, now); err != nil {
			return fmt.Errorf("mark verified: %w", err)
		}
		return nil
	})
}

// ResendEmailVerification issues a new verification token unless the
// address is already verified.
func (s *CredentialService) ResendEmailVerification(ctx context.Context, userID string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerified() {
		return nil
	}
	token, vt, err := newVerificationToken(user.ID, domain.PurposeEmailVerify, nowOr(s.Now), domain.EmailVerifyTTL)
	if err != nil {
		return err
	}
	if err := s.Store.VerificationTokens().PutVerificationToken(ctx, vt); err != nil {
		return fmt.Errorf("store verification token: %w", err)
	}
	s.send(ctx, "email verification", s.mailer().SendEmailVerification(ctx, user, token, vt.ExpiresAt))
	return nil
}

// LogoutEverywhere bumps tokenVersion and deletes every session.
func (s *CredentialService) LogoutEverywhere(ctx context.Context, userID string) error {
	_, err := s.logoutEverywhere(ctx, userID)
	return err
}

// RevokeUserSessions is LogoutEverywhere on behalf of an administrator. It
// reports how many sessions were ended.
func (s *CredentialService) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	n, err := s.logoutEverywhere(ctx, userID)
	if errors.Is(err, ErrInvalidCredentials) {
		return 0, ErrUserNotFound
	}
	return n, err
}

func (s *CredentialService) logoutEverywhere(ctx context.Context, userID string) (int64, error) {
	now := nowOr(s.Now)
	var n int64
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Users().IncrementTokenVersion(ctx, userID, now); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidCredentials
			}
			return fmt.Errorf("bump token version: %w", err)
		}
		var err error
		if n, err = tx.Sessions().DeleteUserSessions(ctx, userID, ""); err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	invalidateVersion(ctx, s.Cache, userID)
	slogx.FromContext(ctx).Info("logged out everywhere", slog.String("user_id", userID), slog.Int64("sessions", n))
	return n, nil
}

// DeleteAccount removes the user and everything they own after a password check.
func (s *CredentialService) DeleteAccount(ctx context.Context, userID, password string) error {
	if _, err := s.CheckPassword(ctx, userID, password); err != nil {
		return err
	}
	if err := s.Store.Users().DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	invalidateVersion(ctx, s.Cache, userID)
	slogx.FromContext(ctx).Info("account deleted", slog.String("user_id", userID))
	return nil
}

func (s *CredentialService) send(ctx context.Context, what string, err error) {
	if err != nil {
		slogx.FromContext(ctx).Error("mail delivery failed", slog.String("mail", what), slog.Any("error", err))
	}
}

func newVerificationToken(userID string, purpose domain.Purpose, now time.Time, ttl time.Duration) (string, domain.VerificationToken, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", domain.VerificationToken{}, err
	}
	return token, domain.VerificationToken{
		TokenHash: cryptox.FingerprintToken(token),
		UserID:    userID,
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}, nil
}

func consumeToken(ctx context.Context, tx store.Tx, token string, purpose domain.Purpose, now time.Time) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	vt, err := tx.VerificationTokens().ConsumeVerificationToken(ctx, cryptox.FingerprintToken(token), purpose)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("consume token: %w", err)
	}
	if !now.Before(vt.ExpiresAt) {
		return "", ErrInvalidToken
	}
	return vt.UserID, nil
}

func (s *CredentialService) mailer() Mailer {
	if s.Mailer == nil {
		return LogMailer{}
	}
	return s.Mailer
}
