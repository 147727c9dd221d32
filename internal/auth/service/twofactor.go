package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
	"github.com/aussiebroadwan/tabauth/pkg/cryptox"
	"github.com/aussiebroadwan/tabauth/pkg/slogx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// MaxTwoFactorAttempts failures in a row lock the account.
	MaxTwoFactorAttempts = 5
	LockoutDuration      = 15 * time.Minute
	EmailOTPTTL          = 10 * time.Minute

	totpPeriod = 30
	totpSkew   = 2
)

// TwoFactorService manages second-factor enrolment and verification. The
// attempt counter is shared by every method, WebAuthn included.
type TwoFactorService struct {
	Store  store.Store
	Mailer Mailer

	// Issuer is shown in authenticator apps.
	Issuer string

	Now func() time.Time
}

// TwoFactorStatus is the user-facing summary.
type TwoFactorStatus struct {
	Enabled              bool
	Methods              []domain.Method
	PreferredMethod      domain.Method
	BackupCodesRemaining int
	WebAuthnCredentials  int
	LockedUntil          *time.Time
}

// AppSetup is returned when configuring the authenticator app method.
type AppSetup struct {
	Secret string
	URL    string
}

// Proof authorises a sensitive change: the account password or a live code
// for the method concerned.
type Proof struct {
	Password string
	Code     string
}

func (s *TwoFactorService) mailer() Mailer {
	if s.Mailer == nil {
		return LogMailer{}
	}
	return s.Mailer
}

// load reads the user's state, creating the row for users that predate it.
func (s *TwoFactorService) load(ctx context.Context, userID string) (domain.TwoFactorState, error) {
	st, err := s.Store.TwoFactor().GetTwoFactor(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		if err := s.Store.TwoFactor().EnsureTwoFactor(ctx, userID); err != nil {
			return domain.TwoFactorState{}, fmt.Errorf("create two-factor state: %w", err)
		}
		st, err = s.Store.TwoFactor().GetTwoFactor(ctx, userID)
	}
	if err != nil {
		return domain.TwoFactorState{}, fmt.Errorf("load two-factor state: %w", err)
	}
	return st, nil
}

// Status summarises the user's second-factor configuration.
func (s *TwoFactorService) Status(ctx context.Context, userID string) (TwoFactorStatus, error) {
	st, err := s.load(ctx, userID)
	if err != nil {
		return TwoFactorStatus{}, err
	}
	out := TwoFactorStatus{
		Enabled:              st.IsEnabled(),
		Methods:              st.EnabledMethods(),
		PreferredMethod:      st.PreferredMethod,
		BackupCodesRemaining: st.UnusedBackupCodes(),
		WebAuthnCredentials:  len(st.WebAuthn.Credentials),
	}
	if st.IsLocked(nowOr(s.Now)) {
		out.LockedUntil = st.LockUntil
	}
	return out, nil
}

// ConfigureApp creates a pending TOTP secret. It takes effect on EnableApp.
func (s *TwoFactorService) ConfigureApp(ctx context.Context, user domain.User) (AppSetup, error) {
	st, err := s.load(ctx, user.ID)
	if err != nil {
		return AppSetup{}, err
	}
	if st.App.Enabled {
		return AppSetup{}, ErrTwoFactorAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: user.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return AppSetup{}, fmt.Errorf("generate totp key: %w", err)
	}
	if err := s.Store.TwoFactor().SetAppSecret(ctx, user.ID, key.Secret()); err != nil {
		return AppSetup{}, mapConflict(err)
	}
	return AppSetup{Secret: key.Secret(), URL: key.URL()}, nil
}

// Configure starts setup of method. Email sends a config code; app returns
// the secret. WebAuthn is configured through the WebAuthn service.
func (s *TwoFactorService) Configure(ctx context.Context, user domain.User, method domain.Method) (AppSetup, error) {
	switch method {
	case domain.MethodApp:
		return s.ConfigureApp(ctx, user)
	case domain.MethodEmail:
		return AppSetup{}, s.SendCode(ctx, user, CodeContextConfig)
	}
	return AppSetup{}, ErrInvalidRequest
}

// SendCode emails a fresh 6-digit code, replacing any outstanding one.
func (s *TwoFactorService) SendCode(ctx context.Context, user domain.User, codeCtx CodeContext) error {
	st, err := s.load(ctx, user.ID)
	if err != nil {
		return err
	}
	switch codeCtx {
	case CodeContextConfig:
		if st.Email.Enabled {
			return ErrTwoFactorAlreadyEnabled
		}
	case CodeContextLogin, CodeContextDisable:
		if !st.Email.Enabled {
			return ErrTwoFactorSetupRequired
		}
	default:
		return ErrInvalidRequest
	}

	code, err := cryptox.GenerateNumericCode(cryptox.OTPDigits)
	if err != nil {
		return err
	}
	hash, err := cryptox.HashSecret(code)
	if err != nil {
		return err
	}
	expiresAt := nowOr(s.Now).Add(EmailOTPTTL)
	if err := s.Store.TwoFactor().SetEmailOTP(ctx, user.ID, hash, expiresAt); err != nil {
		return fmt.Errorf("store email code: %w", err)
	}
	if err := s.mailer().SendCode(ctx, user, code, expiresAt, codeCtx); err != nil {
		return fmt.Errorf("send email code: %w", err)
	}
	return nil
}

// Enable turns method on after checking the setup code and returns the
// newly issued backup codes.
func (s *TwoFactorService) Enable(ctx context.Context, user domain.User, method domain.Method, code string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "TwoFactorService.Enable")
	defer span.End()
	span.SetAttributes(attribute.String("two_factor.method", string(method)))

	st, err := s.load(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if st.MethodEnabled(method) {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	now := nowOr(s.Now)
	switch method {
	case domain.MethodApp:
		if st.App.Secret == "" {
			return nil, ErrTwoFactorSetupRequired
		}
		if !validTOTP(code, st.App.Secret, now) {
			return nil, ErrTwoFactorInvalidCode
		}
	case domain.MethodEmail:
		if st.Email.HashedOTP == "" {
			return nil, ErrTwoFactorSetupRequired
		}
		if !validEmailCode(code, st.Email, now) {
			return nil, ErrTwoFactorInvalidCode
		}
	default:
		return nil, ErrInvalidRequest
	}

	fresh, err := freshBackupCodes()
	if err != nil {
		return nil, err
	}

	var issued []string
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		issued, err = enableMethodTx(ctx, tx, st, method, fresh)
		if err != nil {
			return err
		}
		if method == domain.MethodEmail {
			return tx.TwoFactor().ClearEmailOTP(ctx, user.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slogx.FromContext(ctx).Info("two-factor method enabled",
		slog.String("user_id", user.ID), slog.String("method", string(method)))
	return issued, nil
}

// enableMethodTx flips method on and rotates backup codes. The first method
// becomes preferred and gets a brand new pool. Everything is derived from st,
// so the write is conditional on st.Version.
func enableMethodTx(ctx context.Context, tx store.Tx, st domain.TwoFactorState, method domain.Method, fresh []string) ([]string, error) {
	first := !st.IsEnabled()
	preferred := st.PreferredMethod
	if first || preferred == domain.MethodNone || !st.MethodEnabled(preferred) {
		preferred = method
	}
	if err := tx.TwoFactor().EnableMethod(ctx, st.UserID, method, preferred, st.Version); err != nil {
		return nil, mapConflict(err)
	}

	var current []domain.BackupCode
	if !first {
		var err error
		if current, err = tx.BackupCodes().ListBackupCodes(ctx, st.UserID); err != nil {
			return nil, fmt.Errorf("list backup codes: %w", err)
		}
	}
	rot := RotateBackupCodes(current, fresh)
	if err := tx.BackupCodes().ReplaceBackupCodes(ctx, st.UserID, rot.Codes); err != nil {
		return nil, fmt.Errorf("store backup codes: %w", err)
	}
	return rot.Issued, nil
}

// disableMethodTx flips method off, reassigns the preference and clears the
// backup pool once nothing remains enabled. Like enableMethodTx it is
// conditional on st.Version.
func disableMethodTx(ctx context.Context, tx store.Tx, st domain.TwoFactorState, method domain.Method) error {
	next := st.NextPreferred(method)
	if err := tx.TwoFactor().DisableMethod(ctx, st.UserID, method, next, st.Version); err != nil {
		return mapConflict(err)
	}
	if method == domain.MethodWebAuthn {
		if err := tx.WebAuthnCredentials().DeleteAllCredentials(ctx, st.UserID); err != nil {
			return fmt.Errorf("delete credentials: %w", err)
		}
	}
	if next == domain.MethodNone {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, st.UserID); err != nil {
			return fmt.Errorf("delete backup codes: %w", err)
		}
	}
	return nil
}

// Disable turns method off after checking proof.
func (s *TwoFactorService) Disable(ctx context.Context, user domain.User, method domain.Method, proof Proof) error {
	ctx, span := tracer.Start(ctx, "TwoFactorService.Disable")
	defer span.End()
	span.SetAttributes(attribute.String("two_factor.method", string(method)))

	if _, ok := domain.ParseMethod(string(method)); !ok {
		return ErrInvalidRequest
	}
	st, err := s.load(ctx, user.ID)
	if err != nil {
		return err
	}
	if !st.MethodEnabled(method) {
		return ErrTwoFactorSetupRequired
	}
	if err := s.checkProof(user, st, method, proof); err != nil {
		return err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return disableMethodTx(ctx, tx, st, method)
	})
	if err != nil {
		return err
	}

	slogx.FromContext(ctx).Info("two-factor method disabled",
		slog.String("user_id", user.ID), slog.String("method", string(method)))
	return nil
}

// checkProof accepts the password, or a live code for method.
func (s *TwoFactorService) checkProof(user domain.User, st domain.TwoFactorState, method domain.Method, proof Proof) error {
	now := nowOr(s.Now)
	switch {
	case proof.Password != "":
		if err := cryptox.VerifyPassword(proof.Password, user.PasswordHash); err != nil {
			if errors.Is(err, cryptox.ErrPasswordMismatch) {
				return ErrInvalidCredentials
			}
			return fmt.Errorf("verify password: %w", err)
		}
		return nil
	case proof.Code != "":
		switch method {
		case domain.MethodApp:
			if st.App.Enabled && validTOTP(proof.Code, st.App.Secret, now) {
				return nil
			}
		case domain.MethodEmail:
			if st.Email.Enabled && validEmailCode(proof.Code, st.Email, now) {
				return nil
			}
		}
		return ErrTwoFactorInvalidCode
	}
	return ErrInvalidRequest
}

// SetPreferredMethod changes the login default. The method must be enabled.
func (s *TwoFactorService) SetPreferredMethod(ctx context.Context, userID string, method domain.Method) error {
	if _, ok := domain.ParseMethod(string(method)); !ok {
		return ErrInvalidRequest
	}
	st, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if !st.MethodEnabled(method) {
		return ErrTwoFactorSetupRequired
	}
	if err := s.Store.TwoFactor().SetPreferredMethod(ctx, userID, method, st.Version); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("set preferred method: %w", err)
	}
	return nil
}

// RegenerateBackupCodes replaces the whole pool after checking proof
// against the preferred method.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, user domain.User, proof Proof) ([]string, error) {
	st, err := s.load(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if !st.IsEnabled() {
		return nil, ErrTwoFactorSetupRequired
	}
	if err := s.checkProof(user, st, st.PreferredMethod, proof); err != nil {
		return nil, err
	}
	fresh, err := freshBackupCodes()
	if err != nil {
		return nil, err
	}
	rot := RotateBackupCodes(nil, fresh)
	if err := s.Store.BackupCodes().ReplaceBackupCodes(ctx, user.ID, rot.Codes); err != nil {
		return nil, fmt.Errorf("store backup codes: %w", err)
	}
	return rot.Issued, nil
}

// VerifyLogin checks a login second factor. WebAuthn assertions go through
// WebAuthnService but share the same lockout.
func (s *TwoFactorService) VerifyLogin(ctx context.Context, userID string, method domain.Method, value string) error {
	ctx, span := tracer.Start(ctx, "TwoFactorService.VerifyLogin")
	defer span.End()
	span.SetAttributes(attribute.String("two_factor.method", string(method)))

	st, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	now := nowOr(s.Now)
	if err := s.guard(ctx, &st, now); err != nil {
		return err
	}

	ok := false
	switch method {
	case domain.MethodApp:
		ok = st.App.Enabled && validTOTP(value, st.App.Secret, now)
	case domain.MethodEmail:
		if st.Email.Enabled && validEmailCode(value, st.Email, now) {
			// A code is good once; a concurrent verify of the same code loses.
			err := s.Store.TwoFactor().ConsumeEmailOTP(ctx, userID, st.Email.HashedOTP)
			switch {
			case err == nil:
				ok = true
			case !errors.Is(err, store.ErrNotFound):
				return fmt.Errorf("consume email code: %w", err)
			}
		}
	case domain.MethodBackup:
		if st.IsEnabled() && value != "" {
			err := s.Store.BackupCodes().ConsumeBackupCode(ctx, userID, HashBackupCode(value), now)
			switch {
			case err == nil:
				ok = true
			case !errors.Is(err, store.ErrNotFound):
				return fmt.Errorf("consume backup code: %w", err)
			}
		}
	default:
		return ErrInvalidRequest
	}

	if !ok {
		return s.fail(ctx, userID, now)
	}
	return s.succeed(ctx, userID, now)
}

// guard refuses attempts while locked. An elapsed lock is cleared first so
// the user starts from a clean counter.
func (s *TwoFactorService) guard(ctx context.Context, st *domain.TwoFactorState, now time.Time) error {
	if st.LockUntil != nil && !now.Before(*st.LockUntil) {
		if err := s.Store.TwoFactor().ResetAttempts(ctx, st.UserID, nil); err != nil {
			return fmt.Errorf("reset attempts: %w", err)
		}
		st.Attempts, st.LockUntil = 0, nil
	}
	if st.IsLocked(now) {
		return ErrTwoFactorLocked
	}
	return nil
}

// fail records a failed attempt and always returns ErrTwoFactorInvalidCode.
func (s *TwoFactorService) fail(ctx context.Context, userID string, now time.Time) error {
	attempts, lock, err := s.Store.TwoFactor().IncrementAttempts(ctx, userID, MaxTwoFactorAttempts, now.Add(LockoutDuration))
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	l := slogx.FromContext(ctx)
	if lock != nil && now.Before(*lock) {
		l.Warn("two-factor locked", slog.String("user_id", userID), slog.Int("attempts", attempts), slog.Time("lock_until", *lock))
	} else {
		l.Info("two-factor attempt failed", slog.String("user_id", userID), slog.Int("attempts", attempts))
	}
	return ErrTwoFactorInvalidCode
}

func (s *TwoFactorService) succeed(ctx context.Context, userID string, now time.Time) error {
	if err := s.Store.TwoFactor().ResetAttempts(ctx, userID, &now); err != nil {
		return fmt.Errorf("reset attempts: %w", err)
	}
	return nil
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validTOTP(code, secret string, now time.Time) bool {
	code = strings.TrimSpace(code)
	if secret == "" || !isDigits(code, cryptox.OTPDigits) {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func validEmailCode(code string, m domain.EmailMethod, now time.Time) bool {
	code = strings.TrimSpace(code)
	if m.HashedOTP == "" || m.OTPExpiry == nil || !now.Before(*m.OTPExpiry) {
		return false
	}
	if !isDigits(code, cryptox.OTPDigits) {
		return false
	}
	return cryptox.VerifySecret(code, m.HashedOTP)
}
