package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
	"github.com/aussiebroadwan/tabauth/pkg/cryptox"
	"github.com/aussiebroadwan/tabauth/pkg/slogx"
	"github.com/go-webauthn/webauthn/protocol"
	"go.opentelemetry.io/otel/attribute"
)

// LoginService runs the login flows: password, then an optional second
// factor, then a session.
type LoginService struct {
	Store       store.Store
	Credentials *CredentialService
	TwoFactor   *TwoFactorService
	WebAuthn    *WebAuthnService
	Sessions    *SessionService
	Mailer      Mailer
	Now         func() time.Time
}

// WebAuthnLoginTarget names whose authenticator is asked for. A login
// challenge token wins over an email.
type WebAuthnLoginTarget struct {
	ChallengeToken string
	Email          string
	RememberMe     bool
}

func (s *LoginService) mailer() Mailer {
	if s.Mailer == nil {
		return LogMailer{}
	}
	return s.Mailer
}

// Login checks the password. Users with two-factor enabled get a
// *TwoFactorRequiredError carrying a login challenge instead of tokens.
func (s *LoginService) Login(ctx context.Context, email, password string, dc DeviceContext, rememberMe bool) (domain.TokenPair, error) {
	ctx, span := tracer.Start(ctx, "LoginService.Login")
	defer span.End()

	user, err := s.Credentials.Authenticate(ctx, email, password)
	if err != nil {
		return domain.TokenPair{}, err
	}

	st, err := s.TwoFactor.load(ctx, user.ID)
	if err != nil {
		return domain.TokenPair{}, err
	}
	span.SetAttributes(attribute.Bool("two_factor.enabled", st.IsEnabled()))
	if !st.IsEnabled() {
		return s.complete(ctx, user, dc, rememberMe)
	}

	now := nowOr(s.Now)
	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, err
	}
	challenge := domain.LoginChallenge{
		TokenHash:  cryptox.FingerprintToken(token),
		UserID:     user.ID,
		RememberMe: rememberMe,
		ExpiresAt:  now.Add(domain.LoginChallengeTTL),
		CreatedAt:  now,
	}
	if err := s.Store.LoginChallenges().CreateLoginChallenge(ctx, challenge); err != nil {
		return domain.TokenPair{}, fmt.Errorf("create login challenge: %w", err)
	}

	if st.PreferredMethod == domain.MethodEmail {
		if err := s.TwoFactor.SendCode(ctx, user, CodeContextLogin); err != nil {
			// The client can ask for another code with the challenge.
			slogx.FromContext(ctx).Warn("login code not sent", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	return domain.TokenPair{}, &TwoFactorRequiredError{Challenge: domain.TwoFactorChallenge{
		Token:           token,
		Methods:         st.EnabledMethods(),
		PreferredMethod: st.PreferredMethod,
		ExpiresAt:       challenge.ExpiresAt,
	}}
}

// VerifyTwoFactor completes a challenged login with an app, email or backup
// code. The challenge is spent on success only.
func (s *LoginService) VerifyTwoFactor(ctx context.Context, challengeToken string, method domain.Method, code string, dc DeviceContext) (domain.TokenPair, error) {
	ctx, span := tracer.Start(ctx, "LoginService.VerifyTwoFactor")
	defer span.End()

	ch, user, err := s.challenge(ctx, challengeToken)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if method == domain.MethodWebAuthn {
		return domain.TokenPair{}, ErrInvalidRequest
	}
	if err := s.TwoFactor.VerifyLogin(ctx, user.ID, method, code); err != nil {
		return domain.TokenPair{}, err
	}
	if err := s.spend(ctx, ch); err != nil {
		return domain.TokenPair{}, err
	}
	return s.complete(ctx, user, dc, ch.RememberMe)
}

// SendLoginCode emails a login code for a pending challenge.
func (s *LoginService) SendLoginCode(ctx context.Context, challengeToken string) error {
	_, user, err := s.challenge(ctx, challengeToken)
	if err != nil {
		return err
	}
	return s.TwoFactor.SendCode(ctx, user, CodeContextLogin)
}

// BeginWebAuthnLogin issues assertion options for the challenged user, or
// for the owner of target.Email when no challenge is given. Unknown emails
// fail like any other WebAuthn error.
func (s *LoginService) BeginWebAuthnLogin(ctx context.Context, target WebAuthnLoginTarget) (*protocol.CredentialAssertion, error) {
	user, ch, err := s.webauthnUser(ctx, target)
	if err != nil {
		return nil, err
	}
	return s.WebAuthn.BeginLogin(ctx, user, assertionScope(ch))
}

// FinishWebAuthnLogin verifies the assertion and starts a session.
func (s *LoginService) FinishWebAuthnLogin(ctx context.Context, target WebAuthnLoginTarget, response []byte, dc DeviceContext) (domain.TokenPair, error) {
	ctx, span := tracer.Start(ctx, "LoginService.FinishWebAuthnLogin")
	defer span.End()

	user, ch, err := s.webauthnUser(ctx, target)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if err := s.WebAuthn.FinishLogin(ctx, user, response, assertionScope(ch)); err != nil {
		return domain.TokenPair{}, err
	}
	rememberMe := target.RememberMe
	if ch != nil {
		if err := s.spend(ctx, *ch); err != nil {
			return domain.TokenPair{}, err
		}
		rememberMe = ch.RememberMe
	}
	return s.complete(ctx, user, dc, rememberMe)
}

// assertionScope is SecondFactor only when a password-verified challenge
// backs the ceremony.
func assertionScope(ch *domain.LoginChallenge) AssertionScope {
	if ch != nil {
		return SecondFactor
	}
	return FirstFactor
}

func (s *LoginService) webauthnUser(ctx context.Context, target WebAuthnLoginTarget) (domain.User, *domain.LoginChallenge, error) {
	if target.ChallengeToken != "" {
		ch, user, err := s.challenge(ctx, target.ChallengeToken)
		if err != nil {
			return domain.User{}, nil, err
		}
		return user, &ch, nil
	}
	if target.Email == "" {
		return domain.User{}, nil, ErrInvalidRequest
	}
	user, err := s.Store.Users().GetUserByEmail(ctx, domain.NormalizeEmail(target.Email))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.User{}, nil, ErrWebAuthnFailed
	case err != nil:
		return domain.User{}, nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil, nil
}

// challenge resolves a live login challenge and its user.
func (s *LoginService) challenge(ctx context.Context, token string) (domain.LoginChallenge, domain.User, error) {
	if token == "" {
		return domain.LoginChallenge{}, domain.User{}, ErrInvalidToken
	}
	ch, err := s.Store.LoginChallenges().GetLoginChallenge(ctx, cryptox.FingerprintToken(token))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.LoginChallenge{}, domain.User{}, ErrInvalidToken
	case err != nil:
		return domain.LoginChallenge{}, domain.User{}, fmt.Errorf("load login challenge: %w", err)
	}
	if !nowOr(s.Now).Before(ch.ExpiresAt) {
		return domain.LoginChallenge{}, domain.User{}, ErrInvalidToken
	}
	user, err := s.Credentials.GetUser(ctx, ch.UserID)
	if err != nil {
		return domain.LoginChallenge{}, domain.User{}, err
	}
	return ch, user, nil
}

// spend deletes the challenge. Losing a race to another request spending
// the same challenge is ErrInvalidToken.
func (s *LoginService) spend(ctx context.Context, ch domain.LoginChallenge) error {
	err := s.Store.LoginChallenges().DeleteLoginChallenge(ctx, ch.TokenHash)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrInvalidToken
	case err != nil:
		return fmt.Errorf("delete login challenge: %w", err)
	}
	return nil
}

// complete creates the session and sends the new-login notice.
func (s *LoginService) complete(ctx context.Context, user domain.User, dc DeviceContext, rememberMe bool) (domain.TokenPair, error) {
	pair, err := s.Sessions.CreateSession(ctx, user, dc, rememberMe)
	if err != nil {
		return domain.TokenPair{}, err
	}

	l := slogx.FromContext(ctx)
	l.Info("login succeeded", slog.String("user_id", user.ID), slog.String("session_id", pair.SessionID))

	sess, err := s.Store.Sessions().GetSession(ctx, pair.SessionID)
	if err != nil {
		l.Warn("login notification skipped", slog.String("user_id", user.ID), slog.Any("error", err))
		return pair, nil
	}
	if err := s.mailer().SendLoginNotification(ctx, user, sess.Device); err != nil {
		l.Warn("login notification failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	return pair, nil
}
