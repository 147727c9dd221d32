package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/tabauth/internal/auth/domain"
	"github.com/aussiebroadwan/tabauth/internal/auth/store"
	"github.com/aussiebroadwan/tabauth/pkg/slogx"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// WebAuthnChallengeTTL bounds a registration or login ceremony.
const WebAuthnChallengeTTL = 5 * time.Minute

// WebAuthnProvider is the subset of *webauthn.WebAuthn the service drives.
type WebAuthnProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// WebAuthnParser decodes browser responses.
type WebAuthnParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

// ProtocolParser is the go-webauthn parser.
type ProtocolParser struct{}

func (ProtocolParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (ProtocolParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// WebAuthnService runs registration and login ceremonies. Every failure is
// reported as ErrWebAuthnFailed; the reason is only logged.
type WebAuthnService struct {
	Store     store.Store
	TwoFactor *TwoFactorService
	Provider  WebAuthnProvider
	Parser    WebAuthnParser
	Now       func() time.Time
}

type webauthnUser struct {
	user        domain.User
	credentials []webauthn.Credential
}

func newWebAuthnUser(u domain.User, creds []domain.WebAuthnCredential) *webauthnUser {
	wu := &webauthnUser{user: u}
	for _, c := range creds {
		wu.credentials = append(wu.credentials, toWebAuthnCredential(c))
	}
	return wu
}

func (u *webauthnUser) WebAuthnID() []byte                         { return []byte(u.user.ID) }
func (u *webauthnUser) WebAuthnName() string                       { return u.user.Email }
func (u *webauthnUser) WebAuthnDisplayName() string                { return u.user.Email }
func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

func toWebAuthnCredential(c domain.WebAuthnCredential) webauthn.Credential {
	id, _ := base64.RawURLEncoding.DecodeString(c.ID)
	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:              id,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignatureCounter,
		},
	}
}

func fromWebAuthnCredential(userID, name string, c *webauthn.Credential, now time.Time) domain.WebAuthnCredential {
	transports := make([]string, 0, len(c.Transport))
	for _, t := range c.Transport {
		transports = append(transports, string(t))
	}
	deviceType := "single_device"
	if c.Flags.BackupEligible {
		deviceType = "multi_device"
	}
	return domain.WebAuthnCredential{
		ID:               base64.RawURLEncoding.EncodeToString(c.ID),
		UserID:           userID,
		PublicKey:        c.PublicKey,
		SignatureCounter: c.Authenticator.SignCount,
		Transports:       transports,
		DeviceType:       deviceType,
		DeviceName:       name,
		AAGUID:           c.Authenticator.AAGUID,
		AttestationType:  c.AttestationType,
		BackupEligible:   c.Flags.BackupEligible,
		BackupState:      c.Flags.BackupState,
		CreatedAt:        now,
	}
}

// failed logs reason and returns the generic error.
func (s *WebAuthnService) failed(ctx context.Context, userID, reason string, err error) error {
	attrs := []any{slog.String("user_id", userID), slog.String("reason", reason)}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	slogx.FromContext(ctx).Info("webauthn ceremony failed", attrs...)
	return ErrWebAuthnFailed
}

func (s *WebAuthnService) storeChallenge(ctx context.Context, userID string, session *webauthn.SessionData) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode webauthn session: %w", err)
	}
	expiresAt := nowOr(s.Now).Add(WebAuthnChallengeTTL)
	if err := s.Store.TwoFactor().SetWebAuthnChallenge(ctx, userID, session.Challenge, data, expiresAt); err != nil {
		return fmt.Errorf("store webauthn challenge: %w", err)
	}
	return nil
}

// pendingSession returns the outstanding ceremony if it has not expired and
// matches the challenge the browser signed.
func pendingSession(st domain.TwoFactorState, responseChallenge string, now time.Time) (webauthn.SessionData, error) {
	w := st.WebAuthn
	if w.Challenge == "" || w.ChallengeExpiry == nil {
		return webauthn.SessionData{}, errors.New("no outstanding challenge")
	}
	if !now.Before(*w.ChallengeExpiry) {
		return webauthn.SessionData{}, errors.New("challenge expired")
	}
	if responseChallenge != w.Challenge {
		return webauthn.SessionData{}, errors.New("challenge mismatch")
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(w.SessionData, &session); err != nil {
		return webauthn.SessionData{}, fmt.Errorf("decode webauthn session: %w", err)
	}
	return session, nil
}

// BeginRegistration issues creation options for a new authenticator,
// excluding the ones already registered.
func (s *WebAuthnService) BeginRegistration(ctx context.Context, user domain.User) (*protocol.CredentialCreation, error) {
	ctx, span := tracer.Start(ctx, "WebAuthnService.BeginRegistration")
	defer span.End()

	st, err := s.TwoFactor.load(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	wu := newWebAuthnUser(user, st.WebAuthn.Credentials)

	opts := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementPreferred),
	}
	if len(wu.credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(wu.credentials).CredentialDescriptors()))
	}

	creation, session, err := s.Provider.BeginRegistration(wu, opts...)
	if err != nil {
		return nil, s.failed(ctx, user.ID, "begin registration", err)
	}
	if err := s.storeChallenge(ctx, user.ID, session); err != nil {
		return nil, err
	}
	return creation, nil
}

// FinishRegistration verifies the attestation, stores the credential and
// enables the method when it is the first one. It returns any backup codes
// issued by that enablement.
func (s *WebAuthnService) FinishRegistration(ctx context.Context, user domain.User, response []byte, deviceName string) (domain.WebAuthnCredential, []string, error) {
	ctx, span := tracer.Start(ctx, "WebAuthnService.FinishRegistration")
	defer span.End()

	now := nowOr(s.Now)
	st, err := s.TwoFactor.load(ctx, user.ID)
	if err != nil {
		return domain.WebAuthnCredential{}, nil, err
	}

	parsed, err := s.Parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return domain.WebAuthnCredential{}, nil, s.failed(ctx, user.ID, "parse attestation", err)
	}
	session, err := pendingSession(st, parsed.Response.CollectedClientData.Challenge, now)
	if err != nil {
		return domain.WebAuthnCredential{}, nil, s.failed(ctx, user.ID, "registration challenge", err)
	}

	wu := newWebAuthnUser(user, st.WebAuthn.Credentials)
	created, err := s.Provider.CreateCredential(wu, session, parsed)
	if err != nil {
		return domain.WebAuthnCredential{}, nil, s.failed(ctx, user.ID, "verify attestation", err)
	}

	deviceName = strings.TrimSpace(deviceName)
	if deviceName == "" {
		deviceName = "Security key"
	}
	cred := fromWebAuthnCredential(user.ID, deviceName, created, now)

	fresh, err := freshBackupCodes()
	if err != nil {
		return domain.WebAuthnCredential{}, nil, err
	}

	var issued []string
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.TwoFactor().ConsumeWebAuthnChallenge(ctx, user.ID, session.Challenge); err != nil {
			return s.failed(ctx, user.ID, "challenge already used", err)
		}
		if err := tx.WebAuthnCredentials().CreateCredential(ctx, cred); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return s.failed(ctx, user.ID, "credential already registered", err)
			}
			return fmt.Errorf("store credential: %w", err)
		}
		if st.WebAuthn.Enabled {
			return nil
		}
		var err error
		issued, err = enableMethodTx(ctx, tx, st, domain.MethodWebAuthn, fresh)
		return err
	})
	if err != nil {
		return domain.WebAuthnCredential{}, nil, err
	}

	slogx.FromContext(ctx).Info("webauthn credential registered",
		slog.String("user_id", user.ID), slog.String("credential_id", cred.ID))
	return cred, issued, nil
}

// AssertionScope tells the login ceremony whether the password step has
// already been passed.
type AssertionScope int

const (
	// SecondFactor follows a password-verified login challenge. Failures
	// count toward the two-factor lockout.
	SecondFactor AssertionScope = iota

	// FirstFactor starts a login from an email alone. Failures are not
	// counted and the lock state is reported as a plain WebAuthn failure.
	FirstFactor
)

// guardLogin applies the lockout. First-factor callers only ever see
// ErrWebAuthnFailed so the lock state does not reveal the account.
func (s *WebAuthnService) guardLogin(ctx context.Context, st *domain.TwoFactorState, now time.Time, scope AssertionScope) error {
	err := s.TwoFactor.guard(ctx, st, now)
	if scope == FirstFactor && errors.Is(err, ErrTwoFactorLocked) {
		return s.failed(ctx, st.UserID, "locked", nil)
	}
	return err
}

// BeginLogin issues assertion options for a user with WebAuthn enabled.
func (s *WebAuthnService) BeginLogin(ctx context.Context, user domain.User, scope AssertionScope) (*protocol.CredentialAssertion, error) {
	ctx, span := tracer.Start(ctx, "WebAuthnService.BeginLogin")
	defer span.End()

	st, err := s.TwoFactor.load(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.guardLogin(ctx, &st, nowOr(s.Now), scope); err != nil {
		return nil, err
	}
	if !st.WebAuthn.Enabled || len(st.WebAuthn.Credentials) == 0 {
		return nil, s.failed(ctx, user.ID, "webauthn not enabled", nil)
	}

	assertion, session, err := s.Provider.BeginLogin(newWebAuthnUser(user, st.WebAuthn.Credentials))
	if err != nil {
		return nil, s.failed(ctx, user.ID, "begin login", err)
	}
	if err := s.storeChallenge(ctx, user.ID, session); err != nil {
		return nil, err
	}
	return assertion, nil
}

// FinishLogin verifies an assertion. Second-factor failures count toward
// the shared two-factor lockout, and the signature counter must strictly
// increase.
func (s *WebAuthnService) FinishLogin(ctx context.Context, user domain.User, response []byte, scope AssertionScope) error {
	ctx, span := tracer.Start(ctx, "WebAuthnService.FinishLogin")
	defer span.End()

	now := nowOr(s.Now)
	st, err := s.TwoFactor.load(ctx, user.ID)
	if err != nil {
		return err
	}
	if err := s.guardLogin(ctx, &st, now, scope); err != nil {
		return err
	}

	reject := func(reason string, cause error) error {
		if scope == SecondFactor {
			if err := s.TwoFactor.fail(ctx, user.ID, now); !errors.Is(err, ErrTwoFactorInvalidCode) {
				return err
			}
		}
		return s.failed(ctx, user.ID, reason, cause)
	}

	if !st.WebAuthn.Enabled {
		return reject("webauthn not enabled", nil)
	}
	parsed, err := s.Parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return reject("parse assertion", err)
	}
	session, err := pendingSession(st, parsed.Response.CollectedClientData.Challenge, now)
	if err != nil {
		return reject("login challenge", err)
	}

	var stored *domain.WebAuthnCredential
	for i := range st.WebAuthn.Credentials {
		if st.WebAuthn.Credentials[i].ID == parsed.ID {
			stored = &st.WebAuthn.Credentials[i]
			break
		}
	}
	if stored == nil {
		return reject("unknown credential", nil)
	}

	validated, err := s.Provider.ValidateLogin(newWebAuthnUser(user, st.WebAuthn.Credentials), session, parsed)
	if err != nil {
		return reject("verify assertion", err)
	}
	if validated.Authenticator.SignCount <= stored.SignatureCounter {
		slogx.FromContext(ctx).Warn("webauthn signature counter did not increase",
			slog.String("user_id", user.ID),
			slog.String("credential_id", stored.ID),
			slog.Uint64("stored", uint64(stored.SignatureCounter)),
			slog.Uint64("presented", uint64(validated.Authenticator.SignCount)),
		)
		return reject("counter regression", nil)
	}

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.TwoFactor().ConsumeWebAuthnChallenge(ctx, user.ID, session.Challenge); err != nil {
			return s.failed(ctx, user.ID, "challenge already used", err)
		}
		err := tx.WebAuthnCredentials().UpdateCredentialUse(ctx, user.ID, stored.ID,
			stored.SignatureCounter, validated.Authenticator.SignCount, validated.Flags.BackupState, now)
		if err != nil {
			return s.failed(ctx, user.ID, "counter changed concurrently", err)
		}
		if err := tx.TwoFactor().ResetAttempts(ctx, user.ID, &now); err != nil {
			return fmt.Errorf("reset attempts: %w", err)
		}
		return nil
	})
}

// ListCredentials returns the user's registered authenticators.
func (s *WebAuthnService) ListCredentials(ctx context.Context, userID string) ([]domain.WebAuthnCredential, error) {
	creds, err := s.Store.WebAuthnCredentials().ListCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return creds, nil
}

// DeleteCredential removes one authenticator. Removing the last one
// disables the method exactly like Disable does.
func (s *WebAuthnService) DeleteCredential(ctx context.Context, userID, credentialID string) error {
	st, err := s.TwoFactor.load(ctx, userID)
	if err != nil {
		return err
	}
	found := false
	for _, c := range st.WebAuthn.Credentials {
		if c.ID == credentialID {
			found = true
			break
		}
	}
	if !found {
		return ErrCredentialNotFound
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if len(st.WebAuthn.Credentials) == 1 && st.WebAuthn.Enabled {
			return disableMethodTx(ctx, tx, st, domain.MethodWebAuthn)
		}
		if err := tx.WebAuthnCredentials().DeleteCredential(ctx, userID, credentialID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrCredentialNotFound
			}
			return fmt.Errorf("delete credential: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slogx.FromContext(ctx).Info("webauthn credential removed",
		slog.String("user_id", userID), slog.String("credential_id", credentialID))
	return nil
}
