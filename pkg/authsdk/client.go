package authsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// SDKClient is a client for the tabauth service. It provides the public
// endpoints and creates authenticated Sessions.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// Language is sent as Accept-Language so error descriptions come back
	// localized. Empty leaves the server default.
	Language string
}

// NewSDKClient creates a new auth service client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Register creates an account. The verification email is sent by the server.
func (c *SDKClient) Register(ctx context.Context, req RegisterRequest) (*UserResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/register", req)
	if err != nil {
		return nil, err
	}

	var user UserResponse
	if err := decodeJSON(resp, &user, http.StatusCreated); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login authenticates with email and password. When the account has a
// second factor the error is a *TwoFactorRequiredError.
func (c *SDKClient) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	return c.tokenRequest(ctx, "/v1/auth/login", req)
}

// VerifyTwoFactor completes a pending login with a code.
func (c *SDKClient) VerifyTwoFactor(ctx context.Context, req VerifyTwoFactorRequest) (*TokenResponse, error) {
	return c.tokenRequest(ctx, "/v1/auth/2fa/verify", req)
}

// SendLoginCode emails a login code for a pending login.
func (c *SDKClient) SendLoginCode(ctx context.Context, challengeToken string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/2fa/email/send", ChallengeRequest{ChallengeToken: challengeToken})
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// WebAuthnLoginOptions returns the credential request options to pass to
// navigator.credentials.get.
func (c *SDKClient) WebAuthnLoginOptions(ctx context.Context, req WebAuthnLoginOptionsRequest) (json.RawMessage, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/webauthn/options", req)
	if err != nil {
		return nil, err
	}

	var options json.RawMessage
	if err := decodeJSON(resp, &options, http.StatusOK); err != nil {
		return nil, err
	}
	return options, nil
}

// WebAuthnLoginVerify finishes a security key login.
func (c *SDKClient) WebAuthnLoginVerify(ctx context.Context, req WebAuthnLoginVerifyRequest) (*TokenResponse, error) {
	return c.tokenRequest(ctx, "/v1/auth/webauthn/verify", req)
}

// Refresh rotates the refresh token. The returned refresh token replaces
// the old one, which must not be used again.
func (c *SDKClient) Refresh(ctx context.Context, sessionID, refreshToken string) (*TokenResponse, error) {
	return c.tokenRequest(ctx, "/v1/auth/refresh", RefreshRequest{SessionID: sessionID, RefreshToken: refreshToken})
}

// ForgotPassword requests a reset email. The server answers the same way
// whether or not the account exists.
func (c *SDKClient) ForgotPassword(ctx context.Context, email string) error {
	return c.accepted(ctx, "/v1/auth/password/forgot", EmailRequest{Email: email})
}

// ResendPasswordReset issues a new reset token with the longer resend lifetime.
func (c *SDKClient) ResendPasswordReset(ctx context.Context, email string) error {
	return c.accepted(ctx, "/v1/auth/password/resend", EmailRequest{Email: email})
}

// ResetPassword sets a new password with an emailed token.
func (c *SDKClient) ResetPassword(ctx context.Context, token, password string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/password/reset", ResetPasswordRequest{Token: token, Password: password})
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// VerifyEmail confirms an address with an emailed token.
func (c *SDKClient) VerifyEmail(ctx context.Context, token string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/email/verify", VerifyEmailRequest{Token: token})
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// AuthenticateWithPassword logs in and wraps the tokens in a Session.
func (c *SDKClient) AuthenticateWithPassword(ctx context.Context, email, password string, rememberMe bool) (*Session, error) {
	tok, err := c.Login(ctx, LoginRequest{Email: email, Password: password, RememberMe: rememberMe})
	if err != nil {
		return nil, err
	}
	return c.NewSessionFromTokens(tok), nil
}

func (c *SDKClient) tokenRequest(ctx context.Context, path string, body any) (*TokenResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var tok TokenResponse
	if err := decodeJSON(resp, &tok, http.StatusOK); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (c *SDKClient) accepted(ctx context.Context, path string, body any) error {
	resp, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusAccepted)
}
