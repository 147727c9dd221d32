/*
Package authsdk is the Go client and wire types for the tabauth service.

# SDKClient vs Session

  - SDKClient: public endpoints (register, login, second factor, refresh,
    password reset, health, JWKS) and creation of Sessions
  - Session: endpoints behind the auth gateway, with automatic refresh

A typical sign-in, including the second factor:

	client := authsdk.NewSDKClient("https://auth.example.com")

	session, err := client.AuthenticateWithPassword(ctx, "alice@example.com", password, true)
	var tfa *authsdk.TwoFactorRequiredError
	if errors.As(err, &tfa) {
		tok, err := client.VerifyTwoFactor(ctx, authsdk.VerifyTwoFactorRequest{
			ChallengeToken: tfa.ChallengeToken,
			Method:         "app",
			Code:           totpCode,
		})
		if err != nil {
			return err
		}
		session = client.NewSessionFromTokens(tok)
	}

	me, err := session.Me(ctx)

# Refresh

Refresh tokens rotate on every use. A Session stores the newest token and
refreshes about 30 seconds before the access token expires. Presenting an
old refresh token ends the session on the server, so do not share raw
tokens between Sessions.

# Errors

Failed calls return *APIError carrying the HTTP status, the stable error
code and a description localized by the server (set SDKClient.Language).
Compare with errors.Is against the predefined values:

	if errors.Is(err, authsdk.ErrSessionRevoked) {
		// sign in again
	}

The server side uses the same types: handlers write *APIError with
WriteError and an i18nx.Translator.

# Thread Safety

Sessions are safe for concurrent use.
*/
package authsdk
