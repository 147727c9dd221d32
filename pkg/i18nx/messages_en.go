package i18nx

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.English

	// Errors
	message.SetString(lang, "invalid_credentials", "Invalid email or password.")
	message.SetString(lang, "invalid_token", "The token is invalid or has expired.")
	message.SetString(lang, "session_expired", "Your session has expired. Please sign in again.")
	message.SetString(lang, "session_revoked", "Your session has been revoked. Please sign in again.")
	message.SetString(lang, "session_not_found", "Session not found.")
	message.SetString(lang, "cannot_revoke_current_session", "Use logout to end the current session.")
	message.SetString(lang, "two_factor_required", "A second factor is required to complete sign in.")
	message.SetString(lang, "two_factor_invalid_code", "The verification code is incorrect.")
	message.SetString(lang, "two_factor_locked", "Too many failed attempts. Try again later.")
	message.SetString(lang, "two_factor_setup_required", "This method has not been set up.")
	message.SetString(lang, "two_factor_already_enabled", "This method is already enabled.")
	message.SetString(lang, "webauthn_failed", "Security key verification failed.")
	message.SetString(lang, "concurrent_modification", "The request conflicted with another change. Please retry.")
	message.SetString(lang, "credential_not_found", "Credential not found.")
	message.SetString(lang, "email_taken", "An account with this email already exists.")
	message.SetString(lang, "weak_password", "The password must be between %d and %d characters.")
	message.SetString(lang, "invalid_request", "The request is malformed.")
	message.SetString(lang, "insufficient_role", "You do not have permission to perform this action.")
	message.SetString(lang, "rate_limited", "Too many requests. Please try again later.")
	message.SetString(lang, "not_found", "Not found.")
	message.SetString(lang, "server_error", "An unexpected error occurred.")

	// Notices
	message.SetString(lang, "password_reset_requested", "If the account exists, a reset link has been sent.")
}
