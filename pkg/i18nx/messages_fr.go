package i18nx

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.French

	// Errors
	message.SetString(lang, "invalid_credentials", "Adresse e-mail ou mot de passe invalide.")
	message.SetString(lang, "invalid_token", "Le jeton est invalide ou a expiré.")
	message.SetString(lang, "session_expired", "Votre session a expiré. Veuillez vous reconnecter.")
	message.SetString(lang, "session_revoked", "Votre session a été révoquée. Veuillez vous reconnecter.")
	message.SetString(lang, "session_not_found", "Session introuvable.")
	message.SetString(lang, "cannot_revoke_current_session", "Utilisez la déconnexion pour terminer la session en cours.")
	message.SetString(lang, "two_factor_required", "Un second facteur est requis pour terminer la connexion.")
	message.SetString(lang, "two_factor_invalid_code", "Le code de vérification est incorrect.")
	message.SetString(lang, "two_factor_locked", "Trop de tentatives échouées. Réessayez plus tard.")
	message.SetString(lang, "two_factor_setup_required", "Cette méthode n'a pas été configurée.")
	message.SetString(lang, "two_factor_already_enabled", "Cette méthode est déjà activée.")
	message.SetString(lang, "webauthn_failed", "La vérification de la clé de sécurité a échoué.")
	message.SetString(lang, "concurrent_modification", "La requête est entrée en conflit avec une autre modification. Veuillez réessayer.")
	message.SetString(lang, "credential_not_found", "Identifiant introuvable.")
	message.SetString(lang, "email_taken", "Un compte existe déjà avec cette adresse e-mail.")
	message.SetString(lang, "weak_password", "Le mot de passe doit contenir entre %d et %d caractères.")
	message.SetString(lang, "invalid_request", "La requête est mal formée.")
	message.SetString(lang, "insufficient_role", "Vous n'avez pas la permission d'effectuer cette action.")
	message.SetString(lang, "rate_limited", "Trop de requêtes. Veuillez réessayer plus tard.")
	message.SetString(lang, "not_found", "Introuvable.")
	message.SetString(lang, "server_error", "Une erreur inattendue s'est produite.")

	// Notices
	message.SetString(lang, "password_reset_requested", "Si le compte existe, un lien de réinitialisation a été envoyé.")
}
