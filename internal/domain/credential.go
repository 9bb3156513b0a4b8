package domain

// Credential is the shared account whose TOTP seed seats draw codes from.
// Secret holds the sealed base32 seed and is never serialized to clients.
type Credential struct {
	CredentialID string `json:"id" dynamodbav:"credential_id"`
	Label        string `json:"label" dynamodbav:"label"`
	Secret       string `json:"-" dynamodbav:"secret_sealed"`
}
