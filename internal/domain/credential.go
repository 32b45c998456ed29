package domain

import "time"

// CredentialKind - вид секрета интеграции
type CredentialKind string

const (
	CredentialOAuthToken CredentialKind = "oauth_token"
	CredentialAPIKey     CredentialKind = "api_key"
)

// Credential - зашифрованный секрет площадки, один на пару (venue, integration_type)
// Расшифровывать его умеет только Vault
type Credential struct {
	ID              string          `db:"id" json:"id"`
	VenueID         string          `db:"venue_id" json:"venue_id"`
	IntegrationType IntegrationType `db:"integration_type" json:"integration_type"`
	Kind            CredentialKind  `db:"kind" json:"kind"`
	Ciphertext      string          `db:"ciphertext" json:"-"`
	KeyVersion      string          `db:"key_version" json:"key_version"`
	LastUsedAt      *time.Time      `db:"last_used_at" json:"last_used_at"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// OAuthToken - расшифрованный OAuth токен
type OAuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Scopes       []string  `json:"scopes,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshCount int       `json:"refresh_count"`
}

// APIKeySecret - расшифрованный API ключ внешнего сервиса
type APIKeySecret struct {
	Key         string `json:"key"`
	Secret      string `json:"secret"`
	Environment string `json:"environment"` // sandbox, production
	Valid       bool   `json:"valid"`
}

// Secret - полиморфный открытый текст секрета
// Заполнено ровно одно из полей в зависимости от Kind
type Secret struct {
	Kind       CredentialKind `json:"kind"`
	OAuthToken *OAuthToken    `json:"oauth_token,omitempty"`
	APIKey     *APIKeySecret  `json:"api_key,omitempty"`
}
