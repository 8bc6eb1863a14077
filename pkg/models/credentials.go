package models

import "time"

// BrokerCredential is a stored broker API credential. Secrets are held and
// persisted backend-side; the client only ever sees masked values.
type BrokerCredential struct {
	ID           string    `json:"id"`
	Broker       string    `json:"broker"`
	APIKeyMasked string    `json:"api_key_masked"`
	Connected    bool      `json:"connected"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SaveCredentialRequest submits a new broker credential.
type SaveCredentialRequest struct {
	Broker    string `json:"broker"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// OAuthSession tracks a broker OAuth handshake (Zerodha-style redirect flow).
type OAuthSession struct {
	Broker    string    `json:"broker"`
	LoginURL  string    `json:"login_url,omitempty"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}
