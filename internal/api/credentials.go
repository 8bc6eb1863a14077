package api

import (
	"context"
	"net/http"

	"github.com/dash-sync/pkg/models"
)

// Broker-credential management and the Zerodha-style OAuth handshake. The
// backend owns the secrets; these calls only move masked state around.

// ListCredentials fetches all stored broker credentials.
func (c *Client) ListCredentials(ctx context.Context) ([]models.BrokerCredential, error) {
	var out struct {
		Credentials []models.BrokerCredential `json:"credentials"`
	}
	if err := c.request(ctx, http.MethodGet, "/api/v1/credentials", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Credentials, nil
}

// SaveCredential stores a new broker credential.
func (c *Client) SaveCredential(ctx context.Context, req models.SaveCredentialRequest) (*models.BrokerCredential, error) {
	var cred models.BrokerCredential
	if err := c.request(ctx, http.MethodPost, "/api/v1/credentials", nil, req, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// DeleteCredential removes a stored credential.
func (c *Client) DeleteCredential(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/api/v1/credentials/"+id, nil, nil, nil)
}

// InitiateOAuth begins the broker OAuth flow and returns the login URL the
// user must visit.
func (c *Client) InitiateOAuth(ctx context.Context, broker string) (*models.OAuthSession, error) {
	var session models.OAuthSession
	if err := c.request(ctx, http.MethodPost, "/api/v1/oauth/"+broker+"/initiate", nil, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// OAuthStatus reports the current state of the broker OAuth session.
func (c *Client) OAuthStatus(ctx context.Context, broker string) (*models.OAuthSession, error) {
	var session models.OAuthSession
	if err := c.request(ctx, http.MethodGet, "/api/v1/oauth/"+broker+"/status", nil, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RefreshOAuth renews the broker session token before it expires.
func (c *Client) RefreshOAuth(ctx context.Context, broker string) (*models.OAuthSession, error) {
	var session models.OAuthSession
	if err := c.request(ctx, http.MethodPost, "/api/v1/oauth/"+broker+"/refresh", nil, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}
