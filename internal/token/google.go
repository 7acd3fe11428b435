package token

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/jsonutil"
)

const (
	googleTokenURL = "https://oauth2.googleapis.com/token"

	// Antigravity 桌面端的 OAuth client
	googleOAuthClientID     = "77185425430.apps.googleusercontent.com"
	googleOAuthClientSecret = "OTJgUOQcT7lO7GsGZq2G4IlT"
)

// GoogleRefresher refreshes Antigravity access tokens via the Google
// OAuth refresh_token grant.
type GoogleRefresher struct {
	HTTPClient *http.Client
}

func (r *GoogleRefresher) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return sharedHTTPClient
}

func (r *GoogleRefresher) Refresh(ctx context.Context, cred *domain.Credential) (*domain.CachedToken, error) {
	sec, err := loadSecret(cred)
	if err != nil {
		return nil, err
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", sec.RefreshToken)
	data.Set("client_id", googleOAuthClientID)
	data.Set("client_secret", googleOAuthClientSecret)

	req, err := http.NewRequestWithContext(ctx, "POST", googleTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token refresh failed: %s", string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := jsonutil.SafeUnmarshal(body, &result); err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	return &domain.CachedToken{
		Bearer:    result.AccessToken,
		ExpiresAt: expiryFrom(result.AccessToken, result.ExpiresIn),
	}, nil
}
