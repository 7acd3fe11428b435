package token

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/jsonutil"
)

const (
	// Social 认证方式的刷新端点
	kiroRefreshTokenURL = "https://prod.us-east-1.auth.desktop.kiro.dev/refreshToken"

	// IdC (Identity Center) 认证方式的刷新端点
	kiroIdcRefreshTokenURL = "https://oidc.us-east-1.amazonaws.com/token"
)

// kiroRefreshRequest Social 认证方式的刷新请求
type kiroRefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// kiroIdcRefreshRequest IdC 认证方式的刷新请求
type kiroIdcRefreshRequest struct {
	ClientId     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	GrantType    string `json:"grantType"`
	RefreshToken string `json:"refreshToken"`
}

// kiroRefreshResponse Token 刷新响应
type kiroRefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	ExpiresIn    int    `json:"expiresIn"`
	RefreshToken string `json:"refreshToken,omitempty"`

	// Social 认证方式专用字段
	ProfileArn string `json:"profileArn,omitempty"`

	// IdC 认证方式专用字段
	TokenType string `json:"tokenType,omitempty"`
}

// KiroRefresher refreshes Kiro/CodeWhisperer access tokens via the
// social or IdC flow depending on the credential's auth method.
type KiroRefresher struct {
	// HTTPClient overrides the shared client, for tests
	HTTPClient *http.Client
}

func (r *KiroRefresher) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return sharedHTTPClient
}

func (r *KiroRefresher) Refresh(ctx context.Context, cred *domain.Credential) (*domain.CachedToken, error) {
	sec, err := loadSecret(cred)
	if err != nil {
		return nil, err
	}

	var result *kiroRefreshResponse
	switch sec.AuthMethod {
	case "idc":
		result, err = r.refreshIdC(ctx, sec)
	default:
		result, err = r.refreshSocial(ctx, sec.RefreshToken)
	}
	if err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing accessToken")
	}

	expiresAt := expiryFrom(result.AccessToken, result.ExpiresIn)
	persistRotatedToken(sec, result.AccessToken, result.RefreshToken, expiresAt)

	return &domain.CachedToken{
		Bearer:    result.AccessToken,
		ExpiresAt: expiresAt,
	}, nil
}

func (r *KiroRefresher) refreshSocial(ctx context.Context, refreshToken string) (*kiroRefreshResponse, error) {
	reqBody, err := jsonutil.FastMarshal(kiroRefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", kiroRefreshTokenURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("refresh failed: status %d, response: %s", resp.StatusCode, string(body))
	}

	var result kiroRefreshResponse
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if err := jsonutil.FastUnmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

func (r *KiroRefresher) refreshIdC(ctx context.Context, sec *domain.OAuthSecret) (*kiroRefreshResponse, error) {
	reqBody, err := jsonutil.FastMarshal(kiroIdcRefreshRequest{
		ClientId:     sec.ClientID,
		ClientSecret: sec.ClientSecret,
		GrantType:    "refresh_token",
		RefreshToken: sec.RefreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal IdC request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", kiroIdcRefreshTokenURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create IdC request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Host", "oidc.us-east-1.amazonaws.com")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("x-amz-user-agent", "aws-sdk-js/3.738.0 ua/2.1 os/other lang/js md/browser#unknown_unknown api/sso-oidc#3.738.0 m/E KiroIDE")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "*")
	req.Header.Set("sec-fetch-mode", "cors")
	req.Header.Set("User-Agent", "node")
	req.Header.Set("Accept-Encoding", "br, gzip, deflate")

	resp, err := r.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("IdC request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("IdC refresh failed: status %d, response: %s", resp.StatusCode, string(body))
	}

	var result kiroRefreshResponse
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read IdC response: %w", err)
	}
	if err := jsonutil.FastUnmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode IdC response: %w", err)
	}
	return &result, nil
}

// sharedHTTPClient 共享的刷新用 HTTP 客户端
var sharedHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}
