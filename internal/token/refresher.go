package token

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/awsl-project/relay/internal/domain"
	"github.com/awsl-project/relay/internal/jsonutil"
	"github.com/golang-jwt/jwt/v5"
)

// Refresher exchanges a credential's refresh material for a fresh bearer.
type Refresher interface {
	Refresh(ctx context.Context, cred *domain.Credential) (*domain.CachedToken, error)
}

func defaultRefreshers() map[domain.ProviderKind]Refresher {
	return map[domain.ProviderKind]Refresher{
		domain.ProviderKindKiro:        &KiroRefresher{},
		domain.ProviderKindAntigravity: &GoogleRefresher{},
	}
}

// credentialFile 是 OAuth 凭证文件在磁盘上的形态
type credentialFile struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	AuthMethod   string `json:"authMethod,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	ProfileArn   string `json:"profileArn,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
}

// loadSecret merges the on-disk credential file (if any) over the stored
// secret. Reading the file on every refresh picks up refresh tokens
// rotated by an external login flow.
func loadSecret(cred *domain.Credential) (*domain.OAuthSecret, error) {
	if cred.Secret == nil || cred.Secret.OAuth == nil {
		return nil, fmt.Errorf("credential %s has no OAuth secret", cred.UUID)
	}
	sec := *cred.Secret.OAuth

	if sec.FilePath != "" {
		data, err := os.ReadFile(sec.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read credential file: %w", err)
		}
		var f credentialFile
		if err := jsonutil.SafeUnmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse credential file: %w", err)
		}
		if f.AccessToken != "" {
			sec.AccessToken = f.AccessToken
		}
		if f.RefreshToken != "" {
			sec.RefreshToken = f.RefreshToken
		}
		if f.AuthMethod != "" {
			sec.AuthMethod = f.AuthMethod
		}
		if f.ClientID != "" {
			sec.ClientID = f.ClientID
		}
		if f.ClientSecret != "" {
			sec.ClientSecret = f.ClientSecret
		}
		if f.ProfileArn != "" {
			sec.ProfileARN = f.ProfileArn
		}
		if f.ProjectID != "" {
			sec.ProjectID = f.ProjectID
		}
	}

	if sec.RefreshToken == "" {
		return nil, fmt.Errorf("credential %s has no refresh token", cred.UUID)
	}
	return &sec, nil
}

// persistRotatedToken writes a rotated refresh token back to the
// credential file. Best-effort: the refreshed bearer is already usable.
func persistRotatedToken(sec *domain.OAuthSecret, accessToken, refreshToken string, expiresAt time.Time) {
	if sec.FilePath == "" || refreshToken == "" || refreshToken == sec.RefreshToken {
		return
	}
	f := credentialFile{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AuthMethod:   sec.AuthMethod,
		ClientID:     sec.ClientID,
		ClientSecret: sec.ClientSecret,
		ProfileArn:   sec.ProfileARN,
		ProjectID:    sec.ProjectID,
		ExpiresAt:    expiresAt.Format(time.RFC3339),
	}
	data, err := jsonutil.MarshalIndent(f, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(sec.FilePath, data, 0o600)
}

// expiryFrom derives the token expiry: the upstream expiresIn when
// present, otherwise the JWT exp claim, otherwise a conservative hour.
func expiryFrom(bearer string, expiresIn int) time.Time {
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	if exp, ok := jwtExpiry(bearer); ok {
		return exp
	}
	return time.Now().Add(time.Hour)
}

// jwtExpiry parses the exp claim without verifying the signature. The
// token came straight from the vendor's token endpoint; only the
// timestamp matters here.
func jwtExpiry(bearer string) (time.Time, bool) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(bearer, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
