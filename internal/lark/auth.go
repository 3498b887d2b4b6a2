package lark

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"bitable-report/internal/domain"
)

const (
	appTokenPath     = "/open-apis/auth/v3/app_access_token/internal"
	userTokenPath    = "/open-apis/authen/v1/access_token"
	refreshTokenPath = "/open-apis/authen/v1/refresh_access_token"

	// DefaultAuthorizeURL is the user consent page.
	DefaultAuthorizeURL = "https://accounts.larksuite.com/open-apis/authen/v1/authorize"
)

var _ domain.AuthGateway = (*AuthClient)(nil)

// AuthClient exchanges and refreshes user access tokens.
type AuthClient struct {
	*Client
	oauth *oauth2.Config

	mu          sync.Mutex
	appToken    string
	appTokenExp time.Time
}

// NewAuthClient creates an AuthClient. authorizeURL and redirectURL are used
// only to build the consent redirect.
func NewAuthClient(c *Client, authorizeURL, redirectURL string) *AuthClient {
	if authorizeURL == "" {
		authorizeURL = DefaultAuthorizeURL
	}
	return &AuthClient{
		Client: c,
		oauth: &oauth2.Config{
			ClientID:     c.appID,
			ClientSecret: c.appSecret,
			RedirectURL:  redirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authorizeURL,
				TokenURL: c.baseURL + userTokenPath,
			},
		},
	}
}

// AuthCodeURL returns the consent page URL carrying state.
func (a *AuthClient) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("app_id", a.appID))
}

type userTokenData struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

func (d *userTokenData) grant() *domain.TokenGrant {
	return &domain.TokenGrant{
		AccessToken:      d.AccessToken,
		RefreshToken:     d.RefreshToken,
		TokenType:        d.TokenType,
		ExpiresIn:        time.Duration(d.ExpiresIn) * time.Second,
		RefreshExpiresIn: time.Duration(d.RefreshExpiresIn) * time.Second,
	}
}

// ExchangeCode trades an authorization code for a user token. The call is
// authenticated with the app access token.
func (a *AuthClient) ExchangeCode(ctx context.Context, code string) (*domain.TokenGrant, error) {
	appToken, err := a.appAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req := map[string]string{"grant_type": "authorization_code", "code": code}
	var data userTokenData
	if err := a.call(ctx, "exchange code", http.MethodPost, userTokenPath, nil, appToken, req, &data, false); err != nil {
		return nil, err
	}
	return data.grant(), nil
}

// Refresh trades a refresh token for a new user token.
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
	req := map[string]string{
		"app_id":        a.appID,
		"app_secret":    a.appSecret,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}
	var data userTokenData
	if err := a.call(ctx, "refresh token", http.MethodPost, refreshTokenPath, nil, "", req, &data, false); err != nil {
		return nil, err
	}
	return data.grant(), nil
}

type appTokenResp struct {
	AppAccessToken string `json:"app_access_token"`
	Expire         int64  `json:"expire"`
}

// appAccessToken returns the cached app token, fetching a new one when it is
// within five minutes of expiry.
func (a *AuthClient) appAccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.appToken != "" && time.Until(a.appTokenExp) > 5*time.Minute {
		return a.appToken, nil
	}

	req := map[string]string{"app_id": a.appID, "app_secret": a.appSecret}
	var resp appTokenResp
	if err := a.call(ctx, "app access token", http.MethodPost, appTokenPath, nil, "", req, &resp, true); err != nil {
		return "", err
	}
	if resp.AppAccessToken == "" {
		return "", fmt.Errorf("app access token: empty token in response")
	}
	a.appToken = resp.AppAccessToken
	a.appTokenExp = time.Now().Add(time.Duration(resp.Expire) * time.Second)
	return a.appToken, nil
}
