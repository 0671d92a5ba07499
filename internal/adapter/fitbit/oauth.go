package fitbit

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"oximetry-sync/internal/domain"
	"oximetry-sync/internal/observability"
)

// OAuthClient talks to the Fitbit authorization server.
// https://dev.fitbit.com/build/reference/web-api/authorization/
type OAuthClient struct {
	tokenURL string
	http     *http.Client
	log      *slog.Logger
}

func NewOAuthClient(baseURL string, httpClient *http.Client, log *slog.Logger) *OAuthClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OAuthClient{
		tokenURL: strings.TrimRight(baseURL, "/") + "/oauth2/token",
		http:     httpClient,
		log:      log,
	}
}

// ExchangeCode trades an authorization code for an access and refresh token.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code, clientID, clientSecret, redirectURI string) (access, refresh string, err error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", redirectURI)
	tok, err := c.post(ctx, clientID, clientSecret, form)
	if err != nil {
		return "", "", err
	}
	return tok.AccessToken, tok.RefreshToken, nil
}

// Refresh exchanges the stored refresh token for a new token pair. On success both
// tokens in creds are replaced and the new access token is returned; on failure
// creds is left untouched.
func (c *OAuthClient) Refresh(ctx context.Context, creds *domain.FitbitCredentials) (string, error) {
	if creds.RefreshToken == "" {
		return "", errors.New("fitbit: no refresh token stored")
	}
	form := url.Values{}
	form.Set("refresh_token", creds.RefreshToken)
	form.Set("grant_type", "refresh_token")
	tok, err := c.post(ctx, creds.ClientID, creds.ClientSecret, form)
	if err != nil {
		return "", err
	}
	creds.SetTokens(tok.AccessToken, tok.RefreshToken)
	observability.RecordTokenRefresh(domain.SourceFitbit)
	c.log.Info("fitbit access token refreshed")
	return tok.AccessToken, nil
}

func (c *OAuthClient) post(ctx context.Context, clientID, clientSecret string, form url.Values) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("Authorization", "Basic "+basicAuth(clientID, clientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return tokenResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return tokenResponse{}, &domain.AuthExchangeError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return tokenResponse{}, fmt.Errorf("fitbit: decode token response: %w", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return tokenResponse{}, &domain.AuthExchangeError{StatusCode: resp.StatusCode, Body: "token response is missing access_token or refresh_token"}
	}
	return tok, nil
}

// basicAuth encodes client_id:client_secret without URL-escaping either part.
func basicAuth(clientID, clientSecret string) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%s", clientID, clientSecret)))
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	UserID       string `json:"user_id"`
}
