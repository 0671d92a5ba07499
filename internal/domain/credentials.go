package domain

import "time"

// Credentials is a per-source OAuth2 credential record persisted as JSON.
type Credentials interface {
	Source() string
}

// FitbitCredentials is the record stored in fitbit.json.
type FitbitCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (c *FitbitCredentials) Source() string { return SourceFitbit }

// SetTokens replaces both tokens at once. Providers rotate refresh tokens on
// every refresh, so the pair is only ever updated together.
func (c *FitbitCredentials) SetTokens(access, refresh string) {
	c.AccessToken, c.RefreshToken = access, refresh
}

// DriveCredentials is the record stored in google.json.
type DriveCredentials struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenURI     string     `json:"token_uri"`
	ClientID     string     `json:"client_id"`
	ClientSecret string     `json:"client_secret"`
	Scopes       []string   `json:"scopes"`
	Expiry       *time.Time `json:"expiry,omitempty"`
}

func (c *DriveCredentials) Source() string { return SourceEMAY }
