package drive

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"oximetry-sync/internal/domain"
	"oximetry-sync/internal/observability"
)

// trackingSource refreshes through the record's token endpoint and remembers the
// newest token it handed out so it can be written back to the record.
type trackingSource struct {
	ctx context.Context
	cfg *oauth2.Config

	mu      sync.Mutex
	base    oauth2.TokenSource
	current *oauth2.Token
}

func newTrackingSource(ctx context.Context, creds *domain.DriveCredentials) *trackingSource {
	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: creds.TokenURI},
		Scopes:       creds.Scopes,
	}
	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	}
	if creds.Expiry != nil {
		tok.Expiry = *creds.Expiry
	} else {
		// Without a known expiry the access token may be stale; refresh up front.
		tok.Expiry = time.Unix(1, 0)
	}
	return &trackingSource{ctx: ctx, cfg: cfg, base: cfg.TokenSource(ctx, tok), current: tok}
}

func (s *trackingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.current.AccessToken {
		observability.RecordTokenRefresh(domain.SourceEMAY)
	}
	s.current = tok
	return tok, nil
}

// expire forces the next Token call to refresh, for when the API rejects a token
// that has not reached its expiry yet.
func (s *trackingSource) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	stale := *s.current
	stale.Expiry = time.Unix(1, 0)
	s.base = s.cfg.TokenSource(s.ctx, &stale)
}

// apply copies the newest token into creds in one step. The refresh token is kept
// when the provider did not issue a new one.
func (s *trackingSource) apply(creds *domain.DriveCredentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := s.current
	if tok.AccessToken == "" {
		return
	}
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = creds.RefreshToken
	}
	var expiry *time.Time
	if !tok.Expiry.IsZero() && tok.Expiry.After(time.Unix(1, 0)) {
		e := tok.Expiry.UTC()
		expiry = &e
	}
	creds.AccessToken, creds.RefreshToken, creds.Expiry = tok.AccessToken, refresh, expiry
}
