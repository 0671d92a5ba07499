package fitbit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"oximetry-sync/internal/domain"
)

const (
	DefaultBaseURL = "https://api.fitbit.com"
	// DefaultTimeout is generous because the API slows down when it throttles.
	DefaultTimeout = 30 * time.Second
	// DefaultRequestsPerHour is Fitbit's per-user rate limit.
	DefaultRequestsPerHour = 150
)

// Client implements ports.FitbitClient using the Fitbit Web API.
type Client struct {
	baseURL string
	http    *http.Client
	oauth   *OAuthClient
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient builds a client. requestsPerHour <= 0 disables pacing.
func NewClient(baseURL string, timeout time.Duration, requestsPerHour int, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := &http.Client{Timeout: timeout}

	limit := rate.Inf
	if requestsPerHour > 0 {
		limit = rate.Every(time.Hour / time.Duration(requestsPerHour))
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		oauth:   NewOAuthClient(baseURL, httpClient, log),
		limiter: rate.NewLimiter(limit, 10),
		log:     log,
	}
}

// OAuth returns the token endpoint client sharing this client's transport.
func (c *Client) OAuth() *OAuthClient { return c.oauth }

// FetchSpO2 returns intraday SpO2 readings for every day in w.
// GET /1/user/-/spo2/date/{start}/{end}/all.json
//
// A 401 triggers one token refresh and one retry. If the refresh is rejected or the
// retry is rejected again, a *domain.CredentialsError is returned.
func (c *Client) FetchSpO2(ctx context.Context, creds *domain.FitbitCredentials, w domain.Window) ([]domain.DailyRecord, error) {
	if creds == nil || (creds.AccessToken == "" && creds.RefreshToken == "") {
		return nil, &domain.CredentialsError{Source: domain.SourceFitbit, Err: errors.New("no tokens stored")}
	}
	url := fmt.Sprintf("%s/1/user/-/spo2/date/%s/%s/all.json",
		c.baseURL, w.Start.Format(domain.DateLayout), w.End.Format(domain.DateLayout))

	body, err := c.get(ctx, creds.AccessToken, url)
	var httpErr *domain.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized {
		c.log.Info("fitbit rejected access token, refreshing", slog.String("window", w.String()))
		if _, rerr := c.oauth.Refresh(ctx, creds); rerr != nil {
			var exErr *domain.AuthExchangeError
			if errors.As(rerr, &exErr) || creds.RefreshToken == "" {
				return nil, &domain.CredentialsError{Source: domain.SourceFitbit, Err: rerr}
			}
			return nil, fmt.Errorf("fitbit: refresh token: %w", rerr)
		}
		body, err = c.get(ctx, creds.AccessToken, url)
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized {
			return nil, &domain.CredentialsError{Source: domain.SourceFitbit, Err: err}
		}
	}
	if err != nil {
		return nil, err
	}
	return decodeSpO2(body)
}

func (c *Client) get(ctx context.Context, accessToken, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &domain.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return io.ReadAll(resp.Body)
}

// decodeSpO2 accepts both the list returned for date ranges and the single
// object returned for one day. Days without readings are dropped.
func decodeSpO2(body []byte) ([]domain.DailyRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var raw []rawDay
	if body[0] == '{' {
		var one rawDay
		if err := json.Unmarshal(body, &one); err != nil {
			return nil, fmt.Errorf("fitbit: decode spo2: %w", err)
		}
		raw = append(raw, one)
	} else if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("fitbit: decode spo2: %w", err)
	}

	out := make([]domain.DailyRecord, 0, len(raw))
	for _, d := range raw {
		if len(d.Minutes) == 0 {
			continue
		}
		rec := domain.DailyRecord{Date: d.DateTime, Minutes: make([]domain.MinuteReading, 0, len(d.Minutes))}
		for _, m := range d.Minutes {
			rec.Minutes = append(rec.Minutes, domain.MinuteReading{Minute: m.Minute, Value: m.Value})
		}
		out = append(out, rec)
	}
	return out, nil
}

// rawDay mirrors one element of the intraday SpO2 response:
//
//	{"dateTime": "2024-10-06", "minutes": [{"value": 98.6, "minute": "2024-10-05T23:03:34"}]}
type rawDay struct {
	DateTime string `json:"dateTime"`
	Minutes  []struct {
		Value  float64 `json:"value"`
		Minute string  `json:"minute"`
	} `json:"minutes"`
}
