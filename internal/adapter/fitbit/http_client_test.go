package fitbit

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oximetry-sync/internal/domain"
)

const spo2Body = `[{"dateTime":"2024-10-06","minutes":[{"value":98.6,"minute":"2024-10-05T23:03:34"},{"value":97.1,"minute":"2024-10-05T23:04:34"}]},` +
	`{"dateTime":"2024-10-07","minutes":[]}]`

type fakeFitbit struct {
	srv           *httptest.Server
	resourceCalls atomic.Int32
	refreshCalls  atomic.Int32
	// resource returns the status for the n-th resource call (1-based) and the bearer it saw.
	resource func(n int32, bearer string) int
	refresh  func(w http.ResponseWriter, r *http.Request)
	lastPath atomic.Value
}

func newFakeFitbit(t *testing.T) *fakeFitbit {
	f := &fakeFitbit{}
	mux := http.NewServeMux()
	mux.HandleFunc("/1/user/-/spo2/date/", func(w http.ResponseWriter, r *http.Request) {
		n := f.resourceCalls.Add(1)
		f.lastPath.Store(r.URL.Path)
		status := f.resource(n, r.Header.Get("Authorization"))
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"errors":[{"errorType":"expired_token"}]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(spo2Body))
	})
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		f.refresh(w, r)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func window() domain.Window {
	return domain.Window{
		Start: time.Date(2024, 10, 6, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 10, 7, 0, 0, 0, 0, time.UTC),
	}
}

func TestFetchSpO2DecodesAndDropsEmptyDays(t *testing.T) {
	f := newFakeFitbit(t)
	f.resource = func(int32, string) int { return http.StatusOK }

	c := NewClient(f.srv.URL, time.Second, 0, testLogger())
	creds := &domain.FitbitCredentials{AccessToken: "a1", RefreshToken: "r1"}
	recs, err := c.FetchSpO2(context.Background(), creds, window())
	require.NoError(t, err)
	require.Equal(t, "/1/user/-/spo2/date/2024-10-06/2024-10-07/all.json", f.lastPath.Load())
	require.Len(t, recs, 1)
	require.Equal(t, "2024-10-06", recs[0].Date)
	require.Equal(t, []domain.MinuteReading{
		{Minute: "2024-10-05T23:03:34", Value: 98.6},
		{Minute: "2024-10-05T23:04:34", Value: 97.1},
	}, recs[0].Minutes)
	require.Zero(t, f.refreshCalls.Load())
}

func TestFetchSpO2RefreshesOnceOn401(t *testing.T) {
	f := newFakeFitbit(t)
	f.resource = func(n int32, bearer string) int {
		if bearer == "Bearer a2" {
			return http.StatusOK
		}
		return http.StatusUnauthorized
	}
	f.refresh = func(w http.ResponseWriter, r *http.Request) {
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("client:s3cr3t"))
		if r.Header.Get("Authorization") != want {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "r1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"a2","refresh_token":"r2","token_type":"Bearer","expires_in":28800}`))
	}

	c := NewClient(f.srv.URL, time.Second, 0, testLogger())
	creds := &domain.FitbitCredentials{ClientID: "client", ClientSecret: "s3cr3t", AccessToken: "a1", RefreshToken: "r1"}
	recs, err := c.FetchSpO2(context.Background(), creds, window())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, int32(1), f.refreshCalls.Load())
	require.Equal(t, int32(2), f.resourceCalls.Load())
	require.Equal(t, "a2", creds.AccessToken)
	require.Equal(t, "r2", creds.RefreshToken)
}

func TestFetchSpO2RefreshRejected(t *testing.T) {
	f := newFakeFitbit(t)
	f.resource = func(int32, string) int { return http.StatusUnauthorized }
	f.refresh = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"errorType":"invalid_grant"}],"success":false}`))
	}

	c := NewClient(f.srv.URL, time.Second, 0, testLogger())
	creds := &domain.FitbitCredentials{ClientID: "client", ClientSecret: "s", AccessToken: "a1", RefreshToken: "r1"}
	_, err := c.FetchSpO2(context.Background(), creds, window())

	var credErr *domain.CredentialsError
	require.ErrorAs(t, err, &credErr)
	var exErr *domain.AuthExchangeError
	require.ErrorAs(t, err, &exErr)
	require.Equal(t, http.StatusUnauthorized, exErr.StatusCode)
	require.Contains(t, exErr.Body, "invalid_grant")
	require.Equal(t, int32(1), f.resourceCalls.Load())
	require.Equal(t, "a1", creds.AccessToken)
	require.Equal(t, "r1", creds.RefreshToken)
}

func TestFetchSpO2SecondUnauthorizedIsFatal(t *testing.T) {
	f := newFakeFitbit(t)
	f.resource = func(int32, string) int { return http.StatusUnauthorized }
	f.refresh = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"a2","refresh_token":"r2"}`))
	}

	c := NewClient(f.srv.URL, time.Second, 0, testLogger())
	creds := &domain.FitbitCredentials{AccessToken: "a1", RefreshToken: "r1"}
	_, err := c.FetchSpO2(context.Background(), creds, window())

	var credErr *domain.CredentialsError
	require.ErrorAs(t, err, &credErr)
	require.Equal(t, int32(2), f.resourceCalls.Load())
	require.Equal(t, int32(1), f.refreshCalls.Load())
	require.Equal(t, "r2", creds.RefreshToken)
}

func TestFetchSpO2OtherErrorsAreNotRetried(t *testing.T) {
	f := newFakeFitbit(t)
	f.resource = func(int32, string) int { return http.StatusTooManyRequests }

	c := NewClient(f.srv.URL, time.Second, 0, testLogger())
	_, err := c.FetchSpO2(context.Background(), &domain.FitbitCredentials{AccessToken: "a1"}, window())

	var httpErr *domain.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	require.Contains(t, httpErr.Body, "expired_token")
	require.Equal(t, int32(1), f.resourceCalls.Load())
	require.Zero(t, f.refreshCalls.Load())
}

func TestFetchSpO2WithoutCredentials(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", time.Second, 0, testLogger())
	_, err := c.FetchSpO2(context.Background(), nil, window())
	var credErr *domain.CredentialsError
	require.ErrorAs(t, err, &credErr)

	_, err = c.FetchSpO2(context.Background(), &domain.FitbitCredentials{}, window())
	require.ErrorAs(t, err, &credErr)
}

func TestFetchSpO2Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 50*time.Millisecond, 0, testLogger())
	_, err := c.FetchSpO2(context.Background(), &domain.FitbitCredentials{AccessToken: "a"}, window())
	require.Error(t, err)
	var credErr *domain.CredentialsError
	require.False(t, errors.As(err, &credErr))
}

func TestDecodeSingleDayObject(t *testing.T) {
	recs, err := decodeSpO2([]byte(`{"dateTime":"2024-10-06","minutes":[{"value":95,"minute":"2024-10-06T01:00:00"}]}`))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	recs, err = decodeSpO2([]byte(`[]`))
	require.NoError(t, err)
	require.Empty(t, recs)

	_, err = decodeSpO2([]byte(`<html>`))
	require.Error(t, err)
}

func TestRateLimiterPacesRequests(t *testing.T) {
	c := NewClient("http://example.invalid", time.Second, 3600, testLogger())
	require.InDelta(t, 1.0, float64(c.limiter.Limit()), 1e-9)

	unlimited := NewClient("http://example.invalid", time.Second, 0, testLogger())
	require.True(t, unlimited.limiter.Limit() > 1e9)
}
