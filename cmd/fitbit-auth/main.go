// Command fitbit-auth exchanges a Fitbit authorization code for tokens and
// writes the credential record used by oximetry-sync.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"oximetry-sync/internal/adapter/fitbit"
	"oximetry-sync/internal/credentials"
	"oximetry-sync/internal/domain"
)

func main() {
	clientID := flag.String("client-id", "", "Fitbit OAuth2 client id")
	clientSecret := flag.String("client-secret", "", "Fitbit OAuth2 client secret")
	code := flag.String("code", "", "Authorization code from the redirect")
	redirectURI := flag.String("redirect-uri", "", "Redirect URI registered for the app")
	baseURL := flag.String("api-url", fitbit.DefaultBaseURL, "Fitbit API base URL")
	out := flag.String("out", filepath.Join(envOr("INSTANCE_DIR", "./instance"), "fitbit.json"), "Credential file to write")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if *clientID == "" || *clientSecret == "" || *code == "" || *redirectURI == "" {
		logger.Error("-client-id, -client-secret, -code and -redirect-uri are required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	oauth := fitbit.NewOAuthClient(*baseURL, &http.Client{Timeout: fitbit.DefaultTimeout}, logger)
	access, refresh, err := oauth.ExchangeCode(ctx, *code, *clientID, *clientSecret, *redirectURI)
	if err != nil {
		logger.Error("code exchange failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	creds := &domain.FitbitCredentials{ClientID: *clientID, ClientSecret: *clientSecret}
	creds.SetTokens(access, refresh)
	if err := credentials.NewFile(*out).Save(creds); err != nil {
		logger.Error("failed to write credentials", slog.String("path", *out), slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("fitbit credentials saved", slog.String("path", *out))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
