package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"oximetry-sync/internal/domain"
)

const (
	DefaultFolder  = "SpO2"
	DefaultTimeout = 30 * time.Second
	pageSize       = 100
	folderMimeType = "application/vnd.google-apps.folder"
)

// File is the subset of Drive file metadata the adapter needs.
type File struct {
	ID           string
	Name         string
	ModifiedTime string
}

// FileService is the part of the Drive API used to find and download exports.
type FileService interface {
	// FindFolder returns the id of the folder with exactly this name, or a
	// *domain.SourceNotFoundError.
	FindFolder(ctx context.Context, name string) (string, error)
	// ListCSV returns every CSV file in the folder, modified after since when set.
	ListCSV(ctx context.Context, folderID string, since *time.Time) ([]File, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// Opener builds a FileService on top of an authorized HTTP client.
type Opener func(ctx context.Context, hc *http.Client) (FileService, error)

// Client implements ports.DriveSource for EMAY oximeter CSV exports.
type Client struct {
	folder   string
	loc      *time.Location
	timeout  time.Duration
	endpoint string
	base     *http.Client
	open     Opener
	log      *slog.Logger
}

type Option func(*Client)

// WithEndpoint points the Drive service at a different base URL.
func WithEndpoint(url string) Option { return func(c *Client) { c.endpoint = url } }

// WithOpener replaces the Drive API service.
func WithOpener(o Opener) Option { return func(c *Client) { c.open = o } }

// WithHTTPClient sets the client used for token refreshes and as the base transport.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.base = hc } }

func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

func NewClient(folder string, loc *time.Location, log *slog.Logger, opts ...Option) *Client {
	if folder == "" {
		folder = DefaultFolder
	}
	if loc == nil {
		loc = time.UTC
	}
	c := &Client{folder: folder, loc: loc, timeout: DefaultTimeout, log: log}
	for _, opt := range opts {
		opt(c)
	}
	if c.base == nil {
		c.base = &http.Client{Timeout: c.timeout}
	}
	if c.open == nil {
		c.open = c.openDrive
	}
	return c
}

// Fetch reads every CSV export modified after since and returns the parsed
// measurements. Token refreshes are written back into creds before returning.
func (c *Client) Fetch(ctx context.Context, creds *domain.DriveCredentials, since *time.Time) ([]domain.Measurement, error) {
	if creds == nil || (creds.AccessToken == "" && creds.RefreshToken == "") {
		return nil, &domain.CredentialsError{Source: domain.SourceEMAY, Err: errors.New("no tokens stored")}
	}
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, c.base)
	ts := newTrackingSource(tokenCtx, creds)
	defer ts.apply(creds)

	out, err := c.fetch(ctx, tokenCtx, ts, since)
	if isUnauthorized(err) {
		c.log.Info("drive rejected access token, refreshing")
		ts.expire()
		out, err = c.fetch(ctx, tokenCtx, ts, since)
		if isUnauthorized(err) {
			return nil, &domain.CredentialsError{Source: domain.SourceEMAY, Err: err}
		}
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return nil, &domain.CredentialsError{Source: domain.SourceEMAY, Err: err}
	}
	return out, err
}

func (c *Client) fetch(ctx, tokenCtx context.Context, ts oauth2.TokenSource, since *time.Time) ([]domain.Measurement, error) {
	hc := oauth2.NewClient(tokenCtx, ts)
	hc.Timeout = c.timeout
	files, err := c.open(ctx, hc)
	if err != nil {
		return nil, err
	}

	folderID, err := files.FindFolder(ctx, c.folder)
	if err != nil {
		return nil, err
	}
	list, err := files.ListCSV(ctx, folderID, since)
	if err != nil {
		return nil, err
	}
	c.log.Info("found oximeter exports", slog.Int("files", len(list)))

	var out []domain.Measurement
	for _, f := range list {
		data, err := files.Download(ctx, f.ID)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", f.Name, err)
		}
		ms, err := parseCSV(data, f.Name, c.loc, c.log)
		if err != nil {
			c.log.Error("skipping unreadable export", slog.String("file", f.Name), slog.String("error", err.Error()))
			continue
		}
		out = append(out, ms...)
	}
	return out, nil
}

func isUnauthorized(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized
}

func (c *Client) openDrive(ctx context.Context, hc *http.Client) (FileService, error) {
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	return &googleFiles{svc: svc}, nil
}

// googleFiles implements FileService with the Drive v3 API.
type googleFiles struct {
	svc *drive.Service
}

func (g *googleFiles) FindFolder(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", quote(name), folderMimeType)
	res, err := g.svc.Files.List().Q(q).Fields("files(id, name)").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(res.Files) == 0 {
		return "", &domain.SourceNotFoundError{Resource: fmt.Sprintf("Google Drive folder %q", name)}
	}
	return res.Files[0].Id, nil
}

func (g *googleFiles) ListCSV(ctx context.Context, folderID string, since *time.Time) ([]File, error) {
	q := fmt.Sprintf("'%s' in parents and name contains '.csv' and trashed = false", quote(folderID))
	if since != nil {
		q += fmt.Sprintf(" and modifiedTime > '%s'", since.UTC().Format(time.RFC3339))
	}
	var out []File
	call := g.svc.Files.List().Q(q).PageSize(pageSize).OrderBy("modifiedTime").
		Fields("nextPageToken, files(id, name, modifiedTime)")
	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			out = append(out, File{ID: f.Id, Name: f.Name, ModifiedTime: f.ModifiedTime})
		}
		return nil
	})
	return out, err
}

func (g *googleFiles) Download(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := g.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// quote escapes a value for use inside a single-quoted Drive query string.
func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
