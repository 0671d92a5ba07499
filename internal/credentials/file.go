package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"oximetry-sync/internal/domain"
)

// File implements ports.CredentialStore on top of a single JSON file.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

// Load decodes the file into v. A missing file yields an error matching os.ErrNotExist.
func (f *File) Load(v domain.Credentials) error {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return &domain.CredentialsError{Source: v.Source(), Err: errors.New("credentials file is empty")}
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", f.path, err)
	}
	return nil
}

// Save replaces the file with the encoded record. The new content is written to a
// temp file in the same directory and renamed over the old one, so readers see
// either the previous record or the new one.
func (f *File) Save(v domain.Credentials) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}
