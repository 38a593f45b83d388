// Package artifact makes sure large runtime files (server binaries, model weights) exist
// locally with a pinned SHA-256 checksum, downloading them when they do not.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrChecksumMismatch is matched by every *ChecksumMismatchError.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ChecksumMismatchError reports a downloaded file whose digest differs from the pinned one.
// The file has already been removed when this error is returned.
type ChecksumMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Is(target error) bool { return target == ErrChecksumMismatch }

// DownloadError reports a non-2xx response from the artifact server.
type DownloadError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s failed: %s", e.URL, e.Status)
}

// Artifact pins a remote file to a local path and checksum.
type Artifact struct {
	URL    string
	Path   string
	SHA256 string // lowercase or uppercase hex
}

// Ensurer is the contract consumers depend on.
type Ensurer interface {
	Ensure(ctx context.Context, a Artifact) error
}

// Provisioner downloads and verifies artifacts. It performs no retries: a failed
// download surfaces to the caller, and calling Ensure again is safe.
type Provisioner struct {
	client *http.Client
	logger zerolog.Logger
}

// NewProvisioner creates a provisioner. A nil client uses a client without an overall
// timeout, since model weights can take a long time to transfer.
func NewProvisioner(client *http.Client, logger zerolog.Logger) *Provisioner {
	if client == nil {
		client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSHandshakeTimeout:   30 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
		}}
	}
	return &Provisioner{
		client: client,
		logger: logger.With().Str("component", "artifact").Logger(),
	}
}

// Ensure returns immediately, without network access, when a.Path already holds a file
// with the expected checksum. Otherwise it replaces the file with a fresh, verified
// download.
func (p *Provisioner) Ensure(ctx context.Context, a Artifact) error {
	if a.URL == "" || a.Path == "" || a.SHA256 == "" {
		return fmt.Errorf("artifact requires url, path and sha256 (url=%q path=%q)", a.URL, a.Path)
	}
	expected := strings.ToLower(a.SHA256)

	actual, err := FileSHA256(a.Path)
	switch {
	case err == nil && actual == expected:
		p.logger.Debug().Str("path", a.Path).Msg("artifact present with matching checksum, skipping download")
		return nil
	case err == nil:
		p.logger.Warn().Str("path", a.Path).Str("expected", expected).Str("actual", actual).
			Msg("artifact checksum mismatch, re-downloading")
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale artifact %s: %w", a.Path, err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to hash existing artifact %s: %w", a.Path, err)
	}

	return p.download(ctx, a, expected)
}

func (p *Provisioner) download(ctx context.Context, a Artifact, expected string) error {
	if err := os.MkdirAll(filepath.Dir(a.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	start := time.Now()
	p.logger.Info().Str("url", a.URL).Str("path", a.Path).Msg("downloading artifact")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", a.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DownloadError{URL: a.URL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	partial := a.Path + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", partial, err)
	}

	// Hash while writing so the file is read only once.
	h := sha256.New()
	n, copyErr := io.Copy(io.MultiWriter(f, h), resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(partial)
		if copyErr != nil {
			return fmt.Errorf("download %s: %w", a.URL, copyErr)
		}
		return fmt.Errorf("failed to flush %s: %w", partial, closeErr)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if actual != expected {
		os.Remove(partial)
		p.logger.Error().Str("path", a.Path).Str("expected", expected).Str("actual", actual).
			Msg("downloaded artifact failed checksum verification")
		return &ChecksumMismatchError{Path: a.Path, Expected: expected, Actual: actual}
	}

	if err := os.Rename(partial, a.Path); err != nil {
		os.Remove(partial)
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}

	p.logger.Info().Str("path", a.Path).Int64("bytes", n).Dur("duration", time.Since(start)).
		Msg("artifact downloaded and verified")
	return nil
}

// FileSHA256 returns the hex SHA-256 of the file at path, streaming its content.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var _ Ensurer = (*Provisioner)(nil)
