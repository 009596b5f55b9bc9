package gtfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jamespfennell/gtfs"

	"stopboard.transitkit.org/internal/logging"
)

const fetchTimeout = 5 * time.Minute

func isRemoteSource(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// fetchArchive retrieves the schedule archive from an http(s) URL or local
// file path, along with whatever cheap freshness tag the source offers.
func fetchArchive(ctx context.Context, source string) ([]byte, string, error) {
	if !isRemoteSource(source) {
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, "", &FetchError{URL: source, Err: err}
		}
		tag, _ := localTag(source)
		return data, tag, nil
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, "", &FetchError{URL: source, Err: err}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", &FetchError{URL: source, Err: err}
	}
	defer logging.SafeCloseWithLogging(resp.Body, logging.FromContext(ctx), "static_archive_body")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &FetchError{URL: source, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &FetchError{URL: source, Err: err}
	}
	return data, headerTag(resp.Header), nil
}

// RemoteTag checks the source's freshness validator, preferring a cheap HEAD
// request. Sources that reject HEAD or offer no validator fall back to
// fetching the archive and hashing it, so a 405 on HEAD never blocks a
// refresh.
func RemoteTag(ctx context.Context, source string) (string, error) {
	if !isRemoteSource(source) {
		return localTag(source)
	}

	headCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(headCtx, http.MethodHead, source, nil)
	if err != nil {
		return "", &FetchError{URL: source, Err: err}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", &FetchError{URL: source, Err: err}
	}
	logging.SafeCloseWithLogging(resp.Body, logging.FromContext(ctx), "static_head_body")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if tag := headerTag(resp.Header); tag != "" {
			return tag, nil
		}
	}

	data, tag, err := fetchArchive(ctx, source)
	if err != nil {
		return "", err
	}
	if tag != "" {
		return tag, nil
	}
	return contentFingerprint(data), nil
}

func localTag(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", &FetchError{URL: path, Err: err}
	}
	return fmt.Sprintf("%d-%d", info.ModTime().Unix(), info.Size()), nil
}

func headerTag(h http.Header) string {
	if etag := strings.Trim(h.Get("ETag"), `"`); etag != "" {
		return etag
	}
	return h.Get("Last-Modified")
}

// contentFingerprint is the identity of an archive's bytes, independent of
// where or when it was fetched.
func contentFingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Load fetches and parses the static archive and builds a filtered snapshot.
// This is the expensive path; it runs in the rebuild worker, not the server.
func Load(ctx context.Context, cfg Config) (*Snapshot, error) {
	data, remoteTag, err := fetchArchive(ctx, cfg.StaticURL)
	if err != nil {
		return nil, err
	}
	static, err := gtfs.ParseStatic(data, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, &ValidationError{Reason: "parsing static archive", Err: err}
	}
	fingerprint := contentFingerprint(data)
	if remoteTag == "" {
		// No header validator: the content hash doubles as the freshness
		// tag, matching RemoteTag's hash fallback.
		remoteTag = fingerprint
	}
	return BuildSnapshot(static, fingerprint, remoteTag, cfg.CanonicalFilter()), nil
}
