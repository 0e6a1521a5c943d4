// Package source acquires the raw bytes a worker opens databases from, and
// stores exported databases.
//
// References are URLs. http and https are fetched with GET, s3://bucket/key
// is read with the AWS SDK, and file:// URLs or bare paths are read from the
// local filesystem. Reads report progress as bytes arrive.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomyedwab/sqlviewer/sqlproxy/types"
)

var (
	// ErrUnsupportedScheme is returned for references no reader can handle.
	ErrUnsupportedScheme = errors.New("unsupported source scheme")
	// ErrTooLarge is returned when a database exceeds the size limit.
	ErrTooLarge = errors.New("database exceeds size limit")
	// ErrLocalDisabled is returned for local paths when a Fetcher only
	// reads remote references.
	ErrLocalDisabled = errors.New("local files are disabled")
)

// DefaultMaxSize is the largest database a Fetcher accepts by default.
const DefaultMaxSize = 1 << 30

const (
	defaultHTTPTimeout      = 5 * time.Minute
	defaultProgressInterval = 100 * time.Millisecond

	// Advertised lengths come from the peer, so at most this much is
	// allocated up front.
	maxPrealloc = 4 << 20
)

// ProgressFunc receives progress while a reference is read.
type ProgressFunc func(types.Progress)

// Config holds configuration options for a Fetcher.
type Config struct {
	HTTPClient       *http.Client  // Optional, defaults to a client with HTTPTimeout
	HTTPTimeout      time.Duration // Optional, defaults to 5m
	S3               S3Config
	S3Client         S3API         // Optional, built from S3 on first use
	ProgressInterval time.Duration // Optional, minimum time between progress reports, defaults to 100ms
	MaxSize          int64         // Optional, largest database in bytes, defaults to DefaultMaxSize; negative means no limit
	RemoteOnly       bool          // Refuse local paths and file:// references in Fetch and ReadFile
	Logger           *slog.Logger  // Optional, defaults to slog.Default()
}

// Fetcher reads and writes database bytes by reference.
type Fetcher struct {
	httpClient       *http.Client
	s3Config         S3Config
	s3Client         S3API
	progressInterval time.Duration
	maxSize          int64
	remoteOnly       bool
	logger           *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(config Config) *Fetcher {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.HTTPTimeout
		if timeout == 0 {
			timeout = defaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	interval := config.ProgressInterval
	if interval == 0 {
		interval = defaultProgressInterval
	}
	maxSize := config.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	return &Fetcher{
		httpClient:       httpClient,
		s3Config:         config.S3,
		s3Client:         config.S3Client,
		progressInterval: interval,
		maxSize:          maxSize,
		remoteOnly:       config.RemoteOnly,
		logger:           logger,
	}
}

// scheme represents the scheme of a reference
type scheme string

const (
	schemeFile  scheme = "file"
	schemeS3    scheme = "s3"
	schemeHTTP  scheme = "http"
	schemeHTTPS scheme = "https"
	schemeLocal scheme = "local" // no scheme, local path
)

func detectScheme(ref string) scheme {
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "s3://"):
		return schemeS3
	case strings.HasPrefix(lower, "https://"):
		return schemeHTTPS
	case strings.HasPrefix(lower, "http://"):
		return schemeHTTP
	case strings.HasPrefix(lower, "file://"):
		return schemeFile
	case strings.Contains(ref, "://"):
		return scheme(lower[:strings.Index(lower, "://")])
	default:
		return schemeLocal
	}
}

// Fetch reads the bytes behind ref. progress, if not nil, is called as bytes
// arrive and once more when the read completes; it is never called after
// Fetch returns or after a failure.
func (f *Fetcher) Fetch(ctx context.Context, ref string, progress ProgressFunc) ([]byte, error) {
	body, total, err := f.openReader(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	f.logger.Debug("Fetching database", "ref", ref, "total", total)
	if err := f.checkSize(total); err != nil {
		return nil, err
	}
	return readAll(body, total, f.maxSize, f.progressInterval, progress)
}

func (f *Fetcher) checkSize(n int64) error {
	if f.maxSize >= 0 && n > f.maxSize {
		return fmt.Errorf("%d bytes, limit %d: %w", n, f.maxSize, ErrTooLarge)
	}
	return nil
}

// ReadFile reads a local file without reporting progress.
func (f *Fetcher) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.remoteOnly {
		return nil, ErrLocalDisabled
	}
	file, size, err := openFileReader(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := f.checkSize(size); err != nil {
		return nil, err
	}
	return readAll(file, size, f.maxSize, f.progressInterval, nil)
}

// Store writes data to ref. Only local paths, file:// and s3:// references
// are writable.
func (f *Fetcher) Store(ctx context.Context, ref string, data []byte) error {
	switch s := detectScheme(ref); s {
	case schemeLocal, schemeFile:
		path := strings.TrimPrefix(ref, "file://")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}
		return nil
	case schemeS3:
		return f.putS3Object(ctx, ref, data)
	case schemeHTTP, schemeHTTPS:
		return fmt.Errorf("%s does not support writing: %w", s, ErrUnsupportedScheme)
	default:
		return fmt.Errorf("%s: %w", s, ErrUnsupportedScheme)
	}
}

func (f *Fetcher) openReader(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	switch s := detectScheme(ref); s {
	case schemeLocal, schemeFile:
		if f.remoteOnly {
			return nil, 0, ErrLocalDisabled
		}
		return openFileReader(strings.TrimPrefix(ref, "file://"))
	case schemeHTTP, schemeHTTPS:
		return f.openHTTPReader(ctx, ref)
	case schemeS3:
		return f.openS3Reader(ctx, ref)
	default:
		return nil, 0, fmt.Errorf("%s: %w", s, ErrUnsupportedScheme)
	}
}

func openFileReader(path string) (io.ReadCloser, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("failed to stat file: %w", err)
	}
	return file, info.Size(), nil
}

func (f *Fetcher) openHTTPReader(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("HTTP request returned status %d", resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// readAll reads r to the end, reporting progress at most once per interval
// plus a final report. total is -1 when unknown and is only a sizing hint.
// Reading fails with ErrTooLarge once more than limit bytes arrive; a
// negative limit means none.
func readAll(r io.Reader, total, limit int64, interval time.Duration, progress ProgressFunc) ([]byte, error) {
	capacity := int64(64 * 1024)
	if total > 0 {
		capacity = min(total, maxPrealloc)
	}
	buf := make([]byte, 0, capacity)
	throttle := rate.Sometimes{Interval: interval}
	chunk := make([]byte, 32*1024)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if limit >= 0 && int64(len(buf)) > limit {
				return nil, fmt.Errorf("read more than %d bytes: %w", limit, ErrTooLarge)
			}
			if progress != nil {
				loaded := int64(len(buf))
				throttle.Do(func() {
					progress(types.Progress{Loaded: loaded, Total: total})
				})
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
	}

	if progress != nil {
		loaded := int64(len(buf))
		final := total
		if final < 0 {
			final = loaded
		}
		progress(types.Progress{Loaded: loaded, Total: final})
	}
	return buf, nil
}
