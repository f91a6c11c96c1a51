package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/malbeclabs/rewards/rewards/pkg/ipfs"
	"github.com/malbeclabs/rewards/rewards/pkg/metrics"
)

const (
	ProxyPath = "/api/ipfs/"

	maxManifestBytes = 32 << 20
)

type FetcherConfig struct {
	Logger *slog.Logger
	Cache  *ipfs.Cache
	// BaseURL is the origin serving the IPFS proxy, e.g. http://127.0.0.1:8080.
	BaseURL    string
	HTTPClient *http.Client
	// VerifyContent checks fetched bytes against raw sha2-256 CIDs.
	VerifyContent bool
	// MaxManifestBytes caps a fetched body. Oversized bodies are reported
	// as unavailable instead of being parsed truncated.
	MaxManifestBytes int64
}

func (cfg *FetcherConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Cache == nil {
		return errors.New("cid cache is required")
	}
	if cfg.BaseURL == "" {
		return errors.New("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxManifestBytes <= 0 {
		cfg.MaxManifestBytes = maxManifestBytes
	}
	return nil
}

// Fetcher loads manifests through the IPFS proxy.
type Fetcher struct {
	log *slog.Logger
	cfg FetcherConfig
}

func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Fetcher{log: cfg.Logger, cfg: cfg}, nil
}

// URL returns the proxy URL for cid.
func (f *Fetcher) URL(cid string) string {
	return strings.TrimRight(f.cfg.BaseURL, "/") + ProxyPath + url.PathEscape(f.cfg.Cache.Normalize(cid))
}

// Fetch resolves digestOrCID to a CID and loads the manifest it addresses.
// A missing or unreachable manifest yields a nil manifest and an error
// wrapping ErrManifestUnavailable; callers must not read it as an empty one.
func (f *Fetcher) Fetch(ctx context.Context, digestOrCID string) (*Manifest, error) {
	start := time.Now()
	defer func() {
		metrics.ManifestFetchDuration.Observe(time.Since(start).Seconds())
	}()

	cid, err := f.resolveCID(ctx, digestOrCID)
	if err != nil {
		metrics.ManifestFetchesTotal.WithLabelValues("unavailable").Inc()
		return nil, err
	}

	body, _, err := f.FetchRaw(ctx, cid)
	if err != nil {
		metrics.ManifestFetchesTotal.WithLabelValues("unavailable").Inc()
		return nil, err
	}

	if f.cfg.VerifyContent {
		if err := ipfs.VerifyContent(cid, body); err != nil {
			metrics.ManifestFetchesTotal.WithLabelValues("mismatch").Inc()
			return nil, fmt.Errorf("%w: %w", ErrManifestUnavailable, err)
		}
	}

	m, err := Decode(body)
	if err != nil {
		metrics.ManifestFetchesTotal.WithLabelValues("malformed").Inc()
		return nil, err
	}

	metrics.ManifestFetchesTotal.WithLabelValues("ok").Inc()
	f.log.Debug("manifest: fetched", "cid", cid, "id", m.ID, "entries", len(m.Tree), "duration", time.Since(start).String())
	return m, nil
}

// FetchRaw loads the bytes addressed by cid and returns them with their
// content type.
func (f *Fetcher) FetchRaw(ctx context.Context, cid string) ([]byte, string, error) {
	if cid == "" {
		return nil, "", fmt.Errorf("%w: empty cid", ErrManifestUnavailable)
	}
	u := f.URL(cid)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		f.log.Warn("manifest: fetch failed", "url", u, "error", err)
		return nil, "", fmt.Errorf("%w: %w", ErrManifestUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.log.Warn("manifest: proxy returned error status", "url", u, "status", resp.StatusCode)
		return nil, "", fmt.Errorf("%w: proxy returned %d for %s", ErrManifestUnavailable, resp.StatusCode, cid)
	}

	limit := f.cfg.MaxManifestBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to read body: %w", ErrManifestUnavailable, err)
	}
	if int64(len(body)) > limit {
		f.log.Warn("manifest: body exceeds limit", "url", u, "limit", limit)
		return nil, "", fmt.Errorf("%w: %s exceeds %d bytes", ErrManifestUnavailable, cid, limit)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// resolveCID waits for digest conversions instead of taking the
// best-effort Normalize path, so a fresh digest is never fetched as-is.
func (f *Fetcher) resolveCID(ctx context.Context, digestOrCID string) (string, error) {
	s := strings.TrimSpace(digestOrCID)
	if s == "" {
		return "", fmt.Errorf("%w: empty cid", ErrManifestUnavailable)
	}
	if looksLikeDigest(s) {
		cid, err := f.cfg.Cache.Lookup(ctx, s)
		if err != nil {
			return "", fmt.Errorf("failed to convert digest %s: %w", s, err)
		}
		return cid, nil
	}
	return f.cfg.Cache.Normalize(s), nil
}

func looksLikeDigest(s string) bool {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return len(s) == 66
	}
	return len(s) == 64
}
