package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"

	"github.com/malbeclabs/rewards/api/metrics"
	"github.com/malbeclabs/rewards/utils/pkg/retry"
)

const (
	ipfsCacheControl = "public, max-age=31536000, immutable"
	minCIDLength     = 10
	maxProxiedBytes  = 64 << 20
)

var errBodyTooLarge = errors.New("gateway response exceeds size limit")

type IPFSProxyConfig struct {
	Logger *slog.Logger
	// GatewayURL is prepended to the CID as-is, so it normally ends in "/".
	// When empty every request fails with 500.
	GatewayURL string
	HTTPClient *http.Client
	Retry      retry.Config
	// MaxBodyBytes caps the proxied body. Larger responses fail with 500
	// rather than being served truncated.
	MaxBodyBytes int64
}

func (cfg *IPFSProxyConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = maxProxiedBytes
	}
	return nil
}

// IPFSProxy serves GET /api/ipfs/{cid} from the configured gateway. Content
// is addressed by hash, so successful responses are cacheable forever.
type IPFSProxy struct {
	log *slog.Logger
	cfg IPFSProxyConfig
}

func NewIPFSProxy(cfg IPFSProxyConfig) (*IPFSProxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &IPFSProxy{log: cfg.Logger, cfg: cfg}, nil
}

func (p *IPFSProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.cfg.GatewayURL == "" {
		writeError(w, http.StatusInternalServerError, "IPFS gateway URL is not set")
		return
	}

	cid := chi.URLParam(r, "cid")
	if len(cid) < minCIDLength {
		writeError(w, http.StatusBadRequest, "Invalid CID")
		return
	}

	resp, err := p.fetch(r.Context(), p.cfg.GatewayURL+cid)
	if err != nil {
		var se *retry.StatusError
		if errors.As(err, &se) {
			p.log.Warn("ipfs: gateway returned error status", "cid", cid, "status", se.Code)
			writeError(w, se.Code, fmt.Sprintf("IPFS gateway returned %d", se.Code))
			return
		}
		p.log.Error("ipfs: gateway fetch failed", "cid", cid, "error", err)
		if !errors.Is(err, context.Canceled) {
			sentry.CaptureException(err)
		}
		writeError(w, http.StatusInternalServerError, "Failed to fetch from IPFS gateway")
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBodyBytes+1))
	if err == nil && int64(len(body)) > p.cfg.MaxBodyBytes {
		err = fmt.Errorf("%w: more than %d bytes", errBodyTooLarge, p.cfg.MaxBodyBytes)
		sentry.CaptureException(err)
	}
	if err != nil {
		p.log.Error("ipfs: failed to read gateway body", "cid", cid, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch from IPFS gateway")
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", ipfsCacheControl)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		p.log.Debug("ipfs: failed to write response", "cid", cid, "error", err)
	}
}

// fetch retries transport errors and 429/5xx. Any other non-2xx status is
// returned immediately as a *retry.StatusError.
func (p *IPFSProxy) fetch(ctx context.Context, url string) (*http.Response, error) {
	start := time.Now()
	resp, err := retry.DoValue(ctx, p.cfg.Retry, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.cfg.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, &retry.StatusError{Code: resp.StatusCode, URL: url}
		}
		return resp, nil
	})

	status := 0
	var se *retry.StatusError
	switch {
	case err == nil:
		status = resp.StatusCode
	case errors.As(err, &se):
		status = se.Code
	}
	metrics.RecordIPFSUpstream(status, time.Since(start))
	return resp, err
}
