package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/malbeclabs/rewards/api/handlers"
)

// View is the background state the server starts and reports readiness for.
type View interface {
	Start(ctx context.Context)
	Ready() bool
}

type Config struct {
	Logger            *slog.Logger
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       handlers.VersionInfo
	PublicConfig      handlers.PublicConfig

	View      View
	Rewards   *handlers.Rewards
	IPFSProxy *handlers.IPFSProxy

	// CORSOrigins lists allowed origins for the JSON API. Empty allows all.
	CORSOrigins []string
	// Per-IP limits for the proxy and read endpoints, and for claim relays.
	RateLimit      rate.Limit
	RateBurst      int
	ClaimRateLimit rate.Limit
	ClaimRateBurst int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.View == nil {
		return errors.New("view is required")
	}
	if cfg.Rewards == nil {
		return errors.New("rewards handlers are required")
	}
	if cfg.IPFSProxy == nil {
		return errors.New("ipfs proxy is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = rate.Every(time.Minute / 300)
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 60
	}
	if cfg.ClaimRateLimit <= 0 {
		cfg.ClaimRateLimit = rate.Every(time.Minute / 6)
	}
	if cfg.ClaimRateBurst <= 0 {
		cfg.ClaimRateBurst = 2
	}
	return nil
}
