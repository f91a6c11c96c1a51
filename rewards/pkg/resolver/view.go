package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/rewards/rewards/pkg/ipfs"
	"github.com/malbeclabs/rewards/rewards/pkg/manifest"
	"github.com/malbeclabs/rewards/rewards/pkg/metrics"
)

var (
	// ErrSuperseded is returned by Refresh when a newer refresh was started
	// before this one finished; its result is discarded.
	ErrSuperseded = errors.New("refresh superseded by a newer one")
	ErrNotReady   = errors.New("distributor view is not ready")
	ErrNoManifest = errors.New("distributor has no manifest published")
)

// DistributorReader reads the distributor's published state.
type DistributorReader interface {
	Root(ctx context.Context) (common.Hash, error)
	IPFSHash(ctx context.Context) (common.Hash, error)
}

type ManifestFetcher interface {
	Fetch(ctx context.Context, digestOrCID string) (*manifest.Manifest, error)
}

type ViewConfig struct {
	Logger          *slog.Logger
	Clock           clockwork.Clock
	Distributor     DistributorReader
	Cache           *ipfs.Cache
	Fetcher         ManifestFetcher
	RefreshInterval time.Duration
}

func (cfg *ViewConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Distributor == nil {
		return errors.New("distributor is required")
	}
	if cfg.Cache == nil {
		return errors.New("cid cache is required")
	}
	if cfg.Fetcher == nil {
		return errors.New("manifest fetcher is required")
	}
	if cfg.RefreshInterval <= 0 {
		return errors.New("refresh interval must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Snapshot is an immutable view of the distributor at one point in time.
// Manifest is nil exactly when ManifestErr is set. A ManifestErr of
// ErrNoManifest means nothing is published yet, which is not a failure.
type Snapshot struct {
	Seq         uint64
	Root        common.Hash
	Digest      common.Hash
	CID         string
	Manifest    *manifest.Manifest
	ManifestErr error
	UpdatedAt   time.Time
}

func (s *Snapshot) ManifestAvailable() bool {
	return s != nil && s.Manifest != nil
}

// NoManifest reports whether the distributor has not published a manifest.
func (s *Snapshot) NoManifest() bool {
	return s != nil && s.Manifest == nil && errors.Is(s.ManifestErr, ErrNoManifest)
}

// View tracks the distributor's root and manifest. Refreshes may overlap;
// only the most recently started one is allowed to publish.
type View struct {
	log *slog.Logger
	cfg ViewConfig

	issued atomic.Uint64

	mu      sync.RWMutex
	current *Snapshot

	readyOnce sync.Once
	readyCh   chan struct{}
}

func NewView(cfg ViewConfig) (*View, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &View{
		log:     cfg.Logger,
		cfg:     cfg,
		readyCh: make(chan struct{}),
	}, nil
}

func (v *View) Ready() bool {
	select {
	case <-v.readyCh:
		return true
	default:
		return false
	}
}

func (v *View) WaitReady(ctx context.Context) error {
	select {
	case <-v.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for distributor view: %w", ctx.Err())
	}
}

// Current returns the latest published snapshot, or nil before the first
// successful refresh.
func (v *View) Current() *Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

func (v *View) Start(ctx context.Context) {
	go func() {
		v.log.Info("view: starting refresh loop", "interval", v.cfg.RefreshInterval)

		v.safeRefresh(ctx)

		ticker := v.cfg.Clock.NewTicker(v.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				v.safeRefresh(ctx)
			}
		}
	}()
}

func (v *View) safeRefresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Error("view: refresh panicked", "panic", r)
			metrics.ViewRefreshTotal.WithLabelValues("panic").Inc()
			sentry.CurrentHub().Recover(r)
		}
	}()

	if err := v.Refresh(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrSuperseded) {
			return
		}
		v.log.Error("view: refresh failed", "error", err)
	}
}

// Refresh reads the root and manifest digest and, when the digest changed or
// the previous fetch failed, loads the manifest.
func (v *View) Refresh(ctx context.Context) error {
	seq := v.issued.Add(1)

	refreshStart := time.Now()
	v.log.Debug("view: refresh started", "seq", seq)
	defer func() {
		metrics.ViewRefreshDuration.Observe(time.Since(refreshStart).Seconds())
	}()

	var root, digest common.Hash
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		root, err = v.cfg.Distributor.Root(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		digest, err = v.cfg.Distributor.IPFSHash(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		metrics.ViewRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to read distributor: %w", err)
	}

	snap := &Snapshot{Seq: seq, Root: root, Digest: digest, UpdatedAt: v.cfg.Clock.Now()}
	if prev := v.Current(); prev.ManifestAvailable() && prev.Digest == digest {
		snap.CID, snap.Manifest = prev.CID, prev.Manifest
	} else {
		snap.CID, snap.Manifest, snap.ManifestErr = v.loadManifest(ctx, digest)
	}

	if err := v.publish(snap); err != nil {
		return err
	}

	v.log.Info("view: refresh completed", "seq", seq, "root", root.Hex(), "cid", snap.CID,
		"manifest_available", snap.ManifestAvailable(), "duration", time.Since(refreshStart).String())
	return nil
}

func (v *View) loadManifest(ctx context.Context, digest common.Hash) (string, *manifest.Manifest, error) {
	if digest == (common.Hash{}) {
		return "", nil, ErrNoManifest
	}
	cid, err := v.cfg.Cache.Lookup(ctx, digest.Hex())
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", manifest.ErrManifestUnavailable, err)
	}
	m, err := v.cfg.Fetcher.Fetch(ctx, cid)
	if err != nil {
		v.log.Warn("view: manifest unavailable", "cid", cid, "error", err)
		return cid, nil, err
	}
	return cid, m, nil
}

func (v *View) publish(snap *Snapshot) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if snap.Seq != v.issued.Load() {
		metrics.ViewRefreshTotal.WithLabelValues("superseded").Inc()
		v.log.Debug("view: discarding superseded refresh", "seq", snap.Seq)
		return ErrSuperseded
	}
	v.current = snap
	metrics.ViewRefreshTotal.WithLabelValues("ok").Inc()
	v.readyOnce.Do(func() { close(v.readyCh) })
	return nil
}
