package ipfs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/malbeclabs/rewards/rewards/pkg/metrics"
)

type CacheConfig struct {
	Logger *slog.Logger
	// Convert performs the digest to CID conversion. Defaults to DigestToCID.
	Convert func(digestHex string) (string, error)
}

func (cfg *CacheConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Convert == nil {
		cfg.Convert = DigestToCID
	}
	return nil
}

// Cache memoizes digest to CID conversions for the lifetime of the process.
// Entries are never evicted and each digest is converted at most once at a
// time; concurrent lookups of an unresolved digest share one Pending.
type Cache struct {
	log     *slog.Logger
	convert func(string) (string, error)

	mu      sync.Mutex
	entries map[string]*Pending
}

func NewCache(cfg CacheConfig) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Cache{
		log:     cfg.Logger,
		convert: cfg.Convert,
		entries: make(map[string]*Pending),
	}, nil
}

// Resolution is the result of a cache lookup. CID is set only on a hit;
// Pending is always set and completes with the resolved CID.
type Resolution struct {
	CID     string
	Pending *Pending
}

func (r Resolution) Hit() bool { return r.CID != "" }

// Pending is a conversion result that may not be available yet. Every Wait on
// the same Pending returns the same value.
type Pending struct {
	done chan struct{}
	cid  string
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func completedPending(cid string, err error) *Pending {
	p := &Pending{done: make(chan struct{}), cid: cid, err: err}
	close(p.done)
	return p
}

// Done is closed once the conversion has finished.
func (p *Pending) Done() <-chan struct{} { return p.done }

func (p *Pending) Wait(ctx context.Context) (string, error) {
	select {
	case <-p.done:
		return p.cid, p.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Pending) resolved() bool {
	select {
	case <-p.done:
		return p.err == nil
	default:
		return false
	}
}

// Resolve returns immediately. On a miss it starts the conversion in the
// background, unless one is already running for the same digest.
func (c *Cache) Resolve(digestHex string) Resolution {
	if _, err := decodeDigest(digestHex); err != nil {
		metrics.CIDCacheLookupsTotal.WithLabelValues("invalid").Inc()
		return Resolution{Pending: completedPending("", err)}
	}
	key := canonicalDigest(digestHex)

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.entries[key]; ok {
		if p.resolved() {
			metrics.CIDCacheLookupsTotal.WithLabelValues("hit").Inc()
			return Resolution{CID: p.cid, Pending: p}
		}
		metrics.CIDCacheLookupsTotal.WithLabelValues("inflight").Inc()
		return Resolution{Pending: p}
	}

	metrics.CIDCacheLookupsTotal.WithLabelValues("miss").Inc()
	p := newPending()
	c.entries[key] = p
	go c.run(key, p)
	return Resolution{Pending: p}
}

// Lookup resolves digestHex and waits for the result.
func (c *Cache) Lookup(ctx context.Context, digestHex string) (string, error) {
	return c.Resolve(digestHex).Pending.Wait(ctx)
}

func (c *Cache) run(key string, p *Pending) {
	cid, err := c.convert(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	p.cid, p.err = cid, err
	if err != nil {
		// Failed conversions are not cached so a later lookup can try again.
		delete(c.entries, key)
		metrics.CIDConversionsTotal.WithLabelValues("error").Inc()
		c.log.Warn("ipfs: digest conversion failed", "digest", key, "error", err)
	} else {
		metrics.CIDConversionsTotal.WithLabelValues("ok").Inc()
		c.log.Debug("ipfs: digest converted", "digest", key, "cid", cid)
	}
	close(p.done)
}

// Len returns the number of cached or in-flight digests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Normalize maps the accepted CID shapes onto the canonical v1 base32 form.
// It never blocks: a digest that has not been converted yet is returned
// unchanged and its conversion is started for later calls. Callers that need
// a resolved value should use Lookup.
func (c *Cache) Normalize(input string) string {
	switch {
	case input == "":
		return ""
	case strings.HasPrefix(input, "baf"):
		return input
	case strings.HasPrefix(input, "Qm"):
		v1, err := v0ToV1(input)
		if err != nil {
			c.log.Debug("ipfs: failed to convert v0 cid, using as-is", "cid", input, "error", err)
			return input
		}
		return v1
	case strings.Contains(input, ipfsPathMarker):
		i := strings.LastIndex(input, ipfsPathMarker)
		return c.Normalize(input[i+len(ipfsPathMarker):])
	case strings.HasPrefix(input, ipfsScheme):
		return c.Normalize(strings.TrimPrefix(input, ipfsScheme))
	case isDigestHex(input):
		if r := c.Resolve(input); r.Hit() {
			return r.CID
		}
		return input
	default:
		return input
	}
}

const (
	ipfsPathMarker = "/ipfs/"
	ipfsScheme     = "ipfs://"
)
