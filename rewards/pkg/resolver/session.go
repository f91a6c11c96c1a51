package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/rewards/rewards/pkg/chain"
	"github.com/malbeclabs/rewards/rewards/pkg/claim"
	"github.com/malbeclabs/rewards/rewards/pkg/manifest"
	"github.com/malbeclabs/rewards/rewards/pkg/sources"
)

var (
	ErrNoEntry         = errors.New("account has no entry in the manifest")
	ErrNothingToClaim  = errors.New("nothing to claim")
	ErrRootMismatch    = errors.New("manifest root does not match on-chain root")
	ErrClaimsDisabled  = errors.New("claim submission is not configured")
	ErrSourcesDisabled = errors.New("source aggregation is not configured")
)

const (
	OriginSession = "session"
	OriginChain   = "chain"
)

type SnapshotSource interface {
	Current() *Snapshot
}

// ClaimReader is the distributor surface a session reads. *chain.Distributor
// implements it.
type ClaimReader interface {
	Address() common.Address
	Root(ctx context.Context) (common.Hash, error)
	Claimed(ctx context.Context, account, token common.Address) (*big.Int, error)
	ClaimedEvents(ctx context.Context, account common.Address, fromBlock uint64) ([]chain.ClaimedEvent, error)
}

type ClaimSubmitter interface {
	Submit(ctx context.Context, req claim.Request) (common.Hash, error)
	Wait(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

type SourceAggregator interface {
	Aggregate(ctx context.Context, srcs []manifest.Source, account common.Address) []sources.Balance
}

type SessionConfig struct {
	Logger      *slog.Logger
	Clock       clockwork.Clock
	View        SnapshotSource
	Distributor ClaimReader
	// Submitter is optional; without it Claim returns ErrClaimsDisabled.
	Submitter ClaimSubmitter
	// Sources is optional; without it Sources returns ErrSourcesDisabled.
	Sources SourceAggregator
	// VerifyProofs checks the manifest root against the chain and the entry's
	// proof against the root before submitting a claim.
	VerifyProofs bool
}

func (cfg *SessionConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.View == nil {
		return errors.New("view is required")
	}
	if cfg.Distributor == nil {
		return errors.New("distributor is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Pending is an account's current standing. Entry is nil when the manifest
// has no allocation for the account, in which case the amounts are nil too.
// NoManifest is set when the distributor has not published a manifest yet.
type Pending struct {
	Seq        uint64
	Account    common.Address
	Root       common.Hash
	CID        string
	Entry      *manifest.Entry
	Claimable  *big.Int
	Claimed    *big.Int
	Remaining  *big.Int
	Stale      bool
	NoManifest bool
}

// ClaimRecord is one claim in an account's history. Claimed is the amount the
// claim paid out.
type ClaimRecord struct {
	ID              string         `json:"id"`
	Account         common.Address `json:"account"`
	Reward          common.Address `json:"reward"`
	Claimable       string         `json:"claimable,omitempty"`
	Proof           []string       `json:"proof,omitempty"`
	Claimed         string         `json:"claimed"`
	Timestamp       int64          `json:"timestamp"`
	TransactionHash common.Hash    `json:"transactionHash"`
	Origin          string         `json:"origin"`
}

// Session holds the state of one account. Claims on a session run one at a
// time.
type Session struct {
	log     *slog.Logger
	cfg     SessionConfig
	account common.Address
	reg     *Sessions

	claimMu sync.Mutex

	pendingSeq atomic.Uint64
	mu         sync.Mutex
	latest     *Pending
	records    []ClaimRecord

	eventsMu   sync.Mutex
	events     []chain.ClaimedEvent
	eventSeen  map[string]struct{}
	eventsFrom uint64
}

func NewSession(cfg SessionConfig, account common.Address) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		log:     cfg.Logger.With("account", account.Hex()),
		cfg:     cfg,
		account: account,
	}, nil
}

func (s *Session) Account() common.Address { return s.account }

// Latest returns the most recent Pending result, or nil if none has been
// computed yet.
func (s *Session) Latest() *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

func (s *Session) snapshot() (*Snapshot, error) {
	snap := s.cfg.View.Current()
	if snap == nil {
		return nil, ErrNotReady
	}
	if snap.NoManifest() {
		return snap, nil
	}
	if !snap.ManifestAvailable() {
		if snap.ManifestErr != nil {
			return snap, snap.ManifestErr
		}
		return snap, manifest.ErrManifestUnavailable
	}
	return snap, nil
}

// Pending computes what the account can claim now. An unavailable manifest is
// an error wrapping manifest.ErrManifestUnavailable, never an empty result.
// A distributor with no manifest published yields NoManifest and no entry.
func (s *Session) Pending(ctx context.Context) (*Pending, error) {
	seq := s.pendingSeq.Add(1)

	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	p := &Pending{Seq: seq, Account: s.account, Root: snap.Root, CID: snap.CID, NoManifest: snap.NoManifest()}
	entry := manifest.FindEntry(snap.Manifest, s.account.Hex())
	if entry != nil {
		p.Entry = entry
		reward, err := manifest.ParseAddress(entry.Reward)
		if err != nil {
			return nil, err
		}
		claimed, err := s.cfg.Distributor.Claimed(ctx, s.account, reward)
		if err != nil {
			return nil, err
		}
		r, err := Remaining(*entry, claimed)
		if err != nil {
			return nil, err
		}
		p.Claimable, p.Claimed, p.Remaining, p.Stale = r.Claimable, r.Claimed, r.Remaining, r.Stale
		if r.Stale {
			s.log.Warn("resolver: claimed exceeds manifest allocation", "claimable", r.Claimable.String(), "claimed", r.Claimed.String())
		}
	}

	s.mu.Lock()
	if seq == s.pendingSeq.Load() {
		s.latest = p
	}
	s.mu.Unlock()
	return p, nil
}

// Claim withdraws the account's remaining allocation. It reads the claimed
// amount, optionally verifies the proof, submits one transaction, waits for
// it to be mined, refreshes the account state and records the claim, in that
// order.
//
// A session handed out by Sessions joins the registry here, once the account
// is known to have an entry, so its claim history outlives the request.
func (s *Session) Claim(ctx context.Context) (*ClaimRecord, error) {
	if s.cfg.Submitter == nil {
		return nil, ErrClaimsDisabled
	}
	if s.reg != nil {
		if _, _, err := s.entry(); err != nil {
			return nil, err
		}
		s = s.reg.retain(s)
	}

	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	snap, entry, err := s.entry()
	if err != nil {
		return nil, err
	}
	req, err := claim.NewRequest(s.cfg.Distributor.Address(), *entry)
	if err != nil {
		return nil, err
	}

	claimedBefore, err := s.cfg.Distributor.Claimed(ctx, req.Account, req.Reward)
	if err != nil {
		return nil, fmt.Errorf("failed to read claimed amount: %w", err)
	}

	if s.cfg.VerifyProofs {
		if err := s.verify(ctx, snap.Manifest, *entry); err != nil {
			return nil, err
		}
	}

	amount := RemainingClaimable(req.Claimable, claimedBefore)
	if amount.Sign() == 0 {
		return nil, ErrNothingToClaim
	}

	hash, err := s.cfg.Submitter.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := s.cfg.Submitter.Wait(ctx, hash); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.cfg.Distributor.Claimed(gctx, req.Account, req.Reward)
		return err
	})
	g.Go(func() error {
		_, err := s.Pending(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		s.log.Warn("resolver: failed to refresh after claim", "tx", hash.Hex(), "error", err)
	}

	rec := ClaimRecord{
		ID:              uuid.NewString(),
		Account:         req.Account,
		Reward:          req.Reward,
		Claimable:       req.Claimable.String(),
		Proof:           append([]string(nil), entry.Proof...),
		Claimed:         amount.String(),
		Timestamp:       s.cfg.Clock.Now().UnixMilli(),
		TransactionHash: hash,
		Origin:          OriginSession,
	}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()

	s.log.Info("resolver: claim recorded", "tx", hash.Hex(), "claimed", rec.Claimed)
	return &rec, nil
}

func (s *Session) entry() (*Snapshot, *manifest.Entry, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, nil, err
	}
	if snap.NoManifest() {
		return nil, nil, ErrNoManifest
	}
	entry := manifest.FindEntry(snap.Manifest, s.account.Hex())
	if entry == nil {
		return nil, nil, ErrNoEntry
	}
	return snap, entry, nil
}

func (s *Session) verify(ctx context.Context, m *manifest.Manifest, entry manifest.Entry) error {
	onchain, err := s.cfg.Distributor.Root(ctx)
	if err != nil {
		return fmt.Errorf("failed to read root: %w", err)
	}
	root, err := manifest.ParseRoot(m.Root)
	if err != nil {
		return err
	}
	if root != onchain {
		return fmt.Errorf("%w: manifest %s, chain %s", ErrRootMismatch, root.Hex(), onchain.Hex())
	}
	return manifest.VerifyEntry(root, entry)
}

// History returns the claims made through this session merged with the
// distributor's Claimed events for the account, oldest first. Records from
// this session win over events for the same transaction.
func (s *Session) History(ctx context.Context) ([]ClaimRecord, error) {
	s.mu.Lock()
	out := append([]ClaimRecord(nil), s.records...)
	s.mu.Unlock()

	events, err := s.claimedEvents(ctx)
	switch {
	case errors.Is(err, chain.ErrLogsUnsupported):
	case err != nil:
		return out, fmt.Errorf("failed to load claim events: %w", err)
	default:
		seen := make(map[common.Hash]struct{}, len(out))
		for _, r := range out {
			seen[r.TransactionHash] = struct{}{}
		}
		for _, ev := range events {
			if _, ok := seen[ev.TxHash]; ok {
				continue
			}
			out = append(out, ClaimRecord{
				ID:              fmt.Sprintf("%s-%d", ev.TxHash.Hex(), ev.LogIndex),
				Account:         ev.Account,
				Reward:          ev.Reward,
				Claimed:         ev.Amount.String(),
				Timestamp:       ev.Time.UnixMilli(),
				TransactionHash: ev.TxHash,
				Origin:          OriginChain,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// claimedEvents returns every Claimed event seen for the account. Each call
// only scans from the last block already seen; that block is scanned again
// so events later in it are not missed.
func (s *Session) claimedEvents(ctx context.Context) ([]chain.ClaimedEvent, error) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	fresh, err := s.cfg.Distributor.ClaimedEvents(ctx, s.account, s.eventsFrom)
	if err != nil {
		return nil, err
	}
	if s.eventSeen == nil {
		s.eventSeen = make(map[string]struct{})
	}
	for _, ev := range fresh {
		key := fmt.Sprintf("%s-%d", ev.TxHash.Hex(), ev.LogIndex)
		if _, ok := s.eventSeen[key]; ok {
			continue
		}
		s.eventSeen[key] = struct{}{}
		s.events = append(s.events, ev)
		if ev.BlockNumber > s.eventsFrom {
			s.eventsFrom = ev.BlockNumber
		}
	}
	return append([]chain.ClaimedEvent(nil), s.events...), nil
}

// Sources reports the account's standing in each reward source of the
// current manifest. With no manifest published there are no sources.
func (s *Session) Sources(ctx context.Context) ([]sources.Balance, error) {
	if s.cfg.Sources == nil {
		return nil, ErrSourcesDisabled
	}
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	if snap.NoManifest() {
		return []sources.Balance{}, nil
	}
	return s.cfg.Sources.Aggregate(ctx, snap.Manifest.Metadata.Sources, s.account), nil
}

// Sessions hands out one Session per account. Only accounts that have
// claimed are kept; lookups for any other account get a fresh session that
// is dropped with the request.
type Sessions struct {
	cfg SessionConfig

	mu       sync.Mutex
	sessions map[common.Address]*Session
}

func NewSessions(cfg SessionConfig) (*Sessions, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sessions{cfg: cfg, sessions: make(map[common.Address]*Session)}, nil
}

func (r *Sessions) Get(account common.Address) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[account]; ok {
		return s
	}
	return &Session{
		log:     r.cfg.Logger.With("account", account.Hex()),
		cfg:     r.cfg,
		account: account,
		reg:     r,
	}
}

// retain registers s for its account, or returns the session already
// registered there.
func (r *Sessions) retain(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[s.account]; ok {
		return cur
	}
	r.sessions[s.account] = s
	return s
}

func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
