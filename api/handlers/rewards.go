package handlers

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/malbeclabs/rewards/api/metrics"
	"github.com/malbeclabs/rewards/rewards/pkg/chain"
	"github.com/malbeclabs/rewards/rewards/pkg/claim"
	"github.com/malbeclabs/rewards/rewards/pkg/manifest"
	"github.com/malbeclabs/rewards/rewards/pkg/resolver"
	"github.com/malbeclabs/rewards/rewards/pkg/sources"
)

const (
	defaultTokenDecimals = 18
	claimTimeout         = 2 * time.Minute
)

// DistributorView is the distributor state the handlers read. *resolver.View
// implements it.
type DistributorView interface {
	Current() *resolver.Snapshot
	Refresh(ctx context.Context) error
}

type TokenInfoReader interface {
	TokenInfo(ctx context.Context, token common.Address) (chain.TokenInfo, error)
}

type RewardsConfig struct {
	Logger             *slog.Logger
	DistributorAddress common.Address
	View               DistributorView
	Sessions           *resolver.Sessions
	// Tokens is optional; without it amounts are formatted with 18 decimals.
	Tokens TokenInfoReader
}

func (cfg *RewardsConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.View == nil {
		return errors.New("view is required")
	}
	if cfg.Sessions == nil {
		return errors.New("sessions are required")
	}
	return nil
}

// Rewards serves the distributor and per-account endpoints.
type Rewards struct {
	log *slog.Logger
	cfg RewardsConfig

	tokensMu sync.Mutex
	tokens   map[common.Address]chain.TokenInfo
}

func NewRewards(cfg RewardsConfig) (*Rewards, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Rewards{
		log:    cfg.Logger,
		cfg:    cfg,
		tokens: make(map[common.Address]chain.TokenInfo),
	}, nil
}

type ManifestSummary struct {
	ID                    string            `json:"id"`
	Root                  string            `json:"root"`
	NumAccounts           int               `json:"numAccounts"`
	RewardTokenAddress    string            `json:"rewardTokenAddress"`
	TotalRewards          string            `json:"totalRewards"`
	TotalRewardsFormatted string            `json:"totalRewardsFormatted,omitempty"`
	Sources               []manifest.Source `json:"sources"`
}

type DistributorResponse struct {
	Address           common.Address   `json:"address"`
	Root              common.Hash      `json:"root"`
	Digest            common.Hash      `json:"digest"`
	CID               string           `json:"cid,omitempty"`
	ManifestAvailable bool             `json:"manifestAvailable"`
	NoManifest        bool             `json:"noManifest,omitempty"`
	ManifestError     string           `json:"manifestError,omitempty"`
	Manifest          *ManifestSummary `json:"manifest,omitempty"`
	Token             *chain.TokenInfo `json:"token,omitempty"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

type FormattedAmounts struct {
	Claimable string `json:"claimable"`
	Claimed   string `json:"claimed"`
	Remaining string `json:"remaining"`
}

// PendingResponse describes an account's standing. Entry is null when the
// manifest has no allocation for the account or no manifest is published.
type PendingResponse struct {
	Account    common.Address    `json:"account"`
	Root       common.Hash       `json:"root"`
	CID        string            `json:"cid"`
	Entry      *manifest.Entry   `json:"entry"`
	NoManifest bool              `json:"noManifest,omitempty"`
	Claimable  string            `json:"claimable,omitempty"`
	Claimed    string            `json:"claimed,omitempty"`
	Remaining  string            `json:"remaining,omitempty"`
	Stale      bool              `json:"stale,omitempty"`
	Formatted  *FormattedAmounts `json:"formatted,omitempty"`
	Token      *chain.TokenInfo  `json:"token,omitempty"`
}

// HistoryResponse lists claims oldest first. Total counts all claims, not
// just the returned page.
type HistoryResponse struct {
	Account common.Address         `json:"account"`
	Claims  []resolver.ClaimRecord `json:"claims"`
	Total   int                    `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

type SourcesResponse struct {
	Account common.Address    `json:"account"`
	Sources []sources.Balance `json:"sources"`
}

type ClaimResponse struct {
	resolver.ClaimRecord
	ClaimedFormatted string `json:"claimedFormatted"`
}

// GetDistributor handles GET /api/distributor.
func (h *Rewards) GetDistributor(w http.ResponseWriter, r *http.Request) {
	snap := h.cfg.View.Current()
	if snap == nil {
		h.writeErr(w, r, resolver.ErrNotReady)
		return
	}
	writeJSON(w, http.StatusOK, h.distributorResponse(r.Context(), snap))
}

// RefreshDistributor handles POST /api/distributor/refresh.
func (h *Rewards) RefreshDistributor(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.View.Refresh(r.Context()); err != nil && !errors.Is(err, resolver.ErrSuperseded) {
		h.writeErr(w, r, err)
		return
	}
	h.GetDistributor(w, r)
}

func (h *Rewards) distributorResponse(ctx context.Context, snap *resolver.Snapshot) DistributorResponse {
	resp := DistributorResponse{
		Address:           h.cfg.DistributorAddress,
		Root:              snap.Root,
		Digest:            snap.Digest,
		CID:               snap.CID,
		ManifestAvailable: snap.ManifestAvailable(),
		NoManifest:        snap.NoManifest(),
		UpdatedAt:         snap.UpdatedAt,
	}
	if snap.ManifestErr != nil && !resp.NoManifest {
		resp.ManifestError = snap.ManifestErr.Error()
	}
	if m := snap.Manifest; m != nil {
		resp.Manifest = &ManifestSummary{
			ID:                 m.ID,
			Root:               m.Root,
			NumAccounts:        m.Metadata.NumAccounts,
			RewardTokenAddress: m.Metadata.RewardTokenAddress,
			TotalRewards:       m.Metadata.TotalRewards,
			Sources:            m.Metadata.Sources,
		}
		if token, err := manifest.ParseAddress(m.Metadata.RewardTokenAddress); err == nil {
			info := h.tokenInfo(ctx, token)
			resp.Token = info
			if total, err := manifest.ParseAmount(m.Metadata.TotalRewards); err == nil {
				resp.Manifest.TotalRewardsFormatted = formatAmount(total, decimalsOf(info))
			}
		}
	}
	return resp
}

// GetManifest handles GET /api/manifest. The body is null while the
// distributor has no manifest published.
func (h *Rewards) GetManifest(w http.ResponseWriter, r *http.Request) {
	snap := h.cfg.View.Current()
	if snap == nil {
		h.writeErr(w, r, resolver.ErrNotReady)
		return
	}
	if snap.NoManifest() {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if !snap.ManifestAvailable() {
		h.writeErr(w, r, manifest.ErrManifestUnavailable)
		return
	}
	w.Header().Set("X-Manifest-CID", snap.CID)
	writeJSON(w, http.StatusOK, snap.Manifest)
}

// GetPending handles GET /api/accounts/{account}/pending.
func (h *Rewards) GetPending(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	p, err := h.cfg.Sessions.Get(account).Pending(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	resp := PendingResponse{Account: p.Account, Root: p.Root, CID: p.CID, Entry: p.Entry, NoManifest: p.NoManifest}
	if p.Entry != nil {
		resp.Claimable = p.Claimable.String()
		resp.Claimed = p.Claimed.String()
		resp.Remaining = p.Remaining.String()
		resp.Stale = p.Stale

		var decimals uint8 = defaultTokenDecimals
		if token, err := manifest.ParseAddress(p.Entry.Reward); err == nil {
			resp.Token = h.tokenInfo(r.Context(), token)
			decimals = decimalsOf(resp.Token)
		}
		resp.Formatted = &FormattedAmounts{
			Claimable: formatAmount(p.Claimable, decimals),
			Claimed:   formatAmount(p.Claimed, decimals),
			Remaining: formatAmount(p.Remaining, decimals),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSources handles GET /api/accounts/{account}/sources.
func (h *Rewards) GetSources(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	out, err := h.cfg.Sessions.Get(account).Sources(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SourcesResponse{Account: account, Sources: out})
}

// GetHistory handles GET /api/accounts/{account}/history.
func (h *Rewards) GetHistory(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	page := ParsePagination(r, DefaultLimit)

	records, err := h.cfg.Sessions.Get(account).History(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Account: account,
		Claims:  Page(records, page),
		Total:   len(records),
		Limit:   page.Limit,
		Offset:  page.Offset,
	})
}

// PostClaim handles POST /api/accounts/{account}/claim. The claim outlives a
// disconnected client so that a mined transaction is always recorded.
func (h *Rewards) PostClaim(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), claimTimeout)
	defer cancel()

	rec, err := h.cfg.Sessions.Get(account).Claim(ctx)
	metrics.RecordClaimRelay(err)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	resp := ClaimResponse{ClaimRecord: *rec}
	claimed, _ := new(big.Int).SetString(rec.Claimed, 10)
	resp.ClaimedFormatted = formatAmount(claimed, decimalsOf(h.tokenInfo(ctx, rec.Reward)))
	writeJSON(w, http.StatusOK, resp)
}

func accountParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "account")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// writeErr maps domain errors onto HTTP statuses. Anything unrecognized is
// treated as an upstream chain or gateway failure.
func (h *Rewards) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusBadGateway, err.Error()
	switch {
	case errors.Is(err, resolver.ErrNotReady):
		status = http.StatusServiceUnavailable
	case errors.Is(err, manifest.ErrManifestUnavailable):
		status, msg = http.StatusServiceUnavailable, "manifest unavailable"
	case errors.Is(err, resolver.ErrClaimsDisabled), errors.Is(err, resolver.ErrSourcesDisabled):
		status = http.StatusNotImplemented
	case errors.Is(err, resolver.ErrNoEntry), errors.Is(err, resolver.ErrNoManifest):
		status = http.StatusNotFound
	case errors.Is(err, resolver.ErrNothingToClaim):
		status = http.StatusConflict
	case errors.Is(err, resolver.ErrRootMismatch),
		errors.Is(err, manifest.ErrInvalidProof),
		errors.Is(err, manifest.ErrInvalidRoot),
		errors.Is(err, manifest.ErrInvalidAddress),
		errors.Is(err, manifest.ErrInvalidClaimable),
		errors.Is(err, manifest.ErrInvalidProofElement):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, claim.ErrClaimReverted):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusBadGateway || status == http.StatusGatewayTimeout {
		h.log.Error("handlers: request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		} else {
			sentry.CaptureException(err)
		}
	}
	writeError(w, status, msg)
}

// tokenInfo returns cached token metadata, or nil when it cannot be read.
func (h *Rewards) tokenInfo(ctx context.Context, token common.Address) *chain.TokenInfo {
	if h.cfg.Tokens == nil || token == (common.Address{}) {
		return nil
	}

	h.tokensMu.Lock()
	info, ok := h.tokens[token]
	h.tokensMu.Unlock()
	if ok {
		return &info
	}

	info, err := h.cfg.Tokens.TokenInfo(ctx, token)
	if err != nil {
		h.log.Debug("handlers: token info unavailable", "token", token.Hex(), "error", err)
		return nil
	}
	h.tokensMu.Lock()
	h.tokens[token] = info
	h.tokensMu.Unlock()
	return &info
}

func decimalsOf(info *chain.TokenInfo) uint8 {
	if info == nil {
		return defaultTokenDecimals
	}
	return info.Decimals
}

// formatAmount renders a base-unit integer as a decimal token amount.
func formatAmount(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}
