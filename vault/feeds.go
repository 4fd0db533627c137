package vault

import (
	"fmt"
	"math/big"
	"sort"
	"time"
)

// PriceQuote carries a price observation for one whole asset unit expressed in
// reference currency at Decimals precision.
type PriceQuote struct {
	Price     *big.Int
	Decimals  uint8
	Timestamp time.Time
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Decimals: q.Decimals, Timestamp: q.Timestamp}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// PriceSource resolves the latest known price for a configured asset. Sources
// are external; health is discovered lazily on use.
type PriceSource interface {
	LatestPrice() (PriceQuote, error)
}

// FeedEntry binds an asset to its price source and native decimal precision.
type FeedEntry struct {
	Source   PriceSource
	Decimals uint8
}

// PriceRegistry maps assets to their configured feed entries. Registration is
// admin-gated; no validation of the source occurs at configuration time.
type PriceRegistry struct {
	gate  *AccessGate
	feeds map[Asset]FeedEntry
}

// NewPriceRegistry constructs an empty registry guarded by the supplied gate.
func NewPriceRegistry(gate *AccessGate) *PriceRegistry {
	return &PriceRegistry{gate: gate, feeds: make(map[Asset]FeedEntry)}
}

// SetFeed registers or overwrites the feed entry for the asset. The caller
// must hold RoleVaultAdmin.
func (r *PriceRegistry) SetFeed(caller [20]byte, asset Asset, source PriceSource, decimals uint8) error {
	if r == nil {
		return fmt.Errorf("vault: price registry not initialised")
	}
	if err := r.gate.RequireRole(RoleVaultAdmin, caller); err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("vault: price source required for %s", asset)
	}
	r.feeds[asset] = FeedEntry{Source: source, Decimals: decimals}
	return nil
}

// Lookup returns the feed entry for the asset, failing with
// FeedNotConfiguredError when absent. The native sentinel receives no special
// treatment; it must be registered like any other asset.
func (r *PriceRegistry) Lookup(asset Asset) (FeedEntry, error) {
	if r == nil {
		return FeedEntry{}, fmt.Errorf("vault: price registry not initialised")
	}
	entry, ok := r.feeds[asset]
	if !ok {
		return FeedEntry{}, &FeedNotConfiguredError{Asset: asset}
	}
	return entry, nil
}

// Decimals returns the configured native decimals per asset in deterministic
// order, for snapshotting.
func (r *PriceRegistry) Decimals() map[Asset]uint8 {
	if r == nil {
		return nil
	}
	out := make(map[Asset]uint8, len(r.feeds))
	for asset, entry := range r.feeds {
		out[asset] = entry.Decimals
	}
	return out
}

// Assets lists the configured assets in sorted order.
func (r *PriceRegistry) Assets() []Asset {
	if r == nil {
		return nil
	}
	out := make([]Asset, 0, len(r.feeds))
	for asset := range r.feeds {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StaticSource returns a fixed quote stamped with the current time. It backs
// tests and operator-pinned prices.
type StaticSource struct {
	Price    *big.Int
	Decimals uint8
	Err      error
}

// LatestPrice implements the PriceSource interface.
func (s StaticSource) LatestPrice() (PriceQuote, error) {
	if s.Err != nil {
		return PriceQuote{}, s.Err
	}
	return PriceQuote{Price: cloneBigInt(s.Price), Decimals: s.Decimals, Timestamp: time.Now()}, nil
}
