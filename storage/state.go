package storage

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"tokenvault/vault"
)

var stateKey = []byte("vault/state")

type storedBalance struct {
	Asset   string
	Account [20]byte
	Amount  *big.Int
}

type storedGrant struct {
	Role    string
	Address [20]byte
}

type storedFeed struct {
	Asset    string
	Decimals uint8
}

type storedState struct {
	Balances           []storedBalance
	Exposure           *big.Int
	Paused             bool
	Grants             []storedGrant
	Feeds              []storedFeed
	GlobalCeiling      *big.Int
	PerWithdrawCeiling *big.Int
}

// StateStore persists engine snapshots as a single RLP-encoded record. It
// satisfies the engine's Checkpointer interface.
type StateStore struct {
	db Database
}

// NewStateStore binds a state store to the underlying database.
func NewStateStore(db Database) *StateStore {
	return &StateStore{db: db}
}

// SaveState encodes and writes the snapshot.
func (s *StateStore) SaveState(snap *vault.Snapshot) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage: state store not initialised")
	}
	if snap == nil {
		return fmt.Errorf("storage: nil snapshot")
	}
	stored := storedState{
		Exposure:           snap.Exposure.BigInt(),
		Paused:             snap.Paused,
		GlobalCeiling:      snap.GlobalCeiling.BigInt(),
		PerWithdrawCeiling: snap.PerWithdrawCeiling.BigInt(),
	}
	for _, entry := range snap.Balances {
		stored.Balances = append(stored.Balances, storedBalance{
			Asset:   string(entry.Asset),
			Account: entry.Account,
			Amount:  entry.Amount,
		})
	}
	for _, grant := range snap.Grants {
		stored.Grants = append(stored.Grants, storedGrant{Role: grant.Role, Address: grant.Address})
	}
	for asset, decimals := range snap.FeedDecimals {
		stored.Feeds = append(stored.Feeds, storedFeed{Asset: string(asset), Decimals: decimals})
	}
	sort.Slice(stored.Feeds, func(i, j int) bool { return stored.Feeds[i].Asset < stored.Feeds[j].Asset })
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("storage: encode state: %w", err)
	}
	return s.db.Put(stateKey, encoded)
}

// LoadState reads and decodes the latest snapshot. The bool reports whether a
// snapshot existed.
func (s *StateStore) LoadState() (*vault.Snapshot, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("storage: state store not initialised")
	}
	encoded, err := s.db.Get(stateKey)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored storedState
	if err := rlp.DecodeBytes(encoded, &stored); err != nil {
		return nil, false, fmt.Errorf("storage: decode state: %w", err)
	}
	snap := &vault.Snapshot{
		Exposure:           vault.NewRefAmount(stored.Exposure),
		Paused:             stored.Paused,
		FeedDecimals:       make(map[vault.Asset]uint8, len(stored.Feeds)),
		GlobalCeiling:      vault.NewRefAmount(stored.GlobalCeiling),
		PerWithdrawCeiling: vault.NewRefAmount(stored.PerWithdrawCeiling),
	}
	for _, entry := range stored.Balances {
		snap.Balances = append(snap.Balances, vault.BalanceEntry{
			Asset:   vault.Asset(entry.Asset),
			Account: entry.Account,
			Amount:  entry.Amount,
		})
	}
	for _, grant := range stored.Grants {
		snap.Grants = append(snap.Grants, vault.RoleGrant{Role: grant.Role, Address: grant.Address})
	}
	for _, feed := range stored.Feeds {
		snap.FeedDecimals[vault.Asset(feed.Asset)] = feed.Decimals
	}
	return snap, true, nil
}
