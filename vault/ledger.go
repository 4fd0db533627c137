package vault

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
)

// Ledger owns the per-(asset, account) raw balances and the aggregate
// exposure scalar. Every mutation passes through the ceiling and limit checks
// first; validation never leaves partial state behind. The ledger performs no
// locking of its own — the engine is the single mutual-exclusion domain.
//
// Aggregate exposure is maintained incrementally: each credit adds and each
// debit subtracts the reference value converted at the price in effect when
// the movement happened. It therefore reflects historical conversion prices,
// not the mark-to-market value of current holdings.
type Ledger struct {
	balances           map[Asset]map[[20]byte]*big.Int
	exposure           *big.Int
	globalCeiling      *big.Int
	perWithdrawCeiling *big.Int
}

// NewLedger constructs an empty ledger with the supplied immutable ceilings.
// A zero per-withdrawal ceiling disables the per-withdrawal check.
func NewLedger(globalCeiling, perWithdrawCeiling RefAmount) (*Ledger, error) {
	if globalCeiling.Sign() <= 0 {
		return nil, fmt.Errorf("vault: global ceiling must be positive")
	}
	if perWithdrawCeiling.Sign() < 0 {
		return nil, fmt.Errorf("vault: per-withdrawal ceiling must not be negative")
	}
	return &Ledger{
		balances:           make(map[Asset]map[[20]byte]*big.Int),
		exposure:           big.NewInt(0),
		globalCeiling:      globalCeiling.BigInt(),
		perWithdrawCeiling: perWithdrawCeiling.BigInt(),
	}, nil
}

// Balance returns the raw balance recorded for the pair. Absent entries read
// as zero.
func (l *Ledger) Balance(asset Asset, account [20]byte) *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	return cloneBigInt(l.balances[asset][account])
}

// Totals returns the aggregate exposure alongside both configured ceilings.
func (l *Ledger) Totals() (exposure, globalCeiling, perWithdrawCeiling RefAmount) {
	if l == nil {
		return RefAmount{}, RefAmount{}, RefAmount{}
	}
	return NewRefAmount(l.exposure), NewRefAmount(l.globalCeiling), NewRefAmount(l.perWithdrawCeiling)
}

// CheckCredit validates that crediting value would keep aggregate exposure at
// or under the global ceiling. Pure: no state is touched.
func (l *Ledger) CheckCredit(value RefAmount) error {
	if l == nil {
		return fmt.Errorf("vault: ledger not initialised")
	}
	projected := new(big.Int).Add(l.exposure, value.BigInt())
	if projected.Cmp(l.globalCeiling) > 0 {
		return &CapExceededError{
			Ceiling:   NewRefAmount(l.globalCeiling),
			Projected: NewRefAmount(projected),
		}
	}
	return nil
}

// Credit validates the cap and then atomically increases both the account's
// raw balance and the aggregate exposure. Either both mutations happen or
// neither does.
func (l *Ledger) Credit(asset Asset, account [20]byte, amount *big.Int, value RefAmount) error {
	if l == nil {
		return fmt.Errorf("vault: ledger not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if err := l.CheckCredit(value); err != nil {
		return err
	}
	l.apply(asset, account, amount, value.BigInt())
	return nil
}

// CheckDebit validates balance sufficiency and the per-withdrawal ceiling.
// Pure: no state is touched.
func (l *Ledger) CheckDebit(asset Asset, account [20]byte, amount *big.Int, value RefAmount) error {
	if l == nil {
		return fmt.Errorf("vault: ledger not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	available := l.balances[asset][account]
	if available == nil || available.Cmp(amount) < 0 {
		return &InsufficientBalanceError{
			Asset:     asset,
			Requested: amount.String(),
			Available: cloneBigInt(available).String(),
		}
	}
	if l.perWithdrawCeiling.Sign() > 0 && value.BigInt().Cmp(l.perWithdrawCeiling) > 0 {
		return &WithdrawLimitError{
			Requested: value,
			Ceiling:   NewRefAmount(l.perWithdrawCeiling),
		}
	}
	return nil
}

// Debit validates and then atomically decreases both the account's raw
// balance and the aggregate exposure. The balance check above proves the
// subtraction cannot go below zero.
func (l *Ledger) Debit(asset Asset, account [20]byte, amount *big.Int, value RefAmount) error {
	if err := l.CheckDebit(asset, account, amount, value); err != nil {
		return err
	}
	l.apply(asset, account, new(big.Int).Neg(amount), new(big.Int).Neg(value.BigInt()))
	return nil
}

// recredit re-applies a debited movement after a failed external push. It
// bypasses the cap check: the exposure being restored was under the ceiling
// when it was last recorded.
func (l *Ledger) recredit(asset Asset, account [20]byte, amount *big.Int, value RefAmount) {
	if l == nil || amount == nil {
		return
	}
	l.apply(asset, account, amount, value.BigInt())
}

func (l *Ledger) apply(asset Asset, account [20]byte, amountDelta, valueDelta *big.Int) {
	bucket, ok := l.balances[asset]
	if !ok {
		bucket = make(map[[20]byte]*big.Int)
		l.balances[asset] = bucket
	}
	current := bucket[account]
	if current == nil {
		current = big.NewInt(0)
	}
	bucket[account] = new(big.Int).Add(current, amountDelta)
	l.exposure = new(big.Int).Add(l.exposure, valueDelta)
}

// BalanceEntry captures one (asset, account, amount) triple for snapshotting.
type BalanceEntry struct {
	Asset   Asset
	Account [20]byte
	Amount  *big.Int
}

// Entries returns every non-zero balance in deterministic order.
func (l *Ledger) Entries() []BalanceEntry {
	if l == nil {
		return nil
	}
	out := make([]BalanceEntry, 0)
	for asset, bucket := range l.balances {
		for account, amount := range bucket {
			if amount == nil || amount.Sign() == 0 {
				continue
			}
			out = append(out, BalanceEntry{Asset: asset, Account: account, Amount: cloneBigInt(amount)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset == out[j].Asset {
			return hex.EncodeToString(out[i].Account[:]) < hex.EncodeToString(out[j].Account[:])
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}

// Restore replaces the ledger contents with the supplied snapshot data. The
// configured ceilings are construction-time values and are not restored.
func (l *Ledger) Restore(entries []BalanceEntry, exposure RefAmount) {
	if l == nil {
		return
	}
	l.balances = make(map[Asset]map[[20]byte]*big.Int)
	for _, entry := range entries {
		if entry.Amount == nil || entry.Amount.Sign() <= 0 {
			continue
		}
		bucket, ok := l.balances[entry.Asset]
		if !ok {
			bucket = make(map[[20]byte]*big.Int)
			l.balances[entry.Asset] = bucket
		}
		bucket[entry.Account] = cloneBigInt(entry.Amount)
	}
	l.exposure = exposure.BigInt()
}
