package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"tokenvault/core/events"
)

var errNilEngine = errors.New("vault: engine not initialised")

// TransferAdapter moves asset balances between external accounts and vault
// custody. Implementations are external collaborators; the engine only relies
// on the success/failure outcome.
type TransferAdapter interface {
	// Pull moves amount of asset from the account into custody.
	Pull(asset Asset, from [20]byte, amount *big.Int) error
	// Push moves amount of asset from custody to the account.
	Push(asset Asset, to [20]byte, amount *big.Int) error
}

// Snapshot captures the full persisted state of the vault.
type Snapshot struct {
	Balances           []BalanceEntry
	Exposure           RefAmount
	Paused             bool
	Grants             []RoleGrant
	FeedDecimals       map[Asset]uint8
	GlobalCeiling      RefAmount
	PerWithdrawCeiling RefAmount
}

// Checkpointer persists snapshots after each committed mutation.
type Checkpointer interface {
	SaveState(*Snapshot) error
}

// Engine composes the access gate, price registry and balance ledger into the
// deposit and withdrawal flows. It is the single mutual-exclusion domain for
// all vault state: one lock covers balances, exposure, the pause flag and the
// feed registry. Ledger effects always commit before the external transfer
// call, so any reentrant call observes fully-updated balances.
type Engine struct {
	mu        sync.RWMutex
	gate      *AccessGate
	feeds     *PriceRegistry
	ledger    *Ledger
	transfers TransferAdapter
	emitter   events.Emitter
	journal   Checkpointer
	nowFn     func() time.Time
}

// NewEngine wires the collaborators together. Events default to a no-op
// emitter and checkpointing is disabled until SetCheckpointer is called.
func NewEngine(gate *AccessGate, feeds *PriceRegistry, ledger *Ledger, transfers TransferAdapter) (*Engine, error) {
	if gate == nil || feeds == nil || ledger == nil {
		return nil, fmt.Errorf("vault: gate, feeds and ledger are required")
	}
	if transfers == nil {
		return nil, fmt.Errorf("vault: transfer adapter required")
	}
	return &Engine{
		gate:      gate,
		feeds:     feeds,
		ledger:    ledger,
		transfers: transfers,
		emitter:   events.NoopEmitter{},
		nowFn:     time.Now,
	}, nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.mu.Lock()
	e.emitter = emitter
	e.mu.Unlock()
}

// SetCheckpointer configures snapshot persistence after committed mutations.
func (e *Engine) SetCheckpointer(journal Checkpointer) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.journal = journal
	e.mu.Unlock()
}

// SetClock overrides the time source, enabling deterministic unit tests.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.mu.Lock()
	e.nowFn = now
	e.mu.Unlock()
}

// quoteValue resolves the asset's feed, fetches the latest price and converts
// the raw amount into reference units. Read-only with respect to vault state.
func (e *Engine) quoteValue(asset Asset, amount *big.Int) (RefAmount, error) {
	entry, err := e.feeds.Lookup(asset)
	if err != nil {
		return RefAmount{}, err
	}
	if entry.Source == nil {
		return RefAmount{}, &FeedNotConfiguredError{Asset: asset}
	}
	quote, err := entry.Source.LatestPrice()
	if err != nil {
		return RefAmount{}, fmt.Errorf("vault: price lookup for %s: %w", asset, err)
	}
	return ConvertToRef(amount, entry.Decimals, quote.Price, quote.Decimals)
}

func (e *Engine) receipt(kind string, asset Asset, account [20]byte, amount *big.Int, value RefAmount) *Receipt {
	return &Receipt{
		ID:        uuid.New().String(),
		Kind:      kind,
		Asset:     asset,
		Account:   account,
		Amount:    cloneBigInt(amount),
		Value:     value,
		Timestamp: e.nowFn().UTC().Unix(),
	}
}

func (e *Engine) checkpoint() error {
	if e.journal == nil {
		return nil
	}
	return e.journal.SaveState(e.snapshotLocked())
}

func (e *Engine) snapshotLocked() *Snapshot {
	exposure, globalCeiling, perWithdraw := e.ledger.Totals()
	return &Snapshot{
		Balances:           e.ledger.Entries(),
		Exposure:           exposure,
		Paused:             e.gate.Paused(),
		Grants:             e.gate.Grants(),
		FeedDecimals:       e.feeds.Decimals(),
		GlobalCeiling:      globalCeiling,
		PerWithdrawCeiling: perWithdraw,
	}
}

// Snapshot returns the current persisted-state view of the vault.
func (e *Engine) Snapshot() *Snapshot {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

// Restore replaces ledger balances, exposure, role grants and the pause flag
// from a snapshot. Price sources are runtime handles and must be re-bound
// from configuration after a restore.
func (e *Engine) Restore(snap *Snapshot) error {
	if e == nil {
		return errNilEngine
	}
	if snap == nil {
		return fmt.Errorf("vault: nil snapshot")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger.Restore(snap.Balances, snap.Exposure)
	e.gate.Restore(snap.Grants, snap.Paused)
	return nil
}

// DepositNative credits the caller with the declared amount of native
// currency. The attached payment must equal the declared amount exactly; any
// mismatch rejects the whole call with ErrNativeMismatch.
func (e *Engine) DepositNative(caller [20]byte, amount, attached *big.Int) (*Receipt, error) {
	if e == nil {
		return nil, errNilEngine
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.gate.RequireNotPaused(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if attached == nil || attached.Cmp(amount) != 0 {
		return nil, ErrNativeMismatch
	}
	value, err := e.quoteValue(AssetNative, amount)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Credit(AssetNative, caller, amount, value); err != nil {
		return nil, err
	}
	if err := e.checkpoint(); err != nil {
		_ = e.ledger.Debit(AssetNative, caller, amount, value)
		return nil, err
	}
	receipt := e.receipt(ReceiptKindDeposit, AssetNative, caller, amount, value)
	e.emitter.Emit(NewReceiptEvent(receipt))
	return receipt, nil
}

// DepositToken pulls amount of asset from the caller into custody and credits
// the ledger. The external pull executes before the ledger is credited; the
// cap is pre-checked under the lock so the credit cannot fail once the funds
// have moved.
func (e *Engine) DepositToken(caller [20]byte, asset Asset, amount *big.Int) (*Receipt, error) {
	if e == nil {
		return nil, errNilEngine
	}
	if asset.IsNative() {
		return nil, fmt.Errorf("vault: native deposits must declare an attached payment")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.gate.RequireNotPaused(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	value, err := e.quoteValue(asset, amount)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.CheckCredit(value); err != nil {
		return nil, err
	}
	if err := e.transfers.Pull(asset, caller, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.ledger.Credit(asset, caller, amount, value); err != nil {
		// Unreachable after the pre-check; surface it rather than strand the
		// pulled funds silently.
		return nil, err
	}
	if err := e.checkpoint(); err != nil {
		_ = e.ledger.Debit(asset, caller, amount, value)
		return nil, err
	}
	receipt := e.receipt(ReceiptKindDeposit, asset, caller, amount, value)
	e.emitter.Emit(NewReceiptEvent(receipt))
	return receipt, nil
}

// WithdrawNative debits the caller's native balance and pushes the funds out.
func (e *Engine) WithdrawNative(caller [20]byte, amount *big.Int) (*Receipt, error) {
	return e.withdraw(caller, AssetNative, amount)
}

// WithdrawToken debits the caller's asset balance and pushes the funds out.
func (e *Engine) WithdrawToken(caller [20]byte, asset Asset, amount *big.Int) (*Receipt, error) {
	if asset.IsNative() {
		return e.withdraw(caller, AssetNative, amount)
	}
	return e.withdraw(caller, asset, amount)
}

// withdraw implements the checks-effects-interactions ordering: every check
// and the ledger mutation complete before the external push, so a reentrant
// call during the transfer observes the already-reduced balance. A failed
// push restores the debited movement, leaving state as it was before the
// call.
func (e *Engine) withdraw(caller [20]byte, asset Asset, amount *big.Int) (*Receipt, error) {
	if e == nil {
		return nil, errNilEngine
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.gate.RequireNotPaused(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	value, err := e.quoteValue(asset, amount)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Debit(asset, caller, amount, value); err != nil {
		return nil, err
	}
	if err := e.checkpoint(); err != nil {
		e.ledger.recredit(asset, caller, amount, value)
		return nil, err
	}
	if err := e.transfers.Push(asset, caller, amount); err != nil {
		e.ledger.recredit(asset, caller, amount, value)
		if cpErr := e.checkpoint(); cpErr != nil {
			return nil, errors.Join(fmt.Errorf("%w: %v", ErrTransferFailed, err), cpErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	receipt := e.receipt(ReceiptKindWithdrawal, asset, caller, amount, value)
	e.emitter.Emit(NewReceiptEvent(receipt))
	return receipt, nil
}

// ReceiveNative handles native currency arriving outside a declared deposit.
// Such payments are always rejected.
func (e *Engine) ReceiveNative([20]byte, *big.Int) error {
	return ErrUnexpectedPayment
}

// BalanceOf returns the recorded raw balance for the pair.
func (e *Engine) BalanceOf(asset Asset, account [20]byte) *big.Int {
	if e == nil {
		return big.NewInt(0)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Balance(asset, account)
}

// Totals returns the aggregate exposure and both configured ceilings.
func (e *Engine) Totals() (exposure, globalCeiling, perWithdrawCeiling RefAmount) {
	if e == nil {
		return RefAmount{}, RefAmount{}, RefAmount{}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Totals()
}

// Paused reports the current pause flag.
func (e *Engine) Paused() bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.gate.Paused()
}

// SetPaused flips the pause flag. The caller must hold RolePauser.
func (e *Engine) SetPaused(caller [20]byte, paused bool) error {
	if e == nil {
		return errNilEngine
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	changed, err := e.gate.SetPaused(caller, paused)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := e.checkpoint(); err != nil {
		_, _ = e.gate.SetPaused(caller, !paused)
		return err
	}
	e.emitter.Emit(NewPauseEvent(caller, paused))
	return nil
}

// SetFeed registers or overwrites the price source for an asset. The caller
// must hold RoleVaultAdmin.
func (e *Engine) SetFeed(caller [20]byte, asset Asset, source PriceSource, decimals uint8) error {
	if e == nil {
		return errNilEngine
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.feeds.SetFeed(caller, asset, source, decimals); err != nil {
		return err
	}
	if err := e.checkpoint(); err != nil {
		return err
	}
	e.emitter.Emit(NewFeedEvent(caller, asset, decimals))
	return nil
}

// GrantRole assigns a role. The caller must hold RoleVaultAdmin.
func (e *Engine) GrantRole(caller [20]byte, role string, addr [20]byte) error {
	if e == nil {
		return errNilEngine
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.gate.Grant(caller, role, addr); err != nil {
		return err
	}
	if err := e.checkpoint(); err != nil {
		return err
	}
	e.emitter.Emit(NewRoleEvent(true, caller, role, addr))
	return nil
}

// RevokeRole removes a role. The caller must hold RoleVaultAdmin.
func (e *Engine) RevokeRole(caller [20]byte, role string, addr [20]byte) error {
	if e == nil {
		return errNilEngine
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.gate.Revoke(caller, role, addr); err != nil {
		return err
	}
	if err := e.checkpoint(); err != nil {
		return err
	}
	e.emitter.Emit(NewRoleEvent(false, caller, role, addr))
	return nil
}
