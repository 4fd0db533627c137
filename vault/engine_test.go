package vault

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"tokenvault/core/events"
)

// mockAdapter records transfer instructions and can be primed to fail or to
// observe ledger state mid-transfer.
type mockAdapter struct {
	pulls   int
	pushes  int
	pullErr error
	pushErr error
	onPush  func()
}

func (m *mockAdapter) Pull(Asset, [20]byte, *big.Int) error {
	m.pulls++
	return m.pullErr
}

func (m *mockAdapter) Push(Asset, [20]byte, *big.Int) error {
	m.pushes++
	if m.onPush != nil {
		m.onPush()
	}
	if m.pushErr != nil {
		return m.pushErr
	}
	return nil
}

type failingCheckpointer struct {
	err   error
	saves int
}

func (f *failingCheckpointer) SaveState(*Snapshot) error {
	f.saves++
	return f.err
}

type engineFixture struct {
	engine  *Engine
	ledger  *Ledger
	adapter *mockAdapter
	admin   [20]byte
}

func newEngineFixture(t *testing.T, globalCeiling, perWithdraw uint64) *engineFixture {
	t.Helper()
	admin := testAddress(0xAA)
	gate := NewAccessGate(admin)
	feeds := NewPriceRegistry(gate)
	ledger, err := NewLedger(RefAmountFromUint64(globalCeiling), RefAmountFromUint64(perWithdraw))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	adapter := &mockAdapter{}
	engine, err := NewEngine(gate, feeds, ledger, adapter)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return &engineFixture{engine: engine, ledger: ledger, adapter: adapter, admin: admin}
}

// setFeed registers a fixed price for the asset using the fixture admin.
func (f *engineFixture) setFeed(t *testing.T, asset Asset, price int64, priceDecimals, assetDecimals uint8) {
	t.Helper()
	source := StaticSource{Price: big.NewInt(price), Decimals: priceDecimals}
	if err := f.engine.SetFeed(f.admin, asset, source, assetDecimals); err != nil {
		t.Fatalf("set feed %s: %v", asset, err)
	}
}

func TestDepositNativeCreditsCallerAndExposure(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 0)
	// Native priced at 1.00 reference units per whole unit, 2 price decimals.
	fix.setFeed(t, AssetNative, 100, 2, NativeDecimals)
	caller := testAddress(0x01)

	amount := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	receipt, err := fix.engine.DepositNative(caller, amount, new(big.Int).Set(amount))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if receipt.Kind != ReceiptKindDeposit || receipt.Asset != AssetNative || receipt.Account != caller {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	// 1 whole unit at 1.00 = 1_000_000 reference units.
	if receipt.Value.BigInt().Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("receipt value = %s, want 1000000", receipt.Value)
	}
	if receipt.Timestamp != 1_700_000_000 {
		t.Fatalf("receipt timestamp = %d", receipt.Timestamp)
	}
	if got := fix.engine.BalanceOf(AssetNative, caller); got.Cmp(amount) != 0 {
		t.Fatalf("balance = %s, want %s", got, amount)
	}
	exposure, _, _ := fix.engine.Totals()
	if exposure.BigInt().Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("exposure = %s, want 1000000", exposure)
	}
	if fix.adapter.pulls != 0 {
		t.Fatalf("native deposit must not pull, got %d pulls", fix.adapter.pulls)
	}
}

func TestDepositNativeRejectsMismatchedAttachment(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 0)
	fix.setFeed(t, AssetNative, 100, 2, NativeDecimals)
	caller := testAddress(0x01)

	_, err := fix.engine.DepositNative(caller, big.NewInt(1000), big.NewInt(999))
	if !errors.Is(err, ErrNativeMismatch) {
		t.Fatalf("expected ErrNativeMismatch, got %v", err)
	}
	_, err = fix.engine.DepositNative(caller, big.NewInt(1000), nil)
	if !errors.Is(err, ErrNativeMismatch) {
		t.Fatalf("expected ErrNativeMismatch for nil attachment, got %v", err)
	}
	if got := fix.engine.BalanceOf(AssetNative, caller); got.Sign() != 0 {
		t.Fatalf("balance after rejection = %s, want 0", got)
	}
}

func TestDepositTokenConvertsAtFeedPrice(t *testing.T) {
	// Ceiling of 100 reference units; an 18-decimal asset priced at 3000 with
	// 8 price decimals. Depositing 0.001 of a unit credits 3.0 reference units.
	fix := newEngineFixture(t, 100_000_000, 0)
	price := new(big.Int).Mul(big.NewInt(3000), new(big.Int).Exp(big.NewInt(10), big.NewInt(8), nil))
	source := StaticSource{Price: price, Decimals: 8}
	if err := fix.engine.SetFeed(fix.admin, "WETH", source, 18); err != nil {
		t.Fatalf("set feed: %v", err)
	}
	caller := testAddress(0x02)

	amount := new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil)
	receipt, err := fix.engine.DepositToken(caller, "WETH", amount)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if receipt.Value.BigInt().Cmp(big.NewInt(3_000_000)) != 0 {
		t.Fatalf("receipt value = %s, want 3000000", receipt.Value)
	}
	if fix.adapter.pulls != 1 {
		t.Fatalf("pulls = %d, want 1", fix.adapter.pulls)
	}
	exposure, _, _ := fix.engine.Totals()
	if exposure.BigInt().Cmp(big.NewInt(3_000_000)) != 0 {
		t.Fatalf("exposure = %s, want 3000000", exposure)
	}
}

func TestDepositTokenCapRejectedBeforePull(t *testing.T) {
	fix := newEngineFixture(t, 100, 0)
	fix.setFeed(t, "ABC", 1_000_000, 6, 6)
	caller := testAddress(0x02)

	// 101 whole units at price 1.0 projects 101 reference units over a 100
	// ceiling; the external pull must never run.
	_, err := fix.engine.DepositToken(caller, "ABC", big.NewInt(101))
	var capErr *CapExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapExceededError, got %v", err)
	}
	if fix.adapter.pulls != 0 {
		t.Fatalf("pull ran despite cap rejection: %d", fix.adapter.pulls)
	}
}

func TestDepositTokenPullFailureLeavesStateUntouched(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 0)
	fix.setFeed(t, "ABC", 1_000_000, 6, 6)
	fix.adapter.pullErr = errors.New("bridge offline")
	caller := testAddress(0x02)

	_, err := fix.engine.DepositToken(caller, "ABC", big.NewInt(5))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if got := fix.engine.BalanceOf("ABC", caller); got.Sign() != 0 {
		t.Fatalf("balance after failed pull = %s, want 0", got)
	}
	exposure, _, _ := fix.engine.Totals()
	if exposure.Sign() != 0 {
		t.Fatalf("exposure after failed pull = %s, want 0", exposure)
	}
}

func TestDepositTokenRejectsNativeSentinel(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 0)
	if _, err := fix.engine.DepositToken(testAddress(0x02), AssetNative, big.NewInt(1)); err == nil {
		t.Fatal("expected error for native sentinel on token path")
	}
}

func TestWithdrawDebitsBeforePush(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 0)
	fix.setFeed(t, "ABC", 1_000_000, 6, 6)
	caller := testAddress(0x02)
	if _, err := fix.engine.DepositToken(caller, "ABC", big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// The adapter observes the ledger while the push is in flight: the debit
	// must already be visible, so a reentrant call cannot double-spend.
	var observed *big.Int
	fix.adapter.onPush = func() {
		observed = fix.ledger.Balance("ABC", caller)
	}
	receipt, err := fix.engine.WithdrawToken(caller, "ABC", big.NewInt(4))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if observed == nil || observed.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("balance during push = %v, want 6", observed)
	}
	if receipt.Kind != ReceiptKindWithdrawal {
		t.Fatalf("receipt kind = %s", receipt.Kind)
	}
	if got := fix.engine.BalanceOf("ABC", caller); got.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("balance = %s, want 6", got)
	}
}

func TestWithdrawPushFailureRestoresState(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 0)
	fix.setFeed(t, "ABC", 1_000_000, 6, 6)
	caller := testAddress(0x02)
	if _, err := fix.engine.DepositToken(caller, "ABC", big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	exposureBefore, _, _ := fix.engine.Totals()

	fix.adapter.pushErr = errors.New("bridge offline")
	_, err := fix.engine.WithdrawToken(caller, "ABC", big.NewInt(4))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if got := fix.engine.BalanceOf("ABC", caller); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("balance after failed push = %s, want 10", got)
	}
	exposureAfter, _, _ := fix.engine.Totals()
	if exposureAfter.Cmp(exposureBefore) != 0 {
		t.Fatalf("exposure after failed push = %s, want %s", exposureAfter, exposureBefore)
	}
}

func TestWithdrawRespectsPerWithdrawalCeiling(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 2_000_000)
	fix.setFeed(t, "ABC", 1_000_000, 6, 6)
	caller := testAddress(0x02)
	if _, err := fix.engine.DepositToken(caller, "ABC", big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// 3 whole units at price 1.0 is 3 reference units, over the 2-unit limit.
	_, err := fix.engine.WithdrawToken(caller, "ABC", big.NewInt(3))
	var limitErr *WithdrawLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected WithdrawLimitError, got %v", err)
	}
	if fix.adapter.pushes != 0 {
		t.Fatalf("push ran despite limit rejection: %d", fix.adapter.pushes)
	}
	if _, err := fix.engine.WithdrawToken(caller, "ABC", big.NewInt(2)); err != nil {
		t.Fatalf("withdraw at limit: %v", err)
	}
}

func TestPauseBlocksMovements(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 0)
	fix.setFeed(t, AssetNative, 100, 2, NativeDecimals)
	caller := testAddress(0x01)

	if err := fix.engine.SetPaused(caller, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-pauser, got %v", err)
	}
	if err := fix.engine.SetPaused(fix.admin, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !fix.engine.Paused() {
		t.Fatal("engine should report paused")
	}
	if _, err := fix.engine.DepositNative(caller, big.NewInt(1), big.NewInt(1)); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused on deposit, got %v", err)
	}
	if _, err := fix.engine.WithdrawNative(caller, big.NewInt(1)); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused on withdrawal, got %v", err)
	}
	if err := fix.engine.SetPaused(fix.admin, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := fix.engine.DepositNative(caller, big.NewInt(1), big.NewInt(1)); err != nil {
		t.Fatalf("deposit after unpause: %v", err)
	}
}

func TestMovementsRejectZeroAmounts(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 0)
	fix.setFeed(t, AssetNative, 100, 2, NativeDecimals)
	caller := testAddress(0x01)

	if _, err := fix.engine.DepositNative(caller, big.NewInt(0), big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
	if _, err := fix.engine.WithdrawNative(caller, nil); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestMovementsRequireConfiguredFeed(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 0)
	caller := testAddress(0x01)

	_, err := fix.engine.DepositToken(caller, "XYZ", big.NewInt(1))
	var feedErr *FeedNotConfiguredError
	if !errors.As(err, &feedErr) {
		t.Fatalf("expected FeedNotConfiguredError, got %v", err)
	}
	if feedErr.Asset != "XYZ" {
		t.Fatalf("error names asset %s", feedErr.Asset)
	}
	if fix.adapter.pulls != 0 {
		t.Fatalf("pull ran without a feed: %d", fix.adapter.pulls)
	}
}

func TestMovementsRejectNonPositivePrice(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 0)
	if err := fix.engine.SetFeed(fix.admin, "ABC", StaticSource{Price: big.NewInt(0), Decimals: 6}, 6); err != nil {
		t.Fatalf("set feed: %v", err)
	}
	if _, err := fix.engine.DepositToken(testAddress(0x01), "ABC", big.NewInt(1)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestMovementsSurfaceFeedErrors(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 0)
	feedErr := errors.New("upstream timeout")
	if err := fix.engine.SetFeed(fix.admin, "ABC", StaticSource{Err: feedErr}, 6); err != nil {
		t.Fatalf("set feed: %v", err)
	}
	if _, err := fix.engine.DepositToken(testAddress(0x01), "ABC", big.NewInt(1)); !errors.Is(err, feedErr) {
		t.Fatalf("expected wrapped feed error, got %v", err)
	}
}

func TestReceiveNativeAlwaysRejected(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 0)
	if err := fix.engine.ReceiveNative(testAddress(0x01), big.NewInt(1)); !errors.Is(err, ErrUnexpectedPayment) {
		t.Fatalf("expected ErrUnexpectedPayment, got %v", err)
	}
}

func TestCheckpointFailureRollsBackDeposit(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 0)
	fix.setFeed(t, AssetNative, 100, 2, NativeDecimals)
	journal := &failingCheckpointer{err: errors.New("disk full")}
	fix.engine.SetCheckpointer(journal)
	caller := testAddress(0x01)

	_, err := fix.engine.DepositNative(caller, big.NewInt(1000), big.NewInt(1000))
	if err == nil || !errors.Is(err, journal.err) {
		t.Fatalf("expected checkpoint error, got %v", err)
	}
	if got := fix.engine.BalanceOf(AssetNative, caller); got.Sign() != 0 {
		t.Fatalf("balance after rollback = %s, want 0", got)
	}
	exposure, _, _ := fix.engine.Totals()
	if exposure.Sign() != 0 {
		t.Fatalf("exposure after rollback = %s, want 0", exposure)
	}
}

func TestCommittedMovementsCheckpointAndEmit(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 0)
	fix.setFeed(t, "ABC", 1_000_000, 6, 6)
	journal := &failingCheckpointer{}
	fix.engine.SetCheckpointer(journal)
	buffer := events.NewBuffer(8)
	fix.engine.SetEmitter(buffer)
	caller := testAddress(0x02)

	if _, err := fix.engine.DepositToken(caller, "ABC", big.NewInt(5)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := fix.engine.WithdrawToken(caller, "ABC", big.NewInt(2)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if journal.saves != 2 {
		t.Fatalf("saves = %d, want 2", journal.saves)
	}
	recent := buffer.Recent()
	if len(recent) != 2 {
		t.Fatalf("events = %d, want 2", len(recent))
	}
	if recent[0].Type != EventTypeDeposit || recent[1].Type != EventTypeWithdrawal {
		t.Fatalf("unexpected event types: %s, %s", recent[0].Type, recent[1].Type)
	}
	if recent[1].Attributes["asset"] != "ABC" {
		t.Fatalf("withdrawal event attributes: %+v", recent[1].Attributes)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	fix := newEngineFixture(t, 100_000_000, 0)
	fix.setFeed(t, "ABC", 1_000_000, 6, 6)
	caller := testAddress(0x02)
	operator := testAddress(0x03)
	if _, err := fix.engine.DepositToken(caller, "ABC", big.NewInt(5)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := fix.engine.GrantRole(fix.admin, RolePauser, operator); err != nil {
		t.Fatalf("grant: %v", err)
	}
	snap := fix.engine.Snapshot()

	other := newEngineFixture(t, 100_000_000, 0)
	if err := other.engine.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := other.engine.BalanceOf("ABC", caller); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("restored balance = %s, want 5", got)
	}
	exposure, _, _ := other.engine.Totals()
	if exposure.BigInt().Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("restored exposure = %s, want 5000000", exposure)
	}
	// The restored grant is live: the operator can pause.
	if err := other.engine.SetPaused(operator, true); err != nil {
		t.Fatalf("pause by restored operator: %v", err)
	}
}
