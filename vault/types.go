package vault

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	// RefDecimals is the fixed decimal precision of the reference accounting
	// unit. All ceilings and the aggregate exposure use this scale.
	RefDecimals = 6
	// NativeDecimals is the smallest-denomination precision of the native
	// currency held by the vault.
	NativeDecimals = 18
)

// Asset identifies a custodied token by its normalised symbol. The native
// currency uses the reserved AssetNative sentinel.
type Asset string

// AssetNative is the reserved identifier for the native currency.
const AssetNative Asset = "NATIVE"

// NormalizeAsset canonicalises an asset symbol to upper case and validates the
// character set. Symbols are limited to 1-16 alphanumeric characters.
func NormalizeAsset(symbol string) (Asset, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("vault: asset symbol required")
	}
	if len(trimmed) > 16 {
		return "", fmt.Errorf("vault: asset symbol %q too long", symbol)
	}
	for _, r := range trimmed {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("vault: invalid asset symbol %q", symbol)
		}
	}
	return Asset(trimmed), nil
}

// IsNative reports whether the asset is the native-currency sentinel.
func (a Asset) IsNative() bool { return a == AssetNative }

// RefAmount is a value denominated in the reference unit at RefDecimals
// precision. It wraps big.Int so raw token amounts cannot be passed where a
// reference value is expected. The zero value represents zero.
type RefAmount struct {
	v *big.Int
}

// NewRefAmount wraps the supplied integer as a reference value. The input is
// copied; nil is treated as zero.
func NewRefAmount(v *big.Int) RefAmount {
	if v == nil {
		return RefAmount{}
	}
	return RefAmount{v: new(big.Int).Set(v)}
}

// RefAmountFromUint64 wraps a uint64 as a reference value.
func RefAmountFromUint64(v uint64) RefAmount {
	return RefAmount{v: new(big.Int).SetUint64(v)}
}

// BigInt returns a defensive copy of the underlying integer.
func (r RefAmount) BigInt() *big.Int {
	if r.v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(r.v)
}

// Sign reports the sign of the value.
func (r RefAmount) Sign() int {
	if r.v == nil {
		return 0
	}
	return r.v.Sign()
}

// Cmp compares r against other, returning -1, 0 or 1.
func (r RefAmount) Cmp(other RefAmount) int {
	return r.BigInt().Cmp(other.BigInt())
}

// Add returns r + other without mutating either operand.
func (r RefAmount) Add(other RefAmount) RefAmount {
	return RefAmount{v: new(big.Int).Add(r.BigInt(), other.BigInt())}
}

// Sub returns r - other without mutating either operand.
func (r RefAmount) Sub(other RefAmount) RefAmount {
	return RefAmount{v: new(big.Int).Sub(r.BigInt(), other.BigInt())}
}

// String renders the value as an unscaled integer string of reference units.
func (r RefAmount) String() string {
	return r.BigInt().String()
}

// Receipt summarises a committed deposit or withdrawal.
type Receipt struct {
	ID        string
	Kind      string
	Asset     Asset
	Account   [20]byte
	Amount    *big.Int
	Value     RefAmount
	Timestamp int64
}

// Copy returns a deep copy to shield callers from accidental mutation.
func (r *Receipt) Copy() *Receipt {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	}
	clone.Value = NewRefAmount(r.Value.v)
	return &clone
}

// Receipt kinds recorded on emitted events.
const (
	ReceiptKindDeposit    = "deposit"
	ReceiptKindWithdrawal = "withdrawal"
)

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
