package vault

import (
	"fmt"
	"math/big"
)

// ConvertToRef converts a raw asset amount into its reference-unit value using
// the supplied price quote.
//
// The price is the value of one whole asset unit expressed in reference
// currency at priceDecimals precision, so
//
//	ref = amount * price / 10^(assetDecimals + priceDecimals - RefDecimals)
//
// A positive exponent scales down with integer division truncating toward
// zero: the recorded exposure never exceeds the economic value moved. A
// negative exponent scales up by the corresponding power of ten, which is
// exact. Amounts must be non-negative and the price strictly positive.
func ConvertToRef(amount *big.Int, assetDecimals uint8, price *big.Int, priceDecimals uint8) (RefAmount, error) {
	if amount == nil || amount.Sign() < 0 {
		return RefAmount{}, fmt.Errorf("vault: convert amount must be non-negative")
	}
	if price == nil || price.Sign() <= 0 {
		return RefAmount{}, ErrInvalidPrice
	}
	value := new(big.Int).Mul(amount, price)
	exponent := int(assetDecimals) + int(priceDecimals) - RefDecimals
	switch {
	case exponent > 0:
		value.Quo(value, pow10(exponent))
	case exponent < 0:
		value.Mul(value, pow10(-exponent))
	}
	return RefAmount{v: value}, nil
}

func pow10(exp int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}
