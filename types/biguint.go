package types

import (
	"encoding/json"
	"math/big"

	"github.com/holiman/uint256"
)

// BigUint wraps uint256.Int for the unscaled 256-bit reserve values
// spec §3 requires (reserve0/reserve1 >= 0, no upper bound other than
// the EVM's own uint256 word size). JSON-encodes as a decimal string so
// the audit service and any JSON consumer never has to parse a 256-bit
// number out of a JSON number literal.
type BigUint struct {
	v *uint256.Int
}

func NewBigUint(v *uint256.Int) *BigUint { return &BigUint{v: v} }

func BigUintFromUint64(v uint64) *BigUint { return &BigUint{v: uint256.NewInt(v)} }

// NewBigUintFromBigInt adapts a *big.Int result from go-ethereum's abi
// decoder (which always unpacks uint256 as *big.Int) into a BigUint.
func NewBigUintFromBigInt(v *big.Int) *BigUint {
	u, _ := uint256.FromBig(v)
	return &BigUint{v: u}
}

func (b *BigUint) Int() *uint256.Int {
	if b == nil || b.v == nil {
		return uint256.NewInt(0)
	}
	return b.v
}

// Scaled divides by 10^decimals and returns an IEEE-754 double, per the
// numeric semantics spec §4.5 mandates for all reserve/price arithmetic.
func (b *BigUint) Scaled(decimals uint8) float64 {
	f := new(big.Float).SetInt(b.Int().ToBig())
	divisor := new(big.Float).SetInt(Pow10(decimals))
	f.Quo(f, divisor)
	out, _ := f.Float64()
	return out
}

// Pow10 returns 10^n as a *big.Int.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func (b *BigUint) IsZero() bool { return b == nil || b.v == nil || b.v.IsZero() }

func (b *BigUint) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Int().ToBig().String())
}

func (b *BigUint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return err
	}
	b.v = v
	return nil
}
