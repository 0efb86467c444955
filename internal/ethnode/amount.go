package ethnode

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainkit/txsim/internal/domain"
)

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParseEther converts a decimal ETH amount (e.g. "0.001") to wei without
// going through floating point. Negative amounts and amounts with sub-wei
// precision are rejected.
func ParseEther(s string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("ethnode: invalid ether amount %q", s)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("ethnode: ether amount %q must not be negative", s)
	}

	wei := new(big.Rat).Mul(r, new(big.Rat).SetInt(weiPerEther))
	if !wei.IsInt() {
		return nil, fmt.Errorf("ethnode: ether amount %q has sub-wei precision", s)
	}
	return new(big.Int).Set(wei.Num()), nil
}

// ValidateAddress parses a hex address string, wrapping
// domain.ErrInvalidAddress on failure.
func ValidateAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("ethnode: %w: %q", domain.ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}
