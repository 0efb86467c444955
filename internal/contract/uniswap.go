package contract

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainkit/txsim/internal/domain"
)

// exactInputSingleParams mirrors the router's ExactInputSingleParams tuple.
type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// UniswapRouter swaps tokens through a Uniswap v3 router with single-hop
// exactInputSingle calls.
type UniswapRouter struct {
	*Bound
	recipient common.Address
	fee       int64
	minOut    *big.Int
}

// NewUniswapRouter binds the router ABI to a deployed router. Swapped tokens
// are delivered to recipient. fee is the pool fee tier in hundredths of a
// basis point and minOut is the minimum acceptable output amount in token
// units; both apply to every swap through this router.
func NewUniswapRouter(reg *Registry, address, recipient common.Address, fee int64, minOut *big.Int, backend Backend) (*UniswapRouter, error) {
	bound, err := NewBound(reg, ABIUniswapRouter, address, backend)
	if err != nil {
		return nil, err
	}
	if minOut == nil {
		minOut = big.NewInt(0)
	}
	return &UniswapRouter{Bound: bound, recipient: recipient, fee: fee, minOut: minOut}, nil
}

// Swap sells amount of tokenIn for tokenOut through the configured fee tier.
func (r *UniswapRouter) Swap(ctx context.Context, tokenIn, tokenOut common.Address, amount *big.Int) (domain.TxResult, error) {
	params := exactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		Fee:               big.NewInt(r.fee),
		Recipient:         r.recipient,
		AmountIn:          amount,
		AmountOutMinimum:  r.minOut,
		SqrtPriceLimitX96: big.NewInt(0),
	}
	return r.Transact(ctx, nil, "exactInputSingle", params)
}
