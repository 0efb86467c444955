package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainkit/txsim/internal/domain"
)

// ERC20 wraps a deployed ERC-20 token contract.
type ERC20 struct {
	*Bound
}

// NewERC20 binds the ERC-20 ABI to a token address.
func NewERC20(reg *Registry, address common.Address, backend Backend) (*ERC20, error) {
	bound, err := NewBound(reg, ABIERC20, address, backend)
	if err != nil {
		return nil, err
	}
	return &ERC20{Bound: bound}, nil
}

// Approve grants spender an allowance of amount tokens.
func (t *ERC20) Approve(ctx context.Context, spender common.Address, amount *big.Int) (domain.TxResult, error) {
	return t.Transact(ctx, nil, "approve", spender, amount)
}

// Allowance reads the remaining allowance owner has granted spender.
func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	results, err := t.Call(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return toBigInt(results, "allowance")
}

// BalanceOf reads the token balance of account.
func (t *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	results, err := t.Call(ctx, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return toBigInt(results, "balanceOf")
}

func toBigInt(results []any, method string) (*big.Int, error) {
	if len(results) != 1 {
		return nil, fmt.Errorf("contract: %s returned %d values, want 1", method, len(results))
	}
	value, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("contract: %s returned %T, want *big.Int", method, results[0])
	}
	return value, nil
}
