package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainkit/txsim/internal/domain"
)

// Backend executes contract interactions against a chain. *ethnode.Node
// satisfies it; tests substitute a fake.
type Backend interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	Transact(ctx context.Context, to common.Address, value *big.Int, data []byte) (domain.TxResult, error)
}

// Bound is a contract ABI attached to a deployed address and a backend.
// The typed wrappers in this package embed it.
type Bound struct {
	name    string
	address common.Address
	abi     abi.ABI
	backend Backend
}

// NewBound binds the named ABI from reg to a deployed contract address.
func NewBound(reg *Registry, name string, address common.Address, backend Backend) (*Bound, error) {
	parsed, err := reg.Get(name)
	if err != nil {
		return nil, err
	}
	return &Bound{name: name, address: address, abi: parsed, backend: backend}, nil
}

// Address returns the deployed contract address.
func (b *Bound) Address() common.Address {
	return b.address
}

// Call packs method with args, executes a read-only call and returns the
// unpacked outputs.
func (b *Bound) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contract: pack %s.%s: %w", b.name, method, err)
	}
	out, err := b.backend.CallContract(ctx, b.address, data)
	if err != nil {
		return nil, fmt.Errorf("contract: call %s.%s: %w", b.name, method, err)
	}
	results, err := b.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("contract: unpack %s.%s: %w", b.name, method, err)
	}
	return results, nil
}

// Transact packs method with args and submits it as a state-changing
// transaction carrying value wei.
func (b *Bound) Transact(ctx context.Context, value *big.Int, method string, args ...any) (domain.TxResult, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("contract: pack %s.%s: %w", b.name, method, err)
	}
	return b.backend.Transact(ctx, b.address, value, data)
}
