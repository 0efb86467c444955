package contract

import (
	"context"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainkit/txsim/internal/domain"
)

var (
	tokenA = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	tokenB = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	tokenC = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	wallet = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

// fakeBackend answers read-only calls from a script keyed by method ID and
// records submitted transactions.
type fakeBackend struct {
	t       *testing.T
	reg     *Registry
	abiName string

	callOutputs map[string]func(args []any) []byte

	txTo     []common.Address
	txData   [][]byte
	txResult domain.TxResult
}

func newFakeBackend(t *testing.T, reg *Registry, abiName string) *fakeBackend {
	return &fakeBackend{
		t:           t,
		reg:         reg,
		abiName:     abiName,
		callOutputs: make(map[string]func(args []any) []byte),
		txResult:    domain.TxResult{Status: domain.TxSuccess, Hash: "0xabc"},
	}
}

// respond registers a canned output for a view method, packed with the
// method's own output types.
func (f *fakeBackend) respond(method string, fn func(args []any) []any) {
	parsed, err := f.reg.Get(f.abiName)
	require.NoError(f.t, err)
	m, ok := parsed.Methods[method]
	require.True(f.t, ok, "unknown method %s", method)
	f.callOutputs[method] = func(args []any) []byte {
		out, err := m.Outputs.Pack(fn(args)...)
		require.NoError(f.t, err)
		return out
	}
}

func (f *fakeBackend) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	parsed, err := f.reg.Get(f.abiName)
	require.NoError(f.t, err)
	method, err := parsed.MethodById(data[:4])
	require.NoError(f.t, err)
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(f.t, err)

	fn, ok := f.callOutputs[method.Name]
	require.True(f.t, ok, "unscripted call %s", method.Name)
	return fn(args), nil
}

func (f *fakeBackend) Transact(ctx context.Context, to common.Address, value *big.Int, data []byte) (domain.TxResult, error) {
	f.txTo = append(f.txTo, to)
	f.txData = append(f.txData, data)
	return f.txResult, nil
}

// decodeTx unpacks the args of the i-th recorded transaction and asserts
// its method name.
func (f *fakeBackend) decodeTx(i int, wantMethod string) []any {
	parsed, err := f.reg.Get(f.abiName)
	require.NoError(f.t, err)
	require.Greater(f.t, len(f.txData), i, "no transaction %d recorded", i)
	method, err := parsed.MethodById(f.txData[i][:4])
	require.NoError(f.t, err)
	require.Equal(f.t, wantMethod, method.Name)
	args, err := method.Inputs.Unpack(f.txData[i][4:])
	require.NoError(f.t, err)
	return args
}

func TestRegistryEmbeddedABIs(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	for _, name := range []string{ABIERC20, ABIUniswapRouter, ABICurvePool} {
		_, err := reg.Get(name)
		assert.NoError(t, err, name)
	}

	_, err = reg.Get("governor")
	assert.ErrorIs(t, err, domain.ErrUnknownABI)
}

func TestRegistryLoadDir(t *testing.T) {
	dir := t.TempDir()
	custom := `[{"name":"ping","type":"function","stateMutability":"view","inputs":[],"outputs":[]}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.json"), []byte(custom), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644))

	reg, err := NewRegistry()
	require.NoError(t, err)
	require.NoError(t, reg.LoadDir(dir))

	parsed, err := reg.Get("custom")
	require.NoError(t, err)
	_, ok := parsed.Methods["ping"]
	assert.True(t, ok)
}

func TestRegistryLoadDirBadJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))

	reg, err := NewRegistry()
	require.NoError(t, err)
	assert.Error(t, reg.LoadDir(dir))
}

func TestERC20Approve(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	backend := newFakeBackend(t, reg, ABIERC20)

	token, err := NewERC20(reg, tokenA, backend)
	require.NoError(t, err)

	amount := big.NewInt(1_000_000)
	result, err := token.Approve(context.Background(), wallet, amount)
	require.NoError(t, err)
	assert.Equal(t, domain.TxSuccess, result.Status)

	args := backend.decodeTx(0, "approve")
	assert.Equal(t, wallet, args[0])
	assert.Zero(t, amount.Cmp(args[1].(*big.Int)))
	assert.Equal(t, tokenA, backend.txTo[0])
}

func TestERC20Allowance(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	backend := newFakeBackend(t, reg, ABIERC20)
	backend.respond("allowance", func(args []any) []any {
		assert.Equal(t, wallet, args[0])
		assert.Equal(t, tokenB, args[1])
		return []any{big.NewInt(42)}
	})

	token, err := NewERC20(reg, tokenA, backend)
	require.NoError(t, err)

	allowance, err := token.Allowance(context.Background(), wallet, tokenB)
	require.NoError(t, err)
	assert.Equal(t, int64(42), allowance.Int64())
}

func TestUniswapRouterSwap(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	backend := newFakeBackend(t, reg, ABIUniswapRouter)

	router, err := NewUniswapRouter(reg, tokenC, wallet, 100, nil, backend)
	require.NoError(t, err)

	amount := big.NewInt(5_000_000)
	result, err := router.Swap(context.Background(), tokenA, tokenB, amount)
	require.NoError(t, err)
	assert.Equal(t, domain.TxSuccess, result.Status)

	args := backend.decodeTx(0, "exactInputSingle")
	params := args[0].(struct {
		TokenIn           common.Address `json:"tokenIn"`
		TokenOut          common.Address `json:"tokenOut"`
		Fee               *big.Int       `json:"fee"`
		Recipient         common.Address `json:"recipient"`
		AmountIn          *big.Int       `json:"amountIn"`
		AmountOutMinimum  *big.Int       `json:"amountOutMinimum"`
		SqrtPriceLimitX96 *big.Int       `json:"sqrtPriceLimitX96"`
	})
	assert.Equal(t, tokenA, params.TokenIn)
	assert.Equal(t, tokenB, params.TokenOut)
	assert.Equal(t, int64(100), params.Fee.Int64())
	assert.Equal(t, wallet, params.Recipient)
	assert.Zero(t, amount.Cmp(params.AmountIn))
	assert.Equal(t, int64(0), params.AmountOutMinimum.Int64())
	assert.Equal(t, int64(0), params.SqrtPriceLimitX96.Int64())
}

func curveBackend(t *testing.T, reg *Registry, coins []common.Address, dy int64) *fakeBackend {
	backend := newFakeBackend(t, reg, ABICurvePool)
	backend.respond("N_COINS", func([]any) []any {
		return []any{big.NewInt(int64(len(coins)))}
	})
	backend.respond("coins", func(args []any) []any {
		return []any{coins[args[0].(*big.Int).Int64()]}
	})
	backend.respond("get_dy", func([]any) []any {
		return []any{big.NewInt(dy)}
	})
	return backend
}

func TestCurvePoolSwap(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	backend := curveBackend(t, reg, []common.Address{tokenC, tokenA, tokenB}, 990)

	pool, err := NewCurvePool(reg, tokenC, big.NewInt(900), backend, slog.Default())
	require.NoError(t, err)

	amount := big.NewInt(1000)
	result, err := pool.Swap(context.Background(), tokenA, tokenB, amount)
	require.NoError(t, err)
	assert.Equal(t, domain.TxSuccess, result.Status)

	args := backend.decodeTx(0, "exchange")
	assert.Equal(t, int64(1), args[0].(*big.Int).Int64())
	assert.Equal(t, int64(2), args[1].(*big.Int).Int64())
	assert.Zero(t, amount.Cmp(args[2].(*big.Int)))
	assert.Equal(t, int64(900), args[3].(*big.Int).Int64())
}

func TestCurvePoolSwapCoinNotInPool(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	backend := curveBackend(t, reg, []common.Address{tokenA, tokenC}, 0)

	pool, err := NewCurvePool(reg, tokenC, nil, backend, slog.Default())
	require.NoError(t, err)

	_, err = pool.Swap(context.Background(), tokenA, tokenB, big.NewInt(1000))
	assert.ErrorIs(t, err, domain.ErrCoinNotInPool)
	assert.Empty(t, backend.txData)
}

func TestCurvePoolCoinIndexes(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	backend := curveBackend(t, reg, []common.Address{tokenA, tokenB, tokenC}, 0)

	pool, err := NewCurvePool(reg, tokenC, nil, backend, slog.Default())
	require.NoError(t, err)

	indexes, err := pool.CoinIndexes(context.Background(), tokenB)
	require.NoError(t, err)
	assert.Equal(t, map[common.Address]int64{tokenB: 1}, indexes)
}
