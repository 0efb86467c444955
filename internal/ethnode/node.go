// Package ethnode wraps go-ethereum's RPC client with the transaction
// plumbing the simulation programs need: connection retries, EIP-1559 fee
// suggestion, nonce management, signing, submission, and receipt
// verification.
package ethnode

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/chainkit/txsim/internal/domain"
)

// reconnectWait is the pause between connection attempts in Dial.
const reconnectWait = time.Second

// nonceLockTTL bounds how long a crashed process can hold a sender's nonce
// lock.
const nonceLockTTL = 30 * time.Second

// Config holds the parameters for one RPC endpoint connection.
type Config struct {
	Endpoint       string
	Retries        int
	GasLimit       uint64
	ReceiptTimeout time.Duration
}

// Node is a connected RPC endpoint bound to a signing account. All
// transactions built by the node are EIP-1559 dynamic fee transactions.
type Node struct {
	client         *ethclient.Client
	endpoint       string
	chainID        *big.Int
	key            *ecdsa.PrivateKey
	address        common.Address
	signer         types.Signer
	gasLimit       uint64
	receiptTimeout time.Duration
	locks          domain.LockManager
	logger         *slog.Logger
}

// Dial connects to the endpoint in cfg and verifies the connection by
// fetching the chain ID. Failed attempts are retried up to cfg.Retries times
// with a short pause between attempts; a final failure wraps
// domain.ErrNotConnected.
func Dial(ctx context.Context, cfg Config, key *ecdsa.PrivateKey, logger *slog.Logger) (*Node, error) {
	log := logger.With(slog.String("component", "ethnode"), slog.String("endpoint", cfg.Endpoint))

	var (
		client  *ethclient.Client
		chainID *big.Int
		lastErr error
	)
	for attempt := 0; ; attempt++ {
		client, lastErr = ethclient.DialContext(ctx, cfg.Endpoint)
		if lastErr == nil {
			chainID, lastErr = client.ChainID(ctx)
			if lastErr == nil {
				break
			}
			client.Close()
		}

		if attempt >= cfg.Retries {
			return nil, fmt.Errorf("ethnode: %w: %s: %v", domain.ErrNotConnected, cfg.Endpoint, lastErr)
		}
		log.Warn("connection failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reconnectWait):
		}
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 400_000
	}
	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = 2 * time.Minute
	}

	return &Node{
		client:         client,
		endpoint:       cfg.Endpoint,
		chainID:        chainID,
		key:            key,
		address:        ethcrypto.PubkeyToAddress(key.PublicKey),
		signer:         types.LatestSignerForChainID(chainID),
		gasLimit:       gasLimit,
		receiptTimeout: receiptTimeout,
		logger:         log,
	}, nil
}

// WithLockManager enables distributed nonce locking. With a lock manager in
// place, concurrent senders sharing an account serialize their
// nonce-fetch-and-send sections so a nonce is never reused.
func (n *Node) WithLockManager(lm domain.LockManager) *Node {
	n.locks = lm
	return n
}

// Address returns the sending account address.
func (n *Node) Address() common.Address {
	return n.address
}

// Endpoint returns the RPC endpoint URL this node is connected to.
func (n *Node) Endpoint() string {
	return n.endpoint
}

// ChainID returns the connected chain's ID.
func (n *Node) ChainID() *big.Int {
	return new(big.Int).Set(n.chainID)
}

// Client exposes the underlying ethclient for subsystems that need direct
// access (e.g. the block watcher).
func (n *Node) Client() *ethclient.Client {
	return n.client
}

// Close releases the underlying RPC connection.
func (n *Node) Close() {
	n.client.Close()
}

// SuggestFees returns EIP-1559 fee parameters: the node's suggested priority
// fee, and a fee cap of twice the latest base fee plus the priority fee. On
// chains without a base fee the suggested legacy gas price is used as the
// cap.
func (n *Node) SuggestFees(ctx context.Context) (domain.GasFees, error) {
	head, err := n.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return domain.GasFees{}, fmt.Errorf("ethnode: latest header: %w", err)
	}
	tip, err := n.client.SuggestGasTipCap(ctx)
	if err != nil {
		return domain.GasFees{}, fmt.Errorf("ethnode: suggest tip cap: %w", err)
	}

	if head.BaseFee == nil {
		price, err := n.client.SuggestGasPrice(ctx)
		if err != nil {
			return domain.GasFees{}, fmt.Errorf("ethnode: suggest gas price: %w", err)
		}
		return domain.GasFees{TipCap: tip, FeeCap: price}, nil
	}

	return domain.GasFees{TipCap: tip, FeeCap: FeeCap(head.BaseFee, tip)}, nil
}

// FeeCap computes the maxFeePerGas used for every transaction: twice the
// base fee plus the priority fee, enough headroom to survive several
// consecutive full blocks.
func FeeCap(baseFee, tip *big.Int) *big.Int {
	cap := new(big.Int).Lsh(baseFee, 1)
	return cap.Add(cap, tip)
}

// SendETH transfers amountWei to the given address and waits for the
// outcome.
func (n *Node) SendETH(ctx context.Context, to common.Address, amountWei *big.Int) (domain.TxResult, error) {
	return n.Transact(ctx, to, amountWei, nil)
}

// Transact builds, signs, submits, and verifies a dynamic fee transaction to
// the given address. The returned TxResult reports the receipt outcome;
// TxNotVerified means the receipt did not arrive within the configured
// timeout. Submission failures (signing, RPC errors) are returned as errors.
func (n *Node) Transact(ctx context.Context, to common.Address, value *big.Int, data []byte) (domain.TxResult, error) {
	unlock, err := n.acquireNonceLock(ctx)
	if err != nil {
		return domain.TxResult{}, err
	}

	signed, err := n.buildAndSign(ctx, to, value, data)
	if err != nil {
		unlock()
		return domain.TxResult{}, err
	}

	if err := n.client.SendTransaction(ctx, signed); err != nil {
		unlock()
		return domain.TxResult{}, fmt.Errorf("ethnode: send transaction: %w", err)
	}
	// The nonce is consumed once the node accepts the transaction; waiting
	// for the receipt does not need the lock.
	unlock()

	n.logger.Debug("transaction submitted",
		slog.String("hash", signed.Hash().Hex()),
		slog.Uint64("nonce", signed.Nonce()),
	)

	return domain.TxResult{
		Status: n.waitReceipt(ctx, signed),
		Hash:   signed.Hash().Hex(),
	}, nil
}

// CallContract executes a read-only call against the given contract.
func (n *Node) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := n.client.CallContract(ctx, ethereum.CallMsg{
		From: n.address,
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("ethnode: call %s: %w", to.Hex(), err)
	}
	return out, nil
}

// buildAndSign assembles a dynamic fee transaction with the account's
// pending nonce and current fee suggestions, then signs it.
func (n *Node) buildAndSign(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	nonce, err := n.client.PendingNonceAt(ctx, n.address)
	if err != nil {
		return nil, fmt.Errorf("ethnode: pending nonce: %w", err)
	}
	fees, err := n.SuggestFees(ctx)
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = new(big.Int)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   n.chainID,
		Nonce:     nonce,
		GasTipCap: fees.TipCap,
		GasFeeCap: fees.FeeCap,
		Gas:       n.gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	signed, err := types.SignTx(tx, n.signer, n.key)
	if err != nil {
		return nil, fmt.Errorf("ethnode: sign transaction: %w", err)
	}
	return signed, nil
}

// waitReceipt blocks until the transaction is mined or the receipt timeout
// elapses, mapping the outcome to a TxStatus.
func (n *Node) waitReceipt(ctx context.Context, tx *types.Transaction) domain.TxStatus {
	waitCtx, cancel := context.WithTimeout(ctx, n.receiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, n.client, tx)
	if err != nil {
		n.logger.Warn("receipt not observed",
			slog.String("hash", tx.Hash().Hex()),
			slog.String("error", err.Error()),
		)
		return domain.TxNotVerified
	}
	return domain.StatusFromReceipt(receipt.Status)
}

// acquireNonceLock takes the distributed per-sender nonce lock when a lock
// manager is configured, waiting out short contention. The returned unlock
// function is always non-nil and safe to call when no lock manager is set.
func (n *Node) acquireNonceLock(ctx context.Context) (func(), error) {
	if n.locks == nil {
		return func() {}, nil
	}

	key := "nonce:" + n.address.Hex()
	for {
		unlock, err := n.locks.Acquire(ctx, key, nonceLockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("ethnode: nonce lock: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
