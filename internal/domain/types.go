// Package domain defines the core types and store interfaces shared by every
// txsim subsystem: transaction results, the transaction journal, distributed
// locks, the event bus, and blob storage.
package domain

import (
	"math/big"
	"time"
)

// TxStatus is the terminal state of a submitted transaction.
type TxStatus string

const (
	// TxSuccess means the transaction was mined and its receipt reported
	// status 1.
	TxSuccess TxStatus = "success"
	// TxFailed means the transaction was mined but reverted (receipt
	// status 0).
	TxFailed TxStatus = "failed"
	// TxNotVerified means no receipt was observed before the wait timeout;
	// the transaction may still land later.
	TxNotVerified TxStatus = "not_verified"
)

// StatusFromReceipt maps an execution-layer receipt status field to a
// TxStatus.
func StatusFromReceipt(status uint64) TxStatus {
	if status == 1 {
		return TxSuccess
	}
	return TxFailed
}

// TxResult carries the outcome of a signed transaction submission: the final
// status plus the transaction hash for tracing.
type TxResult struct {
	Status TxStatus
	Hash   string
}

// GasFees holds the EIP-1559 fee parameters used when building a transaction.
type GasFees struct {
	TipCap *big.Int // maxPriorityFeePerGas
	FeeCap *big.Int // maxFeePerGas
}

// TxKind classifies journal entries by the operation that produced them.
type TxKind string

const (
	TxKindSendETH TxKind = "send_eth"
	TxKindApprove TxKind = "approve"
	TxKindSwap    TxKind = "swap"
)

// Program names used in journal rows and events.
const (
	ProgramListenAndSend = "listen_and_send"
	ProgramArbitrage     = "arbitrage"
	ProgramArchive       = "archive"
	ProgramTail          = "tail"
)

// TxRecord is a single journal row: one transaction attempt, successful or
// not. Amount is a decimal string (wei for sends, token base units for
// approvals and swaps) so no precision is lost in storage.
type TxRecord struct {
	ID        string    `json:"id"`
	Program   string    `json:"program"`
	Kind      TxKind    `json:"kind"`
	Endpoint  string    `json:"endpoint"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    string    `json:"amount"`
	TxHash    string    `json:"tx_hash"`
	Status    TxStatus  `json:"status"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
}

// TxEvent is the JSON payload published on the signal bus for each
// transaction attempt.
type TxEvent struct {
	Program string   `json:"program"`
	Kind    TxKind   `json:"kind"`
	Venue   string   `json:"venue,omitempty"`
	Hash    string   `json:"hash,omitempty"`
	Status  TxStatus `json:"status"`
	Amount  string   `json:"amount"`
	Attempt int      `json:"attempt"`
	At      int64    `json:"at"` // unix seconds
}

// StreamMessage is a single entry read from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// ListOpts carries pagination options for journal queries.
type ListOpts struct {
	Limit  int
	Offset int
}
