package domain

import "errors"

var (
	ErrNotConnected   = errors.New("rpc endpoint unreachable")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidKey     = errors.New("invalid private key")
	ErrTxFailed       = errors.New("transaction failed")
	ErrSwapFailed     = errors.New("swap failed")
	ErrUnknownABI     = errors.New("unknown ABI")
	ErrCoinNotInPool  = errors.New("coin not in pool")
	ErrLockHeld       = errors.New("lock already held")
	ErrNotFound       = errors.New("not found")
)
