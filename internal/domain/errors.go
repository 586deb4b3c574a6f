package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound          = errors.New("not found")
	ErrFetch             = errors.New("store unavailable")
	ErrEnqueue           = errors.New("failed to enqueue migration")
	ErrMalformedProof    = errors.New("signed hash is malformed")
	ErrSignatureRejected = errors.New("signed hash verification failed")
	ErrSignatureReplayed = errors.New("signed hash has already been used")
	ErrOwnershipUnproven = errors.New("no source-chain transfer proves ownership of the token")
	ErrLeaseLost         = errors.New("queue item is no longer claimed by this worker")
	ErrInvalidStatus     = errors.New("invalid migration status")
	ErrQueueFull         = errors.New("hand-off queue is at capacity")
	ErrNotRetryable      = errors.New("only items in error status can be retried")

	ErrInvalidWallet    = errors.New("wallet_pubkey must not be empty")
	ErrInvalidProject   = errors.New("project_id must not be empty")
	ErrInvalidAccount   = errors.New("starknet_account must not be empty")
	ErrNoTokens         = errors.New("token_ids must contain at least one token")
	ErrTooManyTokens    = errors.New("token_ids exceeds maximum of 500 tokens")
	ErrInvalidTokenID   = errors.New("token ids must not be empty")
	ErrMissingSignature = errors.New("signature must not be empty")
)

// MintError is returned by a StarknetManager when a mint does not go through.
// Retryable distinguishes transient failures (network, nonce races) from
// permanent rejections by the chain.
type MintError struct {
	Retryable bool
	Err       error
}

func (e *MintError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("mint failed (%s): %v", kind, e.Err)
}

func (e *MintError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a MintError marked retryable.
func IsRetryable(err error) bool {
	var me *MintError
	return errors.As(err, &me) && me.Retryable
}
