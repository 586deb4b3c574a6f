package domain

import (
	"fmt"
	"sort"
	"time"
)

// MaxTokensPerRequest bounds a single migration request.
const MaxTokensPerRequest = 500

// QueueStatus tracks the lifecycle of a queue item.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusSuccess    QueueStatus = "success"
	StatusError      QueueStatus = "error"
)

// ParseQueueStatus decodes a persisted status value. Anything outside the
// closed set is reported as ErrInvalidStatus.
func ParseQueueStatus(s string) (QueueStatus, error) {
	switch st := QueueStatus(s); st {
	case StatusPending, StatusProcessing, StatusSuccess, StatusError:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s QueueStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

// QueueItem is one migration job for one token.
type QueueItem struct {
	ID              int64       `json:"id"`
	WalletPubKey    string      `json:"wallet_pubkey"`
	ProjectID       string      `json:"project_id"`
	TokenID         string      `json:"token_id"`
	StarknetAccount string      `json:"starknet_account"`
	TransactionHash *string     `json:"transaction_hash,omitempty"`
	Status          QueueStatus `json:"status"`
	Attempt         int         `json:"attempt"`
	LastError       *string     `json:"last_error,omitempty"`
	Retryable       bool        `json:"retryable"`
	NextRetryAt     *time.Time  `json:"next_retry_at,omitempty"`
	ClaimedAt       *time.Time  `json:"claimed_at,omitempty"`
	ClaimedBy       *string     `json:"claimed_by,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Claim returns the token stamped on the item when it was claimed, or "" if
// it is not claimed. Every claim gets a fresh token, so a worker whose claim
// was reclaimed can no longer act on the item.
func (it *QueueItem) Claim() string {
	if it.ClaimedBy == nil {
		return ""
	}
	return *it.ClaimedBy
}

// TransferNft is the payload of a source-chain NFT transfer.
type TransferNft struct {
	Recipient string `json:"recipient"`
	TokenID   string `json:"token_id"`
}

// TransactionMsg is the message carried by a recorded source-chain
// transaction. Only NFT transfers are recorded today.
type TransactionMsg struct {
	TransferNft *TransferNft `json:"transfer_nft,omitempty"`
}

// Transaction is a recorded source-chain transfer event.
type Transaction struct {
	Hash     string         `json:"hash"`
	Height   int64          `json:"height"`
	Sender   string         `json:"sender"`
	Contract string         `json:"contract"`
	Msg      TransactionMsg `json:"msg"`
}

// CustomerKeys aggregates the tokens a wallet has migrated for a project.
type CustomerKeys struct {
	WalletPubKey string   `json:"wallet_pubkey"`
	ProjectID    string   `json:"project_id"`
	TokenIDs     []string `json:"token_ids"`
}

// MergeTokenIDs returns the sorted set union of a and b.
func MergeTokenIDs(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		set[t] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SignedHash is the proof produced by the Keplr wallet: a signature over a
// document naming the Starknet account that should receive the tokens.
type SignedHash struct {
	Signature string `json:"signature"`
}

// MintResult is the destination-chain reference of a submitted mint.
type MintResult struct {
	TransactionHash string
}

// Presence is the outcome of a destination-chain existence check.
type Presence int

const (
	PresenceUnknown Presence = iota
	PresenceAbsent
	PresencePresent
)

func (p Presence) String() string {
	switch p {
	case PresenceAbsent:
		return "absent"
	case PresencePresent:
		return "present"
	}
	return "unknown"
}

// MigrationRequest is the inbound payload asking for tokens to be migrated.
type MigrationRequest struct {
	WalletPubKey    string   `json:"wallet_pubkey"`
	ProjectID       string   `json:"project_id"`
	StarknetAccount string   `json:"starknet_account"`
	TokenIDs        []string `json:"token_ids"`
	Signature       string   `json:"signature"`
}

func (r *MigrationRequest) Validate() error {
	if r.WalletPubKey == "" {
		return ErrInvalidWallet
	}
	if r.ProjectID == "" {
		return ErrInvalidProject
	}
	if r.StarknetAccount == "" {
		return ErrInvalidAccount
	}
	if r.Signature == "" {
		return ErrMissingSignature
	}
	if len(r.TokenIDs) == 0 {
		return ErrNoTokens
	}
	if len(r.TokenIDs) > MaxTokensPerRequest {
		return ErrTooManyTokens
	}
	for _, t := range r.TokenIDs {
		if t == "" {
			return ErrInvalidTokenID
		}
	}
	return nil
}

// UniqueTokenIDs returns ids with duplicates removed, first occurrence wins.
func UniqueTokenIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
