package starknet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/account"
	"github.com/NethermindEth/starknet.go/rpc"
	"github.com/NethermindEth/starknet.go/utils"
	"go.uber.org/zap"

	"github.com/nftbridge/starknet-migrator/internal/domain"
)

// Starknet JSON-RPC error codes.
const (
	codeContractError       = 40
	codeInvalidNonce        = 52
	codeInsufficientMaxFee  = 53
	codeInsufficientBalance = 54
)

var latest = rpc.BlockID{Tag: "latest"}

// OnChainManager talks to a Starknet JSON-RPC node and mints from a single
// operator account. The operator nonce is tracked locally so concurrent mints
// do not collide; it is re-read from the node after any failed submission.
type OnChainManager struct {
	provider *rpc.Provider
	account  *account.Account
	maxFee   *felt.Felt
	logger   *zap.Logger

	nonceMu sync.Mutex
	nonce   *felt.Felt
}

func NewOnChainManager(rpcURL, accountAddress, accountPubKey, privateKey, maxFee string, logger *zap.Logger) (*OnChainManager, error) {
	provider, err := rpc.NewProvider(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("create starknet provider: %w", err)
	}
	addr, err := ParseAddress(accountAddress)
	if err != nil {
		return nil, fmt.Errorf("operator account: %w", err)
	}
	priv, ok := new(big.Int).SetString(privateKey, 0)
	if !ok {
		return nil, fmt.Errorf("operator private key is not a number")
	}
	fee, err := utils.HexToFelt(maxFee)
	if err != nil {
		return nil, fmt.Errorf("max fee: %w", err)
	}

	ks := account.NewMemKeystore()
	ks.Put(accountPubKey, priv)
	acct, err := account.NewAccount(provider, addr, accountPubKey, ks, 2)
	if err != nil {
		return nil, fmt.Errorf("create starknet account: %w", err)
	}

	return &OnChainManager{provider: provider, account: acct, maxFee: fee, logger: logger}, nil
}

// TokenPresence calls ownerOf on the project contract. A contract-level
// revert means the token does not exist; any other failure is unknown.
func (m *OnChainManager) TokenPresence(ctx context.Context, projectID, tokenID string) domain.Presence {
	log := m.logger.With(zap.String("project_id", projectID), zap.String("token_id", tokenID))

	contract, err := ParseAddress(projectID)
	if err != nil {
		log.Warn("invalid project address", zap.Error(err))
		return domain.PresenceUnknown
	}
	calldata, err := TokenIDCalldata(tokenID)
	if err != nil {
		log.Warn("invalid token id", zap.Error(err))
		return domain.PresenceUnknown
	}

	res, err := m.provider.Call(ctx, rpc.FunctionCall{
		ContractAddress:    contract,
		EntryPointSelector: utils.GetSelectorFromNameFelt("ownerOf"),
		Calldata:           calldata,
	}, latest)
	if err != nil {
		var rpcErr *rpc.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == codeContractError {
			return domain.PresenceAbsent
		}
		log.Warn("ownerOf call failed", zap.Error(err))
		return domain.PresenceUnknown
	}
	if len(res) == 0 || res[0].IsZero() {
		return domain.PresenceAbsent
	}
	return domain.PresencePresent
}

func (m *OnChainManager) ProjectHasToken(ctx context.Context, projectID, tokenID string) bool {
	return m.TokenPresence(ctx, projectID, tokenID) == domain.PresencePresent
}

// MintProjectToken submits mint(to, token_id) and returns the transaction
// hash as soon as the node accepts it.
func (m *OnChainManager) MintProjectToken(ctx context.Context, projectID, tokenID, starknetAccount string) (domain.MintResult, error) {
	log := m.logger.With(zap.String("project_id", projectID), zap.String("token_id", tokenID))
	log.Info("minting token", zap.String("starknet_account", starknetAccount))

	contract, err := ParseAddress(projectID)
	if err != nil {
		return domain.MintResult{}, &domain.MintError{Err: fmt.Errorf("project address: %w", err)}
	}
	to, err := ParseAddress(starknetAccount)
	if err != nil {
		return domain.MintResult{}, &domain.MintError{Err: fmt.Errorf("recipient address: %w", err)}
	}
	tokenCalldata, err := TokenIDCalldata(tokenID)
	if err != nil {
		return domain.MintResult{}, &domain.MintError{Err: err}
	}

	nonce, err := m.reserveNonce(ctx)
	if err != nil {
		return domain.MintResult{}, &domain.MintError{Retryable: true, Err: fmt.Errorf("fetch nonce: %w", err)}
	}

	tx := rpc.BroadcastInvokev1Txn{
		InvokeTxnV1: rpc.InvokeTxnV1{
			MaxFee:        m.maxFee,
			Version:       rpc.TransactionV1,
			Nonce:         nonce,
			Type:          rpc.TransactionType_Invoke,
			SenderAddress: m.account.AccountAddress,
		},
	}
	tx.Calldata, err = m.account.FmtCalldata([]rpc.FunctionCall{{
		ContractAddress:    contract,
		EntryPointSelector: utils.GetSelectorFromNameFelt("mint"),
		Calldata:           append([]*felt.Felt{to}, tokenCalldata...),
	}})
	if err != nil {
		m.resetNonce()
		return domain.MintResult{}, &domain.MintError{Err: fmt.Errorf("format calldata: %w", err)}
	}
	if err := m.account.SignInvokeTransaction(ctx, &tx.InvokeTxnV1); err != nil {
		m.resetNonce()
		return domain.MintResult{}, &domain.MintError{Err: fmt.Errorf("sign invoke: %w", err)}
	}

	resp, err := m.account.AddInvokeTransaction(ctx, tx)
	if err != nil {
		m.resetNonce()
		mintErr := classifyMintError(err)
		log.Error("mint submission failed", zap.Error(mintErr))
		return domain.MintResult{}, mintErr
	}

	hash := resp.TransactionHash.String()
	log.Info("token minting in progress", zap.String("transaction_hash", hash))
	return domain.MintResult{TransactionHash: hash}, nil
}

// reserveNonce hands out consecutive nonces. The node is only queried when no
// nonce is cached, and never while nonceMu is held.
func (m *OnChainManager) reserveNonce(ctx context.Context) (*felt.Felt, error) {
	m.nonceMu.Lock()
	if m.nonce != nil {
		n := m.nonce
		m.nonce = new(felt.Felt).Add(n, new(felt.Felt).SetUint64(1))
		m.nonceMu.Unlock()
		return n, nil
	}
	m.nonceMu.Unlock()

	fetched, err := m.account.Nonce(ctx, rpc.BlockID{Tag: "pending"}, m.account.AccountAddress)
	if err != nil {
		return nil, err
	}

	m.nonceMu.Lock()
	defer m.nonceMu.Unlock()
	if m.nonce == nil {
		m.nonce = fetched
	}
	n := m.nonce
	m.nonce = new(felt.Felt).Add(n, new(felt.Felt).SetUint64(1))
	return n, nil
}

func (m *OnChainManager) resetNonce() {
	m.nonceMu.Lock()
	m.nonce = nil
	m.nonceMu.Unlock()
}

// classifyMintError splits submission failures into retryable and permanent.
// Node-reported nonce, fee and balance problems can clear up on their own or
// after operator action; execution and validation failures will not. Anything
// that never reached the node (timeouts, connection errors) is retryable.
func classifyMintError(err error) *domain.MintError {
	var rpcErr *rpc.RPCError
	if !errors.As(err, &rpcErr) {
		return &domain.MintError{Retryable: true, Err: err}
	}
	switch rpcErr.Code {
	case codeInvalidNonce, codeInsufficientMaxFee, codeInsufficientBalance:
		return &domain.MintError{Retryable: true, Err: err}
	}
	return &domain.MintError{Err: err}
}

var _ Manager = (*OnChainManager)(nil)
