// Package starknet is the destination-chain side of the bridge: it answers
// whether a project's token already exists and mints it when it does not.
package starknet

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/nftbridge/starknet-migrator/internal/domain"
)

// Manager abstracts the destination chain.
//
// TokenPresence never fails: infrastructure errors come back as
// domain.PresenceUnknown, and callers must not mint on unknown.
// ProjectHasToken is the boolean view of the same query (unknown folds into
// false) for callers that only need a hint.
type Manager interface {
	TokenPresence(ctx context.Context, projectID, tokenID string) domain.Presence
	ProjectHasToken(ctx context.Context, projectID, tokenID string) bool
	MintProjectToken(ctx context.Context, projectID, tokenID, starknetAccount string) (domain.MintResult, error)
}

// fieldPrime is the Starknet field modulus 2^251 + 17*2^192 + 1.
var fieldPrime, _ = new(big.Int).SetString("800000000000011000000000000000000000000000000000000000000000001", 16)

var twoTo128 = new(big.Int).Lsh(big.NewInt(1), 128)

// ParseAddress validates a 0x-prefixed hex field element.
func ParseAddress(s string) (*felt.Felt, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, fmt.Errorf("address %q must be 0x-prefixed hex", s)
	}
	digits := s[2:]
	if len(digits) == 0 || len(digits) > 64 {
		return nil, fmt.Errorf("address %q must have 1 to 64 hex digits", s)
	}
	b, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("address %q is not hex", s)
	}
	if b.Cmp(fieldPrime) >= 0 {
		return nil, fmt.Errorf("address %q is outside the field", s)
	}
	return new(felt.Felt).SetBigInt(b), nil
}

// TokenIDCalldata encodes a decimal token id as a Cairo u256 (low, high).
func TokenIDCalldata(tokenID string) ([]*felt.Felt, error) {
	b, ok := new(big.Int).SetString(tokenID, 10)
	if !ok || b.Sign() < 0 || b.BitLen() > 256 {
		return nil, fmt.Errorf("token id %q is not a u256 decimal", tokenID)
	}
	high, low := new(big.Int).QuoRem(b, twoTo128, new(big.Int))
	return []*felt.Felt{new(felt.Felt).SetBigInt(low), new(felt.Felt).SetBigInt(high)}, nil
}
