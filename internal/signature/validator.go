// Package signature verifies the Keplr wallet proofs that authorise a
// migration. Keplr's signArbitrary follows ADR-036: the wallet signs an amino
// JSON document wrapping a single sign/MsgSignData message with zero fee,
// sequence and account number.
package signature

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // cosmos addresses are defined over ripemd160

	"github.com/nftbridge/starknet-migrator/internal/domain"
	"github.com/nftbridge/starknet-migrator/internal/starknet"
)

// Validator checks that a SignedHash was produced by the wallet owning
// walletPubKey over a document naming the Starknet account.
type Validator interface {
	Verify(hash domain.SignedHash, starknetAccount, walletPubKey string) (string, error)
	SourceAddress(walletPubKey string) (string, error)
}

// KeplrValidator implements Validator for secp256k1 Keplr wallets.
type KeplrValidator struct {
	prefix string
}

func NewKeplrValidator(bech32Prefix string) *KeplrValidator {
	return &KeplrValidator{prefix: bech32Prefix}
}

// Verify returns the signature as lower-case hex when it is valid.
// Unparsable input yields domain.ErrMalformedProof; a well-formed signature
// that does not verify yields domain.ErrSignatureRejected.
func (v *KeplrValidator) Verify(hash domain.SignedHash, starknetAccount, walletPubKey string) (string, error) {
	pub, err := parsePubKey(walletPubKey)
	if err != nil {
		return "", err
	}
	if _, err := starknet.ParseAddress(starknetAccount); err != nil {
		return "", fmt.Errorf("%w: starknet account: %v", domain.ErrMalformedProof, err)
	}

	raw, err := base64.StdEncoding.DecodeString(hash.Signature)
	if err != nil {
		return "", fmt.Errorf("%w: signature is not base64", domain.ErrMalformedProof)
	}
	if len(raw) != 64 {
		return "", fmt.Errorf("%w: signature must be 64 bytes, got %d", domain.ErrMalformedProof, len(raw))
	}
	var r, s btcec.ModNScalar
	if r.SetByteSlice(raw[:32]) || s.SetByteSlice(raw[32:]) || r.IsZero() || s.IsZero() {
		return "", fmt.Errorf("%w: signature scalar out of range", domain.ErrMalformedProof)
	}
	// Cosmos only accepts low-S signatures.
	if s.IsOverHalfOrder() {
		return "", domain.ErrSignatureRejected
	}

	signer, err := v.address(pub)
	if err != nil {
		return "", err
	}
	doc, err := signDoc(signer, []byte(starknetAccount))
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(doc)
	if !ecdsa.NewSignature(&r, &s).Verify(digest[:], pub) {
		return "", domain.ErrSignatureRejected
	}
	return hex.EncodeToString(raw), nil
}

// SourceAddress derives the bech32 source-chain address of walletPubKey.
func (v *KeplrValidator) SourceAddress(walletPubKey string) (string, error) {
	pub, err := parsePubKey(walletPubKey)
	if err != nil {
		return "", err
	}
	return v.address(pub)
}

func (v *KeplrValidator) address(pub *btcec.PublicKey) (string, error) {
	sha := sha256.Sum256(pub.SerializeCompressed())
	h := ripemd160.New()
	h.Write(sha[:])
	conv, err := bech32.ConvertBits(h.Sum(nil), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert address bits: %w", err)
	}
	addr, err := bech32.Encode(v.prefix, conv)
	if err != nil {
		return "", fmt.Errorf("encode bech32 address: %w", err)
	}
	return addr, nil
}

// parsePubKey accepts the base64 compressed secp256k1 key Keplr reports.
func parsePubKey(walletPubKey string) (*btcec.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(walletPubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet public key is not base64", domain.ErrMalformedProof)
	}
	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet public key: %v", domain.ErrMalformedProof, err)
	}
	return pub, nil
}

// Field order is alphabetical: amino JSON sign bytes use sorted keys.
type aminoSignDoc struct {
	AccountNumber string     `json:"account_number"`
	ChainID       string     `json:"chain_id"`
	Fee           aminoFee   `json:"fee"`
	Memo          string     `json:"memo"`
	Msgs          []aminoMsg `json:"msgs"`
	Sequence      string     `json:"sequence"`
}

type aminoFee struct {
	Amount []struct{} `json:"amount"`
	Gas    string     `json:"gas"`
}

type aminoMsg struct {
	Type  string         `json:"type"`
	Value msgSignDataVal `json:"value"`
}

type msgSignDataVal struct {
	Data   string `json:"data"`
	Signer string `json:"signer"`
}

func signDoc(signer string, data []byte) ([]byte, error) {
	doc := aminoSignDoc{
		AccountNumber: "0",
		Fee:           aminoFee{Amount: []struct{}{}, Gas: "0"},
		Msgs: []aminoMsg{{
			Type:  "sign/MsgSignData",
			Value: msgSignDataVal{Data: base64.StdEncoding.EncodeToString(data), Signer: signer},
		}},
		Sequence: "0",
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal sign doc: %w", err)
	}
	return b, nil
}
