package signature

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftbridge/starknet-migrator/internal/domain"
)

const starknetAccount = "0x03ee9e18edc71a6df30ac3aca2e0b02a198fbce19b7480a63a0d71cbd76652e0"

type wallet struct {
	priv   *btcec.PrivateKey
	pubB64 string
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return wallet{priv: priv, pubB64: base64.StdEncoding.EncodeToString(priv.PubKey().SerializeCompressed())}
}

// sign produces a Keplr-style signArbitrary signature over data.
func (w wallet) sign(t *testing.T, v *KeplrValidator, data string) string {
	t.Helper()
	signer, err := v.SourceAddress(w.pubB64)
	require.NoError(t, err)
	doc, err := signDoc(signer, []byte(data))
	require.NoError(t, err)
	digest := sha256.Sum256(doc)
	compact := ecdsa.SignCompact(w.priv, digest[:], true)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(compact[1:])
}

func TestVerify_ValidSignature(t *testing.T) {
	v := NewKeplrValidator("stars")
	w := newWallet(t)
	sig := w.sign(t, v, starknetAccount)

	got, err := v.Verify(domain.SignedHash{Signature: sig}, starknetAccount, w.pubB64)
	require.NoError(t, err)
	assert.Len(t, got, 128)
	assert.Equal(t, strings.ToLower(got), got)
}

func TestVerify_SignatureForOtherAccountIsRejected(t *testing.T) {
	v := NewKeplrValidator("stars")
	w := newWallet(t)
	sig := w.sign(t, v, "0x0123")

	_, err := v.Verify(domain.SignedHash{Signature: sig}, starknetAccount, w.pubB64)
	assert.ErrorIs(t, err, domain.ErrSignatureRejected)
}

func TestVerify_SignatureFromOtherWalletIsRejected(t *testing.T) {
	v := NewKeplrValidator("stars")
	signer, claimed := newWallet(t), newWallet(t)
	sig := signer.sign(t, v, starknetAccount)

	_, err := v.Verify(domain.SignedHash{Signature: sig}, starknetAccount, claimed.pubB64)
	assert.ErrorIs(t, err, domain.ErrSignatureRejected)
}

func TestVerify_MalformedInput(t *testing.T) {
	v := NewKeplrValidator("stars")
	w := newWallet(t)
	sig := w.sign(t, v, starknetAccount)

	cases := []struct {
		name      string
		signature string
		account   string
		pubKey    string
	}{
		{"invalid hash literal", "anInvalidHash", starknetAccount, w.pubB64},
		{"short signature", base64.StdEncoding.EncodeToString([]byte("short")), starknetAccount, w.pubB64},
		{"pubkey not base64", sig, starknetAccount, "%%%"},
		{"pubkey not on curve", sig, starknetAccount, base64.StdEncoding.EncodeToString(make([]byte, 33))},
		{"account not hex", sig, "starknet-account", w.pubB64},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(domain.SignedHash{Signature: tc.signature}, tc.account, tc.pubKey)
			assert.ErrorIs(t, err, domain.ErrMalformedProof)
			assert.NotErrorIs(t, err, domain.ErrSignatureRejected)
		})
	}
}

func TestSourceAddress(t *testing.T) {
	w := newWallet(t)

	stars, err := NewKeplrValidator("stars").SourceAddress(w.pubB64)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stars, "stars1"))

	cosmos, err := NewKeplrValidator("cosmos").SourceAddress(w.pubB64)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cosmos, "cosmos1"))
	assert.Equal(t, len(stars)-len("stars"), len(cosmos)-len("cosmos"))
}

func TestSignDoc_SortedAminoJSON(t *testing.T) {
	doc, err := signDoc("stars1xyz", []byte("0x1"))
	require.NoError(t, err)
	assert.Equal(t,
		`{"account_number":"0","chain_id":"","fee":{"amount":[],"gas":"0"},"memo":"","msgs":[{"type":"sign/MsgSignData","value":{"data":"MHgx","signer":"stars1xyz"}}],"sequence":"0"}`,
		string(doc))
}
