package domain_test

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftbridge/starknet-migrator/internal/domain"
)

func TestMigrationRequest_Validate(t *testing.T) {
	valid := domain.MigrationRequest{
		WalletPubKey:    "A1b2",
		ProjectID:       "stars1project",
		StarknetAccount: "0x0123",
		TokenIDs:        []string{"1", "2"},
		Signature:       "sig",
	}

	t.Run("valid request passes", func(t *testing.T) {
		require.NoError(t, valid.Validate())
	})

	cases := []struct {
		name   string
		mutate func(r *domain.MigrationRequest)
		want   error
	}{
		{"empty wallet", func(r *domain.MigrationRequest) { r.WalletPubKey = "" }, domain.ErrInvalidWallet},
		{"empty project", func(r *domain.MigrationRequest) { r.ProjectID = "" }, domain.ErrInvalidProject},
		{"empty account", func(r *domain.MigrationRequest) { r.StarknetAccount = "" }, domain.ErrInvalidAccount},
		{"empty signature", func(r *domain.MigrationRequest) { r.Signature = "" }, domain.ErrMissingSignature},
		{"no tokens", func(r *domain.MigrationRequest) { r.TokenIDs = nil }, domain.ErrNoTokens},
		{"blank token", func(r *domain.MigrationRequest) { r.TokenIDs = []string{"1", ""} }, domain.ErrInvalidTokenID},
		{"too many tokens", func(r *domain.MigrationRequest) {
			r.TokenIDs = make([]string, domain.MaxTokensPerRequest+1)
			for i := range r.TokenIDs {
				r.TokenIDs[i] = fmt.Sprint(i)
			}
		}, domain.ErrTooManyTokens},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			r.TokenIDs = append([]string(nil), valid.TokenIDs...)
			tc.mutate(&r)
			assert.ErrorIs(t, r.Validate(), tc.want)
		})
	}
}

func TestParseQueueStatus(t *testing.T) {
	for _, s := range []string{"pending", "processing", "success", "error"} {
		st, err := domain.ParseQueueStatus(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(st))
	}

	_, err := domain.ParseQueueStatus("done")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestMergeTokenIDs(t *testing.T) {
	got := domain.MergeTokenIDs([]string{"2", "1"}, []string{"2", "3"})
	assert.Equal(t, []string{"1", "2", "3"}, got)
}

func TestMergeTokenIDs_Generated(t *testing.T) {
	faker := gofakeit.New(42)
	gen := func(n int) []string {
		ids := make([]string, n)
		for i := range ids {
			ids[i] = faker.Numerify("###")
		}
		return ids
	}
	a, b := gen(300), gen(300)

	want := map[string]struct{}{}
	for _, id := range append(append([]string(nil), a...), b...) {
		want[id] = struct{}{}
	}

	got := domain.MergeTokenIDs(a, b)
	assert.Len(t, got, len(want))
	assert.True(t, sort.StringsAreSorted(got))
	assert.Equal(t, got, domain.MergeTokenIDs(b, a), "union is order independent")
	assert.Equal(t, got, domain.MergeTokenIDs(got, a), "merging a subset is a no-op")
}

func TestUniqueTokenIDs(t *testing.T) {
	assert.Equal(t, []string{"7", "3"}, domain.UniqueTokenIDs([]string{"7", "3", "7"}))
}

func TestMintError(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("worker: %w", &domain.MintError{Retryable: true, Err: cause})

	assert.True(t, domain.IsRetryable(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, domain.IsRetryable(&domain.MintError{Err: cause}))
	assert.False(t, domain.IsRetryable(cause))
}
