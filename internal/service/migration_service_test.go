package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nftbridge/starknet-migrator/internal/domain"
	"github.com/nftbridge/starknet-migrator/internal/repository"
	"github.com/nftbridge/starknet-migrator/internal/service"
)

const (
	wallet  = "A1b2C3"
	project = "projA"
	account = "0x0123"
	source  = "stars1owner"
)

// fakeValidator accepts "sig123" and rejects "anInvalidHash" the way the
// Keplr validator rejects an undecodable proof.
type fakeValidator struct{}

func (fakeValidator) Verify(hash domain.SignedHash, _, _ string) (string, error) {
	switch hash.Signature {
	case "sig123", "sig456":
		return hash.Signature, nil
	case "anInvalidHash":
		return "", domain.ErrMalformedProof
	}
	return "", domain.ErrSignatureRejected
}

func (fakeValidator) SourceAddress(string) (string, error) { return source, nil }

func transfer(height int64, token, recipient string) domain.Transaction {
	return domain.Transaction{
		Hash:     "tx",
		Height:   height,
		Contract: project,
		Msg:      domain.TransactionMsg{TransferNft: &domain.TransferNft{Recipient: recipient, TokenID: token}},
	}
}

func newService(t *testing.T, provenance bool, txs ...domain.Transaction) (*service.MigrationService, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore(txs...)
	svc, err := service.NewMigrationService(
		store.Queue(), store.CustomerKeys(), store.Transactions(), fakeValidator{},
		service.Options{BatchSize: 2, RequireProvenance: provenance, ReplayCacheSize: 16},
		service.Hooks{},
		zap.NewNop(),
	)
	require.NoError(t, err)
	return svc, store
}

func request(sig string, tokens ...string) domain.MigrationRequest {
	return domain.MigrationRequest{
		WalletPubKey:    wallet,
		ProjectID:       project,
		StarknetAccount: account,
		TokenIDs:        tokens,
		Signature:       sig,
	}
}

func TestRequestMigration_EnqueuesPendingItems(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()

	items, err := svc.RequestMigration(ctx, request("sig123", "7", "8", "7"))
	require.NoError(t, err)
	require.Len(t, items, 2, "duplicate token ids collapse")

	for _, it := range items {
		assert.Equal(t, domain.StatusPending, it.Status)
		assert.Equal(t, account, it.StarknetAccount)
		assert.Nil(t, it.TransactionHash)
	}
	assert.Len(t, svc.GetCustomerMigrationState(ctx, wallet, project), 2)
}

func TestRequestMigration_InvalidSignatureCreatesNothing(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()

	_, err := svc.RequestMigration(ctx, request("anInvalidHash", "7"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedProof)
	assert.Empty(t, svc.GetCustomerMigrationState(ctx, wallet, project))

	_, err = svc.RequestMigration(ctx, request("forged", "7"))
	assert.ErrorIs(t, err, domain.ErrSignatureRejected)
	assert.Empty(t, svc.GetCustomerMigrationState(ctx, wallet, project))
}

func TestRequestMigration_ValidationErrors(t *testing.T) {
	svc, _ := newService(t, false)

	_, err := svc.RequestMigration(context.Background(), request("sig123"))
	assert.ErrorIs(t, err, domain.ErrNoTokens)
}

func TestRequestMigration_ReplayRejected(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()

	_, err := svc.RequestMigration(ctx, request("sig123", "7"))
	require.NoError(t, err)

	_, err = svc.RequestMigration(ctx, request("sig123", "8"))
	assert.ErrorIs(t, err, domain.ErrSignatureReplayed)
	assert.Len(t, svc.GetCustomerMigrationState(ctx, wallet, project), 1)
}

func TestRequestMigration_FailedEnqueueDoesNotConsumeSignature(t *testing.T) {
	svc, store := newService(t, false)
	ctx := context.Background()

	store.EnqueueErr = errors.New("connection refused")
	_, err := svc.RequestMigration(ctx, request("sig123", "7"))
	require.ErrorIs(t, err, domain.ErrEnqueue)

	store.EnqueueErr = nil
	items, err := svc.RequestMigration(ctx, request("sig123", "7"))
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRequestMigration_Provenance(t *testing.T) {
	svc, _ := newService(t, true,
		transfer(10, "7", "stars1someoneelse"),
		transfer(12, "7", source),
		transfer(11, "8", source),
		transfer(15, "8", "stars1buyer"),
	)
	ctx := context.Background()

	items, err := svc.RequestMigration(ctx, request("sig123", "7"))
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = svc.RequestMigration(ctx, request("sig456", "8"))
	assert.ErrorIs(t, err, domain.ErrOwnershipUnproven, "token 8 was transferred away")

	_, err = svc.RequestMigration(ctx, request("sig456", "9"))
	assert.ErrorIs(t, err, domain.ErrOwnershipUnproven, "no transfer recorded")
}

func TestRequestMigration_ProvenanceStoreFailure(t *testing.T) {
	svc, store := newService(t, true, transfer(1, "7", source))
	store.FetchTxErr = errors.New("timeout")

	_, err := svc.RequestMigration(context.Background(), request("sig123", "7"))
	assert.ErrorIs(t, err, domain.ErrFetch)
	assert.False(t, errors.Is(err, domain.ErrOwnershipUnproven))
}

func TestEnqueue_ResubmissionIsNoOp(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()

	first, err := svc.Enqueue(ctx, wallet, project, account, []string{"7"})
	require.NoError(t, err)
	second, err := svc.Enqueue(ctx, wallet, project, account, []string{"7"})
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Len(t, svc.GetCustomerMigrationState(ctx, wallet, project), 1)
}

func TestEnqueue_HookObservesCount(t *testing.T) {
	store := repository.NewMemoryStore()
	var enqueued int
	svc, err := service.NewMigrationService(
		store.Queue(), store.CustomerKeys(), store.Transactions(), fakeValidator{},
		service.Options{BatchSize: 5},
		service.Hooks{OnEnqueued: func(n int) { enqueued += n }},
		zap.NewNop(),
	)
	require.NoError(t, err)

	_, err = svc.Enqueue(context.Background(), wallet, project, account, []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, 3, enqueued)
}

func TestNewMigrationService_RejectsZeroBatch(t *testing.T) {
	store := repository.NewMemoryStore()
	_, err := service.NewMigrationService(
		store.Queue(), store.CustomerKeys(), store.Transactions(), fakeValidator{},
		service.Options{}, service.Hooks{}, zap.NewNop(),
	)
	assert.Error(t, err)
}

func TestGetBatch_BoundedAndExclusive(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, wallet, project, account, []string{"1", "2", "3"})
	require.NoError(t, err)

	a, err := svc.GetBatch(ctx, "worker-a")
	require.NoError(t, err)
	assert.Len(t, a, 2)

	b, err := svc.GetBatch(ctx, "worker-b")
	require.NoError(t, err)
	require.Len(t, b, 1)
	for _, it := range a {
		assert.NotEqual(t, it.ID, b[0].ID)
	}

	c, err := svc.GetBatch(ctx, "worker-c")
	require.NoError(t, err)
	assert.Empty(t, c)

	none, err := svc.GetBatchN(ctx, "worker-c", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetCustomerMigrationState_StoreFailureIsEmpty(t *testing.T) {
	svc, store := newService(t, false)
	store.ListErr = errors.New("down")

	items := svc.GetCustomerMigrationState(context.Background(), wallet, project)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestGetCustomerKeys(t *testing.T) {
	svc, store := newService(t, false)
	ctx := context.Background()

	_, err := svc.GetCustomerKeys(ctx, wallet, project)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, svc.RecordMigratedToken(ctx, &domain.QueueItem{WalletPubKey: wallet, ProjectID: project, TokenID: "7"}))
	keys, err := svc.GetCustomerKeys(ctx, wallet, project)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, keys.TokenIDs)

	store.GetKeysErr = errors.New("down")
	_, err = svc.GetCustomerKeys(ctx, wallet, project)
	assert.ErrorIs(t, err, domain.ErrFetch)
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}

func TestMarkError_RecordsRetryableFlag(t *testing.T) {
	svc, store := newService(t, false)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, wallet, project, account, []string{"7", "8"})
	require.NoError(t, err)
	batch, err := svc.GetBatch(ctx, "w")
	require.NoError(t, err)
	require.Len(t, batch, 2)

	next := time.Now().Add(time.Minute)
	require.NoError(t, svc.MarkError(ctx, batch[0].ID, batch[0].Claim(), &domain.MintError{Retryable: true, Err: errors.New("nonce")}, &next))
	require.NoError(t, svc.MarkError(ctx, batch[1].ID, batch[1].Claim(), &domain.MintError{Err: errors.New("reverted")}, nil))

	first, err := store.Queue().GetByID(ctx, batch[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, first.Status)
	assert.True(t, first.Retryable)
	require.NotNil(t, first.LastError)

	second, err := store.Queue().GetByID(ctx, batch[1].ID)
	require.NoError(t, err)
	assert.False(t, second.Retryable)

	assert.ErrorIs(t, svc.MarkSuccess(ctx, batch[0].ID, batch[0].Claim(), nil), domain.ErrLeaseLost)
}

func TestReclaimStale(t *testing.T) {
	svc, store := newService(t, false)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return base }

	_, err := svc.Enqueue(ctx, wallet, project, account, []string{"7"})
	require.NoError(t, err)
	batch, err := svc.GetBatch(ctx, "crashed")
	require.NoError(t, err)
	require.Len(t, batch, 1)

	n, err := svc.ReclaimStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := svc.GetBatch(ctx, "w2")
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, batch[0].ID, again[0].ID)
	assert.ErrorIs(t, svc.Release(ctx, batch[0].ID, batch[0].Claim()), domain.ErrLeaseLost)
	require.NoError(t, svc.Release(ctx, again[0].ID, again[0].Claim()))
}

func TestRetryDue(t *testing.T) {
	svc, _ := newService(t, false)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, wallet, project, account, []string{"7"})
	require.NoError(t, err)
	batch, err := svc.GetBatch(ctx, "w")
	require.NoError(t, err)

	past := time.Now().Add(-time.Second)
	require.NoError(t, svc.MarkError(ctx, batch[0].ID, batch[0].Claim(), &domain.MintError{Retryable: true, Err: errors.New("timeout")}, &past))

	n, err := svc.RetryDue(ctx, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	state := svc.GetCustomerMigrationState(ctx, wallet, project)
	require.Len(t, state, 2, "error row is kept as history")
	var pending *domain.QueueItem
	for _, it := range state {
		if it.Status == domain.StatusPending {
			pending = it
		}
	}
	require.NotNil(t, pending)
	assert.Equal(t, 2, pending.Attempt)

	n, err = svc.RetryDue(ctx, 5, 10)
	require.NoError(t, err)
	assert.Zero(t, n, "superseded error rows are not retried twice")

	_, err = svc.Retry(ctx, pending.ID)
	assert.ErrorIs(t, err, domain.ErrNotRetryable)
}
