package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"nebripop-wallet-service/internal/core/domain"
	"nebripop-wallet-service/internal/core/ports"
	"nebripop-wallet-service/internal/core/ports/mocks"
	"nebripop-wallet-service/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type ledgerTestDeps struct {
	svc         *LedgerServiceImpl
	accountRepo *mocks.MockAccountRepository
	entryRepo   *mocks.MockEntryRepository
	idempRepo   *mocks.MockIdempotencyRepository
	idempCache  *mocks.MockIdempotencyCache
	transactor  *mocks.MockDBTransactor
	publisher   *mocks.MockEventPublisher
	ctrl        *gomock.Controller
}

func setupLedgerService(t *testing.T) *ledgerTestDeps {
	ctrl := gomock.NewController(t)
	d := &ledgerTestDeps{
		accountRepo: mocks.NewMockAccountRepository(ctrl),
		entryRepo:   mocks.NewMockEntryRepository(ctrl),
		idempRepo:   mocks.NewMockIdempotencyRepository(ctrl),
		idempCache:  mocks.NewMockIdempotencyCache(ctrl),
		transactor:  mocks.NewMockDBTransactor(ctrl),
		publisher:   mocks.NewMockEventPublisher(ctrl),
		ctrl:        ctrl,
	}
	d.svc = NewLedgerService(
		d.accountRepo, d.entryRepo, d.idempRepo, d.idempCache,
		d.transactor, d.publisher, zerolog.Nop(),
	)
	return d
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

func testAccount(userID, balance int64) *domain.Account {
	a := domain.NewAccount(userID)
	a.Balance = balance
	return a
}

// ==================== Deposit Tests ====================

func TestLedgerService_Deposit_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	account := testAccount(42, 10000)

	req := ports.MutationRequest{
		UserID:         42,
		Amount:         2550,
		IdempotencyKey: "req-001",
	}
	idempKey := "42:deposit:req-001"

	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	// Checked before the transaction and again under the row lock.
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil).Times(2)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().GetByUserIDForUpdate(ctx, tx, int64(42)).Return(account, nil)
	d.accountRepo.EXPECT().UpdateBalance(ctx, tx, account.ID, int64(12550)).Return(nil)
	d.entryRepo.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, e *domain.LedgerEntry) error {
			assert.Equal(t, int64(42), e.UserID)
			assert.Equal(t, int64(2550), e.Amount)
			assert.Equal(t, domain.EntryKindDeposit, e.Kind)
			e.ID = 7
			return nil
		})
	d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.idempCache.EXPECT().Set(ctx, idempKey, gomock.Any(), idempotencyTTL).Return(nil)
	d.publisher.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, ev domain.TransactionEvent) error {
			assert.Equal(t, int64(7), ev.EntryID)
			assert.Equal(t, domain.EntryKindDeposit, ev.Kind)
			return nil
		})

	got, err := d.svc.Deposit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(12550), got.Balance)
}

func TestLedgerService_Deposit_InvalidAmount(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	for _, amount := range []int64{0, -100} {
		_, err := d.svc.Deposit(context.Background(), ports.MutationRequest{UserID: 42, Amount: amount})
		var appErr *apperror.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "WAL_001", appErr.Code)
	}
}

func TestLedgerService_Deposit_IdempotentReplayFromCache(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	account := testAccount(42, 12550)
	cached, err := json.Marshal(account)
	require.NoError(t, err)

	d.idempCache.EXPECT().Get(ctx, "42:deposit:req-001").Return(cached, nil)

	got, err := d.svc.Deposit(ctx, ports.MutationRequest{
		UserID: 42, Amount: 2550, IdempotencyKey: "req-001",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12550), got.Balance)
	assert.Equal(t, account.ID, got.ID)
}

func TestLedgerService_Deposit_IdempotentReplayFromDB(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	account := testAccount(42, 9999)
	cached, err := json.Marshal(account)
	require.NoError(t, err)

	d.idempCache.EXPECT().Get(ctx, "42:deposit:req-001").Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, "42:deposit:req-001").Return(&domain.IdempotencyLog{
		Key:          "42:deposit:req-001",
		UserID:       42,
		ResponseJSON: cached,
	}, nil)

	got, err := d.svc.Deposit(ctx, ports.MutationRequest{
		UserID: 42, Amount: 9999, IdempotencyKey: "req-001",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9999), got.Balance)
}

func TestLedgerService_Deposit_ConcurrentReplayUnderLock(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	account := testAccount(42, 12550)
	cached, err := json.Marshal(account)
	require.NoError(t, err)

	// Both checks miss before the transaction, but a concurrent request
	// with the same key commits while we wait for the row lock.
	first := d.idempCache.EXPECT().Get(ctx, "42:deposit:req-001").Return(nil, nil)
	preCheck := d.idempRepo.EXPECT().Get(ctx, "42:deposit:req-001").Return(nil, nil).After(first)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().GetByUserIDForUpdate(ctx, tx, int64(42)).Return(testAccount(42, 10000), nil)
	d.idempRepo.EXPECT().Get(ctx, "42:deposit:req-001").Return(&domain.IdempotencyLog{
		Key:          "42:deposit:req-001",
		UserID:       42,
		ResponseJSON: cached,
	}, nil).After(preCheck)

	got, err := d.svc.Deposit(ctx, ports.MutationRequest{
		UserID: 42, Amount: 2550, IdempotencyKey: "req-001",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12550), got.Balance)
}

func TestLedgerService_Deposit_NoIdempotencyKey(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	account := testAccount(42, 0)

	// No cache/DB idempotency lookups and no idempotency log write.
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().GetByUserIDForUpdate(ctx, tx, int64(42)).Return(account, nil)
	d.accountRepo.EXPECT().UpdateBalance(ctx, tx, account.ID, int64(100)).Return(nil)
	d.entryRepo.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)
	d.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	got, err := d.svc.Deposit(ctx, ports.MutationRequest{UserID: 42, Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Balance)
}

func TestLedgerService_Deposit_CreatesAccountLazily(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	fresh := testAccount(99, 0)

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().GetByUserIDForUpdate(ctx, tx, int64(99)).Return(nil, nil)
	d.accountRepo.EXPECT().CreateIfAbsent(ctx, gomock.Any()).Return(nil)
	d.accountRepo.EXPECT().GetByUserIDForUpdate(ctx, tx, int64(99)).Return(fresh, nil)
	d.accountRepo.EXPECT().UpdateBalance(ctx, tx, fresh.ID, int64(500)).Return(nil)
	d.entryRepo.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)
	d.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	got, err := d.svc.Deposit(ctx, ports.MutationRequest{UserID: 99, Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Balance)
}

// ==================== Withdraw Tests ====================

func TestLedgerService_Withdraw_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	account := testAccount(42, 10000)

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().GetByUserIDForUpdate(ctx, tx, int64(42)).Return(account, nil)
	d.accountRepo.EXPECT().UpdateBalance(ctx, tx, account.ID, int64(7000)).Return(nil)
	d.entryRepo.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, e *domain.LedgerEntry) error {
			assert.Equal(t, int64(-3000), e.Amount)
			assert.Equal(t, domain.EntryKindWithdrawal, e.Kind)
			return nil
		})
	d.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	got, err := d.svc.Withdraw(ctx, ports.MutationRequest{UserID: 42, Amount: 3000})
	require.NoError(t, err)
	assert.Equal(t, int64(7000), got.Balance)
}

func TestLedgerService_Withdraw_InsufficientFunds(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	account := testAccount(42, 2000)

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().GetByUserIDForUpdate(ctx, tx, int64(42)).Return(account, nil)

	_, err := d.svc.Withdraw(ctx, ports.MutationRequest{UserID: 42, Amount: 2001})
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "WAL_002", appErr.Code)
}

func TestLedgerService_Withdraw_ExactBalance(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	account := testAccount(42, 2000)

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().GetByUserIDForUpdate(ctx, tx, int64(42)).Return(account, nil)
	d.accountRepo.EXPECT().UpdateBalance(ctx, tx, account.ID, int64(0)).Return(nil)
	d.entryRepo.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)
	d.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	got, err := d.svc.Withdraw(ctx, ports.MutationRequest{UserID: 42, Amount: 2000})
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Balance)
}

// ==================== Retry Tests ====================

func TestLedgerService_Withdraw_RetriesTransientError(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	account := testAccount(42, 5000)
	deadlock := &pgconn.PgError{Code: "40P01"}

	// First attempt deadlocks, second succeeds.
	first := d.transactor.EXPECT().Begin(ctx).Return(nil, deadlock)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil).After(first)
	d.accountRepo.EXPECT().GetByUserIDForUpdate(ctx, tx, int64(42)).Return(account, nil)
	d.accountRepo.EXPECT().UpdateBalance(ctx, tx, account.ID, int64(4000)).Return(nil)
	d.entryRepo.EXPECT().Append(ctx, tx, gomock.Any()).Return(nil)
	d.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	got, err := d.svc.Withdraw(ctx, ports.MutationRequest{UserID: 42, Amount: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(4000), got.Balance)
}

func TestLedgerService_Withdraw_ExhaustsRetries(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	serialization := &pgconn.PgError{Code: "40001"}

	d.transactor.EXPECT().Begin(ctx).Return(nil, serialization).Times(maxTxAttempts)

	_, err := d.svc.Withdraw(ctx, ports.MutationRequest{UserID: 42, Amount: 1000})
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SYS_002", appErr.Code)
	assert.Equal(t, 503, appErr.HTTPStatus)
}

func TestLedgerService_Deposit_NonTransientErrorFailsFast(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()

	d.transactor.EXPECT().Begin(ctx).Return(nil, errors.New("syntax error"))

	_, err := d.svc.Deposit(ctx, ports.MutationRequest{UserID: 42, Amount: 100})
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SYS_001", appErr.Code)
}

// ==================== Purchase Tests ====================

func TestLedgerService_Purchase_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	buyer := testAccount(10, 10000)
	seller := testAccount(7, 500)

	req := ports.PurchaseRequest{
		BuyerID:  10,
		SellerID: 7,
		Amount:   3000,
		Memo:     "vintage jacket",
	}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	// Locked in ascending user ID order: seller (7) first, buyer (10) second.
	lockSeller := d.accountRepo.EXPECT().GetByUserIDForUpdate(ctx, tx, int64(7)).Return(seller, nil)
	d.accountRepo.EXPECT().GetByUserIDForUpdate(ctx, tx, int64(10)).Return(buyer, nil).After(lockSeller)
	d.accountRepo.EXPECT().UpdateBalance(ctx, tx, buyer.ID, int64(7000)).Return(nil)
	d.accountRepo.EXPECT().UpdateBalance(ctx, tx, seller.ID, int64(3500)).Return(nil)
	d.entryRepo.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, e *domain.LedgerEntry) error {
			assert.Equal(t, int64(10), e.UserID)
			assert.Equal(t, int64(-3000), e.Amount)
			assert.Equal(t, domain.EntryKindWithdrawal, e.Kind)
			require.NotNil(t, e.Memo)
			assert.Equal(t, "vintage jacket", *e.Memo)
			return nil
		})
	d.entryRepo.EXPECT().Append(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, e *domain.LedgerEntry) error {
			assert.Equal(t, int64(7), e.UserID)
			assert.Equal(t, int64(3000), e.Amount)
			assert.Equal(t, domain.EntryKindDeposit, e.Kind)
			return nil
		})
	d.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	got, err := d.svc.Purchase(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), got.Balance)
	assert.Equal(t, int64(10), got.UserID)
}

func TestLedgerService_Purchase_SelfPurchase(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.Purchase(context.Background(), ports.PurchaseRequest{
		BuyerID: 10, SellerID: 10, Amount: 100,
	})
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "WAL_004", appErr.Code)
}

func TestLedgerService_Purchase_InsufficientFunds(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	buyer := testAccount(10, 100)
	seller := testAccount(20, 0)

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.accountRepo.EXPECT().GetByUserIDForUpdate(ctx, tx, int64(10)).Return(buyer, nil)
	d.accountRepo.EXPECT().GetByUserIDForUpdate(ctx, tx, int64(20)).Return(seller, nil)

	_, err := d.svc.Purchase(ctx, ports.PurchaseRequest{
		BuyerID: 10, SellerID: 20, Amount: 101,
	})
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "WAL_002", appErr.Code)
}

// ==================== GetBalance Tests ====================

func TestLedgerService_GetBalance_Existing(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	account := testAccount(42, 7550)

	d.accountRepo.EXPECT().GetByUserID(ctx, int64(42)).Return(account, nil)

	got, err := d.svc.GetBalance(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(7550), got.Balance)
}

func TestLedgerService_GetBalance_CreatesAccountLazily(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	fresh := testAccount(42, 0)

	d.accountRepo.EXPECT().GetByUserID(ctx, int64(42)).Return(nil, nil)
	d.accountRepo.EXPECT().CreateIfAbsent(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, a *domain.Account) error {
			assert.Equal(t, int64(42), a.UserID)
			assert.Equal(t, int64(0), a.Balance)
			assert.Equal(t, domain.DefaultCurrency, a.Currency)
			assert.NotEqual(t, uuid.Nil, a.ID)
			return nil
		})
	d.accountRepo.EXPECT().GetByUserID(ctx, int64(42)).Return(fresh, nil)

	got, err := d.svc.GetBalance(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Balance)
}

// ==================== ListEntries Tests ====================

func TestLedgerService_ListEntries_NormalizesPagination(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	entries := []domain.LedgerEntry{{ID: 2, UserID: 42, Amount: -500, Kind: domain.EntryKindWithdrawal}}

	d.entryRepo.EXPECT().List(ctx, ports.EntryListParams{UserID: 42, Page: 1, PageSize: 20}).
		Return(entries, int64(1), nil)

	got, total, err := d.svc.ListEntries(ctx, ports.EntryListParams{UserID: 42, Page: 0, PageSize: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, got, 1)
}

func TestLedgerService_ListEntries_InvalidKind(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	bad := domain.EntryKind("transfer")
	_, _, err := d.svc.ListEntries(context.Background(), ports.EntryListParams{
		UserID: 42, Page: 1, PageSize: 20, Kind: &bad,
	})
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "WAL_000", appErr.Code)
}

func TestLedgerService_ListEntries_CapsPageSize(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.entryRepo.EXPECT().List(ctx, ports.EntryListParams{UserID: 42, Page: 3, PageSize: 100}).
		Return(nil, int64(0), nil)

	_, _, err := d.svc.ListEntries(ctx, ports.EntryListParams{UserID: 42, Page: 3, PageSize: 5000})
	require.NoError(t, err)
}
