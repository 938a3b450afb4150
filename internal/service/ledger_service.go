package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"nebripop-wallet-service/internal/core/domain"
	"nebripop-wallet-service/internal/core/ports"
	"nebripop-wallet-service/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

const (
	idempotencyTTL = 24 * time.Hour

	maxTxAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

// LedgerServiceImpl implements ports.LedgerService. All balance
// mutations run inside a database transaction holding a row lock on the
// affected account, so operations for one user are serialized.
type LedgerServiceImpl struct {
	accountRepo ports.AccountRepository
	entryRepo   ports.EntryRepository
	idempRepo   ports.IdempotencyRepository
	idempCache  ports.IdempotencyCache
	transactor  ports.DBTransactor
	publisher   ports.EventPublisher // nil when event publishing is disabled
	log         zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	accountRepo ports.AccountRepository,
	entryRepo ports.EntryRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	publisher ports.EventPublisher,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		accountRepo: accountRepo,
		entryRepo:   entryRepo,
		idempRepo:   idempRepo,
		idempCache:  idempCache,
		transactor:  transactor,
		publisher:   publisher,
		log:         log,
	}
}

// GetBalance returns the account snapshot, lazily creating a
// zero-balance account on first access.
func (s *LedgerServiceImpl) GetBalance(ctx context.Context, userID int64) (*domain.Account, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, storageError(fmt.Errorf("get account: %w", err))
	}
	if account != nil {
		return account, nil
	}

	fresh := domain.NewAccount(userID)
	if err := s.accountRepo.CreateIfAbsent(ctx, fresh); err != nil {
		return nil, storageError(fmt.Errorf("create account: %w", err))
	}

	// Re-read: a concurrent request may have won the insert race.
	account, err = s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, storageError(fmt.Errorf("reload account: %w", err))
	}
	if account == nil {
		return nil, apperror.ErrNotFound("account")
	}
	return account, nil
}

// Deposit credits the user's account and appends a deposit entry in the
// same transaction.
func (s *LedgerServiceImpl) Deposit(ctx context.Context, req ports.MutationRequest) (*domain.Account, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	idempKey := ""
	if req.IdempotencyKey != "" {
		idempKey = domain.BuildIdempotencyKey(req.UserID, "deposit", req.IdempotencyKey)
		if cached, err := s.checkIdempotency(ctx, idempKey); err != nil {
			return nil, err
		} else if cached != nil {
			return cached, nil
		}
	}

	account, entry, err := s.applyWithRetry(ctx, func(ctx context.Context) (*domain.Account, *domain.LedgerEntry, error) {
		return s.applyMutation(ctx, req.UserID, req.Amount, domain.EntryKindDeposit, nil, idempKey)
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		// Lost the race to a concurrent retry with the same key.
		return account, nil
	}

	s.finishMutation(ctx, account, entry, idempKey)

	s.log.Info().
		Int64("user_id", req.UserID).
		Int64("amount", req.Amount).
		Int64("entry_id", entry.ID).
		Int64("balance", account.Balance).
		Msg("deposit applied")

	return account, nil
}

// Withdraw debits the user's account if funds suffice and appends a
// withdrawal entry in the same transaction. The balance check happens
// under the row lock, never against a stale read.
func (s *LedgerServiceImpl) Withdraw(ctx context.Context, req ports.MutationRequest) (*domain.Account, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	idempKey := ""
	if req.IdempotencyKey != "" {
		idempKey = domain.BuildIdempotencyKey(req.UserID, "withdraw", req.IdempotencyKey)
		if cached, err := s.checkIdempotency(ctx, idempKey); err != nil {
			return nil, err
		} else if cached != nil {
			return cached, nil
		}
	}

	account, entry, err := s.applyWithRetry(ctx, func(ctx context.Context) (*domain.Account, *domain.LedgerEntry, error) {
		return s.applyMutation(ctx, req.UserID, -req.Amount, domain.EntryKindWithdrawal, nil, idempKey)
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return account, nil
	}

	s.finishMutation(ctx, account, entry, idempKey)

	s.log.Info().
		Int64("user_id", req.UserID).
		Int64("amount", req.Amount).
		Int64("entry_id", entry.ID).
		Int64("balance", account.Balance).
		Msg("withdrawal applied")

	return account, nil
}

// Purchase atomically moves funds from the buyer's account to the
// seller's. Both accounts are locked in ascending user ID order so
// concurrent purchases between the same pair cannot deadlock.
func (s *LedgerServiceImpl) Purchase(ctx context.Context, req ports.PurchaseRequest) (*domain.Account, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.BuyerID == req.SellerID {
		return nil, apperror.ErrSelfPurchase()
	}

	idempKey := ""
	if req.IdempotencyKey != "" {
		idempKey = domain.BuildIdempotencyKey(req.BuyerID, "purchase", req.IdempotencyKey)
		if cached, err := s.checkIdempotency(ctx, idempKey); err != nil {
			return nil, err
		} else if cached != nil {
			return cached, nil
		}
	}

	account, entry, err := s.applyWithRetry(ctx, func(ctx context.Context) (*domain.Account, *domain.LedgerEntry, error) {
		return s.applyPurchase(ctx, req, idempKey)
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return account, nil
	}

	s.finishMutation(ctx, account, entry, idempKey)

	s.log.Info().
		Int64("buyer_id", req.BuyerID).
		Int64("seller_id", req.SellerID).
		Int64("amount", req.Amount).
		Int64("balance", account.Balance).
		Msg("purchase applied")

	return account, nil
}

// ListEntries returns the user's ledger history newest-first.
func (s *LedgerServiceImpl) ListEntries(ctx context.Context, params ports.EntryListParams) ([]domain.LedgerEntry, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = 20
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}
	if params.Kind != nil && !params.Kind.Valid() {
		return nil, 0, apperror.Validation("kind must be deposit or withdrawal")
	}

	entries, total, err := s.entryRepo.List(ctx, params)
	if err != nil {
		return nil, 0, storageError(fmt.Errorf("list entries: %w", err))
	}
	return entries, total, nil
}

// checkIdempotency consults the cache layer then the database log.
// A non-nil account means the operation already completed.
func (s *LedgerServiceImpl) checkIdempotency(ctx context.Context, idempKey string) (*domain.Account, error) {
	cached, err := s.idempCache.Get(ctx, idempKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		return s.unmarshalCachedAccount(cached)
	}

	idempLog, err := s.idempRepo.Get(ctx, idempKey)
	if err != nil {
		return nil, storageError(fmt.Errorf("db idempotency check: %w", err))
	}
	if idempLog != nil {
		return s.unmarshalCachedAccount(idempLog.ResponseJSON)
	}
	return nil, nil
}

// recheckIdempotency reads the database idempotency log while the row
// lock is held. A non-nil account means another request with the same
// key won the race and its response should be replayed.
func (s *LedgerServiceImpl) recheckIdempotency(ctx context.Context, idempKey string) (*domain.Account, error) {
	if idempKey == "" {
		return nil, nil
	}
	idempLog, err := s.idempRepo.Get(ctx, idempKey)
	if err != nil {
		return nil, fmt.Errorf("recheck idempotency: %w", err)
	}
	if idempLog == nil {
		return nil, nil
	}
	return s.unmarshalCachedAccount(idempLog.ResponseJSON)
}

// applyMutation runs one deposit or withdrawal attempt inside a
// transaction. delta is signed: positive credits, negative debits.
func (s *LedgerServiceImpl) applyMutation(ctx context.Context, userID, delta int64, kind domain.EntryKind, memo *string, idempKey string) (*domain.Account, *domain.LedgerEntry, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	account, err := s.lockAccount(ctx, dbTx, userID)
	if err != nil {
		return nil, nil, err
	}

	// Re-check under the lock: a concurrent request with the same key
	// may have committed between the fast-path check and here.
	if replay, err := s.recheckIdempotency(ctx, idempKey); err != nil || replay != nil {
		return replay, nil, err
	}

	newBalance := account.Balance + delta
	if newBalance < 0 {
		return nil, nil, apperror.ErrInsufficientFunds()
	}

	if err := s.accountRepo.UpdateBalance(ctx, dbTx, account.ID, newBalance); err != nil {
		return nil, nil, fmt.Errorf("update balance: %w", err)
	}

	now := time.Now().UTC()
	entry := &domain.LedgerEntry{
		UserID:    userID,
		Amount:    delta,
		Kind:      kind,
		Memo:      memo,
		CreatedAt: now,
	}
	if err := s.entryRepo.Append(ctx, dbTx, entry); err != nil {
		return nil, nil, fmt.Errorf("append entry: %w", err)
	}

	account.Balance = newBalance
	account.UpdatedAt = now

	if idempKey != "" {
		if err := s.writeIdempotencyLog(ctx, dbTx, idempKey, userID, account, now); err != nil {
			return nil, nil, err
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit tx: %w", err)
	}
	return account, entry, nil
}

// applyPurchase runs one buyer-to-seller transfer attempt inside a
// transaction.
func (s *LedgerServiceImpl) applyPurchase(ctx context.Context, req ports.PurchaseRequest, idempKey string) (*domain.Account, *domain.LedgerEntry, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	// Lock both rows in a fixed order regardless of who buys from whom.
	firstID, secondID := req.BuyerID, req.SellerID
	if secondID < firstID {
		firstID, secondID = secondID, firstID
	}
	first, err := s.lockAccount(ctx, dbTx, firstID)
	if err != nil {
		return nil, nil, err
	}
	second, err := s.lockAccount(ctx, dbTx, secondID)
	if err != nil {
		return nil, nil, err
	}

	if replay, err := s.recheckIdempotency(ctx, idempKey); err != nil || replay != nil {
		return replay, nil, err
	}

	buyer, seller := first, second
	if buyer.UserID != req.BuyerID {
		buyer, seller = second, first
	}

	if buyer.Balance < req.Amount {
		return nil, nil, apperror.ErrInsufficientFunds()
	}

	now := time.Now().UTC()
	buyer.Balance -= req.Amount
	buyer.UpdatedAt = now
	seller.Balance += req.Amount
	seller.UpdatedAt = now

	if err := s.accountRepo.UpdateBalance(ctx, dbTx, buyer.ID, buyer.Balance); err != nil {
		return nil, nil, fmt.Errorf("update buyer balance: %w", err)
	}
	if err := s.accountRepo.UpdateBalance(ctx, dbTx, seller.ID, seller.Balance); err != nil {
		return nil, nil, fmt.Errorf("update seller balance: %w", err)
	}

	var memo *string
	if req.Memo != "" {
		memo = &req.Memo
	}

	buyerEntry := &domain.LedgerEntry{
		UserID:    req.BuyerID,
		Amount:    -req.Amount,
		Kind:      domain.EntryKindWithdrawal,
		Memo:      memo,
		CreatedAt: now,
	}
	if err := s.entryRepo.Append(ctx, dbTx, buyerEntry); err != nil {
		return nil, nil, fmt.Errorf("append buyer entry: %w", err)
	}

	sellerEntry := &domain.LedgerEntry{
		UserID:    req.SellerID,
		Amount:    req.Amount,
		Kind:      domain.EntryKindDeposit,
		Memo:      memo,
		CreatedAt: now,
	}
	if err := s.entryRepo.Append(ctx, dbTx, sellerEntry); err != nil {
		return nil, nil, fmt.Errorf("append seller entry: %w", err)
	}

	if idempKey != "" {
		if err := s.writeIdempotencyLog(ctx, dbTx, idempKey, req.BuyerID, buyer, now); err != nil {
			return nil, nil, err
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit tx: %w", err)
	}
	return buyer, buyerEntry, nil
}

// lockAccount acquires the row lock for the user's account, creating a
// zero-balance account first if none exists yet.
func (s *LedgerServiceImpl) lockAccount(ctx context.Context, tx pgx.Tx, userID int64) (*domain.Account, error) {
	account, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	if account != nil {
		return account, nil
	}

	if err := s.accountRepo.CreateIfAbsent(ctx, domain.NewAccount(userID)); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	account, err = s.accountRepo.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("relock account: %w", err)
	}
	if account == nil {
		return nil, apperror.ErrNotFound("account")
	}
	return account, nil
}

func (s *LedgerServiceImpl) writeIdempotencyLog(ctx context.Context, tx pgx.Tx, idempKey string, userID int64, account *domain.Account, now time.Time) error {
	respJSON, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	idempLog := &domain.IdempotencyLog{
		Key:          idempKey,
		UserID:       userID,
		ResponseJSON: respJSON,
		CreatedAt:    now,
	}
	if err := s.idempRepo.Create(ctx, tx, idempLog); err != nil {
		return fmt.Errorf("save idempotency log: %w", err)
	}
	return nil
}

// applyWithRetry runs one transactional attempt, retrying with
// exponential backoff when the failure is transient (serialization
// conflict, deadlock, lost connection). Business errors never retry.
func (s *LedgerServiceImpl) applyWithRetry(ctx context.Context, attempt func(ctx context.Context) (*domain.Account, *domain.LedgerEntry, error)) (*domain.Account, *domain.LedgerEntry, error) {
	var lastErr error
	for i := 0; i < maxTxAttempts; i++ {
		if i > 0 {
			delay := retryBaseDelay << (i - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, nil, storageError(ctx.Err())
			}
			s.log.Warn().Err(lastErr).Int("attempt", i+1).Msg("retrying ledger transaction")
		}

		account, entry, err := attempt(ctx)
		if err == nil {
			return account, entry, nil
		}

		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, nil, err
		}
		if !isTransient(err) {
			return nil, nil, apperror.InternalError(err)
		}
		lastErr = err
	}
	return nil, nil, apperror.ErrStorageUnavailable(lastErr)
}

// finishMutation runs the best-effort post-commit work: idempotency
// cache write and event publishing. Failures here are logged, never
// surfaced, the ledger mutation is already durable.
func (s *LedgerServiceImpl) finishMutation(ctx context.Context, account *domain.Account, entry *domain.LedgerEntry, idempKey string) {
	if idempKey != "" {
		respJSON, err := json.Marshal(account)
		if err == nil {
			if err := s.idempCache.Set(ctx, idempKey, respJSON, idempotencyTTL); err != nil {
				s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
			}
		}
	}

	if s.publisher != nil && entry != nil {
		event := domain.TransactionEvent{
			EntryID:    entry.ID,
			UserID:     entry.UserID,
			Kind:       entry.Kind,
			Amount:     entry.Amount,
			OccurredAt: entry.CreatedAt,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.log.Warn().Err(err).Int64("entry_id", entry.ID).Msg("failed to publish transaction event")
		}
	}
}

// unmarshalCachedAccount deserializes a cached account snapshot.
func (s *LedgerServiceImpl) unmarshalCachedAccount(data []byte) (*domain.Account, error) {
	account := &domain.Account{}
	if err := json.Unmarshal(data, account); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached account: %w", err))
	}
	return account, nil
}

// isTransient reports whether a storage error is worth retrying.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		// Class 08: connection exceptions.
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func storageError(err error) *apperror.AppError {
	if isTransient(err) {
		return apperror.ErrStorageUnavailable(err)
	}
	return apperror.InternalError(err)
}
