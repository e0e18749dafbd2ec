package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/tabdil/backend/internal/cache"
	"github.com/tabdil/backend/internal/metrics"
	"github.com/tabdil/backend/internal/models"
)

// LedgerService owns every balance mutation. All writes go through one
// discipline: lock the affected account rows FOR UPDATE in canonical order
// (vendor before phone number), validate under the lock, write, commit.
// Cache invalidation and metrics happen strictly after commit.
type LedgerService struct {
	db      *sql.DB
	cache   *cache.Cache
	metrics metrics.Emitter
}

func NewLedgerService(db *sql.DB, cacheLayer *cache.Cache, emitter metrics.Emitter) *LedgerService {
	if emitter == nil {
		emitter = metrics.NopEmitter{}
	}
	return &LedgerService{
		db:      db,
		cache:   cacheLayer,
		metrics: emitter,
	}
}

// CreateDeposit records a pending top-up request for a vendor. A pending
// deposit never touches the balance; that happens at approval.
func (s *LedgerService) CreateDeposit(ctx context.Context, vendorID, amount int64) (*models.VendorTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	vt := &models.VendorTransaction{
		BaseTransaction: models.BaseTransaction{
			Amount: amount,
			State:  models.StatePending,
		},
		VendorID:  vendorID,
		Reference: uuid.NewString(),
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO vendor_transactions (vendor_id, amount, state, reject_reason, reference, created_at, updated_at)
		VALUES ($1, $2, $3, '', $4, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		vendorID, amount, models.StatePending, vt.Reference,
	).Scan(&vt.ID, &vt.CreatedAt, &vt.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.metrics.Emit(metrics.EventModelOperation, map[string]string{"model": "VendorTransaction", "operation": "create"})
	s.cache.Invalidate(ctx, cache.KindVendorTransaction, vt.ID)
	return vt, nil
}

// ChangeDepositState moves a deposit out of PENDING exactly once. The state
// is re-checked under an exclusive lock on the transaction row, so under
// concurrent calls for the same id one caller wins and the rest get
// ErrNotPending. On approval the vendor balance increment commits in the
// same transaction as the state write.
func (s *LedgerService) ChangeDepositState(ctx context.Context, transactionID int64, newState, rejectReason string) (*models.VendorTransaction, *models.Vendor, error) {
	if newState != models.StateApproved && newState != models.StateRejected {
		return nil, nil, fmt.Errorf("invalid target state %q", newState)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	vt, err := s.lockVendorTransaction(ctx, tx, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if vt.State != models.StatePending {
		return nil, nil, ErrNotPending
	}

	vendor, err := s.lockVendor(ctx, tx, vt.VendorID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	vt.State = newState
	if newState == models.StateRejected {
		vt.RejectReason = rejectReason
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE vendor_transactions
		SET state = $1, reject_reason = $2, updated_at = NOW()
		WHERE id = $3`,
		vt.State, vt.RejectReason, vt.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if newState == models.StateApproved {
		if err := s.updateVendorBalance(ctx, tx, vendor.ID, vendor.Balance+vt.Amount, vendor.TotalSell, vendor.Version); err != nil {
			return nil, nil, err
		}
		vendor.Balance += vt.Amount
		vendor.Version++
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	operation := "reject"
	if newState == models.StateApproved {
		operation = "approve"
		s.metrics.Observe(metrics.EventVendorBalance, float64(vendor.Balance), map[string]string{"vendor_id": strconv.FormatInt(vendor.ID, 10)})
	}
	s.metrics.Emit(metrics.EventModelOperation, map[string]string{"model": "VendorTransaction", "operation": operation})
	s.metrics.Observe(metrics.EventTransactionAmount, float64(vt.Amount), map[string]string{"transaction_type": "vendor", "state": vt.State})

	s.cache.Invalidate(ctx, cache.KindVendorTransaction, vt.ID)
	s.cache.Invalidate(ctx, cache.KindVendor, vendor.ID)
	return vt, vendor, nil
}

// Transfer moves credits from a vendor to one of its phone numbers and
// settles the transaction in one atomic unit: debit, total_sell increment,
// credit and ledger row all commit together or not at all.
func (s *LedgerService) Transfer(ctx context.Context, vendorID, phoneNumberID, amount int64) (*models.PhoneNumberTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	// Canonical lock order: vendor first, then phone number.
	vendor, err := s.lockVendor(ctx, tx, vendorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	phone, err := s.lockPhoneNumber(ctx, tx, phoneNumberID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotOwned
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if phone.VendorID != vendor.ID {
		return nil, ErrNotOwned
	}

	if vendor.Balance < amount {
		return nil, ErrInsufficientBalance
	}

	if err := s.updateVendorBalance(ctx, tx, vendor.ID, vendor.Balance-amount, vendor.TotalSell+amount, vendor.Version); err != nil {
		return nil, err
	}

	if err := s.updatePhoneNumberBalance(ctx, tx, phone.ID, phone.Balance+amount, phone.Version); err != nil {
		return nil, err
	}

	pt := &models.PhoneNumberTransaction{
		BaseTransaction: models.BaseTransaction{
			Amount: amount,
			State:  models.StateApproved,
		},
		VendorID:      vendor.ID,
		PhoneNumberID: phone.ID,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO phone_number_transactions (vendor_id, phone_number_id, amount, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		pt.VendorID, pt.PhoneNumberID, pt.Amount, pt.State,
	).Scan(&pt.ID, &pt.CreatedAt, &pt.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	vendor.Balance -= amount
	vendor.TotalSell += amount

	s.metrics.Emit(metrics.EventModelOperation, map[string]string{"model": "PhoneNumberTransaction", "operation": "create"})
	s.metrics.Observe(metrics.EventTransactionAmount, float64(amount), map[string]string{"transaction_type": "phone_number", "state": pt.State})
	s.metrics.Observe(metrics.EventVendorBalance, float64(vendor.Balance), map[string]string{"vendor_id": strconv.FormatInt(vendor.ID, 10)})

	s.cache.Invalidate(ctx, cache.KindPhoneNumberTransaction, pt.ID)
	s.cache.Invalidate(ctx, cache.KindVendor, vendor.ID)
	s.cache.Invalidate(ctx, cache.KindPhoneNumber, phone.ID)
	return pt, nil
}

// Row locks. Each helper holds the row exclusively until the enclosing
// transaction ends; the deferred rollback in the callers releases them on
// every exit path.

func (s *LedgerService) lockVendorTransaction(ctx context.Context, tx *sql.Tx, id int64) (*models.VendorTransaction, error) {
	var vt models.VendorTransaction
	err := tx.QueryRowContext(ctx, `
		SELECT id, vendor_id, amount, state, reject_reason, reference, created_at, updated_at
		FROM vendor_transactions
		WHERE id = $1
		FOR UPDATE`, id,
	).Scan(&vt.ID, &vt.VendorID, &vt.Amount, &vt.State, &vt.RejectReason, &vt.Reference, &vt.CreatedAt, &vt.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &vt, nil
}

func (s *LedgerService) lockVendor(ctx context.Context, tx *sql.Tx, id int64) (*models.Vendor, error) {
	var vendor models.Vendor
	err := tx.QueryRowContext(ctx, `
		SELECT id, user_id, username, balance, total_sell, version, created_at, updated_at
		FROM vendors
		WHERE id = $1
		FOR UPDATE`, id,
	).Scan(&vendor.ID, &vendor.UserID, &vendor.Username, &vendor.Balance, &vendor.TotalSell, &vendor.Version, &vendor.CreatedAt, &vendor.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

func (s *LedgerService) lockPhoneNumber(ctx context.Context, tx *sql.Tx, id int64) (*models.PhoneNumber, error) {
	var phone models.PhoneNumber
	err := tx.QueryRowContext(ctx, `
		SELECT id, vendor_id, phone_number, balance, version, created_at, updated_at
		FROM phone_numbers
		WHERE id = $1
		FOR UPDATE`, id,
	).Scan(&phone.ID, &phone.VendorID, &phone.PhoneNumber, &phone.Balance, &phone.Version, &phone.CreatedAt, &phone.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &phone, nil
}

func (s *LedgerService) updateVendorBalance(ctx context.Context, tx *sql.Tx, vendorID, newBalance, newTotalSell int64, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE vendors
		SET balance = $1, total_sell = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4`,
		newBalance, newTotalSell, vendorID, version)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for vendor %d", vendorID)
	}

	return nil
}

func (s *LedgerService) updatePhoneNumberBalance(ctx context.Context, tx *sql.Tx, phoneNumberID, newBalance int64, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE phone_numbers
		SET balance = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3`,
		newBalance, phoneNumberID, version)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for phone number %d", phoneNumberID)
	}

	return nil
}

// Read paths. Plain selects, no locks; the handlers layer cache-aside
// results from these.

func (s *LedgerService) GetVendor(ctx context.Context, id int64) (*models.Vendor, error) {
	var vendor models.Vendor
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, username, balance, total_sell, version, created_at, updated_at
		FROM vendors
		WHERE id = $1`, id,
	).Scan(&vendor.ID, &vendor.UserID, &vendor.Username, &vendor.Balance, &vendor.TotalSell, &vendor.Version, &vendor.CreatedAt, &vendor.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

func (s *LedgerService) GetVendorByUserID(ctx context.Context, userID int64) (*models.Vendor, error) {
	var vendor models.Vendor
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, username, balance, total_sell, version, created_at, updated_at
		FROM vendors
		WHERE user_id = $1`, userID,
	).Scan(&vendor.ID, &vendor.UserID, &vendor.Username, &vendor.Balance, &vendor.TotalSell, &vendor.Version, &vendor.CreatedAt, &vendor.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

func (s *LedgerService) GetPhoneNumber(ctx context.Context, id int64) (*models.PhoneNumber, error) {
	var phone models.PhoneNumber
	err := s.db.QueryRowContext(ctx, `
		SELECT id, vendor_id, phone_number, balance, version, created_at, updated_at
		FROM phone_numbers
		WHERE id = $1`, id,
	).Scan(&phone.ID, &phone.VendorID, &phone.PhoneNumber, &phone.Balance, &phone.Version, &phone.CreatedAt, &phone.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &phone, nil
}

func (s *LedgerService) ListPhoneNumbers(ctx context.Context, vendorID int64, limit int) ([]models.PhoneNumber, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vendor_id, phone_number, balance, version, created_at, updated_at
		FROM phone_numbers
		WHERE vendor_id = $1
		ORDER BY id
		LIMIT $2`, vendorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	phones := []models.PhoneNumber{}
	for rows.Next() {
		var phone models.PhoneNumber
		if err := rows.Scan(&phone.ID, &phone.VendorID, &phone.PhoneNumber, &phone.Balance, &phone.Version, &phone.CreatedAt, &phone.UpdatedAt); err != nil {
			return nil, err
		}
		phones = append(phones, phone)
	}
	return phones, rows.Err()
}

// CreatePhoneNumber registers a phone number under a vendor with a zero
// starting balance.
func (s *LedgerService) CreatePhoneNumber(ctx context.Context, vendorID int64, number string) (*models.PhoneNumber, error) {
	phone := &models.PhoneNumber{
		VendorID:    vendorID,
		PhoneNumber: number,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO phone_numbers (vendor_id, phone_number, balance, version, created_at, updated_at)
		VALUES ($1, $2, 0, 0, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		vendorID, number,
	).Scan(&phone.ID, &phone.CreatedAt, &phone.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.metrics.Emit(metrics.EventModelOperation, map[string]string{"model": "PhoneNumber", "operation": "create"})
	s.cache.Invalidate(ctx, cache.KindPhoneNumber, phone.ID)
	return phone, nil
}

func (s *LedgerService) GetDeposit(ctx context.Context, id int64) (*models.VendorTransaction, error) {
	var vt models.VendorTransaction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, vendor_id, amount, state, reject_reason, reference, created_at, updated_at
		FROM vendor_transactions
		WHERE id = $1`, id,
	).Scan(&vt.ID, &vt.VendorID, &vt.Amount, &vt.State, &vt.RejectReason, &vt.Reference, &vt.CreatedAt, &vt.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &vt, nil
}

// ListDeposits returns a vendor's deposits, newest first. vendorID 0 means
// all vendors (admin view).
func (s *LedgerService) ListDeposits(ctx context.Context, vendorID int64, limit int) ([]models.VendorTransaction, error) {
	query := `
		SELECT id, vendor_id, amount, state, reject_reason, reference, created_at, updated_at
		FROM vendor_transactions`
	args := []interface{}{}
	if vendorID != 0 {
		query += ` WHERE vendor_id = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, vendorID, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deposits := []models.VendorTransaction{}
	for rows.Next() {
		var vt models.VendorTransaction
		if err := rows.Scan(&vt.ID, &vt.VendorID, &vt.Amount, &vt.State, &vt.RejectReason, &vt.Reference, &vt.CreatedAt, &vt.UpdatedAt); err != nil {
			return nil, err
		}
		deposits = append(deposits, vt)
	}
	return deposits, rows.Err()
}

func (s *LedgerService) GetTransfer(ctx context.Context, id int64) (*models.PhoneNumberTransaction, error) {
	var pt models.PhoneNumberTransaction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, vendor_id, phone_number_id, amount, state, created_at, updated_at
		FROM phone_number_transactions
		WHERE id = $1`, id,
	).Scan(&pt.ID, &pt.VendorID, &pt.PhoneNumberID, &pt.Amount, &pt.State, &pt.CreatedAt, &pt.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &pt, nil
}

// ListTransfers returns a vendor's settled transfers, newest first.
// vendorID 0 means all vendors (admin view).
func (s *LedgerService) ListTransfers(ctx context.Context, vendorID int64, limit int) ([]models.PhoneNumberTransaction, error) {
	query := `
		SELECT id, vendor_id, phone_number_id, amount, state, created_at, updated_at
		FROM phone_number_transactions`
	args := []interface{}{}
	if vendorID != 0 {
		query += ` WHERE vendor_id = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, vendorID, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := []models.PhoneNumberTransaction{}
	for rows.Next() {
		var pt models.PhoneNumberTransaction
		if err := rows.Scan(&pt.ID, &pt.VendorID, &pt.PhoneNumberID, &pt.Amount, &pt.State, &pt.CreatedAt, &pt.UpdatedAt); err != nil {
			return nil, err
		}
		transfers = append(transfers, pt)
	}
	return transfers, rows.Err()
}
