package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tabdil/backend/internal/cache"
	"github.com/tabdil/backend/internal/models"
)

// TransferService exposes vendor-to-phone credit transfers over HTTP.
// Transfers settle synchronously; there is no pending phase.
type TransferService struct {
	ledger    *LedgerService
	cache     *cache.Cache
	validator *ValidationHelper
}

func NewTransferService(ledger *LedgerService, cacheLayer *cache.Cache) *TransferService {
	return &TransferService{
		ledger:    ledger,
		cache:     cacheLayer,
		validator: NewValidationHelper(),
	}
}

type createTransferRequest struct {
	PhoneNumberID int64 `json:"phone_number_id" validate:"required,gt=0"`
	Amount        int64 `json:"amount" validate:"required,gt=0"`
}

// CreateTransfer handles POST /transfers for the authenticated vendor.
func (s *TransferService) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req createTransferRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	vendor, err := s.ledger.GetVendorByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			SendErrorResponse(w, "Vendor not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to resolve vendor", http.StatusInternalServerError, nil)
		return
	}

	pt, err := s.ledger.Transfer(r.Context(), vendor.ID, req.PhoneNumberID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		case errors.Is(err, ErrNotOwned):
			SendErrorResponse(w, "Phone number is not owned by this vendor", http.StatusForbidden, nil)
		case errors.Is(err, ErrInsufficientBalance):
			SendErrorResponse(w, "Insufficient balance", http.StatusBadRequest, nil)
		case errors.Is(err, sql.ErrNoRows):
			SendErrorResponse(w, "Vendor not found", http.StatusNotFound, nil)
		default:
			log.Printf("[TRANSFER] Transfer failed for vendor %d: %v", vendor.ID, err)
			SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		}
		return
	}

	log.Printf("[TRANSFER] Vendor %d transferred %d to phone number %d (transaction %d)", vendor.ID, pt.Amount, pt.PhoneNumberID, pt.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(pt)
}

// GetTransfer handles GET /transfers/{txId} with a cache-aside detail view.
func (s *TransferService) GetTransfer(w http.ResponseWriter, r *http.Request) {
	txID, err := strconv.ParseInt(chi.URLParam(r, "txId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	vendor, isAdmin, ok := s.resolveCaller(w, r)
	if !ok {
		return
	}

	key := cache.DetailKey(cache.KindPhoneNumberTransaction, txID)
	var pt models.PhoneNumberTransaction
	if !s.cache.Get(r.Context(), key, &pt) {
		fetched, err := s.ledger.GetTransfer(r.Context(), txID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
				return
			}
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
			return
		}
		pt = *fetched
		s.cache.Set(r.Context(), key, pt)
	}

	if !isAdmin && (vendor == nil || pt.VendorID != vendor.ID) {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pt)
}

// ListTransfers handles GET /transfers. Admins see all, vendors their own.
func (s *TransferService) ListTransfers(w http.ResponseWriter, r *http.Request) {
	vendor, isAdmin, ok := s.resolveCaller(w, r)
	if !ok {
		return
	}

	var scopeID int64
	if !isAdmin {
		if vendor == nil {
			SendErrorResponse(w, "Vendor not found", http.StatusNotFound, nil)
			return
		}
		scopeID = vendor.ID
	}

	limit := parseLimit(r, 50)
	key := cache.ListKey(cache.KindPhoneNumberTransaction, scopedPath(r, scopeID))
	transfers := []models.PhoneNumberTransaction{}
	if !s.cache.Get(r.Context(), key, &transfers) {
		fetched, err := s.ledger.ListTransfers(r.Context(), scopeID, limit)
		if err != nil {
			SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		transfers = fetched
		s.cache.Set(r.Context(), key, transfers)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transactions": transfers,
		"count":        len(transfers),
	})
}

func (s *TransferService) resolveCaller(w http.ResponseWriter, r *http.Request) (*models.Vendor, bool, bool) {
	isAdmin, _ := r.Context().Value("isAdmin").(bool)
	if isAdmin {
		return nil, true, true
	}

	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return nil, false, false
	}

	vendor, err := s.ledger.GetVendorByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			SendErrorResponse(w, "Vendor not found", http.StatusNotFound, nil)
			return nil, false, false
		}
		SendErrorResponse(w, "Failed to resolve vendor", http.StatusInternalServerError, nil)
		return nil, false, false
	}
	return vendor, false, true
}
