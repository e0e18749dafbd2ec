package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tabdil/backend/internal/cache"
	"github.com/tabdil/backend/internal/models"
)

// DepositService exposes the deposit lifecycle over HTTP: vendors raise
// deposit requests, admins approve or reject them.
type DepositService struct {
	ledger    *LedgerService
	cache     *cache.Cache
	validator *ValidationHelper
}

func NewDepositService(ledger *LedgerService, cacheLayer *cache.Cache) *DepositService {
	return &DepositService{
		ledger:    ledger,
		cache:     cacheLayer,
		validator: NewValidationHelper(),
	}
}

type createDepositRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

type changeDepositStateRequest struct {
	State        string `json:"state" validate:"required,oneof=APPROVED REJECTED"`
	RejectReason string `json:"reject_reason" validate:"max=500"`
}

// CreateDeposit handles POST /deposits for the authenticated vendor.
func (s *DepositService) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req createDepositRequest
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

	vt, err := s.ledger.CreateDeposit(r.Context(), vendor.ID, req.Amount)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
			return
		}
		log.Printf("[DEPOSIT] Create failed for vendor %d: %v", vendor.ID, err)
		SendErrorResponse(w, "Failed to create deposit", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[DEPOSIT] Created deposit %d (ref %s) for vendor %d, amount %d", vt.ID, vt.Reference, vendor.ID, vt.Amount)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(vt)
}

// ChangeState handles POST /deposits/{txId}/state. Admin only; exactly one
// transition per deposit ever succeeds.
func (s *DepositService) ChangeState(w http.ResponseWriter, r *http.Request) {
	isAdmin, _ := r.Context().Value("isAdmin").(bool)
	if !isAdmin {
		SendErrorResponse(w, "Admin access required", http.StatusForbidden, nil)
		return
	}

	txID, err := strconv.ParseInt(chi.URLParam(r, "txId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	var req changeDepositStateRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	vt, vendor, err := s.ledger.ChangeDepositState(r.Context(), txID, req.State, req.RejectReason)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotPending):
			SendErrorResponse(w, "Transaction is not pending", http.StatusBadRequest, nil)
		case errors.Is(err, sql.ErrNoRows):
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		default:
			log.Printf("[DEPOSIT] Change state failed for transaction %d: %v", txID, err)
			SendErrorResponse(w, "Failed to change transaction state", http.StatusInternalServerError, nil)
		}
		return
	}

	log.Printf("[DEPOSIT] Transaction %d moved to %s, vendor %d balance %d", vt.ID, vt.State, vendor.ID, vendor.Balance)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transaction": vt,
		"vendor":      vendor,
	})
}

// GetDeposit handles GET /deposits/{txId}, serving the cached detail view
// when present.
func (s *DepositService) GetDeposit(w http.ResponseWriter, r *http.Request) {
	txID, err := strconv.ParseInt(chi.URLParam(r, "txId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	vendor, isAdmin, ok := s.resolveCaller(w, r)
	if !ok {
		return
	}

	key := cache.DetailKey(cache.KindVendorTransaction, txID)
	var vt models.VendorTransaction
	if !s.cache.Get(r.Context(), key, &vt) {
		fetched, err := s.ledger.GetDeposit(r.Context(), txID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
				return
			}
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
			return
		}
		vt = *fetched
		s.cache.Set(r.Context(), key, vt)
	}

	if !isAdmin && (vendor == nil || vt.VendorID != vendor.ID) {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(vt)
}

// ListDeposits handles GET /deposits. Admins see every vendor's deposits,
// vendors only their own.
func (s *DepositService) ListDeposits(w http.ResponseWriter, r *http.Request) {
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
	key := cache.ListKey(cache.KindVendorTransaction, scopedPath(r, scopeID))
	deposits := []models.VendorTransaction{}
	if !s.cache.Get(r.Context(), key, &deposits) {
		fetched, err := s.ledger.ListDeposits(r.Context(), scopeID, limit)
		if err != nil {
			SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		deposits = fetched
		s.cache.Set(r.Context(), key, deposits)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transactions": deposits,
		"count":        len(deposits),
	})
}

// resolveCaller loads the caller's vendor account unless the caller is an
// admin. Writes the error response itself when the caller is unusable.
func (s *DepositService) resolveCaller(w http.ResponseWriter, r *http.Request) (*models.Vendor, bool, bool) {
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

// decodeJSONBody applies the shared strict-decoding rules: bounded body,
// unknown fields rejected, single JSON object only.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dest); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	return true
}

func parseLimit(r *http.Request, def int) int {
	limit := def
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	return limit
}

// scopedPath namespaces a list-cache key by the caller's vendor scope so
// one vendor's cached list never serves another vendor.
func scopedPath(r *http.Request, scopeID int64) string {
	return r.URL.RequestURI() + ":scope:" + strconv.FormatInt(scopeID, 10)
}
