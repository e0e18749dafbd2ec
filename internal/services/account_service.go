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

// AccountService exposes vendor and phone-number account views. Reads are
// cache-aside; account creation goes through the database only.
type AccountService struct {
	db        *sql.DB
	ledger    *LedgerService
	cache     *cache.Cache
	validator *ValidationHelper
}

func NewAccountService(db *sql.DB, ledger *LedgerService, cacheLayer *cache.Cache) *AccountService {
	return &AccountService{
		db:        db,
		ledger:    ledger,
		cache:     cacheLayer,
		validator: NewValidationHelper(),
	}
}

type createVendorRequest struct {
	Username string `json:"username" validate:"required,min=3,max=150"`
	Password string `json:"password" validate:"required,min=6"`
}

type createPhoneNumberRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,min=7,max=255"`
}

// CreateVendor handles POST /vendors. Admin only: creates the login user
// and the vendor account in one database transaction.
func (s *AccountService) CreateVendor(w http.ResponseWriter, r *http.Request) {
	isAdmin, _ := r.Context().Value("isAdmin").(bool)
	if !isAdmin {
		SendErrorResponse(w, "Admin access required", http.StatusForbidden, nil)
		return
	}

	var req createVendorRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		SendErrorResponse(w, "Failed to create vendor", http.StatusInternalServerError, nil)
		return
	}

	tx, err := s.db.BeginTx(r.Context(), nil)
	if err != nil {
		SendErrorResponse(w, "Failed to create vendor", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	var userID int64
	err = tx.QueryRowContext(r.Context(), `
		INSERT INTO users (username, password_hash, is_admin, created_at)
		VALUES ($1, $2, FALSE, NOW())
		RETURNING id`,
		req.Username, hash,
	).Scan(&userID)
	if err != nil {
		log.Printf("[ACCOUNT] Create user failed: %v", err)
		SendErrorResponse(w, "Username already exists", http.StatusConflict, nil)
		return
	}

	vendor := &models.Vendor{UserID: userID, Username: req.Username}
	err = tx.QueryRowContext(r.Context(), `
		INSERT INTO vendors (user_id, username, balance, total_sell, version, created_at, updated_at)
		VALUES ($1, $2, 0, 0, 0, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		userID, req.Username,
	).Scan(&vendor.ID, &vendor.CreatedAt, &vendor.UpdatedAt)
	if err != nil {
		log.Printf("[ACCOUNT] Create vendor failed: %v", err)
		SendErrorResponse(w, "Failed to create vendor", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[ACCOUNT] Commit failed: %v", err)
		SendErrorResponse(w, "Failed to create vendor", http.StatusInternalServerError, nil)
		return
	}

	s.cache.Invalidate(r.Context(), cache.KindVendor, vendor.ID)
	log.Printf("[ACCOUNT] Created vendor %d (%s)", vendor.ID, vendor.Username)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(vendor)
}

// GetVendor handles GET /vendors/{vendorId} with a cache-aside detail view.
func (s *AccountService) GetVendor(w http.ResponseWriter, r *http.Request) {
	vendorID, err := strconv.ParseInt(chi.URLParam(r, "vendorId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid vendor id", http.StatusBadRequest, nil)
		return
	}

	key := cache.DetailKey(cache.KindVendor, vendorID)
	var vendor models.Vendor
	if !s.cache.Get(r.Context(), key, &vendor) {
		fetched, err := s.ledger.GetVendor(r.Context(), vendorID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				SendErrorResponse(w, "Vendor not found", http.StatusNotFound, nil)
				return
			}
			SendErrorResponse(w, "Failed to fetch vendor", http.StatusInternalServerError, nil)
			return
		}
		vendor = *fetched
		s.cache.Set(r.Context(), key, vendor)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(vendor)
}

// Me handles GET /vendors/me for the authenticated vendor. Always reads the
// ledger store: a vendor checking their balance after a mutation must never
// see a stale view.
func (s *AccountService) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	vendor, err := s.ledger.GetVendorByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			SendErrorResponse(w, "Vendor not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to fetch vendor", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(vendor)
}

// CreatePhoneNumber handles POST /phone-numbers for the authenticated
// vendor.
func (s *AccountService) CreatePhoneNumber(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req createPhoneNumberRequest
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

	phone, err := s.ledger.CreatePhoneNumber(r.Context(), vendor.ID, req.PhoneNumber)
	if err != nil {
		log.Printf("[ACCOUNT] Create phone number failed for vendor %d: %v", vendor.ID, err)
		SendErrorResponse(w, "Failed to create phone number", http.StatusConflict, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(phone)
}

// GetPhoneNumber handles GET /phone-numbers/{phoneId} with a cache-aside
// detail view.
func (s *AccountService) GetPhoneNumber(w http.ResponseWriter, r *http.Request) {
	phoneID, err := strconv.ParseInt(chi.URLParam(r, "phoneId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid phone number id", http.StatusBadRequest, nil)
		return
	}

	key := cache.DetailKey(cache.KindPhoneNumber, phoneID)
	var phone models.PhoneNumber
	if !s.cache.Get(r.Context(), key, &phone) {
		fetched, err := s.ledger.GetPhoneNumber(r.Context(), phoneID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				SendErrorResponse(w, "Phone number not found", http.StatusNotFound, nil)
				return
			}
			SendErrorResponse(w, "Failed to fetch phone number", http.StatusInternalServerError, nil)
			return
		}
		phone = *fetched
		s.cache.Set(r.Context(), key, phone)
	}

	isAdmin, _ := r.Context().Value("isAdmin").(bool)
	if !isAdmin {
		userID, ok := r.Context().Value("userID").(int64)
		if !ok {
			SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
			return
		}
		vendor, err := s.ledger.GetVendorByUserID(r.Context(), userID)
		if err != nil || phone.VendorID != vendor.ID {
			SendErrorResponse(w, "Phone number not found", http.StatusNotFound, nil)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(phone)
}

// ListPhoneNumbers handles GET /phone-numbers for the authenticated vendor.
func (s *AccountService) ListPhoneNumbers(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(int64)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
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

	limit := parseLimit(r, 50)
	key := cache.ListKey(cache.KindPhoneNumber, scopedPath(r, vendor.ID))
	phones := []models.PhoneNumber{}
	if !s.cache.Get(r.Context(), key, &phones) {
		fetched, err := s.ledger.ListPhoneNumbers(r.Context(), vendor.ID, limit)
		if err != nil {
			SendErrorResponse(w, "Failed to fetch phone numbers", http.StatusInternalServerError, nil)
			return
		}
		phones = fetched
		s.cache.Set(r.Context(), key, phones)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"phone_numbers": phones,
		"count":         len(phones),
	})
}
