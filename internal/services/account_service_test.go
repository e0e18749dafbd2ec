package services

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/tabdil/backend/internal/cache"
	"github.com/tabdil/backend/internal/models"
)

func newTestAccountService(t *testing.T) (*AccountService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	cacheLayer := cache.New(nil, 0, nil)
	ledger := NewLedgerService(db, cacheLayer, nil)
	return NewAccountService(db, ledger, cacheLayer), mock, db
}

func TestAccountService_CreateVendor(t *testing.T) {
	service, mock, db := newTestAccountService(t)
	defer db.Close()

	t.Run("admin creates user and vendor in one transaction", func(t *testing.T) {
		now := time.Now()
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WithArgs("vendor7", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
		mock.ExpectQuery("INSERT INTO vendors").
			WithArgs(int64(3), "vendor7").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(7, now, now))
		mock.ExpectCommit()

		body, _ := json.Marshal(map[string]string{"username": "vendor7", "password": "secret123"})
		req := asAdmin(httptest.NewRequest("POST", "/vendors", bytes.NewBuffer(body)))
		w := httptest.NewRecorder()

		service.CreateVendor(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var vendor models.Vendor
		json.Unmarshal(w.Body.Bytes(), &vendor)
		assert.Equal(t, int64(7), vendor.ID)
		assert.Equal(t, int64(0), vendor.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate username", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WithArgs("vendor7", sqlmock.AnyArg()).
			WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "users_username_key"`))
		mock.ExpectRollback()

		body, _ := json.Marshal(map[string]string{"username": "vendor7", "password": "secret123"})
		req := asAdmin(httptest.NewRequest("POST", "/vendors", bytes.NewBuffer(body)))
		w := httptest.NewRecorder()

		service.CreateVendor(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-admin rejected", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"username": "vendor7", "password": "secret123"})
		req := asVendor(httptest.NewRequest("POST", "/vendors", bytes.NewBuffer(body)), 3)
		w := httptest.NewRecorder()

		service.CreateVendor(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("short password rejected", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"username": "vendor7", "password": "abc"})
		req := asAdmin(httptest.NewRequest("POST", "/vendors", bytes.NewBuffer(body)))
		w := httptest.NewRecorder()

		service.CreateVendor(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAccountService_Me(t *testing.T) {
	service, mock, db := newTestAccountService(t)
	defer db.Close()

	t.Run("returns the caller's vendor account", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, username, balance, total_sell").
			WithArgs(int64(3)).
			WillReturnRows(vendorRows(7, 3, "vendor7", 1000, 500, 2))

		req := asVendor(httptest.NewRequest("GET", "/vendors/me", nil), 3)
		w := httptest.NewRecorder()

		service.Me(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var vendor models.Vendor
		json.Unmarshal(w.Body.Bytes(), &vendor)
		assert.Equal(t, int64(1000), vendor.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("user without vendor account", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, username, balance, total_sell").
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		req := asVendor(httptest.NewRequest("GET", "/vendors/me", nil), 99)
		w := httptest.NewRecorder()

		service.Me(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountService_PhoneNumbers(t *testing.T) {
	service, mock, db := newTestAccountService(t)
	defer db.Close()

	router := chi.NewRouter()
	router.Get("/phone-numbers/{phoneId}", service.GetPhoneNumber)

	t.Run("create phone number", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT id, user_id, username, balance, total_sell").
			WithArgs(int64(3)).
			WillReturnRows(vendorRows(7, 3, "vendor7", 1000, 0, 2))
		mock.ExpectQuery("INSERT INTO phone_numbers").
			WithArgs(int64(7), "09123456789").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(11, now, now))

		body, _ := json.Marshal(map[string]string{"phone_number": "09123456789"})
		req := asVendor(httptest.NewRequest("POST", "/phone-numbers", bytes.NewBuffer(body)), 3)
		w := httptest.NewRecorder()

		service.CreatePhoneNumber(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var phone models.PhoneNumber
		json.Unmarshal(w.Body.Bytes(), &phone)
		assert.Equal(t, int64(11), phone.ID)
		assert.Equal(t, int64(0), phone.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("vendor cannot see another vendor's phone number", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, vendor_id, phone_number, balance").
			WithArgs(int64(11)).
			WillReturnRows(phoneRows(11, 7, "09123456789", 200, 9))
		mock.ExpectQuery("SELECT id, user_id, username, balance, total_sell").
			WithArgs(int64(4)).
			WillReturnRows(vendorRows(8, 4, "vendor8", 500, 0, 1))

		req := asVendor(httptest.NewRequest("GET", "/phone-numbers/11", nil), 4)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list own phone numbers", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, username, balance, total_sell").
			WithArgs(int64(3)).
			WillReturnRows(vendorRows(7, 3, "vendor7", 1000, 0, 2))
		mock.ExpectQuery("SELECT id, vendor_id, phone_number, balance").
			WithArgs(int64(7), 50).
			WillReturnRows(phoneRows(11, 7, "09123456789", 200, 9))

		req := asVendor(httptest.NewRequest("GET", "/phone-numbers", nil), 3)
		w := httptest.NewRecorder()

		service.ListPhoneNumbers(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, float64(1), response["count"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
