package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid deposit request", func(t *testing.T) {
		err := vh.ValidateStruct(&createDepositRequest{Amount: 1000})
		assert.NoError(t, err)
	})

	t.Run("zero amount fails required", func(t *testing.T) {
		err := vh.ValidateStruct(&createDepositRequest{Amount: 0})
		assert.Error(t, err)
	})

	t.Run("negative amount fails gt", func(t *testing.T) {
		err := vh.ValidateStruct(&createDepositRequest{Amount: -100})
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 1)
		assert.Equal(t, "Amount", validationErrors[0].Field())
		assert.Equal(t, "gt", validationErrors[0].Tag())
	})

	t.Run("state must be a valid target", func(t *testing.T) {
		assert.NoError(t, vh.ValidateStruct(&changeDepositStateRequest{State: "APPROVED"}))
		assert.NoError(t, vh.ValidateStruct(&changeDepositStateRequest{State: "REJECTED", RejectReason: "no payment received"}))
		assert.Error(t, vh.ValidateStruct(&changeDepositStateRequest{State: "PENDING"}))
		assert.Error(t, vh.ValidateStruct(&changeDepositStateRequest{State: "approved"}))
		assert.Error(t, vh.ValidateStruct(&changeDepositStateRequest{}))
	})

	t.Run("transfer request needs both fields", func(t *testing.T) {
		assert.NoError(t, vh.ValidateStruct(&createTransferRequest{PhoneNumberID: 11, Amount: 400}))
		assert.Error(t, vh.ValidateStruct(&createTransferRequest{PhoneNumberID: 11}))
		assert.Error(t, vh.ValidateStruct(&createTransferRequest{Amount: 400}))
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("validation errors expand into details", func(t *testing.T) {
		vh := NewValidationHelper()
		validationErr := vh.ValidateStruct(&createTransferRequest{Amount: -1})
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Validation failed", response.Error)
		assert.Contains(t, response.Details, "PhoneNumberID")
		assert.Contains(t, response.Details, "Amount")
	})

	t.Run("non-validation error carries no details", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Unauthorized", response.Error)
	})
}
