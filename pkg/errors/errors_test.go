package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_IsMatchesCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("closing: %w", Newf(ErrTooEarly, "auction %d cannot be closed yet", 7))
	assert.True(t, stderrors.Is(err, ErrTooEarly))
	assert.False(t, stderrors.Is(err, ErrAlreadyClosed))

	cause := stderrors.New("receiver refused")
	wrapped := WithCause(ErrTransferFailed, cause)
	assert.True(t, stderrors.Is(wrapped, cause))
	assert.Equal(t, "payout transfer failed: receiver refused", wrapped.Error())
}

func TestAppError_HTTPStatus(t *testing.T) {
	tests := []struct {
		err    *AppError
		status int
	}{
		{ErrInvalidName, http.StatusBadRequest},
		{ErrBidTooLow, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrAuctionClosed, http.StatusConflict},
		{ErrReentrant, http.StatusConflict},
		{ErrInsufficientFunds, http.StatusPaymentRequired},
		{New(ErrCodeInsufficientBalance, "poor"), http.StatusPaymentRequired},
		{ErrTransferFailed, http.StatusBadGateway},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrRateLimited, http.StatusTooManyRequests},
		{Wrap(stderrors.New("boom"), "internal error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Message, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
		})
	}
}

func TestFrom(t *testing.T) {
	app := From(fmt.Errorf("ctx: %w", ErrNotFound))
	assert.Equal(t, ErrCodeNotFound, app.Code)

	plain := From(stderrors.New("disk full"))
	assert.Equal(t, ErrCodeInternalServer, plain.Code)
	assert.Equal(t, KindInternal, Kind(plain.Code))
}

func TestToJSON(t *testing.T) {
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(ErrAlreadyClosed.ToJSON()), &body))
	assert.Equal(t, "error", body["type"])
	assert.Equal(t, float64(ErrCodeAlreadyClosed), body["code"])
	assert.Equal(t, "lifecycle", body["kind"])
	assert.Equal(t, "auction already closed", body["message"])
}
