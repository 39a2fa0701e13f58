package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"ledger-core-service/pkg/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rr *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func TestJSONEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	JSON(rr, http.StatusOK, map[string]string{"user_id": "alice"})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	resp := decode(t, rr)
	assert.Equal(t, "success", resp.Status)
	assert.Empty(t, resp.Code)
}

func TestErrorEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	Error(rr, http.StatusBadRequest, "Missing user_id")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decode(t, rr)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "Missing user_id", resp.Message)
}

func TestBusinessErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{xerrors.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
		{xerrors.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{xerrors.ErrNotFound, http.StatusNotFound, "not_found"},
		{xerrors.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
		{xerrors.ErrInsufficientLockedBalance, http.StatusUnprocessableEntity, "insufficient_locked_balance"},
		{xerrors.ErrInsufficientLiquidity, http.StatusUnprocessableEntity, "insufficient_liquidity"},
		{xerrors.ErrReservationExpired, http.StatusConflict, "reservation_expired"},
		{xerrors.ErrReservationInvalid, http.StatusConflict, "reservation_invalid"},
		{fmt.Errorf("tx open failed"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range cases {
		rr := httptest.NewRecorder()
		BusinessError(rr, tc.err)
		assert.Equal(t, tc.status, rr.Code, "status for %v", tc.err)
		resp := decode(t, rr)
		assert.Equal(t, "error", resp.Status)
		assert.Equal(t, tc.code, resp.Code, "code for %v", tc.err)
	}
}

func TestBusinessErrorSeesThroughWrapping(t *testing.T) {
	rr := httptest.NewRecorder()
	BusinessError(rr, fmt.Errorf("debit for alice: %w", xerrors.ErrInsufficientBalance))

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	resp := decode(t, rr)
	assert.Equal(t, "insufficient_balance", resp.Code)
}
