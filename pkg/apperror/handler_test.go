package apperror

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHandler(t *testing.T, method string, err error) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	e := echo.New()
	handler := HTTPErrorHandler(slog.Default())

	req := httptest.NewRequest(method, "/", nil)
	rec := httptest.NewRecorder()
	handler(err, e.NewContext(req, rec))

	if rec.Body.Len() == 0 {
		return rec, nil
	}
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok, "response must carry an error object")
	return rec, errObj
}

func TestHTTPErrorHandler_AppError(t *testing.T) {
	rec, errObj := runHandler(t, http.MethodPost, ErrConflict.WithMessage("expected version 1, head is 2"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errObj["code"])
	assert.Equal(t, "expected version 1, head is 2", errObj["message"])
}

func TestHTTPErrorHandler_WrappedAppError(t *testing.T) {
	rec, errObj := runHandler(t, http.MethodPost, fmt.Errorf("create relationship: %w", ErrDanglingReference))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "dangling_reference", errObj["code"])
}

func TestHTTPErrorHandler_Details(t *testing.T) {
	_, errObj := runHandler(t, http.MethodPost, NewValidation("invalid properties", map[string]string{"age": "expected number"}))

	details, ok := errObj["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "expected number", details["age"])
}

func TestHTTPErrorHandler_EchoErrorStatusCodes(t *testing.T) {
	tests := []struct {
		status   int
		wantCode string
	}{
		{http.StatusNotFound, "not_found"},
		{http.StatusBadRequest, "bad_request"},
		{http.StatusConflict, "conflict"},
		{http.StatusUnprocessableEntity, "validation_error"},
		{http.StatusTooManyRequests, "rate_limited"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			rec, errObj := runHandler(t, http.MethodGet, echo.NewHTTPError(tt.status, "test message"))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantCode, errObj["code"])
			assert.Equal(t, "test message", errObj["message"])
		})
	}
}

func TestHTTPErrorHandler_StructuredMessage(t *testing.T) {
	structured := map[string]any{
		"error": map[string]any{
			"code":    "scope_required",
			"message": "X-Project-ID header is required",
		},
	}
	rec, errObj := runHandler(t, http.MethodGet, echo.NewHTTPError(http.StatusBadRequest, structured))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "scope_required", errObj["code"])
}

func TestHTTPErrorHandler_UnknownError(t *testing.T) {
	rec, errObj := runHandler(t, http.MethodGet, fmt.Errorf("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", errObj["code"])
}

func TestHTTPErrorHandler_HeadRequest(t *testing.T) {
	rec, errObj := runHandler(t, http.MethodHead, NewNotFound("graph object", "123"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Nil(t, errObj)
	assert.Zero(t, rec.Body.Len())
}

func TestHTTPErrorHandler_CommittedResponse(t *testing.T) {
	e := echo.New()
	handler := HTTPErrorHandler(slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	c.Response().WriteHeader(http.StatusOK)
	_, _ = c.Response().Write([]byte("already written"))

	handler(NewBadRequest("should not appear"), c)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPErrorHandler_RetryAfter(t *testing.T) {
	rec, errObj := runHandler(t, http.MethodPost, ErrTooManyRequests)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", errObj["code"])
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec, _ = runHandler(t, http.MethodPost, ErrConflict)
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestHTTPErrorHandler_InternalCauseHidden(t *testing.T) {
	rec, errObj := runHandler(t, http.MethodGet, ErrDatabase.WithInternal(fmt.Errorf("pq: password authentication failed")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "database_error", errObj["code"])
	assert.NotContains(t, rec.Body.String(), "password")
}
