package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"payments/internal/domain"
	"payments/internal/providererr"
	"payments/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRespondError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{"not found", service.ErrTransactionNotFound, http.StatusNotFound, "", service.ErrTransactionNotFound.Error()},
		{"wrapped validation", fmt.Errorf("charge: %w", domain.ErrUnsupportedCurrency), http.StatusBadRequest, "", "charge: unsupported currency"},
		{"conflict", service.ErrRefundExceedsCaptured, http.StatusConflict, "", service.ErrRefundExceedsCaptured.Error()},
		{"invalid transition", domain.ErrInvalidTransition, http.StatusConflict, "", domain.ErrInvalidTransition.Error()},
		{"decline", providererr.New("stripe", providererr.CodeInsufficientFunds, "insufficient funds"), http.StatusPaymentRequired, "insufficient_funds", "insufficient funds"},
		{"rate limited", providererr.New("stripe", providererr.CodeRateLimited, "slow down"), http.StatusTooManyRequests, "rate_limit", "slow down"},
		{"upstream misconfigured", providererr.New("stripe", providererr.CodeAuthentication, "bad api key sk_live_x"), http.StatusBadGateway, "authentication_failed", "internal server error"},
		{"unexpected", errors.New("pq: connection refused"), http.StatusInternalServerError, "", "internal server error"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			respondError(c, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, resp.Code)
			}
			if resp.Error != tt.wantMessage {
				t.Errorf("expected message %q, got %q", tt.wantMessage, resp.Error)
			}
			if len(c.Errors) != 1 {
				t.Error("expected the error to be attached to the context")
			}
		})
	}
}

func TestCaller(t *testing.T) {
	t.Parallel()

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set(userIDHeader, "user-7")
	c.Request.Header.Set(userGroupsHeader, "beta, staff,,")

	userID, groups := caller(c)
	if userID != "user-7" {
		t.Errorf("expected user-7, got %q", userID)
	}
	if len(groups) != 2 || groups[0] != "beta" || groups[1] != "staff" {
		t.Errorf("expected [beta staff], got %v", groups)
	}
}
