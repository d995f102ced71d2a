package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fjmerc/chunkvault/internal/models"
	"github.com/fjmerc/chunkvault/pkg/uploaderr"
)

func TestRecoveryMiddleware_NoPanic(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Errorf("got %d %q", rr.Code, rr.Body.String())
	}
}

func TestRecoveryMiddleware_Panics(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
	}{
		{"string", "something went wrong"},
		{"error", json.Unmarshal([]byte("{"), &struct{}{})},
		{"nil map write", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.value == nil {
					var m map[string]int
					m["boom"] = 1
				}
				panic(tt.value)
			}))

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/files/initiate", nil))

			if rr.Code != http.StatusInternalServerError {
				t.Errorf("status = %d, want 500", rr.Code)
			}
			var body models.ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if body.Code != string(uploaderr.Internal) {
				t.Errorf("code = %q", body.Code)
			}
		})
	}
}

func TestRecoveryMiddleware_AbortHandlerPropagates(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if recover() != http.ErrAbortHandler {
			t.Error("ErrAbortHandler should be re-raised")
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
