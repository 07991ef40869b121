package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fairyhunter13/job-platform/internal/domain"
)

func Test_writeError_Mapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"invalid", domain.ErrInvalidArgument, http.StatusBadRequest},
		{"notfound", domain.ErrNotFound, http.StatusNotFound},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden},
		{"conflict", domain.ErrConflict, http.StatusConflict},
		{"invalid_transition", domain.ErrInvalidStateTransition, http.StatusConflict},
		{"transient", domain.ErrTransientInfra, http.StatusServiceUnavailable},
		{"handler", domain.ErrHandlerFailure, http.StatusUnprocessableEntity},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rw := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/x", nil)
			writeError(rw, r, c.err, nil)
			if rw.Code != c.code {
				t.Fatalf("status: got %d want %d", rw.Code, c.code)
			}
		})
	}
}
