package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/phasegate/internal/logger"
)

func serve(header string) (captured string, rec *httptest.ResponseRecorder) {
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		captured = logger.RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if header != "" {
		req.Header.Set("X-Request-ID", header)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return captured, rec
}

func TestRequestIDGenerated(t *testing.T) {
	id, rec := serve("")
	if id == "" {
		t.Fatal("expected generated request ID in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != id || len(got) != 32 {
		t.Errorf("expected 32-char id echoed, got %q", got)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	const existingID = "my-custom-id-123"
	id, rec := serve(existingID)
	if id != existingID {
		t.Errorf("expected %q in context, got %q", existingID, id)
	}
	if rec.Header().Get("X-Request-ID") != existingID {
		t.Errorf("expected %q in response header, got %q", existingID, rec.Header().Get("X-Request-ID"))
	}
}

func TestRequestIDRejectsUnsafe(t *testing.T) {
	for _, bad := range []string{"has space", strings.Repeat("a", 129), "tab\there"} {
		id, _ := serve(bad)
		if id == bad || len(id) != 32 {
			t.Errorf("expected %q to be replaced, got %q", bad, id)
		}
	}
}
