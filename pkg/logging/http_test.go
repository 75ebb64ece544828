package logging

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		requestID string
		level     string
	}{
		{"ok generates request id", http.StatusOK, "", `"level":"info"`},
		{"client error keeps request id", http.StatusNotFound, "abc-123", `"level":"warn"`},
		{"server error", http.StatusBadGateway, "", `"level":"error"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: LevelDebug, Output: buf})

			var ctxLogged bool
			handler := Middleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxLogged = zerolog.Ctx(r.Context()).GetLevel() != zerolog.Disabled
				w.WriteHeader(tt.status)
				w.Write([]byte("body"))
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/products?search=sofa", nil)
			if tt.requestID != "" {
				req.Header.Set(RequestIDHeader, tt.requestID)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			got := rec.Header().Get(RequestIDHeader)
			if tt.requestID != "" && got != tt.requestID {
				t.Errorf("request id = %q, want %q", got, tt.requestID)
			}
			if tt.requestID == "" {
				if _, err := uuid.Parse(got); err != nil {
					t.Errorf("generated request id %q is not a UUID", got)
				}
			}
			if !ctxLogged {
				t.Error("request context should carry a logger")
			}

			out := buf.String()
			for _, want := range []string{tt.level, `"path":"/api/products"`, `"query":"search=sofa"`, `"request_id":"` + got + `"`, `"size":4`} {
				if !strings.Contains(out, want) {
					t.Errorf("log %q missing %s", out, want)
				}
			}
		})
	}
}
