package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"roomgraph/internal/common/logging"
)

func TestLogging(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  string
	}{
		{name: "ok", status: http.StatusOK, level: "INFO"},
		{name: "implicit ok", status: 0, level: "INFO"},
		{name: "client error", status: http.StatusNotFound, level: "WARN"},
		{name: "server error", status: http.StatusBadGateway, level: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.DebugLevel, Output: &buf})
			require.NoError(t, err)

			handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				w.Write([]byte("body"))
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/rooms?x=1", nil)
			req.Header.Set("User-Agent", "probe")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			out := buf.String()
			assert.Contains(t, out, "HTTP request completed")
			assert.Contains(t, out, tt.level)
			assert.Contains(t, out, `"path": "/api/rooms"`)
			assert.Contains(t, out, `"query": "x=1"`)
			assert.Contains(t, out, `"user_agent": "probe"`)
			want := tt.status
			if want == 0 {
				want = http.StatusOK
			}
			assert.Contains(t, out, `"status": `+strconv.Itoa(want))
		})
	}
}

func TestResponseWriterKeepsFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	rw.Write([]byte("x"))
	rw.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusOK, rw.statusCode)
}
