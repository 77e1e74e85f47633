package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		presented string
		secret    string
		want      bool
	}{
		{name: "exact match", presented: "s3cret-key", secret: "s3cret-key", want: true},
		{name: "both empty", presented: "", secret: "", want: false},
		{name: "empty token", presented: "", secret: "s3cret-key", want: false},
		{name: "empty secret", presented: "s3cret-key", secret: "", want: false},
		{name: "shorter token", presented: "s3cret", secret: "s3cret-key", want: false},
		{name: "longer token", presented: "s3cret-key-2", secret: "s3cret-key", want: false},
		{name: "same length different bytes", presented: "s3cret-kez", secret: "s3cret-key", want: false},
		{name: "case differs", presented: "S3CRET-KEY", secret: "s3cret-key", want: false},
		{name: "single byte", presented: "x", secret: "x", want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Authorize(tc.presented, tc.secret))
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"BEARER  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"Bearer ", ""},
		{"", ""},
		{"abc", ""},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, BearerToken(tc.header), "header %q", tc.header)
	}
}

func TestNewGateRejectsEmptySecret(t *testing.T) {
	t.Parallel()

	gate, err := NewGate("")
	assert.Nil(t, gate)
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	gate, err := NewGate("top-secret")
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCalled bool
	}{
		{name: "valid token", header: "Bearer top-secret", wantStatus: http.StatusOK, wantCalled: true},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "empty bearer", header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", header: "Bearer top-secreT", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic top-secret", wantStatus: http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			called := false
			handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/service/status", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantCalled, called)

			if tc.wantStatus == http.StatusUnauthorized {
				var body map[string]string
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, "Authentication required", body["message"])
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}
