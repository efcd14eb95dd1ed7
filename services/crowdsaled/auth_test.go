package crowdsaled

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBearerToken(t *testing.T) {
	require.Equal(t, "abc", parseBearerToken("Bearer abc"))
	require.Equal(t, "abc", parseBearerToken("  bearer   abc "))
	require.Empty(t, parseBearerToken("Basic abc"))
	require.Empty(t, parseBearerToken("Bearer"))
	require.Empty(t, parseBearerToken(""))
}

func TestAuthenticatorMiddleware(t *testing.T) {
	_, err := NewAuthenticator("  ")
	require.Error(t, err)

	auth, err := NewAuthenticator("secret")
	require.NoError(t, err)
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for header, want := range map[string]int{
		"":              http.StatusUnauthorized,
		"Bearer nope":   http.StatusUnauthorized,
		"Bearer secret": http.StatusNoContent,
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/finalize", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code, header)
	}
}
