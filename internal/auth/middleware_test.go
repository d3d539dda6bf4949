package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func guarded(t *testing.T, seen *Identity) http.Handler {
	t.Helper()
	mw := NewMiddleware(testSecret, NewPolicy(DefaultRoutes, "/healthz", "/metrics"), nil)
	return mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen, _ = IdentityFrom(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func mustToken(t *testing.T, role Role) string {
	t.Helper()
	token, err := Issue([]byte(testSecret), Identity{Subject: "user-1", Role: role}, time.Hour)
	require.NoError(t, err)
	return token
}

func serve(h http.Handler, method, target, token string) int {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestMiddlewareRoleMatrix(t *testing.T) {
	h := guarded(t, nil)
	cases := []struct {
		name   string
		role   Role
		method string
		path   string
		want   int
	}{
		{"no token", "", http.MethodGet, "/api/v1/alarms", http.StatusUnauthorized},
		{"viewer lists alarms", RoleViewer, http.MethodGet, "/api/v1/alarms", http.StatusOK},
		{"viewer cannot ack", RoleViewer, http.MethodPost, "/api/v1/alarms/a1/ack", http.StatusForbidden},
		{"operator acks", RoleOperator, http.MethodPost, "/api/v1/alarms/a1/ack", http.StatusOK},
		{"operator cannot edit rules", RoleOperator, http.MethodPut, "/api/v1/rules/r1", http.StatusForbidden},
		{"admin edits rules", RoleAdmin, http.MethodPut, "/api/v1/rules/r1", http.StatusOK},
		{"viewer cannot send", RoleViewer, http.MethodPost, "/api/v1/notifications/send", http.StatusForbidden},
		{"device ingests", RoleDevice, http.MethodPost, "/ingest/telemetry", http.StatusOK},
		{"device cannot read alarms", RoleDevice, http.MethodGet, "/api/v1/alarms", http.StatusForbidden},
		{"viewer cannot ingest", RoleViewer, http.MethodPost, "/ingest/telemetry", http.StatusForbidden},
		{"health is public", "", http.MethodGet, "/healthz", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token := ""
			if tc.role != "" {
				token = mustToken(t, tc.role)
			}
			assert.Equal(t, tc.want, serve(h, tc.method, tc.path, token))
		})
	}
}

func TestMiddlewareAttachesIdentity(t *testing.T) {
	var seen Identity
	h := guarded(t, &seen)
	require.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/api/v1/alarms/a1/ack", mustToken(t, RoleOperator)))
	assert.Equal(t, Identity{Subject: "user-1", Role: RoleOperator}, seen)
}

func TestMiddlewareStreamAcceptsQueryToken(t *testing.T) {
	h := guarded(t, nil)
	target := "/api/v1/alarms/stream?access_token=" + mustToken(t, RoleViewer)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, target, ""))

	target = "/api/v1/alarms?access_token=" + mustToken(t, RoleViewer)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, target, ""))
}

func TestMiddlewareDisabledWithoutSecret(t *testing.T) {
	mw := NewMiddleware("", NewPolicy(DefaultRoutes), nil)
	assert.Nil(t, mw)
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	assert.Equal(t, http.StatusNoContent, serve(h, http.MethodPost, "/api/v1/notifications/send", ""))
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	secret := []byte(testSecret)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	signed, err := expired.SignedString(secret)
	require.NoError(t, err)
	_, err = Verify(signed, secret)
	assert.Error(t, err)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops"},
	})
	signed, err = noExpiry.SignedString(secret)
	require.NoError(t, err)
	_, err = Verify(signed, secret)
	assert.Error(t, err)

	badRole := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "root",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err = badRole.SignedString(secret)
	require.NoError(t, err)
	_, err = Verify(signed, secret)
	assert.Error(t, err)

	token := mustToken(t, RoleAdmin)
	_, err = Verify(token, []byte("other-secret"))
	assert.Error(t, err)
}

func TestRoleParsingAndActor(t *testing.T) {
	role, err := ParseRole(" Operator ")
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, role)
	assert.True(t, RoleAdmin.Allows(RoleOperator))
	assert.False(t, RoleViewer.Allows(RoleOperator))

	assert.Equal(t, "system", Actor(context.Background()))
	ctx := WithIdentity(context.Background(), Identity{Subject: "amal", Role: RoleViewer})
	assert.Equal(t, "amal", Actor(ctx))
}
