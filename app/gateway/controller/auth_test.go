package controller

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/gather-network/gatherx/app/gateway/types"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	return &Controller{
		App:        &types.App{Logger: zaptest.NewLogger(t)},
		AdminToken: "devtoken",
		AuthUser:   "admin",
		Users: map[string]types.User{
			"admin": {Username: "admin", Hash: hash, Role: "admin"},
		},
		AuthHash:  hash,
		JWTSecret: []byte("test-secret"),
	}
}

func sessionCookie(t *testing.T, c *Controller, username string) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	c.IssueSession(rec, username)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestIssueSessionRoundTrip(t *testing.T) {
	c := newTestController(t)

	cookie := sessionCookie(t, c, "admin")
	assert.Equal(t, "gx_session", cookie.Name)
	assert.True(t, cookie.HttpOnly)

	r := httptest.NewRequest(http.MethodGet, "/v1/miners/abc", nil)
	r.AddCookie(cookie)

	assert.True(t, c.ValidateSessionCookie(r))
	assert.True(t, c.ValidateRole(r, "admin"))
	assert.False(t, c.ValidateRole(r, "viewer"))
	assert.Equal(t, "admin", c.currentUser(r))
}

func TestValidateSessionCookieRejectsForgedToken(t *testing.T) {
	c := newTestController(t)

	other := newTestController(t)
	other.JWTSecret = []byte("different-secret")
	cookie := sessionCookie(t, other, "admin")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)

	assert.False(t, c.ValidateSessionCookie(r))
}

func TestRequireAdmin(t *testing.T) {
	c := newTestController(t)

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guarded := c.RequireAdmin(next)

	t.Run("anonymous is unauthorized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("api token passes", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer devtoken")

		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong token is unauthorized", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer wrong")

		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("session cookie passes", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(sessionCookie(t, c, "admin"))

		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHandleAdminLogin(t *testing.T) {
	c := newTestController(t)

	t.Run("bad json", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader("{"))
		rec := httptest.NewRecorder()

		c.HandleAdminLogin(rec, r)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/login",
			strings.NewReader(`{"username":"nobody","password":"s3cret"}`))
		rec := httptest.NewRecorder()

		c.HandleAdminLogin(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/login",
			strings.NewReader(`{"username":"admin","password":"wrong"}`))
		rec := httptest.NewRecorder()

		c.HandleAdminLogin(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid credentials set session cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/login",
			strings.NewReader(`{"username":"admin","password":"s3cret"}`))
		rec := httptest.NewRecorder()

		c.HandleAdminLogin(rec, r)
		require.Equal(t, http.StatusOK, rec.Code)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "gx_session", cookies[0].Name)
		assert.NotEmpty(t, cookies[0].Value)
	})
}

func TestHandleAdminLogoutClearsCookie(t *testing.T) {
	c := newTestController(t)

	rec := httptest.NewRecorder()
	c.HandleAdminLogout(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "gx_session", cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}
