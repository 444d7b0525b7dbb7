package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Brownie44l1/dr-api/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	users    *store.UserStore
	sessions *store.SessionStore
	service  *Service
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open("sqlite", filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	users := store.NewUserStore(db)
	sessions := store.NewSessionStore(db)
	return &fixture{
		db:       db,
		users:    users,
		sessions: sessions,
		service:  NewService(users),
		manager:  NewManager(sessions, users, "test-secret", time.Hour),
	}
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName && c.Value != "" {
			found = c
		}
	}
	return found
}

func (f *fixture) sessionRows(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&store.Session{}).Count(&n).Error)
	return n
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)
	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
}

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	u, err := f.service.Register(ctx, "doc", "doc@example.com", "pw")
	require.NoError(t, err)
	assert.NotEqual(t, "pw", u.PasswordHash)

	_, err = f.service.Register(ctx, "other", "DOC@example.com", "pw2")
	assert.ErrorIs(t, err, ErrEmailTaken)
	n, err := f.users.CountByEmail(ctx, "doc@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := f.service.Authenticate(ctx, "doc@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = f.service.Authenticate(ctx, "doc@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.service.Authenticate(ctx, "nobody@example.com", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.service.Register(ctx, " ", "x@example.com", "pw")
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := GenerateSecureToken(32)
	require.NoError(t, err)
	b, err := GenerateSecureToken(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
}

func newRouter(f *fixture, u *store.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(f.manager.Middleware())
	r.GET("/login-as", func(c *gin.Context) {
		if err := f.manager.Login(c, u); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})
	r.GET("/flash", func(c *gin.Context) {
		f.manager.Flash(c, "hi")
		c.Status(http.StatusOK)
	})
	r.GET("/flashes", func(c *gin.Context) {
		c.String(http.StatusOK, strings.Join(f.manager.PopFlashes(c), ","))
	})
	r.GET("/logout", func(c *gin.Context) {
		if err := f.manager.Logout(c); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})
	r.GET("/private", f.manager.RequireLogin(), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentUser(c).Username)
	})
	return r
}

func do(r *gin.Engine, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequireLoginRedirects(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, nil)

	rec := do(r, "/private", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	assert.Len(t, rec.Header().Values("Set-Cookie"), 1)

	// The flash rides in the cookie; anonymous visitors get no row.
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Zero(t, f.sessionRows(t))

	rec = do(r, "/flashes", cookie)
	assert.Equal(t, "Please log in to access this page.", rec.Body.String())
}

func TestCookielessRequestsStoreNothing(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, nil)

	for i := 0; i < 25; i++ {
		rec := do(r, "/private", nil)
		require.Equal(t, http.StatusFound, rec.Code)
	}
	assert.Zero(t, f.sessionRows(t))
}

func TestFlashesAreCapped(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f, nil)

	var cookie *http.Cookie
	for i := 0; i < maxFlashes+3; i++ {
		rec := do(r, "/flash", cookie)
		cookie = sessionCookie(rec)
		require.NotNil(t, cookie)
	}

	rec := do(r, "/flashes", cookie)
	assert.Len(t, strings.Split(rec.Body.String(), ","), maxFlashes)
}

func TestLoginLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u, err := f.service.Register(ctx, "doc", "doc@example.com", "pw")
	require.NoError(t, err)
	r := newRouter(f, u)

	// An anonymous flash survives login.
	rec := do(r, "/flash", nil)
	anon := sessionCookie(rec)
	require.NotNil(t, anon)

	rec = do(r, "/login-as", anon)
	require.Equal(t, http.StatusOK, rec.Code)
	authed := sessionCookie(rec)
	require.NotNil(t, authed)
	assert.Equal(t, int64(1), f.sessionRows(t))

	rec = do(r, "/private", authed)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "doc", rec.Body.String())

	rec = do(r, "/flashes", authed)
	assert.Equal(t, "hi", rec.Body.String())
	authed = sessionCookie(rec)
	require.NotNil(t, authed)
	rec = do(r, "/flashes", authed)
	assert.Empty(t, rec.Body.String())

	// Logging in again replaces the row instead of adding one.
	rec = do(r, "/login-as", authed)
	require.Equal(t, http.StatusOK, rec.Code)
	authed = sessionCookie(rec)
	assert.Equal(t, int64(1), f.sessionRows(t))

	rec = do(r, "/logout", authed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, sessionCookie(rec))
	n, err := f.sessions.CountForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	rec = do(r, "/private", authed)
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestSecureCookie(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u, err := f.service.Register(ctx, "doc", "doc@example.com", "pw")
	require.NoError(t, err)
	f.manager.SetSecure(true)
	r := newRouter(f, u)

	rec := do(r, "/login-as", nil)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.Secure)
	assert.True(t, cookie.HttpOnly)
}

func TestForgedTokenIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u, err := f.service.Register(ctx, "doc", "doc@example.com", "pw")
	require.NoError(t, err)
	r := newRouter(f, u)

	rec := do(r, "/login-as", nil)
	authed := sessionCookie(rec)
	require.NotNil(t, authed)

	claims, err := f.manager.parseToken(authed.Value)
	require.NoError(t, err)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{SessionID: claims.SessionID})
	signed, err := forged.SignedString([]byte("another-secret"))
	require.NoError(t, err)

	rec = do(r, "/private", &http.Cookie{Name: CookieName, Value: signed})
	assert.Equal(t, http.StatusFound, rec.Code)
}
