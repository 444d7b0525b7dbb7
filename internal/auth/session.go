package auth

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Brownie44l1/dr-api/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	CookieName = "dr_session"

	// maxFlashes bounds the cookie size.
	maxFlashes = 8

	stateKey = "session_state"
	userKey  = "user"
)

// SessionClaims is the signed cookie payload. SessionID names a row in the
// sessions table and is empty for anonymous visitors; Flashes holds the
// pending one-shot messages.
type SessionClaims struct {
	SessionID string   `json:"sid,omitempty"`
	Flashes   []string `json:"flashes,omitempty"`
	jwt.RegisteredClaims
}

// state is the per-request view of the cookie.
type state struct {
	sessionID string
	expires   time.Time
	flashes   []string
}

func (s *state) empty() bool {
	return s.sessionID == "" && len(s.flashes) == 0
}

// Manager keeps logged-in sessions in the database. Anonymous visitors get
// no row; their flashes travel in the signed cookie alone.
type Manager struct {
	sessions *store.SessionStore
	users    *store.UserStore
	secret   []byte
	ttl      time.Duration
	secure   bool
}

func NewManager(sessions *store.SessionStore, users *store.UserStore, secret string, ttl time.Duration) *Manager {
	return &Manager{
		sessions: sessions,
		users:    users,
		secret:   []byte(secret),
		ttl:      ttl,
	}
}

// SetSecure marks the cookie Secure, for deployments behind TLS.
func (m *Manager) SetSecure(secure bool) {
	m.secure = secure
}

func (m *Manager) signToken(st *state) (string, time.Time, error) {
	expires := st.expires
	if st.sessionID == "" {
		expires = time.Now().Add(m.ttl)
	}
	claims := SessionClaims{
		SessionID: st.sessionID,
		Flashes:   st.flashes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	return signed, expires, err
}

func (m *Manager) parseToken(tokenStr string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}

// writeCookie replaces any cookie already queued on the response, so a
// request that flashes and then logs in sends a single Set-Cookie.
func (m *Manager) writeCookie(c *gin.Context, st *state) error {
	header := c.Writer.Header()
	var kept []string
	for _, v := range header.Values("Set-Cookie") {
		if !strings.HasPrefix(v, CookieName+"=") {
			kept = append(kept, v)
		}
	}
	header.Del("Set-Cookie")
	for _, v := range kept {
		header.Add("Set-Cookie", v)
	}

	c.SetSameSite(http.SameSiteLaxMode)
	if st.empty() {
		c.SetCookie(CookieName, "", -1, "/", "", m.secure, true)
		return nil
	}

	token, expires, err := m.signToken(st)
	if err != nil {
		return fmt.Errorf("failed to sign session token: %w", err)
	}
	c.SetCookie(CookieName, token, int(time.Until(expires).Seconds()), "/", "", m.secure, true)
	return nil
}

func (m *Manager) state(c *gin.Context) *state {
	if v, ok := c.Get(stateKey); ok {
		if st, ok := v.(*state); ok {
			return st
		}
	}
	st := &state{}
	c.Set(stateKey, st)
	return st
}

// Middleware reads the cookie and loads the session's user, if any, into
// the context. A bad cookie or a stale session id is dropped and the
// request continues anonymous.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		st := m.state(c)

		tokenStr, err := c.Cookie(CookieName)
		if err != nil || tokenStr == "" {
			c.Next()
			return
		}

		claims, err := m.parseToken(tokenStr)
		if err != nil {
			if err := m.writeCookie(c, st); err != nil {
				log.Printf("Failed to clear session cookie: %v", err)
			}
			c.Next()
			return
		}
		st.flashes = claims.Flashes

		if claims.SessionID != "" {
			if u := m.loadUser(c, claims.SessionID, st); u != nil {
				c.Set(userKey, u)
			} else if err := m.writeCookie(c, st); err != nil {
				log.Printf("Failed to rewrite session cookie: %v", err)
			}
		}
		c.Next()
	}
}

func (m *Manager) loadUser(c *gin.Context, sid string, st *state) *store.User {
	ctx := c.Request.Context()
	sess, err := m.sessions.Get(ctx, sid)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("Failed to load session: %v", err)
		}
		return nil
	}

	u, err := m.users.FindByID(ctx, sess.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("Failed to load session user: %v", err)
		}
		return nil
	}
	st.sessionID = sess.ID
	st.expires = sess.ExpiresAt
	return u
}

func CurrentUser(c *gin.Context) *store.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	u, _ := v.(*store.User)
	return u
}

// Login replaces any existing session with a fresh one for u. Pending
// flashes are kept.
func (m *Manager) Login(c *gin.Context, u *store.User) error {
	ctx := c.Request.Context()
	st := m.state(c)
	if st.sessionID != "" {
		if err := m.sessions.Delete(ctx, st.sessionID); err != nil {
			return fmt.Errorf("failed to drop old session: %w", err)
		}
	}

	sid, err := GenerateSecureToken(32)
	if err != nil {
		return fmt.Errorf("failed to generate session id: %w", err)
	}
	sess := &store.Session{
		ID:        sid,
		UserID:    u.ID,
		ExpiresAt: time.Now().Add(m.ttl),
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	st.sessionID = sess.ID
	st.expires = sess.ExpiresAt
	if err := m.writeCookie(c, st); err != nil {
		return err
	}
	c.Set(userKey, u)
	return nil
}

func (m *Manager) Logout(c *gin.Context) error {
	st := m.state(c)
	if st.sessionID != "" {
		if err := m.sessions.Delete(c.Request.Context(), st.sessionID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}
	st.sessionID = ""
	st.expires = time.Time{}
	c.Set(userKey, nil)
	return m.writeCookie(c, st)
}

// Flash queues a message for the next rendered page.
func (m *Manager) Flash(c *gin.Context, msg string) {
	st := m.state(c)
	st.flashes = append(st.flashes, msg)
	if len(st.flashes) > maxFlashes {
		st.flashes = st.flashes[len(st.flashes)-maxFlashes:]
	}
	if err := m.writeCookie(c, st); err != nil {
		log.Printf("Failed to store flash: %v", err)
	}
}

// PopFlashes returns and clears the queued messages.
func (m *Manager) PopFlashes(c *gin.Context) []string {
	st := m.state(c)
	if len(st.flashes) == 0 {
		return nil
	}
	flashes := st.flashes
	st.flashes = nil
	if err := m.writeCookie(c, st); err != nil {
		log.Printf("Failed to clear flashes: %v", err)
	}
	return flashes
}

// RequireLogin stops unauthenticated requests before their handler runs
// and sends them to the login page.
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CurrentUser(c) == nil {
			m.Flash(c, "Please log in to access this page.")
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		c.Next()
	}
}
