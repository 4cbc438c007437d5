package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/cuemby/bastion/internal/apperr"
	"github.com/cuemby/bastion/internal/model"
)

const (
	sessionTTL       = 24 * time.Hour
	throttleMaxFails = 5
	throttleLockout  = 15 * time.Minute
	sessionCookie    = "bastion_session"
)

// HashPassword derives an argon2id hash for BASTION_ADMIN_PASSWORD_HASH,
// encoded as "<salt-b64>.<hash-b64>" — the same Argon2id parameters
// internal/keyring uses for keypack password derivation, reused here
// since both guard an operator-chosen secret against brute force.
func HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "generate password salt", err)
	}
	hash := argon2.IDKey([]byte(password), salt, 3, 64*1024, 4, 32)
	return base64.StdEncoding.EncodeToString(salt) + "." + base64.StdEncoding.EncodeToString(hash), nil
}

func verifyPassword(encoded, password string) bool {
	parts := strings.SplitN(encoded, ".", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, 3, 64*1024, 4, 32)
	return subtle.ConstantTimeCompare(got, want) == 1
}

type loginRequest struct {
	Password string `json:"password"`
}

// handleLogin enforces the per-client-IP lockout in spec §6: throttleMaxFails
// consecutive failures locks the IP out for throttleLockout before another
// attempt is accepted, tracked via model.LoginThrottle.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r)

	throttle, err := s.Store.LoginThrottleFor(ctx, ip)
	if err != nil {
		writeError(w, err)
		return
	}
	if time.Now().Before(throttle.LockedUntil) {
		writeError(w, apperr.New(apperr.KindRateLimited, "too many failed login attempts, try again later"))
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "decode login request", err))
		return
	}

	if s.Cfg.AdminPasswordHash == "" || !verifyPassword(s.Cfg.AdminPasswordHash, req.Password) {
		throttle.Failures++
		if throttle.Failures >= throttleMaxFails {
			throttle.LockedUntil = time.Now().Add(throttleLockout)
		}
		if err := s.Store.SaveLoginThrottle(ctx, throttle); err != nil {
			s.Logger.Warn().Err(err).Msg("failed to save login throttle")
		}
		writeError(w, apperr.New(apperr.KindAuth, "invalid credentials"))
		return
	}
	_ = s.Store.ClearLoginThrottle(ctx, ip)

	token, err := randomToken()
	if err != nil {
		writeError(w, err)
		return
	}
	sess := &model.Session{Token: token, UserID: "admin", ExpiresAt: time.Now().Add(sessionTTL)}
	if err := s.Store.CreateSession(ctx, sess); err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name: sessionCookie, Value: token, Path: "/", HttpOnly: true,
		Secure: !s.Cfg.InsecureHTTP, SameSite: http.SameSiteStrictMode, Expires: sess.ExpiresAt,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		_ = s.Store.DeleteSession(r.Context(), c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAuth rejects any /api/v1 request lacking a live session cookie.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookie)
		if err != nil {
			writeError(w, apperr.New(apperr.KindAuth, "not authenticated"))
			return
		}
		sess, err := s.Store.GetSession(r.Context(), c.Value)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), sess.UserID)))
	})
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "generate session token", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
