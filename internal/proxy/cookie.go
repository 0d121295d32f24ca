package proxy

import (
	"net/http"

	"github.com/coreauth/coreauth/internal/primitives"
)

// CookieCodec seals and opens the session-id cookie: nonce(12) ‖
// AES-256-GCM(session_id), base64url-no-pad, per spec.md §4.3.5.
type CookieCodec struct {
	key           []byte
	cookieName    string
	cookieDomain  string
	maxAgeSeconds int64
	secure        bool
}

func NewCookieCodec(cfg SessionConfig) *CookieCodec {
	return &CookieCodec{
		key:           sessionCipherKey(cfg.Secret),
		cookieName:    cfg.CookieName,
		cookieDomain:  cfg.CookieDomain,
		maxAgeSeconds: cfg.MaxAgeSeconds,
		secure:        cfg.Secure,
	}
}

// Set writes the encrypted session-id cookie to w.
func (c *CookieCodec) Set(w http.ResponseWriter, sessionID string) error {
	sealed, err := primitives.SealBox(c.key, []byte(sessionID))
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.cookieName,
		Value:    sealed,
		Domain:   c.cookieDomain,
		Path:     "/",
		MaxAge:   int(c.maxAgeSeconds),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie immediately.
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cookieName,
		Value:    "",
		Domain:   c.cookieDomain,
		Path:     "/",
		MaxAge:   -1,
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionID decrypts and returns the session id carried by r's cookie.
// Any single-bit perturbation of the cookie value fails AES-GCM's tag
// check and is reported here as "no session", never as a decrypt error
// the caller might leak details of.
func (c *CookieCodec) SessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.cookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	plaintext, err := primitives.OpenBox(c.key, cookie.Value)
	if err != nil {
		return "", false
	}
	return string(plaintext), true
}
