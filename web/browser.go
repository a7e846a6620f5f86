package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

const (
	browserCookieName = "sentry_browser"
	browserCookieAge  = 30 * 24 * 60 * 60
)

const browserContextKey contextKey = "browser.id"

// ErrInvalidCookieConfig indicates unusable cookie keys.
var ErrInvalidCookieConfig = errors.New("web: invalid cookie config")

// browserIDs issues and reads the signed cookie that identifies a browser.
type browserIDs struct {
	codec  *securecookie.SecureCookie
	secure bool
}

func newBrowserIDs(hashKey, blockKey []byte, secure bool) (*browserIDs, error) {
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(64)
	}
	if len(blockKey) == 0 {
		blockKey = securecookie.GenerateRandomKey(32)
	}
	if hashKey == nil || blockKey == nil {
		return nil, fmt.Errorf("%w: could not generate keys", ErrInvalidCookieConfig)
	}
	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(browserCookieAge)
	// securecookie keeps key errors until the first Encode.
	if _, err := codec.Encode(browserCookieName, uuid.NewString()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCookieConfig, err)
	}
	return &browserIDs{codec: codec, secure: secure}, nil
}

// middleware makes sure every request carries a browser id, minting one
// (and setting the cookie) when the request has none or a forged one.
func (b *browserIDs) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := b.read(r)
		if !ok {
			id = uuid.NewString()
			if err := b.write(w, id); err != nil {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), browserContextKey, id)))
	})
}

func (b *browserIDs) read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(browserCookieName)
	if err != nil {
		return "", false
	}
	var id string
	if err := b.codec.Decode(browserCookieName, cookie.Value, &id); err != nil || id == "" {
		return "", false
	}
	return id, true
}

func (b *browserIDs) write(w http.ResponseWriter, id string) error {
	encoded, err := b.codec.Encode(browserCookieName, id)
	if err != nil {
		return fmt.Errorf("web: encode browser cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     browserCookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   browserCookieAge,
		HttpOnly: true,
		Secure:   b.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// browserID returns the id attached by the middleware.
func browserID(ctx context.Context) string {
	id, _ := ctx.Value(browserContextKey).(string)
	return id
}
