package web

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const htmxContextKey contextKey = "htmx.info"

// HTMXInfo captures request metadata from HX-* headers.
type HTMXInfo struct {
	IsHTMX     bool
	CurrentURL string
	Target     string
	TriggerID  string
}

// HTMX inspects HX-* headers and annotates the context.
func HTMX(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := HTMXInfo{
			IsHTMX:     strings.EqualFold(r.Header.Get("HX-Request"), "true"),
			CurrentURL: r.Header.Get("HX-Current-URL"),
			Target:     r.Header.Get("HX-Target"),
			TriggerID:  r.Header.Get("HX-Trigger"),
		}
		w.Header().Add("Vary", "HX-Request")
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), htmxContextKey, info)))
	})
}

// HTMXInfoFromContext retrieves HTMX metadata; returns zero value if absent.
func HTMXInfoFromContext(ctx context.Context) HTMXInfo {
	info, _ := ctx.Value(htmxContextKey).(HTMXInfo)
	return info
}

// redirect sends the browser to target: HX-Redirect for htmx requests, a 303
// otherwise.
func redirect(w http.ResponseWriter, r *http.Request, target string) {
	if HTMXInfoFromContext(r.Context()).IsHTMX {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
