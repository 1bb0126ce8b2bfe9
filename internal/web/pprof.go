package web

import (
	"crypto/subtle"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
)

// mountPprof registers net/http/pprof under prefix, gated by token when
// one is set. Requests pass the token as "Authorization: Bearer <token>" or
// "?token=<token>".
func mountPprof(mux *http.ServeMux, prefix, token string) {
	base := "/" + strings.Trim(prefix, "/")
	canon := base + "/"
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withToken(token, h) }

	mux.HandleFunc(canon, wrap(func(w http.ResponseWriter, r *http.Request) {
		// pprof.Index expects requests rooted at /debug/pprof/.
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, canon)
		hpprof.Index(w, r2)
	}))
	mux.HandleFunc(canon+"cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc(canon+"profile", wrap(hpprof.Profile))
	mux.HandleFunc(canon+"symbol", wrap(hpprof.Symbol))
	mux.HandleFunc(canon+"trace", wrap(hpprof.Trace))
	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, canon, http.StatusPermanentRedirect)
	})
}

func withToken(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}
