package web

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	logx "msgblast/pkg/logx"
)

type middleware func(http.Handler) http.Handler

func chain(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// accessLog tags each request with an id and logs it once served.
func accessLog(log logx.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rid := r.Header.Get("X-Request-ID")
			if rid == "" {
				rid = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", rid)
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Debug("request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", sw.status),
				logx.Duration("dur", time.Since(start)),
				logx.String("request_id", rid),
				logx.String("remote", r.RemoteAddr),
			)
		})
	}
}

func recovery(log logx.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					log.Error("handler panicked", logx.String("path", r.URL.Path), logx.Any("panic", v), logx.String("stack", string(debug.Stack())))
					writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
