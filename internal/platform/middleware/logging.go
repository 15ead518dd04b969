package middleware

import (
	"net/http"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func Logging(log waLog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status >= http.StatusInternalServerError {
				log.Warnf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
				return
			}
			log.Infof("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
		})
	}
}
