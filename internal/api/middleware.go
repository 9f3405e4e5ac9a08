package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/rs/zerolog"
)

func (s *GoChatApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Error().Err(panicError).Str("path", r.URL.Path).Msg("panic")
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// accessLogWriter turns each combined log line into an info event.
type accessLogWriter struct {
	log zerolog.Logger
}

func (w accessLogWriter) Write(p []byte) (int, error) {
	w.log.Info().Msg(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

func (s *GoChatApp) accessLog(next http.Handler) http.Handler {
	return handlers.CombinedLoggingHandler(accessLogWriter{log: s.log.With().Str("log", "access").Logger()}, next)
}
