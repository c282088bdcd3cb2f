package api

import (
	"fmt"
	"net/http"
)

// errorHandler turns a panic in a handler into a 500 and closes the
// connection. Panics after a websocket upgrade only reach the log, since the
// connection has been hijacked.
func (s *RelayApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}

			err, ok := v.(error)
			if !ok {
				err = fmt.Errorf("%v", v)
			}

			w.Header().Set("Connection", "close")
			s.writeError(w, NewApiError(http.StatusInternalServerError, fmt.Errorf("%s %s: panic: %w", r.Method, r.URL.Path, err)))
		}()

		next.ServeHTTP(w, r)
	})
}
