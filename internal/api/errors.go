package api

import (
	"fmt"
	"net/http"
	"strings"
)

// ApiError is the JSON body of every non-upgrade error response. Err stays
// in the server log and is never sent to the client.
type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func NewApiError(statusCode int, err error) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    strings.ToLower(http.StatusText(statusCode)),
		Err:        err,
	}
}

func (e *ApiError) Error() string {
	if e.Err == nil {
		return e.Message
	}

	return fmt.Sprintf("%d %s: %v", e.StatusCode, e.Message, e.Err)
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func (s *RelayApp) writeError(w http.ResponseWriter, apiErr *ApiError) {
	if apiErr.Err != nil {
		s.log.Println(apiErr)
	}

	s.writeJson(w, apiErr.StatusCode, apiErr)
}
