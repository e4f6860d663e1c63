package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized matches any 401 response via errors.Is.
	ErrUnauthorized = errors.New("apiclient: unauthorized")
	// ErrMalformedResponse is returned when a 2xx body does not have the
	// shape the endpoint promises.
	ErrMalformedResponse = errors.New("apiclient: malformed response")
)

// HTTPError captures a non-2xx response. Message is the server's own
// explanation when it sent one.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Body    string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("api %d: %s", e.Status, msg)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// ServerMessage returns the backend-provided message carried by err, if any.
func ServerMessage(err error) string {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Message
	}
	return ""
}

// errorBody accepts the three shapes NAS backends answer with:
//
//	{"error":"invalid credentials"}
//	{"error":{"code":"Unauthorized","message":"..."}}
//	{"message":"..."}
type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

func newHTTPError(status int, body []byte) *HTTPError {
	he := &HTTPError{Status: status, Body: strings.TrimSpace(string(body))}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return he
	}
	if len(eb.Error) > 0 {
		var s string
		if err := json.Unmarshal(eb.Error, &s); err == nil {
			he.Message = s
			return he
		}
		var nested struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(eb.Error, &nested); err == nil && (nested.Message != "" || nested.Code != "") {
			he.Code, he.Message = nested.Code, nested.Message
			return he
		}
	}
	he.Message = eb.Message
	return he
}
