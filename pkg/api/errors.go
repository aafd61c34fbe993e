package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Error is a non-2xx response from the panel API.
type Error struct {
	Status int
	// Detail is the raw "detail" member of the response body, if any.
	Detail json.RawMessage
	// Body is the response body when it was not a JSON object with a detail.
	Body string
}

func (e *Error) Error() string {
	msg := detailMessage(e.Detail)
	if msg == "" {
		msg = strings.TrimSpace(e.Body)
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, msg)
}

// IsStatus reports whether err is an *Error with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Message returns a human readable message for err. A string detail is
// returned as is; an object detail yields its first value in document
// order. Anything else yields fallback.
func Message(err error, fallback string) string {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return fallback
	}
	if msg := detailMessage(apiErr.Detail); msg != "" {
		return msg
	}
	return fallback
}

func detailMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '{':
		return firstValue(raw)
	}
	return ""
}

// firstValue walks the object with a token decoder because map decoding
// loses key order.
func firstValue(raw json.RawMessage) string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return ""
	}
	if !dec.More() {
		return ""
	}
	if _, err := dec.Token(); err != nil { // key
		return ""
	}
	var v json.RawMessage
	if err := dec.Decode(&v); err != nil {
		return ""
	}
	v = bytes.TrimSpace(v)
	switch {
	case len(v) == 0, bytes.Equal(v, []byte("null")), bytes.Equal(v, []byte(`""`)), bytes.Equal(v, []byte("false")), isZero(v):
		return ""
	case v[0] == '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return ""
		}
		return s
	}
	return string(v)
}

// newError builds an *Error from a failed response body.
func newError(status int, body []byte) *Error {
	e := &Error{Status: status}
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Detail) > 0 {
		e.Detail = envelope.Detail
		return e
	}
	e.Body = string(body)
	return e
}

func isZero(v json.RawMessage) bool {
	f, err := strconv.ParseFloat(string(v), 64)
	return err == nil && f == 0
}
