// Package handler contains HTTP handlers grouped by resource.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/d9705996/helpdesk/internal/apperr"
)

var (
	errInvalidBody = apperr.Validation("Request body must be valid JSON").WithCode("INVALID_BODY")
	errInvalidID   = apperr.ValidationField("id", "ID must be a valid number").WithCode("INVALID_ID")
)

// decodeJSON reads a JSON object from r into v. An empty body decodes to the
// zero value so the flows can report their own missing-field errors.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.Validation("Request body too large").WithCode("BODY_TOO_LARGE")
	}
	return errInvalidBody
}

// pathID parses the positive integer path parameter name.
func pathID(r *http.Request, name string) (uint, error) {
	n, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil || n == 0 {
		return 0, errInvalidID
	}
	return uint(n), nil
}

// flexID is an id that clients may send as a JSON number or numeric string.
// Anything else decodes to zero.
type flexID uint

func (f *flexID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexID(n)
	return nil
}

// queryInt returns the integer query parameter key, or def when it is absent
// or not a number.
func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return n
}
