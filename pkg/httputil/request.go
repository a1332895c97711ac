package httputil

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

// maxBodyBytes bounds every JSON request body
const maxBodyBytes = 1 << 20

// ParseJSON decodes a JSON request body into dest, rejecting unknown fields
func ParseJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes a 400 on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(w, r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// ParsePathInt64 extracts and parses a positive int64 path parameter
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	str := mux.Vars(r)[key]
	if str == "" {
		return 0, fmt.Errorf("missing path parameter: %s", key)
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("invalid identifier for %s: %s", key, str)
	}
	return val, nil
}

// ParsePathInt64OrError extracts a positive int64 path parameter and writes a 400 on failure
func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	val, err := ParsePathInt64(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return 0, false
	}
	return val, true
}

// OptionalID reads key from the path variables, falling back to the query
// string. Missing, non-numeric and non-positive values all yield nil.
func OptionalID(r *http.Request, key string) *int64 {
	if key == "" {
		return nil
	}
	str, ok := mux.Vars(r)[key]
	if !ok || str == "" {
		str = r.URL.Query().Get(key)
	}
	if str == "" {
		return nil
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil || val <= 0 {
		return nil
	}
	return &val
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. ok is false when the header is absent; err is set when it is
// present but malformed.
func BearerToken(r *http.Request) (token string, ok bool, err error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false, nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", true, fmt.Errorf("invalid authorization header format")
	}
	return strings.TrimSpace(parts[1]), true, nil
}

// ClientIP returns the remote host of the request without the port
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
