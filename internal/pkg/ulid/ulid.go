// Package ulid generates sortable correlation IDs for deployment requests.
package ulid

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestPrefix marks deployment request IDs in logs.
const RequestPrefix = "dep_"

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// New generates a new ULID string.
func New() string {
	return newAt(time.Now())
}

// NewRequestID generates a prefixed request ID, e.g. dep_01J9Z3...
func NewRequestID() string {
	return RequestPrefix + New()
}

func newAt(t time.Time) string {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Time extracts the timestamp from an ID, with or without the request prefix.
func Time(s string) (time.Time, error) {
	id, err := ulid.Parse(strings.TrimPrefix(s, RequestPrefix))
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()), nil
}

// IsValid checks if a string is a valid ID, with or without the request prefix.
func IsValid(s string) bool {
	_, err := ulid.Parse(strings.TrimPrefix(s, RequestPrefix))
	return err == nil
}
