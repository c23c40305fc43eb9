package session

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newSessionID mints an opaque, lexicographically-sortable 26-char token
// (spec §3). ulid.Monotonic's entropy source is not safe for concurrent
// use on its own, so access is serialized here.
func newSessionID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// processIDAlphabet is a URL-safe character set (no padding, no characters
// that need escaping in a path segment).
const processIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// processIDLen matches the 21-char ProcessID format from spec §3.
const processIDLen = 21

// newProcessID mints a 21-char URL-safe random ProcessID.
func newProcessID() string {
	buf := make([]byte, processIDLen)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on a sane OS does not fail; if it somehow does,
		// degrade to a fixed-zero buffer rather than panic.
		buf = make([]byte, processIDLen)
	}
	out := make([]byte, processIDLen)
	for i, b := range buf {
		out[i] = processIDAlphabet[int(b)%len(processIDAlphabet)]
	}
	return string(out)
}
