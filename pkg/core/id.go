package core

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var ids = struct {
	sync.Mutex
	entropy *ulid.MonotonicEntropy
}{entropy: ulid.Monotonic(rand.Reader, 0)}

// NewID returns a ULID stamped with the current time.
func NewID() string { return IDAt(time.Now()) }

// IDAt returns a ULID stamped with t. Ids sharing a millisecond stay ordered.
func IDAt(t time.Time) string {
	ids.Lock()
	defer ids.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), ids.entropy)
	if err != nil {
		// t outside the ULID range or the per-millisecond sequence ran out
		id = ulid.MustNew(ulid.Now(), rand.Reader)
	}
	return id.String()
}

// IDTime recovers the timestamp embedded by NewID or IDAt.
func IDTime(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}
