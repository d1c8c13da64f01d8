package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewNumber returns a human readable order number such as
// ORD-20260301-7ZQ4K1XD. The suffix is the random part of a ULID, so numbers
// are unique with high probability and collisions are retried by the caller.
func NewNumber(now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	var b strings.Builder
	b.WriteString("ORD-")
	b.WriteString(now.UTC().Format("20060102"))
	b.WriteByte('-')
	b.WriteString(id[len(id)-8:])
	return b.String()
}
