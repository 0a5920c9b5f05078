// Package idgen generates short request identifiers for API logs.
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"strings"
	"sync/atomic"
	"time"
)

var (
	sequence uint32

	encoding = base32.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567").WithPadding(base32.NoPadding)
)

// New returns a 16 character lower-case base32 identifier built from the
// current time in seconds, a 16 bit sequence number and 4 random bytes.
func New() string {
	var id [10]byte
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	binary.BigEndian.PutUint16(id[4:6], uint16(atomic.AddUint32(&sequence, 1)))
	if _, err := rand.Read(id[6:]); err != nil {
		binary.BigEndian.PutUint32(id[6:], uint32(time.Now().UnixNano()))
	}
	return strings.ToLower(encoding.EncodeToString(id[:]))
}
