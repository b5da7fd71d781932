package client

import (
	"math/rand/v2"
	"time"
)

// newXid draws a fresh 32-bit transaction id. A new xid is drawn on the
// first DISCOVER of each SELECTING cycle and for every RELEASE; it is
// otherwise preserved across retransmits.
func newXid() (xid uint32) {
	return rand.Uint32()
}

// jitter returns d plus a random 0-999ms offset, spreading retransmits from
// many clients that share a reboot cause.
func jitter(d time.Duration) (jittered time.Duration) {
	return d + time.Duration(rand.IntN(1000))*time.Millisecond
}
