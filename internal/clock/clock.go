// Package clock is the single source of truth for the daemon's notion of
// "now" and for minting opaque identifiers. Every component threads its
// time and id generation through here instead of calling time.Now or
// uuid.New directly, so tests can substitute a fixed clock.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock produces monotone millisecond timestamps and opaque ids.
type Clock interface {
	NowMillis() int64
	NewID() string
}

// System is the production Clock backed by the wall clock and a real UUID
// generator.
type System struct{}

// NowMillis returns the current time as a Unix millisecond timestamp.
func (System) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewID returns a fresh random opaque identifier.
func (System) NewID() string {
	return uuid.NewString()
}

var _ Clock = System{}

// Default is the process-wide System clock. Components accept a Clock so
// tests can inject a fake, but production wiring can just use Default.
var Default Clock = System{}

// NowMillis is a convenience wrapper around Default.NowMillis.
func NowMillis() int64 { return Default.NowMillis() }

// NewID is a convenience wrapper around Default.NewID.
func NewID() string { return Default.NewID() }
