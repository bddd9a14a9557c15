// Package clock provides an injectable time source so TTL arithmetic in the
// auth core can be tested without sleeping.
package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock is a monotonic wall-clock source.
type Clock interface {
	Now() time.Time
}

// Real returns the system clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Fake is a settable clock for tests. Zero value reports the zero time.Time
// (January 1, year 1 UTC); use NewFake or Set to pick a starting instant.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock set to t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// IDGenerator mints collision-resistant identifiers for new rows.
type IDGenerator interface {
	NewID() uuid.UUID
}

// UUIDGenerator mints UUID v4 identifiers.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() uuid.UUID { return uuid.New() }
