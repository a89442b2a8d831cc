package clock

import (
	"fmt"
	"sync"
	"time"
	_ "time/tzdata" // zone database embedded so the host setup never matters

	"cloud.google.com/go/civil"
)

// DefaultZone is the practice time zone.
const DefaultZone = "Europe/Paris"

// Clock yields the current instant expressed in the practice location.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type systemClock struct {
	loc *time.Location
}

// New returns a Clock reading the host clock and converting to loc.
func New(loc *time.Location) Clock {
	return systemClock{loc: loc}
}

func (c systemClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c systemClock) Location() *time.Location { return c.loc }

// LoadLocation resolves an IANA zone name. An empty name means DefaultZone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", name, err)
	}
	return loc, nil
}

// Today returns the calendar day of c.Now() in the practice location.
func Today(c Clock) civil.Date {
	return civil.DateOf(c.Now().In(c.Location()))
}

// Combine builds the instant of a wall-clock time on a calendar day in loc.
func Combine(loc *time.Location, d civil.Date, hour, minute int) time.Time {
	return time.Date(d.Year, d.Month, d.Day, hour, minute, 0, 0, loc)
}

// Fixed is a settable Clock for tests and simulations.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

// NewFixed returns a clock frozen at t, reporting t's location.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t, loc: t.Location()}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fixed) Location() *time.Location { return f.loc }

// Set moves the clock to t, converted to the clock's location.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.In(f.loc)
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
