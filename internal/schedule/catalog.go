package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/hackgods/practice-booking/internal/clock"
)

var (
	ErrInvalidSlot   = errors.New("time is not a bookable slot")
	ErrInvalidWindow = errors.New("invalid opening window")
)

type Period string

const (
	Morning   Period = "morning"
	Afternoon Period = "afternoon"
)

func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case Morning, Afternoon:
		return Period(s), nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// SlotTime is a wall-clock time of day, stored as minutes since midnight.
type SlotTime int

// ParseSlotTime parses the HH:MM form used on the wire and in the store.
func ParseSlotTime(s string) (SlotTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil || len(s) != 5 {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return SlotTime(t.Hour()*60 + t.Minute()), nil
}

func MustParseSlotTime(s string) SlotTime {
	t, err := ParseSlotTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t SlotTime) Hour() int   { return int(t) / 60 }
func (t SlotTime) Minute() int { return int(t) % 60 }

func (t SlotTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On returns the instant at which the slot starts on day d in loc.
func (t SlotTime) On(loc *time.Location, d civil.Date) time.Time {
	return clock.Combine(loc, d, t.Hour(), t.Minute())
}

// Window is a half-open [Start, End) opening range.
type Window struct {
	Start SlotTime
	End   SlotTime
}

// ParseWindow parses "HH:MM-HH:MM".
func ParseWindow(s string) (Window, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Window{}, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	start, err := ParseSlotTime(strings.TrimSpace(from))
	if err != nil {
		return Window{}, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
	}
	end, err := ParseSlotTime(strings.TrimSpace(to))
	if err != nil {
		return Window{}, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
	}
	if end <= start {
		return Window{}, fmt.Errorf("%w: %q ends before it starts", ErrInvalidWindow, s)
	}
	return Window{Start: start, End: end}, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseWeekdays parses a comma separated list such as "mon,tue,thu".
func ParseWeekdays(s string) ([]time.Weekday, error) {
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if len(name) > 3 {
			name = name[:3]
		}
		d, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
		days = append(days, d)
	}
	if len(days) == 0 {
		return nil, errors.New("no serviced weekday")
	}
	return days, nil
}

type CatalogConfig struct {
	Morning   Window
	Afternoon Window
	Step      time.Duration
	Duration  time.Duration
	Weekdays  []time.Weekday
}

// Catalog is the static grid of bookable slots.
type Catalog struct {
	morning   []SlotTime
	afternoon []SlotTime
	period    map[SlotTime]Period
	weekdays  map[time.Weekday]bool
	duration  time.Duration
}

func NewCatalog(cfg CatalogConfig) (*Catalog, error) {
	if !wholeMinutes(cfg.Step) {
		return nil, fmt.Errorf("%w: slot step %s is not a positive whole number of minutes", ErrInvalidWindow, cfg.Step)
	}
	if !wholeMinutes(cfg.Duration) {
		return nil, fmt.Errorf("%w: slot duration %s is not a positive whole number of minutes", ErrInvalidWindow, cfg.Duration)
	}
	if cfg.Afternoon.Start < cfg.Morning.End {
		return nil, fmt.Errorf("%w: afternoon overlaps morning", ErrInvalidWindow)
	}
	if len(cfg.Weekdays) == 0 {
		return nil, errors.New("no serviced weekday")
	}

	c := &Catalog{
		period:   make(map[SlotTime]Period),
		weekdays: make(map[time.Weekday]bool, len(cfg.Weekdays)),
		duration: cfg.Duration,
	}
	c.morning = expand(cfg.Morning, cfg.Step, cfg.Duration)
	c.afternoon = expand(cfg.Afternoon, cfg.Step, cfg.Duration)
	if len(c.morning) == 0 && len(c.afternoon) == 0 {
		return nil, fmt.Errorf("%w: no slot fits", ErrInvalidWindow)
	}
	for _, t := range c.morning {
		c.period[t] = Morning
	}
	for _, t := range c.afternoon {
		c.period[t] = Afternoon
	}
	for _, d := range cfg.Weekdays {
		c.weekdays[d] = true
	}
	return c, nil
}

func wholeMinutes(d time.Duration) bool {
	return d >= time.Minute && d%time.Minute == 0
}

func expand(w Window, step, duration time.Duration) []SlotTime {
	stepMin := int(step / time.Minute)
	durMin := int(duration / time.Minute)
	var out []SlotTime
	for t := int(w.Start); t+durMin <= int(w.End); t += stepMin {
		out = append(out, SlotTime(t))
	}
	return out
}

func (c *Catalog) MorningSlots() []SlotTime {
	return append([]SlotTime(nil), c.morning...)
}

func (c *Catalog) AfternoonSlots() []SlotTime {
	return append([]SlotTime(nil), c.afternoon...)
}

// Slots returns every slot of the day in chronological order.
func (c *Catalog) Slots() []SlotTime {
	out := make([]SlotTime, 0, len(c.morning)+len(c.afternoon))
	out = append(out, c.morning...)
	return append(out, c.afternoon...)
}

// PeriodOf returns the period of a catalog slot, or ErrInvalidSlot.
func (c *Catalog) PeriodOf(t SlotTime) (Period, error) {
	p, ok := c.period[t]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidSlot, t)
	}
	return p, nil
}

func (c *Catalog) Serves(d time.Weekday) bool { return c.weekdays[d] }

func (c *Catalog) Duration() time.Duration { return c.duration }
