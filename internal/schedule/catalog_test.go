package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultCatalog(t *testing.T) *Catalog {
	t.Helper()
	morning, err := ParseWindow("09:00-12:00")
	require.NoError(t, err)
	afternoon, err := ParseWindow("14:00-17:00")
	require.NoError(t, err)
	days, err := ParseWeekdays("mon,tue,wed,thu,fri")
	require.NoError(t, err)

	c, err := NewCatalog(CatalogConfig{
		Morning:   morning,
		Afternoon: afternoon,
		Step:      30 * time.Minute,
		Duration:  30 * time.Minute,
		Weekdays:  days,
	})
	require.NoError(t, err)
	return c
}

func slotStrings(ts []SlotTime) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}

func TestCatalogSlots(t *testing.T) {
	c := defaultCatalog(t)

	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}, slotStrings(c.MorningSlots()))
	assert.Equal(t, []string{"14:00", "14:30", "15:00", "15:30", "16:00", "16:30"}, slotStrings(c.AfternoonSlots()))
	assert.Len(t, c.Slots(), 12)
}

func TestCatalogSlotsAreCopies(t *testing.T) {
	c := defaultCatalog(t)
	m := c.MorningSlots()
	m[0] = MustParseSlotTime("23:00")
	assert.Equal(t, "09:00", c.MorningSlots()[0].String())
}

func TestPeriodOf(t *testing.T) {
	c := defaultCatalog(t)

	tests := []struct {
		in   string
		want Period
		err  bool
	}{
		{"09:00", Morning, false},
		{"11:30", Morning, false},
		{"14:00", Afternoon, false},
		{"16:30", Afternoon, false},
		{"12:00", "", true},
		{"13:00", "", true},
		{"09:15", "", true},
		{"17:00", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := c.PeriodOf(MustParseSlotTime(tt.in))
			if tt.err {
				assert.True(t, errors.Is(err, ErrInvalidSlot))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p)
		})
	}
}

func TestServes(t *testing.T) {
	c := defaultCatalog(t)
	assert.True(t, c.Serves(time.Monday))
	assert.True(t, c.Serves(time.Friday))
	assert.False(t, c.Serves(time.Saturday))
	assert.False(t, c.Serves(time.Sunday))
}

func TestParseSlotTime(t *testing.T) {
	st, err := ParseSlotTime("14:30")
	require.NoError(t, err)
	assert.Equal(t, 14, st.Hour())
	assert.Equal(t, 30, st.Minute())

	for _, bad := range []string{"", "9:00", "25:00", "14:3", "14h30", "14:30:00"} {
		_, err := ParseSlotTime(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow(" 09:00 - 12:00 ")
	require.NoError(t, err)
	assert.Equal(t, "09:00", w.Start.String())
	assert.Equal(t, "12:00", w.End.String())

	_, err = ParseWindow("12:00-09:00")
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = ParseWindow("09:00")
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestParseWeekdays(t *testing.T) {
	days, err := ParseWeekdays("Monday, wed ,fri")
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, days)

	_, err = ParseWeekdays("funday")
	assert.Error(t, err)
	_, err = ParseWeekdays("")
	assert.Error(t, err)
}

func TestNewCatalogRejectsOverlap(t *testing.T) {
	_, err := NewCatalog(CatalogConfig{
		Morning:   Window{Start: MustParseSlotTime("09:00"), End: MustParseSlotTime("13:00")},
		Afternoon: Window{Start: MustParseSlotTime("12:00"), End: MustParseSlotTime("17:00")},
		Step:      30 * time.Minute,
		Duration:  30 * time.Minute,
		Weekdays:  []time.Weekday{time.Monday},
	})
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestNewCatalogRejectsPartialMinutes(t *testing.T) {
	tests := []struct {
		name     string
		step     time.Duration
		duration time.Duration
	}{
		{"step in seconds", 30 * time.Second, 30 * time.Minute},
		{"zero step", 0, 30 * time.Minute},
		{"fractional step", 90 * time.Second, 30 * time.Minute},
		{"duration in seconds", 30 * time.Minute, 45 * time.Second},
		{"negative duration", 30 * time.Minute, -time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(CatalogConfig{
				Morning:   Window{Start: MustParseSlotTime("09:00"), End: MustParseSlotTime("12:00")},
				Afternoon: Window{Start: MustParseSlotTime("14:00"), End: MustParseSlotTime("17:00")},
				Step:      tt.step,
				Duration:  tt.duration,
				Weekdays:  []time.Weekday{time.Monday},
			})
			assert.ErrorIs(t, err, ErrInvalidWindow)
		})
	}
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("afternoon")
	require.NoError(t, err)
	assert.Equal(t, Afternoon, p)
	_, err = ParsePeriod("evening")
	assert.Error(t, err)
}
