package cmos

import (
	"github.com/icarius-os/icarius/internal/kerr"
	"github.com/icarius-os/icarius/internal/vfs"
)

// TimezoneFile is read once at boot to select the wall-clock's UTC offset
// (§4.13; rtc.h's TIMEZONE_FILE).
const TimezoneFile = "A:/ETC/TIMEZONE"

// timezones lists fixed offsets by zone name. Europe/Berlin and
// America/New_York are resolved before this table is consulted, since
// their offsets depend on the date (see ResolveOffset), so only the UTC
// entry is ever used.
var timezones = map[string]int{
	"UTC":              0,
	"America/New_York": -4,
}

// Clock wraps a Reader with the timezone offset loaded at boot
// (§4.13; rtc.c).
type Clock struct {
	r      *Reader
	offset int
}

// NewClock builds a clock defaulted to UTC+0.
func NewClock(p Ports) *Clock { return &Clock{r: New(p)} }

// LoadTimezone reads TimezoneFile from v and resolves it to a UTC offset,
// defaulting to UTC+0 on any error or empty file (§4.13; rtc_load_timezone).
func (c *Clock) LoadTimezone(v *vfs.VFS) {
	fd, err := v.Fopen(TimezoneFile, vfs.ModeRead)
	if err != kerr.OK {
		c.offset = 0
		return
	}
	defer v.Fclose(fd)

	buf := make([]byte, 32)
	n, err := v.Fread(fd, buf, len(buf)-1)
	if err != kerr.OK || n <= 0 {
		c.offset = 0
		return
	}
	name := buf[:n]
	for i, b := range name {
		if b == '\n' || b == '\r' || b == ' ' {
			name = name[:i]
			break
		}
	}
	c.offset = c.ResolveOffset(string(name))
}

// ResolveOffset applies a last-Sunday-in-month DST rule to both
// Europe/Berlin and America/New_York, generalizing the source's
// Berlin-only summer-time check (Open Question decision, DESIGN.md) — the
// source left America/New_York a flat -4 with no DST at all.
func (c *Clock) ResolveOffset(name string) int {
	switch name {
	case "Europe/Berlin":
		if c.isSummer() {
			return 2
		}
		return 1
	case "America/New_York":
		if c.isSummer() {
			return -4
		}
		return -5
	}
	if off, ok := timezones[name]; ok {
		return off
	}
	return 0
}

// isLastSunday reports whether day, with the CMOS RTC's 1-7 weekday
// encoding (1 = Sunday), is the last Sunday of a 31-day month or a later
// day of that same week: the most recent Sunday, day-(weekday-1), is 25 or
// later. Both transition months (March, October) have 31 days (§4.13;
// rtc.c's _is_last_sunday).
func isLastSunday(day, weekday int) bool {
	return day+(8-weekday) > 31
}

// isSummer reports whether the current CMOS date falls within daylight
// saving time, using the EU transition months (last Sunday of March
// through last Sunday of October) for both zones this clock supports
// (§4.13; rtc.c's _is_summer_de, generalized per the Open Question
// decision).
func (c *Clock) isSummer() bool {
	date := c.r.Date()
	if date.Month < 3 || date.Month > 10 {
		return false
	}
	if date.Month > 3 && date.Month < 10 {
		return true
	}
	last := isLastSunday(date.Day, date.Weekday)
	// The hour only matters on the transition Sunday itself.
	onSunday := date.Weekday == 1
	hour := c.r.Time().Hour
	if date.Month == 3 {
		return last && (!onSunday || hour >= 2)
	}
	// date.Month == 10
	return !(last && (!onSunday || hour >= 3))
}

// SetTimezone resolves name to a UTC offset and applies it directly,
// bypassing the TimezoneFile lookup — used by boot code that already has
// the name from elsewhere, and by tests that want a specific zone applied
// without assembling a filesystem.
func (c *Clock) SetTimezone(name string) {
	c.offset = c.ResolveOffset(name)
}

// Now returns the current time of day adjusted by the loaded timezone
// offset (§4.13; rtc_now).
func (c *Clock) Now() Time {
	t := c.r.Time()
	t.Hour += c.offset
	return t
}

// Date returns the current calendar date, unaffected by the timezone
// offset (the source never adjusts the date for a sub-day offset either).
func (c *Clock) Date() Date {
	return c.r.Date()
}
