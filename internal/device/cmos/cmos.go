// Package cmos implements the CMOS/RTC register reader (§4.13) and the
// timezone-aware wall-clock layer built on top of it: dump the 128-byte
// register bank, decode BCD fields into a time/date, load a timezone name
// from A:/ETC/TIMEZONE at boot, and apply its UTC offset (with a
// last-Sunday-in-month DST rule) to the time the clock reports.
package cmos

// Ports the reader polls (§4.13; cmos.h's CMOSPorts).
const (
	IndexPort uint16 = 0x70
	DataPort  uint16 = 0x71
)

// Register offsets into the 128-byte dump this driver cares about
// (§4.13; cmos.c's cmos_time/cmos_date field indices).
const (
	regSecond  = 0
	regMinute  = 2
	regHour    = 4
	regWeekday = 6
	regDay     = 7
	regMonth   = 8
	regYear    = 9
	regCentury = 32
)

// Ports is the narrow machine surface the reader needs.
type Ports interface {
	In8(port uint16) uint8
	Out8(port uint16, v uint8)
}

// Time is the decoded wall-clock time of day.
type Time struct {
	Hour, Minute, Second int
}

// Date is the decoded calendar date. Weekday is the CMOS RTC's own
// 1-7 encoding (1 = Sunday), not Go's time.Weekday.
type Date struct {
	Weekday, Day, Month, Year int
}

// Reader polls the 128 CMOS registers through index/data port pairs
// (§4.13; cmos.c's _dump_cmos).
type Reader struct {
	p Ports
}

// New wraps p for CMOS register reads.
func New(p Ports) *Reader { return &Reader{p: p} }

func bcdToDecimal(bcd byte) int {
	upper := int(bcd&0xF0) >> 4
	lower := int(bcd & 0x0F)
	return upper*10 + lower
}

// dump reads all 128 CMOS registers, one index/data round trip each
// (§4.13; _dump_cmos). The source spins 100 NOPs between the index write
// and data read to respect the chip's access delay; this simulation has
// no timing to model, so the round trip alone stands in for it.
func (r *Reader) dump() [128]byte {
	var regs [128]byte
	for i := 0; i < 128; i++ {
		r.p.Out8(IndexPort, byte(i))
		regs[i] = r.p.In8(DataPort)
	}
	return regs
}

// Time reads and decodes the current time of day (§4.13; cmos_time).
func (r *Reader) Time() Time {
	regs := r.dump()
	return Time{
		Hour:   bcdToDecimal(regs[regHour]),
		Minute: bcdToDecimal(regs[regMinute]),
		Second: bcdToDecimal(regs[regSecond]),
	}
}

// Date reads and decodes the current calendar date (§4.13; cmos_date).
func (r *Reader) Date() Date {
	regs := r.dump()
	// century register is combined as century*10+year, not century*100 —
	// carried over from cmos_date verbatim.
	century := int(regs[regCentury])
	return Date{
		Weekday: bcdToDecimal(regs[regWeekday]),
		Day:     bcdToDecimal(regs[regDay]),
		Month:   bcdToDecimal(regs[regMonth]),
		Year:    century*10 + bcdToDecimal(regs[regYear]),
	}
}
