package ps2

// Scan codes the keyboard state machine treats specially (§4.13),
// grounded on keyboard.c's KeyCode enum plus its silent-skip list for
// codes with no ASCII mapping (function/control keys not yet handled).
const (
	scanEsc        = 0x01
	scanLeftShift  = 0x2A
	scanRightShift = 0x36
	scanCapsLock   = 0x3A
	scanAltGr      = 0x60
)

// silentScancodes produce no character output — function/control keys
// keyboard.c's default case never reaches (1, 29, 56, 59-68, 87, 88).
var silentScancodes = map[byte]bool{
	1: true, 29: true, 56: true,
	59: true, 60: true, 61: true, 62: true, 63: true, 64: true,
	65: true, 66: true, 67: true, 68: true, 87: true, 88: true,
}

// qwertzLower/qwertzUpper/qwertzAltGr are the scan-code-indexed translation
// tables for the German QWERTZ layout (§4.13; keyboard.c's literal tables).
var (
	qwertzLower = []byte{
		0, 0, '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', 223, 180, '\b',
		9, 'q', 'w', 'e', 'r', 't', 'z', 'u', 'i', 'o', 'p', 252, '+', 13, 0,
		'a', 's', 'd', 'f', 'g', 'h', 'j', 'k', 'l', 246, 228, '^', 0, '<',
		'y', 'x', 'c', 'v', 'b', 'n', 'm', ',', '.', '-', 0, 0, 0, ' ', 0,
	}
	qwertzUpper = []byte{
		0, 0, '!', '"', '3', '$', '%', '&', '/', '(', ')', '=', '?', '`', 8,
		9, 'Q', 'W', 'E', 'R', 'T', 'Z', 'U', 'I', 'O', 'P', 220, '*', 13, 0,
		'A', 'S', 'D', 'F', 'G', 'H', 'J', 'K', 'L', 214, 196, '^', 0, '>',
		'Y', 'X', 'C', 'V', 'B', 'N', 'M', ';', ':', '_', 0, 0, 0, ' ', 0,
	}
	qwertzAltGr = []byte{0, 0, 0, 0, 0, 0, 0, 0, '{', '['}
)

// Keyboard holds the modifier state a scancode stream is decoded against
// (§4.13). Shift and AltGr toggle on both make and break codes, the same
// double-toggle keyboard.c relies on so a key held down reads as "active"
// between its own press and release event.
type Keyboard struct {
	shift    bool
	capsLock bool
	altGr    bool
}

// HandleScancode decodes one raw byte read from the PS/2 data port
// (make code, or break code with bit 7 set) into the ASCII byte it
// produces, if any (§4.13; keyboard_update_keystroke/keyboard_read).
// ok is false for modifier keys, releases, and scan codes with no mapping.
func (k *Keyboard) HandleScancode(raw byte) (ch byte, ok bool) {
	scancode := raw & 0x7F
	pressed := raw&0x80 == 0

	switch scancode {
	case scanEsc:
		return 0, false
	case scanAltGr:
		k.altGr = !k.altGr
		return 0, false
	case scanLeftShift, scanRightShift:
		k.shift = !k.shift
		return 0, false
	case scanCapsLock:
		if pressed {
			k.capsLock = !k.capsLock
		}
		return 0, false
	}
	if silentScancodes[scancode] {
		return 0, false
	}
	if !pressed {
		return 0, false
	}
	if int(scancode) >= len(qwertzLower) {
		return 0, false
	}

	switch {
	case k.shift || k.capsLock:
		return qwertzUpper[scancode], true
	case k.altGr:
		if int(scancode) < len(qwertzAltGr) {
			return qwertzAltGr[scancode], true
		}
		return 0, false
	default:
		return qwertzLower[scancode], true
	}
}

// asciiToScancode/asciiToScancodeShifted reverse qwertzLower/qwertzUpper,
// built once at package init for EncodeASCII.
var (
	asciiToScancode        = reverseTable(qwertzLower)
	asciiToScancodeShifted = reverseTable(qwertzUpper)
)

func reverseTable(table []byte) map[byte]byte {
	rev := make(map[byte]byte, len(table))
	for sc, ch := range table {
		if ch == 0 {
			continue
		}
		if _, exists := rev[ch]; !exists {
			rev[ch] = byte(sc)
		}
	}
	return rev
}

// EncodeASCII reverses HandleScancode's base and shifted QWERTZ tables: a
// host-side keyboard simulator feeding real terminal keystrokes through the
// PS/2 data port needs the inverse direction HandleScancode doesn't provide.
// shift reports whether the caller must wrap the returned make code in a
// left-shift press/release to reproduce ch (e.g. 'A' needs shift held).
func EncodeASCII(ch byte) (scancode byte, shift bool, ok bool) {
	if ch == '\n' {
		ch = '\r'
	}
	if sc, ok := asciiToScancode[ch]; ok {
		return sc, false, true
	}
	if sc, ok := asciiToScancodeShifted[ch]; ok {
		return sc, true, true
	}
	return 0, false, false
}
