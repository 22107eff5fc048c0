package fat16

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// oemEncoder/oemDecoder translate between host UTF-8 strings and the
// traditional DOS/FAT OEM code page (CP437): an 8.3 name's bytes 0x80+ are
// not UTF-8 continuation bytes, so unicode/utf8 would corrupt them (§ DOMAIN
// STACK rationale for golang.org/x/text).
var (
	oemEncoder = charmap.CodePage437.NewEncoder()
	oemDecoder = charmap.CodePage437.NewDecoder()
)

// EncodeName83 splits and pads "NAME.EXT" (or "NAME") into the 8-byte name
// field and 3-byte extension field, space-padded, upper-cased, and
// transcoded to CP437 (§4.9).
func EncodeName83(display string) ([8]byte, [3]byte) {
	display = strings.ToUpper(strings.TrimSpace(display))
	name, ext := display, ""
	if i := strings.LastIndexByte(display, '.'); i >= 0 {
		name, ext = display[:i], display[i+1:]
	}
	if len(name) > 8 {
		name = name[:8]
	}
	if len(ext) > 3 {
		ext = ext[:3]
	}

	var nb [8]byte
	var eb [3]byte
	for i := range nb {
		nb[i] = ' '
	}
	for i := range eb {
		eb[i] = ' '
	}
	if encoded, err := oemEncoder.String(name); err == nil {
		copy(nb[:], encoded)
	} else {
		copy(nb[:], name)
	}
	if encoded, err := oemEncoder.String(ext); err == nil {
		copy(eb[:], encoded)
	} else {
		copy(eb[:], ext)
	}
	return nb, eb
}

// DecodeName83 trims the space-padded name/ext fields and joins them with
// a dot only when an extension is present (§4.9).
func DecodeName83(name [8]byte, ext [3]byte) string {
	n := decodeField(name[:])
	e := decodeField(ext[:])
	if e == "" {
		return n
	}
	return n + "." + e
}

func decodeField(b []byte) string {
	s, err := oemDecoder.String(string(b))
	if err != nil {
		s = string(b)
	}
	return strings.TrimRight(s, " ")
}
