package host

// VgaCrtc simulates the VGA CRTC index/data port pair (0x3d4/0x3d5) far
// enough to observe Cursor.Set's register writes in tests: Out8 to the
// control port latches an index register, the following Out8 to the data
// port stores the value at that index.
type VgaCrtc struct {
	Regs  [256]byte
	index byte
}

// NewVgaCrtc builds a simulated CRTC with every register zeroed.
func NewVgaCrtc() *VgaCrtc { return &VgaCrtc{} }

func (c *VgaCrtc) In8(port uint16) uint8 {
	if port == 0x3d5 {
		return c.Regs[c.index]
	}
	return 0
}

func (c *VgaCrtc) Out8(port uint16, v uint8) {
	switch port {
	case 0x3d4:
		c.index = v
	case 0x3d5:
		c.Regs[c.index] = v
	}
}
