package ps2

// Mouse packet flag bits (§4.13; mouse.c's MouseMask enum).
const (
	leftButtonMask    byte = 0b00000001
	rightButtonMask   byte = 0b00000010
	middleButtonMask  byte = 0b00000100
	alignedPacketMask byte = 0b00001000
	yOverflowMask     byte = 0b01000000
	xOverflowMask     byte = 0b10000000
	signBitMask       int16 = 0b100000000
)

// Mouse controller command bytes (§4.13; mouse.c's mouse_init sequence).
const (
	CmdEnableAux       byte = 0xA8
	CmdDisable         byte = 0xA7
	CmdGetCompaqStatus byte = 0x20
	CmdSetCompaqStatus byte = 0x60
	CmdSendToMouse     byte = 0xD4
	CmdEnableReporting byte = 0xF4
	CmdSetDefaults     byte = 0xF6
	AckByte            byte = 0xFA
)

// Buttons reports which mouse buttons were down in the most recently
// decoded packet.
type Buttons struct {
	Left, Right, Middle bool
}

// Mouse decodes the PS/2 mouse's 3-byte relative-motion packet stream
// (§4.13; mouse.c's mouse_handler state machine) into absolute coordinates.
type Mouse struct {
	X, Y                 int16
	cycle                int
	flags                byte
	xMovement, yMovement byte
}

// HandlePacketByte feeds one byte of the 3-byte packet cycle. moved is true
// once a full, correctly-aligned packet (byte 0 has ALIGNED_PACKET_MASK
// set) has updated X/Y; buttons reports that packet's button state.
// A byte 0 missing the alignment bit restarts the cycle at 0, exactly as
// mouse_handler's case 0 does.
func (m *Mouse) HandlePacketByte(b byte) (moved bool, buttons Buttons) {
	switch m.cycle {
	case 0:
		m.flags = b
		if m.flags&alignedPacketMask == 0 {
			m.cycle = 0
			return false, Buttons{}
		}
		m.cycle++
		return false, Buttons{
			Left:   m.flags&leftButtonMask != 0,
			Right:  m.flags&rightButtonMask != 0,
			Middle: m.flags&middleButtonMask != 0,
		}
	case 1:
		m.xMovement = b
		m.cycle++
		return false, Buttons{}
	case 2:
		m.yMovement = b
		m.cycle = 0
		if m.flags&yOverflowMask == 0 || m.flags&xOverflowMask == 0 {
			m.updateCoordinates()
			return true, Buttons{
				Left:   m.flags&leftButtonMask != 0,
				Right:  m.flags&rightButtonMask != 0,
				Middle: m.flags&middleButtonMask != 0,
			}
		}
		return false, Buttons{}
	}
	return false, Buttons{}
}

// updateCoordinates applies the sign-corrected delta from the last packet
// to X/Y (§4.13; mouse_update_coordinates). The sign bit for each axis
// lives in the flags byte shifted into bit 8, subtracted back out exactly
// as the source does to recover a two's-complement delta from an
// unsigned movement byte.
func (m *Mouse) updateCoordinates() {
	deltaX := int16(m.xMovement) - (int16(m.flags)<<3)&signBitMask
	deltaY := int16(m.yMovement) - (int16(m.flags)<<4)&signBitMask
	m.X += deltaX
	m.Y += deltaY
}

// Controller drives the mouse-enable handshake through the shared PS/2
// controller (§4.13; mouse_init): enable the auxiliary device, fold the
// IRQ12-enable bit into the Compaq status byte, reset the mouse to
// defaults, then enable streaming data reports. Every controller command
// (CmdSendToMouse wrapping) and response uses Send/Receive's polled
// handshake, so no response byte (including the ACK after SetDefaults and
// EnableReporting) is dropped by a caller that doesn't wait for it.
type Controller struct {
	p Ports
}

// NewController wraps p for the mouse-enable handshake.
func NewController(p Ports) *Controller { return &Controller{p: p} }

// Enable runs mouse_init's controller command sequence.
func (c *Controller) Enable() {
	Send(c.p, StatusCommandPort, CmdEnableAux)
	Send(c.p, StatusCommandPort, CmdGetCompaqStatus)
	status := Receive(c.p) | 0b00000010
	Send(c.p, StatusCommandPort, CmdSetCompaqStatus)
	Send(c.p, DataPort, status)

	Send(c.p, StatusCommandPort, CmdSendToMouse)
	Send(c.p, DataPort, CmdSetDefaults)
	Receive(c.p) // ACK

	Send(c.p, StatusCommandPort, CmdSendToMouse)
	Send(c.p, DataPort, CmdEnableReporting)
	Receive(c.p) // ACK
}
