package golin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

const (
	// DefaultFrameID is the identifier of the single frame exchanged on the bus.
	DefaultFrameID uint8 = 0x12
	// DefaultFrameLength is the payload size of the exchanged frame.
	DefaultFrameLength = 8
	// Sentinel is the fixed first payload byte of a valid frame.
	Sentinel byte = 0x55

	// MaxDataLength is the largest payload a LIN frame can carry.
	MaxDataLength = 8
	// MaxFrameID is the highest unprotected LIN identifier.
	MaxFrameID uint8 = 0x3F
)

// Direction tells whether a node writes the payload of a frame or expects
// the counterpart to supply it.
type Direction int

const (
	Publish Direction = iota
	Subscribe
)

func (d Direction) String() string {
	switch d {
	case Publish:
		return "PUBLISH"
	case Subscribe:
		return "SUBSCRIBE"
	default:
		return "UNKNOWN"
	}
}

type FrameType int

const (
	Incoming FrameType = iota
	Outgoing
	// Echo is a frame this node published, read back from the bus.
	Echo
)

type LINFrame struct {
	ID   uint8
	Data []byte
	Type FrameType
}

// NewFrame creates a new LINFrame and copies the data slice
func NewFrame(id uint8, data []byte, frameType FrameType) *LINFrame {
	d := make([]byte, len(data))
	copy(d, data)
	return &LINFrame{
		ID:   id & MaxFrameID,
		Data: d,
		Type: frameType,
	}
}

func (f *LINFrame) Length() int {
	return len(f.Data)
}

// PID returns the protected identifier sent on the wire.
func (f *LINFrame) PID() uint8 {
	return ProtectedID(f.ID)
}

// Checksum returns the enhanced (LIN 2.x) checksum of the frame.
func (f *LINFrame) Checksum() byte {
	return EnhancedChecksum(f.PID(), f.Data)
}

// ProtectedID adds the two parity bits to a 6 bit identifier.
func ProtectedID(id uint8) uint8 {
	id &= MaxFrameID
	bit := func(n uint) uint8 { return (id >> n) & 1 }
	p0 := bit(0) ^ bit(1) ^ bit(2) ^ bit(4)
	p1 := ^(bit(1) ^ bit(3) ^ bit(4) ^ bit(5)) & 1
	return id | p0<<6 | p1<<7
}

// ClassicChecksum is the LIN 1.x checksum, covering the data bytes only.
func ClassicChecksum(data []byte) byte {
	return ^carrySum(0, data)
}

// EnhancedChecksum is the LIN 2.x checksum, covering the protected identifier
// and the data bytes.
func EnhancedChecksum(pid uint8, data []byte) byte {
	return ^carrySum(uint16(pid), data)
}

func carrySum(sum uint16, data []byte) byte {
	for _, b := range data {
		sum += uint16(b)
		if sum > 0xFF {
			sum -= 0xFF
		}
	}
	return byte(sum)
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f *LINFrame) prefix() string {
	switch f.Type {
	case Incoming:
		return "<i> || "
	case Outgoing:
		return "<o> || "
	case Echo:
		return "<e> || "
	}
	return "<?> || "
}

func (f *LINFrame) hexView() string {
	var hexView strings.Builder
	for i, b := range f.Data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			hexView.WriteString(" ")
		}
	}
	return fmt.Sprintf("%-23s", hexView.String())
}

func (f *LINFrame) String() string {
	var out strings.Builder
	out.WriteString(f.prefix())
	out.WriteString(fmt.Sprintf("0x%02X (PID 0x%02X)", f.ID, f.PID()) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(f.hexView())
	out.WriteString(" || ")
	out.WriteString(fmt.Sprintf("CS 0x%02X", f.Checksum()))
	return out.String()
}

func (f *LINFrame) ColorString() string {
	var out strings.Builder
	out.WriteString(f.prefix())
	out.WriteString(green("0x%02X", f.ID) + fmt.Sprintf(" (PID 0x%02X)", f.PID()) + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(red(f.hexView()))
	out.WriteString(" || ")
	out.WriteString(yellow("CS 0x%02X", f.Checksum()))
	return out.String()
}
