package golin

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "SerialLIN",
		Description:        "ASCII LIN interface on a serial port",
		RequiresSerialPort: true,
		Capabilities: AdapterCapabilities{
			Master: true,
			Slave:  true,
		},
		New: NewSerialLIN,
	}); err != nil {
		panic(err)
	}
}

// SerialLIN talks to a LIN transceiver speaking a line based ASCII protocol,
// every command and reply terminated by CR.
//
//	B<baud>              set LIN bitrate
//	M / S                master / slave mode
//	O / C                open / close the channel, C also clears the response table
//	t<id><len><data>     master: send header and payload
//	r<id><len>           master: send header, slave supplies payload
//	R<id><len><data>     slave: load response for id
//	F                    read status flags
//	V                    read version
//
// Replies: t frames received, T own frames read back, F status, z ok, V
// version, BELL on a rejected command.
type SerialLIN struct {
	*BaseAdapter
	port     serial.Port
	sendChan chan []byte
	closed   atomic.Bool
	version  atomic.Value
}

func NewSerialLIN(cfg *AdapterConfig) (Adapter, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port not set")
	}
	if cfg.PortBaudrate == 0 {
		cfg.PortBaudrate = 115200
	}
	return &SerialLIN{
		BaseAdapter: NewBaseAdapter("SerialLIN", cfg),
		sendChan:    make(chan []byte, 40),
	}, nil
}

func (sl *SerialLIN) Open(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: sl.cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	err := retry.Do(func() error {
		p, err := serial.Open(sl.cfg.Port, mode)
		if err != nil {
			return fmt.Errorf("failed to open com port %q : %w", sl.cfg.Port, err)
		}
		sl.port = p
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			sl.Warn(fmt.Sprintf("retry #%d: %v", n, err))
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return err
	}
	if err := sl.port.SetReadTimeout(5 * time.Millisecond); err != nil {
		sl.port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	sl.port.ResetOutputBuffer()
	sl.port.ResetInputBuffer()

	errg, gctx := errgroup.WithContext(ctx)
	errg.Go(func() error { return sl.sendManager(gctx) })
	errg.Go(func() error { return sl.recvManager(gctx) })
	go func() {
		if err := errg.Wait(); err != nil && !sl.closed.Load() {
			sl.Fatal(err)
		}
	}()

	for _, cmd := range []string{"C", "V"} {
		if err := sl.command(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (sl *SerialLIN) Close() error {
	if !sl.closed.CompareAndSwap(false, true) {
		return nil
	}
	sl.BaseAdapter.Close()
	if sl.port == nil {
		return nil
	}
	time.Sleep(10 * time.Millisecond)
	sl.port.Write([]byte("C\r"))
	time.Sleep(10 * time.Millisecond)
	return sl.port.Close()
}

// Version returns the interface version reported after Open.
func (sl *SerialLIN) Version() string {
	if v, ok := sl.version.Load().(string); ok {
		return v
	}
	return ""
}

func (sl *SerialLIN) Init(p InitParams) error {
	if err := sl.BaseAdapter.Init(p); err != nil {
		return err
	}
	mode := "S"
	if p.Master {
		mode = "M"
	}
	for _, cmd := range []string{"C", "B" + strconv.Itoa(p.Baudrate), mode, "O"} {
		if err := sl.command(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (sl *SerialLIN) RegisterDescriptor(node, slot int, d *FrameDescriptor) error {
	if err := sl.BaseAdapter.RegisterDescriptor(node, slot, d); err != nil {
		return err
	}
	p, ok := sl.Params()
	if !ok || p.Master || d == nil || d.Direction != Publish {
		return nil
	}
	return sl.send(encodeFrame('R', d.ID, d.Buffer[:d.Length]))
}

func (sl *SerialLIN) SendCommand(node int, id uint8, length int) error {
	frame, d, err := sl.outgoing(node, id, length)
	if err != nil {
		return err
	}
	if d.Direction == Publish {
		return sl.send(encodeFrame('t', frame.ID, frame.Data))
	}
	return sl.send(encodeHeader('r', frame.ID, d.Length))
}

func (sl *SerialLIN) command(cmd string) error {
	return sl.send([]byte(cmd + "\r"))
}

// send queues a command line without blocking, it is called in interrupt context.
func (sl *SerialLIN) send(line []byte) error {
	if sl.closed.Load() {
		return Unrecoverable(ErrAdapterClosed)
	}
	select {
	case sl.sendChan <- line:
		return nil
	default:
		return ErrDroppedFrame
	}
}

func (sl *SerialLIN) sendManager(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sl.closeChan:
			return nil
		case line := <-sl.sendChan:
			if sl.cfg.Debug {
				log.Printf(">> %q", line)
			}
			if _, err := sl.port.Write(line); err != nil {
				return fmt.Errorf("failed to write to com port: %w", err)
			}
		}
	}
}

func (sl *SerialLIN) recvManager(ctx context.Context) error {
	buf := bytes.NewBuffer(make([]byte, 0, 64))
	readBuf := make([]byte, 16)
	for ctx.Err() == nil {
		n, err := sl.port.Read(readBuf)
		if err != nil {
			if sl.closed.Load() {
				return nil
			}
			return fmt.Errorf("failed to read com port: %w", err)
		}
		if n == 0 {
			continue
		}
		sl.parse(buf, readBuf[:n])
	}
	return nil
}

// parse consumes read bytes, completed lines are acted upon and any partial
// line stays in buf.
func (sl *SerialLIN) parse(buf *bytes.Buffer, data []byte) {
	for _, b := range data {
		if b == 0x07 { // BELL
			sl.Error(errors.New("command error"))
			continue
		}
		if b != '\r' {
			buf.WriteByte(b)
			continue
		}
		if buf.Len() == 0 {
			continue
		}
		sl.handleLine(buf.Bytes())
		buf.Reset()
	}
}

func (sl *SerialLIN) handleLine(line []byte) {
	if sl.cfg.Debug {
		log.Printf("<< %s", line)
	}
	switch line[0] {
	case 't', 'T':
		f, err := decodeFrame(line)
		if err != nil {
			sl.Error(fmt.Errorf("failed to decode frame: %w", err))
			return
		}
		p, ok := sl.Params()
		if !ok {
			return
		}
		w := &pendingWork{id: f.ID, data: f.Data}
		if line[0] == 'T' {
			w = &pendingWork{id: f.ID, echo: true}
		}
		sl.post(p.Node, w)
	case 'F':
		if err := decodeStatus(line); err != nil {
			sl.Error(fmt.Errorf("LIN status error: %w", err))
		}
	case 'V':
		sl.version.Store(string(line[1:]))
		if sl.cfg.PrintVersion {
			sl.cfg.OnMessage("H/W version " + string(line[1:]))
		}
	case 'z':
	default:
		sl.Warn("Unknown>> " + string(line))
	}
}

// helper converts a 0..15 value to its ASCII hex nibble
func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

func encodeHeader(prefix byte, id uint8, length int) []byte {
	return []byte{prefix, nybbleToHex(id >> 4), nybbleToHex(id & 0xF), nybbleToHex(byte(length) & 0xF), '\r'}
}

func encodeFrame(prefix byte, id uint8, data []byte) []byte {
	buf := make([]byte, 0, 5+len(data)*2)
	buf = append(buf, encodeHeader(prefix, id, len(data))[:4]...)
	for _, b := range data {
		buf = append(buf, nybbleToHex(b>>4), nybbleToHex(b&0xF))
	}
	return append(buf, '\r')
}

func decodeFrame(line []byte) (*LINFrame, error) {
	if len(line) < 4 {
		return nil, fmt.Errorf("short frame %q", line)
	}
	id, err := strconv.ParseUint(string(line[1:3]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identifier: %v", err)
	}
	if uint8(id) > MaxFrameID {
		return nil, fmt.Errorf("invalid identifier 0x%02X", id)
	}
	dataLen, err := strconv.ParseUint(string(line[3]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data length: %v", err)
	}
	if dataLen > MaxDataLength {
		return nil, fmt.Errorf("invalid data length: %d", dataLen)
	}
	if len(line) < 4+int(dataLen)*2 {
		return nil, fmt.Errorf("truncated frame %q", line)
	}
	data, err := hex.DecodeString(string(line[4 : 4+dataLen*2]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame body: %v", err)
	}
	t := Incoming
	if line[0] == 'T' {
		t = Echo
	}
	return NewFrame(uint8(id), data, t), nil
}
