package golin

import (
	"context"
	"fmt"
	"sync"
	"time"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "Virtual",
		Description:        "in-memory LIN bus, endpoints sharing a bus name talk to each other",
		RequiresSerialPort: false,
		Capabilities: AdapterCapabilities{
			Master: true,
			Slave:  true,
		},
		New: NewVirtual,
	}); err != nil {
		panic(err)
	}
}

// DefaultResponseTimeout is how long a virtual master waits for a slave to
// answer a header.
const DefaultResponseTimeout = 50 * time.Millisecond

type transaction struct {
	from  *Virtual
	frame *LINFrame
}

// VirtualBus carries frames between Virtual endpoints. A header sent by the
// master endpoint is offered to every other endpoint, the first slave
// publishing that frame supplies the payload.
type VirtualBus struct {
	name            string
	responseTimeout time.Duration

	mu        sync.Mutex
	endpoints map[*Virtual]struct{}

	txChan    chan transaction
	closeOnce sync.Once
	closeChan chan struct{}
}

var (
	virtualMu    sync.Mutex
	virtualBuses = make(map[string]*VirtualBus)
)

// VirtualBusByName returns the named bus, creating it on first use.
func VirtualBusByName(name string) *VirtualBus {
	virtualMu.Lock()
	defer virtualMu.Unlock()
	if b, ok := virtualBuses[name]; ok {
		return b
	}
	b := NewVirtualBus(name, DefaultResponseTimeout)
	virtualBuses[name] = b
	return b
}

func NewVirtualBus(name string, responseTimeout time.Duration) *VirtualBus {
	if responseTimeout <= 0 {
		responseTimeout = DefaultResponseTimeout
	}
	b := &VirtualBus{
		name:            name,
		responseTimeout: responseTimeout,
		endpoints:       make(map[*Virtual]struct{}),
		txChan:          make(chan transaction, 16),
		closeChan:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *VirtualBus) Name() string {
	return b.name
}

func (b *VirtualBus) Close() {
	b.closeOnce.Do(func() {
		close(b.closeChan)
		virtualMu.Lock()
		if virtualBuses[b.name] == b {
			delete(virtualBuses, b.name)
		}
		virtualMu.Unlock()
	})
}

func (b *VirtualBus) attach(v *Virtual) {
	b.mu.Lock()
	b.endpoints[v] = struct{}{}
	b.mu.Unlock()
}

func (b *VirtualBus) detach(v *Virtual) {
	b.mu.Lock()
	delete(b.endpoints, v)
	b.mu.Unlock()
}

func (b *VirtualBus) peers(self *Virtual) []*Virtual {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Virtual, 0, len(b.endpoints))
	for v := range b.endpoints {
		if v != self {
			out = append(out, v)
		}
	}
	return out
}

func (b *VirtualBus) submit(tx transaction) error {
	select {
	case <-b.closeChan:
		return Unrecoverable(ErrAdapterClosed)
	default:
	}
	select {
	case b.txChan <- tx:
		return nil
	case <-b.closeChan:
		return Unrecoverable(ErrAdapterClosed)
	default:
		return ErrDroppedFrame
	}
}

func (b *VirtualBus) run() {
	for {
		select {
		case <-b.closeChan:
			return
		case tx := <-b.txChan:
			b.transfer(tx)
		}
	}
}

// transfer runs one frame slot: header to every peer, then the payload back
// to the master when a slave answered.
func (b *VirtualBus) transfer(tx transaction) {
	respond := make(chan []byte, 1)
	for _, peer := range b.peers(tx.from) {
		peer.header(tx.frame, respond)
	}
	if tx.frame.Length() > 0 {
		// master published the payload itself
		return
	}
	t := time.NewTimer(b.responseTimeout)
	defer t.Stop()
	select {
	case data := <-respond:
		tx.from.response(tx.frame.ID, data)
	case <-t.C:
		tx.from.Debug(fmt.Sprintf("no response for frame 0x%02X", tx.frame.ID))
	case <-b.closeChan:
	}
}

// Virtual is an endpoint on a VirtualBus.
type Virtual struct {
	*BaseAdapter
	bus *VirtualBus

	mu  sync.Mutex
	log []*LINFrame
}

func NewVirtual(cfg *AdapterConfig) (Adapter, error) {
	name := cfg.Bus
	if name == "" {
		name = "default"
	}
	return NewVirtualOn(VirtualBusByName(name), cfg), nil
}

// NewVirtualOn creates an endpoint on bus.
func NewVirtualOn(bus *VirtualBus, cfg *AdapterConfig) *Virtual {
	return &Virtual{
		BaseAdapter: NewBaseAdapter("Virtual", cfg),
		bus:         bus,
	}
}

func (v *Virtual) Open(ctx context.Context) error {
	v.bus.attach(v)
	go func() {
		select {
		case <-ctx.Done():
			v.bus.detach(v)
		case <-v.closeChan:
		}
	}()
	return nil
}

func (v *Virtual) Close() error {
	v.bus.detach(v)
	v.BaseAdapter.Close()
	return nil
}

func (v *Virtual) SendCommand(node int, id uint8, length int) error {
	select {
	case <-v.closeChan:
		return Unrecoverable(ErrAdapterClosed)
	default:
	}
	frame, _, err := v.outgoing(node, id, length)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.log = append(v.log, frame)
	v.mu.Unlock()
	if v.cfg.Debug {
		v.Debug(">> " + frame.String())
	}
	return v.bus.submit(transaction{from: v, frame: frame})
}

// Transmitted returns the frames this endpoint started, in order.
func (v *Virtual) Transmitted() []*LINFrame {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*LINFrame, len(v.log))
	copy(out, v.log)
	return out
}

// header delivers a frame header seen on the bus to a slave endpoint.
func (v *Virtual) header(frame *LINFrame, respond chan<- []byte) {
	p, ok := v.Params()
	if !ok || p.Master {
		return
	}
	w := &pendingWork{
		id:      frame.ID,
		header:  true,
		respond: respond,
	}
	if frame.Length() > 0 {
		w.data = frame.Data
	}
	v.post(p.Node, w)
}

// response delivers a slave's answer to the master endpoint.
func (v *Virtual) response(id uint8, data []byte) {
	p, ok := v.Params()
	if !ok || !p.Master {
		return
	}
	v.post(p.Node, &pendingWork{id: id, data: data})
}
