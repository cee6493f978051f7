package golin

import (
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"sync"
)

// pendingWork is bus activity waiting for Service on a node number.
type pendingWork struct {
	id uint8
	// data is the payload seen on the bus, nil for a bare header
	data []byte
	// header marks a header addressed to a slave, respond takes its answer
	header  bool
	respond chan<- []byte
	// echo is this node's own published payload read back
	echo bool
}

type BaseAdapter struct {
	eventQueue

	name     string
	cfg      *AdapterConfig
	registry *Registry

	mu          sync.Mutex
	params      InitParams
	initialized bool
	pending     map[int]*pendingWork
	isr         func()

	errOnce sync.Once
	errChan chan error

	closeOnce sync.Once
	closeChan chan struct{}
}

func NewBaseAdapter(name string, cfg *AdapterConfig) *BaseAdapter {
	if cfg == nil {
		cfg = &AdapterConfig{}
	}
	return &BaseAdapter{
		eventQueue: newEventQueue(100),
		name:       name,
		cfg:        cfg,
		registry:   NewRegistry(),
		pending:    make(map[int]*pendingWork),
		errChan:    make(chan error, 1),
		closeChan:  make(chan struct{}),
	}
}

// Name returns the adapter name.
func (base *BaseAdapter) Name() string {
	return base.name
}

// Return the error channel for the adapter
func (base *BaseAdapter) Err() <-chan error {
	return base.errChan
}

func (base *BaseAdapter) Registry() *Registry {
	return base.registry
}

func (base *BaseAdapter) Close() {
	base.closeOnce.Do(func() {
		close(base.closeChan)
		select {
		case base.errChan <- nil:
		default:
			log.Println("failed to send <nil> to errchan")
		}
	})
}

// Set a fatal adapter error, meaning communication is broken and cannot continue.
func (base *BaseAdapter) Fatal(err error) {
	base.errOnce.Do(func() {
		select {
		case base.errChan <- err:
		default:
			_, file, no, ok := runtime.Caller(1)
			if ok {
				log.Printf("%s:%d error channel full: %v\n", filepath.Base(file), no, err)
			} else {
				log.Printf("error channel full: %v", err)
			}
		}
	})
}

func (base *BaseAdapter) Init(p InitParams) error {
	if p.Node < 0 {
		return fmt.Errorf("invalid node number %d", p.Node)
	}
	if p.Baudrate <= 0 {
		return fmt.Errorf("invalid baudrate %d", p.Baudrate)
	}
	base.mu.Lock()
	base.params = p
	base.initialized = true
	// a new mode invalidates whatever the old one left behind
	base.pending = make(map[int]*pendingWork)
	base.mu.Unlock()
	if base.cfg.Debug {
		base.Debug("init " + p.String())
	}
	return nil
}

func (base *BaseAdapter) Params() (InitParams, bool) {
	base.mu.Lock()
	defer base.mu.Unlock()
	return base.params, base.initialized
}

func (base *BaseAdapter) RegisterDescriptor(node, slot int, d *FrameDescriptor) error {
	return base.registry.Register(node, slot, d)
}

func (base *BaseAdapter) SetInterruptHandler(isr func()) {
	base.mu.Lock()
	base.isr = isr
	base.mu.Unlock()
}

// raise fires the bus interrupt. Never call it from a Driver method.
func (base *BaseAdapter) raise() {
	base.mu.Lock()
	isr := base.isr
	base.mu.Unlock()
	if isr != nil {
		isr()
	}
}

// post queues work for node and raises the interrupt. Unserviced work for the
// same node is overwritten.
func (base *BaseAdapter) post(node int, w *pendingWork) {
	base.mu.Lock()
	_, overrun := base.pending[node]
	base.pending[node] = w
	base.mu.Unlock()
	if overrun {
		base.Warn(fmt.Sprintf("overrun on node %d, frame 0x%02X", node, w.id))
	}
	base.raise()
}

func (base *BaseAdapter) take(node int) *pendingWork {
	base.mu.Lock()
	defer base.mu.Unlock()
	w, ok := base.pending[node]
	if !ok {
		return nil
	}
	delete(base.pending, node)
	return w
}

// outgoing checks that the driver may start frame id as master and builds the
// frame put on the bus, header only unless the descriptor publishes.
func (base *BaseAdapter) outgoing(node int, id uint8, length int) (*LINFrame, *FrameDescriptor, error) {
	p, ok := base.Params()
	switch {
	case !ok:
		return nil, nil, ErrNotInitialized
	case !p.Master:
		return nil, nil, ErrNotMaster
	case p.Node != node:
		return nil, nil, fmt.Errorf("%w: got %d, initialized %d", ErrNodeMismatch, node, p.Node)
	}
	d := base.registry.Find(node, id)
	if d == nil {
		return nil, nil, fmt.Errorf("%w 0x%02X on node %d", ErrNoDescriptor, id, node)
	}
	if length < 1 || length > d.Length {
		length = d.Length
	}
	if d.Direction == Publish {
		return NewFrame(id, d.Buffer[:length], Outgoing), d, nil
	}
	return NewFrame(id, nil, Outgoing), d, nil
}

// Service completes the pending work of node against its registered
// descriptor and calls the descriptor's handler.
func (base *BaseAdapter) Service(node int) {
	w := base.take(node)
	if w == nil {
		return
	}
	d := base.registry.Find(node, w.id)
	if d == nil {
		// not a frame this node handles
		return
	}
	switch {
	case w.echo:
		if d.Direction == Publish {
			base.dispatch(d, d.Length)
		}
	case w.header && w.data == nil && d.Direction == Publish:
		resp := make([]byte, d.Length)
		copy(resp, d.Buffer)
		if w.respond != nil {
			select {
			case w.respond <- resp:
			default:
				base.Warn(fmt.Sprintf("response for frame 0x%02X not taken", w.id))
			}
		}
		base.dispatch(d, d.Length)
	case w.data != nil && d.Direction == Subscribe:
		n := copy(d.Buffer[:d.Length], w.data)
		base.dispatch(d, n)
	}
}

func (base *BaseAdapter) dispatch(d *FrameDescriptor, n int) {
	if base.cfg.Debug {
		base.Debug("<< " + NewFrame(d.ID, d.Buffer[:n], Incoming).String())
	}
	if d.Handler != nil {
		d.Handler.HandleResponse(d.Buffer, n)
	}
}
