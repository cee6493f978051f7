package golin

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
)

type Config struct {
	FrameID            uint8
	FrameLength        int
	Sentinel           byte
	TickHz             int
	HeartbeatThreshold int
	MasterNode         int
	SlaveNode          int
	Baudrate           int
	ClockHz            int
	// SlaveResponse is loaded into the frame buffer when the slave publish
	// role is selected.
	SlaveResponse []byte

	// DataValid toggles every HeartbeatThreshold valid frames (LED0).
	DataValid Indicator
	// Activity toggles on every completed reception (LED1).
	Activity Indicator
	// Diagnostics receives the byte dump of frames a slave accepts, one Write
	// per frame. It is written with the interrupt lock held, wrap slow
	// writers in an OutputQueue.
	Diagnostics io.Writer
	OnMessage   func(string)
}

func DefaultConfig() *Config {
	return &Config{
		FrameID:            DefaultFrameID,
		FrameLength:        DefaultFrameLength,
		Sentinel:           Sentinel,
		TickHz:             DefaultTickHz,
		HeartbeatThreshold: DefaultHeartbeatThreshold,
		MasterNode:         0,
		SlaveNode:          0,
		Baudrate:           9600,
		ClockHz:            84_000_000,
		SlaveResponse:      []byte{Sentinel, 0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03},
	}
}

func (cfg *Config) validate() error {
	if cfg.FrameID > MaxFrameID {
		return fmt.Errorf("frame id 0x%02X out of range", cfg.FrameID)
	}
	if cfg.FrameLength < 1 || cfg.FrameLength > MaxDataLength {
		return fmt.Errorf("frame length %d out of range", cfg.FrameLength)
	}
	if cfg.MasterNode < 0 || cfg.SlaveNode < 0 {
		return fmt.Errorf("negative node number")
	}
	if cfg.Baudrate <= 0 {
		return fmt.Errorf("invalid baudrate %d", cfg.Baudrate)
	}
	return nil
}

type Stats struct {
	Published  uint64
	Requested  uint64
	Received   uint64
	Valid      uint64
	Invalid    uint64
	Heartbeats uint64
	Timeouts   uint64
	Interrupts uint64
	Masked     uint64
	Errors     uint64
}

func (st Stats) String() string {
	return fmt.Sprintf("published: %d requested: %d received: %d valid: %d invalid: %d heartbeats: %d timeouts: %d errors: %d",
		st.Published, st.Requested, st.Received, st.Valid, st.Invalid, st.Heartbeats, st.Timeouts, st.Errors)
}

// Status is a snapshot of the node configuration and counters.
type Status struct {
	Role      Role
	Node      int
	Request   bool
	BusArmed  bool
	TickArmed bool
	Scheduler SchedulerState
	Counter   int
	// Descriptor is a copy of the registered descriptor. Its Buffer does not
	// alias the frame buffer and Handler is nil, see Handler for the kind.
	Descriptor FrameDescriptor
	Handler    HandlerKind
	Buffer     [MaxDataLength]byte
	Stats      Stats
}

// Node coordinates one LIN node: role selection, the periodic trigger and
// the bus interrupt.
//
// OnTick, OnBusInterrupt and SelectRole are serialized by one lock, the
// equivalent of running with interrupts disabled. Neither interrupt entry
// point preempts the other, so the frame buffer and the counter have a single
// writer at any time.
type Node struct {
	ctx    context.Context
	cfg    *Config
	drv    Driver
	sched  *Scheduler
	hub    *hub
	events eventQueue

	// dispatch is the fixed bus interrupt servicing order: slave, master.
	dispatch [2]int
	handlers map[HandlerKind]ResponseHandler

	mu        sync.Mutex
	role      Role
	node      int
	request   bool
	busArmed  bool
	tickArmed bool
	pending   bool
	buf       [MaxDataLength]byte
	desc      *FrameDescriptor
	counter   *EventCounter
	stats     Stats
}

func NewNode(ctx context.Context, drv Driver, cfg *Config) (*Node, error) {
	if drv == nil {
		return nil, ErrNilDriver
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.TickHz <= 0 {
		cfg.TickHz = DefaultTickHz
	}
	if cfg.DataValid == nil {
		cfg.DataValid = nopIndicator{}
	}
	if cfg.Activity == nil {
		cfg.Activity = nopIndicator{}
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(msg string) { log.Println(msg) }
	}
	n := &Node{
		ctx:      ctx,
		cfg:      cfg,
		drv:      drv,
		hub:      newHub(),
		events:   newEventQueue(100),
		dispatch: [2]int{cfg.SlaveNode, cfg.MasterNode},
		node:     -1,
		counter:  NewEventCounter(cfg.HeartbeatThreshold),
	}
	n.sched = NewScheduler(PeriodFromFrequency(cfg.TickHz), n.OnTick)
	n.handlers = map[HandlerKind]ResponseHandler{
		KindMasterSubscribe: &MasterSubscribeHandler{node: n},
		KindSlaveSubscribe:  &SlaveSubscribeHandler{slaveTask{node: n}},
		KindSlavePublish:    &SlavePublishHandler{slaveTask{node: n}},
	}
	drv.SetInterruptHandler(n.OnBusInterrupt)
	return n, nil
}

// SelectRole reconfigures the node for r as one step. The previous role's
// trigger, interrupt and descriptor are released first. An unknown role
// returns ErrUnknownRole and leaves the node untouched.
func (n *Node) SelectRole(r Role) error {
	rc, ok := roleTable[r]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRole, r)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.teardown()

	node := n.cfg.SlaveNode
	if rc.master {
		node = n.cfg.MasterNode
	}
	if err := n.drv.Init(InitParams{
		Master:   rc.master,
		Node:     node,
		Baudrate: n.cfg.Baudrate,
		ClockHz:  n.cfg.ClockHz,
	}); err != nil {
		n.stats.Errors++
		return fmt.Errorf("failed to init driver for %s: %w", r, err)
	}

	if rc.preload {
		copy(n.buf[:n.cfg.FrameLength], n.cfg.SlaveResponse)
	}
	d := &FrameDescriptor{
		ID:        n.cfg.FrameID,
		Length:    n.cfg.FrameLength,
		Direction: rc.direction,
		Buffer:    n.buf[:n.cfg.FrameLength],
		Handler:   n.handlers[rc.handler],
	}
	if err := n.drv.RegisterDescriptor(node, 0, d); err != nil {
		n.stats.Errors++
		return fmt.Errorf("failed to register descriptor for %s: %w", r, err)
	}

	n.role = r
	n.node = node
	n.desc = d
	n.request = rc.request
	n.busArmed = rc.armBus
	if rc.armTick {
		n.tickArmed = true
		n.sched.Start(n.ctx)
	}
	n.events.Info(fmt.Sprintf("LIN node set to %s (%s)", r, d))
	return nil
}

// SelectKey selects the role bound to an operator key. Keys that name no role
// are ignored and report false.
func (n *Node) SelectKey(key byte) (Role, bool, error) {
	r, ok := ParseRole(key)
	if !ok {
		return RoleNone, false, nil
	}
	return r, true, n.SelectRole(r)
}

// teardown disarms the active role. Caller holds n.mu.
func (n *Node) teardown() {
	if n.tickArmed {
		n.sched.Stop()
		n.tickArmed = false
	}
	n.busArmed = false
	if n.desc != nil {
		if err := n.drv.RegisterDescriptor(n.node, 0, nil); err != nil {
			n.events.Warn(fmt.Sprintf("failed to clear descriptor on node %d: %v", n.node, err))
		}
	}
	n.desc = nil
	n.request = false
	n.pending = false
	n.role = RoleNone
	n.node = -1
}

// OnTick is the periodic trigger entry point. In master roles it either
// publishes the frame or requests it from the slave. It does not wait for
// the bus, completion arrives through OnBusInterrupt.
func (n *Node) OnTick() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.tickArmed || !n.role.Master() {
		return
	}
	if n.request {
		n.requestFrame()
		return
	}
	n.publishFrame()
}

func (n *Node) publishFrame() {
	n.buf[0] = n.cfg.Sentinel
	if err := n.drv.SendCommand(n.node, n.cfg.FrameID, n.cfg.FrameLength); err != nil {
		n.sendFailed(err)
		return
	}
	n.stats.Published++
}

func (n *Node) requestFrame() {
	if n.pending {
		n.stats.Timeouts++
		n.events.Warn((&TimeoutError{
			Node:    n.node,
			ID:      n.cfg.FrameID,
			Timeout: n.sched.Period(),
		}).Error())
	}
	if err := n.drv.SendCommand(n.node, n.cfg.FrameID, n.cfg.FrameLength); err != nil {
		n.pending = false
		n.sendFailed(err)
		return
	}
	n.pending = true
	n.stats.Requested++
}

func (n *Node) sendFailed(err error) {
	n.stats.Errors++
	n.events.Error(fmt.Errorf("send frame 0x%02X: %w", n.cfg.FrameID, err))
	if !IsRecoverable(err) {
		// adapter is gone, stop ticking into it
		n.sched.Stop()
		n.tickArmed = false
	}
}

// OnBusInterrupt is the shared bus interrupt entry point. Both node slots
// are offered to the driver on every interrupt, whichever role is active.
func (n *Node) OnBusInterrupt() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.busArmed {
		n.stats.Masked++
		return
	}
	n.stats.Interrupts++
	for _, node := range n.dispatch {
		n.drv.Service(node)
	}
}

func (n *Node) validate(payload []byte) bool {
	return len(payload) > 0 && payload[0] == n.cfg.Sentinel
}

// settle updates counters and indicators after a completed reception.
func (n *Node) settle(kind HandlerKind, payload []byte, valid bool) {
	n.stats.Received++
	if valid {
		n.stats.Valid++
		if n.counter.Add() {
			n.stats.Heartbeats++
			n.cfg.DataValid.Toggle()
		}
	} else {
		n.stats.Invalid++
	}
	n.cfg.Activity.Toggle()
	n.hub.deliver(newReception(kind, n.cfg.FrameID, payload, valid))
}

func (n *Node) logf(format string, v ...interface{}) {
	n.cfg.OnMessage(fmt.Sprintf(format, v...))
}

func (n *Node) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	st := Status{
		Role:      n.role,
		Node:      n.node,
		Request:   n.request,
		BusArmed:  n.busArmed,
		TickArmed: n.tickArmed,
		Scheduler: n.sched.State(),
		Counter:   n.counter.Count(),
		Buffer:    n.buf,
		Stats:     n.stats,
	}
	if n.desc != nil {
		d := *n.desc
		d.Buffer = append([]byte(nil), n.desc.Buffer...)
		d.Handler = nil
		if n.desc.Handler != nil {
			st.Handler = n.desc.Handler.Kind()
		}
		st.Descriptor = d
	}
	return st
}

func (n *Node) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

func (n *Node) Config() Config {
	return *n.cfg
}

// Event returns node events: role changes, send errors and request timeouts.
func (n *Node) Event() <-chan Event {
	return n.events.Event()
}

// Subscribe returns a subscriber receiving every completed reception until
// ctx is done or the subscriber is closed.
func (n *Node) Subscribe(ctx context.Context) *Subscriber {
	return n.hub.subscribe(ctx)
}

// Close stops the periodic trigger, disarms the interrupt and closes all
// subscribers. The driver is left to its owner.
func (n *Node) Close() {
	n.mu.Lock()
	n.teardown()
	n.mu.Unlock()
	n.hub.close()
}
