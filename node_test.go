package golin

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slaveResponse = []byte{0x55, 0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03}

type sentCmd struct {
	node   int
	id     uint8
	length int
}

// fakeDriver is a BaseAdapter that records what the node asks of it. Tests
// play the bus by posting work, which raises the interrupt.
type fakeDriver struct {
	*BaseAdapter
	mu       sync.Mutex
	inits    []InitParams
	sent     []sentCmd
	services []int
	initErr  error
	sendErr  error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{BaseAdapter: NewBaseAdapter("fake", nil)}
}

func (f *fakeDriver) Init(p InitParams) error {
	f.mu.Lock()
	f.inits = append(f.inits, p)
	err := f.initErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.BaseAdapter.Init(p)
}

func (f *fakeDriver) SendCommand(node int, id uint8, length int) error {
	if _, _, err := f.outgoing(node, id, length); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentCmd{node, id, length})
	return nil
}

func (f *fakeDriver) Service(node int) {
	f.mu.Lock()
	f.services = append(f.services, node)
	f.mu.Unlock()
	f.BaseAdapter.Service(node)
}

func (f *fakeDriver) Sent() []sentCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCmd(nil), f.sent...)
}

func (f *fakeDriver) Services() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.services...)
}

// counting indicator
type toggles struct {
	mu sync.Mutex
	n  int
}

func (t *toggles) Toggle() {
	t.mu.Lock()
	t.n++
	t.mu.Unlock()
}

func (t *toggles) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

type testNode struct {
	*Node
	drv       *fakeDriver
	dataValid *toggles
	activity  *toggles
	diag      *bytes.Buffer
	messages  []string
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	tn := &testNode{
		drv:       newFakeDriver(),
		dataValid: &toggles{},
		activity:  &toggles{},
		diag:      &bytes.Buffer{},
	}
	cfg := DefaultConfig()
	// keep the real trigger out of the way, tests call OnTick themselves
	cfg.TickHz = 1
	cfg.DataValid = tn.dataValid
	cfg.Activity = tn.activity
	cfg.Diagnostics = tn.diag
	cfg.OnMessage = func(msg string) { tn.messages = append(tn.messages, msg) }
	n, err := NewNode(context.Background(), tn.drv, cfg)
	require.NoError(t, err)
	tn.Node = n
	t.Cleanup(n.Close)
	return tn
}

// respond plays a slave answering the master's header.
func (tn *testNode) respond(data []byte) {
	tn.drv.post(0, &pendingWork{id: DefaultFrameID, data: data})
}

func TestNewNodeNilDriver(t *testing.T) {
	_, err := NewNode(context.Background(), nil, nil)
	require.ErrorIs(t, err, ErrNilDriver)
}

func TestNewNodeInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FrameLength = 9
	_, err := NewNode(context.Background(), newFakeDriver(), cfg)
	require.Error(t, err)
}

func TestInitialStatus(t *testing.T) {
	tn := newTestNode(t)
	st := tn.Status()
	assert.Equal(t, RoleNone, st.Role)
	assert.False(t, st.BusArmed)
	assert.False(t, st.TickArmed)
	assert.Equal(t, Idle, st.Scheduler)
}

func TestSelectKeyTokens(t *testing.T) {
	tests := []struct {
		key     byte
		role    Role
		master  bool
		dir     Direction
		handler HandlerKind
	}{
		{'m', MasterPublish, true, Publish, KindNone},
		{'M', MasterPublish, true, Publish, KindNone},
		{'r', MasterSubscribe, true, Subscribe, KindMasterSubscribe},
		{'R', MasterSubscribe, true, Subscribe, KindMasterSubscribe},
		{'s', SlaveSubscribe, false, Subscribe, KindSlaveSubscribe},
		{'S', SlaveSubscribe, false, Subscribe, KindSlaveSubscribe},
		{'p', SlavePublish, false, Publish, KindSlavePublish},
		{'P', SlavePublish, false, Publish, KindSlavePublish},
	}
	for _, tt := range tests {
		t.Run(string(tt.key), func(t *testing.T) {
			tn := newTestNode(t)
			r, ok, err := tn.SelectKey(tt.key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.role, r)
			assert.Equal(t, tt.role, tn.Role())
			require.Len(t, tn.drv.inits, 1)
			assert.Equal(t, tt.master, tn.drv.inits[0].Master)
			assert.Equal(t, 0, tn.drv.inits[0].Node)
			assert.Equal(t, 9600, tn.drv.inits[0].Baudrate)

			st := tn.Status()
			assert.Equal(t, uint8(0x12), st.Descriptor.ID)
			assert.Equal(t, 8, st.Descriptor.Length)
			assert.Equal(t, tt.dir, st.Descriptor.Direction)
			assert.Equal(t, tt.handler, st.Handler)
			assert.Equal(t, 1, tn.drv.Registry().Len())
		})
	}
}

func TestSelectKeyIgnoresOtherInput(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(MasterSubscribe))
	before := tn.Status()
	for _, key := range []byte{'x', 'h', 'H', '1', 0x00, '\n'} {
		r, ok, err := tn.SelectKey(key)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, RoleNone, r)
	}
	assert.Equal(t, before, tn.Status())
	assert.Len(t, tn.drv.inits, 1)
}

func TestSelectRoleUnknown(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(SlaveSubscribe))
	before := tn.Status()
	err := tn.SelectRole(Role(42))
	require.ErrorIs(t, err, ErrUnknownRole)
	err = tn.SelectRole(RoleNone)
	require.ErrorIs(t, err, ErrUnknownRole)
	assert.Equal(t, before, tn.Status())
}

func TestSelectRoleTwiceIsIdempotent(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(MasterPublish))
	first := tn.Status()
	require.NoError(t, tn.SelectRole(MasterPublish))
	second := tn.Status()
	assert.Equal(t, first.Role, second.Role)
	assert.Equal(t, first.Request, second.Request)
	assert.Equal(t, first.BusArmed, second.BusArmed)
	assert.Equal(t, first.TickArmed, second.TickArmed)
	assert.Equal(t, first.Scheduler, second.Scheduler)
	assert.Equal(t, first.Descriptor.ID, second.Descriptor.ID)
	assert.Equal(t, first.Descriptor.Direction, second.Descriptor.Direction)
	assert.Equal(t, 1, tn.drv.Registry().Len())
}

func TestSelectRoleInitFailure(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(MasterSubscribe))
	tn.drv.initErr = errors.New("usart busy")
	err := tn.SelectRole(MasterPublish)
	require.Error(t, err)
	st := tn.Status()
	assert.Equal(t, RoleNone, st.Role)
	assert.False(t, st.TickArmed)
	assert.False(t, st.BusArmed)
	assert.Equal(t, Idle, st.Scheduler)
	assert.Equal(t, uint64(1), st.Stats.Errors)
}

// Scenario A: master publish.
func TestMasterPublish(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(MasterPublish))
	st := tn.Status()
	assert.True(t, st.TickArmed)
	assert.False(t, st.BusArmed)
	assert.False(t, st.Request)
	assert.Equal(t, Running, st.Scheduler)
	assert.Equal(t, Publish, st.Descriptor.Direction)
	assert.Equal(t, uint8(0x12), st.Descriptor.ID)
	assert.Equal(t, 8, st.Descriptor.Length)
	assert.Nil(t, st.Descriptor.Handler)

	tn.OnTick()
	require.Equal(t, []sentCmd{{0, 0x12, 8}}, tn.drv.Sent())
	st = tn.Status()
	assert.Equal(t, byte(0x55), st.Buffer[0])
	assert.Equal(t, uint64(1), st.Stats.Published)
	assert.Equal(t, uint64(0), st.Stats.Requested)
}

func TestStatusIsSnapshot(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(MasterSubscribe))
	st := tn.Status()
	require.Len(t, st.Descriptor.Buffer, 8)

	tn.respond(slaveResponse)
	assert.Equal(t, make([]byte, 8), st.Descriptor.Buffer)
	assert.Equal(t, [MaxDataLength]byte{}, st.Buffer)
	assert.Nil(t, st.Descriptor.Handler)
	assert.Equal(t, KindMasterSubscribe, st.Handler)

	// writing to a snapshot leaves the node alone
	st = tn.Status()
	st.Descriptor.Buffer[0] = 0x00
	assert.Equal(t, byte(0x55), tn.Status().Buffer[0])
	assert.Equal(t, byte(0x55), tn.Status().Descriptor.Buffer[0])
}

// Scenario B: master subscribe, slave answers with a valid frame.
func TestMasterSubscribe(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(MasterSubscribe))
	st := tn.Status()
	assert.True(t, st.TickArmed)
	assert.True(t, st.BusArmed)
	assert.True(t, st.Request)
	assert.Equal(t, Subscribe, st.Descriptor.Direction)

	tn.OnTick()
	require.Equal(t, []sentCmd{{0, 0x12, 8}}, tn.drv.Sent())
	// the request leaves the buffer alone
	assert.Equal(t, [MaxDataLength]byte{}, tn.Status().Buffer)

	tn.respond(slaveResponse)
	st = tn.Status()
	assert.Equal(t, slaveResponse, st.Buffer[:])
	assert.Equal(t, uint64(1), st.Stats.Requested)
	assert.Equal(t, uint64(1), st.Stats.Received)
	assert.Equal(t, uint64(1), st.Stats.Valid)
	assert.Equal(t, 1, st.Counter)
	assert.Equal(t, 1, tn.activity.Count())
	assert.Equal(t, 0, tn.dataValid.Count())
	assert.Contains(t, tn.messages, "LIN response received")
}

func TestMasterSubscribeInvalidSentinel(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(MasterSubscribe))
	tn.OnTick()
	tn.respond([]byte{0x54, 0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03})
	st := tn.Status()
	assert.Equal(t, uint64(1), st.Stats.Invalid)
	assert.Equal(t, uint64(0), st.Stats.Valid)
	assert.Equal(t, 0, st.Counter)
	assert.Equal(t, 1, tn.activity.Count())
	assert.Equal(t, 0, tn.dataValid.Count())
	assert.NotContains(t, tn.messages, "LIN response received")
}

// A frame received under master subscribe must not leak into later publishes.
func TestPublishRestoresSentinel(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(MasterSubscribe))
	tn.OnTick()
	tn.respond([]byte{0x54, 0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03})
	require.Equal(t, byte(0x54), tn.Status().Buffer[0])

	require.NoError(t, tn.SelectRole(MasterPublish))
	for i := 0; i < 2; i++ {
		tn.OnTick()
		st := tn.Status()
		assert.Equal(t, byte(0x55), st.Buffer[0], "publish %d", i+1)
		assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03}, st.Buffer[1:8])
	}
	st := tn.Status()
	assert.Equal(t, uint64(2), st.Stats.Published)
	assert.Equal(t, []sentCmd{{0, 0x12, 8}, {0, 0x12, 8}, {0, 0x12, 8}}, tn.drv.Sent())
}

func TestHeartbeatEveryTenValidFrames(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(MasterSubscribe))
	for i := 0; i < 9; i++ {
		tn.respond(slaveResponse)
	}
	assert.Equal(t, 0, tn.dataValid.Count())
	assert.Equal(t, 9, tn.Status().Counter)

	tn.respond(slaveResponse)
	st := tn.Status()
	assert.Equal(t, 1, tn.dataValid.Count())
	assert.Equal(t, 0, st.Counter)
	assert.Equal(t, uint64(1), st.Stats.Heartbeats)
	assert.Equal(t, 10, tn.activity.Count())

	for i := 0; i < 10; i++ {
		tn.respond(slaveResponse)
	}
	assert.Equal(t, 2, tn.dataValid.Count())
	assert.Equal(t, 20, tn.activity.Count())
}

// Scenario C: slave subscribe dumps every byte of a valid frame.
func TestSlaveSubscribe(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(SlaveSubscribe))
	st := tn.Status()
	assert.False(t, st.TickArmed)
	assert.True(t, st.BusArmed)
	assert.Equal(t, Idle, st.Scheduler)

	tn.drv.post(0, &pendingWork{id: 0x12, header: true, data: slaveResponse})
	assert.Equal(t, "55\nde\nad\nbe\nef\n1\n2\n3\n", tn.diag.String())
	assert.Contains(t, tn.messages, "LIN message received")
	assert.Equal(t, uint64(1), tn.Stats().Valid)

	tn.diag.Reset()
	tn.drv.post(0, &pendingWork{id: 0x12, header: true, data: []byte{0x00, 0x01}})
	assert.Empty(t, tn.diag.String())
	assert.Equal(t, uint64(1), tn.Stats().Invalid)
}

// Scenario D: slave publish answers the header with the preloaded response.
func TestSlavePublish(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(SlavePublish))
	st := tn.Status()
	assert.Equal(t, slaveResponse, st.Buffer[:])
	assert.Equal(t, Publish, st.Descriptor.Direction)

	respond := make(chan []byte, 1)
	tn.drv.post(0, &pendingWork{id: 0x12, header: true, respond: respond})
	require.Len(t, respond, 1)
	assert.Equal(t, slaveResponse, <-respond)
	assert.Equal(t, uint64(1), tn.Stats().Valid)
	assert.Contains(t, tn.diag.String(), "de\nad\n")
}

func TestOnTickIgnoredInSlaveRoles(t *testing.T) {
	tn := newTestNode(t)
	tn.OnTick()
	require.NoError(t, tn.SelectRole(SlaveSubscribe))
	tn.OnTick()
	assert.Empty(t, tn.drv.Sent())
}

func TestRoleSwitchTearsDownPrevious(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(MasterSubscribe))
	require.NoError(t, tn.SelectRole(SlaveSubscribe))
	st := tn.Status()
	assert.False(t, st.TickArmed)
	assert.False(t, st.Request)
	assert.Equal(t, Idle, st.Scheduler)
	tn.OnTick()
	assert.Empty(t, tn.drv.Sent())

	// master publish after master subscribe must not keep requesting
	require.NoError(t, tn.SelectRole(MasterSubscribe))
	require.NoError(t, tn.SelectRole(MasterPublish))
	st = tn.Status()
	assert.False(t, st.Request)
	assert.False(t, st.BusArmed)
	tn.OnTick()
	assert.Equal(t, uint64(1), tn.Stats().Published)
	assert.Equal(t, uint64(0), tn.Stats().Requested)
}

func TestRequestTimeout(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(MasterSubscribe))
	tn.OnTick()
	tn.OnTick()
	st := tn.Status()
	assert.Equal(t, uint64(1), st.Stats.Timeouts)
	assert.Equal(t, uint64(2), st.Stats.Requested)

	var warned bool
	for len(tn.Event()) > 0 {
		e := <-tn.Event()
		if e.Type == EventTypeWarning && strings.Contains(e.Details, "response timeout") {
			warned = true
		}
	}
	assert.True(t, warned)

	// an answered request is no timeout
	tn.respond(slaveResponse)
	tn.OnTick()
	assert.Equal(t, uint64(1), tn.Stats().Timeouts)
}

func TestSendError(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(MasterPublish))
	tn.drv.sendErr = ErrDroppedFrame
	tn.OnTick()
	st := tn.Status()
	assert.Equal(t, uint64(1), st.Stats.Errors)
	assert.Equal(t, uint64(0), st.Stats.Published)
}

func TestMaskedInterrupt(t *testing.T) {
	tn := newTestNode(t)
	tn.OnBusInterrupt()
	require.NoError(t, tn.SelectRole(MasterPublish))
	tn.respond(slaveResponse)
	st := tn.Status()
	assert.Equal(t, uint64(2), st.Stats.Masked)
	assert.Equal(t, uint64(0), st.Stats.Interrupts)
	assert.Empty(t, tn.drv.Services())
}

func TestInterruptServicesBothSlots(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(SlaveSubscribe))
	tn.OnBusInterrupt()
	assert.Equal(t, []int{0, 0}, tn.drv.Services())
	assert.Equal(t, uint64(1), tn.Stats().Interrupts)
	// nothing was pending, no handler ran
	assert.Equal(t, uint64(0), tn.Stats().Received)
}

func TestSubscribe(t *testing.T) {
	tn := newTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := tn.Subscribe(ctx)
	require.NoError(t, tn.SelectRole(MasterSubscribe))
	tn.respond(slaveResponse)
	r, err := sub.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindMasterSubscribe, r.Kind)
	assert.True(t, r.Valid)
	assert.Equal(t, slaveResponse, r.Frame.Data)

	tn.Close()
	_, err = sub.Wait(ctx)
	require.ErrorIs(t, err, ErrSubscriberClosed)
}

func TestUnrecoverableSendDisarmsTrigger(t *testing.T) {
	tn := newTestNode(t)
	require.NoError(t, tn.SelectRole(MasterSubscribe))
	tn.drv.sendErr = Unrecoverable(ErrAdapterClosed)
	tn.OnTick()
	st := tn.Status()
	assert.False(t, st.TickArmed)
	assert.Equal(t, Idle, st.Scheduler)
	assert.Equal(t, uint64(1), st.Stats.Errors)
	// the bus side stays armed, a late response is still handled
	assert.True(t, st.BusArmed)
}

func TestVirtualClosedAdapter(t *testing.T) {
	bus := NewVirtualBus("closed", 0)
	defer bus.Close()
	dev := NewVirtualOn(bus, &AdapterConfig{})
	node, err := NewNode(context.Background(), dev, DefaultConfig())
	require.NoError(t, err)
	defer node.Close()
	require.NoError(t, node.SelectRole(MasterPublish))
	require.NoError(t, dev.Close())

	err = dev.SendCommand(0, DefaultFrameID, DefaultFrameLength)
	require.ErrorIs(t, err, ErrAdapterClosed)
	assert.False(t, IsRecoverable(err))
}
