package golin

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// InitParams configures the LIN driver for one role.
type InitParams struct {
	Master   bool
	Node     int
	Baudrate int
	ClockHz  int
}

func (p InitParams) String() string {
	mode := "slave"
	if p.Master {
		mode = "master"
	}
	return fmt.Sprintf("%s node %d @ %d baud", mode, p.Node, p.Baudrate)
}

// Driver is the LIN driver the node drives. Frame matching, timing and
// checksums live behind it.
//
// The node calls every method with its interrupt lock held. Implementations
// must not call the interrupt handler from inside these methods, completion
// is reported later from the driver's own goroutine.
type Driver interface {
	Init(InitParams) error
	RegisterDescriptor(node, slot int, d *FrameDescriptor) error
	// SendCommand starts a frame on the bus. Whether the payload is sent or
	// requested from a slave follows the registered descriptor's direction.
	SendCommand(node int, id uint8, length int) error
	// Service runs the state machine of the given node number. It returns
	// quickly when that node has no pending work.
	Service(node int)
	// SetInterruptHandler installs the bus interrupt entry point.
	SetInterruptHandler(isr func())
}

// Adapter is a Driver backed by a physical or simulated bus interface.
type Adapter interface {
	Driver
	Name() string
	Open(context.Context) error
	Close() error
	Err() <-chan error
	Event() <-chan Event
}

type AdapterInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	Capabilities       AdapterCapabilities
	New                func(*AdapterConfig) (Adapter, error)
}

func (a *AdapterInfo) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v ", a.Name, a.Description, a.RequiresSerialPort)
}

type AdapterCapabilities struct {
	Master bool
	Slave  bool
}

func (a *AdapterCapabilities) String() string {
	return fmt.Sprintf("Master: %v, Slave: %v", a.Master, a.Slave)
}

type AdapterConfig struct {
	Debug        bool
	Port         string
	PortBaudrate int
	PrintVersion bool
	OnMessage    func(string)
	// Bus names the virtual bus a Virtual adapter attaches to.
	Bus string
}

var (
	adapterMu  sync.RWMutex
	adapterMap = make(map[string]*AdapterInfo)
)

func NewAdapter(adapterName string, cfg *AdapterConfig) (Adapter, error) {
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(msg string) {
			_, file, no, ok := runtime.Caller(1)
			if ok {
				log.Printf("%s#%d %v\n", filepath.Base(file), no, msg)
			} else {
				log.Println(msg)
			}
		}
	}
	adapterMu.RLock()
	adapter, found := adapterMap[strings.ToLower(adapterName)]
	adapterMu.RUnlock()
	if found {
		return adapter.New(cfg)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownAdapter, adapterName)
}

func RegisterAdapter(adapter *AdapterInfo) error {
	adapterMu.Lock()
	defer adapterMu.Unlock()
	key := strings.ToLower(adapter.Name)
	if _, found := adapterMap[key]; !found {
		adapterMap[key] = adapter
		return nil
	}
	return fmt.Errorf("adapter %s already registered", adapter.Name)
}

func ListAdapterNames() []string {
	adapterMu.RLock()
	var out []string
	for _, adapter := range adapterMap {
		out = append(out, adapter.Name)
	}
	adapterMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func ListAdapters() []AdapterInfo {
	adapterMu.RLock()
	var out []AdapterInfo
	for _, adapter := range adapterMap {
		out = append(out, *adapter)
	}
	adapterMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}
